package bucket

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hypoth/edi835/internal/auditlog"
	"github.com/hypoth/edi835/internal/telemetry"
	"github.com/hypoth/edi835/pkg/claim"
)

// Aggregator is C5: it selects a bucket for every incoming claim, records it
// idempotently, and hands threshold evaluation off to the state machine.
// It implements ingest.ClaimSink.
type Aggregator struct {
	configStore ConfigStore
	store       Store
	claims      claim.Store
	locker      Locker
	machine     *StateMachine
	audit       *auditlog.Writer
	logger      *slog.Logger
}

// NewAggregator builds an Aggregator.
func NewAggregator(configStore ConfigStore, store Store, claims claim.Store, locker Locker, machine *StateMachine, audit *auditlog.Writer, logger *slog.Logger) *Aggregator {
	return &Aggregator{configStore: configStore, store: store, claims: claims, locker: locker, machine: machine, audit: audit, logger: logger}
}

// AddClaim routes c into its bucket and evaluates thresholds (§4.5). A claim
// is dropped with a warning only when no active bucketing rule exists at
// all; otherwise the lowest-priority active rule is always available as a
// default.
func (a *Aggregator) AddClaim(ctx context.Context, c *claim.Claim) error {
	if err := a.claims.Save(ctx, c); err != nil {
		return fmt.Errorf("persisting claim %s: %w", c.ID, err)
	}

	rules, err := a.configStore.ActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("loading active bucketing rules: %w", err)
	}

	rule, ok := SelectRule(rules, c)
	if !ok {
		a.logger.Warn("dropping claim: no active bucketing rules configured", "claim_id", c.ID)
		telemetry.BucketClaimsDropped.Inc()
		return nil
	}

	binNumber, pcnNumber := "", ""
	if rule.RuleType == RuleTypeBinPcn {
		binNumber, pcnNumber = c.BinNumber, c.PcnNumber
	}

	release, err := a.locker.Lock(ctx, bucketLockKey(rule.ID, c.PayerID, c.PayeeID, binNumber, pcnNumber))
	if err != nil {
		return fmt.Errorf("locking bucket for claim %s: %w", c.ID, err)
	}
	defer release()

	b, err := a.store.FindOpenBucket(ctx, rule.ID, c.PayerID, c.PayeeID, binNumber, pcnNumber)
	if err != nil {
		return fmt.Errorf("finding open bucket for claim %s: %w", c.ID, err)
	}
	if b == nil {
		b, err = a.store.CreateBucket(ctx, Bucket{
			BucketID:        uuid.New().String(),
			BucketingRuleID: rule.ID,
			PayerID:         c.PayerID,
			PayeeID:         c.PayeeID,
			BinNumber:       binNumber,
			PcnNumber:       pcnNumber,
		})
		if err != nil {
			return fmt.Errorf("creating bucket for claim %s: %w", c.ID, err)
		}
		telemetry.BucketsOpened.Inc()
	}

	// Rejected claims increment rejectionCount but never contribute to
	// totalAmount (§8 S2).
	rejected := c.Status == claim.StatusDenied
	amountToAdd := int64(c.PaidAmount)
	if rejected {
		amountToAdd = 0
	}
	applied, updated, err := a.store.AddClaim(ctx, b.BucketID, c.ID, amountToAdd, rejected)
	if err != nil {
		return fmt.Errorf("adding claim %s to bucket %s: %w", c.ID, b.BucketID, err)
	}
	if !applied {
		// Already recorded by a prior, at-least-once delivery of the same
		// change-feed event (§4.1's idempotency contract).
		return nil
	}

	telemetry.BucketClaimsAdded.WithLabelValues(string(rule.RuleType)).Inc()
	entityID, _ := uuid.Parse(updated.BucketID)
	a.audit.Log(auditlog.Entry{
		EntityType: "bucket",
		EntityID:   entityID,
		Action:     "CLAIM_ADDED",
		Detail:     map[string]any{"claim_id": c.ID, "claim_count": updated.ClaimCount},
	})

	return a.machine.EvaluateThresholds(ctx, *updated, rule.ID)
}

func bucketLockKey(ruleID, payerID, payeeID, binNumber, pcnNumber string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", ruleID, payerID, payeeID, binNumber, pcnNumber)
}
