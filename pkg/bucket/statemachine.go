package bucket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hypoth/edi835/internal/auditlog"
	"github.com/hypoth/edi835/internal/telemetry"
	"github.com/hypoth/edi835/pkg/eventbus"
)

// PaymentGate answers whether bucketID's linked CheckPaymentWorkflowConfig
// requirement is satisfied. Implemented by pkg/checkpay; kept as an
// interface here so pkg/bucket never imports pkg/checkpay (checkpay depends
// on bucket state, not the reverse).
type PaymentGate interface {
	// Satisfied reports whether a CheckPayment in state ASSIGNED (and, if
	// requireAcknowledgment, ACKNOWLEDGED) exists for bucketID under cfg.
	Satisfied(ctx context.Context, bucketID string, cfg CheckPaymentWorkflowConfig) (bool, error)
}

// StateMachine is C6: threshold-driven transitions, approval/rejection, the
// payment gate, missing-configuration handling, and BucketStatusChange
// publication.
type StateMachine struct {
	configStore ConfigStore
	store       Store
	locker      Locker
	gate        PaymentGate
	bus         *eventbus.Bus
	audit       *auditlog.Writer
	logger      *slog.Logger
}

// NewStateMachine builds a StateMachine. gate may be nil, in which case
// every payment-gated transition is rejected with PaymentRequiredError
// until a real gate is wired (safer default than silently allowing it).
func NewStateMachine(configStore ConfigStore, store Store, locker Locker, gate PaymentGate, bus *eventbus.Bus, audit *auditlog.Writer, logger *slog.Logger) *StateMachine {
	return &StateMachine{configStore: configStore, store: store, locker: locker, gate: gate, bus: bus, audit: audit, logger: logger}
}

// EvaluateThresholds is invoked on every add-claim and from the periodic
// sweep (§4.6). The first threshold whose condition is met decides the
// outcome; later thresholds for the same rule are not consulted once one
// has fired.
func (m *StateMachine) EvaluateThresholds(ctx context.Context, b Bucket, ruleID string) error {
	if b.Status != StatusAccumulating {
		return nil
	}

	thresholds, err := m.configStore.ThresholdsForRule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("loading thresholds for rule %s: %w", ruleID, err)
	}

	now := time.Now()
	var fired *GenerationThreshold
	for i := range thresholds {
		if EvaluateThreshold(thresholds[i], b, now) {
			fired = &thresholds[i]
			break
		}
	}
	if fired == nil {
		return nil
	}

	cc, err := m.configStore.CommitCriteriaForRule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("loading commit criteria for rule %s: %w", ruleID, err)
	}
	if cc == nil {
		// No commit policy configured for this rule: conservatively require
		// manual approval rather than silently auto-committing.
		cc = &CommitCriteria{CommitMode: CommitModeManual, LinkedBucketingRuleID: ruleID}
	}

	action := DecideCommitAction(*cc, b)

	gate, gateErr := m.gateFor(ctx, fired.ID)
	if gateErr != nil {
		return gateErr
	}

	if action == StatusGenerating {
		return m.transitionToGenerating(ctx, b.BucketID, gate)
	}
	return m.transitionToPendingApproval(ctx, b.BucketID)
}

func (m *StateMachine) gateFor(ctx context.Context, thresholdID string) (CheckPaymentWorkflowConfig, error) {
	cfg, err := m.configStore.WorkflowConfigForThreshold(ctx, thresholdID)
	if err != nil {
		return CheckPaymentWorkflowConfig{}, fmt.Errorf("loading workflow config for threshold %s: %w", thresholdID, err)
	}
	if cfg == nil {
		return CheckPaymentWorkflowConfig{WorkflowMode: WorkflowModeNone}, nil
	}
	return *cfg, nil
}

func (m *StateMachine) transitionToPendingApproval(ctx context.Context, bucketID string) error {
	release, err := m.lockBucket(ctx, bucketID)
	if err != nil {
		return err
	}
	defer release()

	now := time.Now()
	ok, updated, err := m.store.UpdateStatus(ctx, bucketID, []Status{StatusAccumulating}, func(b *Bucket) {
		b.Status = StatusPendingApproval
		b.AwaitingApprovalSince = &now
	})
	if err != nil {
		return fmt.Errorf("transitioning bucket %s to PENDING_APPROVAL: %w", bucketID, err)
	}
	if !ok {
		return nil
	}

	m.publish(ctx, StatusChange{Bucket: *updated, PreviousStatus: StatusAccumulating, NewStatus: StatusPendingApproval})
	return nil
}

// transitionToGenerating performs the payment gate and missing-configuration
// checks and, if both pass, commits the ACCUMULATING/PENDING_APPROVAL →
// GENERATING transition (§4.6).
func (m *StateMachine) transitionToGenerating(ctx context.Context, bucketID string, cfg CheckPaymentWorkflowConfig) error {
	release, err := m.lockBucket(ctx, bucketID)
	if err != nil {
		return err
	}
	defer release()

	b, err := m.store.Get(ctx, bucketID)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("bucket %s not found", bucketID)
	}
	from := b.Status
	if from != StatusAccumulating && from != StatusPendingApproval {
		return nil
	}

	if cfg.WorkflowMode != WorkflowModeNone {
		gate := m.gate
		if gate == nil {
			gate = rejectingGate{}
		}
		satisfied, err := gate.Satisfied(ctx, bucketID, cfg)
		if err != nil {
			return fmt.Errorf("checking payment gate for bucket %s: %w", bucketID, err)
		}
		if !satisfied {
			return &PaymentRequiredError{BucketID: bucketID}
		}
	}

	payerOK, err := m.configStore.PayerExists(ctx, b.PayerID)
	if err != nil {
		return fmt.Errorf("checking payer %s exists: %w", b.PayerID, err)
	}
	if !payerOK {
		return m.moveToMissingConfiguration(ctx, bucketID, from, ConfigKindPayer, b.PayerID)
	}
	payeeOK, err := m.configStore.PayeeExists(ctx, b.PayeeID)
	if err != nil {
		return fmt.Errorf("checking payee %s exists: %w", b.PayeeID, err)
	}
	if !payeeOK {
		return m.moveToMissingConfiguration(ctx, bucketID, from, ConfigKindPayee, b.PayeeID)
	}

	now := time.Now()
	ok, updated, err := m.store.UpdateStatus(ctx, bucketID, []Status{from}, func(b *Bucket) {
		b.Status = StatusGenerating
		b.GenerationStartedAt = &now
	})
	if err != nil {
		return fmt.Errorf("transitioning bucket %s to GENERATING: %w", bucketID, err)
	}
	if !ok {
		return nil
	}

	telemetry.BucketTransitionsTotal.WithLabelValues(string(from), string(StatusGenerating)).Inc()
	m.publish(ctx, StatusChange{Bucket: *updated, PreviousStatus: from, NewStatus: StatusGenerating})
	return nil
}

func (m *StateMachine) moveToMissingConfiguration(ctx context.Context, bucketID string, from Status, kind ConfigKind, id string) error {
	_, updated, err := m.store.UpdateStatus(ctx, bucketID, []Status{from}, func(b *Bucket) {
		b.PreGeneratingStatus = from
		b.Status = StatusMissingConfiguration
	})
	if err != nil {
		return fmt.Errorf("moving bucket %s to MISSING_CONFIGURATION: %w", bucketID, err)
	}
	telemetry.BucketTransitionsTotal.WithLabelValues(string(from), string(StatusMissingConfiguration)).Inc()
	if updated != nil {
		m.publish(ctx, StatusChange{Bucket: *updated, PreviousStatus: from, NewStatus: StatusMissingConfiguration})
	}
	return &MissingConfigurationError{Kind: kind, ID: id}
}

// ReportMissingConfiguration moves a GENERATING bucket to
// MISSING_CONFIGURATION when C7 discovers, at serialization time, that the
// bucket's Payer or Payee record has disappeared since the state machine's
// own pre-transition check (§4.7's failure classification).
func (m *StateMachine) ReportMissingConfiguration(ctx context.Context, bucketID string, kind ConfigKind, id string) error {
	release, err := m.lockBucket(ctx, bucketID)
	if err != nil {
		return err
	}
	defer release()
	return m.moveToMissingConfiguration(ctx, bucketID, StatusGenerating, kind, id)
}

// ResetFromMissingConfiguration reverts a bucket to its pre-GENERATING
// status once the missing Payer/Payee record has been created out-of-core
// (§4.6). It is not invoked automatically; the owning admin flow calls it.
func (m *StateMachine) ResetFromMissingConfiguration(ctx context.Context, bucketID string) error {
	release, err := m.lockBucket(ctx, bucketID)
	if err != nil {
		return err
	}
	defer release()

	b, err := m.store.Get(ctx, bucketID)
	if err != nil {
		return err
	}
	if b == nil || b.Status != StatusMissingConfiguration {
		return &InvalidStateError{Operation: "reset", CurrentStatus: statusOrUnknown(b), RequiredStatus: StatusMissingConfiguration}
	}

	target := b.PreGeneratingStatus
	if target == "" {
		target = StatusAccumulating
	}
	ok, updated, err := m.store.UpdateStatus(ctx, bucketID, []Status{StatusMissingConfiguration}, func(b *Bucket) {
		b.Status = target
	})
	if err != nil {
		return err
	}
	if ok {
		m.publish(ctx, StatusChange{Bucket: *updated, PreviousStatus: StatusMissingConfiguration, NewStatus: target})
	}
	return nil
}

// Approve requires status=PENDING_APPROVAL; stamps approvedBy/approvedAt and
// (subject to the payment gate) transitions to GENERATING (§4.6).
func (m *StateMachine) Approve(ctx context.Context, bucketID, actor, comments string) error {
	b, err := m.store.Get(ctx, bucketID)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("bucket %s not found", bucketID)
	}
	if b.Status != StatusPendingApproval {
		return &InvalidStateError{Operation: "approve", CurrentStatus: b.Status, RequiredStatus: StatusPendingApproval}
	}

	thresholds, err := m.configStore.ThresholdsForRule(ctx, b.BucketingRuleID)
	if err != nil {
		return fmt.Errorf("loading thresholds for rule %s: %w", b.BucketingRuleID, err)
	}
	cfg := CheckPaymentWorkflowConfig{WorkflowMode: WorkflowModeNone}
	if len(thresholds) > 0 {
		cfg, err = m.gateFor(ctx, thresholds[0].ID)
		if err != nil {
			return err
		}
	}

	if err := m.transitionToGenerating(ctx, bucketID, cfg); err != nil {
		return err
	}

	now := time.Now()
	if _, _, err := m.store.UpdateStatus(ctx, bucketID, []Status{StatusGenerating}, func(b *Bucket) {
		b.ApprovedAt = &now
		b.ApprovedBy = actor
	}); err != nil {
		m.logger.Error("stamping bucket approval metadata failed", "bucket_id", bucketID, "error", err)
	}

	entityID, _ := uuid.Parse(bucketID)
	m.audit.Log(auditlog.Entry{
		EntityType: "bucket",
		EntityID:   entityID,
		Action:     "APPROVED",
		Actor:      actor,
		Detail:     map[string]any{"comments": comments},
	})
	return nil
}

// BulkApprove applies Approve to every bucketID. It validates every bucket
// is in PENDING_APPROVAL up front; if any fails that preflight, no bucket is
// approved (§4.6's "partial success is not surfaced as success"). A failure
// during the apply phase itself (after preflight passed) is still reported,
// but buckets already approved earlier in the batch are not rolled back —
// there is no cross-bucket transaction spanning the state machine's
// per-bucket locks.
func (m *StateMachine) BulkApprove(ctx context.Context, bucketIDs []string, actor, comments string) error {
	for _, id := range bucketIDs {
		b, err := m.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if b == nil || b.Status != StatusPendingApproval {
			return fmt.Errorf("bulk approve aborted: bucket %s is not PENDING_APPROVAL", id)
		}
	}

	for _, id := range bucketIDs {
		if err := m.Approve(ctx, id, actor, comments); err != nil {
			return fmt.Errorf("bulk approve failed at bucket %s: %w", id, err)
		}
	}
	return nil
}

// Reject requires status=PENDING_APPROVAL; transitions back to ACCUMULATING
// and clears awaitingApprovalSince. Counts are untouched.
func (m *StateMachine) Reject(ctx context.Context, bucketID, actor, reason, comments string) error {
	ok, updated, err := m.store.UpdateStatus(ctx, bucketID, []Status{StatusPendingApproval}, func(b *Bucket) {
		b.Status = StatusAccumulating
		b.AwaitingApprovalSince = nil
	})
	if err != nil {
		return fmt.Errorf("rejecting bucket %s: %w", bucketID, err)
	}
	if !ok {
		current, _ := m.store.Get(ctx, bucketID)
		return &InvalidStateError{Operation: "reject", CurrentStatus: statusOrUnknown(current), RequiredStatus: StatusPendingApproval}
	}

	telemetry.BucketTransitionsTotal.WithLabelValues(string(StatusPendingApproval), string(StatusAccumulating)).Inc()
	m.publish(ctx, StatusChange{Bucket: *updated, PreviousStatus: StatusPendingApproval, NewStatus: StatusAccumulating})

	entityID, _ := uuid.Parse(bucketID)
	m.audit.Log(auditlog.Entry{
		EntityType: "bucket",
		EntityID:   entityID,
		Action:     "REJECTED",
		Actor:      actor,
		Detail:     map[string]any{"reason": reason, "comments": comments},
	})
	return nil
}

// MarkCompleted is called by C7 once the file artifact is generated and
// history is persisted (§4.7).
func (m *StateMachine) MarkCompleted(ctx context.Context, bucketID string) error {
	ok, updated, err := m.store.UpdateStatus(ctx, bucketID, []Status{StatusGenerating}, func(b *Bucket) {
		now := time.Now()
		b.Status = StatusCompleted
		b.GenerationCompletedAt = &now
	})
	if err != nil {
		return err
	}
	if ok {
		telemetry.BucketTransitionsTotal.WithLabelValues(string(StatusGenerating), string(StatusCompleted)).Inc()
		m.publish(ctx, StatusChange{Bucket: *updated, PreviousStatus: StatusGenerating, NewStatus: StatusCompleted})
	}
	return nil
}

// MarkFailed is called by C7 when the serializer itself errors (§4.7's
// "Serializer error → bucket → FAILED").
func (m *StateMachine) MarkFailed(ctx context.Context, bucketID string, cause error) error {
	ok, updated, err := m.store.UpdateStatus(ctx, bucketID, []Status{StatusGenerating}, func(b *Bucket) {
		b.Status = StatusFailed
	})
	if err != nil {
		return err
	}
	if ok {
		telemetry.BucketTransitionsTotal.WithLabelValues(string(StatusGenerating), string(StatusFailed)).Inc()
		m.publish(ctx, StatusChange{Bucket: *updated, PreviousStatus: StatusGenerating, NewStatus: StatusFailed})
		entityID, _ := uuid.Parse(bucketID)
		m.audit.Log(auditlog.Entry{
			EntityType: "bucket",
			EntityID:   entityID,
			Action:     "FAILED",
			Detail:     map[string]any{"error": cause.Error()},
		})
	}
	return nil
}

func (m *StateMachine) publish(ctx context.Context, change StatusChange) {
	m.bus.Publish(EventType, change)
}

func (m *StateMachine) lockBucket(ctx context.Context, bucketID string) (func(), error) {
	release, err := m.locker.Lock(ctx, bucketID)
	if err != nil {
		return nil, fmt.Errorf("locking bucket %s: %w", bucketID, err)
	}
	return release, nil
}

func statusOrUnknown(b *Bucket) Status {
	if b == nil {
		return Status("UNKNOWN")
	}
	return b.Status
}

// rejectingGate is the safe default used when no real PaymentGate has been
// wired but a non-NONE workflow mode requires one: it always reports the
// gate unsatisfied rather than silently letting generation through.
type rejectingGate struct{}

func (rejectingGate) Satisfied(context.Context, string, CheckPaymentWorkflowConfig) (bool, error) {
	return false, nil
}
