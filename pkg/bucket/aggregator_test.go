package bucket

import (
	"context"
	"testing"

	"github.com/hypoth/edi835/internal/auditlog"
	"github.com/hypoth/edi835/pkg/claim"
	"github.com/hypoth/edi835/pkg/eventbus"
	"github.com/hypoth/edi835/pkg/ncpdp"
)

func newTestRig(cs *fakeConfigStore) (*Aggregator, *StateMachine, *fakeStore) {
	store := newFakeStore()
	bus := eventbus.New(testLogger())
	audit := auditlog.NewWriter(nil, testLogger())
	machine := NewStateMachine(cs, store, noopLocker{}, alwaysSatisfiedGate{}, bus, audit, testLogger())
	agg := NewAggregator(cs, store, newFakeClaimStore(), noopLocker{}, machine, audit, testLogger())
	return agg, machine, store
}

func paidClaim(payerID, payeeID string, amount ncpdp.Amount) *claim.Claim {
	return &claim.Claim{
		ID:         "claim-" + amount.String(),
		PayerID:    payerID,
		PayeeID:    payeeID,
		PaidAmount: amount,
		Status:     claim.StatusPaid,
	}
}

// TestAggregator_ThresholdFiresOnSecondClaim is scenario S3: a CLAIM_COUNT=2
// AUTO-commit rule transitions to GENERATING after the second claim, and the
// third claim starts a new bucket.
func TestAggregator_ThresholdFiresOnSecondClaim(t *testing.T) {
	cs := newFakeConfigStore()
	cs.rules = []BucketingRule{{ID: "rule-1", RuleType: RuleTypePayerPayee, Priority: 0, IsActive: true}}
	maxClaims := int64(2)
	cs.thresholds["rule-1"] = []GenerationThreshold{{ID: "th-1", ThresholdType: ThresholdClaimCount, MaxClaims: &maxClaims, LinkedBucketingRuleID: "rule-1", IsActive: true}}
	cs.commit["rule-1"] = &CommitCriteria{CommitMode: CommitModeAuto, LinkedBucketingRuleID: "rule-1"}

	agg, _, store := newTestRig(cs)
	ctx := context.Background()

	c1 := paidClaim("BCBS_CA", "CVS-001", 5000)
	c1.ID = "claim-1"
	c2 := paidClaim("BCBS_CA", "CVS-001", 5000)
	c2.ID = "claim-2"
	c3 := paidClaim("BCBS_CA", "CVS-001", 5000)
	c3.ID = "claim-3"

	for _, c := range []*claim.Claim{c1, c2} {
		if err := agg.AddClaim(ctx, c); err != nil {
			t.Fatalf("AddClaim(%s): %v", c.ID, err)
		}
	}

	buckets := allBuckets(store)
	if len(buckets) != 1 {
		t.Fatalf("got %d buckets after 2 claims, want 1", len(buckets))
	}
	if buckets[0].Status != StatusGenerating {
		t.Fatalf("bucket status = %s, want GENERATING after threshold fires", buckets[0].Status)
	}

	if err := agg.AddClaim(ctx, c3); err != nil {
		t.Fatalf("AddClaim(claim-3): %v", err)
	}

	buckets = allBuckets(store)
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets after 3rd claim, want 2 (third claim opens a new bucket)", len(buckets))
	}
}

// TestAggregator_DropsClaimWhenNoActiveRules covers the no-active-rules
// fallback (§4.5): the claim is dropped with a warning, not an error.
func TestAggregator_DropsClaimWhenNoActiveRules(t *testing.T) {
	cs := newFakeConfigStore()
	agg, _, store := newTestRig(cs)

	if err := agg.AddClaim(context.Background(), paidClaim("P", "Q", 100)); err != nil {
		t.Fatalf("expected nil error on drop, got %v", err)
	}
	if len(allBuckets(store)) != 0 {
		t.Fatal("expected no bucket to be created")
	}
}

// TestAggregator_AddClaimIsIdempotent covers the at-least-once redelivery
// contract: re-adding the same claim id must not double count.
func TestAggregator_AddClaimIsIdempotent(t *testing.T) {
	cs := newFakeConfigStore()
	cs.rules = []BucketingRule{{ID: "rule-1", RuleType: RuleTypePayerPayee, Priority: 0, IsActive: true}}
	cs.commit["rule-1"] = &CommitCriteria{CommitMode: CommitModeManual, LinkedBucketingRuleID: "rule-1"}

	agg, _, store := newTestRig(cs)
	c := paidClaim("P", "Q", 100)
	c.ID = "dup-claim"

	for i := 0; i < 3; i++ {
		if err := agg.AddClaim(context.Background(), c); err != nil {
			t.Fatalf("AddClaim attempt %d: %v", i, err)
		}
	}

	buckets := allBuckets(store)
	if len(buckets) != 1 || buckets[0].ClaimCount != 1 {
		t.Fatalf("got buckets=%+v, want exactly 1 claim recorded", buckets)
	}
}

func allBuckets(s *fakeStore) []Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bucket
	for _, b := range s.buckets {
		out = append(out, *b)
	}
	return out
}
