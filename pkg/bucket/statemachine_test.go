package bucket

import (
	"context"
	"errors"
	"testing"

	"github.com/hypoth/edi835/internal/auditlog"
	"github.com/hypoth/edi835/pkg/eventbus"
)

func newBucketFixture(store *fakeStore, status Status) *Bucket {
	b, _ := store.CreateBucket(context.Background(), Bucket{BucketingRuleID: "rule-1", PayerID: "P", PayeeID: "Q"})
	b.Status = status
	store.buckets[b.BucketID] = b
	return b
}

// TestStateMachine_ApprovalPath is scenario S4: MANUAL commit with a
// COMBINED/MANUAL payment workflow. Approve without an assigned check fails
// with PaymentRequired and leaves the bucket unchanged; once a check is
// assigned, approve succeeds and the bucket moves to GENERATING.
func TestStateMachine_ApprovalPath(t *testing.T) {
	cs := newFakeConfigStore()
	cs.thresholds["rule-1"] = []GenerationThreshold{{ID: "th-1", LinkedBucketingRuleID: "rule-1", IsActive: true}}
	cs.workflows["th-1"] = &CheckPaymentWorkflowConfig{WorkflowMode: WorkflowModeCombined, AssignmentMode: AssignmentModeManual, LinkedThresholdID: "th-1"}

	store := newFakeStore()
	gate := &assignedCheckGate{assigned: map[string]bool{}}
	bus := eventbus.New(testLogger())
	audit := auditlog.NewWriter(nil, testLogger())
	machine := NewStateMachine(cs, store, noopLocker{}, gate, bus, audit, testLogger())

	b := newBucketFixture(store, StatusPendingApproval)

	err := machine.Approve(context.Background(), b.BucketID, "user-1", "")
	var paymentErr *PaymentRequiredError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("approve without assigned check: got %v, want PaymentRequiredError", err)
	}

	current, _ := store.Get(context.Background(), b.BucketID)
	if current.Status != StatusPendingApproval {
		t.Fatalf("bucket status = %s after failed approve, want unchanged PENDING_APPROVAL", current.Status)
	}

	gate.assigned[b.BucketID] = true
	if err := machine.Approve(context.Background(), b.BucketID, "user-1", ""); err != nil {
		t.Fatalf("approve after check assigned: %v", err)
	}

	current, _ = store.Get(context.Background(), b.BucketID)
	if current.Status != StatusGenerating {
		t.Fatalf("bucket status = %s, want GENERATING", current.Status)
	}
	if current.ApprovedBy != "user-1" {
		t.Fatalf("approvedBy = %q, want user-1", current.ApprovedBy)
	}
}

// TestStateMachine_RejectReturnsToAccumulating covers the approve/reject
// idempotence law from §8: reject returns the bucket to ACCUMULATING with
// counts unchanged.
func TestStateMachine_RejectReturnsToAccumulating(t *testing.T) {
	cs := newFakeConfigStore()
	store := newFakeStore()
	bus := eventbus.New(testLogger())
	audit := auditlog.NewWriter(nil, testLogger())
	machine := NewStateMachine(cs, store, noopLocker{}, alwaysSatisfiedGate{}, bus, audit, testLogger())

	b := newBucketFixture(store, StatusPendingApproval)
	store.buckets[b.BucketID].ClaimCount = 7

	if err := machine.Reject(context.Background(), b.BucketID, "user-1", "bad batch", "comment"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	current, _ := store.Get(context.Background(), b.BucketID)
	if current.Status != StatusAccumulating {
		t.Fatalf("status = %s, want ACCUMULATING", current.Status)
	}
	if current.ClaimCount != 7 {
		t.Fatalf("claimCount = %d, want unchanged 7", current.ClaimCount)
	}
	if current.AwaitingApprovalSince != nil {
		t.Fatal("expected awaitingApprovalSince cleared")
	}
}

// TestStateMachine_MissingConfigurationReachedOnGenerate covers the
// MissingConfiguration path: a GENERATING attempt for an unknown payee moves
// the bucket to MISSING_CONFIGURATION and remembers the pre-generating
// status for later reset.
func TestStateMachine_MissingConfigurationReachedOnGenerate(t *testing.T) {
	cs := newFakeConfigStore()
	cs.payees["Q"] = false // explicitly absent
	cs.payers["P"] = true

	store := newFakeStore()
	bus := eventbus.New(testLogger())
	audit := auditlog.NewWriter(nil, testLogger())
	machine := NewStateMachine(cs, store, noopLocker{}, alwaysSatisfiedGate{}, bus, audit, testLogger())

	b := newBucketFixture(store, StatusAccumulating)

	err := machine.transitionToGenerating(context.Background(), b.BucketID, CheckPaymentWorkflowConfig{WorkflowMode: WorkflowModeNone})
	var missing *MissingConfigurationError
	if !errors.As(err, &missing) || missing.Kind != ConfigKindPayee {
		t.Fatalf("got %v, want MissingConfigurationError(Payee)", err)
	}

	current, _ := store.Get(context.Background(), b.BucketID)
	if current.Status != StatusMissingConfiguration {
		t.Fatalf("status = %s, want MISSING_CONFIGURATION", current.Status)
	}
	if current.PreGeneratingStatus != StatusAccumulating {
		t.Fatalf("preGeneratingStatus = %s, want ACCUMULATING", current.PreGeneratingStatus)
	}
}

func TestStateMachine_BulkApproveFailsAllIfAnyNotPendingApproval(t *testing.T) {
	cs := newFakeConfigStore()
	store := newFakeStore()
	bus := eventbus.New(testLogger())
	audit := auditlog.NewWriter(nil, testLogger())
	machine := NewStateMachine(cs, store, noopLocker{}, alwaysSatisfiedGate{}, bus, audit, testLogger())

	pending := newBucketFixture(store, StatusPendingApproval)
	accumulating := newBucketFixture(store, StatusAccumulating)

	err := machine.BulkApprove(context.Background(), []string{pending.BucketID, accumulating.BucketID}, "user-1", "")
	if err == nil {
		t.Fatal("expected bulk approve to fail when one bucket is not PENDING_APPROVAL")
	}

	current, _ := store.Get(context.Background(), pending.BucketID)
	if current.Status != StatusPendingApproval {
		t.Fatalf("status = %s, want unchanged PENDING_APPROVAL (no partial success)", current.Status)
	}
}
