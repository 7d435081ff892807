package checkpay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hypoth/edi835/pkg/bucket"
)

func newTestService() (*Service, *fakeCheckStore, *fakeBucketStore) {
	checks := newFakeCheckStore()
	buckets := newFakeBucketStore()
	svc := NewService(checks, buckets, VoidPolicy{Window: time.Hour, AuthorizedRoles: []string{"finance_admin"}}, testLogger())
	return svc, checks, buckets
}

// TestAssignAuto_ExhaustsReservationAtBoundary covers the boundary behavior:
// a reservation at checksUsed=totalChecks-1 succeeds on the next auto-assign
// and becomes EXHAUSTED.
func TestAssignAuto_ExhaustsReservationAtBoundary(t *testing.T) {
	svc, checks, buckets := newTestService()
	buckets.buckets["bucket-1"] = &bucket.Bucket{BucketID: "bucket-1", PayerID: "payer-1", Status: bucket.StatusPendingApproval}
	checks.reservations["res-1"] = &CheckReservation{
		ID: "res-1", PayerID: "payer-1", CheckNumberStart: "CHK00001000", CheckNumberEnd: "CHK00001004",
		TotalChecks: 5, ChecksUsed: 4, Status: ReservationActive, CreatedAt: time.Now(),
	}

	payment, err := svc.AssignAuto(context.Background(), "bucket-1", "ops-1")
	if err != nil {
		t.Fatalf("AssignAuto: %v", err)
	}
	if payment.CheckNumber != "CHK00001004" {
		t.Fatalf("check number = %s, want CHK00001004", payment.CheckNumber)
	}

	res, _ := checks.GetReservation(context.Background(), "res-1")
	if res.Status != ReservationExhausted || res.ChecksUsed != 5 {
		t.Fatalf("reservation = %+v, want EXHAUSTED/5", res)
	}

	if _, err := svc.AssignAuto(context.Background(), "bucket-1", "ops-1"); err == nil {
		t.Fatal("expected NoAvailableChecksError once the only reservation is exhausted")
	} else {
		var nac *NoAvailableChecksError
		if !errors.As(err, &nac) {
			t.Fatalf("got %v, want NoAvailableChecksError", err)
		}
	}
}

// TestAssignManual_RequiresPendingApproval covers the §4.8 gate: all
// assignment operations require bucket status=PENDING_APPROVAL.
func TestAssignManual_RequiresPendingApproval(t *testing.T) {
	svc, _, buckets := newTestService()
	buckets.buckets["bucket-1"] = &bucket.Bucket{BucketID: "bucket-1", Status: bucket.StatusAccumulating}

	_, err := svc.AssignManual(context.Background(), "bucket-1", validManualDetails("CHK001"), "ops-1")
	if err == nil {
		t.Fatal("expected error assigning against a non-PENDING_APPROVAL bucket")
	}
}

func validManualDetails(checkNumber string) ManualDetails {
	return ManualDetails{
		CheckNumber:   checkNumber,
		CheckAmount:   12345,
		CheckDate:     time.Now(),
		BankName:      "First Ledger Bank",
		RoutingNumber: "011000015",
		AccountLast4:  "4321",
	}
}

// TestSatisfied_RequiresAcknowledgmentWhenConfigured covers the payment
// gate's requireAcknowledgment branch.
func TestSatisfied_RequiresAcknowledgmentWhenConfigured(t *testing.T) {
	svc, checks, buckets := newTestService()
	buckets.buckets["bucket-1"] = &bucket.Bucket{BucketID: "bucket-1", PayerID: "payer-1", Status: bucket.StatusPendingApproval}

	payment, err := svc.AssignManual(context.Background(), "bucket-1", validManualDetails("CHK00001"), "ops-1")
	if err != nil {
		t.Fatalf("AssignManual: %v", err)
	}

	cfg := bucket.CheckPaymentWorkflowConfig{WorkflowMode: bucket.WorkflowModeCombined, RequireAcknowledgment: true}
	ok, err := svc.Satisfied(context.Background(), "bucket-1", cfg)
	if err != nil {
		t.Fatalf("Satisfied: %v", err)
	}
	if ok {
		t.Fatal("expected gate unsatisfied before acknowledgment")
	}

	if err := svc.Acknowledge(context.Background(), payment.ID, "ops-1"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	ok, err = svc.Satisfied(context.Background(), "bucket-1", cfg)
	if err != nil {
		t.Fatalf("Satisfied: %v", err)
	}
	if !ok {
		t.Fatal("expected gate satisfied after acknowledgment")
	}
	_ = checks
}

// TestAssignManual_RejectsIncompleteDetails covers struct-tag validation on
// ManualDetails before it reaches the store.
func TestAssignManual_RejectsIncompleteDetails(t *testing.T) {
	svc, _, buckets := newTestService()
	buckets.buckets["bucket-1"] = &bucket.Bucket{BucketID: "bucket-1", PayerID: "payer-1", Status: bucket.StatusPendingApproval}

	_, err := svc.AssignManual(context.Background(), "bucket-1", ManualDetails{CheckNumber: "CHK00001"}, "ops-1")
	if err == nil {
		t.Fatal("expected error for a ManualDetails missing required fields")
	}
	var ide *InvalidManualDetailsError
	if !errors.As(err, &ide) {
		t.Fatalf("got %v, want InvalidManualDetailsError", err)
	}
}

// TestVoid_RejectsUnauthorizedRole covers §9's role-gated void policy.
func TestVoid_RejectsUnauthorizedRole(t *testing.T) {
	svc, checks, buckets := newTestService()
	buckets.buckets["bucket-1"] = &bucket.Bucket{BucketID: "bucket-1", PayerID: "payer-1", Status: bucket.StatusPendingApproval}

	payment, err := svc.AssignManual(context.Background(), "bucket-1", validManualDetails("CHK00001"), "ops-1")
	if err != nil {
		t.Fatalf("AssignManual: %v", err)
	}
	if err := svc.MarkIssued(context.Background(), payment.ID, "ops-1"); err != nil {
		t.Fatalf("MarkIssued: %v", err)
	}

	if err := svc.Void(context.Background(), payment.ID, "printer jam", "ops-1", []string{"data_entry"}); err == nil {
		t.Fatal("expected void to be rejected for an unauthorized role")
	}
	if err := svc.Void(context.Background(), payment.ID, "printer jam", "admin-1", []string{"finance_admin"}); err != nil {
		t.Fatalf("Void with authorized role: %v", err)
	}
	_ = checks
}
