package checkpay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hypoth/edi835/internal/telemetry"
	"github.com/hypoth/edi835/pkg/bucket"
)

// Service is C8: reservation-backed and manual check assignment,
// acknowledgment/issuance/void, and the bucket.PaymentGate implementation
// that CheckPaymentWorkflowConfig-gated generation consults.
type Service struct {
	store      Store
	buckets    bucket.Store
	voidPolicy VoidPolicy
	logger     *slog.Logger
}

// NewService wires Service's collaborators. buckets is read-only here: C8
// checks bucket status before assigning/replacing but never transitions it
// itself — that remains the state machine's job.
func NewService(store Store, buckets bucket.Store, voidPolicy VoidPolicy, logger *slog.Logger) *Service {
	return &Service{store: store, buckets: buckets, voidPolicy: voidPolicy, logger: logger}
}

// Satisfied implements bucket.PaymentGate: a bucket's payment requirement
// is met once its most recent non-voided CheckPayment is ASSIGNED (or, if
// requireAcknowledgment, ACKNOWLEDGED or later) (§4.6).
func (s *Service) Satisfied(ctx context.Context, bucketID string, cfg bucket.CheckPaymentWorkflowConfig) (bool, error) {
	payment, err := s.store.GetPaymentByBucket(ctx, bucketID)
	if err != nil {
		return false, fmt.Errorf("checking payment gate for bucket %s: %w", bucketID, err)
	}
	if payment == nil {
		return false, nil
	}
	if !cfg.RequireAcknowledgment {
		return statusAtLeast(payment.Status, CheckAssigned), nil
	}
	return statusAtLeast(payment.Status, CheckAcknowledged), nil
}

// checkStatusRank orders the forward lifecycle path used by Satisfied's
// "at least" comparisons. VOID/CANCELLED/RESERVED are not on this path.
var checkStatusRank = map[CheckPaymentStatus]int{
	CheckAssigned:     1,
	CheckAcknowledged: 2,
	CheckIssued:       3,
}

func statusAtLeast(status, floor CheckPaymentStatus) bool {
	return checkStatusRank[status] >= checkStatusRank[floor] && checkStatusRank[status] > 0
}

func (s *Service) requirePendingApproval(ctx context.Context, bucketID string) (*bucketView, error) {
	b, err := s.buckets.Get(ctx, bucketID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("bucket %s not found", bucketID)
	}
	if b.Status != bucket.StatusPendingApproval {
		return nil, &CheckAssignmentError{BucketID: bucketID, Cause: &bucket.InvalidStateError{
			Operation: "assign check", CurrentStatus: b.Status, RequiredStatus: bucket.StatusPendingApproval,
		}}
	}
	return &bucketView{PayerID: b.PayerID}, nil
}

type bucketView struct{ PayerID string }

// AssignManual creates an ASSIGNED CheckPayment from user-supplied details
// (§4.8).
func (s *Service) AssignManual(ctx context.Context, bucketID string, details ManualDetails, actor string) (*CheckPayment, error) {
	if err := validateManualDetails(details); err != nil {
		return nil, err
	}
	if _, err := s.requirePendingApproval(ctx, bucketID); err != nil {
		return nil, err
	}

	created, err := s.store.CreatePayment(ctx, CheckPayment{
		ID:            uuid.NewString(),
		BucketID:      bucketID,
		CheckNumber:   details.CheckNumber,
		CheckAmount:   details.CheckAmount,
		CheckDate:     details.CheckDate,
		BankName:      details.BankName,
		RoutingNumber: details.RoutingNumber,
		AccountLast4:  details.AccountLast4,
		Status:        CheckAssigned,
	})
	if err != nil {
		return nil, &CheckAssignmentError{BucketID: bucketID, AssignmentMode: "MANUAL", Cause: err}
	}
	telemetry.CheckAssignmentsTotal.WithLabelValues("manual").Inc()
	s.audit(ctx, created.ID, "ASSIGNED_MANUAL", actor, map[string]any{"check_number": created.CheckNumber})
	return created, nil
}

// AssignAuto picks the oldest ACTIVE reservation for the bucket's payer,
// atomically increments checksUsed, allocates the next check number, and
// creates the resulting CheckPayment (§4.8).
func (s *Service) AssignAuto(ctx context.Context, bucketID string, actor string) (*CheckPayment, error) {
	view, err := s.requirePendingApproval(ctx, bucketID)
	if err != nil {
		return nil, err
	}

	reservation, err := s.store.OldestActiveReservation(ctx, view.PayerID)
	if err != nil {
		return nil, fmt.Errorf("finding active reservation for payer %s: %w", view.PayerID, err)
	}
	if reservation == nil {
		return nil, &NoAvailableChecksError{PayerID: view.PayerID}
	}

	checksUsedBefore := reservation.ChecksUsed
	ok, updated, err := s.store.IncrementChecksUsed(ctx, reservation.ID)
	if err != nil {
		return nil, &CheckAssignmentError{BucketID: bucketID, AssignmentMode: "AUTO", Cause: err}
	}
	if !ok {
		// Lost the race to another auto-assignment against the same
		// reservation; retry against whichever reservation is now oldest.
		return s.AssignAuto(ctx, bucketID, actor)
	}

	checkNumber, err := NextCheckNumber(reservation.CheckNumberStart, checksUsedBefore)
	if err != nil {
		return nil, &CheckAssignmentError{BucketID: bucketID, AssignmentMode: "AUTO", Cause: err}
	}
	if inRange, err := WithinRange(reservation.CheckNumberStart, reservation.CheckNumberEnd, checkNumber); err != nil || !inRange {
		return nil, &CheckAssignmentError{BucketID: bucketID, AssignmentMode: "AUTO", Cause: fmt.Errorf("allocated check number %s outside reservation %s range", checkNumber, reservation.ID)}
	}

	created, err := s.store.CreatePayment(ctx, CheckPayment{
		ID:            uuid.NewString(),
		BucketID:      bucketID,
		CheckNumber:   checkNumber,
		BankName:      reservation.BankName,
		RoutingNumber: reservation.RoutingNumber,
		AccountLast4:  reservation.AccountLast4,
		Status:        CheckAssigned,
		ReservationID: reservation.ID,
		CheckDate:     time.Now(),
	})
	if err != nil {
		return nil, &CheckAssignmentError{BucketID: bucketID, AssignmentMode: "AUTO", Cause: err}
	}

	_ = updated // available for callers that want the post-increment reservation state
	telemetry.CheckAssignmentsTotal.WithLabelValues("auto").Inc()
	s.audit(ctx, created.ID, "ASSIGNED_AUTO", actor, map[string]any{"check_number": created.CheckNumber, "reservation_id": reservation.ID})
	return created, nil
}

// Acknowledge transitions ASSIGNED → ACKNOWLEDGED (§4.8).
func (s *Service) Acknowledge(ctx context.Context, id, actor string) error {
	ok, updated, err := s.store.UpdatePaymentStatus(ctx, id, []CheckPaymentStatus{CheckAssigned}, func(p *CheckPayment) {
		p.Status = CheckAcknowledged
	})
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidCheckStateError{Operation: "acknowledge", CurrentStatus: statusOf(updated), RequiredStatus: CheckAssigned}
	}
	s.audit(ctx, id, "ACKNOWLEDGED", actor, nil)
	return nil
}

// MarkIssued transitions ACKNOWLEDGED → ISSUED, or ASSIGNED → ISSUED when
// acknowledgment was never required (§4.8).
func (s *Service) MarkIssued(ctx context.Context, id, actor string) error {
	now := time.Now()
	ok, updated, err := s.store.UpdatePaymentStatus(ctx, id, []CheckPaymentStatus{CheckAcknowledged, CheckAssigned}, func(p *CheckPayment) {
		p.Status = CheckIssued
		p.IssuedAt = &now
	})
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidCheckStateError{Operation: "markIssued", CurrentStatus: statusOf(updated)}
	}
	s.audit(ctx, id, "ISSUED", actor, nil)
	return nil
}

// Void transitions ISSUED → VOID, subject to the configured window and
// authorized-role gate (§4.8, §9).
func (s *Service) Void(ctx context.Context, id, reason, actor string, actorRoles []string) error {
	current, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return &CheckPaymentNotFoundError{ID: id}
	}
	if current.Status != CheckIssued {
		return &InvalidCheckStateError{Operation: "void", CurrentStatus: current.Status, RequiredStatus: CheckIssued}
	}
	if current.IssuedAt == nil || time.Since(*current.IssuedAt) > s.voidPolicy.Window {
		return &InvalidCheckStateError{Operation: "void", CurrentStatus: current.Status}
	}
	if !s.voidPolicy.roleAuthorized(actorRoles) {
		return &InvalidCheckStateError{Operation: "void", CurrentStatus: current.Status}
	}

	ok, _, err := s.store.UpdatePaymentStatus(ctx, id, []CheckPaymentStatus{CheckIssued}, func(p *CheckPayment) {
		p.Status = CheckVoid
	})
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidCheckStateError{Operation: "void", CurrentStatus: current.Status, RequiredStatus: CheckIssued}
	}
	s.audit(ctx, id, "VOIDED", actor, map[string]any{"reason": reason})
	return nil
}

// Replace voids the bucket's prior check and assigns a new one from
// newDetails; the bucket must be PENDING_APPROVAL (§4.8).
func (s *Service) Replace(ctx context.Context, bucketID string, newDetails ManualDetails, actor string) (*CheckPayment, error) {
	if _, err := s.requirePendingApproval(ctx, bucketID); err != nil {
		return nil, err
	}

	prior, err := s.store.GetPaymentByBucket(ctx, bucketID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		if _, _, err := s.store.UpdatePaymentStatus(ctx, prior.ID, []CheckPaymentStatus{
			CheckReserved, CheckAssigned, CheckAcknowledged, CheckIssued,
		}, func(p *CheckPayment) {
			p.Status = CheckVoid
		}); err != nil {
			return nil, err
		}
		s.audit(ctx, prior.ID, "VOIDED_FOR_REPLACEMENT", actor, nil)
	}

	return s.AssignManual(ctx, bucketID, newDetails, actor)
}

func (s *Service) audit(ctx context.Context, checkID, action, actor string, detail map[string]any) {
	if err := s.store.AppendAuditLog(ctx, CheckAuditLog{ID: uuid.NewString(), CheckID: checkID, Action: action, Actor: actor, Detail: detail}); err != nil {
		s.logger.Error("check audit log append failed", "check_id", checkID, "action", action, "error", err)
	}
}

func statusOf(p *CheckPayment) CheckPaymentStatus {
	if p == nil {
		return CheckPaymentStatus("UNKNOWN")
	}
	return p.Status
}
