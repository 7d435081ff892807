// Package checkpay implements C8: check reservation pools, manual and
// automatic check assignment against a bucket, acknowledgment/issuance/void
// lifecycle, and the bucket payment gate (bucket.PaymentGate) that backs
// CheckPaymentWorkflowConfig-gated generation.
package checkpay

import "time"

// ReservationStatus is CheckReservation's lifecycle (§4.8).
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationExhausted ReservationStatus = "EXHAUSTED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// CheckReservation is a pre-allocated block of check numbers for a payer
// (§4.8). Invariants: checksUsed <= totalChecks; status=EXHAUSTED iff
// checksUsed = totalChecks; status=CANCELLED requires checksUsed = 0.
type CheckReservation struct {
	ID               string
	PayerID          string
	CheckNumberStart string
	CheckNumberEnd   string
	TotalChecks      int64
	ChecksUsed       int64
	BankName         string
	RoutingNumber    string
	AccountLast4     string
	Status           ReservationStatus
	CreatedAt        time.Time
}

// CheckPaymentStatus is CheckPayment's lifecycle (§4.8).
type CheckPaymentStatus string

const (
	CheckReserved     CheckPaymentStatus = "RESERVED"
	CheckAssigned     CheckPaymentStatus = "ASSIGNED"
	CheckAcknowledged CheckPaymentStatus = "ACKNOWLEDGED"
	CheckIssued       CheckPaymentStatus = "ISSUED"
	CheckVoid         CheckPaymentStatus = "VOID"
	CheckCancelled    CheckPaymentStatus = "CANCELLED"
)

// CheckPayment backs one bucket's payment (§4.8).
type CheckPayment struct {
	ID            string
	BucketID      string
	CheckNumber   string
	CheckAmount   int64 // cents
	CheckDate     time.Time
	BankName      string
	RoutingNumber string
	AccountLast4  string
	Status        CheckPaymentStatus
	ReservationID string // empty for manual assignment
	IssuedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ManualDetails is the caller-supplied check detail for assignManual and
// replace (§4.8).
type ManualDetails struct {
	CheckNumber   string    `validate:"required"`
	CheckAmount   int64     `validate:"required,gt=0"`
	CheckDate     time.Time `validate:"required"`
	BankName      string    `validate:"required"`
	RoutingNumber string    `validate:"required,len=9,numeric"`
	AccountLast4  string    `validate:"required,len=4,numeric"`
}

// CheckAuditLog records every check-lifecycle operation (§4.8: "Each
// operation appends a CheckAuditLog entry").
type CheckAuditLog struct {
	ID          string
	CheckID     string
	Action      string
	Actor       string
	Detail      map[string]any
	OccurredAt  time.Time
}

// VoidPolicy configures the void(): operation's time window and authorized
// roles (§9 open question: "window+role gated... injected as
// configuration").
type VoidPolicy struct {
	Window          time.Duration
	AuthorizedRoles []string
}

func (p VoidPolicy) roleAuthorized(actorRoles []string) bool {
	if len(p.AuthorizedRoles) == 0 {
		return true
	}
	for _, has := range actorRoles {
		for _, want := range p.AuthorizedRoles {
			if has == want {
				return true
			}
		}
	}
	return false
}
