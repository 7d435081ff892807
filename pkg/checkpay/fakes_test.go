package checkpay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hypoth/edi835/pkg/bucket"
)

type fakeCheckStore struct {
	mu           sync.Mutex
	reservations map[string]*CheckReservation
	payments     map[string]*CheckPayment
	auditLog     []CheckAuditLog
}

func newFakeCheckStore() *fakeCheckStore {
	return &fakeCheckStore{reservations: make(map[string]*CheckReservation), payments: make(map[string]*CheckPayment)}
}

func (f *fakeCheckStore) OldestActiveReservation(ctx context.Context, payerID string) (*CheckReservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *CheckReservation
	for _, r := range f.reservations {
		if r.PayerID != payerID || r.Status != ReservationActive {
			continue
		}
		if best == nil || r.CreatedAt.Before(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (f *fakeCheckStore) GetReservation(ctx context.Context, id string) (*CheckReservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeCheckStore) IncrementChecksUsed(ctx context.Context, id string) (bool, *CheckReservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok || r.Status != ReservationActive {
		return false, nil, nil
	}
	r.ChecksUsed++
	if r.ChecksUsed >= r.TotalChecks {
		r.Status = ReservationExhausted
	}
	cp := *r
	return true, &cp, nil
}

func (f *fakeCheckStore) CreatePayment(ctx context.Context, p CheckPayment) (*CheckPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cp := p
	f.payments[p.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeCheckStore) GetPayment(ctx context.Context, id string) (*CheckPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCheckStore) GetPaymentByBucket(ctx context.Context, bucketID string) (*CheckPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.BucketID == bucketID && p.Status != CheckVoid && p.Status != CheckCancelled {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCheckStore) UpdatePaymentStatus(ctx context.Context, id string, fromStatuses []CheckPaymentStatus, mutate func(*CheckPayment)) (bool, *CheckPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return false, nil, &CheckPaymentNotFoundError{ID: id}
	}
	allowed := false
	for _, st := range fromStatuses {
		if p.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		cp := *p
		return false, &cp, nil
	}
	mutate(p)
	cp := *p
	return true, &cp, nil
}

func (f *fakeCheckStore) AppendAuditLog(ctx context.Context, entry CheckAuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditLog = append(f.auditLog, entry)
	return nil
}

type fakeBucketStore struct {
	bucket.Store
	buckets map[string]*bucket.Bucket
}

func newFakeBucketStore() *fakeBucketStore { return &fakeBucketStore{buckets: make(map[string]*bucket.Bucket)} }

func (f *fakeBucketStore) Get(ctx context.Context, bucketID string) (*bucket.Bucket, error) {
	b, ok := f.buckets[bucketID]
	if !ok {
		return nil, fmt.Errorf("bucket %s not found", bucketID)
	}
	cp := *b
	return &cp, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
