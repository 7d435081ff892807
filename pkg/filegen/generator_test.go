package filegen

import (
	"context"
	"testing"

	"github.com/hypoth/edi835/internal/auditlog"
	"github.com/hypoth/edi835/pkg/bucket"
	"github.com/hypoth/edi835/pkg/claim"
	"github.com/hypoth/edi835/pkg/eventbus"
	"github.com/hypoth/edi835/pkg/ncpdp"
)

// minimalBucketStore is the narrow slice of bucket.Store the Generator
// actually exercises; only the methods under test are implemented against
// an in-memory bucket.
type minimalBucketStore struct {
	bucket.Store
	b      *bucket.Bucket
	claims []string
}

func (s *minimalBucketStore) Get(ctx context.Context, bucketID string) (*bucket.Bucket, error) {
	cp := *s.b
	return &cp, nil
}

func (s *minimalBucketStore) ClaimIDsForBucket(ctx context.Context, bucketID string) ([]string, error) {
	return s.claims, nil
}

func (s *minimalBucketStore) UpdateStatus(ctx context.Context, bucketID string, fromStatuses []bucket.Status, mutate func(*bucket.Bucket)) (bool, *bucket.Bucket, error) {
	for _, st := range fromStatuses {
		if s.b.Status == st {
			mutate(s.b)
			cp := *s.b
			return true, &cp, nil
		}
	}
	return false, s.b, nil
}

type minimalLocker struct{}

func (minimalLocker) Lock(ctx context.Context, bucketID string) (func(), error) { return func() {}, nil }

type minimalClaimStore struct{ claims []claim.Claim }

func (s *minimalClaimStore) Save(ctx context.Context, c *claim.Claim) error { return nil }
func (s *minimalClaimStore) Get(ctx context.Context, id string) (*claim.Claim, error) {
	return nil, nil
}
func (s *minimalClaimStore) ListByIDs(ctx context.Context, ids []string) ([]claim.Claim, error) {
	return s.claims, nil
}

func TestGenerator_SerializesAndCompletesBucket(t *testing.T) {
	b := &bucket.Bucket{BucketID: "bucket-1", Status: bucket.StatusGenerating, PayerID: "payer-1", PayeeID: "payee-1", TotalAmount: 5000}
	store := &minimalBucketStore{b: b, claims: []string{"claim-1"}}
	claims := &minimalClaimStore{claims: []claim.Claim{{ID: "claim-1", ClaimNumber: "CN-1", PaidAmount: ncpdp.Amount(5000), Status: claim.StatusPaid}}}

	configs := newFakeConfigStore()
	configs.payers["payer-1"] = &PayerConfig{ID: "payer-1", NamingTemplate: "{payerId}_{bucketId}.edi"}
	configs.payees["payee-1"] = &PayeeConfig{ID: "payee-1"}

	history := newFakeHistoryStore()
	bus := eventbus.New(testLogger())
	audit := auditlog.NewWriter(nil, testLogger())
	machine := bucket.NewStateMachine(nil, store, minimalLocker{}, nil, bus, audit, testLogger())

	gen := NewGenerator(store, claims, configs, history, NewFixedWidthSerializer(), machine, audit, testLogger())

	if err := gen.Generate(context.Background(), "bucket-1"); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if b.Status != bucket.StatusCompleted {
		t.Fatalf("bucket status = %s, want COMPLETED", b.Status)
	}

	rows, err := history.ListPendingOrRetry(context.Background(), 3)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListPendingOrRetry: rows=%v err=%v", rows, err)
	}
	if rows[0].PayerID != "payer-1" || rows[0].FileName != "payer-1_bucket-1.edi" {
		t.Fatalf("unexpected history row: %+v", rows[0])
	}
	if len(rows[0].Content) == 0 {
		t.Fatal("expected serialized content to be recorded")
	}
}

func TestGenerator_SkipsIfBucketLeftGeneratingBeforePickup(t *testing.T) {
	b := &bucket.Bucket{BucketID: "bucket-1", Status: bucket.StatusCompleted}
	store := &minimalBucketStore{b: b}
	history := newFakeHistoryStore()
	bus := eventbus.New(testLogger())
	audit := auditlog.NewWriter(nil, testLogger())
	machine := bucket.NewStateMachine(nil, store, minimalLocker{}, nil, bus, audit, testLogger())

	gen := NewGenerator(store, &minimalClaimStore{}, newFakeConfigStore(), history, NewFixedWidthSerializer(), machine, audit, testLogger())

	if err := gen.Generate(context.Background(), "bucket-1"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	rows, _ := history.ListPendingOrRetry(context.Background(), 3)
	if len(rows) != 0 {
		t.Fatalf("expected no history row written, got %v", rows)
	}
}
