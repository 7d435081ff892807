package bucket

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hypoth/edi835/pkg/claim"
	"github.com/hypoth/edi835/pkg/ncpdp"
)

type fakeClaimStore struct {
	mu     sync.Mutex
	claims map[string]claim.Claim
}

func newFakeClaimStore() *fakeClaimStore {
	return &fakeClaimStore{claims: make(map[string]claim.Claim)}
}

func (f *fakeClaimStore) Save(ctx context.Context, c *claim.Claim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.claims[c.ID]; ok {
		return nil
	}
	f.claims[c.ID] = *c
	return nil
}

func (f *fakeClaimStore) Get(ctx context.Context, id string) (*claim.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeClaimStore) ListByIDs(ctx context.Context, ids []string) ([]claim.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []claim.Claim
	for _, id := range ids {
		if c, ok := f.claims[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeConfigStore struct {
	rules       []BucketingRule
	thresholds  map[string][]GenerationThreshold
	commit      map[string]*CommitCriteria
	workflows   map[string]*CheckPaymentWorkflowConfig
	payers      map[string]bool
	payees      map[string]bool
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{
		thresholds: make(map[string][]GenerationThreshold),
		commit:     make(map[string]*CommitCriteria),
		workflows:  make(map[string]*CheckPaymentWorkflowConfig),
		payers:     make(map[string]bool),
		payees:     make(map[string]bool),
	}
}

func (f *fakeConfigStore) ActiveRules(ctx context.Context) ([]BucketingRule, error) { return f.rules, nil }

func (f *fakeConfigStore) ThresholdsForRule(ctx context.Context, ruleID string) ([]GenerationThreshold, error) {
	return f.thresholds[ruleID], nil
}

func (f *fakeConfigStore) CommitCriteriaForRule(ctx context.Context, ruleID string) (*CommitCriteria, error) {
	return f.commit[ruleID], nil
}

func (f *fakeConfigStore) WorkflowConfigForThreshold(ctx context.Context, thresholdID string) (*CheckPaymentWorkflowConfig, error) {
	return f.workflows[thresholdID], nil
}

func (f *fakeConfigStore) PayerExists(ctx context.Context, payerID string) (bool, error) {
	if len(f.payers) == 0 {
		return true, nil
	}
	return f.payers[payerID], nil
}

func (f *fakeConfigStore) PayeeExists(ctx context.Context, payeeID string) (bool, error) {
	if len(f.payees) == 0 {
		return true, nil
	}
	return f.payees[payeeID], nil
}

type claimRecord struct {
	claimID      string
	paidAmount   int64
	rejected     bool
}

type fakeStore struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	claims  map[string][]claimRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: make(map[string]*Bucket), claims: make(map[string][]claimRecord)}
}

func (f *fakeStore) FindOpenBucket(ctx context.Context, ruleID, payerID, payeeID, binNumber, pcnNumber string) (*Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.buckets {
		if b.BucketingRuleID == ruleID && b.PayerID == payerID && b.PayeeID == payeeID &&
			b.BinNumber == binNumber && b.PcnNumber == pcnNumber &&
			b.Status == StatusAccumulating {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateBucket(ctx context.Context, b Bucket) (*Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.BucketID == "" {
		b.BucketID = uuid.New().String()
	}
	b.Status = StatusAccumulating
	b.CreatedAt = time.Now()
	b.LastUpdated = time.Now()
	cp := b
	f.buckets[b.BucketID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) Get(ctx context.Context, bucketID string) (*Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucketID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) ListAccumulating(ctx context.Context) ([]Bucket, error) {
	return f.listByStatus(StatusAccumulating), nil
}

func (f *fakeStore) ListPendingApproval(ctx context.Context) ([]Bucket, error) {
	return f.listByStatus(StatusPendingApproval), nil
}

func (f *fakeStore) listByStatus(status Status) []Bucket {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Bucket
	for _, b := range f.buckets {
		if b.Status == status {
			out = append(out, *b)
		}
	}
	return out
}

func (f *fakeStore) AddClaim(ctx context.Context, bucketID, claimID string, paidAmount int64, rejected bool) (bool, *Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.buckets[bucketID]
	if !ok {
		return false, nil, fmt.Errorf("bucket %s not found", bucketID)
	}
	for _, rec := range f.claims[bucketID] {
		if rec.claimID == claimID {
			cp := *b
			return false, &cp, nil
		}
	}

	f.claims[bucketID] = append(f.claims[bucketID], claimRecord{claimID: claimID, paidAmount: paidAmount, rejected: rejected})
	b.ClaimCount++
	b.TotalAmount += ncpdp.Amount(paidAmount)
	if rejected {
		b.RejectionCount++
	}
	b.LastUpdated = time.Now()
	cp := *b
	return true, &cp, nil
}

func (f *fakeStore) ClaimIDsForBucket(ctx context.Context, bucketID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, rec := range f.claims[bucketID] {
		if !rec.rejected {
			out = append(out, rec.claimID)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, bucketID string, fromStatuses []Status, mutate func(*Bucket)) (bool, *Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.buckets[bucketID]
	if !ok {
		return false, nil, fmt.Errorf("bucket %s not found", bucketID)
	}
	allowed := false
	for _, st := range fromStatuses {
		if b.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		cp := *b
		return false, &cp, nil
	}

	mutate(b)
	b.LastUpdated = time.Now()
	cp := *b
	return true, &cp, nil
}

type noopLocker struct{}

func (noopLocker) Lock(ctx context.Context, bucketID string) (func(), error) {
	return func() {}, nil
}

type alwaysSatisfiedGate struct{}

func (alwaysSatisfiedGate) Satisfied(ctx context.Context, bucketID string, cfg CheckPaymentWorkflowConfig) (bool, error) {
	return true, nil
}

type assignedCheckGate struct {
	assigned map[string]bool
}

func (g *assignedCheckGate) Satisfied(ctx context.Context, bucketID string, cfg CheckPaymentWorkflowConfig) (bool, error) {
	return g.assigned[bucketID], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
