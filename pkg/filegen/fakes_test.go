package filegen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeConfigStore struct {
	payers map[string]*PayerConfig
	payees map[string]*PayeeConfig
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{payers: make(map[string]*PayerConfig), payees: make(map[string]*PayeeConfig)}
}

func (f *fakeConfigStore) Payer(ctx context.Context, payerID string) (*PayerConfig, error) {
	return f.payers[payerID], nil
}

func (f *fakeConfigStore) Payee(ctx context.Context, payeeID string) (*PayeeConfig, error) {
	return f.payees[payeeID], nil
}

type fakeHistoryStore struct {
	mu   sync.Mutex
	rows map[string]*FileGenerationHistory
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{rows: make(map[string]*FileGenerationHistory)}
}

func (f *fakeHistoryStore) Create(ctx context.Context, h FileGenerationHistory) (*FileGenerationHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.FileID == "" {
		h.FileID = uuid.NewString()
	}
	h.DeliveryStatus = DeliveryPending
	cp := h
	f.rows[h.FileID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeHistoryStore) Get(ctx context.Context, fileID string) (*FileGenerationHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.rows[fileID]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (f *fakeHistoryStore) ListPendingOrRetry(ctx context.Context, maxRetries int) ([]FileGenerationHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FileGenerationHistory
	for _, h := range f.rows {
		if (h.DeliveryStatus == DeliveryPending || h.DeliveryStatus == DeliveryRetry) && h.RetryCount < maxRetries {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (f *fakeHistoryStore) MarkDelivered(ctx context.Context, fileID string) (*FileGenerationHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.rows[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	h.DeliveryStatus = DeliveryDelivered
	now := time.Now()
	h.DeliveredAt = &now
	cp := *h
	return &cp, nil
}

func (f *fakeHistoryStore) MarkRetry(ctx context.Context, fileID string, errMessage string) (*FileGenerationHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.rows[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	h.DeliveryStatus = DeliveryRetry
	h.RetryCount++
	h.ErrorMessage = errMessage
	cp := *h
	return &cp, nil
}

func (f *fakeHistoryStore) MarkFailed(ctx context.Context, fileID string, errMessage string) (*FileGenerationHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.rows[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	h.DeliveryStatus = DeliveryFailed
	h.RetryCount++
	h.ErrorMessage = errMessage
	cp := *h
	return &cp, nil
}

// fakeSFTPClient lets a test script a sequence of Upload outcomes.
type fakeSFTPClient struct {
	uploadErrs []error
	call       int
	uploads    [][]byte
}

func (c *fakeSFTPClient) Upload(ctx context.Context, remotePath string, content []byte) error {
	c.uploads = append(c.uploads, content)
	var err error
	if c.call < len(c.uploadErrs) {
		err = c.uploadErrs[c.call]
	}
	c.call++
	return err
}

func (c *fakeSFTPClient) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
