package filegen

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestDeliverer_RetryThenSucceed is scenario S6: the first delivery attempt
// fails (RETRY, retryCount=1), the next polling cycle succeeds (DELIVERED,
// retryCount unchanged at 1).
func TestDeliverer_RetryThenSucceed(t *testing.T) {
	configs := newFakeConfigStore()
	configs.payers["payer-1"] = &PayerConfig{ID: "payer-1", SFTPHost: "sftp.example.com", SFTPPort: 22, SFTPUsername: "edi"}

	history := newFakeHistoryStore()
	created, err := history.Create(context.Background(), FileGenerationHistory{
		BucketID: "bucket-1", PayerID: "payer-1", FileName: "out.edi", FilePath: "/in/out.edi", Content: []byte("HDR*..."),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dialAttempt := 0
	dialer := func(ctx context.Context, addr, username, password string) (SFTPClient, error) {
		dialAttempt++
		if dialAttempt == 1 {
			return &fakeSFTPClient{uploadErrs: []error{errors.New("connection reset")}}, nil
		}
		return &fakeSFTPClient{}, nil
	}
	sessions := NewCachingSessionFactory(5, dialer, IdentityDecryptor, time.Second)

	deliverer := NewDeliverer(history, configs, sessions, 3, testLogger())

	deliverer.Run(context.Background())
	row, err := history.Get(context.Background(), created.FileID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.DeliveryStatus != DeliveryRetry || row.RetryCount != 1 {
		t.Fatalf("after first attempt: status=%s retryCount=%d, want RETRY/1", row.DeliveryStatus, row.RetryCount)
	}

	deliverer.Run(context.Background())
	row, err = history.Get(context.Background(), created.FileID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.DeliveryStatus != DeliveryDelivered || row.RetryCount != 1 {
		t.Fatalf("after second attempt: status=%s retryCount=%d, want DELIVERED/1", row.DeliveryStatus, row.RetryCount)
	}
	if row.DeliveredAt == nil {
		t.Fatal("expected deliveredAt to be set")
	}
}

// TestDeliverer_FailsTerminallyAtMaxRetries covers invariant: a row that
// keeps failing until retryCount reaches maxRetries is marked FAILED, not
// retried forever.
func TestDeliverer_FailsTerminallyAtMaxRetries(t *testing.T) {
	configs := newFakeConfigStore()
	configs.payers["payer-1"] = &PayerConfig{ID: "payer-1", SFTPHost: "sftp.example.com", SFTPPort: 22}

	history := newFakeHistoryStore()
	created, _ := history.Create(context.Background(), FileGenerationHistory{
		BucketID: "bucket-1", PayerID: "payer-1", FileName: "out.edi", FilePath: "/in/out.edi", Content: []byte("x"),
	})

	dialer := func(ctx context.Context, addr, username, password string) (SFTPClient, error) {
		return &fakeSFTPClient{uploadErrs: []error{errors.New("always fails")}}, nil
	}
	sessions := NewCachingSessionFactory(5, dialer, IdentityDecryptor, time.Second)
	deliverer := NewDeliverer(history, configs, sessions, 2, testLogger())

	deliverer.Run(context.Background()) // retryCount -> 1, RETRY
	deliverer.Run(context.Background()) // retryCount -> 2, FAILED

	row, _ := history.Get(context.Background(), created.FileID)
	if row.DeliveryStatus != DeliveryFailed || row.RetryCount != 2 {
		t.Fatalf("status=%s retryCount=%d, want FAILED/2", row.DeliveryStatus, row.RetryCount)
	}
}
