// Package filegen implements C7: reacting to bucket GENERATING transitions,
// invoking the EDI serializer, persisting generation history, and
// delivering the resulting file over SFTP with linear retry.
package filegen

import (
	"context"
	"time"
)

// DeliveryStatus is FileGenerationHistory's delivery lifecycle (§3).
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
	DeliveryRetry     DeliveryStatus = "RETRY"
)

// FileGenerationHistory is the produced-artifact record (§3).
type FileGenerationHistory struct {
	FileID         string
	BucketID       string
	PayerID        string
	FileName       string
	FilePath       string // remote SFTP destination path
	FileSizeBytes  int64
	ClaimCount     int64
	TotalAmount    int64 // cents
	Content        []byte
	GeneratedAt    time.Time
	DeliveryStatus DeliveryStatus
	DeliveredAt    *time.Time
	RetryCount     int
	ErrorMessage   string
}

// PayerConfig and PayeeConfig are the serializer/delivery inputs expanded
// from spec.md's "Payer/Payee record" configuration lookup (§3 expansion).
type PayerConfig struct {
	ID                   string
	Name                 string
	EDISenderID          string
	SFTPHost             string
	SFTPPort             int
	SFTPUsername         string
	SFTPPathTemplate     string
	SFTPEncryptedPassword string
	NamingTemplate       string
	IsActive             bool
}

type PayeeConfig struct {
	ID              string
	Name            string
	PharmacyNPI     string
	RemittanceEmail string
	IsActive        bool
}

// ConfigStore looks up Payer/Payee configuration for generation/delivery.
type ConfigStore interface {
	Payer(ctx context.Context, payerID string) (*PayerConfig, error)
	Payee(ctx context.Context, payeeID string) (*PayeeConfig, error)
}
