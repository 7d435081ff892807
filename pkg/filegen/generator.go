package filegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hypoth/edi835/internal/auditlog"
	"github.com/hypoth/edi835/internal/telemetry"
	"github.com/hypoth/edi835/pkg/bucket"
	"github.com/hypoth/edi835/pkg/claim"
	"github.com/hypoth/edi835/pkg/eventbus"

	"github.com/google/uuid"
)

// Generator is C7's generation half: it reacts to bucket.EventType events
// carrying a transition into GENERATING, serializes the bucket, and records
// a FileGenerationHistory row (§4.7).
type Generator struct {
	buckets    bucket.Store
	claims     claim.Store
	configs    ConfigStore
	history    Store
	serializer Serializer
	machine    *bucket.StateMachine
	audit      *auditlog.Writer
	logger     *slog.Logger
}

// NewGenerator wires Generator's collaborators.
func NewGenerator(buckets bucket.Store, claims claim.Store, configs ConfigStore, history Store, serializer Serializer, machine *bucket.StateMachine, audit *auditlog.Writer, logger *slog.Logger) *Generator {
	return &Generator{
		buckets: buckets, claims: claims, configs: configs, history: history,
		serializer: serializer, machine: machine, audit: audit, logger: logger,
	}
}

// Subscribe registers the generation handler on bus. Call before bus.Run.
func (g *Generator) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(bucket.EventType, g.handleStatusChange)
}

func (g *Generator) handleStatusChange(ctx context.Context, event any) error {
	change, ok := event.(bucket.StatusChange)
	if !ok {
		return fmt.Errorf("filegen: unexpected event payload type %T", event)
	}
	if change.NewStatus != bucket.StatusGenerating {
		return nil
	}
	return g.Generate(ctx, change.Bucket.BucketID)
}

// Generate re-reads the bucket (guarding against a stale event payload),
// serializes it, and records the resulting FileGenerationHistory. It marks
// the bucket COMPLETED on success or FAILED if the serializer errors (§4.7's
// failure classification).
func (g *Generator) Generate(ctx context.Context, bucketID string) error {
	b, err := g.buckets.Get(ctx, bucketID)
	if err != nil {
		return fmt.Errorf("re-fetching bucket %s for generation: %w", bucketID, err)
	}
	if b == nil || b.Status != bucket.StatusGenerating {
		g.logger.Info("skipping generation, bucket left GENERATING before pickup", "bucket_id", bucketID)
		return nil
	}

	payer, payee, err := g.loadConfig(ctx, *b)
	if err != nil {
		var mc *bucket.MissingConfigurationError
		if errors.As(err, &mc) {
			return nil // the state machine already moved the bucket to MISSING_CONFIGURATION
		}
		return err
	}

	claims, err := g.loadClaims(ctx, bucketID)
	if err != nil {
		return fmt.Errorf("loading claims for bucket %s: %w", bucketID, err)
	}

	fileName, content, err := g.serializer.Serialize(*b, claims, *payer, *payee, payer.NamingTemplate)
	if err != nil {
		telemetry.FileGenAttemptsTotal.WithLabelValues("serialize_failed").Inc()
		g.logger.Error("serializer failed, failing bucket", "bucket_id", bucketID, "error", err)
		if markErr := g.machine.MarkFailed(ctx, bucketID, err); markErr != nil {
			return fmt.Errorf("marking bucket %s failed after serializer error: %w", bucketID, markErr)
		}
		return nil
	}

	remotePath := renderRemotePath(payer.SFTPPathTemplate, fileName)
	created, err := g.history.Create(ctx, FileGenerationHistory{
		FileID:        uuid.NewString(),
		BucketID:      bucketID,
		PayerID:       payer.ID,
		FileName:      fileName,
		FilePath:      remotePath,
		FileSizeBytes: int64(len(content)),
		ClaimCount:    int64(len(claims)),
		TotalAmount:   int64(b.TotalAmount),
		Content:       content,
	})
	if err != nil {
		return fmt.Errorf("recording file generation history for bucket %s: %w", bucketID, err)
	}

	if err := g.machine.MarkCompleted(ctx, bucketID); err != nil {
		return fmt.Errorf("marking bucket %s completed: %w", bucketID, err)
	}
	telemetry.FileGenAttemptsTotal.WithLabelValues("success").Inc()

	entityID, _ := uuid.Parse(bucketID)
	g.audit.Log(auditlog.Entry{
		EntityType: "bucket", EntityID: entityID, Action: "FILE_GENERATED",
		Detail: map[string]any{"file_id": created.FileID, "file_name": fileName, "claim_count": len(claims)},
	})
	return nil
}

func (g *Generator) loadConfig(ctx context.Context, b bucket.Bucket) (*PayerConfig, *PayeeConfig, error) {
	payer, err := g.configs.Payer(ctx, b.PayerID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading payer config %s: %w", b.PayerID, err)
	}
	if payer == nil {
		return nil, nil, g.machine.ReportMissingConfiguration(ctx, b.BucketID, bucket.ConfigKindPayer, b.PayerID)
	}
	payee, err := g.configs.Payee(ctx, b.PayeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading payee config %s: %w", b.PayeeID, err)
	}
	if payee == nil {
		return nil, nil, g.machine.ReportMissingConfiguration(ctx, b.BucketID, bucket.ConfigKindPayee, b.PayeeID)
	}
	return payer, payee, nil
}

func (g *Generator) loadClaims(ctx context.Context, bucketID string) ([]claim.Claim, error) {
	ids, err := g.buckets.ClaimIDsForBucket(ctx, bucketID)
	if err != nil {
		return nil, err
	}
	return g.claims.ListByIDs(ctx, ids)
}

func renderRemotePath(pathTemplate, fileName string) string {
	if pathTemplate == "" {
		return fileName
	}
	return pathTemplate + "/" + fileName
}
