package bucket

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypoth/edi835/internal/db"
	"github.com/hypoth/edi835/pkg/ncpdp"
)

// ConfigStore reads the rule/threshold/commit-criteria/workflow-config
// tables that drive bucketing decisions. These are read-heavy, rarely
// mutated tables maintained outside the core (§1's Non-goals exclude the
// admin front end that would write them).
type ConfigStore interface {
	ActiveRules(ctx context.Context) ([]BucketingRule, error)
	ThresholdsForRule(ctx context.Context, ruleID string) ([]GenerationThreshold, error)
	CommitCriteriaForRule(ctx context.Context, ruleID string) (*CommitCriteria, error)
	WorkflowConfigForThreshold(ctx context.Context, thresholdID string) (*CheckPaymentWorkflowConfig, error)
	PayerExists(ctx context.Context, payerID string) (bool, error)
	PayeeExists(ctx context.Context, payeeID string) (bool, error)
}

// Store is the bucket aggregate's persistence contract.
type Store interface {
	FindOpenBucket(ctx context.Context, ruleID, payerID, payeeID, binNumber, pcnNumber string) (*Bucket, error)
	CreateBucket(ctx context.Context, b Bucket) (*Bucket, error)
	Get(ctx context.Context, bucketID string) (*Bucket, error)
	ListAccumulating(ctx context.Context) ([]Bucket, error)
	ListPendingApproval(ctx context.Context) ([]Bucket, error)

	// AddClaim is the idempotent (by claimId) aggregate update (§4.5).
	// It returns applied=false if claimId was already recorded against
	// bucketID.
	AddClaim(ctx context.Context, bucketID, claimID string, paidAmount int64, rejected bool) (applied bool, updated *Bucket, err error)

	// ClaimIDsForBucket lists the claim ids recorded against bucketID in
	// claim_processing_log, for C7's "claims-of-bucket" generation input.
	ClaimIDsForBucket(ctx context.Context, bucketID string) ([]string, error)

	// UpdateStatus performs a compare-and-set transition: it applies
	// mutate only if the bucket's current status is in fromStatuses, and
	// persists the result. Returns ok=false (no error) if the current
	// status did not match.
	UpdateStatus(ctx context.Context, bucketID string, fromStatuses []Status, mutate func(*Bucket)) (ok bool, updated *Bucket, err error)
}

// PostgresConfigStore implements ConfigStore.
type PostgresConfigStore struct{ dbtx db.DBTX }

// NewPostgresConfigStore builds a ConfigStore bound to dbtx.
func NewPostgresConfigStore(dbtx db.DBTX) *PostgresConfigStore { return &PostgresConfigStore{dbtx: dbtx} }

func (s *PostgresConfigStore) ActiveRules(ctx context.Context) ([]BucketingRule, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT id, rule_name, rule_type, priority, grouping_expression,
		       COALESCE(linked_payer_id, ''), COALESCE(linked_payee_id, ''), is_active
		FROM bucketing_rules WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("listing active bucketing rules: %w", err)
	}
	defer rows.Close()

	var out []BucketingRule
	for rows.Next() {
		var r BucketingRule
		if err := rows.Scan(&r.ID, &r.RuleName, &r.RuleType, &r.Priority, &r.GroupingExpression,
			&r.LinkedPayerID, &r.LinkedPayeeID, &r.IsActive); err != nil {
			return nil, fmt.Errorf("scanning bucketing_rules row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresConfigStore) ThresholdsForRule(ctx context.Context, ruleID string) ([]GenerationThreshold, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT id, threshold_name, threshold_type, max_claims, max_amount_cents, time_duration,
		       COALESCE(generation_schedule, ''), linked_bucketing_rule_id, is_active
		FROM generation_thresholds WHERE linked_bucketing_rule_id = $1 AND is_active = true`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("listing generation thresholds for rule %s: %w", ruleID, err)
	}
	defer rows.Close()

	var out []GenerationThreshold
	for rows.Next() {
		var t GenerationThreshold
		var maxAmountCents *int64
		if err := rows.Scan(&t.ID, &t.ThresholdName, &t.ThresholdType, &t.MaxClaims, &maxAmountCents,
			&t.TimeDuration, &t.GenerationSchedule, &t.LinkedBucketingRuleID, &t.IsActive); err != nil {
			return nil, fmt.Errorf("scanning generation_thresholds row: %w", err)
		}
		if maxAmountCents != nil {
			amt := ncpdp.Amount(*maxAmountCents)
			t.MaxAmount = &amt
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresConfigStore) CommitCriteriaForRule(ctx context.Context, ruleID string) (*CommitCriteria, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT commit_mode, auto_commit_threshold, manual_approval_threshold,
		       approval_required_roles, override_permissions, linked_bucketing_rule_id, is_active
		FROM commit_criteria WHERE linked_bucketing_rule_id = $1 AND is_active = true LIMIT 1`, ruleID)

	var cc CommitCriteria
	if err := row.Scan(&cc.CommitMode, &cc.AutoCommitThreshold, &cc.ManualApprovalThreshold,
		&cc.ApprovalRequiredRoles, &cc.OverridePermissions, &cc.LinkedBucketingRuleID, &cc.IsActive); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching commit criteria for rule %s: %w", ruleID, err)
	}
	return &cc, nil
}

func (s *PostgresConfigStore) WorkflowConfigForThreshold(ctx context.Context, thresholdID string) (*CheckPaymentWorkflowConfig, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT workflow_mode, assignment_mode, require_acknowledgment, linked_threshold_id
		FROM check_payment_workflow_configs WHERE linked_threshold_id = $1 LIMIT 1`, thresholdID)

	var cfg CheckPaymentWorkflowConfig
	if err := row.Scan(&cfg.WorkflowMode, &cfg.AssignmentMode, &cfg.RequireAcknowledgment, &cfg.LinkedThresholdID); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching workflow config for threshold %s: %w", thresholdID, err)
	}
	return &cfg, nil
}

func (s *PostgresConfigStore) PayerExists(ctx context.Context, payerID string) (bool, error) {
	return exists(ctx, s.dbtx, "payers", payerID)
}

func (s *PostgresConfigStore) PayeeExists(ctx context.Context, payeeID string) (bool, error) {
	return exists(ctx, s.dbtx, "payees", payeeID)
}

func exists(ctx context.Context, dbtx db.DBTX, table, id string) (bool, error) {
	var found bool
	row := dbtx.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1 AND is_active = true)`, table), id)
	if err := row.Scan(&found); err != nil {
		return false, fmt.Errorf("checking existence in %s: %w", table, err)
	}
	return found, nil
}

// PostgresStore implements Store against the buckets/claim_processing_log
// tables.
type PostgresStore struct{ dbtx db.DBTX }

// NewPostgresStore builds a Store bound to dbtx.
func NewPostgresStore(dbtx db.DBTX) *PostgresStore { return &PostgresStore{dbtx: dbtx} }

const bucketColumns = `
	bucket_id, status, bucketing_rule_id, payer_id, payee_id,
	COALESCE(bin_number, ''), COALESCE(pcn_number, ''),
	claim_count, total_amount_cents, rejection_count,
	created_at, last_updated, awaiting_approval_since, approved_at,
	COALESCE(approved_by, ''), generation_started_at, generation_completed_at,
	COALESCE(pre_generating_status, '')`

func scanBucket(row interface {
	Scan(dest ...any) error
}) (*Bucket, error) {
	var b Bucket
	var totalCents int64
	var preStatus string
	if err := row.Scan(&b.BucketID, &b.Status, &b.BucketingRuleID, &b.PayerID, &b.PayeeID,
		&b.BinNumber, &b.PcnNumber, &b.ClaimCount, &totalCents, &b.RejectionCount,
		&b.CreatedAt, &b.LastUpdated, &b.AwaitingApprovalSince, &b.ApprovedAt,
		&b.ApprovedBy, &b.GenerationStartedAt, &b.GenerationCompletedAt, &preStatus); err != nil {
		return nil, err
	}
	b.TotalAmount = ncpdp.Amount(totalCents)
	b.PreGeneratingStatus = Status(preStatus)
	return &b, nil
}

func (s *PostgresStore) FindOpenBucket(ctx context.Context, ruleID, payerID, payeeID, binNumber, pcnNumber string) (*Bucket, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT `+bucketColumns+`
		FROM buckets
		WHERE bucketing_rule_id = $1 AND payer_id = $2 AND payee_id = $3
		  AND COALESCE(bin_number, '') = $4 AND COALESCE(pcn_number, '') = $5
		  AND status = 'ACCUMULATING'
		ORDER BY created_at DESC LIMIT 1`, ruleID, payerID, payeeID, binNumber, pcnNumber)

	b, err := scanBucket(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding open bucket: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) CreateBucket(ctx context.Context, b Bucket) (*Bucket, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO buckets (
			bucket_id, status, bucketing_rule_id, payer_id, payee_id, bin_number, pcn_number,
			claim_count, total_amount_cents, rejection_count, created_at, last_updated
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), 0, 0, 0, now(), now())
		RETURNING `+bucketColumns,
		b.BucketID, StatusAccumulating, b.BucketingRuleID, b.PayerID, b.PayeeID, b.BinNumber, b.PcnNumber)

	created, err := scanBucket(row)
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) Get(ctx context.Context, bucketID string) (*Bucket, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE bucket_id = $1`, bucketID)
	b, err := scanBucket(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching bucket %s: %w", bucketID, err)
	}
	return b, nil
}

func (s *PostgresStore) listByStatus(ctx context.Context, status Status) ([]Bucket, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("listing buckets in status %s: %w", status, err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bucket row: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAccumulating(ctx context.Context) ([]Bucket, error) {
	return s.listByStatus(ctx, StatusAccumulating)
}

func (s *PostgresStore) ListPendingApproval(ctx context.Context) ([]Bucket, error) {
	return s.listByStatus(ctx, StatusPendingApproval)
}

// AddClaim records claimID against bucketID in claim_processing_log (the
// idempotency key) and, only on first insertion, increments the bucket's
// rollups. A unique constraint on (bucket_id, claim_id) makes the insert
// itself the idempotency check: ON CONFLICT DO NOTHING plus a rowcount read
// tells us whether this call actually applied.
func (s *PostgresStore) AddClaim(ctx context.Context, bucketID, claimID string, paidAmount int64, rejected bool) (bool, *Bucket, error) {
	tag, err := s.dbtx.Exec(ctx, `
		INSERT INTO claim_processing_log (bucket_id, claim_id, paid_amount_cents, rejected, recorded_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (bucket_id, claim_id) DO NOTHING`, bucketID, claimID, paidAmount, rejected)
	if err != nil {
		return false, nil, fmt.Errorf("recording claim %s against bucket %s: %w", claimID, bucketID, err)
	}
	if tag.RowsAffected() == 0 {
		b, err := s.Get(ctx, bucketID)
		return false, b, err
	}

	rejectedDelta := int64(0)
	if rejected {
		rejectedDelta = 1
	}
	row := s.dbtx.QueryRow(ctx, `
		UPDATE buckets
		SET claim_count = claim_count + 1,
		    total_amount_cents = total_amount_cents + $2,
		    rejection_count = rejection_count + $3,
		    last_updated = now()
		WHERE bucket_id = $1
		RETURNING `+bucketColumns, bucketID, paidAmount, rejectedDelta)

	updated, err := scanBucket(row)
	if err != nil {
		return false, nil, fmt.Errorf("updating bucket %s rollups: %w", bucketID, err)
	}
	return true, updated, nil
}

func (s *PostgresStore) ClaimIDsForBucket(ctx context.Context, bucketID string) ([]string, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT claim_id FROM claim_processing_log
		WHERE bucket_id = $1 AND rejected = false
		ORDER BY recorded_at`, bucketID)
	if err != nil {
		return nil, fmt.Errorf("listing claim ids for bucket %s: %w", bucketID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning claim_processing_log row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpdateStatus performs a compare-and-set state transition: mutate runs
// against the in-memory bucket only if its current persisted status is
// among fromStatuses, and the write is an UPDATE ... WHERE status = ANY(...)
// so that, of concurrent transition attempts on the same bucket, only one
// can succeed (the bucket-level lock in lock.go additionally serializes the
// surrounding business logic).
func (s *PostgresStore) UpdateStatus(ctx context.Context, bucketID string, fromStatuses []Status, mutate func(*Bucket)) (bool, *Bucket, error) {
	current, err := s.Get(ctx, bucketID)
	if err != nil {
		return false, nil, err
	}
	if current == nil {
		return false, nil, fmt.Errorf("bucket %s not found", bucketID)
	}

	allowed := false
	for _, st := range fromStatuses {
		if current.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, current, nil
	}

	next := *current
	mutate(&next)

	row := s.dbtx.QueryRow(ctx, `
		UPDATE buckets
		SET status = $2, awaiting_approval_since = $3, approved_at = $4, approved_by = NULLIF($5, ''),
		    generation_started_at = $6, generation_completed_at = $7,
		    pre_generating_status = NULLIF($8, ''), last_updated = now()
		WHERE bucket_id = $1 AND status = ANY($9)
		RETURNING `+bucketColumns,
		bucketID, next.Status, next.AwaitingApprovalSince, next.ApprovedAt, next.ApprovedBy,
		next.GenerationStartedAt, next.GenerationCompletedAt, string(next.PreGeneratingStatus), pgStatusList(fromStatuses))

	updated, err := scanBucket(row)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return false, current, nil
		}
		return false, nil, fmt.Errorf("updating bucket %s status: %w", bucketID, err)
	}
	return true, updated, nil
}

func pgStatusList(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
