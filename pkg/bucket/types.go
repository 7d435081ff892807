// Package bucket implements the bucket aggregator (C5) and bucket state
// machine (C6): rule selection, claim accumulation, threshold evaluation,
// approval/rejection, payment gating, and BucketStatusChange publication.
package bucket

import (
	"time"

	"github.com/hypoth/edi835/pkg/ncpdp"
)

// RuleType selects how a BucketingRule matches claims (§3).
type RuleType string

const (
	RuleTypePayerPayee RuleType = "PAYER_PAYEE"
	RuleTypeBinPcn     RuleType = "BIN_PCN"
	RuleTypeCustom     RuleType = "CUSTOM"
)

// BucketingRule is the selection criteria for routing a claim into a bucket.
type BucketingRule struct {
	ID                 string
	RuleName           string
	RuleType           RuleType
	Priority           int
	GroupingExpression string
	LinkedPayerID      string
	LinkedPayeeID      string
	IsActive           bool
}

// ThresholdType classifies a GenerationThreshold's trigger condition.
type ThresholdType string

const (
	ThresholdClaimCount ThresholdType = "CLAIM_COUNT"
	ThresholdAmount     ThresholdType = "AMOUNT"
	ThresholdTime       ThresholdType = "TIME"
	ThresholdHybrid     ThresholdType = "HYBRID"
)

// TimeDuration is the calendar rollover unit for TIME/HYBRID thresholds.
type TimeDuration string

const (
	TimeDurationDaily    TimeDuration = "DAILY"
	TimeDurationWeekly   TimeDuration = "WEEKLY"
	TimeDurationBiweekly TimeDuration = "BIWEEKLY"
	TimeDurationMonthly  TimeDuration = "MONTHLY"
)

// GenerationThreshold is a per-rule trigger (§3).
type GenerationThreshold struct {
	ID                     string
	ThresholdName          string
	ThresholdType          ThresholdType
	MaxClaims              *int64
	MaxAmount              *ncpdp.Amount
	TimeDuration           *TimeDuration
	GenerationSchedule     string
	LinkedBucketingRuleID  string
	IsActive               bool
}

// CommitMode maps a threshold firing to a generation or approval path.
type CommitMode string

const (
	CommitModeAuto   CommitMode = "AUTO"
	CommitModeManual CommitMode = "MANUAL"
	CommitModeHybrid CommitMode = "HYBRID"
)

// CommitCriteria is a per-rule approval policy (§3).
type CommitCriteria struct {
	CommitMode               CommitMode
	AutoCommitThreshold      *int64
	ManualApprovalThreshold  *int64
	ApprovalRequiredRoles    []string
	OverridePermissions      []string
	LinkedBucketingRuleID    string
	IsActive                 bool
}

// WorkflowMode controls whether a threshold requires a check payment before
// generation.
type WorkflowMode string

const (
	WorkflowModeNone     WorkflowMode = "NONE"
	WorkflowModeSeparate WorkflowMode = "SEPARATE"
	WorkflowModeCombined WorkflowMode = "COMBINED"
)

// AssignmentMode controls how a gated check payment may be assigned.
type AssignmentMode string

const (
	AssignmentModeManual AssignmentMode = "MANUAL"
	AssignmentModeAuto   AssignmentMode = "AUTO"
	AssignmentModeBoth   AssignmentMode = "BOTH"
)

// CheckPaymentWorkflowConfig is a per-threshold payment gate (§3).
type CheckPaymentWorkflowConfig struct {
	WorkflowMode          WorkflowMode
	AssignmentMode        AssignmentMode
	RequireAcknowledgment bool
	LinkedThresholdID     string
}

// Status is the bucket lifecycle status (§3, §4.6).
type Status string

const (
	StatusAccumulating          Status = "ACCUMULATING"
	StatusPendingApproval       Status = "PENDING_APPROVAL"
	StatusGenerating            Status = "GENERATING"
	StatusCompleted             Status = "COMPLETED"
	StatusFailed                Status = "FAILED"
	StatusMissingConfiguration  Status = "MISSING_CONFIGURATION"
)

// Bucket is the accumulation target for a payer/payee (and optional
// BIN/PCN) scoped set of claims (§3).
type Bucket struct {
	BucketID               string
	Status                 Status
	BucketingRuleID        string
	PayerID                string
	PayeeID                string
	BinNumber              string
	PcnNumber              string
	ClaimCount             int64
	TotalAmount            ncpdp.Amount
	RejectionCount         int64
	CreatedAt              time.Time
	LastUpdated            time.Time
	AwaitingApprovalSince  *time.Time
	ApprovedAt             *time.Time
	ApprovedBy             string
	GenerationStartedAt    *time.Time
	GenerationCompletedAt  *time.Time
	PreGeneratingStatus    Status // remembered so MISSING_CONFIGURATION can be reverted (§4.6)
}

// StatusChange is published to the event bus on every bucket transition
// (§4.6).
type StatusChange struct {
	Bucket         Bucket
	PreviousStatus Status
	NewStatus      Status
}

// EventType is the eventbus.Bus topic name used for StatusChange.
const EventType = "bucket.status_change"
