package bucket

import (
	"sort"
	"time"

	"github.com/hypoth/edi835/pkg/claim"
)

// SelectRule evaluates active rules in priority-descending order and
// returns the first whose predicate matches claim c; if none match, the
// lowest-priority active rule is the default. Returns ok=false if no
// active rules exist at all (§4.5).
func SelectRule(rules []BucketingRule, c *claim.Claim) (rule BucketingRule, ok bool) {
	active := make([]BucketingRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return BucketingRule{}, false
	}

	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })

	for _, r := range active {
		if matches(r, c) {
			return r, true
		}
	}

	return active[len(active)-1], true
}

func matches(r BucketingRule, c *claim.Claim) bool {
	switch r.RuleType {
	case RuleTypePayerPayee:
		return true
	case RuleTypeBinPcn:
		return c.BinNumber != ""
	case RuleTypeCustom:
		// The source never defines a groupingExpression grammar; treated
		// as always-true until a DSL is specified (§9 open question 1).
		return true
	default:
		return false
	}
}

// EvaluateThreshold reports whether b has crossed t as of now, per §4.6's
// per-type rules.
func EvaluateThreshold(t GenerationThreshold, b Bucket, now time.Time) bool {
	switch t.ThresholdType {
	case ThresholdClaimCount:
		return t.MaxClaims != nil && b.ClaimCount >= *t.MaxClaims
	case ThresholdAmount:
		return t.MaxAmount != nil && b.TotalAmount >= *t.MaxAmount
	case ThresholdTime:
		return timeBoundaryCrossed(t, b, now)
	case ThresholdHybrid:
		countOK := t.MaxClaims == nil || b.ClaimCount >= *t.MaxClaims
		amountOK := t.MaxAmount == nil || b.TotalAmount >= *t.MaxAmount
		timeOK := t.TimeDuration == nil || timeBoundaryCrossed(t, b, now)
		return countOK && amountOK && timeOK
	default:
		return false
	}
}

// timeBoundaryCrossed reports whether the calendar boundary named by
// t.TimeDuration has elapsed since b was created. Boundaries are computed
// with calendar arithmetic (time.Time.AddDate) rather than fixed
// durations, so they keep the creation wall-clock time across DST
// transitions. A "monthly" boundary is the same day of the next month;
// when that day does not exist, AddDate normalizes it into the following
// month (a bucket created on January 31 rolls over on March 2 or 3).
func timeBoundaryCrossed(t GenerationThreshold, b Bucket, now time.Time) bool {
	if t.TimeDuration == nil {
		return false
	}
	var boundary time.Time
	switch *t.TimeDuration {
	case TimeDurationDaily:
		boundary = b.CreatedAt.AddDate(0, 0, 1)
	case TimeDurationWeekly:
		boundary = b.CreatedAt.AddDate(0, 0, 7)
	case TimeDurationBiweekly:
		boundary = b.CreatedAt.AddDate(0, 0, 14)
	case TimeDurationMonthly:
		boundary = b.CreatedAt.AddDate(0, 1, 0)
	default:
		return false
	}
	return !now.Before(boundary)
}

// DecideCommitAction is consulted once a threshold fires (§4.6): AUTO
// transitions straight to GENERATING (subject to the payment gate); MANUAL
// goes to PENDING_APPROVAL; HYBRID picks AUTO under the claim-count
// threshold and PENDING_APPROVAL otherwise.
func DecideCommitAction(cc CommitCriteria, b Bucket) Status {
	switch cc.CommitMode {
	case CommitModeAuto:
		return StatusGenerating
	case CommitModeManual:
		return StatusPendingApproval
	case CommitModeHybrid:
		if cc.AutoCommitThreshold != nil && b.ClaimCount < *cc.AutoCommitThreshold {
			return StatusGenerating
		}
		return StatusPendingApproval
	default:
		return StatusPendingApproval
	}
}
