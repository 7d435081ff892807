package bucket

import (
	"testing"
	"time"

	"github.com/hypoth/edi835/pkg/claim"
	"github.com/hypoth/edi835/pkg/ncpdp"
)

func TestSelectRule_HighestPriorityMatchWins(t *testing.T) {
	rules := []BucketingRule{
		{ID: "low", RuleType: RuleTypePayerPayee, Priority: 0, IsActive: true},
		{ID: "high", RuleType: RuleTypeBinPcn, Priority: 10, IsActive: true},
	}
	c := &claim.Claim{BinNumber: "610020"}

	r, ok := SelectRule(rules, c)
	if !ok || r.ID != "high" {
		t.Fatalf("got rule %+v ok=%v, want high", r, ok)
	}
}

func TestSelectRule_FallsBackToLowestPriorityWhenNoMatch(t *testing.T) {
	rules := []BucketingRule{
		{ID: "default", RuleType: RuleTypePayerPayee, Priority: 0, IsActive: true},
		{ID: "bin-only", RuleType: RuleTypeBinPcn, Priority: 10, IsActive: true},
	}
	c := &claim.Claim{} // no BinNumber, so the BIN_PCN rule never matches

	r, ok := SelectRule(rules, c)
	if !ok || r.ID != "default" {
		t.Fatalf("got rule %+v ok=%v, want default (lowest priority)", r, ok)
	}
}

func TestSelectRule_NoActiveRulesReturnsNotOK(t *testing.T) {
	rules := []BucketingRule{{ID: "inactive", IsActive: false}}
	_, ok := SelectRule(rules, &claim.Claim{})
	if ok {
		t.Fatal("expected ok=false when no active rules exist")
	}
}

func TestEvaluateThreshold_ClaimCount(t *testing.T) {
	max := int64(2)
	th := GenerationThreshold{ThresholdType: ThresholdClaimCount, MaxClaims: &max}

	if EvaluateThreshold(th, Bucket{ClaimCount: 1}, time.Now()) {
		t.Fatal("expected false below threshold")
	}
	if !EvaluateThreshold(th, Bucket{ClaimCount: 2}, time.Now()) {
		t.Fatal("expected true at threshold")
	}
}

func TestEvaluateThreshold_Amount(t *testing.T) {
	max := ncpdp.Amount(10000)
	th := GenerationThreshold{ThresholdType: ThresholdAmount, MaxAmount: &max}

	if EvaluateThreshold(th, Bucket{TotalAmount: 9999}, time.Now()) {
		t.Fatal("expected false below threshold")
	}
	if !EvaluateThreshold(th, Bucket{TotalAmount: 10000}, time.Now()) {
		t.Fatal("expected true at threshold")
	}
}

func TestEvaluateThreshold_TimeDailyBoundary(t *testing.T) {
	daily := TimeDurationDaily
	th := GenerationThreshold{ThresholdType: ThresholdTime, TimeDuration: &daily}
	created := time.Now().Add(-25 * time.Hour)

	if !EvaluateThreshold(th, Bucket{CreatedAt: created}, time.Now()) {
		t.Fatal("expected daily boundary crossed after 25h")
	}
	if EvaluateThreshold(th, Bucket{CreatedAt: time.Now().Add(-1 * time.Hour)}, time.Now()) {
		t.Fatal("expected daily boundary not crossed after 1h")
	}
}

func TestEvaluateThreshold_Hybrid(t *testing.T) {
	max := int64(5)
	amt := ncpdp.Amount(1000)
	th := GenerationThreshold{ThresholdType: ThresholdHybrid, MaxClaims: &max, MaxAmount: &amt}

	if EvaluateThreshold(th, Bucket{ClaimCount: 5, TotalAmount: 999}, time.Now()) {
		t.Fatal("hybrid requires every specified condition")
	}
	if !EvaluateThreshold(th, Bucket{ClaimCount: 5, TotalAmount: 1000}, time.Now()) {
		t.Fatal("hybrid should fire once all specified conditions hold")
	}
}

func TestDecideCommitAction(t *testing.T) {
	if got := DecideCommitAction(CommitCriteria{CommitMode: CommitModeAuto}, Bucket{}); got != StatusGenerating {
		t.Fatalf("AUTO: got %s, want GENERATING", got)
	}
	if got := DecideCommitAction(CommitCriteria{CommitMode: CommitModeManual}, Bucket{}); got != StatusPendingApproval {
		t.Fatalf("MANUAL: got %s, want PENDING_APPROVAL", got)
	}

	threshold := int64(3)
	hybrid := CommitCriteria{CommitMode: CommitModeHybrid, AutoCommitThreshold: &threshold}
	if got := DecideCommitAction(hybrid, Bucket{ClaimCount: 2}); got != StatusGenerating {
		t.Fatalf("HYBRID under threshold: got %s, want GENERATING", got)
	}
	if got := DecideCommitAction(hybrid, Bucket{ClaimCount: 3}); got != StatusPendingApproval {
		t.Fatalf("HYBRID at/over threshold: got %s, want PENDING_APPROVAL", got)
	}
}
