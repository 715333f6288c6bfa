package decision

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
)

func pendingVerification() *domain.Verification {
	return &domain.Verification{
		ID:            "ver-001",
		TenantID:      "tenant-001",
		CustomerPhone: "+250788123456",
		SubmittedTxID: "TX123456789",
		Status:        domain.VerificationPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func matched() *domain.MatchResult {
	return &domain.MatchResult{
		Payment:    &domain.Payment{ID: "pay-001", TenantID: "tenant-001"},
		Confidence: 1.0,
	}
}

func TestStatus(t *testing.T) {
	proc := NewProcessor()

	tests := []struct {
		score float64
		want  domain.VerificationStatus
	}{
		{0, domain.VerificationVerified},
		{0.69, domain.VerificationVerified},
		{0.7, domain.VerificationSuspicious},
		{0.89, domain.VerificationSuspicious},
		{0.9, domain.VerificationManualReview},
		{1, domain.VerificationManualReview},
	}
	for _, tt := range tests {
		if got := proc.Status(tt.score); got != tt.want {
			t.Errorf("Status(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestProcessor(t *testing.T) {
	proc := NewProcessor()
	ctx := context.Background()

	t.Run("Verified", func(t *testing.T) {
		d := proc.Process(ctx, &Input{
			Verification: pendingVerification(),
			Match:        matched(),
			MatchMethod:  domain.MatchExact,
			Verdict:      &domain.RiskVerdict{Score: 0.09, Tier: domain.TierMinimal, ViolatedRules: []string{}},
			TraceID:      "trace-001",
			StartTime:    time.Now(),
		})

		if d.Verification.Status != domain.VerificationVerified {
			t.Errorf("expected verified, got %s", d.Verification.Status)
		}
		if d.Verification.VerifiedAt == nil {
			t.Error("expected VerifiedAt to be set")
		}
		if d.PaymentStatus != domain.PaymentVerified {
			t.Errorf("expected payment verified, got %s", d.PaymentStatus)
		}
		if d.FraudLog != nil {
			t.Error("expected no fraud log")
		}
		if ShouldAlert(d) {
			t.Error("verified claims must not alert")
		}
		if d.Response.Message != MessageVerified || d.Response.PaymentID != "pay-001" {
			t.Errorf("unexpected response %+v", d.Response)
		}
		if d.Response.Metadata.TraceID != "trace-001" || d.Response.Metadata.EngineVersion != EngineVersion {
			t.Errorf("unexpected metadata %+v", d.Response.Metadata)
		}
	})

	t.Run("Suspicious", func(t *testing.T) {
		in := pendingVerification()
		d := proc.Process(ctx, &Input{
			Verification: in,
			Match:        matched(),
			MatchMethod:  domain.MatchFuzzy,
			Verdict:      &domain.RiskVerdict{Score: 0.75, Tier: domain.TierMedium, ViolatedRules: []string{domain.RulePhoneMismatch}},
		})

		if d.Verification.Status != domain.VerificationSuspicious {
			t.Errorf("expected suspicious, got %s", d.Verification.Status)
		}
		if d.Verification.VerifiedAt != nil {
			t.Error("suspicious claims are not verified")
		}
		if d.PaymentStatus != domain.PaymentSuspicious {
			t.Errorf("expected payment suspicious, got %s", d.PaymentStatus)
		}
		if !ShouldAlert(d) {
			t.Error("expected alert")
		}
		if d.FraudLog == nil || d.FraudLog.VerificationID != "ver-001" || d.FraudLog.FraudType != FraudTypeRuleViolations {
			t.Errorf("unexpected fraud log %+v", d.FraudLog)
		}
		if d.Response.Message != "Transaction flagged as medium risk" {
			t.Errorf("unexpected message %q", d.Response.Message)
		}
		if in.Status != domain.VerificationPending {
			t.Error("input verification must not be modified")
		}
	})

	t.Run("ManualReview", func(t *testing.T) {
		d := proc.Process(ctx, &Input{
			Verification: pendingVerification(),
			Match:        matched(),
			Verdict:      &domain.RiskVerdict{Score: 0.95, Tier: domain.TierHigh, ViolatedRules: []string{domain.RuleTxIDMismatch}},
		})
		if d.Verification.Status != domain.VerificationManualReview {
			t.Errorf("expected manual_review, got %s", d.Verification.Status)
		}
		if d.PaymentStatus != domain.PaymentManualReview {
			t.Errorf("expected payment manual_review, got %s", d.PaymentStatus)
		}
	})

	t.Run("AlreadyClaimed", func(t *testing.T) {
		m := matched()
		m.Payment.Status = domain.PaymentVerified
		d := proc.Process(ctx, &Input{
			Verification: pendingVerification(),
			Match:        m,
			MatchMethod:  domain.MatchExact,
			Verdict:      &domain.RiskVerdict{Score: 0.1, Tier: domain.TierMinimal, ViolatedRules: []string{}},
		})
		if d.Verification.Status != domain.VerificationManualReview {
			t.Errorf("expected manual_review, got %s", d.Verification.Status)
		}
		if d.Verification.VerifiedAt != nil {
			t.Error("a second claim must not be verified")
		}
		if d.PaymentStatus != domain.PaymentVerified {
			t.Errorf("payment status must be kept, got %s", d.PaymentStatus)
		}
		if d.Response.Message != MessageAlreadyClaimed {
			t.Errorf("unexpected message %q", d.Response.Message)
		}
		if !ShouldAlert(d) {
			t.Error("expected alert")
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		d := proc.NoMatch(ctx, &Input{
			Verification: pendingVerification(),
			Match: &domain.MatchResult{
				Confidence:  0.6,
				Suggestions: []domain.Suggestion{{PaymentID: "pay-009", Confidence: 0.6}},
			},
		})
		if d.Verification.Status != domain.VerificationFailed {
			t.Errorf("expected failed, got %s", d.Verification.Status)
		}
		if d.Response.Message != MessageNoMatch {
			t.Errorf("unexpected message %q", d.Response.Message)
		}
		if len(d.Response.Suggestions) != 1 {
			t.Errorf("expected suggestions to be passed through, got %v", d.Response.Suggestions)
		}
		if d.PaymentStatus != "" {
			t.Errorf("no payment to update, got %s", d.PaymentStatus)
		}
		if ShouldAlert(d) {
			t.Error("failed claims do not alert")
		}
	})
}

func TestFromConfig(t *testing.T) {
	proc := FromConfig(domain.VerifyConfig{FraudThreshold: 0.5})
	if proc.FraudThreshold != 0.5 || proc.ManualReviewThreshold != 0.9 {
		t.Errorf("unexpected thresholds %+v", proc)
	}
}
