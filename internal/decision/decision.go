// Package decision turns match and risk results into a verification outcome.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/momoguard/internal/domain"
)

// EngineVersion is reported in verification metadata.
const EngineVersion = "momoguard-1.0"

// FraudTypeRuleViolations tags fraud logs written for fired rules.
const FraudTypeRuleViolations = "rule_violations"

// Messages returned to the claimant.
const (
	MessageVerified       = "Payment verified"
	MessageNoMatch        = "No matching transaction found"
	MessageAlreadyClaimed = "Payment was already claimed"
)

// Processor maps verdicts to verification statuses.
type Processor struct {
	// Scores at or above FraudThreshold are not verified.
	FraudThreshold float64

	// Scores at or above ManualReviewThreshold go to a human.
	ManualReviewThreshold float64
}

// NewProcessor creates a processor with default thresholds.
func NewProcessor() *Processor {
	return &Processor{
		FraudThreshold:        0.7,
		ManualReviewThreshold: 0.9,
	}
}

// FromConfig creates a processor from verification settings.
func FromConfig(cfg domain.VerifyConfig) *Processor {
	p := NewProcessor()
	if cfg.FraudThreshold > 0 {
		p.FraudThreshold = cfg.FraudThreshold
	}
	if cfg.ManualReviewThreshold > 0 {
		p.ManualReviewThreshold = cfg.ManualReviewThreshold
	}
	return p
}

// Input contains all data needed for a decision.
type Input struct {
	Verification *domain.Verification
	Match        *domain.MatchResult
	MatchMethod  string
	Verdict      *domain.RiskVerdict
	TraceID      string
	StartTime    time.Time
	MatchMs      int64
	ScoreMs      int64
	PoolSize     int
	HistorySize  int
	CustomRules  int
}

// Decision is everything the caller persists and returns.
type Decision struct {
	Verification  *domain.Verification
	PaymentStatus domain.PaymentStatus
	FraudLog      *domain.FraudLog
	Response      *domain.VerificationResponse
}

// Status maps a fraud score to a verification status.
func (p *Processor) Status(score float64) domain.VerificationStatus {
	switch {
	case score >= p.ManualReviewThreshold:
		return domain.VerificationManualReview
	case score >= p.FraudThreshold:
		return domain.VerificationSuspicious
	default:
		return domain.VerificationVerified
	}
}

// Process decides a claim that matched a payment.
func (p *Processor) Process(ctx context.Context, input *Input) *Decision {
	v := *input.Verification
	verdict := input.Verdict
	payment := input.Match.Payment
	now := time.Now().UTC()

	v.PaymentID = payment.ID
	v.MatchMethod = input.MatchMethod
	v.MatchConfidence = input.Match.Confidence
	v.FraudScore = verdict.Score
	v.RiskTier = verdict.Tier
	v.ViolatedRules = verdict.ViolatedRules
	v.Status = p.Status(verdict.Score)

	message := MessageVerified
	paymentStatus := domain.PaymentVerified
	switch v.Status {
	case domain.VerificationVerified:
		v.VerifiedAt = &now
	case domain.VerificationSuspicious:
		paymentStatus = domain.PaymentSuspicious
		message = fmt.Sprintf("Transaction flagged as %s risk", strings.ToLower(string(verdict.Tier)))
	case domain.VerificationManualReview:
		paymentStatus = domain.PaymentManualReview
		message = fmt.Sprintf("Transaction flagged as %s risk", strings.ToLower(string(verdict.Tier)))
	}

	// A payment settles one claim. A second clean claim on it goes to a human
	// and the payment keeps its status.
	if claimed(payment) && v.Status == domain.VerificationVerified {
		v.Status = domain.VerificationManualReview
		v.VerifiedAt = nil
		paymentStatus = payment.Status
		message = MessageAlreadyClaimed
	}

	d := &Decision{
		Verification:  &v,
		PaymentStatus: paymentStatus,
		Response: &domain.VerificationResponse{
			VerificationID:  v.ID,
			Status:          v.Status,
			Message:         message,
			PaymentID:       payment.ID,
			MatchMethod:     v.MatchMethod,
			MatchConfidence: v.MatchConfidence,
			Risk:            verdict,
			Metadata:        p.metadata(input),
		},
	}

	if len(verdict.ViolatedRules) > 0 {
		d.FraudLog = &domain.FraudLog{
			ID:             uuid.New().String(),
			TenantID:       v.TenantID,
			VerificationID: v.ID,
			FraudType:      FraudTypeRuleViolations,
			RiskScore:      verdict.Score,
			Details:        details(verdict),
			CreatedAt:      now,
		}
	}

	return d
}

// NoMatch decides a claim for which no payment was accepted.
func (p *Processor) NoMatch(ctx context.Context, input *Input) *Decision {
	v := *input.Verification
	v.Status = domain.VerificationFailed
	v.MatchMethod = domain.MatchNone
	v.MatchConfidence = 0

	var suggestions []domain.Suggestion
	if input.Match != nil {
		suggestions = input.Match.Suggestions
	}

	return &Decision{
		Verification: &v,
		Response: &domain.VerificationResponse{
			VerificationID: v.ID,
			Status:         v.Status,
			Message:        MessageNoMatch,
			MatchMethod:    domain.MatchNone,
			Suggestions:    suggestions,
			Metadata:       p.metadata(input),
		},
	}
}

func (p *Processor) metadata(input *Input) domain.VerifyMetadata {
	var total int64
	if !input.StartTime.IsZero() {
		total = time.Since(input.StartTime).Milliseconds()
	}
	return domain.VerifyMetadata{
		TraceID:       input.TraceID,
		MatchMs:       input.MatchMs,
		ScoreMs:       input.ScoreMs,
		TotalMs:       total,
		PoolSize:      input.PoolSize,
		HistorySize:   input.HistorySize,
		CustomRules:   input.CustomRules,
		EngineVersion: EngineVersion,
	}
}

func claimed(p *domain.Payment) bool {
	return p.Status != "" && p.Status != domain.PaymentUnverified
}

// ShouldAlert returns true if the decision should raise a fraud alert.
func ShouldAlert(d *Decision) bool {
	if d == nil || d.Verification == nil {
		return false
	}
	s := d.Verification.Status
	return s == domain.VerificationSuspicious || s == domain.VerificationManualReview
}

// details serialises the verdict for the fraud log.
func details(v *domain.RiskVerdict) string {
	b, err := json.Marshal(v)
	if err != nil {
		return strings.Join(v.ViolatedRules, ",")
	}
	return string(b)
}
