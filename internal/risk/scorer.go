// Package risk scores the likelihood that a payment claim is fraudulent.
//
// The score blends a rule score (weighted built-in and tenant rules) with a
// behavioural score drawn from the claimant's recent history, and optionally
// with an anomaly signal. Scoring is pure: it reads only its inputs and the
// injected clock.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/rules"
)

// ErrNilClaim is returned when no claim is given.
var ErrNilClaim = errors.New("risk: claim is required")

// RuleEvaluator runs tenant-defined rules. *rules.Engine implements it.
type RuleEvaluator interface {
	EvaluateAll(ctx context.Context, input *rules.EvaluateInput) ([]domain.RuleResult, error)
}

// Scorer is safe for concurrent use.
type Scorer struct {
	policy  Policy
	anomaly AnomalyDetector
	custom  RuleEvaluator
	now     func() time.Time

	velocityWindow int // seconds
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithAnomalyDetector blends an anomaly signal into the final score.
func WithAnomalyDetector(d AnomalyDetector) Option {
	return func(s *Scorer) { s.anomaly = d }
}

// WithRuleEvaluator adds tenant rules to the rule score.
func WithRuleEvaluator(e RuleEvaluator) Option {
	return func(s *Scorer) { s.custom = e }
}

// WithClock sets the time used to judge history recency.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// New creates a Scorer.
func New(policy Policy, opts ...Option) *Scorer {
	s := &Scorer{
		policy:         policy,
		now:            time.Now,
		velocityWindow: int(policy.RecentWindow / time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Default returns a Scorer with the default policy and no optional signals.
func Default() *Scorer {
	return New(DefaultPolicy())
}

// Policy returns the policy in use.
func (s *Scorer) Policy() Policy { return s.policy }

// Request is a scoring request with the optional context the pipeline has.
type Request struct {
	TenantID        string
	Claim           *domain.ClaimRequest
	Payment         *domain.Payment
	History         []domain.HistoryEntry
	MatchConfidence float64

	// Facts are extra variables exposed to tenant rules.
	Facts map[string]any
}

// Score rates a claim against the payment it matched, or nil when none did.
func (s *Scorer) Score(claim *domain.ClaimRequest, payment *domain.Payment, history []domain.HistoryEntry) (*domain.RiskVerdict, error) {
	return s.Evaluate(context.Background(), &Request{Claim: claim, Payment: payment, History: history})
}

// Evaluate is Score with tenant rules and request context.
func (s *Scorer) Evaluate(ctx context.Context, req *Request) (*domain.RiskVerdict, error) {
	if req == nil || req.Claim == nil {
		return nil, ErrNilClaim
	}
	pol := s.policy
	f := newFacts(req.Claim, req.Payment)

	violated := make([]string, 0, len(builtins))
	critical := false
	ruleScore := 0.0

	for _, b := range builtins {
		w := pol.weight(b.id)
		if w <= 0 || !b.check(pol, f) {
			continue
		}
		ruleScore += w
		violated = append(violated, b.id)
		if pol.isCritical(b.id) {
			critical = true
		}
	}

	summary := pol.summarize(req.Claim, req.History, s.now())

	if s.custom != nil {
		results, err := s.custom.EvaluateAll(ctx, &rules.EvaluateInput{
			TenantID:        req.TenantID,
			Claim:           req.Claim,
			Payment:         req.Payment,
			MatchConfidence: req.MatchConfidence,
			HistoryCount:    summary.Entries,
			RecentCount:     summary.Recent,
			ReusedTxID:      summary.Reused,
			VelocityWindow:  s.velocityWindow,
			Location:        pol.Location,
			AdditionalData:  req.Facts,
		})
		if err != nil {
			return nil, fmt.Errorf("custom rules: %w", err)
		}
		for _, r := range results {
			if !r.Fired || r.Weight <= 0 {
				continue
			}
			ruleScore += r.Weight
			violated = append(violated, r.RuleID)
			if pol.isCritical(r.RuleID) {
				critical = true
			}
		}
	}
	ruleScore = min(ruleScore, 1)

	behavior := pol.behavioral(summary)

	num := pol.RuleBlend*ruleScore + pol.BehaviorBlend*behavior
	den := pol.RuleBlend + pol.BehaviorBlend

	var anomaly *float64
	if s.anomaly != nil && pol.AnomalyBlend > 0 {
		if a, ok := s.anomaly.Anomaly(req.Claim, req.Payment, req.History); ok {
			a = clamp01(a)
			anomaly = &a
			num += pol.AnomalyBlend * a
			den += pol.AnomalyBlend
		}
	}

	score := ruleScore
	if den > 0 {
		score = num / den
	}
	if critical && score < MediumThreshold {
		score = MediumThreshold
	}
	score = clamp01(score)

	tier := TierFor(score)
	return &domain.RiskVerdict{
		Score:           score,
		Tier:            tier,
		ViolatedRules:   violated,
		Recommendation:  Recommendation(tier),
		RuleScore:       ruleScore,
		BehavioralScore: behavior,
		AnomalyScore:    anomaly,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
