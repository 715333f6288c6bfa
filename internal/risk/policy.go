package risk

import (
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/normalize"
)

// Tier thresholds. A score at or above a threshold lands in that tier.
const (
	HighThreshold   = 0.8
	MediumThreshold = 0.6
	LowThreshold    = 0.4
)

// Recommendations per tier.
const (
	RecommendReject      = "REJECT - High fraud risk. Manual review required."
	RecommendReview      = "REVIEW - Medium fraud risk. Additional verification recommended."
	RecommendApprove     = "APPROVE - Low fraud risk. Transaction appears legitimate."
	RecommendApproveSafe = "APPROVE - Minimal fraud risk. Safe to process."
)

// Policy holds every tunable of the scorer. The zero value scores nothing;
// start from DefaultPolicy.
type Policy struct {
	// Built-in rule weights. A weight of zero disables the rule.
	Weights map[string]float64

	// AmountTolerance is the largest absolute difference that still matches.
	AmountTolerance float64

	// HighAmountLimit triggers high_amount when exceeded.
	HighAmountLimit float64

	// QuietHoursStart and QuietHoursEnd bound the suspicious window:
	// hour < start or hour > end.
	QuietHoursStart int
	QuietHoursEnd   int

	// Location is the zone payment hours are read in. Stored timestamps
	// come back in UTC.
	Location *time.Location

	// CountryCode canonicalises local phone numbers before comparison.
	CountryCode string

	// Behavioural signal.
	NeutralBehavior      float64
	RecentWindow         time.Duration
	VelocityHigh         int
	VelocityHighWeight   float64
	VelocityMedium       int
	VelocityMediumWeight float64
	ReusedTxIDWeight     float64

	// Blend of the final score.
	RuleBlend     float64
	BehaviorBlend float64
	AnomalyBlend  float64

	// Critical rules raise the final score to at least MediumThreshold.
	Critical []string
}

// DefaultPolicy returns the stock weights and thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Weights: map[string]float64{
			domain.RuleTxIDMismatch:          0.4,
			domain.RulePhoneMismatch:         0.3,
			domain.RuleAmountMismatch:        0.5,
			domain.RuleSuspiciousTxIDPattern: 0.3,
			domain.RuleSuspiciousTiming:      0.2,
		},
		AmountTolerance:      1000,
		HighAmountLimit:      500000,
		QuietHoursStart:      5,
		QuietHoursEnd:        23,
		Location:             normalize.Zone(normalize.DefaultUTCOffsetHours),
		CountryCode:          normalize.DefaultCountryCode,
		NeutralBehavior:      0.3,
		RecentWindow:         24 * time.Hour,
		VelocityHigh:         10,
		VelocityHighWeight:   0.3,
		VelocityMedium:       5,
		VelocityMediumWeight: 0.2,
		ReusedTxIDWeight:     0.4,
		RuleBlend:            0.7,
		BehaviorBlend:        0.3,
		AnomalyBlend:         0.2,
		Critical:             []string{domain.RuleAmountMismatch},
	}
}

// PolicyFromConfig overlays configuration on the default policy.
func PolicyFromConfig(cfg domain.RiskConfig) Policy {
	p := DefaultPolicy()
	p.Weights = map[string]float64{
		domain.RuleTxIDMismatch:          cfg.TxIDMismatchWeight,
		domain.RulePhoneMismatch:         cfg.PhoneMismatchWeight,
		domain.RuleAmountMismatch:        cfg.AmountMismatchWeight,
		domain.RuleSuspiciousTxIDPattern: cfg.SuspiciousTxIDWeight,
		domain.RuleSuspiciousTiming:      cfg.SuspiciousTimingWeight,
		domain.RuleHighAmount:            cfg.HighAmountWeight,
		domain.RuleSuspiciousName:        cfg.SuspiciousNameWeight,
		domain.RuleInvalidPhone:          cfg.InvalidPhoneWeight,
	}
	if cfg.AmountTolerance > 0 {
		p.AmountTolerance = cfg.AmountTolerance
	}
	if cfg.HighAmountLimit > 0 {
		p.HighAmountLimit = cfg.HighAmountLimit
	}
	if cfg.RuleBlend > 0 || cfg.BehaviorBlend > 0 {
		p.RuleBlend = cfg.RuleBlend
		p.BehaviorBlend = cfg.BehaviorBlend
	}
	if cfg.AnomalyBlend > 0 {
		p.AnomalyBlend = cfg.AnomalyBlend
	}
	return p
}

// WithLocale returns p reading hours and phone numbers the way messages
// in that country print them.
func (p Policy) WithLocale(countryCode string, utcOffsetHours int) Policy {
	if countryCode != "" {
		p.CountryCode = countryCode
	}
	p.Location = normalize.Zone(utcOffsetHours)
	return p
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p Policy) phone(s string) string {
	cc := p.CountryCode
	if cc == "" {
		cc = normalize.DefaultCountryCode
	}
	return normalize.PhoneWithCountry(s, cc)
}

func (p Policy) weight(rule string) float64 {
	return p.Weights[rule]
}

func (p Policy) isCritical(rule string) bool {
	for _, c := range p.Critical {
		if c == rule {
			return true
		}
	}
	return false
}

// TierFor buckets a score.
func TierFor(score float64) domain.RiskTier {
	switch {
	case score >= HighThreshold:
		return domain.TierHigh
	case score >= MediumThreshold:
		return domain.TierMedium
	case score >= LowThreshold:
		return domain.TierLow
	default:
		return domain.TierMinimal
	}
}

// Recommendation returns the action text for a tier.
func Recommendation(tier domain.RiskTier) string {
	switch tier {
	case domain.TierHigh:
		return RecommendReject
	case domain.TierMedium:
		return RecommendReview
	case domain.TierLow:
		return RecommendApprove
	default:
		return RecommendApproveSafe
	}
}
