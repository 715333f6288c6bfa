package domain

import (
	"time"
)

// ClaimRequest is a customer's assertion that they paid.
// Amount is optional.
type ClaimRequest struct {
	TransactionID string   `json:"transactionId"`
	Phone         string   `json:"phone"`
	Name          string   `json:"name,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
}

// Suggestion is a near-miss candidate offered when no payment is accepted.
type Suggestion struct {
	PaymentID     string    `json:"paymentId"`
	TransactionID string    `json:"transactionId"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
	Confidence    float64   `json:"confidence"`
}

// MatchResult is the outcome of matching a claim against a pool.
// Confidence is -1 when the pool was empty.
type MatchResult struct {
	Payment     *Payment     `json:"payment,omitempty"`
	Confidence  float64      `json:"confidence"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// Accepted reports whether the best candidate clears threshold.
func (m *MatchResult) Accepted(threshold float64) bool {
	return m != nil && m.Payment != nil && m.Confidence >= threshold
}

// HistoryEntry is one prior claim as stored. Numeric and time fields
// are kept raw; consumers skip entries they cannot parse.
type HistoryEntry struct {
	TransactionID string `json:"transactionId"`
	Phone         string `json:"phone,omitempty"`
	Amount        string `json:"amount,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

// RiskTier buckets a fraud score.
type RiskTier string

const (
	TierMinimal RiskTier = "MINIMAL"
	TierLow     RiskTier = "LOW"
	TierMedium  RiskTier = "MEDIUM"
	TierHigh    RiskTier = "HIGH"
)

// RiskVerdict is the scorer output.
type RiskVerdict struct {
	Score           float64  `json:"score"`
	Tier            RiskTier `json:"tier"`
	ViolatedRules   []string `json:"violatedRules"`
	Recommendation  string   `json:"recommendation"`
	RuleScore       float64  `json:"ruleScore"`
	BehavioralScore float64  `json:"behavioralScore"`
	AnomalyScore    *float64 `json:"anomalyScore,omitempty"`
}

// VerificationStatus is the lifecycle state of a claim.
type VerificationStatus string

const (
	VerificationPending      VerificationStatus = "pending"
	VerificationVerified     VerificationStatus = "verified"
	VerificationFailed       VerificationStatus = "failed"
	VerificationSuspicious   VerificationStatus = "suspicious"
	VerificationManualReview VerificationStatus = "manual_review"
)

// How a claim was tied to a payment.
const (
	MatchExact = "exact"
	MatchFuzzy = "fuzzy"
	MatchNone  = "none"
)

// Verification is the persisted record of one claim.
type Verification struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenantId"`
	PaymentID       string             `json:"paymentId,omitempty"`
	CustomerName    string             `json:"customerName,omitempty"`
	CustomerPhone   string             `json:"customerPhone"`
	SubmittedTxID   string             `json:"submittedTxId"`
	SubmittedAmount *float64           `json:"submittedAmount,omitempty"`
	Status          VerificationStatus `json:"status"`
	MatchMethod     string             `json:"matchMethod"`
	MatchConfidence float64            `json:"matchConfidence"`
	FraudScore      float64            `json:"fraudScore"`
	RiskTier        RiskTier           `json:"riskTier,omitempty"`
	ViolatedRules   []string           `json:"violatedRules,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	VerifiedAt      *time.Time         `json:"verifiedAt,omitempty"`
}

// FraudLog records the rules that fired on a verification.
type FraudLog struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenantId"`
	VerificationID string    `json:"verificationId"`
	FraudType      string    `json:"fraudType"`
	RiskScore      float64   `json:"riskScore"`
	Details        string    `json:"details"`
	CreatedAt      time.Time `json:"createdAt"`
}

// VerificationResponse is the API response for a claim.
type VerificationResponse struct {
	VerificationID  string             `json:"verificationId"`
	Status          VerificationStatus `json:"status"`
	Message         string             `json:"message"`
	PaymentID       string             `json:"paymentId,omitempty"`
	MatchMethod     string             `json:"matchMethod"`
	MatchConfidence float64            `json:"matchConfidence"`
	Risk            *RiskVerdict       `json:"risk,omitempty"`
	Suggestions     []Suggestion       `json:"suggestions,omitempty"`
	Metadata        VerifyMetadata     `json:"metadata"`
}

// VerifyMetadata contains processing information.
type VerifyMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	MatchMs       int64  `json:"matchMs"`
	ScoreMs       int64  `json:"scoreMs"`
	TotalMs       int64  `json:"totalMs"`
	PoolSize      int    `json:"poolSize"`
	HistorySize   int    `json:"historySize"`
	CustomRules   int    `json:"customRules"`
	EngineVersion string `json:"engineVersion"`
}

// Stats summarises activity for a tenant.
type Stats struct {
	TotalPayments         int            `json:"totalPayments"`
	PaymentsByStatus      map[string]int `json:"paymentsByStatus"`
	TotalVerifications    int            `json:"totalVerifications"`
	VerificationsByStatus map[string]int `json:"verificationsByStatus"`
	FraudLogs             int            `json:"fraudLogs"`
	AverageFraudScore     float64        `json:"averageFraudScore"`
}
