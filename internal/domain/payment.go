package domain

import (
	"time"
)

// RawMessage is an inbound SMS as delivered by a forwarding device.
type RawMessage struct {
	Text string `json:"text"`
	From string `json:"from"`
}

// Extraction methods, in cascade order.
const (
	MethodPattern   = "pattern"
	MethodHeuristic = "heuristic"
	MethodFallback  = "fallback"
)

// Source languages recognised by the extractor.
const (
	LangEnglish     = "english"
	LangKinyarwanda = "kinyarwanda"
	LangFrench      = "french"
	LangUnknown     = "unknown"
)

// ParsedPayment is the structured result of reading one SMS.
// Values are never mutated after extraction.
type ParsedPayment struct {
	Amount        float64 `json:"amount"`
	TransactionID string  `json:"transactionId"`
	SenderName    string  `json:"senderName,omitempty"`
	SenderPhone   string  `json:"senderPhone,omitempty"`

	// Timestamp falls back to extraction time when the text has none.
	Timestamp         time.Time `json:"timestamp"`
	TimestampInferred bool      `json:"timestampInferred"`

	SourceLanguage   string  `json:"sourceLanguage"`
	ExtractionMethod string  `json:"extractionMethod"`
	Confidence       float64 `json:"confidence"`
	RawText          string  `json:"rawText"`
}

// PaymentStatus is the lifecycle state of a stored payment.
type PaymentStatus string

const (
	PaymentUnverified   PaymentStatus = "unverified"
	PaymentVerified     PaymentStatus = "verified"
	PaymentSuspicious   PaymentStatus = "suspicious"
	PaymentManualReview PaymentStatus = "manual_review"
)

// Payment is a persisted ParsedPayment.
type Payment struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	ParsedPayment

	// SenderNumber identifies the forwarding device, not the payer.
	SenderNumber string        `json:"senderNumber,omitempty"`
	Status       PaymentStatus `json:"status"`
	FraudScore   float64       `json:"fraudScore"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// PaymentFilter narrows ListPayments.
type PaymentFilter struct {
	Status PaymentStatus
	Since  time.Time
	Limit  int
}
