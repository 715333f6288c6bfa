//go:build integration

// Package integration provides end-to-end tests against a running momoguard
// server.
//
// The flow under test is:
//
//	forwarded SMS -> payment -> customer claim -> match -> risk score -> status
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must run with default thresholds and no forwarder secret, or
// MOMOGUARD_TEST_SECRET must hold it. Each run uses a fresh tenant, so the
// tests can be repeated against the same database.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
	Secret   string
	runID    int64
}

func getTestConfig(t *testing.T) TestConfig {
	t.Helper()

	baseURL := os.Getenv("MOMOGUARD_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Skipf("momoguard not reachable at %s: %v", baseURL, err)
	}
	resp.Body.Close()

	now := time.Now().UnixNano()
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "it-" + strconv.FormatInt(now, 36),
		Secret:   os.Getenv("MOMOGUARD_TEST_SECRET"),
		runID:    now % 1_000_000_000,
	}
}

// txID returns a transaction id unique to this run.
func (c TestConfig) txID(n int) string {
	return fmt.Sprintf("TX%09d%d", c.runID, n)
}

// ============================================================================
// API Request/Response Types (matching the momoguard API contract)
// ============================================================================

type SMSRequest struct {
	Text string `json:"text"`
	From string `json:"from"`
}

type SMSResponse struct {
	Success       bool    `json:"success"`
	PaymentID     string  `json:"id"`
	TransactionID string  `json:"parsedTxid"`
	Amount        float64 `json:"parsedAmount"`
	Duplicate     bool    `json:"duplicate"`
}

type VerifyRequest struct {
	TxID   string   `json:"txid"`
	Phone  string   `json:"phone"`
	Name   string   `json:"name,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
}

type VerifyResponse struct {
	VerificationID  string  `json:"verificationId"`
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	PaymentID       string  `json:"paymentId"`
	MatchMethod     string  `json:"matchMethod"`
	MatchConfidence float64 `json:"matchConfidence"`
	Risk            *struct {
		Score         float64  `json:"score"`
		Tier          string   `json:"tier"`
		ViolatedRules []string `json:"violatedRules"`
	} `json:"risk"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func post(t *testing.T, config TestConfig, path string, body any, out any) int {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)
	if config.Secret != "" {
		httpReq.Header.Set("X-Forwarder-Secret", config.Secret)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
	return resp.StatusCode
}

func ingest(t *testing.T, config TestConfig, txID string, amount int) SMSResponse {
	t.Helper()

	text := fmt.Sprintf("You have received RWF %d from John Doe +250788123456 on 15/08/2024 14:30. Ref: %s", amount, txID)
	var resp SMSResponse
	if code := post(t, config, "/sms", SMSRequest{Text: text, From: "M-Money"}, &resp); code != http.StatusCreated {
		t.Fatalf("Expected status 201 from /sms, got %d", code)
	}
	return resp
}

func claim(t *testing.T, config TestConfig, req VerifyRequest) VerifyResponse {
	t.Helper()

	var resp VerifyResponse
	if code := post(t, config, "/verify", req, &resp); code != http.StatusOK {
		t.Fatalf("Expected status 200 from /verify, got %d", code)
	}
	return resp
}

// ============================================================================
// SCENARIOS
// ============================================================================

func TestGenuineClaim_Verified(t *testing.T) {
	/*
	   SCENARIO: the customer quotes the exact reference, phone and amount
	   of a forwarded payment.

	   EXPECTED: exact match, no rules violated, status verified.
	*/
	config := getTestConfig(t)
	txID := config.txID(1)
	payment := ingest(t, config, txID, 5000)

	amount := 5000.0
	result := claim(t, config, VerifyRequest{TxID: txID, Phone: "0788123456", Name: "John Doe", Amount: &amount})

	if result.Status != "verified" {
		t.Errorf("Expected verified, got %s (%s)", result.Status, result.Message)
	}
	if result.PaymentID != payment.PaymentID {
		t.Errorf("Expected payment %s, got %s", payment.PaymentID, result.PaymentID)
	}
	if result.MatchMethod != "exact" || result.MatchConfidence != 1.0 {
		t.Errorf("Expected exact match at 1.0, got %s at %.2f", result.MatchMethod, result.MatchConfidence)
	}
	if result.Risk == nil || len(result.Risk.ViolatedRules) != 0 {
		t.Errorf("Expected no violated rules, got %+v", result.Risk)
	}
}

func TestSecondClaim_ManualReview(t *testing.T) {
	/*
	   SCENARIO: two customers claim the same payment.

	   EXPECTED: the first is verified, the second goes to manual review.
	*/
	config := getTestConfig(t)
	txID := config.txID(2)
	ingest(t, config, txID, 7000)

	first := claim(t, config, VerifyRequest{TxID: txID, Phone: "0788123456"})
	if first.Status != "verified" {
		t.Fatalf("Expected first claim verified, got %s", first.Status)
	}

	second := claim(t, config, VerifyRequest{TxID: txID, Phone: "0788123456"})
	if second.Status != "manual_review" {
		t.Errorf("Expected manual_review for the second claim, got %s", second.Status)
	}
}

func TestTypoInReference_FuzzyMatch(t *testing.T) {
	/*
	   SCENARIO: the customer mistypes the last digit of the reference.

	   EXPECTED: fuzzy match to the payment, txid_mismatch violated, but the
	   score stays below the fraud threshold.
	*/
	config := getTestConfig(t)
	txID := config.txID(3)
	payment := ingest(t, config, txID, 9000)

	typo := txID[:len(txID)-1] + "0"
	result := claim(t, config, VerifyRequest{TxID: typo, Phone: "0788123456"})

	if result.MatchMethod != "fuzzy" {
		t.Fatalf("Expected fuzzy match, got %s (%s)", result.MatchMethod, result.Message)
	}
	if result.PaymentID != payment.PaymentID {
		t.Errorf("Expected payment %s, got %s", payment.PaymentID, result.PaymentID)
	}
	if result.Status != "verified" {
		t.Errorf("Expected verified, got %s", result.Status)
	}
}

func TestUnknownReference_Failed(t *testing.T) {
	config := getTestConfig(t)

	result := claim(t, config, VerifyRequest{TxID: "ZZ" + config.txID(4), Phone: "0722000000"})
	if result.Status != "failed" {
		t.Errorf("Expected failed, got %s", result.Status)
	}
	if result.PaymentID != "" {
		t.Errorf("Expected no payment, got %s", result.PaymentID)
	}
}

func TestDuplicateSMS(t *testing.T) {
	config := getTestConfig(t)
	txID := config.txID(5)
	ingest(t, config, txID, 3000)

	text := fmt.Sprintf("You have received RWF %d from John Doe +250788123456 on 15/08/2024 14:30. Ref: %s", 3000, txID)
	var resp SMSResponse
	code := post(t, config, "/sms", SMSRequest{Text: text, From: "M-Money"}, &resp)
	if code != http.StatusOK && code != http.StatusConflict {
		t.Fatalf("Expected 200 or 409 for a duplicate, got %d", code)
	}
	if !resp.Duplicate {
		t.Error("Expected duplicate flag")
	}
}
