package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/momoguard/internal/bus"
	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/extract"
	"github.com/opensource-finance/momoguard/internal/repository"
	"github.com/opensource-finance/momoguard/internal/rules"
	"github.com/opensource-finance/momoguard/internal/verify"
	"github.com/opensource-finance/momoguard/internal/worker"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *verify.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *verify.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		version: version,
	}
}

// SMSRequest is the forwarder payload for POST /sms.
type SMSRequest struct {
	Text string `json:"text"`
	From string `json:"from"`
}

// SMSResponse is the response for POST /sms.
type SMSResponse struct {
	Success          bool    `json:"success"`
	PaymentID        string  `json:"id,omitempty"`
	TransactionID    string  `json:"parsedTxid,omitempty"`
	Amount           float64 `json:"parsedAmount,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	ExtractionMethod string  `json:"extractionMethod,omitempty"`
	Duplicate        bool    `json:"duplicate,omitempty"`
	Queued           bool    `json:"queued,omitempty"`
}

// ReceiveSMS handles POST /sms from the forwarder app.
func (h *Handler) ReceiveSMS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.From) == "" {
		writeError(w, http.StatusBadRequest, "text and from are required")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if h.bus == nil {
			writeError(w, http.StatusServiceUnavailable, "event bus not available")
			return
		}
		msg := worker.SMSMessage{
			TenantID:   tenantID,
			Text:       req.Text,
			From:       req.From,
			ReceivedAt: time.Now().UTC(),
		}
		if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicSMSReceived, msg); err != nil {
			slog.Error("failed to queue sms", "tenant_id", tenantID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue sms")
			return
		}
		writeJSON(w, http.StatusAccepted, SMSResponse{Success: true, Queued: true})
		return
	}

	payment, err := h.svc.Ingest(ctx, tenantID, domain.RawMessage{Text: req.Text, From: req.From})
	switch {
	case errors.Is(err, verify.ErrDuplicateSMS):
		resp := SMSResponse{Success: true, Duplicate: true}
		if payment == nil {
			writeJSON(w, http.StatusConflict, resp)
			return
		}
		writeJSON(w, http.StatusOK, paymentResponse(payment, resp))
		return
	case errors.Is(err, verify.ErrNotParsed):
		writeError(w, http.StatusUnprocessableEntity, "failed to parse SMS")
		return
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("failed to ingest sms", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process SMS")
		return
	}

	writeJSON(w, http.StatusCreated, paymentResponse(payment, SMSResponse{Success: true}))
}

func paymentResponse(p *domain.Payment, resp SMSResponse) SMSResponse {
	resp.PaymentID = p.ID
	resp.TransactionID = p.TransactionID
	resp.Amount = p.Amount
	resp.Confidence = p.Confidence
	resp.ExtractionMethod = p.ExtractionMethod
	return resp
}

// VerifyRequest is the customer claim for POST /verify.
type VerifyRequest struct {
	TxID   string   `json:"txid"`
	Phone  string   `json:"phone"`
	Name   string   `json:"name,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
}

// Verify handles POST /verify requests.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	resp, err := h.svc.Verify(ctx, tenantID, domain.ClaimRequest{
		TransactionID: req.TxID,
		Phone:         req.Phone,
		Name:          req.Name,
		Amount:        req.Amount,
	})
	if err != nil {
		if errors.Is(err, verify.ErrInvalidClaim) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("verification failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	if resp.Metadata.TraceID == "" {
		resp.Metadata.TraceID = GetTraceID(ctx)
	}
	if resp.Metadata.EngineVersion == "" {
		resp.Metadata.EngineVersion = h.version
	}

	writeJSON(w, http.StatusOK, resp)
}

// Parse handles POST /parse. It runs the extractor without storing anything.
func (h *Handler) Parse(w http.ResponseWriter, r *http.Request) {
	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if !extract.HasPaymentKeyword(req.Text) {
		writeError(w, http.StatusUnprocessableEntity, "message is not a payment notification")
		return
	}

	parsed := h.svc.Extractor().Extract(req.Text)
	if parsed == nil {
		writeError(w, http.StatusUnprocessableEntity, "failed to parse SMS")
		return
	}

	writeJSON(w, http.StatusOK, parsed)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the database answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.repo.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetPayment retrieves a payment by ID.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	paymentID := chi.URLParam(r, "id")

	payment, err := h.repo.GetPayment(ctx, tenantID, paymentID)
	if err != nil {
		h.lookupFailed(w, "payment", paymentID, err)
		return
	}

	writeJSON(w, http.StatusOK, payment)
}

// GetVerification retrieves a verification by ID.
func (h *Handler) GetVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	verificationID := chi.URLParam(r, "id")

	v, err := h.repo.GetVerification(ctx, tenantID, verificationID)
	if err != nil {
		h.lookupFailed(w, "verification", verificationID, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) lookupFailed(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	slog.Error("failed to get "+kind, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to get "+kind)
}

// GetStats returns tenant activity over ?window= (default 24h).
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration such as 24h")
			return
		}
		window = d
	}

	stats, err := h.repo.Stats(ctx, tenantID, time.Now().Add(-window))
	if err != nil {
		slog.Error("failed to compute stats", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ListRules returns the rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}

	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule validates and stores a rule for all tenants.
// It takes effect after POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}
	if req.Weight < 0 || req.Weight > 1 {
		writeError(w, http.StatusBadRequest, "weight must be between 0 and 1")
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, rule); err != nil {
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}

	n, err := LoadRules(ctx, h.repo, h.engine)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   n,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
