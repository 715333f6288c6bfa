// Package verify runs the SMS ingestion and claim verification pipelines.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/momoguard/internal/bus"
	"github.com/opensource-finance/momoguard/internal/decision"
	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/extract"
	"github.com/opensource-finance/momoguard/internal/match"
	"github.com/opensource-finance/momoguard/internal/normalize"
	"github.com/opensource-finance/momoguard/internal/repository"
	"github.com/opensource-finance/momoguard/internal/risk"
	"github.com/opensource-finance/momoguard/internal/rules"
	"github.com/opensource-finance/momoguard/internal/velocity"
)

var (
	// ErrNotParsed is returned when an SMS carries no payment.
	ErrNotParsed = errors.New("verify: message could not be parsed")

	// ErrDuplicateSMS is returned for a message or transaction id seen before.
	ErrDuplicateSMS = errors.New("verify: message already processed")

	// ErrInvalidClaim is returned for a claim without transaction id or phone,
	// or with a non-positive amount.
	ErrInvalidClaim = errors.New("verify: invalid claim")
)

var tracer = otel.Tracer("momoguard-verify")

// Deps are the collaborators of a Service. Repo is required; nil pipeline
// stages are built from configuration. Cache and Bus are optional.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Engine    *rules.Engine
	Extractor *extract.Extractor
	Matcher   *match.Matcher
	Scorer    *risk.Scorer
	Velocity  *velocity.Service
	Processor *decision.Processor
}

// Service ties extraction, matching, scoring and decisions to storage.
type Service struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	extractor *extract.Extractor
	matcher   *match.Matcher
	scorer    *risk.Scorer
	velocity  *velocity.Service
	processor *decision.Processor

	acceptThreshold float64
	poolLimit       int
	dedupeTTL       time.Duration
	countryCode     string
}

// New creates a verification service.
func New(cfg *domain.Config, deps Deps) (*Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if cfg == nil {
		cfg = domain.DefaultConfig()
	}

	s := &Service{
		repo:            deps.Repo,
		cache:           deps.Cache,
		bus:             deps.Bus,
		engine:          deps.Engine,
		extractor:       deps.Extractor,
		matcher:         deps.Matcher,
		scorer:          deps.Scorer,
		velocity:        deps.Velocity,
		processor:       deps.Processor,
		acceptThreshold: cfg.Matcher.AcceptThreshold,
		poolLimit:       cfg.Verify.PoolLimit,
		dedupeTTL:       cfg.Verify.DedupeTTL,
		countryCode:     cfg.Extractor.CountryCode,
	}
	if s.countryCode == "" {
		s.countryCode = normalize.DefaultCountryCode
	}

	if s.extractor == nil {
		x, err := extract.New(cfg.Extractor)
		if err != nil {
			return nil, fmt.Errorf("failed to build extractor: %w", err)
		}
		s.extractor = x
	}
	if s.matcher == nil {
		s.matcher = match.New(cfg.Matcher).WithCountryCode(s.countryCode)
	}
	if s.scorer == nil {
		var opts []risk.Option
		if cfg.Risk.EnableAnomaly {
			opts = append(opts, risk.WithAnomalyDetector(risk.NewAmountOutlierDetector()))
		}
		if s.engine != nil {
			opts = append(opts, risk.WithRuleEvaluator(s.engine))
		}
		policy := risk.PolicyFromConfig(cfg.Risk).WithLocale(s.countryCode, cfg.Extractor.UTCOffsetHours)
		s.scorer = risk.New(policy, opts...)
	}
	if s.velocity == nil {
		s.velocity = velocity.NewService(s.repo, s.cache, cfg.Verify).WithCountryCode(s.countryCode)
	}
	if s.processor == nil {
		s.processor = decision.FromConfig(cfg.Verify)
	}
	if s.acceptThreshold <= 0 {
		s.acceptThreshold = match.DefaultAcceptThreshold
	}
	if s.poolLimit <= 0 {
		s.poolLimit = 500
	}
	if s.dedupeTTL <= 0 {
		s.dedupeTTL = 24 * time.Hour
	}

	return s, nil
}

// Extractor returns the extractor in use.
func (s *Service) Extractor() *extract.Extractor { return s.extractor }

// Ingest parses an SMS and stores the payment it describes.
//
// A message already seen within the dedupe window, or one whose transaction
// id is already stored, returns ErrDuplicateSMS together with the stored
// payment when it is known.
func (s *Service) Ingest(ctx context.Context, tenantID string, msg domain.RawMessage) (*domain.Payment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	ctx, span := tracer.Start(ctx, "verify.ingest",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("sms.length", len(msg.Text)),
		),
	)
	defer span.End()

	key := messageKey(msg)
	if s.cache != nil {
		fresh, err := s.cache.SetIfAbsent(ctx, tenantID, key, []byte("1"), s.dedupeTTL)
		if err != nil {
			slog.Warn("sms dedupe unavailable", "tenant_id", tenantID, "error", err)
		} else if !fresh {
			span.SetAttributes(attribute.Bool("sms.duplicate", true))
			return nil, ErrDuplicateSMS
		}
	}

	parsed := s.extractor.Extract(msg.Text)
	if parsed == nil {
		span.SetStatus(codes.Error, "not parsed")
		return nil, ErrNotParsed
	}
	span.SetAttributes(
		attribute.String("extract.method", parsed.ExtractionMethod),
		attribute.Float64("extract.confidence", parsed.Confidence),
	)

	txID := normalize.TxID(parsed.TransactionID)
	existing, err := s.findByTxID(ctx, tenantID, txID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrDuplicateSMS
	}

	payment := &domain.Payment{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		ParsedPayment: *parsed,
		SenderNumber:  normalize.PhoneWithCountry(msg.From, s.countryCode),
		Status:        domain.PaymentUnverified,
		CreatedAt:     time.Now().UTC(),
	}
	payment.TransactionID = txID

	if err := s.repo.SavePayment(ctx, tenantID, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Another forwarder stored the same transaction first.
			if existing, ferr := s.findByTxID(ctx, tenantID, txID); ferr == nil && existing != nil {
				return existing, ErrDuplicateSMS
			}
			return nil, ErrDuplicateSMS
		}
		span.RecordError(err)
		// Let the forwarder retry the same message.
		if s.cache != nil {
			_ = s.cache.Delete(ctx, tenantID, key)
		}
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}
	span.SetAttributes(attribute.String("payment.id", payment.ID))

	s.cachePayment(ctx, tenantID, payment)
	s.publish(ctx, tenantID, domain.TopicPaymentIngested, payment)

	return payment, nil
}

// Verify checks a customer's claim against stored payments and records the
// outcome. Claims that match nothing are recorded as failed and are not errors.
func (s *Service) Verify(ctx context.Context, tenantID string, claim domain.ClaimRequest) (*domain.VerificationResponse, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	claim.TransactionID = normalize.TxID(claim.TransactionID)
	claim.Phone = normalize.PhoneWithCountry(claim.Phone, s.countryCode)
	if claim.TransactionID == "" || claim.Phone == "" {
		return nil, fmt.Errorf("%w: transaction id and phone are required", ErrInvalidClaim)
	}
	if claim.Amount != nil && *claim.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidClaim)
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "verify.claim",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("claim.txid", claim.TransactionID),
		),
	)
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	if !span.SpanContext().TraceID().IsValid() {
		traceID = uuid.New().String()
	}

	pending := &domain.Verification{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		CustomerName:    claim.Name,
		CustomerPhone:   claim.Phone,
		SubmittedTxID:   claim.TransactionID,
		SubmittedAmount: claim.Amount,
		Status:          domain.VerificationPending,
		CreatedAt:       start.UTC(),
	}
	if err := s.repo.SaveVerification(ctx, tenantID, pending); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save verification: %w", err)
	}

	facts := map[string]any{"phone_claims": s.recordClaim(ctx, tenantID, claim.Phone)}

	in := &decision.Input{
		Verification: pending,
		TraceID:      traceID,
		StartTime:    start,
	}
	if s.engine != nil {
		in.CustomRules = s.engine.RulesCount()
	}

	matchStart := time.Now()
	result, method, err := s.match(ctx, tenantID, &claim, in)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	in.Match = result
	in.MatchMethod = method
	in.MatchMs = time.Since(matchStart).Milliseconds()
	span.SetAttributes(
		attribute.String("match.method", method),
		attribute.Float64("match.confidence", result.Confidence),
	)

	if method == domain.MatchNone {
		d := s.processor.NoMatch(ctx, in)
		if err := s.repo.UpdateVerification(ctx, tenantID, d.Verification); err != nil {
			return nil, fmt.Errorf("failed to update verification: %w", err)
		}
		s.publish(ctx, tenantID, domain.TopicVerificationDecided, d.Response)
		return d.Response, nil
	}

	scoreStart := time.Now()
	verdict, err := s.score(ctx, tenantID, &claim, in, facts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	in.Verdict = verdict
	in.ScoreMs = time.Since(scoreStart).Milliseconds()
	span.SetAttributes(
		attribute.Float64("risk.score", verdict.Score),
		attribute.String("risk.tier", string(verdict.Tier)),
	)

	d := s.processor.Process(ctx, in)

	if err := s.repo.UpdatePaymentStatus(ctx, tenantID, result.Payment.ID, d.PaymentStatus, verdict.Score); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	if err := s.repo.UpdateVerification(ctx, tenantID, d.Verification); err != nil {
		return nil, fmt.Errorf("failed to update verification: %w", err)
	}
	if d.FraudLog != nil {
		if err := s.repo.SaveFraudLog(ctx, tenantID, d.FraudLog); err != nil {
			return nil, fmt.Errorf("failed to save fraud log: %w", err)
		}
	}

	settled := *result.Payment
	settled.Status = d.PaymentStatus
	settled.FraudScore = verdict.Score
	s.cachePayment(ctx, tenantID, &settled)

	s.publish(ctx, tenantID, domain.TopicVerificationDecided, d.Response)
	if decision.ShouldAlert(d) {
		s.publish(ctx, tenantID, domain.TopicFraudAlert, d.Response)
	}

	return d.Response, nil
}

// match finds the payment a claim refers to: an exact transaction id first,
// then the best fuzzy candidate among unverified payments.
func (s *Service) match(ctx context.Context, tenantID string, claim *domain.ClaimRequest, in *decision.Input) (*domain.MatchResult, string, error) {
	exact, err := s.findByTxID(ctx, tenantID, claim.TransactionID)
	if err != nil {
		return nil, "", err
	}
	if exact != nil {
		in.PoolSize = 1
		return &domain.MatchResult{Payment: exact, Confidence: 1.0}, domain.MatchExact, nil
	}

	pool, err := s.repo.ListPayments(ctx, tenantID, domain.PaymentFilter{
		Status: domain.PaymentUnverified,
		Limit:  s.poolLimit,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to load payment pool: %w", err)
	}
	in.PoolSize = len(pool)

	result, err := s.matcher.Match(claim.TransactionID, claim.Phone, claim.Amount, pool)
	if err != nil {
		return nil, "", fmt.Errorf("match failed: %w", err)
	}
	if !result.Accepted(s.acceptThreshold) {
		return result, domain.MatchNone, nil
	}
	return result, domain.MatchFuzzy, nil
}

func (s *Service) score(ctx context.Context, tenantID string, claim *domain.ClaimRequest, in *decision.Input, facts map[string]any) (*domain.RiskVerdict, error) {
	history, err := s.velocity.History(ctx, tenantID, in.Verification.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	in.HistorySize = len(history)

	verdict, err := s.scorer.Evaluate(ctx, &risk.Request{
		TenantID:        tenantID,
		Claim:           claim,
		Payment:         in.Match.Payment,
		History:         history,
		MatchConfidence: in.Match.Confidence,
		Facts:           facts,
	})
	if err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}
	return verdict, nil
}

// findByTxID returns the payment a transaction id settles: the oldest
// unverified one, else the oldest. The cache is consulted first.
func (s *Service) findByTxID(ctx context.Context, tenantID, txID string) (*domain.Payment, error) {
	if s.cache != nil {
		if p, err := s.cache.GetPayment(ctx, tenantID, txID); err == nil && p != nil {
			return p, nil
		}
	}

	payments, err := s.repo.FindPaymentsByTxID(ctx, tenantID, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction: %w", err)
	}
	if len(payments) == 0 {
		return nil, nil
	}
	for _, p := range payments {
		if p.Status == domain.PaymentUnverified {
			return p, nil
		}
	}
	return payments[0], nil
}

// recordClaim counts the claim against the phone. Tenant rules see the
// count as phone_claims.
func (s *Service) recordClaim(ctx context.Context, tenantID, phone string) int64 {
	n, err := s.velocity.RecordClaim(ctx, tenantID, phone)
	if err != nil {
		slog.Warn("claim counter unavailable", "tenant_id", tenantID, "error", err)
		return 0
	}
	return n
}

func (s *Service) cachePayment(ctx context.Context, tenantID string, p *domain.Payment) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetPayment(ctx, tenantID, p, s.dedupeTTL); err != nil {
		slog.Warn("failed to cache payment", "tenant_id", tenantID, "payment_id", p.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, tenantID, topic string, v any) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.bus, tenantID, topic, v); err != nil {
		slog.Error("failed to publish event", "tenant_id", tenantID, "topic", topic, "error", err)
	}
}

// messageKey identifies an SMS by its sender and exact text.
func messageKey(msg domain.RawMessage) string {
	sum := sha256.Sum256([]byte(msg.From + "\n" + msg.Text))
	return "sms:" + hex.EncodeToString(sum[:])
}
