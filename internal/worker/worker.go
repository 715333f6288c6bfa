// Package worker provides async SMS ingestion for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/verify"
)

// Ingester stores the payment an SMS describes. *verify.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, tenantID string, msg domain.RawMessage) (*domain.Payment, error)
}

// SMSMessage is the payload published on TopicSMSReceived.
type SMSMessage struct {
	TenantID   string    `json:"tenantId,omitempty"`
	Text       string    `json:"text"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Worker ingests queued SMS messages from the EventBus.
type Worker struct {
	bus      domain.EventBus
	ingester Ingester

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	counts Counts
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all tenants)
	TenantIDs []string

	// WorkerCount bounds concurrent ingestion
	WorkerCount int
}

// Counts tallies message outcomes.
type Counts struct {
	Ingested   int64 `json:"ingested"`
	Duplicates int64 `json:"duplicates"`
	Unparsed   int64 `json:"unparsed"`
	Failed     int64 `json:"failed"`
}

func (w *Worker) count(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case err == nil:
		w.counts.Ingested++
	case errors.Is(err, verify.ErrDuplicateSMS):
		w.counts.Duplicates++
	case errors.Is(err, verify.ErrNotParsed):
		w.counts.Unparsed++
	default:
		w.counts.Failed++
	}
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, ingester Ingester) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		ingester: ingester,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 4
	}
	w.sem = make(chan struct{}, workers)

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSMSReceived, w.handleMessage)
		if err != nil {
			if len(cfg.TenantIDs) == 0 {
				return fmt.Errorf("failed to subscribe: %w", err)
			}
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	slog.Info("workers started",
		"tenants", tenants,
		"worker_count", workers,
		"topic", domain.TopicSMSReceived,
	)

	return nil
}

// handleMessage hands the message to a bounded pool of ingest goroutines.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		_ = w.process(w.ctx, msg)
	}()
	return nil
}

// process ingests one queued SMS.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var sms SMSMessage
	if err := json.Unmarshal(msg.Payload, &sms); err != nil {
		slog.Error("failed to parse sms message",
			"message_id", msg.ID,
			"error", err,
		)
		w.count(err)
		return err
	}

	tenantID := msg.TenantID
	if sms.TenantID != "" {
		tenantID = sms.TenantID
	}

	payment, err := w.ingester.Ingest(ctx, tenantID, domain.RawMessage{Text: sms.Text, From: sms.From})
	w.count(err)

	switch {
	case err == nil:
		slog.Info("sms ingested",
			"tenant_id", tenantID,
			"payment_id", payment.ID,
			"tx_id", payment.TransactionID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	case errors.Is(err, verify.ErrDuplicateSMS), errors.Is(err, verify.ErrNotParsed):
		slog.Debug("sms skipped",
			"tenant_id", tenantID,
			"message_id", msg.ID,
			"reason", err,
		)
	default:
		slog.Error("sms ingestion failed",
			"tenant_id", tenantID,
			"message_id", msg.ID,
			"error", err,
		)
	}
	return err
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	// In-flight ingests finish before the context is cancelled.
	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         Counts   `json:"processed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.counts,
	}
}
