// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate is returned when a tenant already stores the transaction id.
	ErrDuplicate = errors.New("duplicate record")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const paymentColumns = `id, tenant_id, transaction_id, amount, sender_name, sender_phone,
	timestamp, timestamp_inferred, source_language, extraction_method, confidence,
	raw_text, sender_number, status, fraud_score, created_at`

// SavePayment stores a payment with tenant isolation.
func (r *SQLRepository) SavePayment(ctx context.Context, tenantID string, p *domain.Payment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if p == nil || p.ID == "" || p.TransactionID == "" {
		return fmt.Errorf("%w: payment id and transaction id are required", ErrInvalidInput)
	}

	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.TransactionID, p.Amount, p.SenderName, p.SenderPhone,
		p.Timestamp.UTC(), boolInt(p.TimestampInferred), p.SourceLanguage, p.ExtractionMethod, p.Confidence,
		p.RawText, p.SenderNumber, string(p.Status), p.FraudScore, p.CreatedAt.UTC(),
	)
	if err != nil && r.uniqueViolation(err) {
		return fmt.Errorf("%w: payment %s", ErrDuplicate, p.TransactionID)
	}
	return err
}

// GetPayment retrieves a payment by ID with tenant isolation.
func (r *SQLRepository) GetPayment(ctx context.Context, tenantID string, paymentID string) (*domain.Payment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE tenant_id = ? AND id = ?`

	p, err := scanPayment(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// FindPaymentsByTxID returns every payment carrying txID, oldest first.
func (r *SQLRepository) FindPaymentsByTxID(ctx context.Context, tenantID string, txID string) ([]*domain.Payment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE tenant_id = ? AND transaction_id = ?
		ORDER BY created_at ASC`

	return r.queryPayments(ctx, query, tenantID, strings.ToUpper(strings.TrimSpace(txID)))
}

// ListPayments returns payments matching filter, newest first.
func (r *SQLRepository) ListPayments(ctx context.Context, tenantID string, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + paymentColumns + ` FROM payments WHERE tenant_id = ?`)
	args := []any{tenantID}

	if filter.Status != "" {
		b.WriteString(` AND status = ?`)
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		b.WriteString(` AND created_at >= ?`)
		args = append(args, filter.Since.UTC())
	}
	b.WriteString(` ORDER BY created_at DESC`)
	if filter.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	return r.queryPayments(ctx, b.String(), args...)
}

// UpdatePaymentStatus sets the lifecycle status and fraud score of a payment.
func (r *SQLRepository) UpdatePaymentStatus(ctx context.Context, tenantID string, paymentID string, status domain.PaymentStatus, fraudScore float64) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE payments SET status = ?, fraud_score = ? WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), string(status), fraudScore, tenantID, paymentID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *SQLRepository) queryPayments(ctx context.Context, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}

	return payments, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var inferred int
	var status string

	err := s.Scan(
		&p.ID, &p.TenantID, &p.TransactionID, &p.Amount, &p.SenderName, &p.SenderPhone,
		&p.Timestamp, &inferred, &p.SourceLanguage, &p.ExtractionMethod, &p.Confidence,
		&p.RawText, &p.SenderNumber, &status, &p.FraudScore, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.TimestampInferred = inferred == 1
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Weight, boolInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	cfg, err := scanRuleConfig(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

func scanRuleConfig(s scanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var enabled int

	if err := s.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &cfg.Weight, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) uniqueViolation(err error) bool {
	if r.driver == "postgres" {
		return postgresUniqueViolation(err)
	}
	return sqliteUniqueViolation(err)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
