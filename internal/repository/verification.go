package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
)

const verificationColumns = `id, tenant_id, payment_id, customer_name, customer_phone,
	submitted_txid, submitted_amount, status, match_method, match_confidence,
	fraud_score, risk_tier, violated_rules, created_at, verified_at`

// SaveVerification stores a verification with tenant isolation.
func (r *SQLRepository) SaveVerification(ctx context.Context, tenantID string, v *domain.Verification) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if v == nil || v.ID == "" {
		return fmt.Errorf("%w: verification id is required", ErrInvalidInput)
	}

	violated, _ := json.Marshal(v.ViolatedRules)

	query := `INSERT INTO verifications (` + verificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		v.ID, tenantID, v.PaymentID, v.CustomerName, v.CustomerPhone,
		v.SubmittedTxID, nullFloat(v.SubmittedAmount), string(v.Status), v.MatchMethod, v.MatchConfidence,
		v.FraudScore, string(v.RiskTier), string(violated), v.CreatedAt.UTC(), nullTime(v.VerifiedAt),
	)
	return err
}

// UpdateVerification records the outcome of a verification.
func (r *SQLRepository) UpdateVerification(ctx context.Context, tenantID string, v *domain.Verification) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	violated, _ := json.Marshal(v.ViolatedRules)

	query := `
		UPDATE verifications SET
			payment_id = ?, status = ?, match_method = ?, match_confidence = ?,
			fraud_score = ?, risk_tier = ?, violated_rules = ?, verified_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		v.PaymentID, string(v.Status), v.MatchMethod, v.MatchConfidence,
		v.FraudScore, string(v.RiskTier), string(violated), nullTime(v.VerifiedAt),
		tenantID, v.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// GetVerification retrieves a verification by ID with tenant isolation.
func (r *SQLRepository) GetVerification(ctx context.Context, tenantID string, verificationID string) (*domain.Verification, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + verificationColumns + ` FROM verifications WHERE tenant_id = ? AND id = ?`

	v, err := scanVerification(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, verificationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListVerifications returns verifications created since the given time, newest first.
func (r *SQLRepository) ListVerifications(ctx context.Context, tenantID string, since time.Time, limit int) ([]*domain.Verification, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + verificationColumns + ` FROM verifications
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC`
	args := []any{tenantID, since.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}

	return out, rows.Err()
}

// CountVerificationsByPhone counts claims a phone submitted since the given time.
func (r *SQLRepository) CountVerificationsByPhone(ctx context.Context, tenantID string, phone string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM verifications WHERE tenant_id = ? AND customer_phone = ? AND created_at >= ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, phone, since.UTC()).Scan(&count)
	return count, err
}

func scanVerification(s scanner) (*domain.Verification, error) {
	var v domain.Verification
	var amount sql.NullFloat64
	var verifiedAt sql.NullTime
	var status, tier, violated string

	err := s.Scan(
		&v.ID, &v.TenantID, &v.PaymentID, &v.CustomerName, &v.CustomerPhone,
		&v.SubmittedTxID, &amount, &status, &v.MatchMethod, &v.MatchConfidence,
		&v.FraudScore, &tier, &violated, &v.CreatedAt, &verifiedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Status = domain.VerificationStatus(status)
	v.RiskTier = domain.RiskTier(tier)
	if amount.Valid {
		a := amount.Float64
		v.SubmittedAmount = &a
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		v.VerifiedAt = &t
	}
	if violated != "" && violated != "null" {
		if err := json.Unmarshal([]byte(violated), &v.ViolatedRules); err != nil {
			return nil, fmt.Errorf("failed to parse violated rules for %s: %w", v.ID, err)
		}
	}

	return &v, nil
}

// SaveFraudLog stores a fraud log entry.
func (r *SQLRepository) SaveFraudLog(ctx context.Context, tenantID string, log *domain.FraudLog) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO fraud_logs (id, tenant_id, verification_id, fraud_type, risk_score, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		log.ID, tenantID, log.VerificationID, log.FraudType, log.RiskScore, log.Details, log.CreatedAt.UTC(),
	)
	return err
}

// ListFraudLogs returns fraud logs for a verification, or for the whole
// tenant when verificationID is empty.
func (r *SQLRepository) ListFraudLogs(ctx context.Context, tenantID string, verificationID string) ([]*domain.FraudLog, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT id, tenant_id, verification_id, fraud_type, risk_score, details, created_at
		FROM fraud_logs WHERE tenant_id = ?`
	args := []any{tenantID}
	if verificationID != "" {
		query += ` AND verification_id = ?`
		args = append(args, verificationID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.FraudLog
	for rows.Next() {
		var l domain.FraudLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.VerificationID, &l.FraudType, &l.RiskScore, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}

	return logs, rows.Err()
}

// Stats summarises a tenant's activity since the given time.
func (r *SQLRepository) Stats(ctx context.Context, tenantID string, since time.Time) (*domain.Stats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	stats := &domain.Stats{
		PaymentsByStatus:      map[string]int{},
		VerificationsByStatus: map[string]int{},
	}
	since = since.UTC()

	byStatus := func(table string, into map[string]int) (int, error) {
		query := `SELECT status, COUNT(*) FROM ` + table + ` WHERE tenant_id = ? AND created_at >= ? GROUP BY status`
		rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		total := 0
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return 0, err
			}
			into[status] = n
			total += n
		}
		return total, rows.Err()
	}

	var err error
	if stats.TotalPayments, err = byStatus("payments", stats.PaymentsByStatus); err != nil {
		return nil, fmt.Errorf("payment stats: %w", err)
	}
	if stats.TotalVerifications, err = byStatus("verifications", stats.VerificationsByStatus); err != nil {
		return nil, fmt.Errorf("verification stats: %w", err)
	}

	query := `SELECT COUNT(*) FROM fraud_logs WHERE tenant_id = ? AND created_at >= ?`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, since).Scan(&stats.FraudLogs); err != nil {
		return nil, fmt.Errorf("fraud log stats: %w", err)
	}

	query = `SELECT COALESCE(AVG(fraud_score), 0) FROM verifications
		WHERE tenant_id = ? AND created_at >= ? AND status NOT IN ('pending', 'failed')`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, since).Scan(&stats.AverageFraudScore); err != nil {
		return nil, fmt.Errorf("score stats: %w", err)
	}

	return stats, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
