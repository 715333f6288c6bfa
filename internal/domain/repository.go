// Package domain defines the core interfaces and types for momoguard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Payment operations
	SavePayment(ctx context.Context, tenantID string, p *Payment) error
	GetPayment(ctx context.Context, tenantID string, paymentID string) (*Payment, error)
	FindPaymentsByTxID(ctx context.Context, tenantID string, txID string) ([]*Payment, error)
	ListPayments(ctx context.Context, tenantID string, filter PaymentFilter) ([]*Payment, error)
	UpdatePaymentStatus(ctx context.Context, tenantID string, paymentID string, status PaymentStatus, fraudScore float64) error

	// Verification operations
	SaveVerification(ctx context.Context, tenantID string, v *Verification) error
	UpdateVerification(ctx context.Context, tenantID string, v *Verification) error
	GetVerification(ctx context.Context, tenantID string, verificationID string) (*Verification, error)
	ListVerifications(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Verification, error)
	CountVerificationsByPhone(ctx context.Context, tenantID string, phone string, since time.Time) (int64, error)

	// Fraud audit trail
	SaveFraudLog(ctx context.Context, tenantID string, log *FraudLog) error
	ListFraudLogs(ctx context.Context, tenantID string, verificationID string) ([]*FraudLog, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	Stats(ctx context.Context, tenantID string, since time.Time) (*Stats, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitepath"`

	// SQLiteBusyTimeout bounds how long a writer waits for the lock.
	SQLiteBusyTimeout time.Duration `mapstructure:"sqlitebusytimeout"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgreshost"`
	PostgresPort     int    `mapstructure:"postgresport"`
	PostgresUser     string `mapstructure:"postgresuser"`
	PostgresPassword string `mapstructure:"postgrespassword"`
	PostgresDB       string `mapstructure:"postgresdb"`
	PostgresSSLMode  string `mapstructure:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxopenconns"`
	MaxIdleConns    int           `mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"`
}
