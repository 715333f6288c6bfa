package velocity

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/momoguard/internal/cache"
	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "velocity.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func saveClaim(t *testing.T, repo domain.Repository, tenantID, id, phone, txID string, amount *float64, created time.Time) {
	t.Helper()
	v := &domain.Verification{
		ID:              id,
		TenantID:        tenantID,
		CustomerPhone:   phone,
		SubmittedTxID:   txID,
		SubmittedAmount: amount,
		Status:          domain.VerificationVerified,
		CreatedAt:       created,
	}
	if err := repo.SaveVerification(context.Background(), tenantID, v); err != nil {
		t.Fatalf("failed to save verification: %v", err)
	}
}

func TestHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC()

	amount := 5000.0
	for i := 0; i < 4; i++ {
		saveClaim(t, repo, tenantID, fmt.Sprintf("ver-%d", i), "+250788123456",
			fmt.Sprintf("TX00000000%d", i), &amount, now.Add(-time.Duration(i)*time.Minute))
	}
	// Outside the window.
	saveClaim(t, repo, tenantID, "ver-old", "+250788123456", "TXOLD000001", nil, now.Add(-48*time.Hour))
	// Another tenant.
	saveClaim(t, repo, "tenant-002", "ver-other", "+250788123456", "TXOTHER0001", nil, now)

	t.Run("RecentClaimsNewestFirst", func(t *testing.T) {
		svc := NewService(repo, nil, domain.VerifyConfig{})
		history, err := svc.History(ctx, tenantID, "")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 4 {
			t.Fatalf("expected 4 entries, got %d", len(history))
		}
		if history[0].TransactionID != "TX000000000" {
			t.Errorf("expected newest first, got %s", history[0].TransactionID)
		}
		if history[0].Amount != "5000" {
			t.Errorf("expected amount '5000', got %q", history[0].Amount)
		}
		if _, err := time.Parse(time.RFC3339Nano, history[0].CreatedAt); err != nil {
			t.Errorf("CreatedAt not RFC3339: %v", err)
		}
	})

	t.Run("ExcludesCurrentClaim", func(t *testing.T) {
		svc := NewService(repo, nil, domain.VerifyConfig{})
		history, err := svc.History(ctx, tenantID, "ver-0")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		for _, h := range history {
			if h.TransactionID == "TX000000000" {
				t.Error("current claim must not be part of its own history")
			}
		}
		if len(history) != 3 {
			t.Errorf("expected 3 entries, got %d", len(history))
		}
	})

	t.Run("Limit", func(t *testing.T) {
		svc := NewService(repo, nil, domain.VerifyConfig{HistoryLimit: 2})
		history, err := svc.History(ctx, tenantID, "ver-0")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 2 {
			t.Errorf("expected 2 entries, got %d", len(history))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		svc := NewService(repo, nil, domain.VerifyConfig{})
		if _, err := svc.History(ctx, "", ""); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestEntry(t *testing.T) {
	created := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	amount := 1234.5

	e := Entry(&domain.Verification{
		SubmittedTxID:   "TX123456789",
		CustomerPhone:   "+250788123456",
		SubmittedAmount: &amount,
		CreatedAt:       created,
	})
	if e.Amount != "1234.5" || e.CreatedAt != "2024-01-15T14:30:00Z" {
		t.Errorf("unexpected entry %+v", e)
	}

	e = Entry(&domain.Verification{SubmittedTxID: "TX1", CreatedAt: created})
	if e.Amount != "" {
		t.Errorf("expected empty amount, got %q", e.Amount)
	}
}

func TestClaimCount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		saveClaim(t, repo, tenantID, fmt.Sprintf("ver-%d", i), "+250788123456", "TX1234567890", nil, now)
	}
	saveClaim(t, repo, tenantID, "ver-old", "+250788123456", "TX1234567890", nil, now.Add(-3*time.Hour))

	svc := NewService(repo, nil, domain.VerifyConfig{})

	tests := []struct {
		name   string
		tenant string
		phone  string
		window int
		want   int64
	}{
		{"WithinHour", tenantID, "+250788123456", 3600, 5},
		{"LocalFormat", tenantID, "0788123456", 3600, 5},
		{"WiderWindow", tenantID, "+250788123456", 4 * 3600, 6},
		{"UnknownPhone", tenantID, "+250788000000", 3600, 0},
		{"OtherTenant", "other-tenant", "+250788123456", 3600, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ClaimCount(ctx, tt.tenant, tt.phone, tt.window)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}

	t.Run("RequiresTenantAndPhone", func(t *testing.T) {
		if _, err := svc.ClaimCount(ctx, "", "+250788123456", 3600); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := svc.ClaimCount(ctx, tenantID, "", 3600); err == nil {
			t.Error("expected error for empty phone")
		}
	})

	t.Run("VelocityGetter", func(t *testing.T) {
		getter := svc.GetVelocityGetter()
		count, err := getter(ctx, tenantID, "+250788123456", 3600)
		if err != nil {
			t.Fatalf("VelocityGetter failed: %v", err)
		}
		if count != 5 {
			t.Errorf("expected count 5, got %d", count)
		}
	})
}

func TestRecordClaim(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("CacheCounter", func(t *testing.T) {
		lru := cache.NewLRUCache(100)
		defer lru.Close()
		svc := NewService(repo, lru, domain.VerifyConfig{})

		for want := int64(1); want <= 3; want++ {
			got, err := svc.RecordClaim(ctx, "tenant-001", "0788123456")
			if err != nil {
				t.Fatalf("RecordClaim failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}

		// Same phone in canonical form shares the counter.
		got, _ := svc.RecordClaim(ctx, "tenant-001", "+250788123456")
		if got != 4 {
			t.Errorf("expected 4, got %d", got)
		}
	})

	t.Run("FallsBackToRepository", func(t *testing.T) {
		saveClaim(t, repo, "tenant-001", "ver-1", "+250788999999", "TX1234567890", nil, time.Now().UTC())
		svc := NewService(repo, nil, domain.VerifyConfig{})

		got, err := svc.RecordClaim(ctx, "tenant-001", "+250788999999")
		if err != nil {
			t.Fatalf("RecordClaim failed: %v", err)
		}
		if got != 1 {
			t.Errorf("expected 1, got %d", got)
		}
	})
}
