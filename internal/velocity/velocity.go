// Package velocity builds claim history and per-phone claim counts.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/normalize"
)

// Service reads prior claims for the risk scorer.
type Service struct {
	repo  domain.Repository
	cache domain.Cache

	historyLimit  int
	historyWindow time.Duration
	countryCode   string
}

// NewService creates a new velocity service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache, cfg domain.VerifyConfig) *Service {
	s := &Service{
		repo:          repo,
		cache:         cache,
		historyLimit:  cfg.HistoryLimit,
		historyWindow: cfg.HistoryWindow,
		countryCode:   normalize.DefaultCountryCode,
	}
	if s.historyLimit <= 0 {
		s.historyLimit = 50
	}
	if s.historyWindow <= 0 {
		s.historyWindow = 24 * time.Hour
	}
	return s
}

// WithCountryCode sets the code used for phones given in local form.
func (s *Service) WithCountryCode(cc string) *Service {
	if cc != "" {
		s.countryCode = cc
	}
	return s
}

// History returns the tenant's most recent claims, newest first, skipping
// excludeID (the claim being scored).
func (s *Service) History(ctx context.Context, tenantID, excludeID string) ([]domain.HistoryEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	since := time.Now().Add(-s.historyWindow)
	// One extra row so excluding the current claim still leaves a full page.
	verifications, err := s.repo.ListVerifications(ctx, tenantID, since, s.historyLimit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}

	history := make([]domain.HistoryEntry, 0, len(verifications))
	for _, v := range verifications {
		if v.ID == excludeID {
			continue
		}
		if len(history) == s.historyLimit {
			break
		}
		history = append(history, Entry(v))
	}
	return history, nil
}

// Entry converts a stored verification into a history entry.
func Entry(v *domain.Verification) domain.HistoryEntry {
	e := domain.HistoryEntry{
		TransactionID: v.SubmittedTxID,
		Phone:         v.CustomerPhone,
		CreatedAt:     v.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if v.SubmittedAmount != nil {
		e.Amount = strconv.FormatFloat(*v.SubmittedAmount, 'f', -1, 64)
	}
	return e
}

// ClaimCount returns the number of claims a phone submitted within a window.
// Verifications store phones in canonical form.
// This is the VelocityGetter function signature expected by the rule engine.
func (s *Service) ClaimCount(ctx context.Context, tenantID, phone string, windowSecs int) (int64, error) {
	if tenantID == "" || phone == "" {
		return 0, fmt.Errorf("tenantID and phone are required")
	}

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)
	count, err := s.repo.CountVerificationsByPhone(ctx, tenantID, normalize.PhoneWithCountry(phone, s.countryCode), since)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return count, nil
}

// RecordClaim bumps the phone's rolling claim counter and returns the new
// value. Without a cache it falls back to ClaimCount over the history window.
func (s *Service) RecordClaim(ctx context.Context, tenantID, phone string) (int64, error) {
	key := "claims:" + normalize.PhoneWithCountry(phone, s.countryCode)
	if s.cache == nil {
		return s.ClaimCount(ctx, tenantID, phone, int(s.historyWindow/time.Second))
	}
	return s.cache.IncrementCounter(ctx, tenantID, key, s.historyWindow)
}

// GetVelocityGetter returns the VelocityGetter for the rule engine.
func (s *Service) GetVelocityGetter() func(ctx context.Context, tenantID, phone string, windowSecs int) (int64, error) {
	return s.ClaimCount
}
