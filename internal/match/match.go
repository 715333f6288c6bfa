// Package match reconciles customer payment claims against stored payments.
package match

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/normalize"
)

const (
	// DefaultAcceptThreshold is the conventional bar for a confident match.
	// Acceptance is the caller's decision; Match never applies it.
	DefaultAcceptThreshold = 0.7

	// NoCandidates is the confidence reported for an empty pool.
	NoCandidates = -1.0

	// NeutralAmountSimilarity is used when the claim has no amount.
	NeutralAmountSimilarity = 0.5

	// SuggestionFloor is the exclusive lower bound for suggestions.
	SuggestionFloor = 0.5

	// MaxSuggestions caps the suggestion list.
	MaxSuggestions = 3
)

// ErrNilCandidate is returned when the pool contains a nil payment.
var ErrNilCandidate = errors.New("match: nil candidate in pool")

// Weights blend the component similarities.
type Weights struct {
	TxID   float64
	Phone  float64
	Amount float64
}

// DefaultWeights returns 0.6 / 0.3 / 0.1.
func DefaultWeights() Weights {
	return Weights{TxID: 0.6, Phone: 0.3, Amount: 0.1}
}

// Matcher scores claims against candidate pools.
// It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	weights           Weights
	countryCode       string
	parallelThreshold int
	maxWorkers        int
}

// New creates a Matcher from configuration. Zero weights fall back to the
// defaults as a set.
func New(cfg domain.MatcherConfig) *Matcher {
	w := Weights{TxID: cfg.TxIDWeight, Phone: cfg.PhoneWeight, Amount: cfg.AmountWeight}
	if w.TxID+w.Phone+w.Amount <= 0 {
		w = DefaultWeights()
	}
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Matcher{
		weights:           w,
		countryCode:       normalize.DefaultCountryCode,
		parallelThreshold: cfg.ParallelThreshold,
		maxWorkers:        workers,
	}
}

// Default returns a Matcher with default configuration.
func Default() *Matcher {
	return New(domain.DefaultConfig().Matcher)
}

// WithCountryCode returns a copy that normalizes local phone numbers with cc.
func (m *Matcher) WithCountryCode(cc string) *Matcher {
	cp := *m
	if cc != "" {
		cp.countryCode = cc
	}
	return &cp
}

// Weights returns the blend in use.
func (m *Matcher) Weights() Weights { return m.weights }

// Match scores every candidate and returns the best one, even when it falls
// below any acceptance threshold. Ties keep the earliest candidate. The pool
// is not modified.
func (m *Matcher) Match(txid, phone string, amount *float64, pool []*domain.Payment) (*domain.MatchResult, error) {
	if len(pool) == 0 {
		return &domain.MatchResult{Confidence: NoCandidates}, nil
	}
	for _, p := range pool {
		if p == nil {
			return nil, ErrNilCandidate
		}
	}

	claim := claimKey{
		txid:   strings.ToLower(strings.TrimSpace(txid)),
		phone:  normalize.PhoneWithCountry(phone, m.countryCode),
		amount: amount,
	}

	scores := make([]float64, len(pool))
	if m.parallelThreshold > 0 && len(pool) >= m.parallelThreshold && m.maxWorkers > 1 {
		m.scoreParallel(claim, pool, scores)
	} else {
		for i, p := range pool {
			scores[i] = m.score(claim, p)
		}
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	return &domain.MatchResult{
		Payment:     pool[best],
		Confidence:  scores[best],
		Suggestions: suggestions(pool, scores),
	}, nil
}

// Score returns the combined similarity of a single candidate.
func (m *Matcher) Score(txid, phone string, amount *float64, candidate *domain.Payment) (float64, error) {
	if candidate == nil {
		return 0, ErrNilCandidate
	}
	return m.score(claimKey{
		txid:   strings.ToLower(strings.TrimSpace(txid)),
		phone:  normalize.PhoneWithCountry(phone, m.countryCode),
		amount: amount,
	}, candidate), nil
}

type claimKey struct {
	txid   string
	phone  string
	amount *float64
}

// score is the weighted mean of the component similarities, so a perfect
// candidate scores exactly 1.
func (m *Matcher) score(c claimKey, p *domain.Payment) float64 {
	t := txidSimilarity(c.txid, strings.ToLower(p.TransactionID))
	ph := PhoneSimilarity(c.phone, normalize.PhoneWithCountry(p.SenderPhone, m.countryCode))
	a := AmountSimilarity(c.amount, p.Amount)

	w := m.weights
	num := w.TxID*t + w.Phone*ph + w.Amount*a
	den := w.TxID + w.Phone + w.Amount
	return num / den
}

// scoreParallel fills scores using a bounded pool of goroutines over
// contiguous chunks. Each index is written exactly once.
func (m *Matcher) scoreParallel(c claimKey, pool []*domain.Payment, scores []float64) {
	workers := m.maxWorkers
	if workers > len(pool) {
		workers = len(pool)
	}
	chunk := (len(pool) + workers - 1) / workers

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for start := 0; start < len(pool); start += chunk {
		end := start + chunk
		if end > len(pool) {
			end = len(pool)
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			for i := lo; i < hi; i++ {
				scores[i] = m.score(c, pool[i])
			}
		}(start, end)
	}

	wg.Wait()
}

func suggestions(pool []*domain.Payment, scores []float64) []domain.Suggestion {
	idx := make([]int, 0, len(pool))
	for i, s := range scores {
		if s > SuggestionFloor {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if len(idx) > MaxSuggestions {
		idx = idx[:MaxSuggestions]
	}

	out := make([]domain.Suggestion, 0, len(idx))
	for _, i := range idx {
		p := pool[i]
		out = append(out, domain.Suggestion{
			PaymentID:     p.ID,
			TransactionID: p.TransactionID,
			Amount:        p.Amount,
			Timestamp:     p.Timestamp,
			Confidence:    scores[i],
		})
	}
	return out
}

// TxIDSimilarity is 1 minus the case-insensitive Levenshtein distance over
// the longer rune length.
func TxIDSimilarity(a, b string) float64 {
	return txidSimilarity(strings.ToLower(a), strings.ToLower(b))
}

func txidSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)), 1)
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// PhoneSimilarity gives full credit only for identical normalized numbers.
func PhoneSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return 0
}

// AmountSimilarity compares a claimed amount with a stored one.
func AmountSimilarity(claimed *float64, stored float64) float64 {
	if claimed == nil {
		return NeutralAmountSimilarity
	}
	c := *claimed
	denom := math.Max(math.Max(c, stored), 1)
	sim := 1 - math.Abs(c-stored)/denom
	if sim < 0 {
		return 0
	}
	return sim
}
