package risk

import (
	"strings"
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/normalize"
)

// historyLayouts are the CreatedAt formats accepted besides the
// normalize.TimestampLayouts family.
var historyLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// HistorySummary is what the behavioural score saw.
type HistorySummary struct {
	Entries int
	Recent  int
	Reused  bool
	Skipped int
}

// ParseHistoryTime parses a stored CreatedAt. Values without a zone are UTC.
func ParseHistoryTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range historyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return normalize.Timestamp(s, time.UTC)
}

// summarize counts recent entries and detects a reused transaction id.
// Entries whose CreatedAt cannot be parsed contribute nothing.
func (p Policy) summarize(claim *domain.ClaimRequest, history []domain.HistoryEntry, now time.Time) HistorySummary {
	var sum HistorySummary
	claimed := normalize.TxID(claim.TransactionID)

	for _, h := range history {
		t, ok := ParseHistoryTime(h.CreatedAt)
		if !ok {
			sum.Skipped++
			continue
		}
		sum.Entries++
		if claimed != "" && normalize.TxID(h.TransactionID) == claimed {
			sum.Reused = true
		}
		if age := now.Sub(t); age >= 0 && age <= p.RecentWindow {
			sum.Recent++
		}
	}
	return sum
}

// behavioral turns a history summary into a score in [0, 1].
// An empty history is neither trusted nor distrusted.
func (p Policy) behavioral(sum HistorySummary) float64 {
	if sum.Entries == 0 {
		return p.NeutralBehavior
	}

	score := 0.0
	switch {
	case sum.Recent > p.VelocityHigh:
		score += p.VelocityHighWeight
	case sum.Recent > p.VelocityMedium:
		score += p.VelocityMediumWeight
	}
	if sum.Reused {
		score += p.ReusedTxIDWeight
	}
	return min(score, 1)
}
