package risk

import (
	"math"
	"sort"

	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/normalize"
)

// AnomalyDetector produces an optional signal in [0, 1]. ok is false when
// the detector has nothing to say, in which case the blend ignores it.
type AnomalyDetector interface {
	Anomaly(claim *domain.ClaimRequest, payment *domain.Payment, history []domain.HistoryEntry) (score float64, ok bool)
}

// madScale makes the median absolute deviation comparable to a standard deviation.
const madScale = 0.6745

// AmountOutlierDetector flags amounts far from the claimant's usual ones,
// using the modified z-score over history amounts.
type AmountOutlierDetector struct {
	// MinSamples is the fewest parseable history amounts needed.
	MinSamples int
	// Cutoff is the modified z-score that maps to a full signal.
	Cutoff float64
}

// NewAmountOutlierDetector returns a detector with common defaults.
func NewAmountOutlierDetector() *AmountOutlierDetector {
	return &AmountOutlierDetector{MinSamples: 5, Cutoff: 3.5}
}

// Anomaly implements AnomalyDetector.
func (d *AmountOutlierDetector) Anomaly(claim *domain.ClaimRequest, payment *domain.Payment, history []domain.HistoryEntry) (float64, bool) {
	var x float64
	switch {
	case claim != nil && claim.Amount != nil:
		x = *claim.Amount
	case payment != nil:
		x = payment.Amount
	default:
		return 0, false
	}

	amounts := make([]float64, 0, len(history))
	for _, h := range history {
		if v, ok := normalize.Amount(h.Amount); ok {
			amounts = append(amounts, v)
		}
	}
	if len(amounts) < max(d.MinSamples, 1) {
		return 0, false
	}

	med := median(amounts)
	dev := make([]float64, len(amounts))
	for i, v := range amounts {
		dev[i] = math.Abs(v - med)
	}
	mad := median(dev)

	if mad == 0 {
		if x == med {
			return 0, true
		}
		return 1, true
	}

	z := madScale * math.Abs(x-med) / mad
	return math.Min(z/d.Cutoff, 1), true
}

func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
