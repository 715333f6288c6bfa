// Package extract turns mobile-money SMS text into structured payments.
//
// Extraction runs a configured cascade of strategies. Each strategy either
// yields a candidate carrying an amount, a transaction id and a confidence,
// or nothing. The first candidate reaching the acceptance bar wins;
// otherwise the most confident candidate seen is returned.
package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/normalize"
)

const (
	// MinTxIDLength is the shortest transaction id any strategy accepts.
	MinTxIDLength = 6

	// LongTxIDLength ids earn extra confidence.
	LongTxIDLength = 8

	// DefaultAcceptConfidence stops the cascade.
	DefaultAcceptConfidence = 0.8
)

// Strategy is one way of reading a message.
type Strategy interface {
	Method() string
	Extract(text, lang string) *Candidate
}

// Candidate is a strategy result before it becomes a ParsedPayment.
type Candidate struct {
	Amount       float64
	TxID         string
	Name         string
	Phone        string
	Timestamp    time.Time
	HasTimestamp bool
	Language     string
	Template     string
	Confidence   float64
}

// env is the read-only configuration shared by strategies.
type env struct {
	loc         *time.Location
	countryCode string
	tagger      EntityTagger
}

// Extractor is immutable after construction and safe for concurrent use.
type Extractor struct {
	strategies []Strategy
	accept     float64
	now        func() time.Time
}

// Option configures an Extractor.
type Option func(*options)

type options struct {
	now    func() time.Time
	tagger EntityTagger
}

// WithClock sets the time used for messages without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTagger plugs an entity tagger into the heuristic and fallback stages.
func WithTagger(t EntityTagger) Option {
	return func(o *options) { o.tagger = t }
}

// New builds an Extractor from configuration.
func New(cfg domain.ExtractorConfig, opts ...Option) (*Extractor, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	countryCode := cfg.CountryCode
	if countryCode == "" {
		countryCode = normalize.DefaultCountryCode
	}
	e := &env{
		loc:         normalize.Zone(cfg.UTCOffsetHours),
		countryCode: countryCode,
		tagger:      o.tagger,
	}

	names := cfg.Strategies
	if len(names) == 0 {
		names = []string{domain.MethodPattern, domain.MethodHeuristic, domain.MethodFallback}
	}
	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := newStrategy(strings.ToLower(strings.TrimSpace(name)), e)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}

	accept := cfg.AcceptConfidence
	if accept <= 0 {
		accept = DefaultAcceptConfidence
	}

	return &Extractor{
		strategies: strategies,
		accept:     accept,
		now:        o.now,
	}, nil
}

// Default returns an Extractor with the default configuration.
func Default() *Extractor {
	e, err := New(domain.DefaultConfig().Extractor)
	if err != nil {
		panic(err)
	}
	return e
}

func newStrategy(name string, e *env) (Strategy, error) {
	switch name {
	case domain.MethodPattern:
		return &PatternStrategy{env: e}, nil
	case domain.MethodHeuristic:
		return &HeuristicStrategy{env: e}, nil
	case domain.MethodFallback:
		return &FallbackStrategy{env: e}, nil
	default:
		return nil, fmt.Errorf("unsupported extraction strategy: %s", name)
	}
}

// Methods returns the configured cascade.
func (x *Extractor) Methods() []string {
	out := make([]string, len(x.strategies))
	for i, s := range x.strategies {
		out[i] = s.Method()
	}
	return out
}

// Extract parses one message. It returns nil when the text carries no
// payment keyword or no strategy resolves both an amount and an id.
func (x *Extractor) Extract(text string) *domain.ParsedPayment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lang := detectLanguage(text)
	if lang == "" {
		return nil
	}

	var best *Candidate
	var bestMethod string
	for _, s := range x.strategies {
		c := s.Extract(text, lang)
		if c == nil {
			continue
		}
		if c.Confidence >= x.accept {
			return x.toPayment(c, s.Method(), text)
		}
		// Ties keep the earlier stage.
		if best == nil || c.Confidence > best.Confidence {
			best, bestMethod = c, s.Method()
		}
	}
	if best == nil {
		return nil
	}
	return x.toPayment(best, bestMethod, text)
}

func (x *Extractor) toPayment(c *Candidate, method, text string) *domain.ParsedPayment {
	p := &domain.ParsedPayment{
		Amount:           c.Amount,
		TransactionID:    c.TxID,
		SenderName:       c.Name,
		SenderPhone:      c.Phone,
		Timestamp:        c.Timestamp,
		SourceLanguage:   c.Language,
		ExtractionMethod: method,
		Confidence:       c.Confidence,
		RawText:          text,
	}
	if !c.HasTimestamp {
		p.Timestamp = x.now()
		p.TimestampInferred = true
	}
	return p
}

// tenths returns base/10 plus 0.1 per true flag, computed exactly.
func tenths(base int, flags ...bool) float64 {
	n := base
	for _, f := range flags {
		if f {
			n++
		}
	}
	return float64(n) / 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
