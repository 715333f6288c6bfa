package extract

import (
	"github.com/opensource-finance/momoguard/internal/domain"
)

// HeuristicStrategy runs independent field finders over the text.
// With an EntityTagger configured it becomes the ml-assisted variant.
type HeuristicStrategy struct {
	env *env
}

// Method implements Strategy.
func (s *HeuristicStrategy) Method() string { return domain.MethodHeuristic }

// Extract requires both an amount and a transaction id.
func (s *HeuristicStrategy) Extract(text, lang string) *Candidate {
	amount, ok := findMoney(text)
	if !ok {
		return nil
	}
	txid := findTxID(text)
	if txid == "" {
		return nil
	}

	c := &Candidate{
		Amount:   amount,
		TxID:     txid,
		Name:     findName(text, s.env.tagger),
		Phone:    findPhone(text, s.env.countryCode),
		Language: lang,
	}
	c.Timestamp, c.HasTimestamp = findTimestamp(text, s.env.loc)

	c.Confidence = 0.6
	if c.Name != "" && c.Phone != "" {
		c.Confidence = 0.8
	}
	return c
}

// FallbackStrategy loosens id acceptance and allows a bare-number amount.
type FallbackStrategy struct {
	env *env
}

// Method implements Strategy.
func (s *FallbackStrategy) Method() string { return domain.MethodFallback }

// Extract scores 0.4 for amount and id, plus 0.1 per optional field, at most 0.7.
func (s *FallbackStrategy) Extract(text, lang string) *Candidate {
	txid := findLooseTxID(text)
	if txid == "" {
		return nil
	}
	amount, ok := findMoney(text)
	if !ok {
		amount, ok = findBareAmount(text, txid)
	}
	if !ok {
		return nil
	}

	c := &Candidate{
		Amount:   amount,
		TxID:     txid,
		Name:     findName(text, s.env.tagger),
		Phone:    findPhone(text, s.env.countryCode),
		Language: lang,
	}
	c.Timestamp, c.HasTimestamp = findTimestamp(text, s.env.loc)
	c.Confidence = clamp(tenths(4, c.Phone != "", c.Name != "", c.HasTimestamp), 0.4, 0.7)
	return c
}
