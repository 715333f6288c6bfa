package extract

import (
	"regexp"

	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/normalize"
)

const (
	amountExpr   = `\d+(?:,\d{3})*(?:\.\d{2})?`
	dateTimeExpr = `(?:\d{1,2}[/-]\d{1,2}[/-]\d{4}|\d{4}-\d{1,2}-\d{1,2})\s+\d{1,2}:\d{2}(?::\d{2})?`
	phoneExpr    = `\+?\d{10,15}`
	currencyExpr = `(?:rwf|frw)`
	refWordExpr  = `(?:r[ée]f(?:[ée]rence|erence)?|txn ?id|tx ?id|transaction id|nimero|id)`

	// Shared tail pieces of the language templates.
	amountGroup = `(?:` + currencyExpr + ` ?)?(?P<amount>` + amountExpr + `)(?: ?` + currencyExpr + `)?`
	namePhone   = `(?P<name>[^0-9+]+?) ?(?P<phone>` + phoneExpr + `)`
	refGroup    = `[:.]? ?(?P<ref>\w+)`
)

// template is one language-tagged message shape.
type template struct {
	name string
	lang string
	re   *regexp.Regexp
}

func compileTemplate(name, lang, expr string) template {
	return template{name: name, lang: lang, re: regexp.MustCompile(`(?is)` + expr)}
}

// templates are ordered richest first: date and reference templates
// precede the looser ones.
var templates = []template{
	compileTemplate("en-received", domain.LangEnglish,
		`(?:you have )?received `+amountGroup+` from `+namePhone+`.*?\bon (?P<datetime>`+dateTimeExpr+`).*?\bref(?:erence)?`+refGroup),
	compileTemplate("en-payment", domain.LangEnglish,
		`(?:payment of )?`+amountGroup+` received from `+namePhone+`.*?(?P<datetime>`+dateTimeExpr+`).*?\b(?:reference|ref|id)`+refGroup),
	compileTemplate("rw-wakiriye", domain.LangKinyarwanda,
		`(?:wakiriye )?`+amountGroup+` kuva (?:kwa )?`+namePhone+`.*?\bku (?P<datetime>`+dateTimeExpr+`).*?\bref`+refGroup),
	compileTemplate("rw-kwishyura", domain.LangKinyarwanda,
		`(?:kwishyura )?`+amountGroup+` (?:kuva|kwa) `+namePhone+`.*?(?P<datetime>`+dateTimeExpr+`).*?\b(?:nimero|ref)`+refGroup),
	compileTemplate("fr-recu", domain.LangFrench,
		`(?:vous avez )?re[çc]u `+amountGroup+` de `+namePhone+`.*?\ble (?P<datetime>`+dateTimeExpr+`).*?\br[ée]f(?:[ée]rence)?`+refGroup),
	compileTemplate("fr-paiement", domain.LangFrench,
		`(?:paiement de )?`+amountGroup+` re[çc]u de `+namePhone+`.*?(?P<datetime>`+dateTimeExpr+`).*?\b(?:r[ée]f[ée]rence|ref|id)`+refGroup),

	// No timestamp.
	compileTemplate("en-received-nodate", domain.LangEnglish,
		`received `+amountGroup+` from `+namePhone+`.*?\b`+refWordExpr+refGroup),
	compileTemplate("rw-nodate", domain.LangKinyarwanda,
		amountGroup+` (?:kuva|kwa) (?:kwa )?`+namePhone+`.*?\b`+refWordExpr+refGroup),
	compileTemplate("fr-nodate", domain.LangFrench,
		`re[çc]u `+amountGroup+` de `+namePhone+`.*?\b`+refWordExpr+refGroup),

	// Amount and reference only.
	compileTemplate("currency-then-ref", domain.LangUnknown,
		currencyExpr+` ?(?P<amount>`+amountExpr+`).*?\b`+refWordExpr+`[:.]? ?(?P<ref>[A-Z0-9]{6,20})\b`),
	compileTemplate("amount-then-ref", domain.LangUnknown,
		`(?P<amount>`+amountExpr+`) ?`+currencyExpr+`\b.*?\b`+refWordExpr+`[:.]? ?(?P<ref>[A-Z0-9]{6,20})\b`),
	compileTemplate("ref-then-currency", domain.LangUnknown,
		`\b`+refWordExpr+`[:.]? ?(?P<ref>[A-Z0-9]{6,20})\b.*?`+currencyExpr+` ?(?P<amount>`+amountExpr+`)`),
}

// PatternStrategy matches whole-message templates.
type PatternStrategy struct {
	env *env
}

// Method implements Strategy.
func (s *PatternStrategy) Method() string { return domain.MethodPattern }

// Extract returns the first template yielding a well-formed amount and
// transaction id, or nil.
func (s *PatternStrategy) Extract(text, lang string) *Candidate {
	for _, tpl := range templates {
		m := tpl.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		group := func(name string) string {
			if i := tpl.re.SubexpIndex(name); i >= 0 {
				return m[i]
			}
			return ""
		}

		amount, ok := normalize.Amount(group("amount"))
		if !ok {
			continue
		}
		txid := normalize.TxID(group("ref"))
		if len(txid) < MinTxIDLength {
			continue
		}

		c := &Candidate{
			Amount:   amount,
			TxID:     txid,
			Name:     normalize.Name(group("name")),
			Phone:    normalize.PhoneWithCountry(group("phone"), s.env.countryCode),
			Language: tpl.lang,
			Template: tpl.name,
		}
		if c.Language == domain.LangUnknown {
			c.Language = lang
		}
		if raw := group("datetime"); raw != "" {
			c.Timestamp, c.HasTimestamp = normalize.Timestamp(raw, s.env.loc)
		}
		c.Confidence = patternConfidence(c)
		return c
	}
	return nil
}

// patternConfidence is 0.9 when every field resolved, otherwise 0.4 plus 0.1
// per optional signal, bounded to [0.4, 0.9].
func patternConfidence(c *Candidate) float64 {
	longID := len(c.TxID) >= LongTxIDLength
	if longID && c.Name != "" && c.Phone != "" && c.HasTimestamp {
		return 0.9
	}
	return tenths(4, longID, c.Phone != "", c.Name != "", c.HasTimestamp)
}
