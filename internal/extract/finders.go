package extract

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/opensource-finance/momoguard/internal/normalize"
)

// EntityTagger finds person names in free text. Implementations are usually
// backed by a trained model; the heuristic strategy falls back to a
// capitalised-bigram scan without one.
type EntityTagger interface {
	PersonNames(text string) []string
}

var (
	moneyRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)` + currencyExpr + `\s?(` + amountExpr + `)`),
		regexp.MustCompile(`(?i)(` + amountExpr + `)\s?` + currencyExpr + `\b`),
		regexp.MustCompile(`(?i)\b(?:amount|montant|amafaranga|received|wakiriye|re[çc]u)[:\s]+(` + amountExpr + `)\b`),
	}

	phoneRe = regexp.MustCompile(`(?:^|[^0-9A-Za-z+])(\+?250\d{9}|\+?\d{10,15})\b`)

	dateRes = []*regexp.Regexp{
		regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4}\s+\d{1,2}:\d{2}(?::\d{2})?)`),
		regexp.MustCompile(`(\d{1,2}-\d{1,2}-\d{4}\s+\d{1,2}:\d{2}(?::\d{2})?)`),
		regexp.MustCompile(`(\d{4}-\d{1,2}-\d{1,2}\s+\d{1,2}:\d{2}(?::\d{2})?)`),
	}

	anchoredTxIDRe   = regexp.MustCompile(`(?i)\b` + refWordExpr + `(?:[:.\s]|no\.?)*([A-Z0-9]{8,20})\b`)
	standaloneTxIDRe = regexp.MustCompile(`(?i)\b([A-Z0-9]{10,20})\b`)
	looseTxIDRe      = regexp.MustCompile(`(?i)\b([A-Z0-9]{8,20})\b`)

	introducedNameRe = regexp.MustCompile(`\b(?i:from|kuva(?: kwa)?|de|par)\s+([A-Z][A-Za-z'\-]+(?:\s+[A-Z][A-Za-z'\-]+){0,2})`)
	bigramNameRe     = regexp.MustCompile(`\b([A-Z][a-z]{2,}\s+[A-Z][a-z]{2,})\b`)
	bareNumberRe     = regexp.MustCompile(`\b(` + amountExpr + `)\b`)
)

// nonNameWords are capitalised words that appear in provider boilerplate.
var nonNameWords = map[string]struct{}{
	"you": {}, "your": {}, "have": {}, "mobile": {}, "money": {}, "mtn": {}, "airtel": {},
	"tigo": {}, "cash": {}, "momo": {}, "transaction": {}, "payment": {}, "balance": {},
	"new": {}, "thank": {}, "thanks": {}, "ref": {}, "reference": {}, "fee": {},
	"vous": {}, "avez": {}, "solde": {}, "merci": {}, "wakiriye": {}, "amafaranga": {},
	"financial": {}, "received": {}, "from": {}, "date": {}, "on": {}, "at": {},
	"le": {}, "ku": {}, "id": {},
}

// Bare-number amounts outside this range are treated as noise.
const (
	minBareAmount = 100
	maxBareAmount = 10_000_000
)

func findMoney(text string) (float64, bool) {
	for _, re := range moneyRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v, ok := normalize.Amount(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func findPhone(text, countryCode string) string {
	m := phoneRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return normalize.PhoneWithCountry(m[1], countryCode)
}

func findTimestamp(text string, loc *time.Location) (time.Time, bool) {
	for _, re := range dateRes {
		if m := re.FindStringSubmatch(text); m != nil {
			if t, ok := normalize.Timestamp(m[1], loc); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func findName(text string, tagger EntityTagger) string {
	if tagger != nil {
		for _, n := range tagger.PersonNames(text) {
			if name := normalize.Name(n); name != "" {
				return name
			}
		}
	}
	if m := introducedNameRe.FindStringSubmatch(text); m != nil {
		if name := normalize.Name(stripNonNames(m[1])); name != "" {
			return name
		}
	}
	for _, m := range bigramNameRe.FindAllStringSubmatch(text, -1) {
		if !containsNonName(m[1]) {
			return normalize.Name(m[1])
		}
	}
	return ""
}

// stripNonNames truncates a capitalised run at the first boilerplate word.
func stripNonNames(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if _, bad := nonNameWords[strings.ToLower(w)]; bad {
			return strings.Join(words[:i], " ")
		}
	}
	return strings.Join(words, " ")
}

func containsNonName(s string) bool {
	for _, w := range strings.Fields(s) {
		if _, bad := nonNameWords[strings.ToLower(w)]; bad {
			return true
		}
	}
	return false
}

// findTxID prefers a keyword-anchored token and falls back to a standalone
// mixed token that is neither numeric nor phone shaped.
func findTxID(text string) string {
	for _, m := range anchoredTxIDRe.FindAllStringSubmatch(text, -1) {
		if hasDigit(m[1]) {
			return normalize.TxID(m[1])
		}
	}
	for _, m := range standaloneTxIDRe.FindAllStringSubmatch(text, -1) {
		if plausibleID(m[1]) {
			return normalize.TxID(m[1])
		}
	}
	return ""
}

// findLooseTxID accepts any 8+ character token that is not pure digits and
// not phone shaped. Lowercase dictionary words are skipped.
func findLooseTxID(text string) string {
	if id := findTxID(text); id != "" {
		return id
	}
	for _, m := range looseTxIDRe.FindAllStringSubmatch(text, -1) {
		tok := m[1]
		if normalize.IsDigits(tok) || normalize.PhoneShaped(tok) {
			continue
		}
		if hasDigit(tok) || isUpper(tok) {
			return normalize.TxID(tok)
		}
	}
	return ""
}

// findBareAmount returns the first plain number in the accepted range once
// phone, date and id spans are blanked out.
func findBareAmount(text, txid string) (float64, bool) {
	scrub := text
	for _, re := range append([]*regexp.Regexp{phoneRe}, dateRes...) {
		scrub = re.ReplaceAllStringFunc(scrub, blank)
	}
	if txid != "" {
		scrub = regexp.MustCompile(`(?i)`+regexp.QuoteMeta(txid)).ReplaceAllStringFunc(scrub, blank)
	}
	for _, m := range bareNumberRe.FindAllStringSubmatch(scrub, -1) {
		v, ok := normalize.Amount(m[1])
		if ok && v >= minBareAmount && v <= maxBareAmount {
			return v, true
		}
	}
	return 0, false
}

func blank(s string) string { return strings.Repeat(" ", len(s)) }

func plausibleID(tok string) bool {
	return hasDigit(tok) && !normalize.IsDigits(tok) && !normalize.PhoneShaped(tok)
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func isUpper(s string) bool {
	return strings.ToUpper(s) == s && strings.IndexFunc(s, unicode.IsLetter) >= 0
}
