package extract

import (
	"strings"

	"github.com/opensource-finance/momoguard/internal/domain"
)

// Provider and currency words carry no language signal.
var neutralKeywords = []string{
	"rwf", "frw", "mtn", "airtel", "mobile money", "momo", "tigo cash", "mpesa",
}

var languageKeywords = []struct {
	lang     string
	keywords []string
}{
	{domain.LangKinyarwanda, []string{"wakiriye", "kwishyura", "amafaranga", "yoherejwe", "wohereje", "kuva "}},
	{domain.LangFrench, []string{"reçu", "recu", "paiement", "virement", "transfert", "montant", "référence"}},
	{domain.LangEnglish, []string{"transaction", "payment", "transfer", "received", "deposit", "paid"}},
}

// detectLanguage returns the language of the first keyword family found,
// LangUnknown when only neutral keywords appear, and "" when the text has
// no payment keyword at all.
func detectLanguage(text string) string {
	lower := strings.ToLower(text)
	for _, family := range languageKeywords {
		for _, kw := range family.keywords {
			if strings.Contains(lower, kw) {
				return family.lang
			}
		}
	}
	for _, kw := range neutralKeywords {
		if strings.Contains(lower, kw) {
			return domain.LangUnknown
		}
	}
	return ""
}

// HasPaymentKeyword reports whether text mentions any payment keyword.
func HasPaymentKeyword(text string) bool {
	return detectLanguage(text) != ""
}
