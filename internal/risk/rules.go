package risk

import (
	"math"
	"regexp"
	"strings"

	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/normalize"
)

var (
	sequentialPrefix = regexp.MustCompile(`^(012|123|234|345|456|567|678|789|890)`)
	testPrefix       = regexp.MustCompile(`(?i)^(ABC|TEST|FAKE)`)
	namePatterns     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^test`),
		regexp.MustCompile(`(?i)^fake`),
		regexp.MustCompile(`(?i)^dummy`),
		regexp.MustCompile(`(?i)admin`),
		regexp.MustCompile(`(?i)user\d+`),
	}
)

// denyWords mark test or abusive input in ids and names.
var denyWords = []string{"test", "fake", "fraud", "scam", "dummy"}

// rwandaPrefixes are the operator prefixes that follow the country code.
var rwandaPrefixes = map[string]bool{"78": true, "79": true, "72": true, "73": true}

// facts are the inputs every built-in rule sees. payment is never nil;
// hasPayment tells an absent payment from an empty one.
type facts struct {
	claim      *domain.ClaimRequest
	payment    *domain.Payment
	hasPayment bool
}

// builtin is one rule of the fixed rule set.
type builtin struct {
	id    string
	check func(p Policy, f facts) bool
}

// builtins run in this order; ViolatedRules follows it.
var builtins = []builtin{
	{domain.RuleTxIDMismatch, txidMismatch},
	{domain.RulePhoneMismatch, phoneMismatch},
	{domain.RuleAmountMismatch, amountMismatch},
	{domain.RuleSuspiciousTxIDPattern, func(_ Policy, f facts) bool { return SuspiciousTxID(f.claim.TransactionID) }},
	{domain.RuleSuspiciousTiming, suspiciousTiming},
	{domain.RuleHighAmount, highAmount},
	{domain.RuleSuspiciousName, func(_ Policy, f facts) bool { return SuspiciousName(f.claim.Name) }},
	{domain.RuleInvalidPhone, func(pol Policy, f facts) bool { return InvalidPhone(pol.phone(f.claim.Phone)) }},
}

func newFacts(c *domain.ClaimRequest, p *domain.Payment) facts {
	f := facts{claim: c, payment: p, hasPayment: p != nil}
	if p == nil {
		f.payment = &domain.Payment{}
	}
	return f
}

func txidMismatch(_ Policy, f facts) bool {
	return normalize.TxID(f.claim.TransactionID) != normalize.TxID(f.payment.TransactionID)
}

func phoneMismatch(pol Policy, f facts) bool {
	return pol.phone(f.claim.Phone) != pol.phone(f.payment.SenderPhone)
}

// amountMismatch needs both amounts.
func amountMismatch(pol Policy, f facts) bool {
	if f.claim.Amount == nil || !f.hasPayment {
		return false
	}
	return math.Abs(*f.claim.Amount-f.payment.Amount) > pol.AmountTolerance
}

// suspiciousTiming reads the hour in the policy's zone and ignores
// timestamps the extractor had to infer.
func suspiciousTiming(pol Policy, f facts) bool {
	ts := f.payment.Timestamp
	if ts.IsZero() || f.payment.TimestampInferred {
		return false
	}
	h := ts.In(pol.location()).Hour()
	return h < pol.QuietHoursStart || h > pol.QuietHoursEnd
}

func highAmount(pol Policy, f facts) bool {
	amount := f.payment.Amount
	if f.claim.Amount != nil {
		amount = *f.claim.Amount
	}
	return amount > pol.HighAmountLimit
}

// SuspiciousTxID reports ids that look fabricated: too short, too few
// distinct characters, long runs, sequential or test prefixes, or deny words.
func SuspiciousTxID(txid string) bool {
	id := normalize.TxID(txid)
	runes := []rune(id)
	if len(runes) < 6 {
		return true
	}

	unique := make(map[rune]struct{}, len(runes))
	repeats := 0
	for i, r := range runes {
		unique[r] = struct{}{}
		if i > 0 && runes[i-1] == r {
			repeats++
		}
	}
	if len(unique) < 3 || repeats > len(runes)/3 {
		return true
	}

	if sequentialPrefix.MatchString(id) || testPrefix.MatchString(id) {
		return true
	}
	return containsDenyWord(id)
}

// SuspiciousName reports placeholder or test names. Empty names are not suspicious.
func SuspiciousName(name string) bool {
	n := strings.TrimSpace(name)
	if n == "" {
		return false
	}
	if containsDenyWord(n) {
		return true
	}
	for _, re := range namePatterns {
		if re.MatchString(n) {
			return true
		}
	}
	return false
}

// InvalidPhone reports Rwandan numbers with an unknown operator prefix.
// Numbers from other countries are not judged.
func InvalidPhone(phone string) bool {
	digits := strings.TrimPrefix(normalize.Phone(phone), "+")
	if !strings.HasPrefix(digits, "250") || len(digits) != 12 {
		return false
	}
	return !rwandaPrefixes[digits[3:5]]
}

func containsDenyWord(s string) bool {
	lower := strings.ToLower(s)
	for _, w := range denyWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
