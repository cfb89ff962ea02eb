package extractor

import (
	"net/mail"
	"regexp"
	"sort"
	"strings"
)

var (
	merchantPattern = regexp.MustCompile(`\b([Pp]aid to|[Aa]t|[Ff]rom|[Tt]owards|[Tt]o)\s+([A-Z][A-Za-z0-9&'-]*(?:\s+[A-Z][A-Za-z0-9&'-]*){0,4})`)

	transactionKeywordPattern = regexp.MustCompile(`(?i)\b(debited|paid|spent|purchase|payment|txn|transaction|charged|transferred)\b`)
)

// prepositionScore ranks how strongly a preposition introduces a merchant.
var prepositionScore = map[string]int{
	"paid to": 3,
	"at":      2,
	"towards": 2,
	"to":      1,
	"from":    1,
}

// merchantKeywordWindow is how far before a candidate a transaction keyword may sit.
const merchantKeywordWindow = 60

// merchantStoplist holds capitalized words that end a merchant phrase.
var merchantStoplist = map[string]struct{}{
	"your": {}, "you": {}, "our": {}, "the": {}, "a": {}, "an": {}, "dear": {}, "customer": {},
	"account": {}, "a/c": {}, "card": {}, "wallet": {}, "bank": {}, "balance": {}, "available": {},
	"on": {}, "via": {}, "for": {}, "with": {}, "and": {}, "is": {}, "was": {}, "has": {}, "by": {},
	"ref": {}, "txn": {}, "transaction": {}, "id": {}, "no": {}, "date": {}, "time": {}, "amount": {},
	"npr": {}, "nrs": {}, "rs": {}, "inr": {}, "usd": {}, "eur": {}, "gbp": {},
	"today": {}, "yesterday": {}, "thank": {}, "thanks": {}, "please": {}, "regards": {},
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {}, "friday": {}, "saturday": {}, "sunday": {},
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "may": {}, "jun": {}, "jul": {}, "aug": {},
	"sep": {}, "oct": {}, "nov": {}, "dec": {}, "january": {}, "february": {}, "march": {}, "april": {},
	"june": {}, "july": {}, "august": {}, "september": {}, "october": {}, "november": {}, "december": {},
}

// "Bank" ends a phrase but institutions are recognised as a whole, so the
// stoplist check is on the first token only for these.
var institutionSuffixes = map[string]struct{}{"bank": {}, "wallet": {}}

type merchantCandidate struct {
	name  string
	score int
	pos   int
}

// extractMerchants returns up to limit merchant names, strongest first.
func extractMerchants(text, sender string, limit int) []string {
	keywords := transactionKeywordPattern.FindAllStringIndex(text, -1)
	institution := senderLabel(sender)

	var candidates []merchantCandidate
	for _, m := range merchantPattern.FindAllStringSubmatchIndex(text, -1) {
		name := trimMerchant(text[m[4]:m[5]])
		if name == "" || isInstitution(name, institution) {
			continue
		}
		score := prepositionScore[strings.ToLower(text[m[2]:m[3]])]
		if keywordBefore(keywords, m[0]) {
			score += 2
		}
		candidates = append(candidates, merchantCandidate{name: name, score: score, pos: m[0]})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pos < candidates[j].pos
	})

	out := []string{}
	seen := make(map[string]struct{})
	for _, c := range candidates {
		key := strings.ToLower(c.name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c.name)
		if len(out) == limit {
			break
		}
	}
	return out
}

// trimMerchant cuts the phrase at the first stoplisted word. "Nabil Bank" keeps
// its suffix so the institution filter can see the full name.
func trimMerchant(phrase string) string {
	tokens := strings.Fields(phrase)
	for i, tok := range tokens {
		word := strings.ToLower(strings.Trim(tok, "'-&"))
		if _, stop := merchantStoplist[word]; !stop {
			continue
		}
		if _, suffix := institutionSuffixes[word]; suffix && i > 0 {
			continue
		}
		tokens = tokens[:i]
		break
	}
	name := strings.Join(tokens, " ")
	if len(name) < 2 {
		return ""
	}
	return name
}

// senderLabel returns the registrable label of the sender domain, e.g.
// "nabilbank" for alerts@mail.nabilbank.com.
func senderLabel(sender string) string {
	addr := sender
	if parsed, err := mail.ParseAddress(sender); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	labels := strings.Split(strings.ToLower(strings.Trim(addr[at+1:], " >")), ".")
	// Walk past public suffixes such as com.np or co.in.
	for i := len(labels) - 1; i >= 0; i-- {
		switch labels[i] {
		case "com", "net", "org", "co", "gov", "edu", "np", "in", "uk", "io":
			continue
		}
		return labels[i]
	}
	return ""
}

func isInstitution(name, label string) bool {
	if len(label) < 3 {
		return false
	}
	squashed := strings.ToLower(strings.ReplaceAll(name, " ", ""))
	if strings.Contains(squashed, label) {
		return true
	}
	return len(squashed) >= 3 && strings.Contains(label, squashed)
}

func keywordBefore(keywords [][]int, pos int) bool {
	for _, k := range keywords {
		if k[1] <= pos && pos-k[1] <= merchantKeywordWindow {
			return true
		}
	}
	return false
}
