package extractor

import (
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	grouped = `\d{1,3}(?:,\d{2,3})+(?:\.\d{1,2})?`
	plain   = `\d+(?:\.\d{1,2})?`
	// european numbers use dots for thousands and a comma for decimals: 1.234,56.
	// Only euro amounts are read this way; 1,00,000 is a lakh, not one euro.
	european = `\d{1,3}(?:\.\d{3})+,\d{1,2}|\d+,\d{2}`

	currencyPrefix = `(?:\b(?:NPR|NRs|Rs|INR|USD|EUR|GBP)\.?|[$€£₹]|रू\.?)`
	currencySuffix = `(?:\b(?:NPR|INR|USD|EUR|GBP)\b|€)`
)

// amountPattern is one currency format. Group 1 is the currency marker when
// present, group 2 the number.
type amountPattern struct {
	re       *regexp.Regexp
	european bool
	// bare patterns find a number by keyword alone, with no currency marker.
	bare bool
}

// Earlier patterns claim their text first.
var amountPatterns = []amountPattern{
	{re: regexp.MustCompile(`(?i)(€|\bEUR\b)\s?(` + european + `)\b`), european: true},
	{re: regexp.MustCompile(`(?i)()(` + european + `)\s?(?:\bEUR\b|€)`), european: true},
	{re: regexp.MustCompile(`(?i)(` + currencyPrefix + `)\s?(` + grouped + `|` + plain + `)`)},
	{re: regexp.MustCompile(`(?i)()(` + grouped + `|` + plain + `)\s?(` + currencySuffix + `)`)},
	{re: regexp.MustCompile(`(?i)\b(?:total|amount|amt)\b[^\d\n]{0,15}()(` + grouped + `|` + plain + `)`), bare: true},
}

// datePart matches the separator and digit that continue a date or
// reference number, as in 15-01-2024 or 2024/01/15.
var datePart = regexp.MustCompile(`^[-/.]\d`)

var (
	amountKeywordPattern = regexp.MustCompile(`(?i)\b(total|amount|amt|grand total|net payable|charged)\b`)
	suffixCurrency       = regexp.MustCompile(`(?i)(NPR|INR|USD|EUR|GBP|€)\s*$`)
)

// amountKeywordWindow is how far before an amount a total/amount keyword may sit.
const amountKeywordWindow = 40

type amountCandidate struct {
	value    string
	currency string
	pos      int
	near     bool
	bare     bool
}

// extractAmounts returns up to limit normalized amounts and the currency of the
// best ranked amount that carried one.
func extractAmounts(text string, limit int) ([]string, string) {
	var (
		claimed    spans
		candidates []amountCandidate
	)
	keywords := amountKeywordPattern.FindAllStringIndex(text, -1)

	for _, p := range amountPatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if claimed.overlaps(m[0], m[1]) {
				continue
			}
			number := text[m[4]:m[5]]
			if p.bare && datePart.MatchString(text[m[5]:]) {
				continue
			}
			value, ok := normalizeAmount(number, p.european)
			if !ok {
				continue
			}
			claimed = append(claimed, span{m[0], m[1]})

			marker := ""
			if m[2] >= 0 {
				marker = text[m[2]:m[3]]
			}
			if marker == "" {
				if sm := suffixCurrency.FindStringSubmatch(text[m[5]:m[1]]); sm != nil {
					marker = sm[1]
				}
			}
			candidates = append(candidates, amountCandidate{
				value:    value,
				currency: currencyCode(marker),
				pos:      m[0],
				near:     nearKeyword(keywords, m[0]),
				bare:     p.bare,
			})
		}
	}

	// A keyword-only number is a guess; any amount with a currency beats it.
	if slices.ContainsFunc(candidates, func(c amountCandidate) bool { return !c.bare }) {
		candidates = slices.DeleteFunc(candidates, func(c amountCandidate) bool { return c.bare })
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].near != candidates[j].near {
			return candidates[i].near
		}
		return candidates[i].pos < candidates[j].pos
	})

	var (
		out      []string
		currency string
		seen     = make(map[string]struct{})
	)
	for _, c := range candidates {
		if currency == "" {
			currency = c.currency
		}
		if _, dup := seen[c.value]; dup {
			continue
		}
		seen[c.value] = struct{}{}
		out = append(out, c.value)
		if len(out) == limit {
			break
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, currency
}

// normalizeAmount turns a matched number into a two-decimal string such as
// "1500.00". Zero and unparseable values are dropped.
func normalizeAmount(number string, european bool) (string, bool) {
	if european {
		number = strings.ReplaceAll(number, ".", "")
		number = strings.ReplaceAll(number, ",", ".")
	} else {
		number = strings.ReplaceAll(number, ",", "")
	}
	d, err := decimal.NewFromString(number)
	if err != nil || !d.IsPositive() {
		return "", false
	}
	return d.StringFixed(2), true
}

func nearKeyword(keywords [][]int, pos int) bool {
	for _, k := range keywords {
		if k[1] <= pos && pos-k[1] <= amountKeywordWindow {
			return true
		}
	}
	return false
}

// currencyCode maps a currency marker to its ISO 4217 code.
func currencyCode(marker string) string {
	m := strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(marker), "."))
	switch m {
	case "RS", "NRS", "NPR", "रू":
		return "NPR"
	case "₹", "INR":
		return "INR"
	case "$", "USD":
		return "USD"
	case "€", "EUR":
		return "EUR"
	case "£", "GBP":
		return "GBP"
	}
	return ""
}
