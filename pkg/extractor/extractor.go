// Package extractor pulls transaction candidates out of financial messages.
//
// Extraction never fails: a field with no match is an empty list. Each field is
// produced by an ordered list of patterns; results are normalized, deduplicated
// and ranked so that identical input always yields identical output.
package extractor

import (
	"html"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// DefaultMaxAmounts caps the number of amount candidates returned.
const DefaultMaxAmounts = 5

// Input is a message to extract from.
type Input struct {
	Subject string
	Body    string
	// Sender is used to drop the sending institution's own name from merchants.
	Sender string
	// ReceivedAt anchors relative dates such as "yesterday".
	ReceivedAt time.Time
}

// Options tunes extraction limits.
type Options struct {
	MaxAmounts      int
	MaxMerchants    int
	DefaultCurrency string
}

// Extractor is stateless apart from its options and safe for concurrent use.
type Extractor struct {
	opts Options
}

// New returns an Extractor, filling zero options with defaults.
func New(opts Options) *Extractor {
	if opts.MaxAmounts <= 0 {
		opts.MaxAmounts = DefaultMaxAmounts
	}
	if opts.MaxMerchants <= 0 {
		opts.MaxMerchants = 3
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "NPR"
	}
	return &Extractor{opts: opts}
}

// Extract returns every candidate found in the subject and body.
func (e *Extractor) Extract(in Input) api.ExtractedData {
	text := Normalize(in.Subject + "\n" + in.Body)

	amounts, currency := extractAmounts(text, e.opts.MaxAmounts)
	if currency == "" && len(amounts) > 0 {
		currency = e.opts.DefaultCurrency
	}

	return api.ExtractedData{
		Amounts:        amounts,
		Dates:          extractDates(text, in.ReceivedAt),
		Merchants:      extractMerchants(text, in.Sender, e.opts.MaxMerchants),
		TransactionIDs: extractTransactionIDs(text),
		Currency:       currency,
	}
}

// CombinedConfidence blends the classifier confidence with how complete the
// extraction is. The result is within [0,1].
func CombinedConfidence(classifierConfidence float64, data api.ExtractedData) float64 {
	filled := 0
	for _, field := range [][]string{data.Amounts, data.Dates, data.Merchants, data.TransactionIDs} {
		if len(field) > 0 {
			filled++
		}
	}
	score := 0.7*clamp(classifierConfidence) + 0.3*float64(filled)/4
	return clamp(score)
}

var (
	tagPattern       = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
	blockTagPattern  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li|/h[1-6])\s*/?>`)
	spaceRunPattern  = regexp.MustCompile(`[ \t\f\v]+`)
	lineEdgePattern  = regexp.MustCompile(` *\n *`)
	blankLinePattern = regexp.MustCompile(`\n\s*\n+`)
)

// PlainText converts an HTML body to text good enough for pattern matching.
func PlainText(body string) string {
	body = blockTagPattern.ReplaceAllString(body, "\n")
	body = tagPattern.ReplaceAllString(body, " ")
	return html.UnescapeString(body)
}

// Normalize applies NFKC (which also folds non-breaking spaces), drops
// zero-width spaces and collapses runs of blanks.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\u200b", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRunPattern.ReplaceAllString(s, " ")
	s = lineEdgePattern.ReplaceAllString(s, "\n")
	s = blankLinePattern.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// span is a matched region of the text, used to stop later patterns from
// re-reading text an earlier pattern already claimed.
type span struct{ start, end int }

type spans []span

func (s spans) overlaps(start, end int) bool {
	for _, sp := range s {
		if start < sp.end && sp.start < end {
			return true
		}
	}
	return false
}
