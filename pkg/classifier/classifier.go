// Package classifier decides whether a message is a financial-transaction notification.
//
// Scoring is driven by a versioned Table of signals. Institution and keyword
// signals add their weight once each; the sum is scaled and clipped to [0,1].
// Veto signals never subtract: once enough of them match, or the message
// carries a List-Unsubscribe header, the result is negative whatever the score.
package classifier

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultSnippetLength is how much of the body the classifier reads.
const DefaultSnippetLength = 4000

// Result is the outcome of classifying one message.
type Result struct {
	IsFinancial bool
	// Confidence is always within [0,1].
	Confidence float64
	// Matched lists "kind:name" for every signal that fired, veto signals included.
	Matched []string
	Vetoed  bool
}

// Input is the part of a message the classifier looks at.
type Input struct {
	Sender  string
	Subject string
	Body    string
	// Headers holds raw headers; only List-Unsubscribe is consulted.
	Headers map[string]string
}

// Classifier scores messages against a compiled signal table. It is safe for concurrent use.
type Classifier struct {
	table         Table
	signals       []compiledSignal
	snippetLength int
}

// New compiles the table. Zero thresholds fall back to the default table's values.
func New(t Table) (*Classifier, error) {
	def := DefaultTable()
	if t.Threshold <= 0 {
		t.Threshold = def.Threshold
	}
	if t.VetoThreshold <= 0 {
		t.VetoThreshold = def.VetoThreshold
	}
	if t.Scale <= 0 {
		t.Scale = def.Scale
	}
	if len(t.Signals) == 0 {
		t.Signals = def.Signals
	}
	if t.Version == "" {
		t.Version = def.Version
	}
	if t.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v out of range", t.Threshold)
	}

	signals, err := compile(t)
	if err != nil {
		return nil, fmt.Errorf("compiling signal table %s: %w", t.Version, err)
	}

	return &Classifier{
		table:         t,
		signals:       signals,
		snippetLength: DefaultSnippetLength,
	}, nil
}

// Version returns the version of the signal table in use.
func (c *Classifier) Version() string {
	return c.table.Version
}

// Classify scores one message.
func (c *Classifier) Classify(in Input) Result {
	domain := senderDomain(in.Sender)
	text := c.prepare(in.Subject, in.Body)

	var (
		res   Result
		score float64
		vetos int
	)
	for _, s := range c.signals {
		switch s.Kind {
		case KindInstitution:
			if domain != "" && s.matchesDomain(domain) {
				score += s.Weight
				res.Matched = append(res.Matched, string(s.Kind)+":"+s.Name)
			}
		case KindKeyword:
			if s.re.MatchString(text) {
				score += s.Weight
				res.Matched = append(res.Matched, string(s.Kind)+":"+s.Name)
			}
		case KindVeto:
			if s.re.MatchString(text) {
				vetos++
				res.Matched = append(res.Matched, string(s.Kind)+":"+s.Name)
			}
		}
	}

	if hasHeader(in.Headers, "List-Unsubscribe") {
		vetos = max(vetos, c.table.VetoThreshold)
		res.Matched = append(res.Matched, "veto:list_unsubscribe_header")
	}

	res.Confidence = clip(score / c.table.Scale)
	res.Vetoed = vetos >= c.table.VetoThreshold
	res.IsFinancial = !res.Vetoed && res.Confidence >= c.table.Threshold
	return res
}

// prepare lowercases and normalizes the subject plus a bounded prefix of the body.
func (c *Classifier) prepare(subject, body string) string {
	if len(body) > c.snippetLength {
		cut := c.snippetLength
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return strings.ToLower(norm.NFKC.String(subject + "\n" + body))
}

// senderDomain returns the lowercased domain of a From value such as
// `"Nabil Bank" <alerts@nabilbank.com>`.
func senderDomain(sender string) string {
	addr := sender
	if parsed, err := mail.ParseAddress(sender); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(addr[at+1:], " >"))
}

func hasHeader(headers map[string]string, name string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, name) && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
