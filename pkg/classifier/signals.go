package classifier

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind groups signals by how they affect the score.
type Kind string

const (
	// KindInstitution signals match the sender domain against known institutions.
	KindInstitution Kind = "institution"
	// KindKeyword signals match transaction language in the subject or body.
	KindKeyword Kind = "keyword"
	// KindVeto signals mark marketing or social mail. Enough of them force a negative result.
	KindVeto Kind = "veto"
)

// Signal is one row of the scoring table.
type Signal struct {
	Name   string  `koanf:"name" yaml:"name"`
	Kind   Kind    `koanf:"kind" yaml:"kind"`
	Weight float64 `koanf:"weight" yaml:"weight"`
	// Pattern is a case-insensitive regular expression for keyword and veto signals.
	Pattern string `koanf:"pattern" yaml:"pattern"`
	// Domains lists sender domains for institution signals. Subdomains match too.
	Domains []string `koanf:"domains" yaml:"domains"`
}

// Table is a versioned set of signals plus the thresholds applied to them.
type Table struct {
	Version string `koanf:"version" yaml:"version"`
	// Threshold is the minimum confidence for a financial result.
	Threshold float64 `koanf:"threshold" yaml:"threshold"`
	// VetoThreshold is how many distinct veto signals force a negative result.
	VetoThreshold int `koanf:"veto_threshold" yaml:"veto_threshold"`
	// Scale divides the summed positive weight before clipping to [0,1].
	Scale   float64  `koanf:"scale" yaml:"scale"`
	Signals []Signal `koanf:"signals" yaml:"signals"`
}

// DefaultTable returns the built-in signal table.
func DefaultTable() Table {
	return Table{
		Version:       "2024.1",
		Threshold:     0.5,
		VetoThreshold: 2,
		Scale:         1.0,
		Signals: []Signal{
			{
				Name:   "bank",
				Kind:   KindInstitution,
				Weight: 0.45,
				Domains: []string{
					"nabilbank.com", "nicasiabank.com", "nmb.com.np", "himalayanbank.com",
					"globalimebank.com", "everestbankltd.com", "sanimabank.com", "kumaribank.com",
					"laxmisunrise.com", "prabhubank.com", "siddharthabank.com", "nbl.com.np",
					"rbb.com.np", "adbl.gov.np", "machbank.com", "citizensbanknepal.com",
					"hdfcbank.net", "icicibank.com", "sbi.co.in", "axisbank.com",
				},
			},
			{
				Name:    "wallet",
				Kind:    KindInstitution,
				Weight:  0.45,
				Domains: []string{"esewa.com.np", "khalti.com", "imepay.com.np", "fonepay.com", "paytm.com", "paypal.com"},
			},
			{
				Name:    "processor",
				Kind:    KindInstitution,
				Weight:  0.4,
				Domains: []string{"stripe.com", "razorpay.com", "connectips.com", "nchl.com.np", "visa.com", "mastercard.com"},
			},
			{Name: "debit", Kind: KindKeyword, Weight: 0.25, Pattern: `\bdebit(ed)?\b`},
			{Name: "credit", Kind: KindKeyword, Weight: 0.25, Pattern: `\bcredited\b`},
			{Name: "transaction_alert", Kind: KindKeyword, Weight: 0.2, Pattern: `\btransaction\s+(alert|successful|completed|details)\b`},
			{Name: "payment", Kind: KindKeyword, Weight: 0.2, Pattern: `\bpayment\s+(received|successful|made|of|confirmation)\b`},
			{Name: "currency_amount", Kind: KindKeyword, Weight: 0.2, Pattern: `(\b(npr|nrs|rs|inr|usd|eur|gbp)\.?\s?\d)|([$€£₹]\s?\d)`},
			{Name: "withdrawal", Kind: KindKeyword, Weight: 0.2, Pattern: `\b(withdrawn|withdrawal)\b`},
			{Name: "transfer", Kind: KindKeyword, Weight: 0.2, Pattern: `\b(fund\s+transfer|transferred)\b`},
			{Name: "purchase", Kind: KindKeyword, Weight: 0.15, Pattern: `\b(purchase|spent|paid)\b`},
			{Name: "receipt", Kind: KindKeyword, Weight: 0.15, Pattern: `\b(receipt|invoice)\b`},
			{Name: "reference", Kind: KindKeyword, Weight: 0.15, Pattern: `\b(txn|transaction)\s*(id|no|ref)\b|\bref(erence)?\s*no\b`},
			{Name: "transaction_otp", Kind: KindKeyword, Weight: 0.15, Pattern: `\botp\b.{0,40}\btransaction\b|\btransaction\b.{0,40}\botp\b`},
			{Name: "unsubscribe", Kind: KindVeto, Pattern: `\bunsubscribe\b`},
			{Name: "discount", Kind: KindVeto, Pattern: `\d+\s?%\s*off\b|\bdiscount\b|\bcashback offer\b`},
			{Name: "promotion", Kind: KindVeto, Pattern: `\b(promo(tion)?|limited time|sale ends|exclusive offer|deal of the day)\b`},
			{Name: "newsletter", Kind: KindVeto, Pattern: `\b(newsletter|view (this email )?in (your )?browser|weekly digest)\b`},
			{Name: "social", Kind: KindVeto, Pattern: `\b(liked your|commented on|tagged you|new follower|friend request|follow us)\b`},
			{Name: "event", Kind: KindVeto, Pattern: `\b(webinar|register now|join us)\b`},
		},
	}
}

// compiledSignal is a Signal with its pattern ready to run.
type compiledSignal struct {
	Signal
	re *regexp.Regexp
}

func compile(t Table) ([]compiledSignal, error) {
	out := make([]compiledSignal, 0, len(t.Signals))
	seen := make(map[string]struct{}, len(t.Signals))
	for _, s := range t.Signals {
		key := string(s.Kind) + ":" + s.Name
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate signal %q", key)
		}
		seen[key] = struct{}{}

		if s.Weight < 0 {
			return nil, fmt.Errorf("signal %q: negative weight", key)
		}

		cs := compiledSignal{Signal: s}
		switch s.Kind {
		case KindInstitution:
			if len(s.Domains) == 0 {
				return nil, fmt.Errorf("signal %q: no domains", key)
			}
			domains := make([]string, len(s.Domains))
			for i, d := range s.Domains {
				domains[i] = strings.ToLower(strings.TrimSpace(d))
			}
			cs.Domains = domains
		case KindKeyword, KindVeto:
			re, err := regexp.Compile(`(?is)` + s.Pattern)
			if err != nil {
				return nil, fmt.Errorf("signal %q: compiling pattern: %w", key, err)
			}
			cs.re = re
		default:
			return nil, fmt.Errorf("signal %q: unknown kind %q", key, s.Kind)
		}
		out = append(out, cs)
	}
	return out, nil
}

// matchesDomain reports whether domain equals one of the listed domains or is a subdomain of one.
func (s compiledSignal) matchesDomain(domain string) bool {
	for _, d := range s.Domains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
