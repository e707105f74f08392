// Package gatekeeper decides whether a decoded email is worth running the
// extraction rules on at all.
package gatekeeper

import (
	"log/slog"
	"strings"

	"github.com/sbitra/mailmint/pkg/api"
)

// Config holds the keyword tables of the pre-filter. All matching is
// case-insensitive substring search over subject plus body.
type Config struct {
	// Positive is the financial-vocabulary allowlist; a message containing
	// none of these is rejected before any pattern work.
	Positive []string
	// Skip maps a skip-category name to its trigger keywords (corporate
	// action notices, promotions, login/OTP alerts, ...).
	Skip map[string][]string
	// Overrides are conjunctions that rescue a message from the skip filter:
	// if every word of any override is present, the message is accepted even
	// when a skip category fired.
	Overrides [][]string
	// BillWords and StatementWords choose the persistence destination; a
	// message matching neither routes to the transaction table.
	BillWords      []string
	StatementWords []string
}

// DefaultConfig returns the keyword tables distilled from the bank alert
// formats this pipeline was built against.
func DefaultConfig() Config {
	return Config{
		Positive: []string{
			"rs.", "rs ", "inr", "₹",
			"debited", "credited", "spent", "withdrawn",
			"transaction", "payment", "upi", "neft", "imps",
		},
		Skip: map[string][]string{
			"demat": {
				"demat account", "equity contract note", "securities balance",
				"outcome of board meeting", "e-voting", "change in base ter",
			},
			"dividend":   {"dividend", "annual general meeting", "agm"},
			"promotions": {"emi offer", "gift", "add-on", "deals", "invite", "cashback offer"},
			"login":      {"one time password", "otp", "login notification", "login alert", "oauth application"},
		},
		Overrides: [][]string{
			// A genuine card-spend notice shares vocabulary with promotions;
			// the pair below only occurs together on real transactions.
			{"credit card", "transaction"},
		},
		BillWords:      []string{"bill due", "bill payment", "total amount due", "minimum amount due"},
		StatementWords: []string{"statement", "account summary"},
	}
}

// Gatekeeper is an immutable two-stage filter built once at startup.
type Gatekeeper struct {
	positive       []string
	skip           []skipCategory
	overrides      [][]string
	billWords      []string
	statementWords []string
	logger         *slog.Logger
}

type skipCategory struct {
	name     string
	keywords []string
}

// New builds a gatekeeper from cfg. Keywords are lowercased once here so the
// per-message path is allocation-free.
func New(cfg Config, logger *slog.Logger) *Gatekeeper {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gatekeeper{
		positive:       lowerAll(cfg.Positive),
		overrides:      make([][]string, 0, len(cfg.Overrides)),
		billWords:      lowerAll(cfg.BillWords),
		statementWords: lowerAll(cfg.StatementWords),
		logger:         logger,
	}
	for name, words := range cfg.Skip {
		g.skip = append(g.skip, skipCategory{name: name, keywords: lowerAll(words)})
	}
	for _, conj := range cfg.Overrides {
		g.overrides = append(g.overrides, lowerAll(conj))
	}
	return g
}

// Accept reports whether the email is a transaction candidate. The returned
// reason is empty on acceptance, otherwise it names the rejecting stage
// ("no-financial-keywords" or a skip-category name).
//
// The ordering positive → negative → override is load-bearing: boundary
// emails are classified differently under any other order.
func (g *Gatekeeper) Accept(email api.DecodedEmail) (bool, string) {
	text := strings.ToLower(email.Subject + " " + email.Body)

	if !containsAny(text, g.positive) {
		return false, "no-financial-keywords"
	}

	for _, cat := range g.skip {
		if !containsAny(text, cat.keywords) {
			continue
		}
		if g.overrideFires(text) {
			g.logger.Debug("whitelist override", "skip_category", cat.name, "subject", email.Subject)
			return true, ""
		}
		return false, cat.name
	}
	return true, ""
}

// Destination classifies where an accepted email's record should be routed.
func (g *Gatekeeper) Destination(email api.DecodedEmail) api.Destination {
	text := strings.ToLower(email.Subject + " " + email.Body)
	switch {
	case containsAny(text, g.statementWords):
		return api.DestinationStatement
	case containsAny(text, g.billWords):
		return api.DestinationBill
	}
	return api.DestinationTransaction
}

// Keywords returns the positive keyword set, for sources that push the
// first-pass filter into their fetch query.
func (g *Gatekeeper) Keywords() []string {
	out := make([]string, len(g.positive))
	copy(out, g.positive)
	return out
}

func (g *Gatekeeper) overrideFires(text string) bool {
	for _, conj := range g.overrides {
		if len(conj) == 0 {
			continue
		}
		all := true
		for _, word := range conj {
			if !strings.Contains(text, word) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
