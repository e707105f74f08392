// Package normalize maps raw rule captures into canonical typed transactions.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sbitra/mailmint/pkg/api"
	"github.com/sbitra/mailmint/pkg/rules"
)

var (
	// ErrNoAmount rejects a capture with a missing or unparsable amount.
	ErrNoAmount = errors.New("no parsable amount")
	// ErrNoCounterparty rejects a capture with neither a merchant nor any
	// category evidence; such a record is unattributable.
	ErrNoCounterparty = errors.New("no merchant and no category evidence")
)

// KeywordCategory is one entry of the ordered keyword→category table.
// Order matters: earlier entries win when several keywords appear.
type KeywordCategory struct {
	Keyword  string
	Category string
}

// Config holds the normalizer's lookup tables. They are read once at
// construction; the Normalizer never mutates them.
type Config struct {
	// SenderCategories maps a bare sender address to a category. A hit here
	// always wins over the keyword table: sender identity is stronger
	// evidence than free-text matching.
	SenderCategories map[string]string
	// KeywordCategories is scanned in order against the merchant text.
	KeywordCategories []KeywordCategory
	// DefaultCurrency applies when no currency marker was captured.
	DefaultCurrency string
}

// DefaultConfig returns the category tables distilled from the alert formats
// this pipeline targets.
func DefaultConfig() Config {
	return Config{
		SenderCategories: map[string]string{
			"no-reply@amazonpay.in": "shopping",
			"noreply@swiggy.in":     "food",
			"no-reply@zomato.com":   "food",
			"noreply@olacabs.com":   "travel",
			"noreply@uber.com":      "travel",
			"alerts@smallcase.com":  "investments",
		},
		KeywordCategories: []KeywordCategory{
			{"swiggy", "food"},
			{"zomato", "food"},
			{"restaurant", "food"},
			{"indian oil", "fuel"},
			{"hpcl", "fuel"},
			{"fuel", "fuel"},
			{"amazon", "shopping"},
			{"flipkart", "shopping"},
			{"myntra", "shopping"},
			{"electricity", "utilities"},
			{"recharge", "utilities"},
			{"ola", "travel"},
			{"uber", "travel"},
			{"irctc", "travel"},
			{"goibibo", "travel"},
			{"smallcase", "investments"},
			{"investment", "investments"},
		},
		DefaultCurrency: "INR",
	}
}

// DefaultCategory is assigned when neither lookup table matches.
const DefaultCategory = "others"

// Normalizer turns rule matches into canonical transactions. Safe for
// concurrent use; all state is immutable after New.
type Normalizer struct {
	senders         map[string]string
	keywords        []KeywordCategory
	defaultCurrency string
	logger          *slog.Logger
}

// New builds a normalizer from cfg. Sender addresses are lowercased once so
// lookups are exact and case-insensitive.
func New(cfg Config, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "INR"
	}

	senders := make(map[string]string, len(cfg.SenderCategories))
	for addr, cat := range cfg.SenderCategories {
		senders[strings.ToLower(addr)] = cat
	}

	return &Normalizer{
		senders:         senders,
		keywords:        cfg.KeywordCategories,
		defaultCurrency: cfg.DefaultCurrency,
		logger:          logger,
	}
}

// Normalize produces a canonical transaction from a rule match, or an error
// when a required field cannot be recovered. ingested substitutes for the
// timestamp only when the email itself carried no usable date.
func (n *Normalizer) Normalize(m *rules.Match, email api.DecodedEmail, ingested time.Time) (api.Transaction, error) {
	amount, err := ParseAmount(m.Captures["amount"])
	if err != nil {
		return api.Transaction{}, fmt.Errorf("rule %s: %w", m.Rule, err)
	}

	merchant := strings.TrimSpace(m.Captures["merchant"])
	category := n.resolveCategory(email.Sender, merchant)
	if merchant == "" && category == DefaultCategory {
		return api.Transaction{}, fmt.Errorf("rule %s: %w", m.Rule, ErrNoCounterparty)
	}

	institution := m.Static["institution"]
	ts, stamped := n.resolveTimestamp(m.Captures["date"], m.Captures["time"], email.Timestamp, ingested)

	txn := api.Transaction{
		Amount:         amount,
		Direction:      deriveDirection(m.Static["type"], email.Body),
		Category:       category,
		Merchant:       merchant,
		Currency:       n.resolveCurrency(m.Captures["currency"]),
		Timestamp:      ts,
		CardRef:        strings.TrimSpace(m.Captures["card_ref"]),
		CounterpartyID: strings.TrimSpace(m.Captures["counterparty_id"]),
		Remarks:        strings.TrimSpace(m.Captures["remarks"]),
		Institution:    institution,
	}
	txn.Key = idempotencyKey(m.Captures["reference"], txn, stamped, email.Body)

	return txn, nil
}

// ParseAmount parses a captured amount string into a fixed-precision
// decimal, stripping thousands separators. An unparsable amount is a
// rejection, never a guess.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero, ErrNoAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNoAmount, s)
	}
	return d, nil
}

// resolveCategory applies the two-stage lookup: sender table first, then the
// ordered keyword table over the merchant text, then the default. The order
// is load-bearing (sender identity outranks keyword evidence).
func (n *Normalizer) resolveCategory(sender, merchant string) string {
	if cat, ok := n.senders[strings.ToLower(strings.TrimSpace(sender))]; ok {
		return cat
	}
	lowMerchant := strings.ToLower(merchant)
	for _, kc := range n.keywords {
		if strings.Contains(lowMerchant, strings.ToLower(kc.Keyword)) {
			return kc.Category
		}
	}
	return DefaultCategory
}

func (n *Normalizer) resolveCurrency(marker string) string {
	switch strings.ToLower(strings.TrimSuffix(strings.TrimSpace(marker), ".")) {
	case "rs", "inr", "₹":
		return "INR"
	case "usd", "$":
		return "USD"
	case "eur", "€":
		return "EUR"
	}
	return n.defaultCurrency
}

// resolveTimestamp reports whether the result came from the email itself (a
// captured date or the header date) rather than the ingestion fallback.
func (n *Normalizer) resolveTimestamp(dateStr, timeStr string, emailTime, ingested time.Time) (time.Time, bool) {
	if dateStr != "" {
		if t, err := ParseDate(dateStr, timeStr); err == nil {
			return t, true
		}
		n.logger.Debug("unparsable captured date, falling back", "date", dateStr)
	}
	if !emailTime.IsZero() {
		return emailTime, true
	}
	return ingested, false
}

// dayFirstLayouts cover the day/month/year orderings Indian bank alerts use.
var dayFirstLayouts = []string{
	"02-01-06",
	"02/01/06",
	"02-01-2006",
	"02/01/2006",
	"02-Jan-2006",
	"02 Jan 2006",
	"January 02, 2006",
	"Jan 02, 2006",
}

var yearFirstLayouts = []string{
	"2006-01-02",
	"2006/01/02",
}

// ParseDate parses a captured date (and optional HH:MM:SS time) accepting
// multiple component orderings. When the first component exceeds 31 the
// string must be year-first; otherwise day-first layouts are tried before
// year-first ones.
func ParseDate(dateStr, timeStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	var layouts []string
	if leadingNumber(dateStr) > 31 {
		layouts = yearFirstLayouts
	} else {
		layouts = append(append([]string{}, dayFirstLayouts...), yearFirstLayouts...)
	}

	timeStr = strings.TrimSpace(timeStr)
	for _, layout := range layouts {
		if timeStr != "" {
			if t, err := time.Parse(layout+" 15:04:05", dateStr+" "+timeStr); err == nil {
				return t, nil
			}
		}
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", dateStr)
}

func leadingNumber(s string) int {
	n := 0
	seen := false
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		seen = true
		n = n*10 + int(r-'0')
	}
	if !seen {
		return -1
	}
	return n
}

// deriveDirection classifies the money flow. Card-spend notices carry
// "credit card" in their type yet reduce the balance, so the bare word
// "credit" only wins when "card" is absent; UPI stays a distinct channel.
func deriveDirection(staticType, body string) api.Direction {
	t := strings.ToLower(staticType)
	switch {
	case strings.Contains(t, "upi"):
		return api.DirectionUPI
	case strings.Contains(t, "credit") && !strings.Contains(t, "card"):
		return api.DirectionCredit
	case strings.Contains(t, "debit"):
		return api.DirectionDebit
	case strings.Contains(t, "card"):
		return api.DirectionDebit
	}

	low := strings.ToLower(body)
	switch {
	case strings.Contains(low, "credited"):
		return api.DirectionCredit
	case strings.Contains(low, "debited"), strings.Contains(low, "spent"):
		return api.DirectionDebit
	}
	return api.DirectionDebit
}

// idempotencyKey prefers the source-provided reference number; absent one it
// derives a stable digest from fields that do not change across reprocessing
// runs. Wall-clock processing time never participates: when the timestamp is
// the ingestion fallback, a digest of the body stands in for the date so that
// reprocessing the same email later still yields the same key.
func idempotencyKey(reference string, txn api.Transaction, stamped bool, body string) string {
	reference = strings.TrimSpace(reference)
	if reference != "" {
		return reference
	}

	stamp := txn.Timestamp.UTC().Format("2006-01-02")
	if !stamped {
		bodySum := sha256.Sum256([]byte(body))
		stamp = hex.EncodeToString(bodySum[:])
	}
	input := strings.Join([]string{
		txn.CardRef,
		txn.Amount.StringFixed(2),
		stamp,
		txn.Institution,
		strings.ToLower(txn.Merchant),
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
