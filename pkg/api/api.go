// Package api defines the core data structures and collaborator interfaces
// for the mailmint extraction pipeline.
package api

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RawMessage is one unparsed email as fetched from the mailbox: the full
// RFC 822 byte payload plus transport metadata. It is owned by the pipeline
// only for the duration of processing and is never persisted.
type RawMessage struct {
	// ID is the transport-level message identifier (IMAP UID, Gmail message
	// ID, mbox ordinal). Used only for logging and review attribution.
	ID string
	// Mailbox names the folder or label the message arrived in.
	Mailbox string
	// Data is the raw RFC 822 payload, headers included.
	Data []byte
}

// DecodedEmail is the plain-text view of a RawMessage produced by the body
// decoder. Timestamp is the zero time when neither the Date header nor the
// Received trace could be parsed; callers substitute ingestion time.
type DecodedEmail struct {
	Subject   string
	Body      string
	Sender    string
	Timestamp time.Time
}

// Direction classifies how a transaction moves money. UPI is kept distinct
// from debit/credit because downstream attribution of card-vs-account differs
// for UPI notices.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
	DirectionUPI    Direction = "upi"
)

// Destination selects the table a canonical record is routed to.
type Destination string

const (
	DestinationTransaction Destination = "transaction"
	DestinationBill        Destination = "bill"
	DestinationStatement   Destination = "statement"
)

// Transaction is the canonical, fully typed representation of one financial
// event, ready for storage. Key is stable across reprocessing runs: it is the
// source-provided reference number when one was captured, otherwise a
// deterministic digest over stable fields.
type Transaction struct {
	Amount    decimal.Decimal `json:"amount"`
	Direction Direction       `json:"direction"`
	Category  string          `json:"category"`
	Merchant  string          `json:"merchant"`
	Currency  string          `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
	Key       string          `json:"key"`

	// Optional fields; empty when the matched rule did not capture them.
	CardRef        string `json:"card_ref,omitempty"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
	Remarks        string `json:"remarks,omitempty"`
	Institution    string `json:"institution,omitempty"`
}

// Record pairs a canonical transaction with its routing destination.
type Record struct {
	Transaction
	Destination Destination
}

// Outcome is the per-record result of a storage write.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeDuplicate
	OutcomeRejected
)

// BatchResult aggregates storage outcomes for one batch.
type BatchResult struct {
	Inserted   int
	Duplicates int
	Rejected   int
}

// Summary is what one pipeline pass reports to the orchestration layer.
// Skipped counts gatekeeper rejections, Unmatched counts bodies no rule
// recognized; both are normal outcomes, not errors.
type Summary struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
	Unmatched  int `json:"unmatched"`
	Skipped    int `json:"skipped"`
}

// Add folds a batch storage result into the summary.
func (s *Summary) Add(r BatchResult) {
	s.Inserted += r.Inserted
	s.Duplicates += r.Duplicates
	s.Rejected += r.Rejected
}

// Source fetches raw messages from a mailbox. Fetch returns every message
// received at or after since whose content matches at least one keyword;
// implementations may over-fetch (the gatekeeper re-filters) but must not
// drop matching messages.
type Source interface {
	Fetch(ctx context.Context, since time.Time, keywords []string) ([]RawMessage, error)
	Close() error
}

// Store persists canonical records. WriteBatch isolates per-row failures (a
// failing row is counted rejected, the rest of the batch proceeds) and only
// returns an error for transport-level failures, in which case the
// uncommitted tail of the batch was rolled back.
type Store interface {
	WriteBatch(ctx context.Context, records []Record) (BatchResult, error)
	Close()
}
