package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sbitra/mailmint/pkg/api"
	"github.com/sbitra/mailmint/pkg/gatekeeper"
	"github.com/sbitra/mailmint/pkg/normalize"
	"github.com/sbitra/mailmint/pkg/rules"
)

type fakeSource struct {
	msgs    []api.RawMessage
	fetches int
	err     error
}

func (s *fakeSource) Fetch(ctx context.Context, since time.Time, keywords []string) ([]api.RawMessage, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.msgs, nil
}

func (s *fakeSource) Close() error { return nil }

// fakeStore keeps rows in a map keyed by idempotency key, mirroring the
// duplicate handling of the real gateway.
type fakeStore struct {
	mu     sync.Mutex
	rows   map[string]api.Record
	writes int
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]api.Record)}
}

func (s *fakeStore) WriteBatch(ctx context.Context, records []api.Record) (api.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.err != nil {
		return api.BatchResult{}, s.err
	}

	var result api.BatchResult
	for _, rec := range records {
		if rec.Key == "" {
			result.Rejected++
			continue
		}
		if _, exists := s.rows[rec.Key]; exists {
			result.Duplicates++
			continue
		}
		s.rows[rec.Key] = rec
		result.Inserted++
	}
	return result, nil
}

func (s *fakeStore) Close() {}

func rawEmail(id, from, subject, body string) api.RawMessage {
	data := fmt.Sprintf(
		"From: %s\r\nTo: me@example.com\r\nSubject: %s\r\nDate: Thu, 14 Mar 2024 09:00:00 +0530\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, subject, body,
	)
	return api.RawMessage{ID: id, Mailbox: "INBOX", Data: []byte(data)}
}

func cardAlert(id, card string) api.RawMessage {
	body := fmt.Sprintf(
		"Dear Customer, Your ICICI Bank Credit Card %s has been used for a transaction of INR 1,499.00 on March 14, 2024 at 18:05:32. Info: SWIGGY BANGALORE.",
		card,
	)
	return rawEmail(id, "credit_cards@icicibank.com", "Transaction alert for your ICICI Bank Credit Card", body)
}

func newTestPipeline(t *testing.T, source api.Source, store api.Store, cfg Config) *Pipeline {
	t.Helper()

	registry, err := rules.LoadEmbedded()
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	gate := gatekeeper.New(gatekeeper.DefaultConfig(), logger)
	norm := normalize.New(normalize.DefaultConfig(), logger)

	return New(source, store, gate, registry, norm, nil, cfg, logger)
}

func TestProcess_EndToEnd(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeSource{}, store, Config{})

	msgs := []api.RawMessage{
		cardAlert("msg-1", "XX7003"),
		// Promotional content never reaches the rules.
		rawEmail("msg-2", "offers@bank.example", "Cashback offer on your card",
			"Exclusive cashback offer! Convert your payment into EMI offer today."),
		// Financial vocabulary but no recognizable format.
		rawEmail("msg-3", "alerts@unknownbank.example", "Payment notice",
			"A payment was made from your account. Thank you."),
	}

	summary, err := p.Process(context.Background(), msgs)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if summary.Inserted != 1 {
		t.Errorf("expected 1 inserted, got %d", summary.Inserted)
	}
	if summary.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", summary.Skipped)
	}
	if summary.Unmatched != 1 {
		t.Errorf("expected 1 unmatched, got %d", summary.Unmatched)
	}

	if len(store.rows) != 1 {
		t.Fatalf("expected 1 stored row, got %d", len(store.rows))
	}
	for _, rec := range store.rows {
		if rec.Merchant != "SWIGGY BANGALORE" {
			t.Errorf("unexpected merchant %q", rec.Merchant)
		}
		if rec.Direction != api.DirectionDebit {
			t.Errorf("expected debit, got %s", rec.Direction)
		}
		if rec.Category != "food" {
			t.Errorf("expected category food, got %q", rec.Category)
		}
		if rec.Destination != api.DestinationTransaction {
			t.Errorf("expected transaction destination, got %s", rec.Destination)
		}
	}
}

func TestProcess_ReplayIsIdempotent(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeSource{}, store, Config{})

	msgs := []api.RawMessage{cardAlert("msg-1", "XX7003")}

	if _, err := p.Process(context.Background(), msgs); err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	summary, err := p.Process(context.Background(), msgs)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if summary.Inserted != 0 || summary.Duplicates != 1 {
		t.Errorf("expected pure duplicate replay, got %+v", summary)
	}
	if len(store.rows) != 1 {
		t.Errorf("expected 1 stored row after replay, got %d", len(store.rows))
	}
}

func TestProcess_GatekeeperRejectNeverWrites(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeSource{}, store, Config{})

	msgs := []api.RawMessage{
		rawEmail("msg-1", "noreply@broker.example", "Dividend announcement",
			"Dividend payment of Rs. 120.00 has been declared for your holdings."),
	}

	summary, err := p.Process(context.Background(), msgs)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %+v", summary)
	}
	if len(store.rows) != 0 {
		t.Errorf("expected no stored rows, got %d", len(store.rows))
	}
}

func TestProcess_CanceledBeforeWrite(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeSource{}, store, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, []api.RawMessage{cardAlert("msg-1", "XX7003")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.writes != 0 {
		t.Errorf("expected no write attempts after cancellation, got %d", store.writes)
	}
}

func TestProcess_ManyMessagesAcrossWorkers(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeSource{}, store, Config{Workers: 8})

	var msgs []api.RawMessage
	for i := 0; i < 40; i++ {
		msgs = append(msgs, cardAlert(fmt.Sprintf("msg-%d", i), fmt.Sprintf("XX%04d", i)))
	}

	summary, err := p.Process(context.Background(), msgs)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if summary.Inserted != 40 {
		t.Errorf("expected 40 inserted, got %+v", summary)
	}
}

func TestProcess_Empty(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeSource{}, store, Config{})

	summary, err := p.Process(context.Background(), nil)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if summary != (api.Summary{}) {
		t.Errorf("expected empty summary, got %+v", summary)
	}
	if store.writes != 0 {
		t.Errorf("expected no writes for empty batch, got %d", store.writes)
	}
}
