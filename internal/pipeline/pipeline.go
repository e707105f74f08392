// Package pipeline wires the extraction stages together and drives them over
// batches of fetched mail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/sbitra/mailmint/pkg/api"
	"github.com/sbitra/mailmint/pkg/decoder"
	"github.com/sbitra/mailmint/pkg/gatekeeper"
	"github.com/sbitra/mailmint/pkg/normalize"
	"github.com/sbitra/mailmint/pkg/rules"
)

// Config holds the pipeline tuning knobs.
type Config struct {
	// ChunkSize bounds how many messages are processed and written per batch.
	ChunkSize int `koanf:"chunk_size"`
	// Workers is the number of goroutines running the stateless stages.
	Workers int `koanf:"workers"`
	// PollInterval is the time between fetch passes in Run.
	PollInterval time.Duration `koanf:"poll_interval"`
	// Lookback is how far back each fetch pass reaches. Overlap with prior
	// passes is harmless: storage is idempotent.
	Lookback time.Duration `koanf:"lookback"`
}

// Pipeline runs fetched messages through decode, gatekeep, rule selection and
// normalization, then hands the surviving records to the store.
type Pipeline struct {
	source     api.Source
	store      api.Store
	gate       *gatekeeper.Gatekeeper
	registry   *rules.Registry
	normalizer *normalize.Normalizer
	review     *rules.ReviewLog
	logger     *slog.Logger

	chunkSize    int
	workers      int
	pollInterval time.Duration
	lookback     time.Duration
}

// New creates a pipeline. review may be nil to disable the review log.
func New(source api.Source, store api.Store, gate *gatekeeper.Gatekeeper, registry *rules.Registry, normalizer *normalize.Normalizer, review *rules.ReviewLog, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	// Set defaults
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 50
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 15 * time.Minute
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = 48 * time.Hour
	}

	return &Pipeline{
		source:       source,
		store:        store,
		gate:         gate,
		registry:     registry,
		normalizer:   normalizer,
		review:       review,
		logger:       logger,
		chunkSize:    cfg.ChunkSize,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		lookback:     cfg.Lookback,
	}
}

// Run fetches and processes mail until the context is canceled. The first
// pass starts immediately; subsequent passes run on the poll interval.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.pass(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Error("pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single fetch-and-process cycle and returns.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	return p.pass(ctx)
}

// pass performs one fetch-and-process cycle over the lookback window.
func (p *Pipeline) pass(ctx context.Context) error {
	batchID := uuid.NewString()
	logger := p.logger.With("pass_id", batchID)

	since := time.Now().Add(-p.lookback)

	var msgs []api.RawMessage
	err := retry.Do(
		func() error {
			var fetchErr error
			msgs, fetchErr = p.source.Fetch(ctx, since, p.gate.Keywords())
			return fetchErr
		},
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, context.Canceled) {
				return false
			}
			logger.Warn("fetch failed, will retry", "error", err)
			return true
		}),
		retry.Attempts(3),
		retry.Delay(10*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}

	logger.Info("fetched messages", "count", len(msgs), "since", since)

	var total api.Summary
	for start := 0; start < len(msgs); start += p.chunkSize {
		end := start + p.chunkSize
		if end > len(msgs) {
			end = len(msgs)
		}

		summary, err := p.Process(ctx, msgs[start:end])
		total.Inserted += summary.Inserted
		total.Duplicates += summary.Duplicates
		total.Rejected += summary.Rejected
		total.Unmatched += summary.Unmatched
		total.Skipped += summary.Skipped
		if err != nil {
			// Cancellation is batch-granular: the current chunk is
			// abandoned whole, completed chunks stay committed.
			return fmt.Errorf("processing chunk: %w", err)
		}
	}

	logger.Info("pass complete",
		"inserted", total.Inserted,
		"duplicates", total.Duplicates,
		"rejected", total.Rejected,
		"unmatched", total.Unmatched,
		"skipped", total.Skipped,
	)
	return nil
}

// stageResult carries one message's fate out of the stateless stages.
type stageResult struct {
	record    *api.Record
	skipped   bool
	unmatched bool
	rejected  bool
}

// Process runs one bounded batch through the stateless stages concurrently,
// then writes all surviving records in a single store batch. If ctx is
// canceled before the write, nothing from this batch is persisted.
func (p *Pipeline) Process(ctx context.Context, msgs []api.RawMessage) (api.Summary, error) {
	var summary api.Summary
	if len(msgs) == 0 {
		return summary, nil
	}

	jobs := make(chan api.RawMessage)
	results := make(chan stageResult, len(msgs))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				results <- p.processOne(msg)
			}
		}()
	}

	for _, msg := range msgs {
		jobs <- msg
	}
	close(jobs)
	wg.Wait()
	close(results)

	records := make([]api.Record, 0, len(msgs))
	for res := range results {
		switch {
		case res.skipped:
			summary.Skipped++
		case res.unmatched:
			summary.Unmatched++
		case res.rejected:
			summary.Rejected++
		default:
			records = append(records, *res.record)
		}
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	result, err := p.store.WriteBatch(ctx, records)
	summary.Add(result)
	if err != nil {
		return summary, fmt.Errorf("writing batch: %w", err)
	}

	return summary, nil
}

// processOne runs the stateless stages for a single message. Every outcome is
// terminal; no stage mutates shared state.
func (p *Pipeline) processOne(msg api.RawMessage) stageResult {
	email := decoder.Decode(msg.Data)

	ok, reason := p.gate.Accept(email)
	if !ok {
		p.logger.Debug("gatekeeper skipped message",
			"message_id", msg.ID,
			"reason", reason,
		)
		return stageResult{skipped: true}
	}

	match, ok := p.registry.Select(email.Body)
	if !ok {
		p.logger.Info("no rule matched, recording for review",
			"message_id", msg.ID,
			"sender", email.Sender,
		)
		if err := p.review.Record(msg.ID, email); err != nil {
			p.logger.Warn("review log write failed", "error", err)
		}
		return stageResult{unmatched: true}
	}

	txn, err := p.normalizer.Normalize(match, email, time.Now())
	if err != nil {
		p.logger.Warn("normalization rejected message",
			"message_id", msg.ID,
			"rule", match.Rule,
			"error", err,
		)
		return stageResult{rejected: true}
	}

	return stageResult{record: &api.Record{
		Transaction: txn,
		Destination: p.gate.Destination(email),
	}}
}
