// Package mbox implements a mailbox source reading a local mbox file. It
// exists for offline runs and for replaying archived mail through the
// pipeline; storage idempotency makes replays safe.
package mbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/sbitra/mailmint/pkg/api"
)

// Source reads raw messages from an mbox file.
type Source struct {
	path   string
	logger *slog.Logger
}

// New creates an mbox source for the file at path.
func New(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("checking mbox file: %w", err)
	}
	return &Source{path: path, logger: logger}, nil
}

// Fetch reads the whole file and returns messages dated at or after since.
// Keywords are ignored; the gatekeeper re-filters everything anyway. Messages
// without a parsable Date header are always returned.
func (s *Source) Fetch(ctx context.Context, since time.Time, keywords []string) ([]api.RawMessage, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening mbox file: %w", err)
	}
	defer f.Close()

	name := filepath.Base(s.path)
	reader := mbox.NewReader(f)

	var msgs []api.RawMessage
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading message %d: %w", i, err)
		}

		data, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("reading message %d body: %w", i, err)
		}

		if dated, t := messageDate(data); dated && t.Before(since) {
			continue
		}

		msgs = append(msgs, api.RawMessage{
			ID:      fmt.Sprintf("%s:%d", name, i),
			Mailbox: name,
			Data:    data,
		})
	}

	s.logger.Info("read mbox file", "path", s.path, "count", len(msgs))
	return msgs, nil
}

// messageDate reports whether the message has a parsable Date header and,
// if so, its value.
func messageDate(data []byte) (bool, time.Time) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return false, time.Time{}
	}
	t, err := msg.Header.Date()
	if err != nil {
		return false, time.Time{}
	}
	return true, t
}

// Close releases nothing; the file is opened per fetch.
func (s *Source) Close() error { return nil }
