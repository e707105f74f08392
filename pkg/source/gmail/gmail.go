// Package gmail implements a mailbox source backed by the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sbitra/mailmint/pkg/api"
)

// Config holds configuration for the Gmail source.
type Config struct {
	// Mailbox is the label to search. Defaults to INBOX.
	Mailbox string
	// PageSize caps results per list call. Defaults to 100.
	PageSize int64
}

// Source fetches raw messages from a Gmail account.
type Source struct {
	service  *gmail.Service
	mailbox  string
	pageSize int64
	logger   *slog.Logger
}

// New creates a new Gmail source using an authorized HTTP client.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	service, err := gmail.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}

	return &Source{
		service:  service,
		mailbox:  cfg.Mailbox,
		pageSize: cfg.PageSize,
		logger:   logger,
	}, nil
}

// Fetch lists messages matching the time window and keyword query, then
// downloads each one in raw RFC 822 form. Gmail's keyword search is a coarse
// first pass; downstream filtering re-checks the decoded content.
func (s *Source) Fetch(ctx context.Context, since time.Time, keywords []string) ([]api.RawMessage, error) {
	query := buildQuery(s.mailbox, since, keywords)
	s.logger.Debug("listing messages", "query", query)

	var refs []*gmail.Message
	pageToken := ""
	for {
		call := s.service.Users.Messages.List("me").
			Q(query).
			MaxResults(s.pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}
		refs = append(refs, resp.Messages...)

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	s.logger.Info("found messages", "count", len(refs), "mailbox", s.mailbox)

	msgs := make([]api.RawMessage, 0, len(refs))
	for _, ref := range refs {
		raw, err := s.fetchRaw(ctx, ref.Id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("failed to fetch message", "message_id", ref.Id, "error", err)
			continue
		}
		msgs = append(msgs, api.RawMessage{
			ID:      ref.Id,
			Mailbox: s.mailbox,
			Data:    raw,
		})
	}

	return msgs, nil
}

// fetchRaw downloads one message as its full RFC 822 payload.
func (s *Source) fetchRaw(ctx context.Context, msgID string) ([]byte, error) {
	msg, err := s.service.Users.Messages.Get("me", msgID).
		Format("raw").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}

	raw, err := base64.URLEncoding.DecodeString(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("decoding raw payload: %w", err)
	}
	return raw, nil
}

// buildQuery assembles the Gmail search expression. Keywords are OR-ed;
// multi-word keywords are quoted.
func buildQuery(mailbox string, since time.Time, keywords []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "in:%s after:%d", strings.ToLower(mailbox), since.Unix())

	if len(keywords) > 0 {
		sb.WriteString(" (")
		for i, kw := range keywords {
			if i > 0 {
				sb.WriteString(" OR ")
			}
			if strings.ContainsAny(kw, " .") {
				fmt.Fprintf(&sb, "%q", kw)
			} else {
				sb.WriteString(kw)
			}
		}
		sb.WriteString(")")
	}

	return sb.String()
}

// Close releases nothing; the Gmail service holds no long-lived connections
// beyond the HTTP client owned by the caller.
func (s *Source) Close() error { return nil }
