package rules

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sbitra/mailmint/pkg/api"
)

// ReviewLog records email bodies no rule recognized, so new patterns can be
// authored against real samples instead of the formats being silently lost.
// A nil *ReviewLog is valid and records nothing.
type ReviewLog struct {
	mu      sync.Mutex
	f       *os.File
	maxBody int
}

const defaultMaxBody = 2000

// OpenReviewLog opens (appending) the review log at path.
func OpenReviewLog(path string) (*ReviewLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening review log: %w", err)
	}
	return &ReviewLog{f: f, maxBody: defaultMaxBody}, nil
}

// Record appends one unmatched email, truncating the body to keep entries
// reviewable.
func (l *ReviewLog) Record(msgID string, email api.DecodedEmail) error {
	if l == nil {
		return nil
	}

	body := email.Body
	if len(body) > l.maxBody {
		body = body[:l.maxBody]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Message: %s\n", msgID)
	fmt.Fprintf(&sb, "From: %s\n", email.Sender)
	fmt.Fprintf(&sb, "Subject: %s\n", email.Subject)
	fmt.Fprintf(&sb, "Body: %s\n", body)
	sb.WriteString(strings.Repeat("-", 80))
	sb.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.WriteString(sb.String()); err != nil {
		return fmt.Errorf("appending to review log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *ReviewLog) Close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}
