// Package decoder turns raw RFC 822 messages into plain text plus metadata.
//
// Decoding is strictly best-effort: a malformed part, an unknown charset or a
// broken transfer encoding yields replacement characters or an empty body,
// never an error. An empty body simply fails the gatekeeper downstream.
package decoder

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/sbitra/mailmint/pkg/api"
)

// Decode parses a raw message into its plain-text view. The body preference
// order is: first text/plain part, else first text/html part converted to
// text. Subject reverses RFC 2047 word encoding, Sender is the bare address
// from the From header, Timestamp falls back from Date to the newest
// Received trace and is the zero time when both fail.
func Decode(raw []byte) api.DecodedEmail {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return api.DecodedEmail{}
	}

	out := api.DecodedEmail{
		Subject:   decodeSubject(msg.Header.Get("Subject")),
		Sender:    senderAddress(msg.Header.Get("From")),
		Timestamp: messageTime(msg.Header),
	}

	plain, htmlBody := walkBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, 0)
	if plain != "" {
		out.Body = CollapseWhitespace(plain)
	} else if htmlBody != "" {
		out.Body = CollapseWhitespace(HTMLToText(htmlBody))
	}
	return out
}

// maxPartDepth bounds recursion into nested multiparts; real bank mail never
// nests deeper than two or three levels.
const maxPartDepth = 8

// walkBody descends into multipart structures and returns the first
// text/plain and first text/html payloads found.
func walkBody(contentType, transferEncoding string, body io.Reader, depth int) (plain, htmlBody string) {
	if depth > maxPartDepth {
		return "", ""
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Unlabeled bodies are overwhelmingly plain text in practice.
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", ""
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err != nil {
				return plain, htmlBody
			}
			p, h := walkBody(
				part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"),
				part, depth+1,
			)
			if plain == "" {
				plain = p
			}
			if htmlBody == "" {
				htmlBody = h
			}
			if plain != "" {
				return plain, htmlBody
			}
		}
	}

	text := decodePart(body, transferEncoding, params["charset"])
	switch mediaType {
	case "text/plain":
		return text, ""
	case "text/html":
		return "", text
	}
	return "", ""
}

// decodePart applies the transfer encoding and charset of a single leaf part.
// Unknown charsets fall back to the raw bytes; bad sequences become U+FFFD.
func decodePart(r io.Reader, transferEncoding, charsetLabel string) string {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, newLineStripper(r))
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	if charsetLabel != "" {
		if cr, err := charset.NewReaderLabel(charsetLabel, r); err == nil {
			r = cr
		}
	}

	data, err := io.ReadAll(r)
	if err != nil && len(data) == 0 {
		return ""
	}
	return string(bytes.ToValidUTF8(data, []byte("�")))
}

// decodeSubject reverses RFC 2047 encoded words, tolerating any charset the
// platform knows about. On failure the raw header value is kept.
func decodeSubject(s string) string {
	dec := mime.WordDecoder{
		CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
			return charset.NewReaderLabel(label, input)
		},
	}
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(decoded)
}

// senderAddress extracts the bare address from a display-name From header.
func senderAddress(from string) string {
	if from == "" {
		return ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		// Headers like "ICICI Bank <alerts@icicibank.com" (unbalanced) still
		// carry a usable address; fall back to the raw value.
		return strings.TrimSpace(from)
	}
	return addr.Address
}

// messageTime resolves the message timestamp, preferring the Date header and
// falling back to the newest Received trace header's date clause.
func messageTime(h mail.Header) time.Time {
	if t, err := h.Date(); err == nil {
		return t
	}
	for _, received := range h["Received"] {
		// The date clause follows the final semicolon of each trace line.
		idx := strings.LastIndex(received, ";")
		if idx < 0 {
			continue
		}
		if t, err := mail.ParseDate(strings.TrimSpace(received[idx+1:])); err == nil {
			return t
		}
	}
	return time.Time{}
}

// CollapseWhitespace trims the text and folds runs of whitespace, including
// newlines, into single spaces. Rule patterns are written against this
// single-line form.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// newLineStripper removes CR/LF so base64 decoding accepts wrapped payloads.
type lineStripper struct {
	r io.Reader
}

func newLineStripper(r io.Reader) io.Reader {
	return &lineStripper{r: r}
}

func (l *lineStripper) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	kept := 0
	for i := 0; i < n; i++ {
		if p[i] == '\r' || p[i] == '\n' {
			continue
		}
		p[kept] = p[i]
		kept++
	}
	if kept == 0 && err == nil && n > 0 {
		return l.Read(p)
	}
	return kept, err
}
