package decoder

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestDecode_PlainText(t *testing.T) {
	raw := "From: HDFC Bank <alerts@hdfcbank.net>\r\n" +
		"To: me@example.com\r\n" +
		"Subject: Transaction alert\r\n" +
		"Date: Thu, 14 Mar 2024 09:00:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Rs. 500.00 spent on your\r\ncard at SWIGGY.\r\n"

	email := Decode([]byte(raw))

	if email.Sender != "alerts@hdfcbank.net" {
		t.Errorf("unexpected sender %q", email.Sender)
	}
	if email.Subject != "Transaction alert" {
		t.Errorf("unexpected subject %q", email.Subject)
	}
	if want := "Rs. 500.00 spent on your card at SWIGGY."; email.Body != want {
		t.Errorf("body = %q, want %q", email.Body, want)
	}
	if want := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC); !email.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", email.Timestamp, want)
	}
}

func TestDecode_Base64Body(t *testing.T) {
	body := "INR 1,234.00 debited from your account."
	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	// Wrap like real senders do.
	wrapped := encoded[:20] + "\r\n" + encoded[20:]

	raw := "From: alerts@bank.example\r\n" +
		"Subject: Alert\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" + wrapped + "\r\n"

	email := Decode([]byte(raw))
	if email.Body != body {
		t.Errorf("body = %q, want %q", email.Body, body)
	}
}

func TestDecode_QuotedPrintable(t *testing.T) {
	raw := "From: alerts@bank.example\r\n" +
		"Subject: Alert\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"Rs. 99.00 spent at CAF=C3=89 MADRAS on your card.\r\n"

	email := Decode([]byte(raw))
	if want := "Rs. 99.00 spent at CAFÉ MADRAS on your card."; email.Body != want {
		t.Errorf("body = %q, want %q", email.Body, want)
	}
}

func TestDecode_MultipartPrefersPlain(t *testing.T) {
	raw := "From: alerts@bank.example\r\n" +
		"Subject: Alert\r\n" +
		"Content-Type: multipart/alternative; boundary=BOUND\r\n" +
		"\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>HTML version</p></body></html>\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Plain version\r\n" +
		"--BOUND--\r\n"

	email := Decode([]byte(raw))
	if email.Body != "Plain version" {
		t.Errorf("body = %q, want plain part", email.Body)
	}
}

func TestDecode_HTMLFallback(t *testing.T) {
	raw := "From: alerts@bank.example\r\n" +
		"Subject: Alert\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><head><style>p{color:red}</style></head>" +
		"<body><p>INR 250.00 debited</p><p>from your account</p></body></html>\r\n"

	email := Decode([]byte(raw))
	if !strings.Contains(email.Body, "INR 250.00 debited") {
		t.Errorf("body missing text content: %q", email.Body)
	}
	if strings.Contains(email.Body, "color:red") {
		t.Errorf("body leaked style content: %q", email.Body)
	}
}

func TestDecode_EncodedSubject(t *testing.T) {
	raw := "From: alerts@bank.example\r\n" +
		"Subject: =?UTF-8?B?VHJhbnNhY3Rpb24gYWxlcnQ=?=\r\n" +
		"\r\n" +
		"body\r\n"

	email := Decode([]byte(raw))
	if email.Subject != "Transaction alert" {
		t.Errorf("subject = %q", email.Subject)
	}
}

func TestDecode_ReceivedFallback(t *testing.T) {
	raw := "From: alerts@bank.example\r\n" +
		"Received: from mx.example.com by mail.example.com; Thu, 14 Mar 2024 09:30:00 +0000\r\n" +
		"Subject: Alert\r\n" +
		"\r\n" +
		"body\r\n"

	email := Decode([]byte(raw))
	if want := time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC); !email.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", email.Timestamp, want)
	}
}

func TestDecode_Malformed(t *testing.T) {
	email := Decode([]byte("not an email at all"))
	if email.Body != "" || email.Sender != "" {
		t.Errorf("expected empty result for garbage input, got %+v", email)
	}
	if !email.Timestamp.IsZero() {
		t.Errorf("expected zero timestamp, got %v", email.Timestamp)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  a  b  ", "a b"},
		{"a\r\n b\tc", "a b c"},
		{"", ""},
		{"\n\n\n", ""},
	}
	for _, tt := range tests {
		if got := CollapseWhitespace(tt.in); got != tt.want {
			t.Errorf("CollapseWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHTMLToText_Tables(t *testing.T) {
	html := "<table><tr><td>Amount Debited:</td><td>INR 500.00</td></tr>" +
		"<tr><td>Account Number:</td><td>XX1234</td></tr></table>"

	text := CollapseWhitespace(HTMLToText(html))
	if !strings.Contains(text, "Amount Debited: INR 500.00") {
		t.Errorf("table cells not separated: %q", text)
	}
}
