package gatekeeper

import (
	"log/slog"
	"testing"

	"github.com/sbitra/mailmint/pkg/api"
)

func newTestGatekeeper(t *testing.T) *Gatekeeper {
	t.Helper()
	return New(DefaultConfig(), slog.New(slog.DiscardHandler))
}

func TestAccept(t *testing.T) {
	g := newTestGatekeeper(t)

	tests := []struct {
		name       string
		subject    string
		body       string
		wantAccept bool
		wantReason string
	}{
		{
			name:       "debit alert",
			subject:    "Transaction alert",
			body:       "Rs. 500.00 debited from your account",
			wantAccept: true,
		},
		{
			name:       "no financial vocabulary",
			subject:    "Welcome to our newsletter",
			body:       "Thanks for subscribing to our weekly digest.",
			wantAccept: false,
			wantReason: "no-financial-keywords",
		},
		{
			name:       "dividend notice",
			subject:    "Dividend declared",
			body:       "A dividend payment of Rs. 12.00 per share has been declared.",
			wantAccept: false,
			wantReason: "dividend",
		},
		{
			name:       "otp alert",
			subject:    "One Time Password",
			body:       "Your OTP for the transaction is 482913.",
			wantAccept: false,
			wantReason: "login",
		},
		{
			name:       "promo with financial words",
			subject:    "Special EMI offer on your card",
			body:       "Convert any payment above Rs. 5,000 with this EMI offer.",
			wantAccept: false,
			wantReason: "promotions",
		},
		{
			// Shares "gift"/"offer" vocabulary with promotions but the
			// credit card + transaction pair rescues it.
			name:       "card transaction rescued from promo filter",
			subject:    "Credit Card transaction alert",
			body:       "A transaction of Rs. 2,000.00 on your credit card at GIFT GALLERY.",
			wantAccept: true,
		},
		{
			name:       "empty body",
			subject:    "",
			body:       "",
			wantAccept: false,
			wantReason: "no-financial-keywords",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := g.Accept(api.DecodedEmail{Subject: tt.subject, Body: tt.body})
			if ok != tt.wantAccept {
				t.Errorf("Accept() = %v, want %v (reason %q)", ok, tt.wantAccept, reason)
			}
			if !ok && reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
			if ok && reason != "" {
				t.Errorf("accepted email carried reason %q", reason)
			}
		})
	}
}

func TestDestination(t *testing.T) {
	g := newTestGatekeeper(t)

	tests := []struct {
		name    string
		subject string
		body    string
		want    api.Destination
	}{
		{
			name:    "spend notice",
			subject: "Transaction alert",
			body:    "Rs. 500.00 spent at SWIGGY",
			want:    api.DestinationTransaction,
		},
		{
			name:    "bill reminder",
			subject: "Your card bill",
			body:    "Total amount due: Rs. 12,340.00. Payment due by 25-03-2024.",
			want:    api.DestinationBill,
		},
		{
			name:    "monthly statement",
			subject: "Your account statement for March",
			body:    "Please find your statement attached.",
			want:    api.DestinationStatement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Destination(api.DecodedEmail{Subject: tt.subject, Body: tt.body})
			if got != tt.want {
				t.Errorf("Destination() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeywords_Copy(t *testing.T) {
	g := newTestGatekeeper(t)

	kws := g.Keywords()
	if len(kws) == 0 {
		t.Fatal("expected non-empty keyword set")
	}
	kws[0] = "tampered"
	if g.Keywords()[0] == "tampered" {
		t.Error("Keywords() exposed internal state")
	}
}
