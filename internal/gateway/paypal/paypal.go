// Package paypal implements the redirect gateway shape: Initiate never
// charges anything, it hands back a hosted-checkout URL and the real outcome
// arrives later as an IPN-style form post.
package paypal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"ticketgate/internal/gateway"
)

const GatewayID = "paypal"

// signedFields is the canonical ordering the IPN signature covers. Order
// matters: both sides must concatenate the same way.
var signedFields = []string{"txn_id", "payment_status", "custom", "mc_gross", "mc_currency"}

type Config struct {
	Enabled      bool
	TestMode     bool
	BusinessID   string
	SharedSecret string
	CheckoutBase string // overridable for sandbox / tests
}

type Gateway struct {
	cfg Config
}

func New(cfg Config) *Gateway {
	if cfg.CheckoutBase == "" {
		if cfg.TestMode {
			cfg.CheckoutBase = "https://www.sandbox.paypal.com/cgi-bin/webscr"
		} else {
			cfg.CheckoutBase = "https://www.paypal.com/cgi-bin/webscr"
		}
	}
	return &Gateway{cfg: cfg}
}

func (g *Gateway) ID() string { return GatewayID }

// Initiate builds the hosted-checkout redirect. The registration reference
// rides in the "custom" field and comes back unchanged on the IPN.
func (g *Gateway) Initiate(_ context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	q := url.Values{}
	q.Set("cmd", "_xclick")
	q.Set("business", g.cfg.BusinessID)
	q.Set("item_name", "Event registration")
	q.Set("amount", req.Amount.StringFixed(2))
	q.Set("currency_code", strings.ToUpper(req.Currency))
	q.Set("custom", req.Reference)
	q.Set("return", req.ReturnURL)
	q.Set("cancel_return", req.CancelURL)

	return &gateway.InitiateResult{
		PaymentID:   req.Reference,
		Status:      gateway.StatusPending,
		GatewayID:   GatewayID,
		RedirectURL: g.cfg.CheckoutBase + "?" + q.Encode(),
	}, nil
}

func (g *Gateway) VerifyWebhook(r *http.Request) (*gateway.WebhookNotice, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedWebhook, err)
	}

	got := r.PostForm.Get("verify_sig")
	if got == "" {
		return nil, fmt.Errorf("%w: missing verify_sig", gateway.ErrVerificationFailed)
	}
	expected := Sign(g.cfg.SharedSecret, r.PostForm)
	if !hmac.Equal([]byte(expected), []byte(got)) {
		return nil, gateway.ErrVerificationFailed
	}

	reference := r.PostForm.Get("custom")
	if reference == "" {
		return nil, fmt.Errorf("%w: missing custom reference", gateway.ErrMalformedWebhook)
	}

	raw := make(map[string]string, len(signedFields))
	for _, f := range signedFields {
		raw[f] = r.PostForm.Get(f)
	}

	notice := &gateway.WebhookNotice{
		ExternalReference: reference,
		TransactionID:     r.PostForm.Get("txn_id"),
		Raw:               raw,
	}
	switch r.PostForm.Get("payment_status") {
	case "Completed":
		notice.Outcome = gateway.OutcomeCompleted
	case "Denied", "Failed", "Expired":
		notice.Outcome = gateway.OutcomeFailed
	default:
		return nil, fmt.Errorf("%w: unsupported payment_status %q",
			gateway.ErrMalformedWebhook, r.PostForm.Get("payment_status"))
	}
	return notice, nil
}

// Sign computes the IPN signature over the canonical field order joined
// with '|'. Exported for tests that craft deliveries.
func Sign(secret string, form url.Values) string {
	parts := make([]string, 0, len(signedFields))
	for _, f := range signedFields {
		parts = append(parts, form.Get(f))
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
