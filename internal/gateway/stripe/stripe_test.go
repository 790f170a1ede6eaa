package stripe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ticketgate/internal/gateway"
)

func testGateway(apiBase string) *Gateway {
	return New(Config{
		Enabled:       true,
		TestMode:      true,
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		APIBase:       apiBase,
	})
}

func TestInitiateSyncPaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/charges" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("amount"); got != "2500" {
			t.Errorf("amount = %s, want 2500 (minor units)", got)
		}
		if got := r.PostForm.Get("metadata[reference]"); got != "ref-1" {
			t.Errorf("reference = %s, want ref-1", got)
		}
		fmt.Fprint(w, `{"id":"ch_1","status":"succeeded"}`)
	}))
	defer srv.Close()

	res, err := testGateway(srv.URL).Initiate(context.Background(), gateway.InitiateRequest{
		Reference: "ref-1",
		Amount:    decimal.RequireFromString("25.00"),
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != gateway.StatusPaid {
		t.Errorf("status = %s, want paid", res.Status)
	}
	if res.TransactionID != "ch_1" {
		t.Errorf("transaction id = %s, want ch_1", res.TransactionID)
	}
	if res.RedirectURL != "" {
		t.Errorf("synchronous capture must not redirect, got %s", res.RedirectURL)
	}
}

func TestInitiateDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"ch_2","status":"failed","failure_message":"card_declined"}`)
	}))
	defer srv.Close()

	res, err := testGateway(srv.URL).Initiate(context.Background(), gateway.InitiateRequest{
		Reference: "ref-2",
		Amount:    decimal.NewFromInt(10),
		Currency:  "EUR",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != gateway.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
}

func TestInitiateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testGateway(srv.URL).Initiate(context.Background(), gateway.InitiateRequest{
		Reference: "ref-3",
		Amount:    decimal.NewFromInt(10),
		Currency:  "EUR",
	})
	if !errors.Is(err, gateway.ErrInitiationFailed) {
		t.Fatalf("error = %v, want ErrInitiationFailed", err)
	}
}

func signedWebhook(t *testing.T, g *Gateway, body string, ts int64) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewBufferString(body))
	req.Header.Set(SignatureHeader, fmt.Sprintf("t=%d,v1=%s", ts, Sign(g.cfg.WebhookSecret, ts, []byte(body))))
	return req
}

func TestVerifyWebhook(t *testing.T) {
	g := testGateway("")
	body := `{"type":"charge.succeeded","data":{"reference":"ref-9","transaction_id":"ch_9"}}`

	notice, err := g.VerifyWebhook(signedWebhook(t, g, body, time.Now().Unix()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notice.ExternalReference != "ref-9" {
		t.Errorf("reference = %s, want ref-9", notice.ExternalReference)
	}
	if notice.Outcome != gateway.OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", notice.Outcome)
	}
}

func TestVerifyWebhookFailedCharge(t *testing.T) {
	g := testGateway("")
	body := `{"type":"charge.failed","data":{"reference":"ref-9","transaction_id":"ch_9"}}`

	notice, err := g.VerifyWebhook(signedWebhook(t, g, body, time.Now().Unix()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notice.Outcome != gateway.OutcomeFailed {
		t.Errorf("outcome = %s, want failed", notice.Outcome)
	}
}

func TestVerifyWebhookForgedSignature(t *testing.T) {
	g := testGateway("")
	body := `{"type":"charge.succeeded","data":{"reference":"ref-9"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewBufferString(body))
	req.Header.Set(SignatureHeader, fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))

	if _, err := g.VerifyWebhook(req); !errors.Is(err, gateway.ErrVerificationFailed) {
		t.Fatalf("error = %v, want ErrVerificationFailed", err)
	}
}

func TestVerifyWebhookStaleTimestamp(t *testing.T) {
	g := testGateway("")
	body := `{"type":"charge.succeeded","data":{"reference":"ref-9"}}`
	ts := time.Now().Add(-time.Hour).Unix()

	if _, err := g.VerifyWebhook(signedWebhook(t, g, body, ts)); !errors.Is(err, gateway.ErrVerificationFailed) {
		t.Fatalf("error = %v, want ErrVerificationFailed", err)
	}
}

func TestVerifyWebhookMissingHeader(t *testing.T) {
	g := testGateway("")
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewBufferString("{}"))

	if _, err := g.VerifyWebhook(req); !errors.Is(err, gateway.ErrVerificationFailed) {
		t.Fatalf("error = %v, want ErrVerificationFailed", err)
	}
}
