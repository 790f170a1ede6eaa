// Package stripe implements the synchronous-capture gateway shape: the card
// is charged during Initiate and the result is known immediately. Webhooks
// still arrive (asynchronous captures, disputes) and are signed with the
// t=<unix>,v1=<hmac> header scheme.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticketgate/internal/gateway"
)

// Charge amounts travel in minor units.
var hundred = decimal.NewFromInt(100)

const (
	GatewayID       = "stripe"
	SignatureHeader = "Signature"

	// Webhook timestamps older than this are replay attempts.
	signatureTolerance = 5 * time.Minute
)

type Config struct {
	Enabled       bool
	TestMode      bool
	SecretKey     string
	WebhookSecret string
	APIBase       string // overridable for sandbox / tests
}

type Gateway struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

func New(cfg Config) *Gateway {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.stripe.com"
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		now:    time.Now,
	}
}

func (g *Gateway) ID() string { return GatewayID }

type chargeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	BalanceTxn    string `json:"balance_transaction"`
	FailureReason string `json:"failure_message"`
}

func (g *Gateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount.Mul(hundred).IntPart(), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("description", "Registration "+req.Reference)
	form.Set("metadata[reference]", req.Reference)
	form.Set("receipt_email", req.CustomerEmail)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.APIBase+"/v1/charges", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(g.cfg.SecretKey, "")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrInitiationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: charge endpoint returned %d", gateway.ErrInitiationFailed, resp.StatusCode)
	}

	var charge chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return nil, fmt.Errorf("%w: decode charge response: %v", gateway.ErrInitiationFailed, err)
	}

	result := &gateway.InitiateResult{
		PaymentID:     req.Reference,
		GatewayID:     GatewayID,
		TransactionID: charge.ID,
	}
	if charge.Status == "succeeded" {
		result.Status = gateway.StatusPaid
	} else {
		result.Status = gateway.StatusFailed
	}
	return result, nil
}

type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		Reference     string `json:"reference"`
		TransactionID string `json:"transaction_id"`
	} `json:"data"`
}

// VerifyWebhook checks the signed-payload header before anything in the body
// is trusted. The signature covers "<timestamp>.<raw body>" with the shared
// webhook secret, so a forged body or a replayed timestamp both fail closed.
func (g *Gateway) VerifyWebhook(r *http.Request) (*gateway.WebhookNotice, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedWebhook, err)
	}

	ts, sig, err := parseSignatureHeader(r.Header.Get(SignatureHeader))
	if err != nil {
		return nil, err
	}

	sent := time.Unix(ts, 0)
	if g.now().Sub(sent) > signatureTolerance || sent.Sub(g.now()) > signatureTolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", gateway.ErrVerificationFailed)
	}

	expected := Sign(g.cfg.WebhookSecret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, gateway.ErrVerificationFailed
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedWebhook, err)
	}
	if payload.Data.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", gateway.ErrMalformedWebhook)
	}

	notice := &gateway.WebhookNotice{
		ExternalReference: payload.Data.Reference,
		TransactionID:     payload.Data.TransactionID,
		Raw: map[string]string{
			"type":           payload.Type,
			"transaction_id": payload.Data.TransactionID,
		},
	}
	switch payload.Type {
	case "charge.succeeded":
		notice.Outcome = gateway.OutcomeCompleted
	case "charge.failed":
		notice.Outcome = gateway.OutcomeFailed
	default:
		return nil, fmt.Errorf("%w: unsupported event type %q", gateway.ErrMalformedWebhook, payload.Type)
	}
	return notice, nil
}

// Sign computes the v1 signature for a timestamped payload. Exported so the
// dispatcher tests can produce valid deliveries.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(h string) (ts int64, sig string, err error) {
	if h == "" {
		return 0, "", fmt.Errorf("%w: missing signature header", gateway.ErrVerificationFailed)
	}
	for _, part := range strings.Split(h, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			if _, err := fmt.Sscanf(v, "%d", &ts); err != nil {
				return 0, "", fmt.Errorf("%w: bad timestamp", gateway.ErrVerificationFailed)
			}
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", fmt.Errorf("%w: incomplete signature header", gateway.ErrVerificationFailed)
	}
	return ts, sig, nil
}
