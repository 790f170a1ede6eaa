// Package gateway normalizes third-party payment providers behind one
// interface. The registration flow only ever sees three outcomes: paid,
// pending (redirect, real outcome comes later over a webhook) and failed.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

var (
	ErrGatewayNotFound    = errors.New("gateway not found")
	ErrGatewayDisabled    = errors.New("gateway disabled")
	ErrVerificationFailed = errors.New("webhook verification failed")
	ErrInitiationFailed   = errors.New("payment initiation failed")
	ErrMalformedWebhook   = errors.New("malformed webhook payload")
	ErrDuplicateGatewayID = errors.New("duplicate gateway id")
)

type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPending PaymentStatus = "pending"
	StatusFailed  PaymentStatus = "failed"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// InitiateRequest carries everything an adapter may need to start a payment.
// Reference is the value the provider must echo back in its webhook so the
// dispatcher can locate the registration.
type InitiateRequest struct {
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerName  string
	ReturnURL     string
	CancelURL     string
}

type InitiateResult struct {
	PaymentID     string
	Status        PaymentStatus
	GatewayID     string
	RedirectURL   string
	TransactionID string
}

// WebhookNotice is a verified provider callback reduced to what the
// dispatcher needs; Raw keeps the provider fields for the audit log.
type WebhookNotice struct {
	ExternalReference string
	Outcome           Outcome
	TransactionID     string
	Raw               map[string]string
}

// Adapter is implemented once per provider. Implementations are stateless;
// all provider credentials live in their config structs.
type Adapter interface {
	ID() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	VerifyWebhook(r *http.Request) (*WebhookNotice, error)
}

// Registry maps gateway ids to adapters. Only enabled gateways resolve;
// an unknown or disabled id is a configuration error, never a default.
type Registry struct {
	adapters map[string]Adapter
	enabled  map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		enabled:  make(map[string]bool),
	}
}

func (r *Registry) Register(a Adapter, enabled bool) error {
	id := a.ID()
	if _, ok := r.adapters[id]; ok {
		return ErrDuplicateGatewayID
	}
	r.adapters[id] = a
	r.enabled[id] = enabled
	return nil
}

func (r *Registry) Resolve(id string) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, ErrGatewayNotFound
	}
	if !r.enabled[id] {
		return nil, ErrGatewayDisabled
	}
	return a, nil
}

// Enabled lists the selectable gateway ids.
func (r *Registry) Enabled() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		if r.enabled[id] {
			ids = append(ids, id)
		}
	}
	return ids
}
