package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusWaitlist  = "waitlist"

	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
	PaymentFailed   = "failed"

	EventDraft     = "draft"
	EventPublished = "published"
	EventClosed    = "closed"
)

// ActiveStatuses are the registration states that hold a seat.
var ActiveStatuses = []string{StatusPending, StatusConfirmed}

type Event struct {
	ID                    int64      `db:"id" json:"id"`
	Name                  string     `db:"name" json:"name"`
	Description           string     `db:"description,omitempty" json:"description,omitempty"`
	StartTime             time.Time  `db:"start_time" json:"start_time"`
	EndTime               time.Time  `db:"end_time,omitempty" json:"end_time,omitempty"`
	Location              string     `db:"location,omitempty" json:"location,omitempty"`
	Capacity              int        `db:"capacity" json:"capacity"` // 0 = unlimited
	Price                 string     `db:"price" json:"price"`       // free text, normalized at registration time
	Currency              string     `db:"currency" json:"currency"`
	Status                string     `db:"status" json:"status"`
	RegistrationOpenAt    *time.Time `db:"registration_open_at" json:"registration_open_at,omitempty"`
	RegistrationCloseAt   *time.Time `db:"registration_close_at" json:"registration_close_at,omitempty"`
	AllowWaitlist         bool       `db:"allow_waitlist" json:"allow_waitlist"`
	PaymentTimeoutMinutes int        `db:"payment_timeout_minutes" json:"payment_timeout_minutes"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Registrable reports whether the event accepts registrations at t.
// Open-ended window bounds are allowed on either side.
func (e *Event) Registrable(t time.Time) bool {
	if e.Status != EventPublished {
		return false
	}
	if e.RegistrationOpenAt != nil && t.Before(*e.RegistrationOpenAt) {
		return false
	}
	if e.RegistrationCloseAt != nil && t.After(*e.RegistrationCloseAt) {
		return false
	}
	return true
}

type Registration struct {
	ID               int64           `db:"id" json:"id"`
	EventID          int64           `db:"event_id" json:"event_id"`
	FullName         string          `db:"full_name" json:"full_name"`
	Email            string          `db:"email" json:"email"`
	Phone            string          `db:"phone,omitempty" json:"phone,omitempty"`
	Status           string          `db:"status" json:"status"`
	PaymentStatus    string          `db:"payment_status" json:"payment_status"`
	PaymentMethod    string          `db:"payment_method" json:"payment_method,omitempty"`
	GatewayPaymentID string          `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	TransactionID    string          `db:"transaction_id" json:"transaction_id,omitempty"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	TicketCode       string          `db:"ticket_code" json:"ticket_code"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// CustomFieldValue is one answer to an organizer-defined form field,
// kept append-only next to the registration row.
type CustomFieldValue struct {
	RegistrationID int64  `db:"registration_id" json:"registration_id"`
	FieldID        string `db:"field_id" json:"field_id"`
	Value          string `db:"value" json:"value"`
}

// WebhookEvent is the dedup row recorded per provider callback; the unique
// (gateway_id, external_reference) pair makes webhook processing at-most-once.
type WebhookEvent struct {
	GatewayID         string    `db:"gateway_id" json:"gateway_id"`
	ExternalReference string    `db:"external_reference" json:"external_reference"`
	ProcessedAt       time.Time `db:"processed_at" json:"processed_at"`
}
