package dto

import (
	"time"

	"github.com/wb-go/wbf/ginext"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound         = "EVENT_NOT_FOUND"
	RegistrationNotFound  = "REGISTRATION_NOT_FOUND"
	RegistrationDuplicate = "REGISTRATION_DUPLICATE"
	RegistrationClosed    = "REGISTRATION_CLOSED"
	CapacityExceeded      = "CAPACITY_EXCEEDED"
	TicketCodeExhausted   = "TICKET_CODE_EXHAUSTED"
	GatewayNotFound       = "GATEWAY_NOT_FOUND"
	GatewayDisabled       = "GATEWAY_DISABLED"
	PaymentInitFailed     = "PAYMENT_INIT_FAILED"
	WebhookVerification   = "WEBHOOK_VERIFICATION_FAILED"
)

type RegisterRequest struct {
	FullName      string            `json:"full_name" validate:"required,min=3,max=255"`
	Email         string            `json:"email" validate:"required,email"`
	Phone         string            `json:"phone"`
	PaymentMethod string            `json:"payment_method"` // gateway id; ignored for free events
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
}

type RegisterResponse struct {
	RegistrationID int64  `json:"registration_id"`
	EventID        int64  `json:"event_id"`
	TicketCode     string `json:"ticket_code"`
	Status         string `json:"status"`
	PaymentStatus  string `json:"payment_status"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	RedirectURL    string `json:"redirect_url,omitempty"`
}

type CancelResponse struct {
	RegistrationID int64  `json:"registration_id"`
	Status         string `json:"status"`
	Changed        bool   `json:"changed"`
}

type RegistrationResponse struct {
	ID            int64     `json:"id"`
	EventID       int64     `json:"event_id"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	TicketCode    string    `json:"ticket_code"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type CreateEventRequest struct {
	Name                  string     `json:"name" validate:"required"`
	Description           string     `json:"description"`
	StartTime             time.Time  `json:"start_time" validate:"required"`
	EndTime               time.Time  `json:"end_time"`
	Location              string     `json:"location"`
	Capacity              int        `json:"capacity" validate:"gte=0"`
	Price                 string     `json:"price"`
	Currency              string     `json:"currency" validate:"required,currency"`
	Status                string     `json:"status"`
	RegistrationOpenAt    *time.Time `json:"registration_open_at"`
	RegistrationCloseAt   *time.Time `json:"registration_close_at"`
	AllowWaitlist         bool       `json:"allow_waitlist"`
	PaymentTimeoutMinutes int        `json:"payment_timeout_minutes" validate:"gte=1"`
}

type EventResponse struct {
	ID                    int64      `json:"id"`
	Name                  string     `json:"name"`
	Description           string     `json:"description"`
	StartTime             time.Time  `json:"start_time"`
	EndTime               time.Time  `json:"end_time"`
	Location              string     `json:"location"`
	Capacity              int        `json:"capacity"`
	Price                 string     `json:"price"`
	Currency              string     `json:"currency"`
	Status                string     `json:"status"`
	RegistrationOpenAt    *time.Time `json:"registration_open_at,omitempty"`
	RegistrationCloseAt   *time.Time `json:"registration_close_at,omitempty"`
	AllowWaitlist         bool       `json:"allow_waitlist"`
	PaymentTimeoutMinutes int        `json:"payment_timeout_minutes"`
	CreatedAt             time.Time  `json:"created_at"`
}

type EventInfoResponse struct {
	EventResponse
	UpdatedAt      time.Time              `json:"updated_at"`
	AvailableSeats int                    `json:"available_seats"` // -1 = unlimited
	Registrations  []RegistrationResponse `json:"registrations,omitempty"`
}

// NotificationMessage travels over the queue to the notification worker.
type NotificationMessage struct {
	Kind           string    `json:"kind"` // pending, confirmed, failed, cancelled, waitlist
	RegistrationID int64     `json:"registration_id"`
	EventID        int64     `json:"event_id"`
	EventName      string    `json:"event_name"`
	Email          string    `json:"email"`
	TicketCode     string    `json:"ticket_code"`
	TimeoutMinutes int       `json:"timeout_minutes,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// ExpireMessage is the delayed payment-timeout message.
type ExpireMessage struct {
	RegistrationID int64     `json:"registration_id"`
	EventID        int64     `json:"event_id"`
	ExpireAt       time.Time `json:"expire_at"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func ConflictError(c *ginext.Context, code, desc string) {
	c.JSON(409, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func NotFoundError(c *ginext.Context, code, desc string) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func EventNotFoundError(c *ginext.Context) {
	NotFoundError(c, EventNotFound, "Event not found")
}

func RegistrationNotFoundError(c *ginext.Context) {
	NotFoundError(c, RegistrationNotFound, "Registration not found")
}

func RegistrationDuplicateError(c *ginext.Context) {
	ConflictError(c, RegistrationDuplicate, "You have already registered for this event")
}

func CapacityExceededError(c *ginext.Context) {
	ConflictError(c, CapacityExceeded, "Event is sold out")
}

func RegistrationClosedError(c *ginext.Context) {
	ConflictError(c, RegistrationClosed, "Registration is closed for this event")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}

const (
	QueueMessageNotify = "notify"
	QueueMessageExpire = "expire"
)

// QueueMessage is the envelope on the delayed queue; exactly one payload
// field is set, according to Type.
type QueueMessage struct {
	Type         string               `json:"type"`
	Notification *NotificationMessage `json:"notification,omitempty"`
	Expire       *ExpireMessage       `json:"expire,omitempty"`
}
