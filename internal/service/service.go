package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"ticketgate/cmd/middleware"
	"ticketgate/internal/dto"
	"ticketgate/internal/gateway"
	"ticketgate/internal/model"
	"ticketgate/internal/price"
	"ticketgate/internal/repo"
	"ticketgate/internal/ticket"
	"ticketgate/pkg/validator"
)

type Service interface {
	CreateEvent(ctx *ginext.Context)
	Register(ctx *ginext.Context)
	Cancel(ctx *ginext.Context)
	GetInfo(ctx *ginext.Context)
	GetAllEvents(ctx *ginext.Context)
	TicketLookup(ctx *ginext.Context)
}

// Publisher is the slice of the queue client the service needs.
type Publisher interface {
	Publish(message []byte, delaySeconds int) error
}

type service struct {
	repo     repo.Repository
	log      *zerolog.Logger
	rbt      Publisher
	gateways *gateway.Registry
	baseURL  string
	now      func() time.Time
}

func NewService(repo repo.Repository, logger *zerolog.Logger, rbt Publisher, gateways *gateway.Registry, baseURL string) Service {
	return &service{
		repo:     repo,
		log:      logger,
		rbt:      rbt,
		gateways: gateways,
		baseURL:  baseURL,
		now:      time.Now,
	}
}

func (s *service) CreateEvent(ctx *ginext.Context) {
	var req dto.CreateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create event request")
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		s.log.Error().Msgf("validation failed: %v", verr)
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	// The price is stored as the organizer typed it; reject only what can
	// never normalize to an amount.
	if _, err := price.Parse(req.Price); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("Unparseable price %q", req.Price))
		return
	}

	status := req.Status
	if status == "" {
		status = model.EventPublished
	}

	event := &model.Event{
		Name:                  req.Name,
		Description:           req.Description,
		StartTime:             req.StartTime,
		EndTime:               req.EndTime,
		Location:              req.Location,
		Capacity:              req.Capacity,
		Price:                 req.Price,
		Currency:              req.Currency,
		Status:                status,
		RegistrationOpenAt:    req.RegistrationOpenAt,
		RegistrationCloseAt:   req.RegistrationCloseAt,
		AllowWaitlist:         req.AllowWaitlist,
		PaymentTimeoutMinutes: req.PaymentTimeoutMinutes,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}

	id, err := s.repo.CreateEvent(ctx, event)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create event in DB")
		dto.InternalServerError(ctx)
		return
	}

	event.ID = id
	s.log.Info().Int64("event_id", id).Msg("event created successfully")

	dto.SuccessCreatedResponse(ctx, eventResponse(event))
}

func (s *service) Register(ctx *ginext.Context) {
	eventID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return
	}

	var req dto.RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		dto.EventNotFoundError(ctx)
		return
	}

	if !event.Registrable(s.now()) {
		dto.RegistrationClosedError(ctx)
		return
	}

	amount, err := price.Parse(event.Price)
	if err != nil {
		s.log.Error().Err(err).Int64("event_id", eventID).Str("price", event.Price).
			Msg("event has unparseable price")
		dto.InternalServerError(ctx)
		return
	}

	registration := &model.Registration{
		EventID:  eventID,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Amount:   amount,
		Currency: event.Currency,
	}

	var adapter gateway.Adapter
	if amount.IsZero() {
		// Free events confirm synchronously; no gateway is ever involved.
		registration.Status = model.StatusConfirmed
		registration.PaymentStatus = model.PaymentPaid
	} else {
		// Resolve the gateway before touching the ledger: a misconfigured
		// gateway must not burn a seat.
		adapter, err = s.gateways.Resolve(req.PaymentMethod)
		if err != nil {
			switch {
			case errors.Is(err, gateway.ErrGatewayDisabled):
				dto.BadResponseError(ctx, dto.GatewayDisabled, "Payment method is disabled")
			default:
				dto.BadResponseError(ctx, dto.GatewayNotFound, "Unknown payment method")
			}
			return
		}
		registration.Status = model.StatusPending
		registration.PaymentStatus = model.PaymentPending
		registration.PaymentMethod = adapter.ID()
		registration.GatewayPaymentID = uuid.NewString()
	}

	fields := make([]model.CustomFieldValue, 0, len(req.CustomFields))
	for fieldID, value := range req.CustomFields {
		fields = append(fields, model.CustomFieldValue{FieldID: fieldID, Value: value})
	}

	var regID int64
	for attempt := 0; attempt < ticket.MaxAttempts; attempt++ {
		code, err := ticket.New()
		if err != nil {
			s.log.Error().Err(err).Msg("failed to generate ticket code")
			dto.InternalServerError(ctx)
			return
		}
		registration.TicketCode = code

		regID, err = s.repo.InsertRegistrationTx(ctx.Request.Context(), registration, fields)
		if err == nil {
			break
		}
		if errors.Is(err, repo.ErrTicketCodeTaken) {
			if attempt == ticket.MaxAttempts-1 {
				s.log.Error().Int64("event_id", eventID).
					Msgf("ticket code space exhausted after %d attempts", ticket.MaxAttempts)
				ctx.JSON(503, dto.Response{
					Status: "error",
					Error:  &dto.Error{Code: dto.TicketCodeExhausted, Desc: "Could not allocate a ticket code, please retry"},
				})
				return
			}
			continue
		}
		switch {
		case errors.Is(err, repo.ErrEventNotFound):
			dto.EventNotFoundError(ctx)
		case errors.Is(err, repo.ErrCapacityExceeded):
			dto.CapacityExceededError(ctx)
		case errors.Is(err, repo.ErrDuplicateRegistration):
			dto.RegistrationDuplicateError(ctx)
		default:
			s.log.Error().Err(err).Msg("failed to create registration")
			dto.InternalServerError(ctx)
		}
		return
	}

	registration.ID = regID
	middleware.RecordRegistration(registration.Status)
	s.log.Info().
		Int64("registration_id", regID).
		Str("ticket_code", registration.TicketCode).
		Str("status", registration.Status).
		Msg("registration created successfully")

	resp := dto.RegisterResponse{
		RegistrationID: regID,
		EventID:        eventID,
		TicketCode:     registration.TicketCode,
		Status:         registration.Status,
		PaymentStatus:  registration.PaymentStatus,
		Amount:         registration.Amount.StringFixed(2),
		Currency:       registration.Currency,
	}

	switch {
	case registration.Status == model.StatusWaitlist:
		s.notify("waitlist", event, registration, 0)
	case amount.IsZero():
		s.notify("confirmed", event, registration, 0)
	default:
		s.publishExpiry(event, registration)

		result, err := adapter.Initiate(ctx.Request.Context(), gateway.InitiateRequest{
			Reference:     registration.GatewayPaymentID,
			Amount:        amount,
			Currency:      event.Currency,
			CustomerEmail: registration.Email,
			CustomerName:  registration.FullName,
			ReturnURL:     fmt.Sprintf("%s/v1/registrations/%d/return", s.baseURL, regID),
			CancelURL:     fmt.Sprintf("%s/v1/registrations/%d/cancelled", s.baseURL, regID),
		})
		if err != nil {
			// The registration stays pending and payable; surfacing the
			// failure is not a rollback.
			s.log.Error().Err(err).Int64("registration_id", regID).
				Msg("payment initiation failed")
			ctx.JSON(502, dto.Response{
				Status: "error",
				Error:  &dto.Error{Code: dto.PaymentInitFailed, Desc: "Payment could not be started; the registration is held and payable"},
				Data:   resp,
			})
			return
		}

		if err := s.repo.AttachPayment(ctx.Request.Context(), regID, result.GatewayID, result.PaymentID, result.TransactionID); err != nil {
			s.log.Error().Err(err).Int64("registration_id", regID).Msg("failed to attach payment")
		}

		switch result.Status {
		case gateway.StatusPaid:
			if _, err := s.repo.ConfirmPaymentCAS(ctx.Request.Context(), regID, result.TransactionID); err != nil {
				s.log.Error().Err(err).Int64("registration_id", regID).Msg("failed to confirm synchronous payment")
				dto.InternalServerError(ctx)
				return
			}
			resp.Status = model.StatusConfirmed
			resp.PaymentStatus = model.PaymentPaid
			registration.Status = model.StatusConfirmed
			s.notify("confirmed", event, registration, 0)
		case gateway.StatusFailed:
			if _, err := s.repo.FailPaymentCAS(ctx.Request.Context(), regID); err != nil {
				s.log.Error().Err(err).Int64("registration_id", regID).Msg("failed to mark payment failed")
			}
			resp.PaymentStatus = model.PaymentFailed
			s.notify("failed", event, registration, 0)
		default:
			resp.RedirectURL = result.RedirectURL
			s.notify("pending", event, registration, event.PaymentTimeoutMinutes)
		}
	}

	dto.SuccessCreatedResponse(ctx, resp)
}

func (s *service) Cancel(ctx *ginext.Context) {
	regID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid registration ID")
		return
	}

	changed, err := s.repo.CancelRegistrationTx(ctx.Request.Context(), regID)
	if err != nil {
		if errors.Is(err, repo.ErrRegistrationNotFound) {
			dto.RegistrationNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Int64("registration_id", regID).Msg("failed to cancel registration")
		dto.InternalServerError(ctx)
		return
	}

	if changed {
		middleware.RecordRegistration(model.StatusCancelled)
		s.log.Info().Int64("registration_id", regID).Msg("registration cancelled")

		// Notification only on the actual transition; a repeated cancel
		// is a silent no-op success.
		if reg, err := s.repo.GetRegistrationByID(ctx, regID); err == nil {
			if event, err := s.repo.GetEventByID(ctx, reg.EventID); err == nil {
				s.notify("cancelled", event, reg, 0)
			}
		}
	}

	dto.SuccessResponse(ctx, dto.CancelResponse{
		RegistrationID: regID,
		Status:         model.StatusCancelled,
		Changed:        changed,
	})
}

func (s *service) TicketLookup(ctx *ginext.Context) {
	code := ctx.Param("code")
	reg, err := s.repo.FindByTicketCode(ctx, code)
	if err != nil {
		dto.RegistrationNotFoundError(ctx)
		return
	}
	dto.SuccessResponse(ctx, registrationResponse(reg))
}

func (s *service) GetInfo(ctx *ginext.Context) {
	eventID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return
	}

	isAdmin := ctx.Query("admin") == "true"

	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		dto.EventNotFoundError(ctx)
		return
	}

	count, err := s.repo.CountActive(ctx, eventID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to count registrations")
		dto.InternalServerError(ctx)
		return
	}

	resp := eventInfoResponse(event, count)

	if isAdmin {
		registrations, err := s.repo.GetRegistrationsByEventID(ctx, eventID)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to get registrations for admin view")
			dto.InternalServerError(ctx)
			return
		}
		for i := range registrations {
			resp.Registrations = append(resp.Registrations, registrationResponse(&registrations[i]))
		}
	}

	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetAllEvents(ctx *ginext.Context) {
	events, err := s.repo.GetAllEvents(ctx)
	if err != nil {
		dto.InternalServerError(ctx)
		return
	}

	resp := make([]dto.EventInfoResponse, 0, len(events))
	for i := range events {
		count, err := s.repo.CountActive(ctx, events[i].ID)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to count registrations for event")
			continue
		}
		resp = append(resp, eventInfoResponse(&events[i], count))
	}

	dto.SuccessResponse(ctx, resp)
}

func (s *service) notify(kind string, event *model.Event, reg *model.Registration, timeoutMinutes int) {
	msg := dto.QueueMessage{
		Type: dto.QueueMessageNotify,
		Notification: &dto.NotificationMessage{
			Kind:           kind,
			RegistrationID: reg.ID,
			EventID:        event.ID,
			EventName:      event.Name,
			Email:          reg.Email,
			TicketCode:     reg.TicketCode,
			TimeoutMinutes: timeoutMinutes,
			SentAt:         time.Now(),
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal notification message")
		return
	}
	if err := s.rbt.Publish(payload, 0); err != nil {
		s.log.Error().Err(err).Msg("failed to publish notification message")
	}
}

func (s *service) publishExpiry(event *model.Event, reg *model.Registration) {
	timeout := event.PaymentTimeoutMinutes
	msg := dto.QueueMessage{
		Type: dto.QueueMessageExpire,
		Expire: &dto.ExpireMessage{
			RegistrationID: reg.ID,
			EventID:        event.ID,
			ExpireAt:       time.Now().Add(time.Duration(timeout) * time.Minute),
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal expire message")
		return
	}
	if err := s.rbt.Publish(payload, timeout*60); err != nil {
		s.log.Error().Err(err).Msg("failed to publish expire message")
	}
}

func eventResponse(e *model.Event) dto.EventResponse {
	return dto.EventResponse{
		ID:                    e.ID,
		Name:                  e.Name,
		Description:           e.Description,
		StartTime:             e.StartTime,
		EndTime:               e.EndTime,
		Location:              e.Location,
		Capacity:              e.Capacity,
		Price:                 e.Price,
		Currency:              e.Currency,
		Status:                e.Status,
		RegistrationOpenAt:    e.RegistrationOpenAt,
		RegistrationCloseAt:   e.RegistrationCloseAt,
		AllowWaitlist:         e.AllowWaitlist,
		PaymentTimeoutMinutes: e.PaymentTimeoutMinutes,
		CreatedAt:             e.CreatedAt,
	}
}

func eventInfoResponse(e *model.Event, activeCount int) dto.EventInfoResponse {
	available := -1
	if e.Capacity > 0 {
		available = e.Capacity - activeCount
		if available < 0 {
			available = 0
		}
	}
	return dto.EventInfoResponse{
		EventResponse:  eventResponse(e),
		UpdatedAt:      e.UpdatedAt,
		AvailableSeats: available,
	}
}

func registrationResponse(r *model.Registration) dto.RegistrationResponse {
	return dto.RegistrationResponse{
		ID:            r.ID,
		EventID:       r.EventID,
		FullName:      r.FullName,
		Email:         r.Email,
		Status:        r.Status,
		PaymentStatus: r.PaymentStatus,
		TicketCode:    r.TicketCode,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
