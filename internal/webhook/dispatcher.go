// Package webhook turns inbound provider callbacks into ledger transitions.
// Every step before the transition is a guard: unknown gateway, failed
// signature, duplicate delivery, unknown reference.
package webhook

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"ticketgate/cmd/middleware"
	"ticketgate/internal/dto"
	"ticketgate/internal/gateway"
	"ticketgate/internal/model"
	"ticketgate/internal/repo"
)

type Dispatcher struct {
	repo     repo.Repository
	gateways *gateway.Registry
	log      *zerolog.Logger
	rbt      Publisher
}

// Publisher mirrors the queue client's publish method.
type Publisher interface {
	Publish(message []byte, delaySeconds int) error
}

func NewDispatcher(repo repo.Repository, gateways *gateway.Registry, log *zerolog.Logger, rbt Publisher) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		gateways: gateways,
		log:      log,
		rbt:      rbt,
	}
}

// Handle processes POST /v1/webhooks/:gateway. The response status is what
// drives provider retries: 2xx means acknowledged (including "already
// processed"), non-2xx only when verification failed or the gateway is
// unknown.
func (d *Dispatcher) Handle(ctx *ginext.Context) {
	gatewayID := ctx.Param("gateway")

	adapter, err := d.gateways.Resolve(gatewayID)
	if err != nil {
		d.log.Warn().Str("gateway", gatewayID).Err(err).Msg("webhook for unavailable gateway")
		middleware.RecordWebhook(gatewayID, "rejected")
		dto.NotFoundError(ctx, dto.GatewayNotFound, "Unknown gateway")
		return
	}

	notice, err := adapter.VerifyWebhook(ctx.Request)
	if err != nil {
		// Nothing in an unverified payload is trusted; no ledger access
		// happens past this point.
		d.log.Warn().Str("gateway", gatewayID).Err(err).Msg("webhook verification failed")
		middleware.RecordWebhook(gatewayID, "verification_failed")
		dto.BadResponseError(ctx, dto.WebhookVerification, "Webhook verification failed")
		return
	}

	completed := notice.Outcome == gateway.OutcomeCompleted
	application, reg, err := d.repo.ApplyWebhookTx(
		ctx.Request.Context(), gatewayID, notice.ExternalReference, completed, notice.TransactionID)
	if err != nil {
		d.log.Error().Err(err).
			Str("gateway", gatewayID).
			Str("reference", notice.ExternalReference).
			Msg("failed to apply webhook transition")
		dto.InternalServerError(ctx)
		return
	}

	switch application {
	case repo.WebhookDuplicate:
		d.log.Info().
			Str("gateway", gatewayID).
			Str("reference", notice.ExternalReference).
			Msg("duplicate webhook delivery, already processed")
		middleware.RecordWebhook(gatewayID, "duplicate")
		dto.SuccessResponse(ctx, ackBody(notice, "already_processed"))
		return

	case repo.WebhookUnknownReference:
		// Acked toward the provider, flagged for the operator: retrying
		// this delivery cannot be rejected forever, and the reference may
		// belong to another system sharing the account.
		d.log.Warn().
			Str("gateway", gatewayID).
			Str("reference", notice.ExternalReference).
			Msg("webhook reference does not match any registration")
		middleware.RecordWebhook(gatewayID, "unknown_reference")
		dto.SuccessResponse(ctx, ackBody(notice, "unknown_reference"))
		return

	case repo.WebhookAlreadyApplied:
		middleware.RecordWebhook(gatewayID, "noop")
		dto.SuccessResponse(ctx, ackBody(notice, "no_change"))
		return
	}

	middleware.RecordWebhook(gatewayID, string(notice.Outcome))
	d.log.Info().
		Str("gateway", gatewayID).
		Str("reference", notice.ExternalReference).
		Str("outcome", string(notice.Outcome)).
		Int64("registration_id", reg.ID).
		Msg("webhook transition applied")

	d.notifyOnce(ctx, notice, reg)

	dto.SuccessResponse(ctx, ackBody(notice, "applied"))
}

// notifyOnce fires only on the delivery that actually changed the ledger;
// duplicates and no-ops never reach it.
func (d *Dispatcher) notifyOnce(ctx *ginext.Context, notice *gateway.WebhookNotice, reg *model.Registration) {
	var kind string
	switch {
	case notice.Outcome == gateway.OutcomeCompleted && reg.Status == model.StatusConfirmed:
		kind = "confirmed"
	case notice.Outcome == gateway.OutcomeCompleted:
		// Payment landed on a cancelled or waitlisted registration; money
		// was taken, so leave the trail in the log but mail nobody.
		d.log.Warn().
			Int64("registration_id", reg.ID).
			Str("status", reg.Status).
			Msg("payment completed for a non-pending registration")
		return
	default:
		kind = "failed"
	}

	event, err := d.repo.GetEventByID(ctx, reg.EventID)
	if err != nil {
		d.log.Error().Err(err).Int64("event_id", reg.EventID).Msg("failed to load event for notification")
		return
	}

	msg := dto.QueueMessage{
		Type: dto.QueueMessageNotify,
		Notification: &dto.NotificationMessage{
			Kind:           kind,
			RegistrationID: reg.ID,
			EventID:        event.ID,
			EventName:      event.Name,
			Email:          reg.Email,
			TicketCode:     reg.TicketCode,
			SentAt:         time.Now(),
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to marshal notification message")
		return
	}
	if err := d.rbt.Publish(payload, 0); err != nil {
		d.log.Error().Err(err).Msg("failed to publish notification message")
	}
}

func ackBody(notice *gateway.WebhookNotice, result string) map[string]string {
	return map[string]string{
		"reference": notice.ExternalReference,
		"outcome":   string(notice.Outcome),
		"result":    result,
	}
}
