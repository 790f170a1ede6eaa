package consumerWorker

import (
	"context"
	"encoding/json"

	"github.com/wb-go/wbf/zlog"

	"ticketgate/internal/dto"
	"ticketgate/internal/mailer"
	"ticketgate/internal/rabbit"
	"ticketgate/internal/repo"
)

// Reader drains the delayed queue: immediate lifecycle notifications and
// payment-timeout expiry messages share it behind a typed envelope.
type Reader struct {
	RMQ    *rabbit.Client
	repo   repo.Repository
	sender mailer.Sender
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq *rabbit.Client, repo repo.Repository, sender mailer.Sender) *Reader {
	return &Reader{
		RMQ:    rmq,
		repo:   repo,
		sender: sender,
		done:   make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("queue worker started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			var msg dto.QueueMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				zlog.Logger.Error().
					Err(err).
					Msgf("failed to unmarshal queue message: %s", string(body))
				return err
			}

			switch msg.Type {
			case dto.QueueMessageNotify:
				return r.handleNotify(msg.Notification)
			case dto.QueueMessageExpire:
				return r.handleExpire(cctx, msg.Expire)
			default:
				zlog.Logger.Warn().Msgf("unknown queue message type %q, dropping", msg.Type)
				return nil
			}
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("queue worker stopped by context")
	}()
}

func (r *Reader) handleNotify(msg *dto.NotificationMessage) error {
	if msg == nil {
		zlog.Logger.Warn().Msg("notify message without payload, dropping")
		return nil
	}

	if err := r.sender.Send(msg.Kind, msg.EventName, msg.Email, msg.TicketCode, msg.TimeoutMinutes); err != nil {
		zlog.Logger.Warn().
			Err(err).
			Int64("registration_id", msg.RegistrationID).
			Msg("failed to send notification email")
	}
	// Mail failures are not requeued: the ledger transition already
	// happened and a redelivery would duplicate the notification.
	return nil
}

func (r *Reader) handleExpire(ctx context.Context, msg *dto.ExpireMessage) error {
	if msg == nil {
		zlog.Logger.Warn().Msg("expire message without payload, dropping")
		return nil
	}

	zlog.Logger.Info().
		Int64("registration_id", msg.RegistrationID).
		Int64("event_id", msg.EventID).
		Msg("payment timeout reached")

	cancelled, err := r.repo.CancelIfUnpaidTx(ctx, msg.RegistrationID)
	if err != nil {
		zlog.Logger.Error().
			Err(err).
			Int64("registration_id", msg.RegistrationID).
			Msg("failed to expire registration")
		return err
	}

	if !cancelled {
		zlog.Logger.Info().
			Int64("registration_id", msg.RegistrationID).
			Msg("registration already paid, confirmed or cancelled, skipping expiry")
		return nil
	}

	reg, err := r.repo.GetRegistrationByID(ctx, msg.RegistrationID)
	if err != nil {
		zlog.Logger.Error().
			Err(err).
			Int64("registration_id", msg.RegistrationID).
			Msg("failed to get registration after expiry")
		return nil
	}

	event, err := r.repo.GetEventByID(ctx, reg.EventID)
	if err != nil {
		zlog.Logger.Error().
			Err(err).
			Int64("event_id", reg.EventID).
			Msg("failed to get event after expiry")
		return nil
	}

	if err := r.sender.Send("cancelled", event.Name, reg.Email, reg.TicketCode, 0); err != nil {
		zlog.Logger.Warn().
			Err(err).
			Msg("failed to send expiry email")
	}

	return nil
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
