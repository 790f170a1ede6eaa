package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"
)

type Config struct {
	Host     string
	Port     int
	From     string
	Password string
}

type Mailer struct {
	cfg Config
	log *zerolog.Logger
}

func New(cfg Config, log *zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

// Sender is what the notification worker needs; satisfied by Mailer.
type Sender interface {
	Send(kind, eventName, recipient, ticketCode string, timeoutMinutes int) error
}

// Send delivers one lifecycle notification. Kind matches the registration
// transition that triggered it.
func (m *Mailer) Send(kind, eventName, recipient, ticketCode string, timeoutMinutes int) error {
	var subject, body string
	switch kind {
	case "confirmed":
		subject = "Your registration is confirmed"
		body = fmt.Sprintf(
			"Hello!\n\nYour registration for \"%s\" is confirmed.\nYour ticket code is %s. See you there!",
			eventName, ticketCode,
		)
	case "pending":
		subject = "Complete your registration"
		body = fmt.Sprintf(
			"Hello!\n\nYou started a registration for \"%s\".\nPlease complete the payment within %d minutes, otherwise your spot will be released.\nYour ticket code is %s.",
			eventName, timeoutMinutes, ticketCode,
		)
	case "failed":
		subject = "Payment failed"
		body = fmt.Sprintf(
			"Hello!\n\nThe payment for your registration to \"%s\" did not go through.\nYour spot is still held as pending; you can retry the payment.",
			eventName,
		)
	case "cancelled":
		subject = "Your registration was cancelled"
		body = fmt.Sprintf(
			"Hello!\n\nYour registration for \"%s\" has been cancelled.",
			eventName,
		)
	case "waitlist":
		subject = "You are on the waitlist"
		body = fmt.Sprintf(
			"Hello!\n\n\"%s\" is currently full. You have been added to the waitlist and we will contact you if a spot opens up.",
			eventName,
		)
	default:
		return fmt.Errorf("unknown notification kind %q", kind)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.cfg.From, recipient, subject, body,
	)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{recipient}, []byte(msg)); err != nil {
		m.log.Warn().Msgf("failed to send %s email to %s: %v", kind, recipient, err)
		return fmt.Errorf("send email: %w", err)
	}

	m.log.Info().Msgf("email sent to %s (kind: %s)", recipient, kind)
	return nil
}
