package alerts

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/config"
	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/events"
	"github.com/aristath/meridian/internal/telemetry"
)

// errEmailDisabled marks the email channel as unconfigured rather than
// failed; disabled channels never reach the DLQ.
var errEmailDisabled = errors.New("email delivery not configured")

// Mailer sends one message to the configured alert recipient.
type Mailer interface {
	Send(subject, body string) error
}

// SMTPMailer delivers over plain SMTP. Construct it only when
// SMTPConfig.Enabled reports true.
type SMTPMailer struct {
	addr string
	auth smtp.Auth
	from string
	to   string
}

// NewSMTPMailer builds a mailer from SMTP settings.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth: auth,
		from: cfg.From,
		to:   cfg.Recipient(),
	}
}

// Send delivers one message. Failures are transient: connect and handshake
// problems usually resolve by the next replay cycle.
func (m *SMTPMailer) Send(subject, body string) error {
	msg := []byte("From: " + m.from + "\r\n" +
		"To: " + m.to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" + body + "\r\n")
	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{m.to}, msg); err != nil {
		return domain.Transient("smtp.send", err)
	}
	return nil
}

// Notifier fans a composed alert message out to its delivery channels and
// queues failed channels for replay.
type Notifier struct {
	repo    *Repository
	mailer  Mailer // nil disables the email channel
	bus     *events.Manager
	metrics *telemetry.MetricsRegistry
	log     zerolog.Logger
}

// NewNotifier creates a notifier. A nil mailer disables email delivery.
func NewNotifier(repo *Repository, mailer Mailer, bus *events.Manager, metrics *telemetry.MetricsRegistry, log zerolog.Logger) *Notifier {
	return &Notifier{
		repo:    repo,
		mailer:  mailer,
		bus:     bus,
		metrics: metrics,
		log:     log.With().Str("service", "notifier").Logger(),
	}
}

// Deliver attempts every requested channel and returns how many succeeded.
// A failed channel lands in the DLQ; a disabled channel is skipped without
// counting either way.
func (n *Notifier) Deliver(channels []string, p DeliveryPayload) int {
	delivered := 0
	for _, channel := range channels {
		err := n.deliverChannel(channel, p)
		if err == nil {
			delivered++
			n.metrics.RecordNotification(channel, "ok")
			continue
		}
		if errors.Is(err, errEmailDisabled) {
			n.log.Debug().Str("alert", p.AlertID).Msg("Email channel not configured, skipping")
			continue
		}
		n.metrics.RecordNotification(channel, "failed")
		n.enqueue(channel, p, err)
	}
	return delivered
}

// deliverChannel performs one channel's delivery. The replayer calls it
// with payloads recovered from the DLQ.
func (n *Notifier) deliverChannel(channel string, p DeliveryPayload) error {
	switch channel {
	case ChannelInApp:
		inserted, err := n.repo.InsertNotification(&Notification{
			ID:           "nt_" + uuid.New().String(),
			UserID:       p.UserID,
			AlertID:      p.AlertID,
			Title:        p.Title,
			Body:         p.Body,
			Playbook:     p.Playbook,
			DeliveredDay: p.Day,
			CreatedAt:    time.Now().Unix(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			n.log.Debug().Str("alert", p.AlertID).Str("day", p.Day).Msg("Notification already delivered for the day")
		}
		return nil

	case ChannelEmail:
		if n.mailer == nil {
			return errEmailDisabled
		}
		body := p.Body
		if p.Playbook != "" {
			body += "\n\n" + p.Playbook
		}
		return n.mailer.Send(p.Title, body)
	}
	return fmt.Errorf("unknown delivery channel %q", channel)
}

func (n *Notifier) enqueue(channel string, p DeliveryPayload, cause error) {
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		n.log.Error().Err(err).Str("alert", p.AlertID).Msg("Failed to marshal DLQ payload")
		return
	}

	now := time.Now().Unix()
	job := &DLQJob{
		ID:            "dlq_" + uuid.New().String(),
		Kind:          channel,
		PayloadJSON:   string(payloadJSON),
		Error:         cause.Error(),
		RetryCount:    0,
		Status:        DLQPending,
		CreatedAt:     now,
		LastAttemptAt: now,
	}
	if err := n.repo.EnqueueDLQ(job); err != nil {
		n.log.Error().Err(err).Str("alert", p.AlertID).Str("channel", channel).Msg("Failed to enqueue DLQ job")
		return
	}

	n.log.Warn().
		Err(cause).
		Str("alert", p.AlertID).
		Str("channel", channel).
		Str("job", job.ID).
		Msg("Delivery failed, queued for replay")
	if n.bus != nil {
		n.bus.EmitTyped(events.DeadLetterQueued, "alerts", &events.DeadLetterData{
			JobID:   job.ID,
			Channel: channel,
		})
	}
}
