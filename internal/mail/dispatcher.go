package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

// Transport names used in metrics and logs
const (
	transportQueue = "queue"
	transportSMTP  = "smtp"
	transportLog   = "log"
)

// Dispatcher routes mail to the first configured transport: queue, then SMTP,
// then the log.
type Dispatcher struct {
	queue  Publisher
	sender Sender
}

// NewDispatcher wires the transports available in cfg
func NewDispatcher(cfg *config.Config) *Dispatcher {
	d := &Dispatcher{}
	if q := NewQueuePublisher(cfg.Email.Queue, cfg.Server.GetPublicURL()); q != nil {
		d.queue = q
	}
	if cfg.Email.SMTP.Configured() {
		d.sender = NewSMTPSender(cfg.Email.SMTP, cfg.Email.From)
	}
	return d
}

// NewDispatcherWith builds a dispatcher from explicit transports. Either may be nil.
func NewDispatcherWith(queue Publisher, sender Sender) *Dispatcher {
	return &Dispatcher{queue: queue, sender: sender}
}

// Dispatch delivers msg asynchronously when a queue is configured and synchronously otherwise
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	if !ValidType(msg.Type) {
		return fmt.Errorf("unknown email type %q", msg.Type)
	}
	if d.queue != nil {
		err := d.queue.Publish(ctx, msg)
		record(msg.Type, transportQueue, err)
		if err == nil {
			return nil
		}
		slog.Warn("email queue publish failed, sending directly", "type", msg.Type, "error", err)
	}
	return d.SendNow(ctx, msg)
}

// SendNow renders msg and hands it to SMTP, or logs it when SMTP is not configured
func (d *Dispatcher) SendNow(ctx context.Context, msg *Message) error {
	rendered, err := Render(msg)
	if err != nil {
		return err
	}
	if d.sender == nil {
		slog.Info("email not sent, no SMTP transport configured",
			"type", msg.Type, "to", rendered.To, "subject", rendered.Subject, "url", msg.URL)
		record(msg.Type, transportLog, nil)
		return nil
	}
	err = d.sender.Send(ctx, rendered)
	record(msg.Type, transportSMTP, err)
	if err != nil {
		return err
	}
	slog.Info("email sent", "type", msg.Type, "to", rendered.To)
	return nil
}

func record(msgType, transport string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	telemetry.EmailsSentTotal.WithLabelValues(msgType, transport, outcome).Inc()
}
