// Package notify delivers state-change messages to users. Delivery is
// best-effort: a failed or timed-out send is logged and swallowed, it never
// fails the state transition that triggered it.
package notify

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tripbot/pkg/logger"
)

// Sender is the transport the dispatcher writes to. The bot package
// implements it over the Telegram API with a bounded HTTP timeout.
type Sender interface {
	SendHTML(chatID int64, text string) error
	SendPhoto(chatID int64, caption string, png []byte) error
}

const broadcastWorkers = 4

type Dispatcher struct {
	sender Sender
	log    *zap.Logger
}

func New(sender Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, log: log}
}

// Notify sends one message. Errors are logged, never returned.
func (d *Dispatcher) Notify(chatID int64, text string) {
	if err := d.sender.SendHTML(chatID, text); err != nil {
		d.log.Warn("notification failed",
			zap.Int64(logger.FieldChatID, chatID),
			zap.Error(err))
	}
}

// Broadcast fans the message out to every chat with bounded concurrency.
// Individual failures are collected and logged; the broadcast as a whole
// never fails.
func (d *Dispatcher) Broadcast(chatIDs []int64, text string) {
	var g errgroup.Group
	g.SetLimit(broadcastWorkers)

	errs := make([]error, len(chatIDs))
	for i, chatID := range chatIDs {
		i, chatID := i, chatID
		g.Go(func() error {
			if err := d.sender.SendHTML(chatID, text); err != nil {
				errs[i] = fmt.Errorf("chat %d: %w", chatID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if combined := multierr.Combine(errs...); combined != nil {
		d.log.Warn("broadcast partially failed",
			zap.Int("recipients", len(chatIDs)),
			zap.Error(combined))
	}
}

// SendTicket renders the payload as a QR code and sends it as a photo with
// the given caption, falling back to a plain message if encoding or the
// photo upload fails.
func (d *Dispatcher) SendTicket(chatID int64, caption, payload string) {
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		d.log.Warn("ticket encode failed",
			zap.Int64(logger.FieldChatID, chatID),
			zap.Error(err))
		d.Notify(chatID, caption)
		return
	}

	if err := d.sender.SendPhoto(chatID, caption, png); err != nil {
		d.log.Warn("ticket delivery failed",
			zap.Int64(logger.FieldChatID, chatID),
			zap.Error(err))
		d.Notify(chatID, caption)
	}
}
