package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService adapts the whatsmeow-backed client to the Service contract.
// Inbound text messages surface on Responses, delivery state on Receipts.
type WhatsAppService struct {
	sender    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	stopOnce  sync.Once
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService wraps a WhatsAppSender. When given the real client it
// also registers for whatsmeow events; with a mock there is nothing to poll.
func NewWhatsAppService(sender whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		sender:    sender,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if waClient, ok := sender.(*whatsapp.Client); ok {
		s.waClient = waClient
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces a recipient to canonical digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhoneNumber(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("WhatsAppService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start registers the whatsmeow event handler. With an interface-only sender
// (tests) this is a no-op.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no event-capable client, skipping event handling")
		return nil
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.onMessage(v)
		case *events.Receipt:
			s.onReceipt(v)
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
	}()
	return nil
}

// Stop closes the event channels. Safe to call more than once.
func (s *WhatsAppService) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		close(s.receipts)
		close(s.responses)
		slog.Info("WhatsAppService stopped")
	})
	return nil
}

// SendMessage canonicalizes the recipient, delivers the message, and emits a
// sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.sender.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonicalTo)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Info("WhatsAppService.SendMessage: delivered", "to", canonicalTo)
	return nil
}

// Receipts returns the delivery status channel.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the inbound message channel.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// onMessage forwards inbound text messages; media and other payloads are skipped.
func (s *WhatsAppService) onMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var body string
	switch {
	case evt.Message.Conversation != nil:
		body = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		body = *evt.Message.ExtendedTextMessage.Text
	default:
		slog.Debug("WhatsAppService.onMessage: skipping non-text message", "from", evt.Info.Sender.String())
		return
	}

	resp := models.Response{
		From: evt.Info.Sender.User,
		Body: body,
		Time: evt.Info.Timestamp.Unix(),
	}
	select {
	case s.responses <- resp:
		slog.Debug("WhatsAppService.onMessage: forwarded", "from", resp.From, "bodyLength", len(resp.Body))
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.onMessage: responses channel blocked, dropping message", "from", resp.From)
	}
}

// onReceipt translates whatsmeow receipt events into delivery statuses.
func (s *WhatsAppService) onReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	s.emitReceipt(models.Receipt{
		To:     evt.MessageSource.Sender.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	})
}

func (s *WhatsAppService) emitReceipt(r models.Receipt) {
	select {
	case s.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.emitReceipt: receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}
