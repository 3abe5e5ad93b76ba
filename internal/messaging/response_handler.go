package messaging

import (
	"context"
	"fmt"
	"log/slog"
)

// MessageProcessor turns one inbound message into a reply. The conversation
// orchestrator implements this.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, waID, body string) (string, error)
}

// ResponseHandler consumes inbound messages from a transport, runs them
// through the dedup gate and the processor, and sends the reply back.
type ResponseHandler struct {
	service   Service
	dedup     *DedupGate
	processor MessageProcessor
}

// NewResponseHandler creates a response handler over the given transport.
func NewResponseHandler(service Service, dedup *DedupGate, processor MessageProcessor) *ResponseHandler {
	return &ResponseHandler{service: service, dedup: dedup, processor: processor}
}

// Start launches background consumers for the transport's response and
// receipt channels. It returns immediately.
func (h *ResponseHandler) Start(ctx context.Context) {
	slog.Debug("ResponseHandler.Start: launching consumers")

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Debug("ResponseHandler: response consumer stopping")
				return
			case resp, ok := <-h.service.Responses():
				if !ok {
					slog.Debug("ResponseHandler: responses channel closed")
					return
				}
				if err := h.HandleIncoming(ctx, resp.From, resp.Body, resp.Time); err != nil {
					slog.Error("ResponseHandler: failed to handle incoming message", "error", err, "from", resp.From)
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case receipt, ok := <-h.service.Receipts():
				if !ok {
					return
				}
				slog.Debug("ResponseHandler: receipt observed", "to", receipt.To, "status", receipt.Status)
			}
		}
	}()
}

// HandleIncoming processes one inbound message end to end: canonicalize the
// sender, drop duplicates, generate the reply, and send it back formatted
// for WhatsApp. Webhook handlers call this directly.
func (h *ResponseHandler) HandleIncoming(ctx context.Context, from, body string, timestamp int64) error {
	waID, err := h.service.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", from, err)
	}

	if h.dedup.IsDuplicate(waID, body, timestamp) {
		slog.Info("ResponseHandler.HandleIncoming: duplicate message suppressed", "waID", waID)
		return nil
	}

	reply, err := h.processor.ProcessMessage(ctx, waID, body)
	if err != nil {
		return fmt.Errorf("failed to process message from %s: %w", waID, err)
	}
	if reply == "" {
		slog.Debug("ResponseHandler.HandleIncoming: empty reply, nothing to send", "waID", waID)
		return nil
	}

	reply = FormatForWhatsApp(reply)
	if err := h.service.SendMessage(ctx, waID, reply); err != nil {
		return fmt.Errorf("failed to send reply to %s: %w", waID, err)
	}
	slog.Info("ResponseHandler.HandleIncoming: reply sent", "waID", waID, "replyLength", len(reply))
	return nil
}
