// Package twiliowhatsapp wraps the Twilio REST client for WhatsApp messaging in EnrollPipe.
//
// It offers the same sending surface as the whatsmeow-based client so the
// messaging layer can switch between transports without code changes.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioWhatsAppSender is an interface for sending WhatsApp messages via Twilio.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string // Twilio Account SID
	AuthToken  string // Twilio Auth Token
	FromNumber string // Twilio WhatsApp sender number (without whatsapp: prefix)
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio Account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) {
		o.AccountSID = sid
	}
}

// WithAuthToken sets the Twilio Auth Token.
func WithAuthToken(token string) Option {
	return func(o *Opts) {
		o.AuthToken = token
	}
}

// WithFromNumber sets the Twilio WhatsApp sender number.
func WithFromNumber(number string) Option {
	return func(o *Opts) {
		o.FromNumber = number
	}
}

// Client wraps the Twilio REST client for WhatsApp messaging.
type Client struct {
	restClient *twilio.RestClient
	fromNumber string
}

// NewClient creates a new Twilio WhatsApp client. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER environment
// variables when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials missing: account SID and auth token are required")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio sender number missing: from number is required")
	}

	restClient := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	slog.Debug("Twilio WhatsApp client initialized", "from_number", cfg.FromNumber)
	return &Client{restClient: restClient, fromNumber: cfg.FromNumber}, nil
}

// SendMessage sends a WhatsApp message to the specified recipient via Twilio.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.restClient == nil {
		return fmt.Errorf("twilio client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	params := &api.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom("whatsapp:" + c.fromNumber)
	params.SetBody(body)

	slog.Debug("Sending Twilio WhatsApp message", "to", to, "body_length", len(body))
	resp, err := c.restClient.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Failed to send Twilio WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s via Twilio: %w", to, err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio WhatsApp message sent successfully", "to", to, "sid", sid)
	return nil
}

// MockClient implements TwilioWhatsAppSender for testing.
type MockClient struct {
	SentMessages []SentMessage
	Err          error
}

// SentMessage records one message sent through the mock.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
