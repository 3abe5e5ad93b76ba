// Package whatsapp wraps the whatsmeow client behind the small sender surface
// EnrollPipe needs: pair a device, stay connected, and push text messages.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/EnrollPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	// DefaultSQLitePath is where the whatsmeow session database lands when no
	// DSN is configured.
	DefaultSQLitePath = "/var/lib/enrollpipe/whatsmeow.db"
	// JIDSuffix is the server part of a regular user JID.
	JIDSuffix = "s.whatsapp.net"
)

// WhatsAppSender is the send-side contract; the messaging layer depends on
// this instead of the concrete client so tests can substitute MockClient.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration for the WhatsApp client. Only the session database
// and the pairing output are configurable; everything else follows whatsmeow
// defaults.
type Opts struct {
	DBDSN       string
	QRPath      string
	NumericCode bool
}

// Option configures the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow session database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the pairing QR code to the given file instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode emits the pairing code as text rather than rendering a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps a connected whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient opens the session store, pairs the device if it has never logged
// in, and connects. Pairing blocks until the QR flow finishes.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = DefaultSQLitePath
		slog.Debug("Client.NewClient: no session DSN configured, falling back to default path", "path", dsn)
	}
	driver := sessionDriver(dsn)

	ctx := context.Background()
	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("Client.NewClient: session store init failed", "error", err, "driver", driver)
		return nil, fmt.Errorf("failed to open WhatsApp session store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Client.NewClient: device lookup failed", "error", err)
		return nil, fmt.Errorf("failed to load WhatsApp device: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		if err := pairAndConnect(waClient, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("Client.NewClient: device already paired, connecting")
		if err := waClient.Connect(); err != nil {
			slog.Error("Client.NewClient: connect failed", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp: %w", err)
		}
	}

	slog.Info("Client.NewClient: WhatsApp client connected")
	return &Client{waClient: waClient}, nil
}

// sessionDriver picks the sql driver for the whatsmeow store from the DSN.
func sessionDriver(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	// whatsmeow needs foreign keys on for its schema to behave.
	if !strings.Contains(dsn, "foreign_keys") {
		slog.Warn("Client.sessionDriver: SQLite session DSN has no foreign_keys parameter",
			"suggested", "file:"+dsn+"?_foreign_keys=on")
	}
	return "sqlite3"
}

// pairAndConnect runs the first-login pairing flow, rendering the code to the
// configured output until WhatsApp confirms the link.
func pairAndConnect(waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("Client.pairAndConnect: no stored session, starting pairing")
	qrChan, _ := waClient.GetQRChannel(context.Background())
	if err := waClient.Connect(); err != nil {
		slog.Error("Client.pairAndConnect: connect failed", "error", err)
		return fmt.Errorf("failed to connect to WhatsApp for pairing: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			slog.Error("Client.pairAndConnect: QR output file creation failed", "error", err, "path", cfg.QRPath)
			return fmt.Errorf("failed to create QR output file: %w", err)
		}
		defer f.Close()
		writer = f
	}

	for evt := range qrChan {
		if evt.Event == "code" {
			if cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
			continue
		}
		slog.Debug("Client.pairAndConnect: pairing event", "event", evt.Event)
	}
	return nil
}

// SendMessage delivers a plain text message to the given numeric recipient.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	jid := types.NewJID(to, JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("Client.SendMessage: send failed", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Client.SendMessage: delivered", "to", to, "bodyLength", len(body))
	return nil
}

// GetClient exposes the underlying whatsmeow client for event handler registration.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// MockClient records sends instead of talking to WhatsApp.
type MockClient struct {
	SentMessages []SentMessage
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
