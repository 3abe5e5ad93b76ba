// Package api provides HTTP handlers and the main API server logic for EnrollPipe.
//
// It exposes the WhatsApp webhook, catalog management, registration listing,
// and conversation inspection endpoints. The API wires together the store,
// GenAI, flow, and messaging modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/EnrollPipe/internal/flow"
	"github.com/BTreeMap/EnrollPipe/internal/genai"
	"github.com/BTreeMap/EnrollPipe/internal/messaging"
	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/store"
	"github.com/BTreeMap/EnrollPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/EnrollPipe/internal/util"
	"github.com/BTreeMap/EnrollPipe/internal/whatsapp"
)

// Constants for server configuration
const (
	// DefaultAddr is the default address the API server listens on
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout is how long to wait for in-flight requests on shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string // server listen address
	VerifyToken string // Meta webhook verification token
	UseTwilio   bool   // use the Twilio transport instead of whatsmeow
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithVerifyToken sets the Meta webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) {
		o.VerifyToken = token
	}
}

// WithTwilioTransport selects the Twilio transport for outbound messages.
func WithTwilioTransport() Option {
	return func(o *Opts) {
		o.UseTwilio = true
	}
}

// Server holds dependencies for the API endpoints.
type Server struct {
	mux          *http.ServeMux
	msgService   messaging.Service
	st           store.Store
	respHandler  *messaging.ResponseHandler
	orchestrator *flow.Orchestrator
	verifyToken  string
	addr         string
}

// NewServer creates a new API server with the given dependencies.
func NewServer(msgService messaging.Service, st store.Store, respHandler *messaging.ResponseHandler, orchestrator *flow.Orchestrator, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{
		mux:          http.NewServeMux(),
		msgService:   msgService,
		st:           st,
		respHandler:  respHandler,
		orchestrator: orchestrator,
		verifyToken:  cfg.VerifyToken,
		addr:         cfg.Addr,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/webhook", s.webhookHandler)
	s.mux.HandleFunc("/programs", s.programsHandler)
	s.mux.HandleFunc("/programs/", s.programByIDHandler)
	s.mux.HandleFunc("/registrations", s.registrationsHandler)
	s.mux.HandleFunc("/conversations", s.conversationsHandler)
	s.mux.HandleFunc("/send", s.sendHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
}

// ServeHTTP implements http.Handler, dispatching to the registered routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run wires the store, GenAI client, messaging transport, and conversation
// flow together and serves the API until ctx is canceled.
func Run(ctx context.Context, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := newStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	if util.ParseBoolEnv("ENROLLPIPE_SEED", false) {
		if err := SeedPrograms(st); err != nil {
			return fmt.Errorf("failed to seed program catalog: %w", err)
		}
		slog.Info("Run: seeded program catalog")
	}

	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize GenAI client: %w", err)
	}

	msgService, twilioSvc, err := newMessagingService(cfg, waOpts, twilioOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging service: %w", err)
	}

	registry := flow.NewToolRegistry()
	funnel := flow.NewStoreFunnel(st)
	flow.RegisterDefaultTools(registry, funnel, st)
	dispatcher := flow.NewDispatcher(registry)
	orchestrator := flow.NewOrchestrator(funnel, registry, dispatcher, gaClient, st)

	dedup := messaging.NewDedupGate()
	respHandler := messaging.NewResponseHandler(msgService, dedup, orchestrator)

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msgService.Stop()
	respHandler.Start(ctx)

	server := NewServer(msgService, st, respHandler, orchestrator, apiOpts...)
	if twilioSvc != nil {
		server.mux.HandleFunc("/twilio/webhook", twilioSvc.TwilioWebhookHandler)
	}

	httpServer := &http.Server{
		Addr:    server.addr,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		slog.Info("Run: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Error("Run: server shutdown failed", "error", shutdownErr)
		}
	}()

	slog.Info("Run: EnrollPipe API listening", "addr", server.addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// newStore selects a backend from the configured DSN. An empty DSN yields the
// in-memory store, which is only suitable for development.
func newStore(storeOpts []store.Option) (store.Store, error) {
	var opts store.Opts
	for _, opt := range storeOpts {
		opt(&opts)
	}
	if opts.DSN == "" {
		slog.Warn("newStore: no database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(opts.DSN) == "postgres" {
		slog.Debug("newStore: using PostgreSQL backend")
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Debug("newStore: using SQLite backend", "path", opts.DSN)
	return store.NewSQLiteStore(storeOpts...)
}

// newMessagingService builds the configured transport. The Twilio service is
// returned separately so Run can mount its inbound webhook.
func newMessagingService(cfg Opts, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option) (messaging.Service, *messaging.TwilioService, error) {
	if cfg.UseTwilio {
		twilioClient, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(twilioClient)
		slog.Info("newMessagingService: using Twilio WhatsApp transport")
		return svc, svc, nil
	}
	waClient, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	slog.Info("newMessagingService: using whatsmeow WhatsApp transport")
	return messaging.NewWhatsAppService(waClient), nil, nil
}

// SeedPrograms populates the catalog with the default bootcamp programs.
// Existing programs are left untouched; seeding only runs on an empty catalog.
func SeedPrograms(st store.Store) error {
	existing, err := st.ListPrograms()
	if err != nil {
		return fmt.Errorf("failed to list programs before seeding: %w", err)
	}
	if len(existing) > 0 {
		slog.Debug("SeedPrograms: catalog already populated, skipping", "count", len(existing))
		return nil
	}
	seed := []models.Program{
		{
			ProgramName:    "Full-Stack Web Development",
			Location:       "Casablanca",
			StartDate:      "2026-10-05",
			EndDate:        "2027-03-26",
			DurationMonths: 6,
			Price:          25000,
			AvailableSpots: 25,
			Description:    "Intensive full-stack bootcamp covering JavaScript, React, Node.js, and databases.",
			Requirements:   "Basic computer literacy; no prior coding experience required.",
		},
		{
			ProgramName:    "Data Science and AI",
			Location:       "Rabat",
			StartDate:      "2026-11-02",
			EndDate:        "2027-04-30",
			DurationMonths: 6,
			Price:          28000,
			AvailableSpots: 20,
			Description:    "Python, statistics, machine learning, and applied AI projects.",
			Requirements:   "High-school level mathematics.",
		},
		{
			ProgramName:    "Mobile App Development",
			Location:       "Marrakech",
			StartDate:      "2026-10-19",
			EndDate:        "2027-02-19",
			DurationMonths: 4,
			Price:          22000,
			AvailableSpots: 18,
			Description:    "Cross-platform mobile development with Flutter and native tooling.",
		},
		{
			ProgramName:    "Cybersecurity Fundamentals",
			Location:       "Tangier",
			StartDate:      "2027-01-11",
			EndDate:        "2027-05-14",
			DurationMonths: 4,
			Price:          24000,
			AvailableSpots: 15,
			Description:    "Network security, ethical hacking basics, and defensive operations.",
			Requirements:   "Comfort with command-line tools recommended.",
		},
		{
			ProgramName:    "Full-Stack Web Development",
			Location:       "Rabat",
			StartDate:      "2027-01-04",
			EndDate:        "2027-06-25",
			DurationMonths: 6,
			Price:          25000,
			AvailableSpots: 25,
			Description:    "Intensive full-stack bootcamp covering JavaScript, React, Node.js, and databases.",
			Requirements:   "Basic computer literacy; no prior coding experience required.",
		},
	}
	for i := range seed {
		if err := st.SaveProgram(&seed[i]); err != nil {
			return fmt.Errorf("failed to seed program %q: %w", seed[i].ProgramName, err)
		}
	}
	return nil
}
