// Package api provides HTTP handlers for EnrollPipe endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/EnrollPipe/internal/models"
)

// metaWebhookPayload mirrors the WhatsApp Cloud API webhook structure. Only
// the fields EnrollPipe consumes are declared.
type metaWebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// webhookHandler serves the Meta webhook endpoint: GET performs subscription
// verification, POST receives inbound message notifications.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhook handles the hub.challenge handshake Meta performs when the
// webhook subscription is created.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == s.verifyToken {
		slog.Info("Server.verifyWebhook: webhook verified")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(challenge)); err != nil {
			slog.Error("Server.verifyWebhook: failed to write challenge", "error", err)
		}
		return
	}

	slog.Warn("Server.verifyWebhook: verification failed", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// receiveWebhook processes inbound Cloud API notifications. Status-only
// notifications are acknowledged without further work. Meta retries
// deliveries that do not return 200, so processing errors are logged but
// still acknowledged; the dedup gate absorbs the retries.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var payload metaWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.receiveWebhook: failed to decode payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Statuses) > 0 && len(change.Value.Messages) == 0 {
				slog.Debug("Server.receiveWebhook: status notification", "count", len(change.Value.Statuses))
				continue
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "" && msg.Type != "text" {
					slog.Debug("Server.receiveWebhook: skipping non-text message", "type", msg.Type, "from", msg.From)
					continue
				}
				ts, err := strconv.ParseInt(msg.Timestamp, 10, 64)
				if err != nil {
					ts = time.Now().Unix()
				}
				if err := s.respHandler.HandleIncoming(r.Context(), msg.From, msg.Text.Body, ts); err != nil {
					slog.Error("Server.receiveWebhook: failed to handle message", "error", err, "from", msg.From)
				}
			}
		}
	}

	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// programsHandler handles the catalog collection: GET /programs lists all
// programs, POST /programs creates one.
func (s *Server) programsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		programs, err := s.st.ListPrograms()
		if err != nil {
			slog.Error("Server.programsHandler: failed to list programs", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch programs"))
			return
		}
		slog.Debug("Server.programsHandler: programs fetched", "count", len(programs))
		writeJSONResponse(w, http.StatusOK, models.Success(programs))
	case http.MethodPost:
		if r.Body != nil {
			defer r.Body.Close()
		}
		var req models.ProgramRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Server.programsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := req.Validate(); err != nil {
			slog.Warn("Server.programsHandler: validation failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		program := models.Program{
			ProgramName:    req.ProgramName,
			Location:       req.Location,
			StartDate:      req.StartDate,
			EndDate:        req.EndDate,
			DurationMonths: req.DurationMonths,
			Price:          req.Price,
			AvailableSpots: req.AvailableSpots,
			Description:    req.Description,
			Requirements:   req.Requirements,
		}
		if err := s.st.SaveProgram(&program); err != nil {
			slog.Error("Server.programsHandler: failed to save program", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save program"))
			return
		}
		slog.Info("Server.programsHandler: program created", "id", program.ID, "name", program.ProgramName)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Program created successfully", program))
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.programsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// programByIDHandler handles GET /programs/{id}.
func (s *Server) programByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.programByIDHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/programs/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		slog.Warn("Server.programByIDHandler: invalid program id", "id", idStr)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid program ID"))
		return
	}
	program, err := s.st.GetProgram(id)
	if err != nil {
		slog.Warn("Server.programByIDHandler: program not found", "id", id, "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Program not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(program))
}

// registrationsHandler handles GET /registrations.
func (s *Server) registrationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.registrationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	registrations, err := s.st.ListRegistrations()
	if err != nil {
		slog.Error("Server.registrationsHandler: failed to list registrations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch registrations"))
		return
	}
	slog.Debug("Server.registrationsHandler: registrations fetched", "count", len(registrations))
	writeJSONResponse(w, http.StatusOK, models.Success(registrations))
}

// conversationsHandler handles GET and DELETE /conversations?user=<wa_id>.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		slog.Warn("Server.conversationsHandler: missing user parameter")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required parameter: user"))
		return
	}
	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(user)
	if err != nil {
		slog.Warn("Server.conversationsHandler: invalid user parameter", "error", err, "user", user)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	switch r.Method {
	case http.MethodGet:
		history, err := s.st.GetConversation(canonical)
		if err != nil {
			slog.Error("Server.conversationsHandler: failed to fetch conversation", "error", err, "user", canonical)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
			return
		}
		slog.Debug("Server.conversationsHandler: conversation fetched", "user", canonical, "messages", len(history))
		writeJSONResponse(w, http.StatusOK, models.Success(history))
	case http.MethodDelete:
		if err := s.st.ClearConversation(canonical); err != nil {
			slog.Error("Server.conversationsHandler: failed to clear conversation", "error", err, "user", canonical)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to clear conversation"))
			return
		}
		slog.Info("Server.conversationsHandler: conversation cleared", "user", canonical)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation cleared successfully", nil))
	default:
		w.Header().Set("Allow", "GET, DELETE")
		slog.Warn("Server.conversationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// sendHandler handles POST /send for operator-initiated outbound messages.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.sendHandler: processing send request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sendHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	req.To = canonicalTo

	if err := req.Validate(); err != nil {
		slog.Warn("Server.sendHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.msgService.SendMessage(context.Background(), req.To, req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", req.To)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	slog.Info("Server.sendHandler: message sent successfully", "to", req.To)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	// The program catalog doubles as a storage reachability probe
	if programs, err := s.st.ListPrograms(); err != nil {
		slog.Warn("Health check: failed to query program catalog", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to query storage"
	} else {
		healthData["programs"] = len(programs)
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}
