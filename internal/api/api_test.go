package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/EnrollPipe/internal/messaging"
	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/store"
)

var digitsOnly = regexp.MustCompile(`[^0-9]`)

// mockMsgService implements messaging.Service for handler tests.
type mockMsgService struct {
	mu        sync.Mutex
	sent      []sentMessage
	sendErr   error
	receipts  chan models.Receipt
	responses chan models.Response
}

type sentMessage struct {
	to   string
	body string
}

func newMockMsgService() *mockMsgService {
	return &mockMsgService{
		receipts:  make(chan models.Receipt, 10),
		responses: make(chan models.Response, 10),
	}
}

func (m *mockMsgService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := digitsOnly.ReplaceAllString(recipient, "")
	if len(canonical) < 6 {
		return "", models.ErrEmptyRecipient
	}
	return canonical, nil
}

func (m *mockMsgService) SendMessage(ctx context.Context, to, body string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: to, body: body})
	return nil
}

func (m *mockMsgService) Start(ctx context.Context) error { return nil }
func (m *mockMsgService) Stop() error                     { return nil }

func (m *mockMsgService) Receipts() <-chan models.Receipt   { return m.receipts }
func (m *mockMsgService) Responses() <-chan models.Response { return m.responses }

func (m *mockMsgService) sentMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// echoProcessor replies with a fixed message and records what it saw.
type echoProcessor struct {
	mu    sync.Mutex
	seen  []string
	reply string
}

func (p *echoProcessor) ProcessMessage(ctx context.Context, waID, body string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, waID+":"+body)
	return p.reply, nil
}

func newTestServer(t *testing.T) (*Server, *mockMsgService, *echoProcessor, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	svc := newMockMsgService()
	proc := &echoProcessor{reply: "Hi there!"}
	handler := messaging.NewResponseHandler(svc, messaging.NewDedupGate(), proc)
	srv := NewServer(svc, st, handler, nil, WithVerifyToken("secret-token"))
	return srv, svc, proc, st
}

func TestWebhookVerification(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Errorf("expected challenge to be echoed, got %q", rec.Body.String())
	}
}

func TestWebhookVerificationBadToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestWebhookInboundMessage(t *testing.T) {
	srv, svc, proc, _ := newTestServer(t)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"from": "212612345678",
						"id": "wamid.test1",
						"timestamp": "1756500000",
						"type": "text",
						"text": {"body": "Hello, I want to join a bootcamp"}
					}]
				}
			}]
		}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	proc.mu.Lock()
	seen := len(proc.seen)
	proc.mu.Unlock()
	if seen != 1 {
		t.Fatalf("expected processor to see 1 message, saw %d", seen)
	}
	sent := svc.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reply to be sent, got %d", len(sent))
	}
	if sent[0].to != "212612345678" {
		t.Errorf("unexpected reply recipient: %q", sent[0].to)
	}
	if sent[0].body != "Hi there!" {
		t.Errorf("unexpected reply body: %q", sent[0].body)
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	srv, svc, _, _ := newTestServer(t)

	payload := `{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"from": "212612345678",
						"timestamp": "1756500000",
						"type": "text",
						"text": {"body": "hello"}
					}]
				}
			}]
		}]
	}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rec.Code)
		}
	}

	if sent := svc.sentMessages(); len(sent) != 1 {
		t.Errorf("expected duplicate delivery to be suppressed, got %d replies", len(sent))
	}
}

func TestWebhookStatusNotification(t *testing.T) {
	srv, svc, _, _ := newTestServer(t)

	payload := `{
		"entry": [{
			"changes": [{
				"value": {
					"statuses": [{"id": "wamid.x", "status": "delivered"}]
				}
			}]
		}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if sent := svc.sentMessages(); len(sent) != 0 {
		t.Errorf("status notification should not produce replies, got %d", len(sent))
	}
}

func TestProgramsCreateAndList(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	body, _ := json.Marshal(models.ProgramRequest{
		ProgramName:    "Full-Stack Web Development",
		Location:       "Casablanca",
		StartDate:      "2026-10-05",
		AvailableSpots: 10,
	})
	req := httptest.NewRequest(http.MethodPost, "/programs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/programs", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status string           `json:"status"`
		Result []models.Program `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Result) != 1 {
		t.Fatalf("expected 1 program, got %d", len(resp.Result))
	}
	if resp.Result[0].ProgramName != "Full-Stack Web Development" {
		t.Errorf("unexpected program name: %q", resp.Result[0].ProgramName)
	}
}

func TestProgramsCreateInvalid(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	body := []byte(`{"location": "Casablanca"}`)
	req := httptest.NewRequest(http.MethodPost, "/programs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing program_name, got %d", rec.Code)
	}
}

func TestProgramByID(t *testing.T) {
	srv, _, _, st := newTestServer(t)

	p := models.Program{ProgramName: "Data Science and AI", Location: "Rabat", AvailableSpots: 5}
	if err := st.SaveProgram(&p); err != nil {
		t.Fatalf("SaveProgram failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/programs/1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/programs/999", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown program, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/programs/abc", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric id, got %d", rec.Code)
	}
}

func TestRegistrationsList(t *testing.T) {
	srv, _, _, st := newTestServer(t)

	p := models.Program{ProgramName: "Mobile App Development", Location: "Marrakech", AvailableSpots: 3}
	if err := st.SaveProgram(&p); err != nil {
		t.Fatalf("SaveProgram failed: %v", err)
	}
	reg := models.Registration{ID: "reg_test", ProgramID: p.ID, WaID: "212612345678", FirstName: "Sara", LastName: "B", Email: "sara@example.com", Phone: "212612345678", Age: "24"}
	if err := st.CreateRegistration(&reg); err != nil {
		t.Fatalf("CreateRegistration failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/registrations", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Result []models.Registration `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Result) != 1 || resp.Result[0].ID != "reg_test" {
		t.Errorf("unexpected registrations: %+v", resp.Result)
	}
}

func TestConversationsGetAndClear(t *testing.T) {
	srv, _, _, st := newTestServer(t)

	if err := st.AppendConversation("212612345678",
		models.ConversationMessage{Role: models.RoleUser, Content: "hello"},
		models.ConversationMessage{Role: models.RoleAssistant, Content: "hi"},
	); err != nil {
		t.Fatalf("AppendConversation failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/conversations?user=212612345678", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Result []models.ConversationMessage `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Result) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Result))
	}

	req = httptest.NewRequest(http.MethodDelete, "/conversations?user=212612345678", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for clear, got %d", rec.Code)
	}

	history, err := st.GetConversation("212612345678")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected conversation to be cleared, got %d messages", len(history))
	}
}

func TestConversationsMissingUser(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing user, got %d", rec.Code)
	}
}

func TestSendHandler(t *testing.T) {
	srv, svc, _, _ := newTestServer(t)

	body, _ := json.Marshal(models.SendMessageRequest{To: "+212 612-345-678", Body: "Welcome aboard"})
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	sent := svc.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sent))
	}
	if sent[0].to != "212612345678" {
		t.Errorf("expected canonicalized recipient, got %q", sent[0].to)
	}
}

func TestSendHandlerInvalid(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", rec.Code)
	}

	body, _ := json.Marshal(models.SendMessageRequest{To: "212612345678", Body: ""})
	req = httptest.NewRequest(http.MethodPost, "/send", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty body, got %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", health["status"])
	}
}

func TestSeedProgramsIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()

	if err := SeedPrograms(st); err != nil {
		t.Fatalf("SeedPrograms failed: %v", err)
	}
	first, err := st.ListPrograms()
	if err != nil {
		t.Fatalf("ListPrograms failed: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected seeded programs")
	}

	if err := SeedPrograms(st); err != nil {
		t.Fatalf("second SeedPrograms failed: %v", err)
	}
	second, err := st.ListPrograms()
	if err != nil {
		t.Fatalf("ListPrograms failed: %v", err)
	}
	if len(second) != len(first) {
		t.Errorf("expected seeding to be idempotent: %d vs %d programs", len(first), len(second))
	}
}
