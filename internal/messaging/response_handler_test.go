package messaging

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/EnrollPipe/internal/models"
)

var testDigitsOnly = regexp.MustCompile(`[^0-9]`)

// fakeService is a minimal in-memory Service for handler tests.
type fakeService struct {
	mu        sync.Mutex
	sent      []models.SendMessageRequest
	sendErr   error
	responses chan models.Response
	receipts  chan models.Receipt
}

func newFakeService() *fakeService {
	return &fakeService{
		responses: make(chan models.Response, 10),
		receipts:  make(chan models.Receipt, 10),
	}
}

func (f *fakeService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := testDigitsOnly.ReplaceAllString(recipient, "")
	if len(canonical) < 6 {
		return "", models.ErrEmptyRecipient
	}
	return canonical, nil
}

func (f *fakeService) SendMessage(ctx context.Context, to, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, models.SendMessageRequest{To: to, Body: body})
	return nil
}

func (f *fakeService) Start(ctx context.Context) error { return nil }
func (f *fakeService) Stop() error                     { return nil }

func (f *fakeService) Receipts() <-chan models.Receipt   { return f.receipts }
func (f *fakeService) Responses() <-chan models.Response { return f.responses }

func (f *fakeService) sentMessages() []models.SendMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.SendMessageRequest, len(f.sent))
	copy(out, f.sent)
	return out
}

// staticProcessor replies with a fixed string.
type staticProcessor struct {
	reply string
	err   error
}

func (p *staticProcessor) ProcessMessage(ctx context.Context, waID, body string) (string, error) {
	return p.reply, p.err
}

func TestHandleIncomingSendsFormattedReply(t *testing.T) {
	svc := newFakeService()
	handler := NewResponseHandler(svc, NewDedupGate(), &staticProcessor{reply: "**Welcome** aboard"})

	err := handler.HandleIncoming(context.Background(), "+212 612-345-678", "hi", 1000)
	if err != nil {
		t.Fatalf("HandleIncoming failed: %v", err)
	}

	sent := svc.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sent))
	}
	if sent[0].To != "212612345678" {
		t.Errorf("expected canonicalized recipient, got %q", sent[0].To)
	}
	if sent[0].Body != "*Welcome* aboard" {
		t.Errorf("expected WhatsApp-formatted reply, got %q", sent[0].Body)
	}
}

func TestHandleIncomingSuppressesDuplicates(t *testing.T) {
	svc := newFakeService()
	handler := NewResponseHandler(svc, NewDedupGate(), &staticProcessor{reply: "hello"})

	for i := 0; i < 3; i++ {
		if err := handler.HandleIncoming(context.Background(), "212612345678", "hi", 1000); err != nil {
			t.Fatalf("HandleIncoming failed on delivery %d: %v", i, err)
		}
	}

	if sent := svc.sentMessages(); len(sent) != 1 {
		t.Errorf("expected duplicates suppressed, got %d replies", len(sent))
	}
}

func TestHandleIncomingInvalidSender(t *testing.T) {
	svc := newFakeService()
	handler := NewResponseHandler(svc, NewDedupGate(), &staticProcessor{reply: "hello"})

	if err := handler.HandleIncoming(context.Background(), "abc", "hi", 1000); err == nil {
		t.Error("expected error for invalid sender")
	}
	if sent := svc.sentMessages(); len(sent) != 0 {
		t.Errorf("expected no replies for invalid sender, got %d", len(sent))
	}
}

func TestHandleIncomingProcessorError(t *testing.T) {
	svc := newFakeService()
	handler := NewResponseHandler(svc, NewDedupGate(), &staticProcessor{err: errors.New("boom")})

	if err := handler.HandleIncoming(context.Background(), "212612345678", "hi", 1000); err == nil {
		t.Error("expected processor error to propagate")
	}
}

func TestHandleIncomingEmptyReply(t *testing.T) {
	svc := newFakeService()
	handler := NewResponseHandler(svc, NewDedupGate(), &staticProcessor{reply: ""})

	if err := handler.HandleIncoming(context.Background(), "212612345678", "hi", 1000); err != nil {
		t.Fatalf("HandleIncoming failed: %v", err)
	}
	if sent := svc.sentMessages(); len(sent) != 0 {
		t.Errorf("expected nothing sent for empty reply, got %d", len(sent))
	}
}

func TestStartConsumesResponsesChannel(t *testing.T) {
	svc := newFakeService()
	handler := NewResponseHandler(svc, NewDedupGate(), &staticProcessor{reply: "got it"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler.Start(ctx)

	svc.responses <- models.Response{From: "212612345678", Body: "hello", Time: 1000}

	deadline := time.After(2 * time.Second)
	for {
		if len(svc.sentMessages()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reply to be sent")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := svc.sentMessages()[0]; got.Body != "got it" {
		t.Errorf("unexpected reply body %q", got.Body)
	}
}
