package whatsapp

import (
	"context"
	"testing"
)

func TestMockClientSendMessage(t *testing.T) {
	mock := NewMockClient()

	if err := mock.SendMessage(context.Background(), "212612345678", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := mock.SendMessage(context.Background(), "212612345678", "world"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if len(mock.SentMessages) != 2 {
		t.Fatalf("expected 2 sent messages, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "212612345678" || mock.SentMessages[0].Body != "hello" {
		t.Errorf("unexpected first message: %+v", mock.SentMessages[0])
	}
	if mock.SentMessages[1].Body != "world" {
		t.Errorf("unexpected second message body: %q", mock.SentMessages[1].Body)
	}
}

func TestSendMessageValidation(t *testing.T) {
	c := &Client{}

	if err := c.SendMessage(context.Background(), "212612345678", "hi"); err == nil {
		t.Error("expected error when client is not initialized")
	}
}
