package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coachhub/backend/internal/services/anamnese"
)

type senderStub struct {
	sent []Message
	err  error
}

func (s *senderStub) Send(_ context.Context, msg Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, msg)
	return "msg-1", nil
}

func TestFormLinkNotifierRendersLink(t *testing.T) {
	sender := &senderStub{}
	notifier := NewFormLinkNotifier(sender)
	expires := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)

	err := notifier.SendFormLink(context.Background(), anamnese.FormLink{
		To:        "ana@x.com",
		Name:      "Ana <script>",
		URL:       "https://app.coachhub.test/anamnese?token=abc",
		ExpiresAt: &expires,
	})
	if err != nil {
		t.Fatalf("send form link: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To[0] != "ana@x.com" || msg.Subject != formLinkSubject {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !strings.Contains(msg.HTML, "token=abc") || !strings.Contains(msg.HTML, "2026-03-12 12:00 UTC") {
		t.Fatalf("link or expiry missing from body: %s", msg.HTML)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Fatalf("name must be escaped: %s", msg.HTML)
	}
}

func TestFormLinkNotifierPropagatesSendFailure(t *testing.T) {
	sender := &senderStub{err: errors.New("rate limited")}
	notifier := NewFormLinkNotifier(sender)

	err := notifier.SendFormLink(context.Background(), anamnese.FormLink{To: "ana@x.com", URL: "https://x"})
	if err == nil {
		t.Fatalf("expected send failure")
	}
}

func TestFormLinkNotifierRequiresRecipient(t *testing.T) {
	notifier := NewFormLinkNotifier(&senderStub{})
	if err := notifier.SendFormLink(context.Background(), anamnese.FormLink{URL: "https://x"}); err == nil {
		t.Fatalf("expected error without recipient")
	}
}
