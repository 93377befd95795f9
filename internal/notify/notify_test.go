package notify

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shiva/unipool/internal/model"
)

type fakeSender struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.sent = append(f.sent, m)
	return "projects/test/messages/1", f.err
}

func TestFCMNotifier_Notify(t *testing.T) {
	sender := &fakeSender{}
	n := NewFCMNotifier(sender, nil)

	payload := map[string]string{"id": "pool-1", "status": "ready", "message": "Your pool is ready"}
	if err := n.Notify(context.Background(), "r1", model.EventPoolReady, payload); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.sent))
	}
	m := sender.sent[0]
	if m.Topic != "user_r1" {
		t.Errorf("topic = %q, want user_r1", m.Topic)
	}
	if m.Data["type"] != "pool_ready" || m.Data["id"] != "pool-1" {
		t.Errorf("data = %v", m.Data)
	}
	if m.Notification.Title != "Pool ready" || m.Notification.Body != "Your pool is ready" {
		t.Errorf("notification = %+v", m.Notification)
	}
	if _, ok := payload["type"]; ok {
		t.Error("caller payload was mutated")
	}
}

func TestFCMNotifier_SendError(t *testing.T) {
	n := NewFCMNotifier(&fakeSender{err: errors.New("unavailable")}, nil)
	if err := n.Notify(context.Background(), "r1", model.EventPoolJoined, nil); err == nil {
		t.Fatal("send error swallowed")
	}
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	_ = n.Notify(context.Background(), "d1", model.EventBookingCreated, map[string]string{"message": "New ride request"})

	entries := logs.FilterMessage("notification").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["user"]; got != "d1" {
		t.Errorf("user field = %v, want d1", got)
	}
}

func TestTitleFallback(t *testing.T) {
	if got := Title("something_else"); got != "UniPool" {
		t.Errorf("fallback title = %q", got)
	}
}
