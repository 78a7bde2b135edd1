package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"opsdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	b.Publish(domain.CanonicalMessage{Gateway: domain.GatewayMeta, Sender: "972501234567", Text: "hello"})

	select {
	case msg := <-b.Subscribe():
		if msg.Sender != "972501234567" {
			t.Errorf("expected sender 972501234567, got %s", msg.Sender)
		}
		if msg.Gateway != domain.GatewayMeta {
			t.Errorf("expected Meta gateway, got %s", msg.Gateway)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New(1, testLogger())
	b.Close()

	// Must not panic.
	b.Publish(domain.CanonicalMessage{Sender: "1"})
}

func TestCloseIdempotent(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close()
}

func TestSubscribeDrainsBuffered(t *testing.T) {
	b := New(8, testLogger())

	for i := 0; i < 3; i++ {
		b.Publish(domain.CanonicalMessage{Sender: "s", MessageID: string(rune('a' + i))})
	}
	b.Close()

	var got int
	for range b.Subscribe() {
		got++
	}
	if got != 3 {
		t.Errorf("expected 3 buffered messages, got %d", got)
	}
}
