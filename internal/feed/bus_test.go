package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func receive(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishFanOut(t *testing.T) {
	b := New()
	all := b.Subscribe()
	billing := b.Subscribe(BillingSubscribed, BillingUnsubscribed)
	if n := b.Subscribers(); n != 2 {
		t.Fatalf("subscribers = %d, want 2", n)
	}

	b.PublishType(SchoolRegistered, map[string]string{"school_id": "s1"})
	b.PublishType(BillingSubscribed, map[string]string{"profile_id": "u1"})

	e := receive(t, all)
	if e.Type != SchoolRegistered {
		t.Errorf("first event = %s, want %s", e.Type, SchoolRegistered)
	}
	if e.Timestamp.IsZero() {
		t.Error("event timestamp not set")
	}
	if e = receive(t, all); e.Type != BillingSubscribed {
		t.Errorf("second event = %s, want %s", e.Type, BillingSubscribed)
	}

	e = receive(t, billing)
	if e.Type != BillingSubscribed {
		t.Fatalf("filtered event = %s, want %s", e.Type, BillingSubscribed)
	}
	var data map[string]string
	if err := json.Unmarshal(e.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["profile_id"] != "u1" {
		t.Errorf("profile_id = %q, want u1", data["profile_id"])
	}

	select {
	case extra := <-billing:
		t.Fatalf("filtered subscriber got %s", extra.Type)
	default:
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	for i := 0; i < 100; i++ {
		b.PublishType(ProfileLogin, nil)
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffered = %d, want full buffer of %d", len(ch), cap(ch))
	}
}

func TestUnsubscribeAndClose(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	b.Unsubscribe(ch)

	other := b.Subscribe()
	b.Close()
	if _, ok := <-other; ok {
		t.Fatal("channel should be closed after Close")
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("subscribers after Close = %d", n)
	}
}

func TestNilBusPublishType(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("nil bus panicked: %v", r)
		}
	}()
	var b *Bus
	b.PublishType(ProfileLogin, nil)
}

func TestSlogHandlerPublishesAboveLevel(t *testing.T) {
	b := New()
	ch := b.Subscribe(LogEntry)

	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewSlogHandler(inner, b, slog.LevelWarn)).With("component", "billing")

	logger.Info("routine")
	logger.Error("reconcile failed", "error", errors.New("boom"))

	e := receive(t, ch)
	var entry map[string]any
	if err := json.Unmarshal(e.Data, &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry["msg"] != "reconcile failed" || entry["error"] != "boom" || entry["component"] != "billing" {
		t.Errorf("entry = %v", entry)
	}

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %s", extra.Data)
	default:
	}
	if !strings.Contains(buf.String(), "routine") {
		t.Errorf("inner handler missed the info record: %q", buf.String())
	}
}
