package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sjawhar/wispr-stream/internal/capture"
	"github.com/sjawhar/wispr-stream/internal/metrics"
	"github.com/sjawhar/wispr-stream/internal/recorder"
)

func nextPayload(t *testing.T, sub *Subscriber) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := sub.Next(ctx)
	if !ok {
		t.Fatal("timeout waiting for hub message")
	}
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return payload
}

func TestHubQueuesWithoutDropping(t *testing.T) {
	hub := NewHub(HubOptions{})
	slow := hub.Subscribe()
	fast := hub.Subscribe()
	defer hub.Unsubscribe(slow)
	defer hub.Unsubscribe(fast)

	const n = 500
	for i := range n {
		hub.Broadcast([]byte(fmt.Sprintf("%d", i)))
	}

	if got := slow.Pending(); got != n {
		t.Fatalf("expected %d queued messages, got %d", n, got)
	}

	ctx := context.Background()
	for i := range n {
		msg, ok := fast.Next(ctx)
		if !ok || string(msg) != fmt.Sprintf("%d", i) {
			t.Fatalf("message %d: got %q ok=%v", i, msg, ok)
		}
	}
	if got := slow.Pending(); got != n {
		t.Fatalf("draining one subscriber must not affect another, pending %d", got)
	}
}

func TestHubEvictionAndSubscriberGauge(t *testing.T) {
	m := metrics.New()
	hub := NewHub(HubOptions{Metrics: m})

	a := hub.Subscribe()
	b := hub.Subscribe()
	if got := testutil.ToFloat64(m.WSSubscribers); got != 2 {
		t.Fatalf("expected 2 subscribers, got %v", got)
	}

	hub.Evict(a)
	hub.Evict(a)
	if got := testutil.ToFloat64(m.WSEvictions); got != 1 {
		t.Fatalf("expected 1 eviction, got %v", got)
	}
	if hub.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber left, got %d", hub.Subscribers())
	}

	if _, ok := a.Next(context.Background()); ok {
		t.Fatal("evicted subscriber must report closed")
	}

	hub.Broadcast([]byte("x"))
	if a.Pending() != 0 {
		t.Fatal("evicted subscriber must not receive messages")
	}
	if b.Pending() != 1 {
		t.Fatalf("remaining subscriber should receive, pending %d", b.Pending())
	}

	hub.Unsubscribe(b)
	if got := testutil.ToFloat64(m.WSSubscribers); got != 0 {
		t.Fatalf("expected 0 subscribers, got %v", got)
	}
	if got := testutil.ToFloat64(m.WSEvictions); got != 1 {
		t.Fatalf("unsubscribe must not count as eviction, got %v", got)
	}
}

func TestSubscriberNextHonorsContext(t *testing.T) {
	hub := NewHub(HubOptions{})
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := sub.Next(ctx); ok {
		t.Fatal("expected Next to give up when ctx is done")
	}
}

func TestHubEventPayloads(t *testing.T) {
	hub := NewHub(HubOptions{})
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	hub.OnAudioChunk(recorder.AudioChunkEvent{Data: "AAEC", Raw: []byte{0, 1, 2}})
	hub.BroadcastStatusChanged("r1", "PAUSED")
	hub.BroadcastInterruption("r1", capture.Interruption{Type: capture.InterruptionEnded, ShouldResume: true})
	hub.BroadcastStalled("r1", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	hub.BroadcastTranscriptReady("r1", "hello", "completed")
	hub.BroadcastLiveTranscriptInterim("r1", 0, "hel", 0.1)

	p := nextPayload(t, sub)
	if p["type"] != "audio_chunk" || p["data"] != "AAEC" {
		t.Fatalf("unexpected chunk event %v", p)
	}
	p = nextPayload(t, sub)
	if p["type"] != "status_changed" || p["status"] != "PAUSED" || p["recording_id"] != "r1" {
		t.Fatalf("unexpected status event %v", p)
	}
	p = nextPayload(t, sub)
	if p["type"] != "interruption" || p["interruption"] != "ended" || p["should_resume"] != true {
		t.Fatalf("unexpected interruption event %v", p)
	}
	p = nextPayload(t, sub)
	if p["type"] != "stalled" || p["last_chunk_at"] != "2026-03-01T09:00:00Z" {
		t.Fatalf("unexpected stalled event %v", p)
	}
	p = nextPayload(t, sub)
	if p["type"] != "transcript" || p["transcript"] != "hello" || p["status"] != "completed" {
		t.Fatalf("unexpected transcript event %v", p)
	}
	p = nextPayload(t, sub)
	if p["type"] != "live_transcript" || p["interim"] != true || p["text"] != "hel" {
		t.Fatalf("unexpected interim event %v", p)
	}
}
