package recorder

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"
)

func TestEmitterDeliversInOrderAsBase64(t *testing.T) {
	e := NewEmitter(nil)
	defer e.Close()

	var mu sync.Mutex
	var got []string
	e.AddListener(func(ev AudioChunkEvent) {
		mu.Lock()
		got = append(got, ev.Data)
		mu.Unlock()
	})

	var want []string
	for i := 0; i < 200; i++ {
		chunk := []byte{byte(i), byte(i >> 8), 0xAB}
		want = append(want, base64.StdEncoding.EncodeToString(chunk))
		e.OnChunk(chunk)
	}

	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d out of order: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmitterCopiesChunks(t *testing.T) {
	e := NewEmitter(nil)
	defer e.Close()

	block := make(chan struct{})
	events := make(chan AudioChunkEvent, 2)
	e.AddListener(func(ev AudioChunkEvent) {
		<-block
		events <- ev
	})

	chunk := []byte{1, 2, 3}
	e.OnChunk(chunk)
	chunk[0] = 9
	close(block)

	ev := <-events
	if ev.Raw[0] != 1 || ev.Data != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("emitter must copy the chunk, got raw=%v data=%q", ev.Raw, ev.Data)
	}
}

func TestEmitterSlowListenerDoesNotBlockProducer(t *testing.T) {
	e := NewEmitter(nil)

	release := make(chan struct{})
	var count int
	var mu sync.Mutex
	e.AddListener(func(AudioChunkEvent) {
		<-release
		mu.Lock()
		count++
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			e.OnChunk([]byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnChunk blocked on a slow listener")
	}

	close(release)
	e.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 1000 {
		t.Fatalf("expected all 1000 chunks delivered before Close returned, got %d", count)
	}
}

func TestEmitterDrainHonorsContext(t *testing.T) {
	e := NewEmitter(nil)
	release := make(chan struct{})
	e.AddListener(func(AudioChunkEvent) { <-release })
	e.OnChunk([]byte{1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Drain(ctx); err == nil {
		t.Fatal("expected Drain to time out while the listener is blocked")
	}

	close(release)
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain after release failed: %v", err)
	}
	e.Close()
}

func TestEmitterRemoveListener(t *testing.T) {
	e := NewEmitter(nil)
	defer e.Close()

	var first, second int
	removeFirst := e.AddListener(func(AudioChunkEvent) { first++ })
	e.AddListener(func(AudioChunkEvent) { second++ })

	e.OnChunk([]byte{1})
	_ = e.Drain(context.Background())
	removeFirst()
	e.OnChunk([]byte{2})
	_ = e.Drain(context.Background())

	if first != 1 || second != 2 {
		t.Fatalf("expected first=1 second=2, got first=%d second=%d", first, second)
	}
}

func TestEmitterIgnoresChunksAfterClose(t *testing.T) {
	e := NewEmitter(nil)
	var n int
	e.AddListener(func(AudioChunkEvent) { n++ })
	e.Close()
	e.Close()

	e.OnChunk([]byte{1})
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain after Close failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no delivery after Close, got %d", n)
	}
}

func TestEmitterTagsChunksWithRecording(t *testing.T) {
	e := NewEmitter(nil)
	defer e.Close()

	var mu sync.Mutex
	var ids []string
	e.AddListener(func(ev AudioChunkEvent) {
		mu.Lock()
		ids = append(ids, ev.RecordingID)
		mu.Unlock()
	})

	e.For("a").OnChunk([]byte{1})
	e.For("b").OnChunk([]byte{2})
	e.OnChunk([]byte{3})
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "" {
		t.Fatalf("unexpected recording ids %q", ids)
	}
}

func TestEmitterDiscardDropsOnlyThatRecording(t *testing.T) {
	e := NewEmitter(nil)
	defer e.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	var delivered []string
	e.AddListener(func(ev AudioChunkEvent) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	e.AddListener(func(ev AudioChunkEvent) {
		mu.Lock()
		delivered = append(delivered, ev.RecordingID+":"+ev.Data)
		mu.Unlock()
	})

	old := e.For("old")
	old.OnChunk([]byte{1})
	<-started
	old.OnChunk([]byte{2})
	e.For("new").OnChunk([]byte{3})
	old.OnChunk([]byte{4})

	if n := e.Discard("old"); n != 2 {
		t.Fatalf("expected 2 queued chunks dropped, got %d", n)
	}
	close(release)
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := "new:" + base64.StdEncoding.EncodeToString([]byte{3})
	if len(delivered) != 1 || delivered[0] != want {
		t.Fatalf("expected only %q delivered, got %q", want, delivered)
	}
}
