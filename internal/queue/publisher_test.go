package queue

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// silentBroker accepts TCP connections and never speaks AMQP.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestPublishHonoursContextDeadline(t *testing.T) {
	p := NewPublisher(silentBroker(t), "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Publish(ctx, DeckEvent{Type: EventModuleGenerated, DeckID: 1, UserID: 2})
	if err == nil {
		t.Fatal("expected publish to fail against a silent broker")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("publish took %s, want it bounded by the context", elapsed)
	}
}

func TestPublishCancelledContextFailsFast(t *testing.T) {
	p := NewPublisher(silentBroker(t), "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, DeckEvent{Type: EventGenerationCompleted, DeckID: 1})
	var opErr *net.OpError
	if !errors.As(err, &opErr) || opErr.Op != "dial" {
		t.Fatalf("expected dial error, got %v", err)
	}
}
