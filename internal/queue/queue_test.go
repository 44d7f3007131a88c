package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func roundTrip(t *testing.T, q Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	for _, typ := range []string{"sweep", "refresh"} {
		if err := q.Publish(ctx, Message{Type: typ}); err != nil {
			t.Fatalf("Publish(%s): %v", typ, err)
		}
	}
	for _, want := range []string{"sweep", "refresh"} {
		select {
		case msg := <-msgs:
			if msg.Type != want {
				t.Fatalf("got %q, want %q", msg.Type, want)
			}
			if msg.EnqueuedAt.IsZero() {
				t.Fatal("EnqueuedAt not stamped")
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestInMemoryRoundTrip(t *testing.T) {
	roundTrip(t, NewInMemory(4))
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := NewRedisQueue(client, "")
	q.wait = 100 * time.Millisecond
	roundTrip(t, q)
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	cancel()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
