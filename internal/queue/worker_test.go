package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWorkerRetriesUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := NewInMemory(8)
	w := NewWorker(q)
	w.Backoff = time.Millisecond

	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{})
	w.Handle(TypeAttendanceMarked, func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, msg.Attempts)
		if msg.Attempts < 2 {
			return errors.New("smtp down")
		}
		close(done)
		return nil
	})
	go func() { _ = w.Run(ctx) }()

	msg, _ := NewMessage(TypeAttendanceMarked, payload{RecordID: "r1"})
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("message never succeeded")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 3 || attempts[2] != 2 {
		t.Fatalf("attempts = %v", attempts)
	}
}

func TestWorkerGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	q := NewInMemory(8)
	w := NewWorker(q)
	w.Backoff = time.Millisecond
	w.MaxAttempts = 2

	calls := make(chan int, 8)
	w.Handle(TypeAttendanceMarked, func(_ context.Context, msg Message) error {
		calls <- msg.Attempts
		return errors.New("permanent")
	})
	go func() { _ = w.Run(ctx) }()

	msg, _ := NewMessage(TypeAttendanceMarked, payload{RecordID: "r1"})
	_ = q.Publish(ctx, msg)

	for want := 0; want < 2; want++ {
		select {
		case got := <-calls:
			if got != want {
				t.Fatalf("attempt = %d, want %d", got, want)
			}
		case <-ctx.Done():
			t.Fatal("timed out")
		}
	}
	select {
	case got := <-calls:
		t.Fatalf("unexpected extra attempt %d", got)
	case <-time.After(100 * time.Millisecond):
	}
}
