package queue

import (
	"context"
	"log"
	"time"

	"campusattend/internal/metrics"
)

// HandlerFunc processes one message.
type HandlerFunc func(ctx context.Context, msg Message) error

// Worker dispatches messages by type and requeues failures until
// MaxAttempts is reached.
type Worker struct {
	q           Queue
	handlers    map[string]HandlerFunc
	MaxAttempts int
	Backoff     time.Duration
}

func NewWorker(q Queue) *Worker {
	return &Worker{q: q, handlers: make(map[string]HandlerFunc), MaxAttempts: 5, Backoff: 2 * time.Second}
}

// Handle registers fn for messages of type typ.
func (w *Worker) Handle(typ string, fn HandlerFunc) {
	w.handlers[typ] = fn
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		w.process(ctx, msg)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, msg Message) {
	fn, ok := w.handlers[msg.Type]
	if !ok {
		log.Printf("[worker] no handler for %s, dropping %s", msg.Type, msg.ID)
		metrics.QueueMessages.WithLabelValues(msg.Type, "dropped").Inc()
		return
	}
	err := fn(ctx, msg)
	if err == nil {
		metrics.QueueMessages.WithLabelValues(msg.Type, metrics.ResultOK).Inc()
		return
	}

	msg.Attempts++
	if msg.Attempts >= w.MaxAttempts {
		log.Printf("[worker] %s %s failed after %d attempts: %v", msg.Type, msg.ID, msg.Attempts, err)
		metrics.QueueMessages.WithLabelValues(msg.Type, metrics.ResultFailed).Inc()
		return
	}
	log.Printf("[worker] %s %s attempt %d failed: %v", msg.Type, msg.ID, msg.Attempts, err)
	metrics.QueueMessages.WithLabelValues(msg.Type, "retried").Inc()

	delay := w.Backoff * time.Duration(msg.Attempts)
	go func() {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if err := w.q.Publish(context.WithoutCancel(ctx), msg); err != nil {
			log.Printf("[worker] requeue %s: %v", msg.ID, err)
		}
	}()
}
