package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"campusattend/internal/directory"
	"campusattend/internal/queue"
)

// Receipt is the body of a queue.TypeAttendanceMarked message.
type Receipt struct {
	RecordID  string `json:"record_id"`
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id"`
	Date      string `json:"date"`
	Status    string `json:"status"`
}

// Publisher enqueues receipts for the worker.
type Publisher struct {
	q queue.Queue
}

func NewPublisher(q queue.Queue) *Publisher {
	return &Publisher{q: q}
}

func (p *Publisher) PublishReceipt(ctx context.Context, rc Receipt) error {
	msg, err := queue.NewMessage(queue.TypeAttendanceMarked, rc)
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, msg)
}

type contactLookup interface {
	ContactInfo(ctx context.Context, subjectID string) (directory.Contact, error)
}

// ReceiptHandler is run by the worker for queue.TypeAttendanceMarked messages.
type ReceiptHandler struct {
	contacts contactLookup
	router   *Router
}

func NewReceiptHandler(contacts contactLookup, router *Router) *ReceiptHandler {
	return &ReceiptHandler{contacts: contacts, router: router}
}

func (h *ReceiptHandler) Handle(ctx context.Context, msg queue.Message) error {
	var rc Receipt
	if err := json.Unmarshal(msg.Body, &rc); err != nil {
		return fmt.Errorf("decode receipt: %w", err)
	}
	contact, err := h.contacts.ContactInfo(ctx, rc.StudentID)
	if err != nil {
		return fmt.Errorf("contact for %s: %w", rc.StudentID, err)
	}
	return h.router.SendReceipt(ctx, contact, rc)
}
