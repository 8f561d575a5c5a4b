package attendance

import (
	"context"
	"time"
)

// Correction is an audited status change.
type Correction struct {
	RecordID string
	Status   Status
	ActorID  string
	Reason   string
	At       time.Time
}

// ListFilter narrows List. Zero fields are ignored.
type ListFilter struct {
	ClassID   string
	StudentID string
	Date      time.Time
	Limit     int
	Offset    int
}

// ReportQuery selects records for a class or for a student over [From, To].
type ReportQuery struct {
	ClassID   string
	StudentID string
	From      time.Time
	To        time.Time
}

// Tally is the number of records with Status on Date.
type Tally struct {
	Date   time.Time
	Status Status
	Count  int
}

// Repository persists records. Insert must rely on a storage-level unique
// constraint on (student, class, date) and return ErrAlreadyMarked on conflict.
type Repository interface {
	Exists(ctx context.Context, studentID, classID string, day time.Time) (bool, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	UpdateStatus(ctx context.Context, c Correction) (Record, Status, error)
	List(ctx context.Context, f ListFilter) ([]Record, error)
	Tally(ctx context.Context, q ReportQuery) ([]Tally, error)
}
