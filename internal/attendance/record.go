package attendance

import (
	"errors"
	"fmt"
	"time"

	"campusattend/internal/geo"
)

// Status of a committed record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

var (
	ErrNotEnrolled      = errors.New("student not enrolled in class")
	ErrAlreadyMarked    = errors.New("attendance already marked for today")
	ErrOutsideWindow    = errors.New("outside the attendance window")
	ErrOutsideGeofence  = errors.New("outside campus geofence")
	ErrInvalidOTP       = errors.New("invalid or expired code")
	ErrLocationRequired = errors.New("location required")
	ErrRecordNotFound   = errors.New("attendance record not found")
	ErrInvalidStatus    = errors.New("invalid attendance status")
	ErrInvalidRequest   = errors.New("invalid attendance request")
)

// GeofenceError carries the measured distance for user feedback.
type GeofenceError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("you are %.0fm from campus, outside the %.0fm radius", e.DistanceMeters, e.RadiusMeters)
}

func (e *GeofenceError) Is(target error) bool { return target == ErrOutsideGeofence }

// Record is one committed mark; unique per (StudentID, ClassID, Date).
type Record struct {
	ID               string
	ClassID          string
	StudentID        string
	Date             time.Time
	Status           Status
	MarkedAt         time.Time
	MarkerID         string
	Location         *geo.Point
	LocationVerified bool
	Notes            string
}

// Day truncates t to its calendar day in t's own location, returned as UTC
// midnight so it compares and stores as a plain date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateString formats a Day as YYYY-MM-DD.
func DateString(d time.Time) string { return d.Format(time.DateOnly) }
