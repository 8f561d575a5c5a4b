package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"campusattend/internal/geo"
	"campusattend/internal/metrics"
	"campusattend/internal/notify"
	"campusattend/internal/otp"
)

// Roster answers enrollment questions.
type Roster interface {
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
}

// Timetable returns the scheduled start of a class on a day.
type Timetable interface {
	ScheduledStart(ctx context.Context, classID string, day time.Time) (time.Time, bool, error)
}

// ZoneProvider returns the campus zone as of now.
type ZoneProvider interface {
	CurrentZone(ctx context.Context) (geo.Zone, error)
}

// OTPVerifier consumes a second-factor code.
type OTPVerifier interface {
	Verify(ctx context.Context, subjectID, code string, purpose otp.Purpose) error
}

// ReceiptPublisher hands committed marks to the notification worker.
type ReceiptPublisher interface {
	PublishReceipt(ctx context.Context, rc notify.Receipt) error
}

// Policy configures the mark flow.
type Policy struct {
	WindowBefore time.Duration
	WindowAfter  time.Duration
	LateAfter    time.Duration

	// GeofenceSelfMark requires a verified location when students mark themselves.
	GeofenceSelfMark bool
	// GeofenceAssisted requires a verified location when a teacher marks a student.
	GeofenceAssisted bool
	OTPAssisted      bool
	OTPCorrection    bool

	Location *time.Location
}

// DefaultPolicy is the canonical window: [-30m, +60m] around the start, late after +15m.
func DefaultPolicy() Policy {
	return Policy{
		WindowBefore:     30 * time.Minute,
		WindowAfter:      60 * time.Minute,
		LateAfter:        15 * time.Minute,
		GeofenceSelfMark: true,
		OTPAssisted:      true,
		OTPCorrection:    true,
		Location:         time.UTC,
	}
}

// MarkRequest asks to record attendance for one student in one class today.
// A request whose MarkerID equals StudentID is a self-mark; anything else is assisted.
type MarkRequest struct {
	StudentID  string
	ClassID    string
	MarkerID   string
	StatusHint Status
	Location   *geo.Point
	OTPCode    string
	Notes      string
}

func (r MarkRequest) selfMark() bool { return r.MarkerID == r.StudentID }

// Result describes a committed mark.
type Result struct {
	Record           Record
	Status           Status
	MarkedAt         time.Time
	LocationVerified bool
	DistanceMeters   *float64
}

// CorrectionRequest changes the status of an existing record.
type CorrectionRequest struct {
	RecordID string
	Status   Status
	ActorID  string
	Reason   string
	OTPCode  string
}

// Service is the attendance ledger.
type Service struct {
	repo      Repository
	roster    Roster
	timetable Timetable
	zones     ZoneProvider
	otp       OTPVerifier
	receipts  ReceiptPublisher
	policy    Policy
	now       func() time.Time
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Repo      Repository
	Roster    Roster
	Timetable Timetable
	Zones     ZoneProvider
	OTP       OTPVerifier
	Receipts  ReceiptPublisher
	Now       func() time.Time
}

// NewService creates a ledger. Receipts may be nil.
func NewService(d Deps, policy Policy) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	return &Service{
		repo:      d.Repo,
		roster:    d.Roster,
		timetable: d.Timetable,
		zones:     d.Zones,
		otp:       d.OTP,
		receipts:  d.Receipts,
		policy:    policy,
		now:       d.Now,
	}
}

// Mark runs the enrollment, duplicate, window, geofence and OTP checks in
// that order and commits the record. The first failing check is returned.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (Result, error) {
	res, err := s.mark(ctx, req)
	metrics.AttendanceMarks.WithLabelValues(markResult(err)).Inc()
	return res, err
}

func (s *Service) mark(ctx context.Context, req MarkRequest) (Result, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.ClassID = strings.TrimSpace(req.ClassID)
	if req.StudentID == "" || req.ClassID == "" || req.MarkerID == "" {
		return Result{}, fmt.Errorf("%w: student, class and marker required", ErrInvalidRequest)
	}
	status := req.StatusHint
	if status == "" {
		status = StatusPresent
	}
	if !status.Valid() {
		return Result{}, ErrInvalidStatus
	}
	if req.selfMark() && status != StatusPresent {
		return Result{}, fmt.Errorf("%w: students may only mark themselves present", ErrInvalidStatus)
	}

	now := s.now().In(s.policy.Location)
	today := Day(now)

	enrolled, err := s.roster.IsEnrolled(ctx, req.StudentID, req.ClassID)
	if err != nil {
		return Result{}, err
	}
	if !enrolled {
		return Result{}, ErrNotEnrolled
	}

	exists, err := s.repo.Exists(ctx, req.StudentID, req.ClassID, today)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return Result{}, ErrAlreadyMarked
	}

	status, err = s.checkWindow(ctx, req.ClassID, now, status)
	if err != nil {
		return Result{}, err
	}

	verified, distance, err := s.checkLocation(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if !req.selfMark() && s.policy.OTPAssisted {
		if err := s.verifyOTP(ctx, req.MarkerID, req.OTPCode); err != nil {
			return Result{}, err
		}
	}

	rec, err := s.repo.Insert(ctx, Record{
		ClassID:          req.ClassID,
		StudentID:        req.StudentID,
		Date:             today,
		Status:           status,
		MarkedAt:         now.UTC(),
		MarkerID:         req.MarkerID,
		Location:         req.Location,
		LocationVerified: verified,
		Notes:            req.Notes,
	})
	if err != nil {
		return Result{}, err
	}
	s.publish(ctx, rec)

	return Result{
		Record:           rec,
		Status:           rec.Status,
		MarkedAt:         rec.MarkedAt,
		LocationVerified: verified,
		DistanceMeters:   distance,
	}, nil
}

// checkWindow enforces the window around the scheduled start and downgrades
// a present hint to late once LateAfter has passed.
func (s *Service) checkWindow(ctx context.Context, classID string, now time.Time, status Status) (Status, error) {
	start, ok, err := s.timetable.ScheduledStart(ctx, classID, now)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: class %s has no session today", ErrOutsideWindow, classID)
	}
	offset := now.Sub(start)
	if offset < -s.policy.WindowBefore || offset > s.policy.WindowAfter {
		return "", fmt.Errorf("%w: session starts %s", ErrOutsideWindow, start.Format("15:04"))
	}
	if status == StatusPresent && offset > s.policy.LateAfter {
		return StatusLate, nil
	}
	return status, nil
}

// checkLocation verifies the submitted point against the current zone. When
// the policy does not require it, a point is still checked if one was sent.
func (s *Service) checkLocation(ctx context.Context, req MarkRequest) (bool, *float64, error) {
	required := s.policy.GeofenceAssisted
	if req.selfMark() {
		required = s.policy.GeofenceSelfMark
	}
	if req.Location == nil {
		if required {
			return false, nil, ErrLocationRequired
		}
		return false, nil, nil
	}

	zone, err := s.zones.CurrentZone(ctx)
	if err != nil {
		if required {
			return false, nil, err
		}
		log.Printf("[attendance] zone unavailable, recording unverified location: %v", err)
		return false, nil, nil
	}
	inside, d := geo.Within(*req.Location, zone)
	metrics.GeofenceDistance.Observe(d)
	if !inside && required {
		return false, &d, &GeofenceError{DistanceMeters: d, RadiusMeters: zone.RadiusMeters}
	}
	return inside, &d, nil
}

func (s *Service) verifyOTP(ctx context.Context, subjectID, code string) error {
	if code == "" {
		return ErrInvalidOTP
	}
	err := s.otp.Verify(ctx, subjectID, code, otp.PurposeAttendance)
	if errors.Is(err, otp.ErrInvalidCode) {
		return ErrInvalidOTP
	}
	return err
}

// receiptTimeout bounds the post-commit publish so a stalled queue cannot
// hold the mark response.
const receiptTimeout = 2 * time.Second

func (s *Service) publish(ctx context.Context, rec Record) {
	if s.receipts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptTimeout)
	defer cancel()
	err := s.receipts.PublishReceipt(ctx, notify.Receipt{
		RecordID:  rec.ID,
		StudentID: rec.StudentID,
		ClassID:   rec.ClassID,
		Date:      DateString(rec.Date),
		Status:    string(rec.Status),
	})
	if err != nil {
		log.Printf("[attendance] receipt publish for %s failed: %v", rec.ID, err)
	}
}

// UpdateStatus is the audited correction path. It targets an existing record
// and is always attributed to ActorID.
func (s *Service) UpdateStatus(ctx context.Context, req CorrectionRequest) (Record, error) {
	rec, err := s.updateStatus(ctx, req)
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultFailed
	}
	metrics.AttendanceCorrections.WithLabelValues(result).Inc()
	return rec, err
}

func (s *Service) updateStatus(ctx context.Context, req CorrectionRequest) (Record, error) {
	if req.RecordID == "" || req.ActorID == "" {
		return Record{}, fmt.Errorf("%w: record and actor required", ErrInvalidRequest)
	}
	if !req.Status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	if _, err := s.repo.Get(ctx, req.RecordID); err != nil {
		return Record{}, err
	}
	if s.policy.OTPCorrection {
		if err := s.verifyOTP(ctx, req.ActorID, req.OTPCode); err != nil {
			return Record{}, err
		}
	}
	rec, old, err := s.repo.UpdateStatus(ctx, Correction{
		RecordID: req.RecordID,
		Status:   req.Status,
		ActorID:  req.ActorID,
		Reason:   req.Reason,
		At:       s.now().UTC(),
	})
	if err != nil {
		return Record{}, err
	}
	log.Printf("[attendance] record %s corrected %s -> %s by %s", rec.ID, old, rec.Status, req.ActorID)
	return rec, nil
}

// Get returns a committed record.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

// List returns committed records.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Record, error) {
	return s.repo.List(ctx, f)
}

// Today returns the current calendar day in the policy location.
func (s *Service) Today() time.Time {
	return Day(s.now().In(s.policy.Location))
}

func markResult(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, ErrAlreadyMarked):
		return "already_marked"
	case errors.Is(err, ErrOutsideWindow):
		return "outside_window"
	case errors.Is(err, ErrOutsideGeofence):
		return "outside_geofence"
	case errors.Is(err, ErrLocationRequired):
		return "location_required"
	case errors.Is(err, ErrInvalidOTP):
		return "invalid_otp"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	}
	return "error"
}
