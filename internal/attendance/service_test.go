package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campusattend/internal/campus"
	"campusattend/internal/directory"
	"campusattend/internal/geo"
	"campusattend/internal/notify"
	"campusattend/internal/otp"
	"campusattend/internal/queue"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// codes accepts a single fixed code per subject and consumes it.
type codes struct {
	mu    sync.Mutex
	valid map[string]string
}

func (c *codes) Verify(_ context.Context, subjectID, code string, purpose otp.Purpose) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if purpose != otp.PurposeAttendance || c.valid[subjectID] != code {
		return otp.ErrInvalidCode
	}
	delete(c.valid, subjectID)
	return nil
}

type receipts struct {
	mu  sync.Mutex
	got []notify.Receipt
}

func (r *receipts) PublishReceipt(_ context.Context, rc notify.Receipt) error {
	r.mu.Lock()
	r.got = append(r.got, rc)
	r.mu.Unlock()
	return nil
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	dir      *directory.Memory
	zones    *campus.Memory
	clock    *fakeClock
	codes    *codes
	receipts *receipts
}

// monday is 2026-10-19; cs101 starts at 09:00 UTC on Mondays.
var monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

var onCampus = geo.MustPoint(40.71285, -74.00590)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewMemory()
	dir.AddUser(directory.Identity{ID: "s1", Username: "alice", Role: directory.RoleStudent}, "pw")
	dir.AddUser(directory.Identity{ID: "t1", Username: "bob", Role: directory.RoleTeacher}, "pw")
	dir.Enroll("s1", "cs101")
	dir.Schedule("cs101", time.Monday, 9*time.Hour)

	zones := campus.NewMemory()
	zone, err := geo.NewZone(geo.MustPoint(40.7128, -74.0060), 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zones.Update(context.Background(), zone, "admin"); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		repo:     NewMemoryRepository(),
		dir:      dir,
		zones:    zones,
		clock:    &fakeClock{t: monday.Add(9*time.Hour + 5*time.Minute)},
		codes:    &codes{valid: map[string]string{}},
		receipts: &receipts{},
	}
	f.svc = NewService(Deps{
		Repo:      f.repo,
		Roster:    dir,
		Timetable: dir,
		Zones:     zones,
		OTP:       f.codes,
		Receipts:  f.receipts,
		Now:       f.clock.Now,
	}, DefaultPolicy())
	return f
}

func selfMark(loc *geo.Point) MarkRequest {
	return MarkRequest{StudentID: "s1", ClassID: "cs101", MarkerID: "s1", Location: loc}
}

func TestMarkCommitsPresentOnCampus(t *testing.T) {
	f := newFixture(t)
	p := onCampus
	res, err := f.svc.Mark(context.Background(), selfMark(&p))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPresent || !res.LocationVerified {
		t.Fatalf("res = %+v", res)
	}
	if res.DistanceMeters == nil || *res.DistanceMeters > 100 {
		t.Fatalf("distance = %v", res.DistanceMeters)
	}
	if !res.Record.Date.Equal(monday) || res.Record.ID == "" {
		t.Fatalf("record = %+v", res.Record)
	}
	if len(f.receipts.got) != 1 || f.receipts.got[0].Date != "2026-10-19" {
		t.Fatalf("receipts = %+v", f.receipts.got)
	}
}

func TestMarkReturnsWhenReceiptQueueIsFull(t *testing.T) {
	f := newFixture(t)
	f.dir.AddUser(directory.Identity{ID: "s2", Username: "carol", Role: directory.RoleStudent}, "pw")
	f.dir.Enroll("s2", "cs101")
	f.svc = NewService(Deps{
		Repo:      f.repo,
		Roster:    f.dir,
		Timetable: f.dir,
		Zones:     f.zones,
		OTP:       f.codes,
		Receipts:  notify.NewPublisher(queue.NewInMemory(1)),
		Now:       f.clock.Now,
	}, DefaultPolicy())

	p := onCampus
	if _, err := f.svc.Mark(context.Background(), selfMark(&p)); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := f.svc.Mark(ctx, MarkRequest{StudentID: "s2", ClassID: "cs101", MarkerID: "s2", Location: &p})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second mark: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("mark blocked on a full receipt queue")
	}
	if ok, _ := f.repo.Exists(context.Background(), "s2", "cs101", monday); !ok {
		t.Fatal("second record not committed")
	}
}

func TestMarkIsIdempotentPerDay(t *testing.T) {
	f := newFixture(t)
	p := onCampus
	if _, err := f.svc.Mark(context.Background(), selfMark(&p)); err != nil {
		t.Fatal(err)
	}
	f.clock.Set(f.clock.Now().Add(time.Minute))
	_, err := f.svc.Mark(context.Background(), selfMark(&p))
	if !errors.Is(err, ErrAlreadyMarked) {
		t.Fatalf("err = %v, want ErrAlreadyMarked", err)
	}
}

func TestMarkLateAfterThreshold(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(monday.Add(9*time.Hour + 20*time.Minute))
	p := onCampus
	res, err := f.svc.Mark(context.Background(), selfMark(&p))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusLate {
		t.Fatalf("status = %s, want late", res.Status)
	}
}

func TestMarkWindowBounds(t *testing.T) {
	cases := []struct {
		name string
		at   time.Duration
		ok   bool
	}{
		{"too early", 8*time.Hour + 29*time.Minute, false},
		{"opens", 8*time.Hour + 30*time.Minute, true},
		{"closes", 10 * time.Hour, true},
		{"too late", 10*time.Hour + time.Minute, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.clock.Set(monday.Add(tc.at))
			p := onCampus
			_, err := f.svc.Mark(context.Background(), selfMark(&p))
			if tc.ok && err != nil {
				t.Fatalf("err = %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrOutsideWindow) {
				t.Fatalf("err = %v, want ErrOutsideWindow", err)
			}
		})
	}
}

func TestMarkNoSessionToday(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(monday.AddDate(0, 0, 1).Add(9 * time.Hour))
	p := onCampus
	if _, err := f.svc.Mark(context.Background(), selfMark(&p)); !errors.Is(err, ErrOutsideWindow) {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkOutsideGeofence(t *testing.T) {
	f := newFixture(t)
	far := geo.MustPoint(40.7173, -74.0060)
	_, err := f.svc.Mark(context.Background(), selfMark(&far))
	if !errors.Is(err, ErrOutsideGeofence) {
		t.Fatalf("err = %v, want ErrOutsideGeofence", err)
	}
	var ge *GeofenceError
	if !errors.As(err, &ge) {
		t.Fatal("expected *GeofenceError")
	}
	if ge.RadiusMeters != 100 || ge.DistanceMeters < 450 || ge.DistanceMeters > 550 {
		t.Fatalf("geofence error = %+v", ge)
	}
	if n, _ := f.repo.List(context.Background(), ListFilter{}); len(n) != 0 {
		t.Fatal("rejected mark was stored")
	}
}

func TestMarkRadiusChangeAppliesImmediately(t *testing.T) {
	f := newFixture(t)
	far := geo.MustPoint(40.7173, -74.0060)
	zone, _ := geo.NewZone(geo.MustPoint(40.7128, -74.0060), 1000)
	if _, err := f.zones.Update(context.Background(), zone, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Mark(context.Background(), selfMark(&far)); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkRequiresLocationForSelfMark(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Mark(context.Background(), selfMark(nil)); !errors.Is(err, ErrLocationRequired) {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkNotEnrolled(t *testing.T) {
	f := newFixture(t)
	p := onCampus
	req := MarkRequest{StudentID: "s2", ClassID: "cs101", MarkerID: "s2", Location: &p}
	if _, err := f.svc.Mark(context.Background(), req); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkSelfCannotChooseStatus(t *testing.T) {
	f := newFixture(t)
	p := onCampus
	req := selfMark(&p)
	req.StatusHint = StatusExcused
	if _, err := f.svc.Mark(context.Background(), req); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v", err)
	}
}

func TestAssistedMarkRequiresOTP(t *testing.T) {
	f := newFixture(t)
	req := MarkRequest{StudentID: "s1", ClassID: "cs101", MarkerID: "t1", StatusHint: StatusExcused}

	if _, err := f.svc.Mark(context.Background(), req); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("missing code: err = %v", err)
	}
	req.OTPCode = "000000"
	if _, err := f.svc.Mark(context.Background(), req); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("wrong code: err = %v", err)
	}

	f.codes.valid["t1"] = "424242"
	req.OTPCode = "424242"
	res, err := f.svc.Mark(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusExcused || res.Record.MarkerID != "t1" || res.LocationVerified {
		t.Fatalf("res = %+v", res)
	}
}

func TestConcurrentMarksCommitOnce(t *testing.T) {
	f := newFixture(t)
	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := onCampus
			_, err := f.svc.Mark(context.Background(), selfMark(&p))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyMarked):
			dup++
		default:
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if ok != 1 || dup != n-1 {
		t.Fatalf("ok=%d dup=%d", ok, dup)
	}
}

func TestUpdateStatusAudited(t *testing.T) {
	f := newFixture(t)
	p := onCampus
	res, err := f.svc.Mark(context.Background(), selfMark(&p))
	if err != nil {
		t.Fatal(err)
	}

	req := CorrectionRequest{RecordID: res.Record.ID, Status: StatusExcused, ActorID: "t1", Reason: "medical"}
	if _, err := f.svc.UpdateStatus(context.Background(), req); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("err = %v, want ErrInvalidOTP", err)
	}

	f.codes.valid["t1"] = "111111"
	req.OTPCode = "111111"
	rec, err := f.svc.UpdateStatus(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusExcused {
		t.Fatalf("status = %s", rec.Status)
	}
	audit := f.repo.Audit()
	if len(audit) != 1 || audit[0].ActorID != "t1" || audit[0].Reason != "medical" {
		t.Fatalf("audit = %+v", audit)
	}

	_, err = f.svc.UpdateStatus(context.Background(), CorrectionRequest{RecordID: "missing", Status: StatusAbsent, ActorID: "t1"})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDayUsesLocalCalendarDate(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	late := time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC).In(loc)
	if got := DateString(Day(late)); got != "2026-10-20" {
		t.Fatalf("Day = %s", got)
	}
}
