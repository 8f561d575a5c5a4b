package otp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"campusattend/internal/directory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSender struct {
	mu     sync.Mutex
	fail   error
	codes  []string
	links  []string
	called int
}

func (f *fakeSender) SendOTP(_ context.Context, _ directory.Contact, code, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	if f.fail != nil {
		return f.fail
	}
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeSender) SendPasswordReset(_ context.Context, _ directory.Contact, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	if f.fail != nil {
		return f.fail
	}
	f.links = append(f.links, link)
	return nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[len(f.codes)-1]
}

func newTestService(t *testing.T, st Store) (*Service, *fakeSender, *fakeClock) {
	t.Helper()
	dir := directory.NewMemory()
	dir.AddUser(directory.Identity{ID: "u1", Username: "alice", Role: directory.RoleStudent, Contact: directory.Contact{Email: "a@x.edu"}}, "pw")
	dir.AddUser(directory.Identity{ID: "u2", Username: "bob", Role: directory.RoleTeacher, Contact: directory.Contact{Phone: "0800"}}, "pw")
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Millisecond)}
	sender := &fakeSender{}
	svc := NewService(st, dir, sender, Options{
		TTL:      5 * time.Minute,
		Secret:   "test-secret",
		ResetURL: "https://attend.example.edu/reset",
		Now:      clock.Now,
	})
	return svc, sender, clock
}

func TestIssueProducesSixDigitCode(t *testing.T) {
	svc, sender, clock := newTestService(t, NewMemoryStore())
	issued, err := svc.Issue(context.Background(), "u1", PurposeLogin)
	if err != nil {
		t.Fatal(err)
	}
	if !wellFormed(issued.Code) || issued.Code != sender.last() {
		t.Fatalf("code %q delivered %q", issued.Code, sender.last())
	}
	if want := clock.Now().Add(5 * time.Minute); !issued.ExpiresAt.Equal(want) {
		t.Fatalf("expires %v, want %v", issued.ExpiresAt, want)
	}
}

func TestVerifySingleUse(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemoryStore())
	issued, err := svc.Issue(ctx, "u1", PurposeAttendance)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Verify(ctx, "u1", issued.Code, PurposeAttendance); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if err := svc.Verify(ctx, "u1", issued.Code, PurposeAttendance); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("second verify err = %v, want ErrInvalidCode", err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t, NewMemoryStore())
	issued, _ := svc.Issue(ctx, "u1", PurposeLogin)
	clock.Advance(5*time.Minute + time.Second)
	if err := svc.Verify(ctx, "u1", issued.Code, PurposeLogin); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
}

func TestIssueSupersedesPrevious(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemoryStore())
	first, _ := svc.Issue(ctx, "u1", PurposeLogin)
	var second Issued
	for {
		second, _ = svc.Issue(ctx, "u1", PurposeLogin)
		if second.Code != first.Code {
			break
		}
	}
	if err := svc.Verify(ctx, "u1", first.Code, PurposeLogin); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("old code err = %v, want ErrInvalidCode", err)
	}
	if err := svc.Verify(ctx, "u1", second.Code, PurposeLogin); err != nil {
		t.Fatalf("new code: %v", err)
	}
}

func TestVerifyIsScoped(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemoryStore())
	issued, _ := svc.Issue(ctx, "u1", PurposeLogin)

	if err := svc.Verify(ctx, "u1", issued.Code, PurposeAttendance); !errors.Is(err, ErrInvalidCode) {
		t.Fatal("code verified for a different purpose")
	}
	if err := svc.Verify(ctx, "u2", issued.Code, PurposeLogin); !errors.Is(err, ErrInvalidCode) {
		t.Fatal("code verified for a different subject")
	}
	for _, bad := range []string{"", "12345", "1234567", "abcdef"} {
		if err := svc.Verify(ctx, "u1", bad, PurposeLogin); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("malformed %q err = %v", bad, err)
		}
	}
	// Failed attempts above must not consume the real challenge.
	if err := svc.Verify(ctx, "u1", issued.Code, PurposeLogin); err != nil {
		t.Fatalf("valid code rejected after failed attempts: %v", err)
	}
}

func TestVerifyLocksAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemoryStore())
	issued, err := svc.Issue(ctx, "u1", PurposePasswordReset)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := strconv.Atoi(issued.Code)
	for i := 1; i <= MaxAttempts; i++ {
		guess := fmt.Sprintf("%06d", (n+i)%1_000_000)
		if err := svc.Verify(ctx, "u1", guess, PurposePasswordReset); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("guess %d err = %v", i, err)
		}
	}
	if err := svc.Verify(ctx, "u1", issued.Code, PurposePasswordReset); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("correct code after %d wrong guesses err = %v, want ErrInvalidCode", MaxAttempts, err)
	}
	if _, err := svc.Resend(ctx, "u1", PurposePasswordReset); !errors.Is(err, ErrExpired) {
		t.Fatalf("resend of locked challenge err = %v, want ErrExpired", err)
	}

	fresh, err := svc.Issue(ctx, "u1", PurposePasswordReset)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Verify(ctx, "u1", fresh.Code, PurposePasswordReset); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
}

func TestDeliveryFailureKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	svc, sender, _ := newTestService(t, NewMemoryStore())
	sender.fail = errors.New("smtp down")

	issued, err := svc.Issue(ctx, "u1", PurposeLogin)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v, want ErrDeliveryFailed", err)
	}
	if errors.Is(err, ErrInvalidCode) {
		t.Fatal("delivery failure must be distinct from verification failure")
	}

	sender.fail = nil
	resent, err := svc.Resend(ctx, "u1", PurposeLogin)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if resent.ChallengeID != issued.ChallengeID || resent.Code != issued.Code {
		t.Fatal("resend must reuse the persisted challenge")
	}
	if err := svc.Verify(ctx, "u1", issued.Code, PurposeLogin); err != nil {
		t.Fatalf("verify after resend: %v", err)
	}
}

func TestResendWithoutActiveChallenge(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t, NewMemoryStore())
	if _, err := svc.Resend(ctx, "u1", PurposeLogin); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	svc.Issue(ctx, "u1", PurposeLogin)
	clock.Advance(6 * time.Minute)
	if _, err := svc.Resend(ctx, "u1", PurposeLogin); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestPasswordResetSendsLink(t *testing.T) {
	ctx := context.Background()
	svc, sender, _ := newTestService(t, NewMemoryStore())
	issued, err := svc.Issue(ctx, "u2", PurposePasswordReset)
	if err != nil {
		t.Fatal(err)
	}
	if len(sender.links) != 1 || len(sender.codes) != 0 {
		t.Fatalf("links=%v codes=%v", sender.links, sender.codes)
	}
	u, err := url.Parse(sender.links[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sender.links[0], "https://attend.example.edu/reset?") ||
		u.Query().Get("subject") != "u2" || u.Query().Get("code") != issued.Code {
		t.Fatalf("link = %s", sender.links[0])
	}
}

func TestIssueRejectsUnknownSubjectAndPurpose(t *testing.T) {
	ctx := context.Background()
	svc, sender, _ := newTestService(t, NewMemoryStore())
	if _, err := svc.Issue(ctx, "ghost", PurposeLogin); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Issue(ctx, "u1", Purpose("sudo")); !errors.Is(err, ErrInvalidPurpose) {
		t.Fatalf("err = %v, want ErrInvalidPurpose", err)
	}
	if sender.called != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	svc, _, clock := newTestService(t, st)
	a, _ := svc.Issue(ctx, "u1", PurposeLogin)
	svc.Issue(ctx, "u1", PurposeAttendance)
	svc.Issue(ctx, "u2", PurposeLogin)
	if err := svc.Verify(ctx, "u1", a.Code, PurposeLogin); err != nil {
		t.Fatal(err)
	}

	n, err := svc.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v; want 1 consumed", n, err)
	}
	clock.Advance(10 * time.Minute)
	if n, _ := svc.Sweep(ctx); n != 2 {
		t.Fatalf("sweep = %d, want 2 expired", n)
	}
}

func TestConcurrentVerifyHasOneWinner(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, NewMemoryStore())
	issued, _ := svc.Issue(ctx, "u1", PurposeAttendance)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Verify(ctx, "u1", issued.Code, PurposeAttendance) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}
