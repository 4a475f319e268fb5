package circuitbreaker

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func TestNew_Defaults(t *testing.T) {
	cb := New(Config{})

	if cb.Threshold() != defaultThreshold {
		t.Errorf("Expected default threshold %d, got %d", defaultThreshold, cb.Threshold())
	}
	if cb.Name() != "default" {
		t.Errorf("Expected default name, got %q", cb.Name())
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected new breaker to be CLOSED, got %s", cb.State())
	}
	if d := cb.TimeUntilRetry(); d != 0 {
		t.Errorf("Expected no retry wait while CLOSED, got %v", d)
	}
}

func TestCircuitBreaker_TripAndRecover(t *testing.T) {
	clock := newFakeClock()
	var trips, recoveries int
	cb := New(Config{
		Name:      "Search",
		Threshold: 2,
		Cooldown:  time.Minute,
		Now:       clock.Now,
		OnTrip:    func(string, int) { trips++ },
		OnRecover: func(string) { recoveries++ },
	})

	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("Expected CLOSED after one failure, got %s", cb.State())
	}
	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatalf("Expected OPEN at threshold, got %s", cb.State())
	}
	if trips != 1 {
		t.Errorf("Expected one trip callback, got %d", trips)
	}
	if cb.Allow() {
		t.Error("Expected calls to be rejected during cooldown")
	}
	if d := cb.TimeUntilRetry(); d != time.Minute {
		t.Errorf("Expected full cooldown remaining, got %v", d)
	}

	clock.Advance(time.Minute)
	if !cb.Allow() {
		t.Fatal("Expected a trial call to be allowed after cooldown")
	}
	if !cb.IsHalfOpen() {
		t.Fatalf("Expected HALF-OPEN after cooldown, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("Expected a second call to wait for the trial call")
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("Expected CLOSED after successful trial, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected failures cleared, got %d", cb.Failures())
	}
	if recoveries != 1 {
		t.Errorf("Expected one recovery callback, got %d", recoveries)
	}
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	clock := newFakeClock()
	cb := New(Config{Threshold: 1, Cooldown: 10 * time.Second, Now: clock.Now})

	cb.RecordFailure()
	clock.Advance(10 * time.Second)
	if !cb.Allow() {
		t.Fatal("Expected a trial call after cooldown")
	}
	cb.RecordFailure()

	if !cb.IsOpen() {
		t.Fatalf("Expected OPEN after failed trial, got %s", cb.State())
	}
	if d := cb.TimeUntilRetry(); d != 10*time.Second {
		t.Errorf("Expected cooldown to restart, got %v", d)
	}
}

func TestCircuitBreaker_TrialTimeout(t *testing.T) {
	clock := newFakeClock()
	cb := New(Config{
		Threshold:       1,
		Cooldown:        time.Second,
		HalfOpenTimeout: 5 * time.Second,
		Now:             clock.Now,
	})

	cb.RecordFailure()
	clock.Advance(time.Second)
	if !cb.Allow() {
		t.Fatal("Expected a trial call after cooldown")
	}

	clock.Advance(2 * time.Second)
	if d := cb.TimeUntilRetry(); d != 3*time.Second {
		t.Errorf("Expected 3s of trial time left, got %v", d)
	}

	clock.Advance(3 * time.Second)
	if cb.Allow() {
		t.Error("Expected no call while the stuck trial call is abandoned")
	}
	if !cb.IsOpen() {
		t.Fatalf("Expected OPEN after trial timeout, got %s", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsRun(t *testing.T) {
	cb := New(Config{Threshold: 3})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("Expected non-consecutive failures to stay CLOSED, got %s", cb.State())
	}
	if cb.Failures() != 2 {
		t.Errorf("Expected run of 2 failures, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	errUpstream := errors.New("upstream 500")
	errRejected := errors.New("invalid api key")
	ignore := func(err error) bool { return errors.Is(err, errRejected) }

	cb := New(Config{Threshold: 2, Cooldown: time.Hour})

	if err := cb.Execute(func() error { return errRejected }, ignore); !errors.Is(err, errRejected) {
		t.Fatalf("Expected the call error back, got %v", err)
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected ignored errors not to count, got %d failures", cb.Failures())
	}

	cb.Execute(func() error { return errUpstream }, ignore)
	cb.Execute(func() error { return errUpstream }, ignore)
	if !cb.IsOpen() {
		t.Fatalf("Expected OPEN after two upstream failures, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil }, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while OPEN")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{Threshold: 1, Cooldown: time.Hour})
	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("Expected OPEN")
	}

	cb.Reset()

	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Errorf("Expected CLOSED with no failures, got %s/%d", cb.State(), cb.Failures())
	}
	if !cb.Allow() {
		t.Error("Expected calls to pass after reset")
	}
	if snap := cb.Snapshot(); snap.LastFailure != nil {
		t.Errorf("Expected last failure cleared, got %v", snap.LastFailure)
	}
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	clock := newFakeClock()
	cb := New(Config{Name: "Search", Threshold: 2, Cooldown: 30 * time.Second, Now: clock.Now})

	snap := cb.Snapshot()
	if snap.State != StateClosed || snap.LastFailure != nil {
		t.Errorf("Unexpected snapshot for fresh breaker: %+v", snap)
	}

	failedAt := clock.Now()
	cb.RecordFailure()
	cb.RecordFailure()
	clock.Advance(10 * time.Second)

	snap = cb.Snapshot()
	if snap.Name != "Search" || snap.Threshold != 2 {
		t.Errorf("Unexpected identity in snapshot: %+v", snap)
	}
	if snap.State != StateOpen || snap.Failures != 2 {
		t.Errorf("Expected OPEN with 2 failures, got %s/%d", snap.State, snap.Failures)
	}
	if snap.LastFailure == nil || !snap.LastFailure.Equal(failedAt) {
		t.Errorf("Expected last failure %v, got %v", failedAt, snap.LastFailure)
	}
	if snap.RetryIn != 20*time.Second {
		t.Errorf("Expected 20s until retry, got %v", snap.RetryIn)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	json.Unmarshal(data, &decoded)
	if decoded["state"] != "OPEN" {
		t.Errorf("Expected state rendered by name, got %v", decoded["state"])
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "CLOSED",
		StateOpen:     "OPEN",
		StateHalfOpen: "HALF-OPEN",
		State(42):     "UNKNOWN",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := New(Config{Threshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if cb.Allow() {
					if (i+j)%2 == 0 {
						cb.RecordFailure()
					} else {
						cb.RecordSuccess()
					}
				}
				cb.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	if cb.IsOpen() {
		t.Error("Expected breaker to stay CLOSED below threshold")
	}
}
