package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newStartedEngine(t *testing.T, grace time.Duration, handler Handler) *Engine {
	t.Helper()

	if handler == nil {
		handler = func(context.Context, string) {}
	}
	e, err := New(Config{MisfireGrace: grace}, handler, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ok := e.Start(); !ok {
		t.Fatalf("expected Start() true")
	}
	t.Cleanup(func() { e.Stop() })
	return e
}

func TestNew_NilHandler(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, nil, nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}

func TestNew_InvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Timezone: "Nope/Nowhere"}, func(context.Context, string) {}, nil)
	if err == nil {
		t.Fatalf("expected error for invalid timezone")
	}
}

func TestEngine_StartStop(t *testing.T) {
	t.Parallel()

	e, err := New(Config{}, func(context.Context, string) {}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if e.IsRunning() {
		t.Fatalf("expected not running initially")
	}
	if !e.Start() {
		t.Fatalf("expected Start() true on first call")
	}
	if e.Start() {
		t.Fatalf("expected Start() false when already running")
	}
	if !e.Stop() {
		t.Fatalf("expected Stop() true on first call")
	}
	if e.Stop() {
		t.Fatalf("expected Stop() false when already stopped")
	}
}

func TestEngine_ScheduleFires(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		fired []string
	)
	e := newStartedEngine(t, time.Minute, func(_ context.Context, jobID string) {
		mu.Lock()
		fired = append(fired, jobID)
		mu.Unlock()
	})

	if err := e.Schedule("scheduled_event_1", time.Now().Add(20*time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if fired[0] != "scheduled_event_1" {
		t.Fatalf("expected job id scheduled_event_1, got %q", fired[0])
	}
	if _, ok := e.Get("scheduled_event_1"); ok {
		t.Fatalf("expected job to be deregistered after firing")
	}
}

func TestEngine_ScheduleDuplicate(t *testing.T) {
	t.Parallel()

	e := newStartedEngine(t, time.Minute, nil)

	if err := e.Schedule("job", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := e.Schedule("job", time.Now().Add(time.Hour)); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestEngine_ScheduleNotRunning(t *testing.T) {
	t.Parallel()

	e, err := New(Config{}, func(context.Context, string) {}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Schedule("job", time.Now().Add(time.Hour)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestEngine_MisfireGrace(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	e := newStartedEngine(t, time.Minute, func(context.Context, string) {
		calls.Add(1)
	})

	// Beyond grace: rejected, nothing registered.
	err := e.Schedule("too_old", time.Now().Add(-2*time.Minute))
	if !errors.Is(err, ErrMissedFire) {
		t.Fatalf("expected ErrMissedFire, got %v", err)
	}
	if _, ok := e.Get("too_old"); ok {
		t.Fatalf("expected no registration for missed job")
	}

	// Within grace: fires immediately.
	if err := e.Schedule("just_late", time.Now().Add(-10*time.Second)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 })
}

func TestEngine_ReschedulePreservesJobID(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	e := newStartedEngine(t, time.Minute, func(context.Context, string) {
		calls.Add(1)
	})

	if err := e.Schedule("job", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	newAt := time.Now().Add(20 * time.Millisecond)
	if err := e.Reschedule("job", newAt); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	info, ok := e.Get("job")
	if !ok {
		t.Fatalf("expected job to remain registered")
	}
	if !info.FireAt.Equal(newAt) {
		t.Fatalf("expected fire time %s, got %s", newAt, info.FireAt)
	}

	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 })
}

// A timer can fire concurrently with Reschedule: Stop returns false and
// the old timer goroutine is already on its way into fire. That stale
// goroutine must neither run the handler nor unregister the replacement
// timer.
func TestEngine_StaleTimerAfterRescheduleIsIgnored(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	e := newStartedEngine(t, time.Minute, func(context.Context, string) {
		calls.Add(1)
	})

	if err := e.Schedule("job", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	e.mu.Lock()
	stale := e.timers["job"]
	e.mu.Unlock()

	newAt := time.Now().Add(time.Hour)
	if err := e.Reschedule("job", newAt); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	// Stand in for the old timer goroutine arriving after the swap.
	e.fire("job", stale)

	if calls.Load() != 0 {
		t.Fatalf("expected no handler call from stale timer, got %d", calls.Load())
	}
	info, ok := e.Get("job")
	if !ok {
		t.Fatalf("expected rescheduled job to remain registered")
	}
	if !info.FireAt.Equal(newAt) {
		t.Fatalf("expected fire time %s, got %s", newAt, info.FireAt)
	}

	e.mu.Lock()
	current := e.timers["job"]
	e.mu.Unlock()
	e.fire("job", current)

	if calls.Load() != 1 {
		t.Fatalf("expected current timer to fire once, got %d", calls.Load())
	}
	if _, ok := e.Get("job"); ok {
		t.Fatalf("expected job unregistered after firing")
	}
}

func TestEngine_StaleTimerAfterRemoveIsIgnored(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	e := newStartedEngine(t, time.Minute, func(context.Context, string) {
		calls.Add(1)
	})

	if err := e.Schedule("job", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	e.mu.Lock()
	stale := e.timers["job"]
	e.mu.Unlock()

	if err := e.Remove("job"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := e.Schedule("job", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Schedule after Remove: %v", err)
	}

	e.fire("job", stale)

	if calls.Load() != 0 {
		t.Fatalf("expected no handler call from stale timer, got %d", calls.Load())
	}
	if _, ok := e.Get("job"); !ok {
		t.Fatalf("expected re-scheduled job to remain registered")
	}
}

func TestEngine_RescheduleUnknown(t *testing.T) {
	t.Parallel()

	e := newStartedEngine(t, time.Minute, nil)
	if err := e.Reschedule("ghost", time.Now().Add(time.Hour)); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEngine_RemoveStopsFire(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	e := newStartedEngine(t, time.Minute, func(context.Context, string) {
		calls.Add(1)
	})

	if err := e.Schedule("job", time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := e.Remove("job"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := e.Remove("job"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound on second remove, got %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("expected no fire after Remove, got %d", calls.Load())
	}
}

func TestEngine_PanickingHandlerDoesNotKillEngine(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	e := newStartedEngine(t, time.Minute, func(_ context.Context, jobID string) {
		if jobID == "boom" {
			panic("boom")
		}
		calls.Add(1)
	})

	if err := e.Schedule("boom", time.Now().Add(10*time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := e.Schedule("ok", time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 })
}

func TestEngine_Recurring(t *testing.T) {
	t.Parallel()

	e := newStartedEngine(t, time.Minute, nil)

	if err := e.AddRecurring("random_dm_task", "0 */4 * * *", func(context.Context) {}); err != nil {
		t.Fatalf("AddRecurring: %v", err)
	}
	if err := e.AddRecurring("random_dm_task", "0 */4 * * *", func(context.Context) {}); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	next, ok := e.NextRecurring("random_dm_task")
	if !ok || next.IsZero() || !next.After(time.Now()) {
		t.Fatalf("expected a future next fire time, got (%s, %v)", next, ok)
	}

	if err := e.RemoveRecurring("random_dm_task"); err != nil {
		t.Fatalf("RemoveRecurring: %v", err)
	}
	if err := e.RemoveRecurring("random_dm_task"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEngine_BadCronSpec(t *testing.T) {
	t.Parallel()

	e := newStartedEngine(t, time.Minute, nil)
	if err := e.AddRecurring("bad", "not a cron spec", func(context.Context) {}); err == nil {
		t.Fatalf("expected error for invalid cron spec")
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
