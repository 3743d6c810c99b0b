// Package trigger is the in-process trigger engine behind the event
// service: one-shot fires backed by per-job timers and recurring jobs
// backed by cron specs. Registrations live in memory only; every
// process rebuilds them from the durable store at startup.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrNotRunning   = errors.New("trigger engine not running")
	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateJob = errors.New("job id already registered")
	// ErrMissedFire is returned by Schedule when the fire time lies
	// further in the past than the misfire grace window allows.
	ErrMissedFire = errors.New("fire time outside misfire grace window")
)

// Handler is the process-wide execution entry point. The engine hands
// it only the durable job identifier; the handler resolves everything
// else fresh, so it stays valid across restarts and between processes.
type Handler func(ctx context.Context, jobID string)

type Config struct {
	Timezone     string        // IANA zone for cron specs, e.g. "Europe/Berlin"
	MisfireGrace time.Duration // how far past-due a one-shot may still fire
}

// JobInfo describes a registered one-shot trigger.
type JobInfo struct {
	JobID  string
	FireAt time.Time
}

type oneShot struct {
	timer  *time.Timer
	fireAt time.Time
}

type Engine struct {
	cfg     Config
	handler Handler
	log     *slog.Logger
	loc     *time.Location

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	timers map[string]*oneShot
	c      *cron.Cron
	crons  map[string]cron.EntryID
}

func New(cfg Config, handler Handler, log *slog.Logger) (*Engine, error) {
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	loc := time.UTC
	if strings.TrimSpace(cfg.Timezone) != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, err
		}
	}

	return &Engine{
		cfg:     cfg,
		handler: handler,
		log:     log,
		loc:     loc,
		timers:  map[string]*oneShot{},
		crons:   map[string]cron.EntryID{},
	}, nil
}

func (e *Engine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return false
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.c = cron.New(cron.WithLocation(e.loc))
	e.c.Start()
	e.running = true

	e.log.Info("trigger engine started",
		"tz", e.loc.String(),
		"misfire_grace", e.cfg.MisfireGrace.String(),
	)
	return true
}

func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return false
	}
	e.cancel()

	for _, o := range e.timers {
		o.timer.Stop()
	}
	e.timers = map[string]*oneShot{}

	<-e.c.Stop().Done()
	e.c = nil
	e.crons = map[string]cron.EntryID{}
	e.running = false

	e.log.Info("trigger engine stopped")
	return true
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Schedule registers a one-shot trigger. A fire time that already
// passed but is still within the misfire grace fires immediately; one
// beyond the grace returns ErrMissedFire and registers nothing.
func (e *Engine) Schedule(jobID string, fireAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	if _, exists := e.timers[jobID]; exists {
		return ErrDuplicateJob
	}

	delay := time.Until(fireAt)
	if delay < 0 {
		if -delay > e.cfg.MisfireGrace {
			return ErrMissedFire
		}
		e.log.Warn("past-due job within misfire grace, firing immediately",
			"job_id", jobID, "overdue", (-delay).String())
		delay = 0
	}

	o := &oneShot{fireAt: fireAt}
	o.timer = time.AfterFunc(delay, func() { e.fire(jobID, o) })
	e.timers[jobID] = o
	return nil
}

// Reschedule moves an existing one-shot trigger to a new fire time,
// keeping its identifier.
func (e *Engine) Reschedule(jobID string, fireAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	o, ok := e.timers[jobID]
	if !ok {
		return ErrJobNotFound
	}

	// Stop returns false when the old timer already fired; its goroutine
	// may be blocked on e.mu right now. Installing a fresh oneShot makes
	// the registration check in fire reject that stale goroutine.
	o.timer.Stop()
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	n := &oneShot{fireAt: fireAt}
	n.timer = time.AfterFunc(delay, func() { e.fire(jobID, n) })
	e.timers[jobID] = n
	return nil
}

func (e *Engine) Remove(jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	o, ok := e.timers[jobID]
	if !ok {
		return ErrJobNotFound
	}
	o.timer.Stop()
	delete(e.timers, jobID)
	return nil
}

func (e *Engine) Get(jobID string) (JobInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.timers[jobID]
	if !ok {
		return JobInfo{}, false
	}
	return JobInfo{JobID: jobID, FireAt: o.fireAt}, true
}

// AddRecurring registers a cron-spec job under a task name.
func (e *Engine) AddRecurring(name, spec string, job func(ctx context.Context)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	if _, exists := e.crons[name]; exists {
		return ErrDuplicateJob
	}

	id, err := e.c.AddFunc(spec, func() {
		defer e.recoverPanic("recurring_" + name)
		job(e.ctx)
	})
	if err != nil {
		return err
	}
	e.crons[name] = id
	return nil
}

func (e *Engine) RemoveRecurring(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotRunning
	}
	id, ok := e.crons[name]
	if !ok {
		return ErrJobNotFound
	}
	e.c.Remove(id)
	delete(e.crons, name)
	return nil
}

// NextRecurring reports the next fire time of a registered recurring job.
func (e *Engine) NextRecurring(name string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return time.Time{}, false
	}
	id, ok := e.crons[name]
	if !ok {
		return time.Time{}, false
	}
	return e.c.Entry(id).Next, true
}

// fire runs in the timer goroutine. A panicking or failing handler must
// never take down the engine shared by every other job. The goroutine
// only acts while its own oneShot is still the registered one; a timer
// that fired concurrently with Reschedule or Remove arrives here with a
// stale pointer and backs off.
func (e *Engine) fire(jobID string, o *oneShot) {
	e.mu.Lock()
	if !e.running || e.timers[jobID] != o {
		e.mu.Unlock()
		return
	}
	delete(e.timers, jobID)
	ctx := e.ctx
	e.mu.Unlock()

	defer e.recoverPanic(jobID)
	e.log.Info("trigger fired", "job_id", jobID)
	e.handler(ctx, jobID)
}

func (e *Engine) recoverPanic(jobID string) {
	if r := recover(); r != nil {
		e.log.Error("job panicked",
			"job_id", jobID,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}
