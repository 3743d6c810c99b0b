package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
)

type recordingRegistrar struct {
	specs map[string]string
	jobs  map[string]func(ctx context.Context)
	err   error
}

func newRecordingRegistrar() *recordingRegistrar {
	return &recordingRegistrar{specs: map[string]string{}, jobs: map[string]func(ctx context.Context){}}
}

func (r *recordingRegistrar) AddRecurring(name, spec string, job func(ctx context.Context)) error {
	if r.err != nil {
		return r.err
	}
	r.specs[name] = spec
	r.jobs[name] = job
	return nil
}

func TestRecurringRunner_Register(t *testing.T) {
	t.Parallel()

	runner := NewRecurringRunner(&fakeRecurringRepo{}, nil, nil)
	reg := newRecordingRegistrar()

	if err := runner.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(reg.specs) != len(model.RecurringTaskSpecs) {
		t.Fatalf("expected %d registrations, got %d", len(model.RecurringTaskSpecs), len(reg.specs))
	}
	for name, spec := range model.RecurringTaskSpecs {
		if reg.specs[name] != spec {
			t.Fatalf("expected spec %q for %s, got %q", spec, name, reg.specs[name])
		}
	}
}

func TestRecurringRunner_Register_EngineError(t *testing.T) {
	t.Parallel()

	runner := NewRecurringRunner(&fakeRecurringRepo{}, nil, nil)
	reg := newRecordingRegistrar()
	reg.err = errors.New("engine not running")

	if err := runner.Register(reg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecurringRunner_EnsureSeeded(t *testing.T) {
	t.Parallel()

	store := &fakeRecurringRepo{}
	runner := NewRecurringRunner(store, nil, nil)

	// One task already has a pending run; the others get seeded.
	addRun(t, store, "random_dm_task", time.Now().Add(time.Hour), model.Pending)

	if err := runner.EnsureSeeded(context.Background()); err != nil {
		t.Fatalf("EnsureSeeded: %v", err)
	}

	pending := model.Pending
	runs, err := store.ListRuns(context.Background(), &pending, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	byTask := map[string]int{}
	for _, run := range runs {
		byTask[run.TaskName]++
		if !run.ScheduledTime.After(time.Now().Add(-time.Minute)) {
			t.Fatalf("seeded run not in the future: %+v", run)
		}
	}
	for name := range model.RecurringTaskSpecs {
		if byTask[name] != 1 {
			t.Fatalf("expected exactly one pending run for %s, got %d", name, byTask[name])
		}
	}

	// Re-seeding is idempotent.
	if err := runner.EnsureSeeded(context.Background()); err != nil {
		t.Fatalf("EnsureSeeded again: %v", err)
	}
	runs, _ = store.ListRuns(context.Background(), &pending, 0)
	if len(runs) != len(model.RecurringTaskSpecs) {
		t.Fatalf("expected no duplicate seeds, got %d runs", len(runs))
	}
}

func TestRecurringRunner_RunOnce_Success(t *testing.T) {
	t.Parallel()

	store := &fakeRecurringRepo{}
	ran := false
	actions := map[string]TaskAction{
		"daily_checkin_task": func(ctx context.Context) error {
			ran = true
			return nil
		},
	}
	runner := NewRecurringRunner(store, actions, nil)

	addRun(t, store, "daily_checkin_task", time.Now().UTC(), model.Pending)

	runner.runOnce(context.Background(), "daily_checkin_task", model.RecurringTaskSpecs["daily_checkin_task"])

	if !ran {
		t.Fatalf("expected action invoked")
	}

	runs, _ := store.ListRuns(context.Background(), nil, 0)
	var completed, pending int
	for _, run := range runs {
		switch run.Status {
		case model.Completed:
			completed++
			if run.Detail != "ran on schedule" {
				t.Fatalf("expected detail on completed run, got %q", run.Detail)
			}
		case model.Pending:
			pending++
			if !run.ScheduledTime.After(time.Now()) {
				t.Fatalf("next occurrence not in the future: %+v", run)
			}
		}
	}
	if completed != 1 || pending != 1 {
		t.Fatalf("expected 1 completed + 1 pending run, got %d/%d", completed, pending)
	}
}

func TestRecurringRunner_RunOnce_ActionFailure(t *testing.T) {
	t.Parallel()

	store := &fakeRecurringRepo{}
	actions := map[string]TaskAction{
		"weekly_digest_task": func(ctx context.Context) error {
			return errors.New("digest source unavailable")
		},
	}
	runner := NewRecurringRunner(store, actions, nil)

	addRun(t, store, "weekly_digest_task", time.Now().UTC(), model.Pending)

	runner.runOnce(context.Background(), "weekly_digest_task", model.RecurringTaskSpecs["weekly_digest_task"])

	runs, _ := store.ListRuns(context.Background(), nil, 0)
	var failed, pending int
	for _, run := range runs {
		switch run.Status {
		case model.Failed:
			failed++
			if run.ErrorMessage == nil || *run.ErrorMessage != "digest source unavailable" {
				t.Fatalf("expected error message recorded, got %v", run.ErrorMessage)
			}
		case model.Pending:
			pending++
		}
	}
	if failed != 1 || pending != 1 {
		t.Fatalf("expected failed run and fresh pending run, got %d/%d", failed, pending)
	}
}
