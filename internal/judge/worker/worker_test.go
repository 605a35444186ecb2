package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

type fakeQueue struct {
	mu     sync.Mutex
	jobs   []*model.Job
	err    error
	onIdle func()
}

func (f *fakeQueue) Dequeue(_ context.Context, _ model.Language, _ time.Duration) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.jobs) == 0 {
		if f.onIdle != nil {
			f.onIdle()
		}
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

type fakeExec struct {
	mu     sync.Mutex
	jobs   []*model.Job
	result *model.ExecutionResult
	err    error
	panics bool
}

func (f *fakeExec) Execute(_ context.Context, job *model.Job) (*model.ExecutionResult, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.panics {
		panic("executor exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &model.ExecutionResult{
		SubmissionID: job.SubmissionID,
		Status:       model.StatusAccepted,
		Score:        100,
	}, nil
}

type failedCall struct {
	id      string
	message string
}

type fakeStore struct {
	mu             sync.Mutex
	running        []string
	completed      []*model.ExecutionResult
	failed         []failedCall
	markRunningErr error
	completeErr    error
}

func (f *fakeStore) MarkRunning(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markRunningErr != nil {
		return f.markRunningErr
	}
	f.running = append(f.running, id)
	return nil
}

func (f *fakeStore) Complete(_ context.Context, result *model.ExecutionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, result)
	return nil
}

func (f *fakeStore) Fail(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failedCall{id: id, message: message})
	return nil
}

func pythonJob(id string) *model.Job {
	return &model.Job{
		SubmissionID:  id,
		Language:      model.LanguagePython,
		Code:          "print(1)",
		TimeLimitMS:   1000,
		MemoryLimitMB: 256,
		TestCases:     []model.CaseSnapshot{{ID: "c1", ExpectedOutput: "1"}},
	}
}

func newWorker(t *testing.T, q JobQueue, e CaseExecutor, s SubmissionStore) *Worker {
	t.Helper()
	w, err := New(Config{
		Language:    model.LanguagePython,
		Queue:       q,
		Executor:    e,
		Store:       s,
		PollTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return w
}

func TestProcessHappyPath(t *testing.T) {
	exec := &fakeExec{}
	store := &fakeStore{}
	w := newWorker(t, &fakeQueue{}, exec, store)

	w.process(context.Background(), pythonJob("s1"))

	if len(store.running) != 1 || store.running[0] != "s1" {
		t.Fatalf("expected MarkRunning for s1, got %v", store.running)
	}
	if len(store.completed) != 1 || store.completed[0].SubmissionID != "s1" {
		t.Fatalf("expected completed result, got %v", store.completed)
	}
	if len(store.failed) != 0 {
		t.Fatalf("unexpected failure calls: %v", store.failed)
	}
}

func TestProcessDropsVanishedSubmission(t *testing.T) {
	exec := &fakeExec{}
	store := &fakeStore{markRunningErr: appErr.New(appErr.SubmissionNotFound)}
	w := newWorker(t, &fakeQueue{}, exec, store)

	w.process(context.Background(), pythonJob("gone"))

	if len(exec.jobs) != 0 {
		t.Fatal("executor must not run for a vanished submission")
	}
	if len(store.failed) != 0 {
		t.Fatalf("vanished submission must be dropped, not failed: %v", store.failed)
	}
}

func TestProcessLanguageMismatch(t *testing.T) {
	exec := &fakeExec{}
	store := &fakeStore{}
	w := newWorker(t, &fakeQueue{}, exec, store)

	job := pythonJob("s1")
	job.Language = model.LanguageJava
	w.process(context.Background(), job)

	if len(exec.jobs) != 0 {
		t.Fatal("executor must not run on a routing mismatch")
	}
	if len(store.failed) != 1 || !strings.Contains(store.failed[0].message, "routed") {
		t.Fatalf("expected routing failure, got %v", store.failed)
	}
}

func TestProcessExecutionFailure(t *testing.T) {
	exec := &fakeExec{err: errors.New("docker daemon unreachable")}
	store := &fakeStore{}
	w := newWorker(t, &fakeQueue{}, exec, store)

	w.process(context.Background(), pythonJob("s1"))

	if len(store.completed) != 0 {
		t.Fatalf("nothing should complete: %v", store.completed)
	}
	if len(store.failed) != 1 || !strings.Contains(store.failed[0].message, "docker daemon unreachable") {
		t.Fatalf("expected failure with cause, got %v", store.failed)
	}
}

func TestProcessPersistFailure(t *testing.T) {
	exec := &fakeExec{}
	store := &fakeStore{completeErr: errors.New("connection reset")}
	w := newWorker(t, &fakeQueue{}, exec, store)

	w.process(context.Background(), pythonJob("s1"))

	if len(store.failed) != 1 || !strings.Contains(store.failed[0].message, "persist result failed") {
		t.Fatalf("expected persist failure, got %v", store.failed)
	}
}

func TestProcessRecoversPanic(t *testing.T) {
	exec := &fakeExec{panics: true}
	store := &fakeStore{}
	w := newWorker(t, &fakeQueue{}, exec, store)

	w.process(context.Background(), pythonJob("s1"))

	if len(store.failed) != 1 || !strings.Contains(store.failed[0].message, "internal judge failure") {
		t.Fatalf("expected panic to become a failure, got %v", store.failed)
	}
}

func TestRunDrainsInOrderAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &fakeQueue{
		jobs:   []*model.Job{pythonJob("s1"), pythonJob("s2"), pythonJob("s3")},
		onIdle: cancel,
	}
	exec := &fakeExec{}
	store := &fakeStore{}
	w := newWorker(t, q, exec, store)

	err := w.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if len(store.completed) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(store.completed))
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if store.completed[i].SubmissionID != want {
			t.Fatalf("completion %d: expected %s, got %s", i, want, store.completed[i].SubmissionID)
		}
	}
}

func TestRunSurvivesDequeueErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := &fakeQueue{err: errors.New("redis down")}
	w := newWorker(t, q, &fakeExec{}, &fakeStore{})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The loop must keep polling through backend errors until cancelled.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
