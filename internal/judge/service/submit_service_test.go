package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/queue"
	"codejudge/internal/judge/repository"
	appErr "codejudge/pkg/errors"
)

type fakeSubmissionRepo struct {
	mu        sync.Mutex
	items     map[string]*model.Submission
	completed []*model.ExecutionResult
	deleted   []string
	createErr error
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{items: make(map[string]*model.Submission)}
}

func (f *fakeSubmissionRepo) Create(_ context.Context, _ db.Transaction, s *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.items[s.ID]; ok {
		return repository.ErrSubmissionExists
	}
	cp := *s
	f.items[s.ID] = &cp
	return nil
}

func (f *fakeSubmissionRepo) GetByID(_ context.Context, _ db.Transaction, id string) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubmissionRepo) ListByUser(_ context.Context, userID string, _, _ int) ([]*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Submission
	for _, s := range f.items {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) MarkQueued(_ context.Context, id string) error {
	return f.setStatus(id, model.StatusQueued, "")
}

func (f *fakeSubmissionRepo) MarkRunning(_ context.Context, id string) error {
	return f.setStatus(id, model.StatusRunning, "")
}

func (f *fakeSubmissionRepo) MarkFailed(_ context.Context, id, message string) error {
	return f.setStatus(id, model.StatusRuntimeError, message)
}

func (f *fakeSubmissionRepo) setStatus(id string, status model.Status, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	s.Status = status
	s.ErrorMessage = message
	return nil
}

func (f *fakeSubmissionRepo) Complete(_ context.Context, result *model.ExecutionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[result.SubmissionID]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	s.Status = result.Status
	s.Score = result.Score
	s.TimeMSTotal = result.TimeMSTotal
	s.ErrorMessage = result.ErrorMessage
	f.completed = append(f.completed, result)
	return nil
}

func (f *fakeSubmissionRepo) Delete(_ context.Context, _ db.Transaction, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return repository.ErrSubmissionNotFound
	}
	delete(f.items, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeChallengeRepo struct {
	challenges map[string]*model.Challenge
	cases      map[string][]model.TestCase
}

func (f *fakeChallengeRepo) GetByID(_ context.Context, _ db.Transaction, id string) (*model.Challenge, error) {
	c, ok := f.challenges[id]
	if !ok {
		return nil, repository.ErrChallengeNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChallengeRepo) ListTestCases(_ context.Context, _ db.Transaction, challengeID string) ([]model.TestCase, error) {
	return f.cases[challengeID], nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*model.Submission
}

func (f *fakePublisher) PublishFinalStatus(_ context.Context, s *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, s)
	return nil
}

type testEnv struct {
	svc         *SubmitService
	submissions *fakeSubmissionRepo
	challenges  *fakeChallengeRepo
	publisher   *fakePublisher
	queue       *queue.Service
	mr          *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	q, err := queue.NewService(c, time.Hour)
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}

	submissions := newFakeSubmissionRepo()
	challenges := &fakeChallengeRepo{
		challenges: map[string]*model.Challenge{
			"ch-1":     {ID: "ch-1", Title: "Sum", TimeLimitMS: 1000, MemoryLimitMB: 256, Status: model.ChallengePublished},
			"ch-draft": {ID: "ch-draft", Title: "WIP", TimeLimitMS: 1000, MemoryLimitMB: 256, Status: model.ChallengeDraft},
			"ch-empty": {ID: "ch-empty", Title: "No cases", TimeLimitMS: 1000, MemoryLimitMB: 256, Status: model.ChallengePublished},
		},
		cases: map[string][]model.TestCase{
			"ch-1": {
				{ID: "c1", ChallengeID: "ch-1", Input: "1 2", ExpectedOutput: "3", OrderIndex: 0},
				{ID: "c2", ChallengeID: "ch-1", Input: "3 4", ExpectedOutput: "7", IsHidden: true, OrderIndex: 1},
			},
		},
	}
	publisher := &fakePublisher{}

	svc, err := NewSubmitService(Config{
		Submissions: submissions,
		Challenges:  challenges,
		Queue:       q,
		Publisher:   publisher,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return &testEnv{svc: svc, submissions: submissions, challenges: challenges, publisher: publisher, queue: q, mr: mr}
}

func TestSubmitHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submission, err := env.svc.Submit(ctx, "user-1", model.RoleStudent, "ch-1", model.LanguagePython, "print(1)")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submission.Status != model.StatusQueued {
		t.Fatalf("expected QUEUED, got %s", submission.Status)
	}
	if submission.ID == "" {
		t.Fatal("submission must get an id")
	}

	stored, err := env.submissions.GetByID(ctx, nil, submission.ID)
	if err != nil {
		t.Fatalf("stored record missing: %v", err)
	}
	if stored.Status != model.StatusQueued {
		t.Fatalf("store status: %s", stored.Status)
	}

	job, err := env.queue.Dequeue(ctx, model.LanguagePython, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job == nil || job.SubmissionID != submission.ID {
		t.Fatalf("job not enqueued: %+v", job)
	}
	if job.TimeLimitMS != 1000 || job.MemoryLimitMB != 256 {
		t.Fatalf("limits not snapshotted: %+v", job)
	}
	if len(job.TestCases) != 2 || job.TestCases[1].ID != "c2" || !job.TestCases[1].IsHidden {
		t.Fatalf("test cases not snapshotted: %+v", job.TestCases)
	}

	status, err := env.queue.GetStatus(ctx, submission.ID)
	if err != nil || status != model.StatusQueued {
		t.Fatalf("status mirror: %v %s", err, status)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		userID   string
		role     string
		chID     string
		language model.Language
		code     string
		wantCode appErr.ErrorCode
	}{
		{"non-student", "u1", model.RoleProfessor, "ch-1", model.LanguagePython, "x", appErr.RoleNotAllowed},
		{"empty code", "u1", model.RoleStudent, "ch-1", model.LanguagePython, "", appErr.CodeEmpty},
		{"oversized code", "u1", model.RoleStudent, "ch-1", model.LanguagePython, strings.Repeat("x", model.MaxCodeLength+1), appErr.CodeTooLarge},
		{"bad language", "u1", model.RoleStudent, "ch-1", model.Language("ruby"), "x", appErr.LanguageNotSupported},
		{"unknown challenge", "u1", model.RoleStudent, "nope", model.LanguagePython, "x", appErr.ChallengeNotFound},
		{"draft challenge", "u1", model.RoleStudent, "ch-draft", model.LanguagePython, "x", appErr.ChallengeNotPublished},
		{"no test cases", "u1", model.RoleStudent, "ch-empty", model.LanguagePython, "x", appErr.TestCasesMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Submit(ctx, tt.userID, tt.role, tt.chID, tt.language, tt.code)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := appErr.GetCode(err); got != tt.wantCode {
				t.Fatalf("expected code %v, got %v", tt.wantCode, got)
			}
		})
	}

	if len(env.submissions.items) != 0 {
		t.Fatalf("rejected submissions must not be stored, found %d", len(env.submissions.items))
	}
	n, _ := env.queue.Length(ctx, model.LanguagePython)
	if n != 0 {
		t.Fatalf("rejected submissions must not be enqueued, found %d", n)
	}
}

func TestSubmitEnqueueFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Take the queue backend down so the enqueue fails after the record is
	// created.
	env.mr.Close()

	_, err := env.svc.Submit(ctx, "user-1", model.RoleStudent, "ch-1", model.LanguagePython, "print(1)")
	if err == nil {
		t.Fatal("expected enqueue failure")
	}
	if got := appErr.GetCode(err); got != appErr.EnqueueFailed {
		t.Fatalf("expected EnqueueFailed, got %v", got)
	}
	if len(env.submissions.items) != 0 {
		t.Fatalf("record must be rolled back, found %d", len(env.submissions.items))
	}
	if len(env.submissions.deleted) != 1 {
		t.Fatalf("expected one compensating delete, got %d", len(env.submissions.deleted))
	}
}

func TestSubmitDuplicateIDIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submissions.createErr = repository.ErrSubmissionExists

	_, err := env.svc.Submit(ctx, "user-1", model.RoleStudent, "ch-1", model.LanguagePython, "print(1)")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := appErr.GetCode(err); got != appErr.SubmissionExists {
		t.Fatalf("expected SubmissionExists, got %v", got)
	}
	n, _ := env.queue.Length(ctx, model.LanguagePython)
	if n != 0 {
		t.Fatalf("conflicting submission must not be enqueued, found %d", n)
	}
}

func TestCompletePersistsAndMirrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submission, err := env.svc.Submit(ctx, "user-1", model.RoleStudent, "ch-1", model.LanguagePython, "print(1)")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	result := &model.ExecutionResult{
		SubmissionID: submission.ID,
		Status:       model.StatusAccepted,
		Score:        100,
		Passed:       2,
		Total:        2,
		TimeMSTotal:  80,
		Cases: []model.TestCaseResult{
			{CaseID: "c1", Status: model.StatusAccepted, TimeMS: 40, OrderIndex: 0},
			{CaseID: "c2", Status: model.StatusAccepted, TimeMS: 40, OrderIndex: 1},
		},
		FinishedAt: time.Now().UTC(),
	}
	if err := env.svc.Complete(ctx, result); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stored, _ := env.submissions.GetByID(ctx, nil, submission.ID)
	if stored.Status != model.StatusAccepted || stored.Score != 100 {
		t.Fatalf("store not updated: %+v", stored)
	}

	status, err := env.queue.GetStatus(ctx, submission.ID)
	if err != nil || status != model.StatusAccepted {
		t.Fatalf("status mirror: %v %s", err, status)
	}
	mirrored, err := env.queue.GetResult(ctx, submission.ID)
	if err != nil || mirrored == nil || mirrored.Score != 100 {
		t.Fatalf("result mirror: %v %+v", err, mirrored)
	}

	if len(env.publisher.events) != 1 || env.publisher.events[0].ID != submission.ID {
		t.Fatalf("expected one final status event, got %+v", env.publisher.events)
	}
}

func TestCompleteRejectsNonTerminal(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.Complete(context.Background(), &model.ExecutionResult{
		SubmissionID: "s1",
		Status:       model.StatusRunning,
	})
	if err == nil {
		t.Fatal("expected error for non-terminal result")
	}
	if got := appErr.GetCode(err); got != appErr.SubmissionNotTerminal {
		t.Fatalf("expected SubmissionNotTerminal, got %v", got)
	}
}

func TestGetAccessControl(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submission, err := env.svc.Submit(ctx, "user-1", model.RoleStudent, "ch-1", model.LanguagePython, "print(1)")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := env.svc.Get(ctx, submission.ID, "user-1", model.RoleStudent); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := env.svc.Get(ctx, submission.ID, "user-2", model.RoleStudent); err == nil {
		t.Fatal("other student must not read")
	} else if got := appErr.GetCode(err); got != appErr.Forbidden {
		t.Fatalf("expected Forbidden, got %v", got)
	}
	if _, err := env.svc.Get(ctx, submission.ID, "admin-1", model.RoleAdmin); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if _, err := env.svc.Get(ctx, submission.ID, "prof-1", model.RoleProfessor); err != nil {
		t.Fatalf("professor read: %v", err)
	}
}

func TestGetStatusFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submission, err := env.svc.Submit(ctx, "user-1", model.RoleStudent, "ch-1", model.LanguagePython, "print(1)")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Expire the mirror; the store remains authoritative.
	env.mr.FastForward(2 * time.Hour)

	status, err := env.svc.GetStatus(ctx, submission.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status != model.StatusQueued {
		t.Fatalf("expected QUEUED from store, got %s", status)
	}
}

func TestMarkRunningUpdatesStoreAndMirror(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submission, err := env.svc.Submit(ctx, "user-1", model.RoleStudent, "ch-1", model.LanguagePython, "print(1)")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.svc.MarkRunning(ctx, submission.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	stored, _ := env.submissions.GetByID(ctx, nil, submission.ID)
	if stored.Status != model.StatusRunning {
		t.Fatalf("store status: %s", stored.Status)
	}
	status, _ := env.queue.GetStatus(ctx, submission.ID)
	if status != model.StatusRunning {
		t.Fatalf("mirror status: %s", status)
	}
}

func TestFailMarksRuntimeError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submission, err := env.svc.Submit(ctx, "user-1", model.RoleStudent, "ch-1", model.LanguagePython, "print(1)")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.svc.Fail(ctx, submission.ID, "sandbox unavailable"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	stored, _ := env.submissions.GetByID(ctx, nil, submission.ID)
	if stored.Status != model.StatusRuntimeError || stored.ErrorMessage != "sandbox unavailable" {
		t.Fatalf("store not updated: %+v", stored)
	}
	status, _ := env.queue.GetStatus(ctx, submission.ID)
	if status != model.StatusRuntimeError {
		t.Fatalf("mirror status: %s", status)
	}
}

func TestRequeue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	submission, err := env.svc.Submit(ctx, "user-1", model.RoleStudent, "ch-1", model.LanguagePython, "print(1)")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Drain the original job and strand the submission in RUNNING, as a
	// worker crash would.
	if _, err := env.queue.Dequeue(ctx, model.LanguagePython, 100*time.Millisecond); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := env.svc.MarkRunning(ctx, submission.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	if _, err := env.svc.Requeue(ctx, submission.ID, model.RoleStudent); err == nil {
		t.Fatal("students must not requeue")
	} else if got := appErr.GetCode(err); got != appErr.RoleNotAllowed {
		t.Fatalf("expected RoleNotAllowed, got %v", got)
	}

	requeued, err := env.svc.Requeue(ctx, submission.ID, model.RoleAdmin)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Status != model.StatusQueued {
		t.Fatalf("expected QUEUED, got %s", requeued.Status)
	}
	// The authoritative row must agree with the mirror while it waits again.
	stored, err := env.svc.Get(ctx, submission.ID, "user-1", model.RoleStudent)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != model.StatusQueued {
		t.Fatalf("store should read QUEUED after requeue, got %s", stored.Status)
	}
	if stored.ErrorMessage != "" {
		t.Fatalf("stale error not cleared: %q", stored.ErrorMessage)
	}

	job, err := env.queue.Dequeue(ctx, model.LanguagePython, 100*time.Millisecond)
	if err != nil || job == nil || job.SubmissionID != submission.ID {
		t.Fatalf("requeued job missing: %v %+v", err, job)
	}
}
