// Package worker runs the per-language judging loop: one process drains one
// language queue and drives each job through the executor.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
)

const (
	// DefaultPollTimeout bounds one blocking dequeue.
	DefaultPollTimeout = 5 * time.Second

	// dequeueBackoff throttles the loop when the queue backend is failing,
	// so a Redis outage does not turn into a hot loop.
	dequeueBackoff = time.Second
)

// JobQueue is the dequeue side of the language queues.
type JobQueue interface {
	Dequeue(ctx context.Context, lang model.Language, timeout time.Duration) (*model.Job, error)
}

// CaseExecutor judges one job.
type CaseExecutor interface {
	Execute(ctx context.Context, job *model.Job) (*model.ExecutionResult, error)
}

// SubmissionStore applies lifecycle transitions to the authoritative store
// and its queue mirrors.
type SubmissionStore interface {
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, result *model.ExecutionResult) error
	Fail(ctx context.Context, id, message string) error
}

// Config wires one worker.
type Config struct {
	Language    model.Language
	Queue       JobQueue
	Executor    CaseExecutor
	Store       SubmissionStore
	PollTimeout time.Duration
}

// Worker drains one language queue. Job failures never stop the loop; only
// context cancellation does.
type Worker struct {
	language    model.Language
	queue       JobQueue
	executor    CaseExecutor
	store       SubmissionStore
	pollTimeout time.Duration
}

// New validates dependencies and creates a worker.
func New(cfg Config) (*Worker, error) {
	if !cfg.Language.Valid() {
		return nil, appErr.New(appErr.WorkerLanguageError).
			WithDetail("language", string(cfg.Language))
	}
	if cfg.Queue == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("job queue is required")
	}
	if cfg.Executor == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("executor is required")
	}
	if cfg.Store == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("submission store is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Worker{
		language:    cfg.Language,
		queue:       cfg.Queue,
		executor:    cfg.Executor,
		store:       cfg.Store,
		pollTimeout: cfg.PollTimeout,
	}, nil
}

// Run blocks draining the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info(ctx, "worker started", zap.String("language", string(w.language)))
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "worker stopping", zap.String("language", string(w.language)))
			return ctx.Err()
		default:
		}

		job, err := w.queue.Dequeue(ctx, w.language, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error(ctx, "dequeue failed",
				zap.String("language", string(w.language)), zap.Error(err))
			sleepCtx(ctx, dequeueBackoff)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

// process drives one job end to end. Every failure path converges on a
// best-effort RUNTIME_ERROR so the submission never silently disappears.
func (w *Worker) process(ctx context.Context, job *model.Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic while judging",
				zap.String("submission_id", job.SubmissionID),
				zap.Any("panic", r))
			w.fail(ctx, job.SubmissionID, fmt.Sprintf("internal judge failure: %v", r))
		}
	}()

	logger.Info(ctx, "job dequeued",
		zap.String("submission_id", job.SubmissionID),
		zap.String("language", string(job.Language)),
		zap.Int("test_cases", len(job.TestCases)))

	if err := w.store.MarkRunning(ctx, job.SubmissionID); err != nil {
		if appErr.GetCode(err) == appErr.SubmissionNotFound {
			// The record was deleted after enqueue; nothing to judge.
			logger.Warn(ctx, "submission vanished, dropping job",
				zap.String("submission_id", job.SubmissionID))
			return
		}
		logger.Error(ctx, "mark running failed",
			zap.String("submission_id", job.SubmissionID), zap.Error(err))
		w.fail(ctx, job.SubmissionID, "judge could not start: "+err.Error())
		return
	}

	if job.Language != w.language {
		logger.Error(ctx, "job routed to wrong worker",
			zap.String("submission_id", job.SubmissionID),
			zap.String("job_language", string(job.Language)),
			zap.String("worker_language", string(w.language)))
		w.fail(ctx, job.SubmissionID,
			fmt.Sprintf("job for %s routed to %s worker", job.Language, w.language))
		return
	}

	result, err := w.executor.Execute(ctx, job)
	if err != nil {
		logger.Error(ctx, "execution failed",
			zap.String("submission_id", job.SubmissionID), zap.Error(err))
		w.fail(ctx, job.SubmissionID, "execution failed: "+err.Error())
		return
	}

	if err := w.store.Complete(ctx, result); err != nil {
		logger.Error(ctx, "persist result failed",
			zap.String("submission_id", job.SubmissionID), zap.Error(err))
		w.fail(ctx, job.SubmissionID, "persist result failed: "+err.Error())
		return
	}

	logger.Info(ctx, "job finished",
		zap.String("submission_id", job.SubmissionID),
		zap.String("status", string(result.Status)),
		zap.Int("score", result.Score),
		zap.Int64("time_ms_total", result.TimeMSTotal))
}

// fail is best effort: when even the failure write fails the submission
// stays in RUNNING and is left to an operator requeue.
func (w *Worker) fail(ctx context.Context, submissionID, message string) {
	if err := w.store.Fail(ctx, submissionID, message); err != nil {
		logger.Error(ctx, "mark failed failed, submission left in RUNNING",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
