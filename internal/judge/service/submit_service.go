package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/queue"
	"codejudge/internal/judge/repository"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
)

const defaultOpTimeout = 10 * time.Second

// Config wires the submission use-case.
type Config struct {
	Submissions repository.SubmissionRepository
	Challenges  repository.ChallengeRepository
	Queue       *queue.Service

	// Publisher is optional; when set, terminal verdicts are announced on
	// the broker best-effort.
	Publisher repository.StatusEventPublisher

	// OpTimeout bounds each store or queue operation.
	OpTimeout time.Duration
}

// SubmitService validates submissions, hands them to the language queues,
// and applies worker results back to the store.
type SubmitService struct {
	submissions repository.SubmissionRepository
	challenges  repository.ChallengeRepository
	queue       *queue.Service
	publisher   repository.StatusEventPublisher
	opTimeout   time.Duration
}

// NewSubmitService validates dependencies and creates the service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Submissions == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("submission repository is required")
	}
	if cfg.Challenges == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("challenge repository is required")
	}
	if cfg.Queue == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("queue service is required")
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	return &SubmitService{
		submissions: cfg.Submissions,
		challenges:  cfg.Challenges,
		queue:       cfg.Queue,
		publisher:   cfg.Publisher,
		opTimeout:   cfg.OpTimeout,
	}, nil
}

// Submit validates a submission request, creates the QUEUED record, and
// enqueues a job carrying a snapshot of the challenge's test cases. When the
// enqueue fails the record is deleted again so no orphaned QUEUED submission
// remains.
func (s *SubmitService) Submit(ctx context.Context, userID, role, challengeID string, language model.Language, code string) (*model.Submission, error) {
	if userID == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if role != model.RoleStudent {
		return nil, appErr.New(appErr.RoleNotAllowed).WithMessage("only students can submit solutions")
	}
	if challengeID == "" {
		return nil, appErr.ValidationError("challenge_id", "required")
	}
	if !language.Valid() {
		return nil, appErr.New(appErr.LanguageNotSupported).WithDetail("language", string(language))
	}
	if code == "" {
		return nil, appErr.New(appErr.CodeEmpty)
	}
	if len(code) > model.MaxCodeLength {
		return nil, appErr.New(appErr.CodeTooLarge).
			WithDetail("length", len(code)).
			WithDetail("max", model.MaxCodeLength)
	}

	challenge, err := s.getChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge.Status != model.ChallengePublished {
		return nil, appErr.New(appErr.ChallengeNotPublished).WithDetail("challenge_id", challengeID)
	}

	testCases, err := s.listTestCases(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if len(testCases) == 0 {
		return nil, appErr.New(appErr.TestCasesMissing).WithDetail("challenge_id", challengeID)
	}

	now := time.Now().UTC()
	submission := &model.Submission{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChallengeID: challengeID,
		Language:    language,
		Code:        code,
		Status:      model.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.createSubmission(ctx, submission); err != nil {
		if errors.Is(err, repository.ErrSubmissionExists) {
			return nil, appErr.New(appErr.SubmissionExists).WithDetail("submission_id", submission.ID)
		}
		return nil, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}

	job := buildJob(submission, challenge, testCases, now)
	if err := s.enqueue(ctx, job); err != nil {
		// Compensate: the record must not linger as a QUEUED submission no
		// worker will ever pick up.
		s.deleteSubmission(ctx, submission.ID)
		return nil, appErr.Wrapf(err, appErr.EnqueueFailed, "enqueue submission failed")
	}

	logger.Info(ctx, "submission enqueued",
		zap.String("submission_id", submission.ID),
		zap.String("challenge_id", challengeID),
		zap.String("language", string(language)))
	return submission, nil
}

// Get returns the full submission record. Only the owner, admins, and
// professors may read it.
func (s *SubmitService) Get(ctx context.Context, id, callerID, callerRole string) (*model.Submission, error) {
	if id == "" {
		return nil, appErr.ValidationError("id", "required")
	}
	submission, err := s.getSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if submission.UserID != callerID && callerRole != model.RoleAdmin && callerRole != model.RoleProfessor {
		return nil, appErr.New(appErr.Forbidden).WithMessage("not allowed to view this submission")
	}
	return submission, nil
}

// ListByUser returns the caller's submissions, newest first.
func (s *SubmitService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Submission, error) {
	if userID == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	submissions, err := s.submissions.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	return submissions, nil
}

// GetStatus reads the low-latency queue mirror first and falls back to the
// store when the mirror has expired. The store is authoritative.
func (s *SubmitService) GetStatus(ctx context.Context, id string) (model.Status, error) {
	if id == "" {
		return "", appErr.ValidationError("id", "required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	status, err := s.queue.GetStatus(ctx, id)
	if err == nil && status != "" {
		return status, nil
	}
	if err != nil {
		logger.Warn(ctx, "status mirror read failed, falling back to store",
			zap.String("submission_id", id), zap.Error(err))
	}
	submission, err := s.getSubmission(ctx, id)
	if err != nil {
		return "", err
	}
	return submission.Status, nil
}

// MarkRunning transitions a submission to RUNNING in the store and the
// status mirror, in that order; the store is authoritative.
func (s *SubmitService) MarkRunning(ctx context.Context, id string) error {
	if id == "" {
		return appErr.ValidationError("id", "required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.submissions.MarkRunning(ctx, id); err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", id)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "mark running failed")
	}
	if err := s.queue.SetStatus(ctx, id, model.StatusRunning); err != nil {
		logger.Warn(ctx, "status mirror update failed",
			zap.String("submission_id", id), zap.Error(err))
	}
	return nil
}

// Complete applies a terminal result: store first, then the result and
// status mirrors, then a best-effort broker event.
func (s *SubmitService) Complete(ctx context.Context, result *model.ExecutionResult) error {
	if result == nil || result.SubmissionID == "" {
		return appErr.ValidationError("result", "required")
	}
	if !result.Status.IsTerminal() {
		return appErr.New(appErr.SubmissionNotTerminal).WithDetail("status", string(result.Status))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.submissions.Complete(ctx, result); err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", result.SubmissionID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "persist result failed")
	}

	if err := s.queue.SetResult(ctx, result); err != nil {
		logger.Warn(ctx, "result mirror update failed",
			zap.String("submission_id", result.SubmissionID), zap.Error(err))
	}
	if err := s.queue.SetStatus(ctx, result.SubmissionID, result.Status); err != nil {
		logger.Warn(ctx, "status mirror update failed",
			zap.String("submission_id", result.SubmissionID), zap.Error(err))
	}

	s.publishFinal(ctx, result)
	return nil
}

// Fail marks a submission RUNTIME_ERROR after a pipeline failure. Mirror
// updates are best-effort; the caller already is in a failure path.
func (s *SubmitService) Fail(ctx context.Context, id, message string) error {
	if id == "" {
		return appErr.ValidationError("id", "required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.submissions.MarkFailed(ctx, id, message); err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", id)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "mark failed failed")
	}
	if err := s.queue.SetStatus(ctx, id, model.StatusRuntimeError); err != nil {
		logger.Warn(ctx, "status mirror update failed",
			zap.String("submission_id", id), zap.Error(err))
	}
	return nil
}

// Requeue puts a submission back on its language queue with a fresh test
// case snapshot. Restricted to admins and professors; intended for
// submissions stranded by a worker crash.
func (s *SubmitService) Requeue(ctx context.Context, id, callerRole string) (*model.Submission, error) {
	if id == "" {
		return nil, appErr.ValidationError("id", "required")
	}
	if callerRole != model.RoleAdmin && callerRole != model.RoleProfessor {
		return nil, appErr.New(appErr.RoleNotAllowed).WithMessage("only admins and professors can requeue")
	}

	submission, err := s.getSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	challenge, err := s.getChallenge(ctx, submission.ChallengeID)
	if err != nil {
		return nil, err
	}
	testCases, err := s.listTestCases(ctx, submission.ChallengeID)
	if err != nil {
		return nil, err
	}
	if len(testCases) == 0 {
		return nil, appErr.New(appErr.TestCasesMissing).WithDetail("challenge_id", submission.ChallengeID)
	}

	now := time.Now().UTC()
	job := buildJob(submission, challenge, testCases, now)

	// Reset the authoritative row before the job becomes visible so the
	// store and the mirror agree while the submission waits again.
	if err := s.markQueued(ctx, id); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, job); err != nil {
		return nil, appErr.Wrapf(err, appErr.EnqueueFailed, "requeue submission failed")
	}
	submission.Status = model.StatusQueued
	submission.ErrorMessage = ""

	logger.Info(ctx, "submission requeued",
		zap.String("submission_id", id),
		zap.String("language", string(submission.Language)))
	return submission, nil
}

func (s *SubmitService) publishFinal(ctx context.Context, result *model.ExecutionResult) {
	if s.publisher == nil {
		return
	}
	submission, err := s.getSubmission(ctx, result.SubmissionID)
	if err != nil {
		logger.Warn(ctx, "load submission for status event failed",
			zap.String("submission_id", result.SubmissionID), zap.Error(err))
		return
	}
	if err := s.publisher.PublishFinalStatus(ctx, submission); err != nil {
		logger.Warn(ctx, "publish status event failed",
			zap.String("submission_id", result.SubmissionID), zap.Error(err))
	}
}

func (s *SubmitService) getChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	challenge, err := s.challenges.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return nil, appErr.New(appErr.ChallengeNotFound).WithDetail("challenge_id", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load challenge failed")
	}
	return challenge, nil
}

func (s *SubmitService) listTestCases(ctx context.Context, challengeID string) ([]model.TestCase, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	testCases, err := s.challenges.ListTestCases(ctx, nil, challengeID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load test cases failed")
	}
	return testCases, nil
}

func (s *SubmitService) getSubmission(ctx context.Context, id string) (*model.Submission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	submission, err := s.submissions.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	return submission, nil
}

func (s *SubmitService) markQueued(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.submissions.MarkQueued(ctx, id); err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", id)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "mark queued failed")
	}
	return nil
}

func (s *SubmitService) createSubmission(ctx context.Context, submission *model.Submission) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.submissions.Create(ctx, nil, submission)
}

func (s *SubmitService) deleteSubmission(ctx context.Context, id string) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.submissions.Delete(ctx, nil, id); err != nil {
		logger.Error(ctx, "compensating delete failed",
			zap.String("submission_id", id), zap.Error(err))
	}
}

func (s *SubmitService) enqueue(ctx context.Context, job *model.Job) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.queue.Enqueue(ctx, job)
}

func (s *SubmitService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func buildJob(submission *model.Submission, challenge *model.Challenge, testCases []model.TestCase, enqueuedAt time.Time) *model.Job {
	snapshots := make([]model.CaseSnapshot, 0, len(testCases))
	for _, tc := range testCases {
		snapshots = append(snapshots, model.CaseSnapshot{
			ID:             tc.ID,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			IsHidden:       tc.IsHidden,
			OrderIndex:     tc.OrderIndex,
		})
	}
	return &model.Job{
		SubmissionID:  submission.ID,
		UserID:        submission.UserID,
		ChallengeID:   submission.ChallengeID,
		Language:      submission.Language,
		Code:          submission.Code,
		TimeLimitMS:   challenge.TimeLimitMS,
		MemoryLimitMB: challenge.MemoryLimitMB,
		TestCases:     snapshots,
		EnqueuedAt:    enqueuedAt,
	}
}
