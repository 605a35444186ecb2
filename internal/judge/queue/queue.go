package queue

import (
	"context"
	"encoding/json"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const (
	queueKeyPrefix  = "submission_queue:"
	statusKeyPrefix = "submission_status:"
	resultKeyPrefix = "submission_result:"

	// DefaultEntryTTL bounds how long status and result keys live. The
	// database remains the authoritative record after expiry.
	DefaultEntryTTL = time.Hour

	// DefaultPollTimeout is how long a dequeue blocks before returning empty.
	DefaultPollTimeout = 5 * time.Second
)

// Service provides the language-partitioned job queues plus the low-latency
// status and result mirrors, all backed by one cache.
type Service struct {
	cache    cache.Cache
	entryTTL time.Duration
}

// NewService creates a queue service. ttl <= 0 falls back to DefaultEntryTTL.
func NewService(c cache.Cache, ttl time.Duration) (*Service, error) {
	if c == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("cache is required")
	}
	if ttl <= 0 {
		ttl = DefaultEntryTTL
	}
	return &Service{cache: c, entryTTL: ttl}, nil
}

// QueueKey returns the list key for a language queue.
func QueueKey(lang model.Language) string {
	return queueKeyPrefix + string(lang)
}

// StatusKey returns the status mirror key for a submission.
func StatusKey(submissionID string) string {
	return statusKeyPrefix + submissionID
}

// ResultKey returns the result mirror key for a submission.
func ResultKey(submissionID string) string {
	return resultKeyPrefix + submissionID
}

// Enqueue pushes a job onto its language queue and mirrors QUEUED status.
// LPUSH paired with BRPOP on the other end gives per-queue FIFO.
func (s *Service) Enqueue(ctx context.Context, job *model.Job) error {
	if job == nil {
		return appErr.ValidationError("job", "required")
	}
	if job.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !job.Language.Valid() {
		return appErr.New(appErr.LanguageNotSupported).
			WithDetail("language", string(job.Language))
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return appErr.Wrapf(err, appErr.EnqueueFailed, "encode job failed")
	}
	if err := s.cache.LPush(ctx, QueueKey(job.Language), string(payload)); err != nil {
		return appErr.Wrapf(err, appErr.EnqueueFailed, "push job failed")
	}
	if err := s.SetStatus(ctx, job.SubmissionID, model.StatusQueued); err != nil {
		return err
	}
	return nil
}

// Dequeue blocks up to timeout waiting for the next job of the given
// language. Returns (nil, nil) when the timeout elapses with no work.
func (s *Service) Dequeue(ctx context.Context, lang model.Language, timeout time.Duration) (*model.Job, error) {
	if !lang.Valid() {
		return nil, appErr.New(appErr.LanguageNotSupported).
			WithDetail("language", string(lang))
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	_, payload, err := s.cache.BRPop(ctx, timeout, QueueKey(lang))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DequeueFailed, "pop job failed")
	}
	if payload == "" {
		return nil, nil
	}
	var job model.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, appErr.Wrapf(err, appErr.DequeueFailed, "decode job failed")
	}
	return &job, nil
}

// SetStatus writes the status mirror with the configured TTL.
func (s *Service) SetStatus(ctx context.Context, submissionID string, status model.Status) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if !status.Valid() {
		return appErr.ValidationError("status", "unknown value")
	}
	if err := s.cache.Set(ctx, StatusKey(submissionID), string(status), s.entryTTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "set status failed")
	}
	return nil
}

// GetStatus reads the status mirror. Returns "" without error when the key
// is missing or expired.
func (s *Service) GetStatus(ctx context.Context, submissionID string) (model.Status, error) {
	if submissionID == "" {
		return "", appErr.ValidationError("submission_id", "required")
	}
	raw, err := s.cache.Get(ctx, StatusKey(submissionID))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "get status failed")
	}
	return model.Status(raw), nil
}

// SetResult writes the result mirror with the configured TTL.
func (s *Service) SetResult(ctx context.Context, result *model.ExecutionResult) error {
	if result == nil || result.SubmissionID == "" {
		return appErr.ValidationError("result", "required")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "encode result failed")
	}
	if err := s.cache.Set(ctx, ResultKey(result.SubmissionID), string(payload), s.entryTTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "set result failed")
	}
	return nil
}

// GetResult reads the result mirror. Returns (nil, nil) when missing.
func (s *Service) GetResult(ctx context.Context, submissionID string) (*model.ExecutionResult, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	raw, err := s.cache.Get(ctx, ResultKey(submissionID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "get result failed")
	}
	if raw == "" {
		return nil, nil
	}
	var result model.ExecutionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, appErr.Wrap(err, appErr.ResultDecodeFailed)
	}
	return &result, nil
}

// Length returns the number of queued jobs for a language.
func (s *Service) Length(ctx context.Context, lang model.Language) (int64, error) {
	if !lang.Valid() {
		return 0, appErr.New(appErr.LanguageNotSupported).
			WithDetail("language", string(lang))
	}
	n, err := s.cache.LLen(ctx, QueueKey(lang))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.QueueError, "queue length failed")
	}
	return n, nil
}

// Lengths returns the queue depth for every supported language.
func (s *Service) Lengths(ctx context.Context) (map[model.Language]int64, error) {
	out := make(map[model.Language]int64, len(model.Languages()))
	for _, lang := range model.Languages() {
		n, err := s.Length(ctx, lang)
		if err != nil {
			return nil, err
		}
		out[lang] = n
	}
	return out, nil
}

// Peek returns the next job that Dequeue would deliver without consuming
// it. Returns (nil, nil) when the queue is empty.
func (s *Service) Peek(ctx context.Context, lang model.Language) (*model.Job, error) {
	if !lang.Valid() {
		return nil, appErr.New(appErr.LanguageNotSupported).
			WithDetail("language", string(lang))
	}
	// BRPop consumes from the tail, so the tail element is next.
	items, err := s.cache.LRange(ctx, QueueKey(lang), -1, -1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.QueueError, "peek failed")
	}
	if len(items) == 0 {
		return nil, nil
	}
	var job model.Job
	if err := json.Unmarshal([]byte(items[0]), &job); err != nil {
		return nil, appErr.Wrapf(err, appErr.QueueError, "decode job failed")
	}
	return &job, nil
}

// Ping verifies the backing cache connection.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.cache.Ping(ctx); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "queue ping failed")
	}
	return nil
}
