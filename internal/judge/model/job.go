package model

import "time"

// Job is the self-contained payload placed on a language queue. It carries
// everything a worker needs, including a snapshot of the challenge's test
// cases taken at enqueue time, so later edits to the challenge do not
// affect in-flight work.
type Job struct {
	SubmissionID  string         `json:"submission_id"`
	UserID        string         `json:"user_id"`
	ChallengeID   string         `json:"challenge_id"`
	Language      Language       `json:"language"`
	Code          string         `json:"code"`
	TimeLimitMS   int64          `json:"time_limit_ms"`
	MemoryLimitMB int64          `json:"memory_limit_mb"`
	TestCases     []CaseSnapshot `json:"test_cases"`
	EnqueuedAt    time.Time      `json:"enqueued_at"`
}

// CaseSnapshot is a test case frozen into a job payload.
type CaseSnapshot struct {
	ID             string `json:"id"`
	Input          string `json:"input,omitempty"`
	ExpectedOutput string `json:"expected_output"`
	IsHidden       bool   `json:"is_hidden"`
	OrderIndex     int    `json:"order_index"`
}
