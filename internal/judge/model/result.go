package model

import "time"

// TestCaseResult is the outcome of running one test case in the sandbox.
type TestCaseResult struct {
	CaseID         string `json:"case_id"`
	Status         Status `json:"status"`
	TimeMS         int64  `json:"time_ms"`
	MemoryMB       int64  `json:"memory_mb"`
	Output         string `json:"output,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	OrderIndex     int    `json:"order_index"`
}

// ExecutionResult aggregates all test case results of a submission into a
// final verdict.
type ExecutionResult struct {
	SubmissionID string           `json:"submission_id"`
	Status       Status           `json:"status"`
	Score        int              `json:"score"`
	Passed       int              `json:"passed"`
	Total        int              `json:"total"`
	TimeMSTotal  int64            `json:"time_ms_total"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Cases        []TestCaseResult `json:"cases"`
	FinishedAt   time.Time        `json:"finished_at"`
}

// StatusEvent is published to the broker when a submission reaches a
// terminal verdict, for downstream consumers such as leaderboard recompute.
type StatusEvent struct {
	Type         string `json:"type"`
	SubmissionID string `json:"submission_id"`
	UserID       string `json:"user_id"`
	ChallengeID  string `json:"challenge_id"`
	Status       Status `json:"status"`
	Score        int    `json:"score"`
	CreatedAt    int64  `json:"created_at"`
}

// StatusEventFinal marks the terminal-verdict event type.
const StatusEventFinal = "final"
