package model

import "time"

// Status is the lifecycle state of a submission. Terminal states carry the
// verdict of the run.
type Status string

const (
	StatusQueued            Status = "QUEUED"
	StatusRunning           Status = "RUNNING"
	StatusAccepted          Status = "ACCEPTED"
	StatusWrongAnswer       Status = "WRONG_ANSWER"
	StatusTimeLimitExceeded Status = "TIME_LIMIT_EXCEEDED"
	StatusRuntimeError      Status = "RUNTIME_ERROR"
	StatusCompilationError  Status = "COMPILATION_ERROR"
)

// IsTerminal reports whether the status is a final verdict.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusTimeLimitExceeded,
		StatusRuntimeError, StatusCompilationError:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning:
		return true
	}
	return s.IsTerminal()
}

// Language identifies a supported programming language. Each language owns
// one job queue and one worker process.
type Language string

const (
	LanguagePython Language = "python"
	LanguageJava   Language = "java"
	LanguageNodeJS Language = "nodejs"
	LanguageCPP    Language = "cpp"
)

// Languages lists all supported languages in a stable order.
func Languages() []Language {
	return []Language{LanguagePython, LanguageJava, LanguageNodeJS, LanguageCPP}
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	switch l {
	case LanguagePython, LanguageJava, LanguageNodeJS, LanguageCPP:
		return true
	}
	return false
}

// User roles.
const (
	RoleStudent   = "STUDENT"
	RoleProfessor = "PROFESSOR"
	RoleAdmin     = "ADMIN"
)

// MaxCodeLength is the maximum accepted source length in characters.
const MaxCodeLength = 10000

// Submission is one attempt at a challenge.
type Submission struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ChallengeID  string    `json:"challenge_id"`
	Language     Language  `json:"language"`
	Code         string    `json:"code"`
	Status       Status    `json:"status"`
	Score        int       `json:"score"`
	TimeMSTotal  int64     `json:"time_ms_total"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Cases        []CaseRow `json:"cases,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CaseRow is the persisted outcome of a single test case run.
type CaseRow struct {
	CaseID         string `json:"case_id"`
	Status         Status `json:"status"`
	TimeMS         int64  `json:"time_ms"`
	MemoryMB       int64  `json:"memory_mb"`
	Output         string `json:"output,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	OrderIndex     int    `json:"order_index"`
}
