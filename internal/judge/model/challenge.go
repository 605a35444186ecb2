package model

// ChallengeStatus is the publication state of a challenge.
type ChallengeStatus string

const (
	ChallengeDraft     ChallengeStatus = "DRAFT"
	ChallengePublished ChallengeStatus = "PUBLISHED"
	ChallengeArchived  ChallengeStatus = "ARCHIVED"
)

// Challenge is a programming problem with resource limits shared by all of
// its test cases.
type Challenge struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Difficulty    string          `json:"difficulty"`
	TimeLimitMS   int64           `json:"time_limit_ms"`
	MemoryLimitMB int64           `json:"memory_limit_mb"`
	Status        ChallengeStatus `json:"status"`
}

// TestCase is one input/expected-output pair of a challenge.
type TestCase struct {
	ID             string `json:"id"`
	ChallengeID    string `json:"challenge_id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	IsHidden       bool   `json:"is_hidden"`
	OrderIndex     int    `json:"order_index"`
}
