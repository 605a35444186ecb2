package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth & Identity errors
// 12000-12999: Challenge module errors
// 13000-13999: Submission & Judge module errors
// 14000-14999: Sandbox & Worker errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10102

	// Cache & queue errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheSetFailed ErrorCode = 10201
	QueueError     ErrorCode = 10202
	EnqueueFailed  ErrorCode = 10203
	DequeueFailed  ErrorCode = 10204

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Auth & Identity Errors (11000-11999) ==========

	TokenExpired   ErrorCode = 11000
	TokenInvalid   ErrorCode = 11001
	RoleNotAllowed ErrorCode = 11002
	UserNotFound   ErrorCode = 11003

	// ========== Challenge Module Errors (12000-12999) ==========

	ChallengeNotFound     ErrorCode = 12000
	ChallengeNotPublished ErrorCode = 12001
	TestCasesMissing      ErrorCode = 12002

	// ========== Submission & Judge Module Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	CodeEmpty              ErrorCode = 13003
	LanguageNotSupported   ErrorCode = 13004
	SubmissionNotTerminal  ErrorCode = 13005
	SubmissionExists       ErrorCode = 13006

	// Judge (13100-13199)
	JudgeSystemError   ErrorCode = 13100
	CompilationFailed  ErrorCode = 13101
	ForbiddenImport    ErrorCode = 13102
	ResultDecodeFailed ErrorCode = 13103

	// ========== Sandbox & Worker Errors (14000-14999) ==========

	SandboxError         ErrorCode = 14000
	SandboxImageMissing  ErrorCode = 14001
	SandboxStartFailed   ErrorCode = 14002
	WorkerLanguageError  ErrorCode = 14100
	WorkerSpawnFailed    ErrorCode = 14101
	WorkerShutdownFailed ErrorCode = 14102
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:     "Database operation failed",
	RecordNotFound:    "Record not found in database",
	TransactionFailed: "Database transaction failed",

	// Cache & queue
	CacheError:     "Cache operation failed",
	CacheSetFailed: "Failed to set cache",
	QueueError:     "Queue operation failed",
	EnqueueFailed:  "Failed to enqueue job",
	DequeueFailed:  "Failed to dequeue job",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Auth & Identity
	TokenExpired:   "Token has expired",
	TokenInvalid:   "Invalid token",
	RoleNotAllowed: "Role is not allowed to perform this action",
	UserNotFound:   "User not found",

	// Challenge
	ChallengeNotFound:     "Challenge not found",
	ChallengeNotPublished: "Challenge is not published",
	TestCasesMissing:      "Challenge has no test cases",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	CodeEmpty:              "Code must not be empty",
	LanguageNotSupported:   "Programming language not supported",
	SubmissionNotTerminal:  "Submission has not finished judging",
	SubmissionExists:       "Submission already exists",

	// Judge
	JudgeSystemError:   "Judge system error",
	CompilationFailed:  "Compilation failed",
	ForbiddenImport:    "Code uses a forbidden module",
	ResultDecodeFailed: "Failed to decode execution result",

	// Sandbox & Worker
	SandboxError:         "Sandbox execution failed",
	SandboxImageMissing:  "Sandbox image is not available",
	SandboxStartFailed:   "Failed to start sandbox container",
	WorkerLanguageError:  "Worker received a job for another language",
	WorkerSpawnFailed:    "Failed to spawn worker process",
	WorkerShutdownFailed: "Failed to stop worker process",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == RoleNotAllowed:
		return 403
	case c == NotFound, c == UserNotFound, c == ChallengeNotFound, c == SubmissionNotFound:
		return 404
	case c == SubmissionExists:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == CodeEmpty,
		c == LanguageNotSupported, c == ChallengeNotPublished, c == TestCasesMissing:
		return 400
	default:
		return 500
	}
}
