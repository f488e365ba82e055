package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Judger node & registry errors
// 12000-12999: Dispatch & queue errors
// 13000-13999: Judge execution errors

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
	ServiceUnavailable  ErrorCode = 10006
	Timeout             ErrorCode = 10007
	ConfigError         ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Storage errors (10200-10299)
	StorageError  ErrorCode = 10200
	BlobNotFound  ErrorCode = 10201
	BlobReadError ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10302

	// ========== Judger Node & Registry Errors (11000-11999) ==========

	// Authentication (11000-11099)
	NodeAuthFailed        ErrorCode = 11000
	NodeNotFound          ErrorCode = 11001
	NodeDisabled          ErrorCode = 11002
	NodeDeleted           ErrorCode = 11003
	TokenExpired          ErrorCode = 11004
	TokenInvalid          ErrorCode = 11005
	TokenGenerationFailed ErrorCode = 11006

	// Registration & lifecycle (11100-11199)
	NodeNameAlreadyExists ErrorCode = 11100
	NodeRegisterFailed    ErrorCode = 11101
	NodeUpdateFailed      ErrorCode = 11102

	// Capacity bookkeeping (11200-11299)
	NodeAtCapacity ErrorCode = 11200
	NodeOffline    ErrorCode = 11201

	// ========== Dispatch & Queue Errors (12000-12999) ==========

	// Enqueue (12000-12099)
	SubmissionNotFound   ErrorCode = 12000
	ProblemNotFound      ErrorCode = 12001
	TestCaseNotFound     ErrorCode = 12002
	EnqueueFailed        ErrorCode = 12003
	LanguageNotSupported ErrorCode = 12004

	// Assignment (12100-12199)
	TaskNotInFlight   ErrorCode = 12100
	TaskRetryExceeded ErrorCode = 12101

	// ========== Judge Execution Errors (13000-13999) ==========

	// Pipeline (13000-13099)
	JudgeSystemError    ErrorCode = 13000
	CompilationError    ErrorCode = 13001
	RuntimeError        ErrorCode = 13002
	TimeLimitExceeded   ErrorCode = 13003
	MemoryLimitExceeded ErrorCode = 13004
	OutputLimitExceeded ErrorCode = 13005
	CheckerFailed       ErrorCode = 13006

	// Sandbox (13100-13199)
	SandboxUnavailable ErrorCode = 13100
	SandboxSetupFailed ErrorCode = 13101
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
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	ConfigError:         "Invalid configuration",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Storage
	StorageError:  "Storage operation failed",
	BlobNotFound:  "Blob not found",
	BlobReadError: "Failed to read blob",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Node - Authentication
	NodeAuthFailed:        "Invalid judger id or secret",
	NodeNotFound:          "Judger node not found",
	NodeDisabled:          "Judger node is disabled",
	NodeDeleted:           "Judger node has been removed",
	TokenExpired:          "Token has expired",
	TokenInvalid:          "Invalid token",
	TokenGenerationFailed: "Failed to generate token",

	// Node - Registration & lifecycle
	NodeNameAlreadyExists: "Judger name already exists",
	NodeRegisterFailed:    "Failed to register judger node",
	NodeUpdateFailed:      "Failed to update judger node",

	// Node - Capacity
	NodeAtCapacity: "Judger node is at capacity",
	NodeOffline:    "Judger node is offline",

	// Dispatch
	SubmissionNotFound:   "Submission not found",
	ProblemNotFound:      "Problem not found",
	TestCaseNotFound:     "Test case not found",
	EnqueueFailed:        "Failed to enqueue judge task",
	LanguageNotSupported: "Programming language not supported",

	// Assignment
	TaskNotInFlight:   "Task is not in flight",
	TaskRetryExceeded: "Task retry limit exceeded",

	// Judge
	JudgeSystemError:    "Judge system error",
	CompilationError:    "Compilation error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	MemoryLimitExceeded: "Memory limit exceeded",
	OutputLimitExceeded: "Output limit exceeded",
	CheckerFailed:       "Checker execution failed",

	// Sandbox
	SandboxUnavailable: "No sandbox backend available",
	SandboxSetupFailed: "Sandbox setup failed",
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
	case c >= 11000 && c < 11100: // Node authentication errors
		return 401
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == NodeNotFound, c == SubmissionNotFound, c == ProblemNotFound:
		return 404
	case c == NodeNameAlreadyExists, c == RecordAlreadyExists:
		return 409
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
