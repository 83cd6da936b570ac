package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// InputError indicates the subjects file could not be read or is empty
	InputError ErrorCode = "INPUT_ERROR"
	// BackendError indicates a single history query failed
	BackendError ErrorCode = "BACKEND_ERROR"
	// BackendUnavailable indicates the history backend cannot be reached at all
	BackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// Timeout indicates a history query timed out
	Timeout ErrorCode = "TIMEOUT"
	// ConfigInvalid indicates the effective configuration is unusable
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// StoreError indicates the run history database failed
	StoreError ErrorCode = "STORE_ERROR"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// Error represents a fixhunt error with code, message, and suggestions
type Error struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new Error
func New(code ErrorCode, message string, cause error, suggestedFixes []FixAction) *Error {
	return &Error{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: suggestedFixes,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or
// InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// exitCodes maps run-aborting error codes to process exit statuses.
var exitCodes = map[ErrorCode]int{
	InputError:         2,
	ConfigInvalid:      3,
	BackendUnavailable: 4,
	StoreError:         5,
}

// ExitCode extracts a process exit status from err, defaulting to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[CodeOf(err)]; ok {
		return code
	}
	return 1
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	InputError: {
		{
			Type:        RunCommand,
			Command:     "head -n 5 ${subjects_file}",
			Safe:        true,
			Description: "Check the subjects file exists and holds one subject per line",
		},
	},
	BackendUnavailable: {
		{
			Type:        RunCommand,
			Command:     "git -C ${repo} rev-parse --git-dir",
			Safe:        true,
			Description: "Verify the path is a git repository",
		},
		{
			Type:        RunCommand,
			Command:     "fixhunt --backend=gogit ...",
			Safe:        true,
			Description: "Use the built-in repository reader when git is not installed",
		},
	},
	Timeout: {
		{
			Type:        RunCommand,
			Command:     "fixhunt --since=\"2 years ago\" ...",
			Safe:        true,
			Description: "Narrow the time window or raise backend.timeoutMs",
		},
	},
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "fixhunt config",
			Safe:        true,
			Description: "Print the effective configuration",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
