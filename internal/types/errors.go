package types

import "errors"

// Error taxonomy for the curation engine. Call sites wrap these with
// fmt.Errorf("context: %w", Err...) so errors.Is works at decision points.
var (
	// ErrIo marks filesystem, lock, and tempfile failures.
	ErrIo = errors.New("io error")

	// ErrParse marks YAML/JSON/JSONL decode failures.
	ErrParse = errors.New("parse error")

	// ErrSchema marks a post-parse invariant violation.
	ErrSchema = errors.New("schema error")

	// ErrToolUnavailable marks a missing history binary; always recoverable.
	ErrToolUnavailable = errors.New("history tool unavailable")

	// ErrToolFailure marks a non-zero exit, timeout, or buffer overflow from
	// the history binary.
	ErrToolFailure = errors.New("history tool failure")

	// ErrOracleFailure marks a failed or malformed extraction call.
	ErrOracleFailure = errors.New("oracle failure")

	// ErrValidation marks invalid user input; commands map it to the
	// INVALID_INPUT envelope and exit code 2.
	ErrValidation = errors.New("validation failure")

	// ErrConfig marks a config merge or validation failure.
	ErrConfig = errors.New("config error")
)
