// Package errors provides structured error handling for mongomaint.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: State and report file errors (checkpoint, backup, logs)
//   - 3XX: Server errors (connectivity, commands, topology)
//   - 4XX: Index verification errors
//   - 5XX: Internal errors
//   - 6XX: User decisions
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryState indicates checkpoint and report file I/O errors.
	CategoryState Category = "STATE"
	// CategoryServer indicates MongoDB connectivity and command errors.
	CategoryServer Category = "SERVER"
	// CategoryVerify indicates index verification errors.
	CategoryVerify Category = "VERIFY"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryUser indicates errors caused by a user decision.
	CategoryUser Category = "USER"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// State errors (200-299)
	ErrCodeStateRead    = "ERR_201_STATE_READ"
	ErrCodeStateWrite   = "ERR_202_STATE_WRITE"
	ErrCodeBackupWrite  = "ERR_203_BACKUP_WRITE"
	ErrCodeStateCorrupt = "ERR_204_STATE_CORRUPT"

	// Server errors (300-399)
	ErrCodeConnect            = "ERR_301_CONNECT"
	ErrCodeCommand            = "ERR_302_COMMAND"
	ErrCodeStepDown           = "ERR_303_STEPDOWN"
	ErrCodeUnsupportedVersion = "ERR_304_UNSUPPORTED_VERSION"
	ErrCodeNotReplicaSet      = "ERR_305_NOT_REPLICA_SET"

	// Verification errors (400-499)
	ErrCodeIndexMismatch = "ERR_401_INDEX_MISMATCH"
	ErrCodeIndexBuilding = "ERR_402_INDEX_BUILDING"
	ErrCodeIndexMissing  = "ERR_403_INDEX_MISSING"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeRetryExhausted = "ERR_502_RETRY_EXHAUSTED"

	// User decisions (600-699)
	ErrCodeUserAbort = "ERR_601_USER_ABORT"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion (e.g., "201" from "ERR_201_STATE_READ")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryState
	case '3':
		return CategoryServer
	case '4':
		return CategoryVerify
	case '6':
		return CategoryUser
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Errors that make it unsafe or pointless to continue the run.
	switch code {
	case ErrCodeStateWrite, ErrCodeStateCorrupt, ErrCodeConnect,
		ErrCodeUnsupportedVersion, ErrCodeNotReplicaSet:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeCommand, ErrCodeStepDown, ErrCodeIndexBuilding:
		return true
	default:
		return false
	}
}
