package game

import "fmt"

// Code classifies session errors.
type Code string

const (
	// CodeValidation: command not valid for the current phase. Treated as a no-op.
	CodeValidation Code = "VALIDATION"
	// CodePipelineOrder: stage event that does not match the expected stage. Discarded.
	CodePipelineOrder Code = "PIPELINE_ORDER"
	// CodeVerificationFailure: the verifier rejected a proof or a stage failed.
	CodeVerificationFailure Code = "VERIFICATION_FAILURE"
	// CodePersistenceCorruption: a snapshot could not be decoded. Treated as absent.
	CodePersistenceCorruption Code = "PERSISTENCE_CORRUPTION"
	// CodeLedgerInvariant: a second debit or credit for the same session.
	CodeLedgerInvariant Code = "LEDGER_INVARIANT_VIOLATION"
)

// Error is a coded session error. errors.Is matches on Code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrValidation            = &Error{Code: CodeValidation, Message: "invalid command"}
	ErrPipelineOrder         = &Error{Code: CodePipelineOrder, Message: "out-of-order stage event"}
	ErrVerificationFailure   = &Error{Code: CodeVerificationFailure, Message: "verification failed"}
	ErrPersistenceCorruption = &Error{Code: CodePersistenceCorruption, Message: "corrupt snapshot"}
	ErrLedgerInvariant       = &Error{Code: CodeLedgerInvariant, Message: "ledger invariant violation"}
)

// Errorf builds a coded error.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func invalid(format string, args ...any) error {
	return Errorf(CodeValidation, format, args...)
}

func outOfOrder(format string, args ...any) error {
	return Errorf(CodePipelineOrder, format, args...)
}
