package kvs

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVSError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new Error with the given code and a formatted message.
func NewErrorf(code RetCode, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the underlying driver.
	RetCConflict                            // 3: Transaction lost the optimistic commit race.
	RetCTxClosed                            // 4: Transaction is already committed or rolled back.
	RetCTxReadonly                          // 5: Write operation on a read-only transaction.
	RetCEncoding                            // 6: Key or value could not be encoded or decoded.
	RetCBackendUnavailable                  // 7: The storage backend could not be reached.
	RetCHorizonExceeded                     // 8: Change feed resume point precedes the retention horizon.
	RetCKeyAlreadyExists                    // 9: Put on a key that already holds a value.
	RetCConditionNotMet                     // 10: Conditional mutation found an unexpected current value.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCConflict:
		return "Conflict"
	case RetCTxClosed:
		return "TxClosed"
	case RetCTxReadonly:
		return "TxReadonly"
	case RetCEncoding:
		return "Encoding"
	case RetCBackendUnavailable:
		return "BackendUnavailable"
	case RetCHorizonExceeded:
		return "HorizonExceeded"
	case RetCKeyAlreadyExists:
		return "KeyAlreadyExists"
	case RetCConditionNotMet:
		return "ConditionNotMet"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Error Predicates
// --------------------------------------------------------------------------

// codeOf extracts the RetCode from an error, RetCSuccess for nil and
// RetCInternalError for foreign error types.
func codeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var kvsErr *Error
	if errors.As(err, &kvsErr) {
		return kvsErr.Code
	}
	return RetCInternalError
}

// IsConflict reports whether the error is a lost optimistic commit race.
// A conflicted transaction is rolled back; the documented recovery is to
// run the whole transaction again.
func IsConflict(err error) bool {
	return codeOf(err) == RetCConflict
}

// IsTxClosed reports whether an operation was attempted on a transaction
// that was already committed or rolled back.
func IsTxClosed(err error) bool {
	return codeOf(err) == RetCTxClosed
}

// IsTxReadonly reports whether a mutation was attempted on a read-only
// transaction.
func IsTxReadonly(err error) bool {
	return codeOf(err) == RetCTxReadonly
}

// IsHorizonExceeded reports whether a change feed resume point fell behind
// the retention horizon.
func IsHorizonExceeded(err error) bool {
	return codeOf(err) == RetCHorizonExceeded
}

// IsKeyAlreadyExists reports whether a Put hit a key that already holds a
// value.
func IsKeyAlreadyExists(err error) bool {
	return codeOf(err) == RetCKeyAlreadyExists
}

// IsConditionNotMet reports whether a conditional mutation found an
// unexpected current value.
func IsConditionNotMet(err error) bool {
	return codeOf(err) == RetCConditionNotMet
}

// IsBackendUnavailable reports whether the storage backend could not be
// reached. Commits that failed this way may or may not have been applied.
func IsBackendUnavailable(err error) bool {
	return codeOf(err) == RetCBackendUnavailable
}
