package nfc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
type ErrorCode int

const (
	// Session errors (100-119)
	ErrCodeAlreadyActive ErrorCode = iota + 100
	ErrCodeNoActiveSession
	ErrCodeNotConnected
	ErrCodeBusy
	ErrCodeTimeout
	ErrCodeCancelled
	ErrCodeHardwareUnavailable
)

const (
	// Tag protocol errors (120-139)
	ErrCodeMalformedResponse ErrorCode = iota + 120
	ErrCodeTagRejected
	ErrCodeCapacityExceeded
	ErrCodeInvalidArgument
)

var codeNames = map[ErrorCode]string{
	ErrCodeAlreadyActive:       "AlreadyActive",
	ErrCodeNoActiveSession:     "NoActiveSession",
	ErrCodeNotConnected:        "NotConnected",
	ErrCodeBusy:                "Busy",
	ErrCodeTimeout:             "Timeout",
	ErrCodeCancelled:           "Cancelled",
	ErrCodeHardwareUnavailable: "HardwareUnavailable",
	ErrCodeMalformedResponse:   "MalformedResponse",
	ErrCodeTagRejected:         "TagRejected",
	ErrCodeCapacityExceeded:    "CapacityExceeded",
	ErrCodeInvalidArgument:     "InvalidArgument",
}

// String returns the wire name of the code, as carried in Error events and
// transport responses.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// ParseErrorCode is the inverse of ErrorCode.String.
func ParseErrorCode(name string) (ErrorCode, bool) {
	for code, n := range codeNames {
		if strings.EqualFold(n, name) {
			return code, true
		}
	}
	return 0, false
}

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "StartSession", "ClassicReadBlock")
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

// Is matches any *NFCError carrying the same code, so the sentinels below
// work with errors.Is regardless of Op or Message.
func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrAlreadyActive       = &NFCError{Code: ErrCodeAlreadyActive, Message: "session already active"}
	ErrNoActiveSession     = &NFCError{Code: ErrCodeNoActiveSession, Message: "no active session"}
	ErrNotConnected        = &NFCError{Code: ErrCodeNotConnected, Message: "no tag connected"}
	ErrBusy                = &NFCError{Code: ErrCodeBusy, Message: "command already pending"}
	ErrTimeout             = &NFCError{Code: ErrCodeTimeout, Message: "tag did not respond"}
	ErrCancelled           = &NFCError{Code: ErrCodeCancelled, Message: "cancelled"}
	ErrHardwareUnavailable = &NFCError{Code: ErrCodeHardwareUnavailable, Message: "no nfc support"}
	ErrMalformedResponse   = &NFCError{Code: ErrCodeMalformedResponse, Message: "malformed response"}
	ErrTagRejected         = &NFCError{Code: ErrCodeTagRejected, Message: "tag rejected command"}
	ErrCapacityExceeded    = &NFCError{Code: ErrCodeCapacityExceeded, Message: "capacity exceeded"}
	ErrInvalidArgument     = &NFCError{Code: ErrCodeInvalidArgument, Message: "invalid argument"}
)

// NewAlreadyActiveError is returned by StartSession while a session exists.
func NewAlreadyActiveError(op string) *NFCError {
	return &NFCError{Code: ErrCodeAlreadyActive, Op: op, Message: "session already active"}
}

// NewNoActiveSessionError is returned by operations that need a session.
func NewNoActiveSessionError(op string) *NFCError {
	return &NFCError{Code: ErrCodeNoActiveSession, Op: op, Message: "no active session"}
}

// NewNotConnectedError is returned when no tag handle is valid for the operation.
func NewNotConnectedError(op string) *NFCError {
	return &NFCError{Code: ErrCodeNotConnected, Op: op, Message: "no tag connected"}
}

// NewNoTagError reports the same condition as NewNotConnectedError, phrased
// for the issuance path.
func NewNoTagError(op string) *NFCError {
	return &NFCError{Code: ErrCodeNotConnected, Op: op, Message: "no tech request available"}
}

func NewBusyError(op string) *NFCError {
	return &NFCError{Code: ErrCodeBusy, Op: op, Message: "command already pending"}
}

func NewTimeoutError(op string) *NFCError {
	return &NFCError{Code: ErrCodeTimeout, Op: op, Message: "tag did not respond"}
}

func NewCancelledError(op string, cause error) *NFCError {
	return &NFCError{Code: ErrCodeCancelled, Op: op, Message: "cancelled", Cause: cause}
}

// NewHardwareUnavailableError reports a radio that is missing, unsupported or switched off.
func NewHardwareUnavailableError(op string, cause error) *NFCError {
	return &NFCError{Code: ErrCodeHardwareUnavailable, Op: op, Message: "no nfc support", Cause: cause}
}

func NewMalformedResponseError(op string, format string, args ...interface{}) *NFCError {
	return Errorf(ErrCodeMalformedResponse, op, format, args...)
}

func NewTagRejectedError(op string, format string, args ...interface{}) *NFCError {
	return Errorf(ErrCodeTagRejected, op, format, args...)
}

func NewCapacityExceededError(op string, format string, args ...interface{}) *NFCError {
	return Errorf(ErrCodeCapacityExceeded, op, format, args...)
}

func NewInvalidArgumentError(op string, format string, args ...interface{}) *NFCError {
	return Errorf(ErrCodeInvalidArgument, op, format, args...)
}

// NewTransceiveError wraps a radio-level exchange failure.
func NewTransceiveError(op string, cause error) *NFCError {
	return &NFCError{Code: ErrCodeTagRejected, Op: op, Message: "transceive fail", Cause: cause}
}

// IsBusyError checks if an error indicates a pending command.
func IsBusyError(err error) bool {
	return GetErrorCode(err) == ErrCodeBusy
}

// IsNotConnectedError checks if an error indicates a missing tag.
func IsNotConnectedError(err error) bool {
	return GetErrorCode(err) == ErrCodeNotConnected
}

// IsTimeoutError checks if an error indicates an unresponsive tag.
func IsTimeoutError(err error) bool {
	return GetErrorCode(err) == ErrCodeTimeout
}

// IsCancelledError checks if an error indicates cancellation, including
// context cancellation surfaced from a blocking call.
func IsCancelledError(err error) bool {
	if err == nil {
		return false
	}
	if GetErrorCode(err) == ErrCodeCancelled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// IsHardwareUnavailableError checks if an error indicates a missing or disabled radio.
func IsHardwareUnavailableError(err error) bool {
	return GetErrorCode(err) == ErrCodeHardwareUnavailable
}

// IsDecodeError reports whether err came out of the codec.
func IsDecodeError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeMalformedResponse, ErrCodeTagRejected, ErrCodeCapacityExceeded, ErrCodeInvalidArgument:
		return true
	}
	return false
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// WrapError wraps an existing error with NFC context.
func WrapError(code ErrorCode, op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...interface{}) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// fromContext maps a context error onto the taxonomy.
func fromContext(op string, err error) *NFCError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &NFCError{Code: ErrCodeTimeout, Op: op, Message: "deadline exceeded", Cause: err}
	}
	return &NFCError{Code: ErrCodeCancelled, Op: op, Message: "cancelled", Cause: err}
}
