package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures so that wire replies and recovery
// policy can dispatch on the kind of error rather than its text.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeBusiness   ErrorType = "business"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeState      ErrorType = "state"
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeInternal   ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Retryable bool      `json:"retryable"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeBusiness,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:      ErrorTypeNotFound,
		Code:      "RESOURCE_NOT_FOUND",
		Message:   fmt.Sprintf("%s not found", resource),
		Retryable: false,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeConflict,
		Code:      "CONFLICT",
		Message:   message,
		Retryable: false,
	}
}

func NewStateError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

func NewTransportError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeTransport,
		Code:      "TRANSPORT_ERROR",
		Message:   message,
		Retryable: true,
	}
}

// Predefined common errors. The message strings are user-visible: both
// agents and house operators surface them directly.
var (
	ErrInvalidAmount     = NewValidationError("INVALID_AMOUNT", "Amount must be positive and finite")
	ErrInsufficientFunds = NewBusinessError("INSUFFICIENT_FUNDS", "Insufficient funds")
	ErrBidTooLow         = NewBusinessError("BID_TOO_LOW", "Bid too low")
	ErrAccountNotFound   = NewNotFoundError("account")
	ErrItemNotFound      = NewNotFoundError("item")
	ErrHouseNotFound     = NewNotFoundError("auction house")
	ErrNotWinningBidder  = NewConflictError("You are not the winning bidder")
	ErrItemHasBidder     = NewStateError("ITEM_HAS_BIDDER", "Item has an active bidder")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// UserMessage extracts the human-readable message carried in replies.
// Unstructured errors fall back to their Error string.
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
