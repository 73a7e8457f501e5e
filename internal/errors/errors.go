package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of failure categories surfaced by the transfer core.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindInvalidState      Kind = "INVALID_STATE"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindInvalidTransfer   Kind = "INVALID_TRANSFER"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindCrypto            Kind = "CRYPTO"
	KindTransferFailed    Kind = "TRANSFER_FAILED"
)

var (
	// ErrNotFound matches any card or transfer that does not exist.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrForbidden matches ownership and participation failures.
	ErrForbidden = &Error{Kind: KindForbidden}
	// ErrInvalidState matches card status failures.
	ErrInvalidState = &Error{Kind: KindInvalidState}
	// ErrInvalidInput matches malformed amounts, descriptions and card numbers.
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	// ErrInvalidTransfer matches structurally invalid transfers such as self-transfer.
	ErrInvalidTransfer = &Error{Kind: KindInvalidTransfer}
	// ErrInsufficientFunds matches overdraw attempts.
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	// ErrCrypto matches encryption and decryption failures.
	ErrCrypto = &Error{Kind: KindCrypto}
	// ErrTransferFailed matches failures while applying a validated transfer.
	ErrTransferFailed = &Error{Kind: KindTransferFailed}
)

// Error is a user-safe failure with structured context. Err is kept for logging and
// errors.Is/As chains and is never rendered to callers.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Resource   string
	ResourceID string
	CardStatus string
	Available  *decimal.Decimal
	Requested  *decimal.Decimal
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CardNotFound is returned when a card cannot be resolved.
func CardNotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Code: "CARD_NOT_FOUND", Message: "card not found", Resource: "card", ResourceID: id}
}

// TransferNotFound is returned when a transfer record does not exist.
func TransferNotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Code: "TRANSFER_NOT_FOUND", Message: "transfer not found", Resource: "transfer", ResourceID: id}
}

// OwnershipDenied is returned when a card does not belong to the requester.
func OwnershipDenied(cardID string) *Error {
	return &Error{Kind: KindForbidden, Code: "CARD_OWNERSHIP", Message: "card does not belong to the current user", Resource: "card", ResourceID: cardID}
}

// Forbidden is returned when the requester may not see a resource.
func Forbidden(resource, id string) *Error {
	return &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: "access to " + resource + " denied", Resource: resource, ResourceID: id}
}

// CardNotActive reports the current status of a card that cannot take part in a transfer.
func CardNotActive(cardID, status string) *Error {
	return &Error{
		Kind:       KindInvalidState,
		Code:       "CARD_NOT_ACTIVE",
		Message:    fmt.Sprintf("card is not active (status %s)", status),
		Resource:   "card",
		ResourceID: cardID,
		CardStatus: status,
	}
}

// InvalidInput reports a malformed request field.
func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: "INVALID_INPUT", Message: message}
}

// InvalidTransfer reports a transfer that cannot be performed regardless of balances.
func InvalidTransfer(message string) *Error {
	return &Error{Kind: KindInvalidTransfer, Code: "INVALID_TRANSFER", Message: message}
}

// InsufficientFunds reports the available and requested amounts.
func InsufficientFunds(cardID string, available, requested decimal.Decimal) *Error {
	return &Error{
		Kind:       KindInsufficientFunds,
		Code:       "INSUFFICIENT_FUNDS",
		Message:    fmt.Sprintf("insufficient funds: available %s, requested %s", available.StringFixed(2), requested.StringFixed(2)),
		Resource:   "card",
		ResourceID: cardID,
		Available:  &available,
		Requested:  &requested,
	}
}

// Crypto wraps a cipher failure. The message never includes the cause.
func Crypto(op string, err error) *Error {
	return &Error{Kind: KindCrypto, Code: "CRYPTO_ERROR", Message: op + " failed", Err: err}
}

// TransferFailed is the generic failure surfaced when applying a validated transfer breaks.
func TransferFailed(err error) *Error {
	return &Error{Kind: KindTransferFailed, Code: "TRANSFER_FAILED", Message: "transfer failed", Err: err}
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Status    string `json:"card_status,omitempty"`
	Available string `json:"available,omitempty"`
	Requested string `json:"requested,omitempty"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	source     *Error
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	resp := ErrorResponse{
		Error: e.Message,
		Code:  e.Code,
	}
	if e.source != nil {
		resp.Status = e.source.CardStatus
		if e.source.Available != nil {
			resp.Available = e.source.Available.StringFixed(2)
		}
		if e.source.Requested != nil {
			resp.Requested = e.source.Requested.StringFixed(2)
		}
	}
	return resp
}

var statusByKind = map[Kind]int{
	KindNotFound:          http.StatusNotFound,
	KindForbidden:         http.StatusForbidden,
	KindInvalidState:      http.StatusConflict,
	KindInvalidInput:      http.StatusBadRequest,
	KindInvalidTransfer:   http.StatusBadRequest,
	KindInsufficientFunds: http.StatusBadRequest,
	KindCrypto:            http.StatusInternalServerError,
	KindTransferFailed:    http.StatusInternalServerError,
}

// MapErrorToHTTP maps domain errors to HTTP errors.
func MapErrorToHTTP(err error) *HTTPError {
	e, ok := As(err)
	if !ok {
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
	status, ok := statusByKind[e.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	code := e.Code
	if code == "" {
		code = string(e.Kind)
	}
	httpErr := NewHTTPError(status, e.Error(), code)
	httpErr.source = e
	return httpErr
}
