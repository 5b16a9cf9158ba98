package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies an adapter failure for the retry policy: transient
// errors may succeed on retry, fatal ones will not.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindFatal     ErrorKind = "fatal"
)

// AdapterError is a classified failure from an exchange adapter call.
type AdapterError struct {
	Kind    ErrorKind
	Type    string // machine-readable cause, e.g. "timeout", "rate_limited", "insufficient_balance"
	Message string
	// RetryAfter is the exchange's requested minimum delay before the next
	// attempt, zero when the response carried none.
	RetryAfter time.Duration
	Err        error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Type, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Kind, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Transient builds a retryable adapter error.
func Transient(errType, message string, err error) *AdapterError {
	return &AdapterError{Kind: KindTransient, Type: errType, Message: message, Err: err}
}

// Fatal builds a non-retryable adapter error.
func Fatal(errType, message string, err error) *AdapterError {
	return &AdapterError{Kind: KindFatal, Type: errType, Message: message, Err: err}
}

// IsTransient reports whether err is an adapter error that may succeed on
// retry. Unclassified errors are treated as transient so that a plain
// network failure is retried rather than dropped.
func IsTransient(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind == KindTransient
	}
	return true
}

// RetryAfter extracts the exchange-requested retry delay from err, or zero.
func RetryAfter(err error) time.Duration {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// ErrorType extracts the machine-readable cause from err, or "unknown".
func ErrorType(err error) string {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return "unknown"
}

// OrderRequest is a new-order submission to an exchange.
type OrderRequest struct {
	Symbol         string
	Side           string // "buy" or "sell"
	Type           string // "market" or "limit"
	Quantity       decimal.Decimal
	Price          decimal.NullDecimal
	IdempotencyKey string
}

// OrderResult is the exchange's view of a placed order.
type OrderResult struct {
	ExchangeOrderID string
	Status          string
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Fee             decimal.Decimal
}

// PositionSnapshot is the exchange's view of current exposure on a symbol.
type PositionSnapshot struct {
	Symbol   string
	Side     string
	Quantity decimal.Decimal
	Entry    decimal.Decimal
}

// Adapter is the contract every exchange integration satisfies. All calls
// honor the context deadline and return classified AdapterErrors.
type Adapter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	GetPosition(ctx context.Context, symbol string) (*PositionSnapshot, error)
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Credentials are decrypted exchange API credentials. They are held in
// memory only and never persisted by the engine.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// CredentialProvider decrypts a user's stored exchange credentials. The
// implementation lives outside the engine.
type CredentialProvider interface {
	DecryptCredentials(ctx context.Context, userID, exchange string) (*Credentials, error)
}
