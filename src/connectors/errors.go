package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"

	"orderengine/src/model"
)

// ErrorKind is the diagnosis taxonomy shared by all venues.
type ErrorKind string

const (
	KindInvalidKey            ErrorKind = "invalid_key"
	KindBadSignature          ErrorKind = "bad_signature"
	KindAddressNotAllowListed ErrorKind = "address_not_allow_listed"
	KindPermissionDenied      ErrorKind = "permission_denied"
	KindRateLimited           ErrorKind = "rate_limited"
	KindTimeout               ErrorKind = "timeout"
	KindUnknown               ErrorKind = "unknown"
)

var ErrOrderNotFound = errors.New("order not found on venue")

type ExchangeError struct {
	Venue      model.Venue
	Kind       ErrorKind
	Code       int
	Message    string
	HTTPStatus int
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d): %s", e.Venue, e.Kind, e.Code, e.Message)
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Venue, e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.Kind, e.Message)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Fatal errors invalidate the credential: no retry against it.
func (e *ExchangeError) Fatal() bool {
	switch e.Kind {
	case KindInvalidKey, KindBadSignature, KindAddressNotAllowListed, KindPermissionDenied:
		return true
	}
	return false
}

func (e *ExchangeError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout:
		return !errors.Is(e.Err, context.Canceled)
	case KindUnknown:
		return e.HTTPStatus >= 500
	}
	return false
}

// Diagnosis is the remediation text shown to users instead of raw venue codes.
func (e *ExchangeError) Diagnosis() string {
	switch e.Kind {
	case KindInvalidKey:
		return "API key is invalid or expired: create a new key on the exchange and update it"
	case KindBadSignature:
		return "request signature rejected: check that the API secret belongs to this key"
	case KindAddressNotAllowListed:
		return "source address not authorized: update the key's IP allow-list"
	case KindPermissionDenied:
		return "API key lacks the required permissions: enable futures trading for this key"
	case KindRateLimited:
		return "exchange rate limit reached: requests resume after backoff"
	case KindTimeout:
		return "exchange did not answer in time or the clock drifted outside the receive window"
	default:
		return "exchange rejected the request: " + e.Message
	}
}

func AsExchangeError(err error) (*ExchangeError, bool) {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr, true
	}
	return nil, false
}

func IsFatal(err error) bool {
	exErr, ok := AsExchangeError(err)
	return ok && exErr.Fatal()
}

func IsRetryable(err error) bool {
	exErr, ok := AsExchangeError(err)
	return ok && exErr.Retryable()
}

// Diagnose returns the error kind and remediation text for any error.
func Diagnose(err error) (ErrorKind, string) {
	if exErr, ok := AsExchangeError(err); ok {
		return exErr.Kind, exErr.Diagnosis()
	}
	if err == nil {
		return "", ""
	}
	return KindUnknown, err.Error()
}

// transportError classifies failures that never produced a venue response.
func transportError(venue model.Venue, err error) *ExchangeError {
	msg := "network failure"
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "request deadline exceeded"
	case errors.Is(err, context.Canceled):
		msg = "request canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		msg = "network timeout"
	}
	return &ExchangeError{Venue: venue, Kind: KindTimeout, Message: msg + ": " + err.Error(), Err: err}
}

// statusKind maps bare HTTP statuses when the body carries no venue code.
func statusKind(status int) (ErrorKind, bool) {
	switch {
	case status == 429 || status == 418:
		return KindRateLimited, true
	case status == 408:
		return KindTimeout, true
	case status == 401:
		return KindInvalidKey, true
	case status == 403:
		return KindPermissionDenied, true
	case status >= 500 && status <= 599:
		return KindUnknown, true
	}
	return "", false
}
