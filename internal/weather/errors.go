package weather

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to observers.
type ErrorKind string

const (
	KindInvalidEndpoint   ErrorKind = "invalid_endpoint"
	KindNetworkFailure    ErrorKind = "network_failure"
	KindGeocodingFailure  ErrorKind = "geocoding_failure"
	KindMissingData       ErrorKind = "missing_data"
	KindValidationFailure ErrorKind = "validation_failure"
	KindDeleteFailed      ErrorKind = "delete_failed"
)

// Error is the domain error carried through load sequences.
// Subject holds the address for geocoding failures.
type Error struct {
	Kind    ErrorKind
	Subject string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	switch {
	case e.Message != "":
		msg += ": " + e.Message
	case e.Subject != "":
		msg += ": " + e.Subject
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidEndpoint   = &Error{Kind: KindInvalidEndpoint}
	ErrNetworkFailure    = &Error{Kind: KindNetworkFailure}
	ErrGeocodingFailure  = &Error{Kind: KindGeocodingFailure}
	ErrMissingData       = &Error{Kind: KindMissingData}
	ErrValidationFailure = &Error{Kind: KindValidationFailure}
	ErrDeleteFailed      = &Error{Kind: KindDeleteFailed}

	// ErrSuperseded is returned by a load whose request token was overtaken
	// by a newer intent. Nothing from that load is published.
	ErrSuperseded = errors.New("load superseded by a newer request")

	// ErrRefreshSkipped is returned by RefreshIfIdle when the service is
	// busy loading or showing a failed load.
	ErrRefreshSkipped = errors.New("refresh skipped")

	// ErrPlaceNotFound is returned when an intent names a place that is not
	// in the visited cache.
	ErrPlaceNotFound = errors.New("place not found")
)

func InvalidEndpoint(err error) *Error {
	return &Error{Kind: KindInvalidEndpoint, Message: "invalid request endpoint", Err: err}
}

func NetworkFailure(err error) *Error {
	return &Error{Kind: KindNetworkFailure, Err: err}
}

func GeocodingFailure(address string, err error) *Error {
	return &Error{Kind: KindGeocodingFailure, Subject: address, Err: err}
}

func MissingData(message string, err error) *Error {
	return &Error{Kind: KindMissingData, Message: message, Err: err}
}

func ValidationFailure(message string) *Error {
	return &Error{Kind: KindValidationFailure, Message: message}
}

func DeleteFailed(message string, err error) *Error {
	return &Error{Kind: KindDeleteFailed, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// describe renders an error for alerts without leaking nested provider detail.
func describe(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch {
		case e.Message != "":
			return e.Message
		case e.Kind == KindGeocodingFailure:
			return fmt.Sprintf("could not find %q", e.Subject)
		}
		return string(e.Kind)
	}
	return err.Error()
}
