package auth

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is against a *FetchError of the same kind.
var (
	ErrConnectFailed     = errors.New("auth endpoint unreachable")
	ErrProtocolViolation = errors.New("auth protocol violation")
	ErrCancelled         = errors.New("token fetch cancelled")
)

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind int

const (
	// ConnectFailed: the TCP connection to the auth endpoint was not established.
	ConnectFailed FetchErrorKind = iota + 1
	// ProtocolViolation: connected, but the stream did not yield exactly one
	// valid token.
	ProtocolViolation
	// Cancelled: the fetch was abandoned before it finished.
	Cancelled
)

func (k FetchErrorKind) String() string {
	switch k {
	case ConnectFailed:
		return "connect_failed"
	case ProtocolViolation:
		return "protocol_violation"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k FetchErrorKind) sentinel() error {
	switch k {
	case ConnectFailed:
		return ErrConnectFailed
	case ProtocolViolation:
		return ErrProtocolViolation
	case Cancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// FetchError is returned by Fetcher.Fetch for every failure.
type FetchError struct {
	Kind     FetchErrorKind
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "token fetch failed"
	}
	msg := fmt.Sprintf("fetch token from %s: %s", e.Endpoint, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf extracts the fetch error kind, or 0 if err is not a *FetchError.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
