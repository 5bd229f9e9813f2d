package netcode

import (
	"errors"
	"fmt"
)

// ErrInvalidToken is the sentinel every *TokenError unwraps to.
var ErrInvalidToken = errors.New("invalid connect token")

// ErrorCode is a stable reason code, used for logging and metrics labels.
type ErrorCode uint16

const (
	ErrCodeUnknown ErrorCode = 0

	// structural
	ErrCodeBadLength     ErrorCode = 1001
	ErrCodeBadVersion    ErrorCode = 1002
	ErrCodeBadTimestamps ErrorCode = 1003
	ErrCodeBadAddress    ErrorCode = 1004
	ErrCodeBadPadding    ErrorCode = 1005
	ErrCodeBadPrefix     ErrorCode = 1006
	ErrCodeBadUserData   ErrorCode = 1007

	// verification
	ErrCodeProtocolMismatch ErrorCode = 2001
	ErrCodeExpired          ErrorCode = 2002
	ErrCodeDecrypt          ErrorCode = 2003
)

// TokenError is the only error type returned by the parsers in this package.
type TokenError struct {
	Code ErrorCode
	Msg  string
}

func (e *TokenError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("connect token error (%d)", e.Code)
	}
	return fmt.Sprintf("connect token error (%d): %s", e.Code, e.Msg)
}

func (e *TokenError) Unwrap() error { return ErrInvalidToken }

func newError(code ErrorCode, msg string) *TokenError {
	return &TokenError{Code: code, Msg: msg}
}

// IsTokenError reports whether err carries a *TokenError and returns it.
func IsTokenError(err error) (*TokenError, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
