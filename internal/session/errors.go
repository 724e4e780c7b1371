package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session failures. Every kind is local and recoverable.
type ErrorKind string

const (
	ScanStartFailed   ErrorKind = "scan_start_failed"
	ConnectFailed     ErrorKind = "connect_failed"
	DiscoveryFailed   ErrorKind = "discovery_failed"
	DecodeError       ErrorKind = "decode_error"
	AlreadyConnecting ErrorKind = "already_connecting"
	UnknownPeripheral ErrorKind = "unknown_peripheral"
	SubscribeFailed   ErrorKind = "subscribe_failed"
)

// SessionError is the error carried by EventError events.
type SessionError struct {
	Kind       ErrorKind
	Peripheral string
	Err        error
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Peripheral != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Peripheral)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare SessionError values by Kind
func (e *SessionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is
var (
	ErrScanStartFailed   = &SessionError{Kind: ScanStartFailed}
	ErrConnectFailed     = &SessionError{Kind: ConnectFailed}
	ErrDiscoveryFailed   = &SessionError{Kind: DiscoveryFailed}
	ErrDecode            = &SessionError{Kind: DecodeError}
	ErrAlreadyConnecting = &SessionError{Kind: AlreadyConnecting}
	ErrUnknownPeripheral = &SessionError{Kind: UnknownPeripheral}
	ErrSubscribeFailed   = &SessionError{Kind: SubscribeFailed}
)

// Controller lifecycle errors
var (
	ErrNotStarted = errors.New("session controller not started")
	ErrClosed     = errors.New("session controller closed")
)

func newError(kind ErrorKind, peripheral string, err error) *SessionError {
	return &SessionError{Kind: kind, Peripheral: peripheral, Err: err}
}

// KindOf returns the ErrorKind of err, or "" if err is not a SessionError.
func KindOf(err error) ErrorKind {
	var serr *SessionError
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return ""
}
