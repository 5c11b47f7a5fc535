// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"errors"
	"net"
	"syscall"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes transport failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindValidation: the request was rejected before any network call.
	KindValidation
	// KindUnreachable: the backend or relay refused or dropped the connection.
	KindUnreachable
	// KindHTTPStatus: the backend answered with a non-success status.
	KindHTTPStatus
	// KindRelay: the relay boundary misbehaved (bad message, lost connection).
	KindRelay
)

// String returns the kind name for logs.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnreachable:
		return "unreachable"
	case KindHTTPStatus:
		return "http_status"
	case KindRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Error is a transport failure. Message is already human-readable; it is
// what the session hands to its error handler.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err is a transport Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// isConnectionFailure reports whether err means nothing is listening at the
// target address or the connection was torn down before a response.
func isConnectionFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
