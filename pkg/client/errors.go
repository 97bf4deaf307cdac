package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a subrequest failure.
type Kind int

const (
	KindTimeout Kind = iota
	KindConnect
	KindProtocol
	KindBackend
	KindSerialization
)

// String returns the taxonomy tag used in error envelopes.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindConnect:
		return "Connect"
	case KindProtocol:
		return "Protocol"
	case KindBackend:
		return "Backend"
	case KindSerialization:
		return "Serialization"
	default:
		return "Backend"
	}
}

// Error is the normalized subrequest failure surfaced by every client
// variant. Backend driver errors are classified into a Kind; the original
// error remains available through Unwrap.
type Error struct {
	Kind       Kind
	ClientID   string
	Subrequest string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Subrequest != "" {
		return fmt.Sprintf("subrequest %s (client %s): %s: %s", e.Subrequest, e.ClientID, e.Kind, e.Message)
	}
	return fmt.Sprintf("client %s: %s: %s", e.ClientID, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// newError wraps a driver error with a classified kind.
func newError(kind Kind, clientID string, err error) *Error {
	return &Error{Kind: kind, ClientID: clientID, Message: err.Error(), Err: err}
}

// classify maps a raw driver error onto the failure taxonomy. Deadline and
// cancellation errors are timeouts; dial failures are connect errors;
// everything else is attributed to the backend.
func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindConnect
	}
	return KindBackend
}

// wrap builds a classified Error from a driver failure.
func wrap(clientID string, err error) *Error {
	return newError(classify(err), clientID, err)
}
