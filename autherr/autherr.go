// Package autherr holds the failure taxonomy shared by both authentication channels and by every
// collaborator that talks to the provider, together with the single classifier that decides
// whether a failure invalidates the current credential.
package autherr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Channel names used in errors, logs and metrics.
const (
	ChannelPrimary  = "primary"
	ChannelFallback = "fallback"
)

// CodeUnauthenticated is the error extension code that marks a rejected credential.
const CodeUnauthenticated = "UNAUTHENTICATED"

// Kind is the classification of a failure.
type Kind int

const (
	KindNone Kind = iota
	KindTransport
	KindProtocol
	KindValidation
	KindUnauthorized
)

var kindNames = map[Kind]string{
	KindNone:         "none",
	KindTransport:    "transport",
	KindProtocol:     "protocol",
	KindValidation:   "validation",
	KindUnauthorized: "unauthorized",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Recoverable reports whether a failure of this kind leaves the credential usable.
func (k Kind) Recoverable() bool {
	return k != KindNone && k != KindUnauthorized
}

// PayloadError is one entry of a structured error list.
type PayloadError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Code returns the extensions.code tag, if any.
func (e PayloadError) Code() string {
	code, _ := e.Extensions["code"].(string)
	return code
}

// Payload is the structured error body returned by a failing call.
type Payload struct {
	Errors []PayloadError `json:"errors,omitempty"`
}

// Unauthenticated reports whether any entry is tagged as unauthenticated.
func (p Payload) Unauthenticated() bool {
	for _, e := range p.Errors {
		if strings.EqualFold(e.Code(), CodeUnauthenticated) {
			return true
		}
	}
	return false
}

func (p Payload) String() string {
	msgs := make([]string, 0, len(p.Errors))
	for _, e := range p.Errors {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

// TransportError means no response was received: connection failures and timeouts.
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s channel transport: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a response that was received but is not a success: a non-2xx status, an
// error list on a 2xx, or a body that could not be decoded.
type ProtocolError struct {
	Channel string
	Status  int
	Payload Payload
	Err     error
	// Final marks a failure that must not fall through to another channel.
	Final bool
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s channel protocol: status %d", e.Channel, e.Status)
	if s := e.Payload.String(); s != "" {
		msg += ": " + s
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UnauthorizedError is a 401-class rejection or a payload tagged unauthenticated.
type UnauthorizedError struct {
	Channel string
	Status  int
	Payload Payload
}

func (e *UnauthorizedError) Error() string {
	msg := fmt.Sprintf("%s channel unauthorized: status %d", e.Channel, e.Status)
	if s := e.Payload.String(); s != "" {
		msg += ": " + s
	}
	return msg
}

// ValidationError is a success-shaped response that is structurally incomplete.
type ValidationError struct {
	Channel string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s channel invalid response: %s", e.Channel, e.Reason)
}

// Transport wraps err as a TransportError for channel.
func Transport(channel string, err error) error {
	return &TransportError{Channel: channel, Err: err}
}

// Invalid builds a ValidationError for channel.
func Invalid(channel, reason string) error {
	return &ValidationError{Channel: channel, Reason: reason}
}

// FromResponse builds the error for a received response that did not succeed. A 401 status or
// an unauthenticated-tagged payload becomes an UnauthorizedError; anything else a ProtocolError.
func FromResponse(channel string, status int, payload Payload) error {
	if status == http.StatusUnauthorized || payload.Unauthenticated() {
		return &UnauthorizedError{Channel: channel, Status: status, Payload: payload}
	}
	return &ProtocolError{Channel: channel, Status: status, Payload: payload}
}

// Classify maps any error onto a Kind. Every failure path in the module routes through here so
// that the logout decision is made in one place.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var unauthorized *UnauthorizedError
	if errors.As(err, &unauthorized) {
		return KindUnauthorized
	}

	var protocol *ProtocolError
	if errors.As(err, &protocol) {
		if protocol.Status == http.StatusUnauthorized || protocol.Payload.Unauthenticated() {
			return KindUnauthorized
		}
		return KindProtocol
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return KindValidation
	}

	var transport *TransportError
	if errors.As(err, &transport) {
		return KindTransport
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return KindTransport
	}

	return KindProtocol
}

// IsUnauthorized is shorthand for Classify(err) == KindUnauthorized.
func IsUnauthorized(err error) bool {
	return Classify(err) == KindUnauthorized
}

// IsFinal reports whether err forbids falling through to another channel: unauthorized
// failures always do, protocol failures only when marked Final.
func IsFinal(err error) bool {
	if IsUnauthorized(err) {
		return true
	}
	var protocol *ProtocolError
	return errors.As(err, &protocol) && protocol.Final
}
