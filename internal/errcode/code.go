// Package errcode defines the closed taxonomy of terminal result codes
// that flow through the channel runtime and session layer, plus the
// wrapping error type that carries one of them.
package errcode

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a terminal result reported to exactly one handler per
// completed operation (connect, handshake, read, write, session stop).
// The zero value, Success, is the only non-error code.
type Code int

const (
	Success Code = iota

	// Transport
	ResolveFailed
	ConnectFailed
	AcceptFailed
	ListenFailed
	AddressInUse
	BadStream
	PeerDisconnect

	// Framing
	InvalidHeading
	InvalidMagic
	OversizedPayload
	InvalidChecksum
	InvalidMessage
	UnknownMessage

	// Policy
	AddressBlocked
	AddressDisabled
	AddressUnsupported
	AddressInsufficient
	AddressInvalid
	AddressNotFound
	PeerUnsupported
	PeerInsufficient
	PeerTimestamp
	ProtocolViolation

	// Lifecycle
	ChannelStopped
	ChannelTimeout
	ChannelInactive
	ChannelExpired
	ChannelConflict
	ChannelDropped
	ServiceStopped
	ServiceSuspended
	Oversubscribed

	// Subscription
	SubscriberStopped
	SubscriberExists
	Desubscribed

	// Operation
	OperationTimeout
	OperationCanceled
	OperationFailed
	NotAllowed
	BadAlloc
	Unknown

	// Seeding
	SeedingUnsuccessful
	SeedingComplete
)

var names = map[Code]string{
	Success:             "success",
	ResolveFailed:       "resolve_failed",
	ConnectFailed:       "connect_failed",
	AcceptFailed:        "accept_failed",
	ListenFailed:        "listen_failed",
	AddressInUse:        "address_in_use",
	BadStream:           "bad_stream",
	PeerDisconnect:      "peer_disconnect",
	InvalidHeading:      "invalid_heading",
	InvalidMagic:        "invalid_magic",
	OversizedPayload:    "oversized_payload",
	InvalidChecksum:     "invalid_checksum",
	InvalidMessage:      "invalid_message",
	UnknownMessage:      "unknown_message",
	AddressBlocked:      "address_blocked",
	AddressDisabled:     "address_disabled",
	AddressUnsupported:  "address_unsupported",
	AddressInsufficient: "address_insufficient",
	AddressInvalid:      "address_invalid",
	AddressNotFound:     "address_not_found",
	PeerUnsupported:     "peer_unsupported",
	PeerInsufficient:    "peer_insufficient",
	PeerTimestamp:       "peer_timestamp",
	ProtocolViolation:   "protocol_violation",
	ChannelStopped:      "channel_stopped",
	ChannelTimeout:      "channel_timeout",
	ChannelInactive:     "channel_inactive",
	ChannelExpired:      "channel_expired",
	ChannelConflict:     "channel_conflict",
	ChannelDropped:      "channel_dropped",
	ServiceStopped:      "service_stopped",
	ServiceSuspended:    "service_suspended",
	Oversubscribed:      "oversubscribed",
	SubscriberStopped:   "subscriber_stopped",
	SubscriberExists:    "subscriber_exists",
	Desubscribed:        "desubscribed",
	OperationTimeout:    "operation_timeout",
	OperationCanceled:   "operation_canceled",
	OperationFailed:     "operation_failed",
	NotAllowed:          "not_allowed",
	BadAlloc:            "bad_alloc",
	Unknown:             "unknown",
	SeedingUnsuccessful: "seeding_unsuccessful",
	SeedingComplete:     "seeding_complete",
}

// Error lets a bare Code be returned and compared anywhere the standard
// error interface is expected.
func (c Code) Error() string { return c.String() }

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Failed reports whether c is anything other than Success.
func (c Code) Failed() bool { return c != Success }

// Terminal is a result code bound to whatever underlying error produced
// it (if any). It implements the standard error interface and supports
// errors.Is against bare Codes, so callers can write
// `errors.Is(err, errcode.ChannelStopped)` without unwrapping by hand.
type Terminal struct {
	Code Code
	Err  error
}

// New builds a Terminal with no underlying cause.
func New(code Code) *Terminal {
	return &Terminal{Code: code}
}

// Wrap attaches code to err, adding a stack trace via pkg/errors when
// err does not already carry one. Wrap(Success, nil) returns nil.
func Wrap(code Code, err error) *Terminal {
	if code == Success && err == nil {
		return nil
	}
	if err != nil {
		if _, traced := err.(interface{ StackTrace() errors.StackTrace }); !traced {
			err = errors.WithStack(err)
		}
	}
	return &Terminal{Code: code, Err: err}
}

func (t *Terminal) Error() string {
	if t == nil {
		return Success.String()
	}
	if t.Err != nil {
		return fmt.Sprintf("%s: %v", t.Code, t.Err)
	}
	return t.Code.String()
}

func (t *Terminal) Unwrap() error {
	if t == nil {
		return nil
	}
	return t.Err
}

// Is lets errors.Is(err, errcode.ChannelStopped) match both a bare Code
// and a *Terminal wrapping that Code.
func (t *Terminal) Is(target error) bool {
	if t == nil {
		return false
	}
	if code, ok := target.(Code); ok {
		return t.Code == code
	}
	other, ok := target.(*Terminal)
	return ok && other.Code == t.Code
}

// Is lets a bare Code participate in errors.Is comparisons against a
// *Terminal, since Code itself satisfies the error-comparable shape
// errors.Is expects when used as the target.
func (c Code) Is(target error) bool {
	if other, ok := target.(Code); ok {
		return c == other
	}
	if t, ok := target.(*Terminal); ok {
		return t.Code == c
	}
	return false
}

// As extracts the Code carried by err, if any, walking wrapped errors.
func As(err error) (Code, bool) {
	var t *Terminal
	if errors.As(err, &t) {
		return t.Code, true
	}
	if c, ok := err.(Code); ok {
		return c, true
	}
	return Unknown, false
}
