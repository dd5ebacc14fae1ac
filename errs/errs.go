// Package errs defines the error-kind taxonomy used across dagchain's
// packet handlers and component mutators (see spec §7). Every kind maps to
// a disconnect policy so the network layer can apply it uniformly instead of
// sprinkling type switches through each flow.
package errs

import "github.com/pkg/errors"

// Kind classifies an error for the purposes of peer-disconnect policy and
// retry behavior. It does not replace the underlying error value: a Kind is
// always paired with a wrapped error via New.
type Kind int

const (
	// KindPacketMalformed is an RLP parse or item-count mismatch.
	KindPacketMalformed Kind = iota
	// KindPeerMalicious is a demonstrable protocol violation.
	KindPeerMalicious
	// KindStaleInput is an expired/old request or vote; drop silently.
	KindStaleInput
	// KindTransientUnknown is AheadBlock/MissingTransaction/FutureBlock; retry later.
	KindTransientUnknown
	// KindStateFutureBlock is a query against a not-yet-finalized period.
	KindStateFutureBlock
	// KindIOFailure is a DB put/get failure; fatal.
	KindIOFailure
	// KindConfigFatal is a startup configuration/genesis mismatch; fatal.
	KindConfigFatal
	// KindResourceExhaustion is a threadpool/queue overload; disconnect requester only.
	KindResourceExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindPacketMalformed:
		return "packet-malformed"
	case KindPeerMalicious:
		return "peer-malicious"
	case KindStaleInput:
		return "stale-input"
	case KindTransientUnknown:
		return "transient-unknown"
	case KindStateFutureBlock:
		return "state-future-block"
	case KindIOFailure:
		return "io-failure"
	case KindConfigFatal:
		return "config-fatal"
	case KindResourceExhaustion:
		return "resource-exhaustion"
	default:
		return "unknown"
	}
}

// DisconnectPolicy describes what the network layer should do with the peer
// that triggered an error of a given Kind.
type DisconnectPolicy int

const (
	// PolicyNone leaves the connection open.
	PolicyNone DisconnectPolicy = iota
	// PolicyDisconnect closes the connection with a user-visible reason.
	PolicyDisconnect
	// PolicyDisconnectAndBan closes the connection and marks the peer malicious
	// for a cooldown window.
	PolicyDisconnectAndBan
	// PolicyFatal terminates the process.
	PolicyFatal
)

func (k Kind) DisconnectPolicy() DisconnectPolicy {
	switch k {
	case KindPacketMalformed:
		return PolicyDisconnect
	case KindPeerMalicious:
		return PolicyDisconnectAndBan
	case KindResourceExhaustion:
		return PolicyDisconnect
	case KindIOFailure, KindConfigFatal:
		return PolicyFatal
	default:
		return PolicyNone
	}
}

// PacketError pairs a Kind with the underlying cause. Construct with New or
// Wrap; both preserve a stack trace via github.com/pkg/errors.
type PacketError struct {
	Kind Kind
	Err  error
}

func (e *PacketError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *PacketError) Unwrap() error { return e.Err }

// New creates a PacketError of the given Kind with a fresh stack trace.
func New(kind Kind, message string) *PacketError {
	return &PacketError{Kind: kind, Err: errors.New(message)}
}

// Wrap annotates err with a message and classifies it under kind.
func Wrap(kind Kind, err error, message string) *PacketError {
	if err == nil {
		return nil
	}
	return &PacketError{Kind: kind, Err: errors.Wrap(err, message)}
}

// As reports whether err is a *PacketError and returns it.
func As(err error) (*PacketError, bool) {
	pe, ok := err.(*PacketError)
	return pe, ok
}
