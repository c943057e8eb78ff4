package protocol

import "errors"

// Handshake and session outcomes. None of these are fatal; callers decide
// whether to retry.
var (
	ErrTimeout           = errors.New("timeout")
	ErrLostConnection    = errors.New("lost connection")
	ErrConnectionRefused = errors.New("connection refused")
	ErrBadData           = errors.New("bad data")
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrPacketNotSent     = errors.New("packet not sent")
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrInvalidIdentity   = errors.New("invalid identity")
)

// Informational results returned in place of nil
var (
	ErrNoAckPayload    = errors.New("no ack payload")
	ErrTickTooShort    = errors.New("tick too short")
	ErrNothingToResume = errors.New("nothing to resume")
)

// IsInformational reports whether err only carries a diagnostic and the
// operation otherwise succeeded.
func IsInformational(err error) bool {
	return errors.Is(err, ErrNoAckPayload) ||
		errors.Is(err, ErrTickTooShort) ||
		errors.Is(err, ErrNothingToResume)
}
