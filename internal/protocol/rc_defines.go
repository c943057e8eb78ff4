package protocol

import (
	"fmt"
	"strings"
	"time"
)

// RC link protocol constants

const (
	MAX_PAYLOAD_SIZE = 32 // Largest radio payload in bytes
	SETTINGS_LENGTH  = 32 // Settings record length
	IDENTITY_LENGTH  = 5  // Pipe address width

	// Single byte control replies
	CONTROL_ACK  = 0x06 // Acknowledge
	CONTROL_NACK = 0x15 // Negative acknowledge
	CONTROL_TEST = 0x02 // Settings verification byte

	// Packet type tags (first byte of every session packet)
	PACKET_CHANNELS      = 0xA0 // Channel packet, low nibble unused
	PACKET_CHANNELS_MASK = 0xF0
	PACKET_DISCONNECT    = 0xC0
	PACKET_RECONNECT     = 0xCA

	// Pairing profile
	PAIRING_CHANNEL     = 63
	PAIRING_RETRY_DELAY = 7

	RADIO_RETRY_COUNT = 15 // Hardware retransmit count for every profile
	READ_PIPE         = 1  // Pipe used for every inbound address
)

// Timing defaults
const (
	RC_TIMEOUT         = 15000 * time.Millisecond // Pairing broadcast / long waits
	RC_CONNECT_TIMEOUT = 2500 * time.Millisecond  // Replies inside a handshake
	RC_POLL_INTERVAL   = 16 * time.Millisecond    // Availability poll quantum
	RC_SETTLE_DELAY    = 200 * time.Millisecond   // Let the peer switch radio mode
	RC_TURNAROUND      = 2 * time.Millisecond     // Session reply turnaround
	RC_RESUME_TICKS    = 3                        // Resume ACK window in tick periods
)

// IsChannelPacket reports whether tag falls in the channel packet range
func IsChannelPacket(tag byte) bool {
	return tag&PACKET_CHANNELS_MASK == PACKET_CHANNELS
}

// State is the session state of one end of the link
type State int

const (
	StateDisconnected State = iota
	StatePairing
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StatePairing:
		return "PAIRING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Role selects which end of the link a unit plays
type Role int

const (
	RoleController Role = iota // Sends channel data, receives telemetry
	RoleResponder              // Receives channel data, answers with telemetry
)

func (r Role) String() string {
	switch r {
	case RoleController:
		return "controller"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// ParseRole maps a configuration value to a Role
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "controller", "tx", "transmitter":
		return RoleController, nil
	case "responder", "rx", "receiver":
		return RoleResponder, nil
	default:
		return RoleController, fmt.Errorf("unknown role %q", s)
	}
}
