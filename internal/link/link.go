// Package link implements the pairing, connect and session state machines
// for both ends of the RC radio link.
//
// A Controller announces itself, negotiates a settings record stored at
// pairing time and then sends channel packets at the negotiated cadence. A
// Responder answers pairing broadcasts, accepts or refuses connections
// through a Validator and returns telemetry on the radio acknowledgments.
// Both run synchronously: every wait is a bounded poll against the
// configured Clock and nothing here starts a goroutine.
package link

import (
	"io"
	"log"
	"time"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/radio"
	"github.com/dbehnke/rclink/internal/settings"
	"github.com/dbehnke/rclink/internal/timing"
)

// Timeouts bounds every wait in the handshake and session
type Timeouts struct {
	Pair       time.Duration // Pairing broadcast and connect announce
	Connect    time.Duration // Replies inside a handshake
	Poll       time.Duration // Availability poll quantum
	Settle     time.Duration // Let the peer switch radio mode
	Turnaround time.Duration // Session reply delay on the responder
}

// DefaultTimeouts returns the protocol timings
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Pair:       protocol.RC_TIMEOUT,
		Connect:    protocol.RC_CONNECT_TIMEOUT,
		Poll:       protocol.RC_POLL_INTERVAL,
		Settle:     protocol.RC_SETTLE_DELAY,
		Turnaround: protocol.RC_TURNAROUND,
	}
}

// withDefaults fills zero fields from DefaultTimeouts
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Pair <= 0 {
		t.Pair = d.Pair
	}
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Poll <= 0 {
		t.Poll = d.Poll
	}
	if t.Settle < 0 {
		t.Settle = 0
	}
	if t.Turnaround < 0 {
		t.Turnaround = 0
	}
	return t
}

// Options are shared by both roles
type Options struct {
	Radio    radio.Link
	Identity protocol.PeerIdentity
	Clock    timing.Clock // nil uses the system clock
	Timeouts Timeouts     // zero fields use DefaultTimeouts
	Logger   *log.Logger  // nil is quiet
	Debug    bool
	Events   EventRecorder // optional
}

// Peer is the behaviour common to Controller and Responder
type Peer interface {
	Pair() error
	Resume() error
	State() protocol.State
	Remote() protocol.PeerIdentity
	Settings() settings.Record
}

var (
	_ Peer = (*Controller)(nil)
	_ Peer = (*Responder)(nil)
)

func newPeer(opts Options, role protocol.Role) peer {
	clock := opts.Clock
	if clock == nil {
		clock = timing.SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return peer{
		radio:    opts.Radio,
		self:     opts.Identity,
		role:     role,
		clock:    clock,
		timeouts: opts.Timeouts.withDefaults(),
		logger:   logger,
		debug:    opts.Debug,
		events:   opts.Events,
		state:    protocol.StateDisconnected,
		remote:   protocol.NoPeer,
	}
}
