package link

import (
	"fmt"
	"log"
	"time"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/radio"
	"github.com/dbehnke/rclink/internal/settings"
	"github.com/dbehnke/rclink/internal/telemetry"
	"github.com/dbehnke/rclink/internal/timing"
)

// peer holds the radio helpers and session state shared by both roles
type peer struct {
	radio    radio.Link
	self     protocol.PeerIdentity
	role     protocol.Role
	clock    timing.Clock
	timeouts Timeouts
	logger   *log.Logger
	debug    bool
	events   EventRecorder

	state    protocol.State
	remote   protocol.PeerIdentity
	settings settings.Record
	interval time.Duration
	lastTick time.Time

	channels  []uint16
	telemetry *telemetry.Record

	rx [protocol.MAX_PAYLOAD_SIZE]byte
	tx [protocol.MAX_PAYLOAD_SIZE]byte
}

// State returns the current session state
func (p *peer) State() protocol.State { return p.state }

// Remote is the connected or last attempted peer identity
func (p *peer) Remote() protocol.PeerIdentity { return p.remote }

// Settings is the negotiated record while connected
func (p *peer) Settings() settings.Record { return p.settings }

// TickInterval is the negotiated packet period
func (p *peer) TickInterval() time.Duration { return p.interval }

// Channels is a channel buffer sized for the negotiated record
func (p *peer) Channels() []uint16 { return p.channels }

// Telemetry is a telemetry record laid out for the negotiated record
func (p *peer) Telemetry() *telemetry.Record { return p.telemetry }

func (p *peer) debugf(format string, args ...any) {
	if p.debug {
		p.logger.Printf("%s: "+format, append([]any{p.role}, args...)...)
	}
}

func (p *peer) setState(s protocol.State) {
	if p.state != s {
		p.debugf("state %s -> %s", p.state, s)
	}
	p.state = s
}

func (p *peer) record(id protocol.PeerIdentity, kind, detail string) {
	if p.events == nil {
		return
	}
	if err := p.events.RecordEvent(id, kind, detail); err != nil {
		p.logger.Printf("%s: recording %s event: %v", p.role, kind, err)
	}
}

func (p *peer) applySettings(rec settings.Record, level radio.PALevel) error {
	p.debugf("apply %s pa=%s", rec, level)
	if err := p.radio.Configure(rec.Radio(level)); err != nil {
		return fmt.Errorf("radio configure: %w", err)
	}
	return nil
}

func (p *peer) applyPairing() error {
	return p.applySettings(settings.PairingProfile(), radio.PALevelLow)
}

// openPipes points the write pipe at write and the read pipe at read
func (p *peer) openPipes(write, read protocol.PeerIdentity) error {
	if err := p.radio.OpenWritingPipe(radio.Address(write)); err != nil {
		return fmt.Errorf("radio open writing pipe: %w", err)
	}
	if err := p.radio.OpenReadingPipe(protocol.READ_PIPE, radio.Address(read)); err != nil {
		return fmt.Errorf("radio open reading pipe: %w", err)
	}
	return nil
}

func (p *peer) listen() error {
	if err := p.radio.StartListening(); err != nil {
		return fmt.Errorf("radio start listening: %w", err)
	}
	return nil
}

// listenFresh discards anything left in the RX FIFO and starts listening.
// The radio stops listening first so nothing lands between flush and listen.
func (p *peer) listenFresh() error {
	if err := p.stopListening(); err != nil {
		return err
	}
	if err := p.radio.Flush(); err != nil {
		return fmt.Errorf("radio flush: %w", err)
	}
	return p.listen()
}

func (p *peer) stopListening() error {
	if err := p.radio.StopListening(); err != nil {
		return fmt.Errorf("radio stop listening: %w", err)
	}
	return nil
}

func (p *peer) settle() {
	p.clock.Sleep(p.timeouts.Settle)
}

// packet copies b into the transmit buffer, padded to the static payload
// width of rec when dynamic payloads are off.
func (p *peer) packet(rec settings.Record, b ...byte) []byte {
	size := len(b)
	if !rec.DynamicPayload() {
		size = int(rec.PayloadSize())
	}
	size = min(max(size, len(b)), protocol.MAX_PAYLOAD_SIZE)
	clear(p.tx[:])
	copy(p.tx[:size], b)
	return p.tx[:size]
}

// forceSend repeats buf until the radio acknowledges it or timeout passes
func (p *peer) forceSend(buf []byte, timeout time.Duration) (bool, error) {
	timer := timing.NewTimer(p.clock, timeout)
	timer.Start()
	for {
		ok, err := p.radio.Write(buf)
		if err != nil {
			return false, fmt.Errorf("radio write: %w", err)
		}
		if ok {
			return true, nil
		}
		if timer.HasExpired() {
			return false, nil
		}
		p.pollWait(timer)
	}
}

// pollWait sleeps one poll quantum, cut short by the timer's deadline
func (p *peer) pollWait(timer *timing.Timer) {
	d := p.timeouts.Poll
	if r := timer.Remaining(); r > 0 && r < d {
		d = r
	}
	p.clock.Sleep(d)
}

// waitAvailable polls the receive FIFO until a payload arrives or timeout passes
func (p *peer) waitAvailable(timeout time.Duration) (bool, error) {
	timer := timing.NewTimer(p.clock, timeout)
	timer.Start()
	for {
		_, ok, err := p.radio.Available()
		if err != nil {
			return false, fmt.Errorf("radio available: %w", err)
		}
		if ok {
			return true, nil
		}
		if timer.HasExpired() {
			return false, nil
		}
		p.pollWait(timer)
	}
}

// receive waits for one payload and returns it. The slice is only valid
// until the next receive.
func (p *peer) receive(timeout time.Duration) ([]byte, bool, error) {
	ok, err := p.waitAvailable(timeout)
	if err != nil || !ok {
		return nil, false, err
	}
	n, err := p.radio.Read(p.rx[:])
	if err != nil {
		return nil, false, fmt.Errorf("radio read: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}
	return p.rx[:n], true, nil
}

// establish enters Connected with rec as the session profile
func (p *peer) establish(remote protocol.PeerIdentity, rec settings.Record) {
	p.remote = remote
	p.settings = rec
	p.interval = rec.TickInterval()
	p.lastTick = time.Time{}

	if n := rec.NumChannels(); cap(p.channels) >= n {
		p.channels = p.channels[:n]
		clear(p.channels)
	} else {
		p.channels = make([]uint16, n)
	}
	if p.telemetry == nil {
		p.telemetry = telemetry.NewRecord(rec.Telemetry())
	} else {
		p.telemetry.Reset(rec.Telemetry())
	}

	p.setState(protocol.StateConnected)
}

// abort drops back to Disconnected after a failed handshake
func (p *peer) abort() {
	p.setState(protocol.StateDisconnected)
	if err := p.radio.StopListening(); err != nil {
		p.debugf("stop listening: %v", err)
	}
}
