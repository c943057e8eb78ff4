package link

import (
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/radio"
	"github.com/dbehnke/rclink/internal/radio/sim"
	"github.com/dbehnke/rclink/internal/settings"
)

var (
	controllerID = protocol.PeerIdentity{'C', 't', 'r', 'l', '1'}
	responderID  = protocol.PeerIdentity{'R', 'e', 's', 'p', '1'}
)

// fastTimeouts keeps two-goroutine scenarios short on the real clock
func fastTimeouts() Timeouts {
	return Timeouts{
		Pair:       time.Second,
		Connect:    500 * time.Millisecond,
		Poll:       time.Millisecond,
		Settle:     20 * time.Millisecond,
		Turnaround: 5 * time.Millisecond,
	}
}

type testEvent struct {
	id   protocol.PeerIdentity
	kind string
}

type eventLog struct {
	mu     sync.Mutex
	events []testEvent
}

func (l *eventLog) RecordEvent(id protocol.PeerIdentity, kind, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, testEvent{id: id, kind: kind})
	return nil
}

func (l *eventLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.kind)
	}
	return out
}

type testRig struct {
	medium *sim.Medium

	ctrlRadio *sim.Link
	respRadio *sim.Link
	ctrlStore *MemoryStore
	respStore *MemoryStore
	ctrlLog   *eventLog
	respLog   *eventLog

	ctrl *Controller
	resp *Responder
}

// newRig builds a controller and responder on one simulated medium. A nil
// validator accepts the stored peer.
func newRig(t *testing.T, profile settings.Record, validator Validator) *testRig {
	t.Helper()

	m := sim.NewMedium()
	rig := &testRig{
		medium:    m,
		ctrlRadio: m.NewLink("controller"),
		respRadio: m.NewLink("responder"),
		ctrlStore: NewMemoryStore(),
		respStore: NewMemoryStore(),
		ctrlLog:   &eventLog{},
		respLog:   &eventLog{},
	}
	rig.ctrl = NewController(Options{
		Radio:    rig.ctrlRadio,
		Identity: controllerID,
		Timeouts: fastTimeouts(),
		Events:   rig.ctrlLog,
	}, rig.ctrlStore)
	rig.resp = NewResponder(Options{
		Radio:    rig.respRadio,
		Identity: responderID,
		Timeouts: fastTimeouts(),
		Events:   rig.respLog,
	}, rig.respStore, profile, validator)
	return rig
}

// seed records a completed pairing on both sides
func (r *testRig) seed(profile settings.Record) {
	r.ctrlStore.SaveSettings(responderID, profile)
	r.respStore.SavePeer(controllerID)
}

// connect runs both connect halves concurrently
func (r *testRig) connect(t *testing.T) (ctrlErr, respErr error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- r.resp.Connect() }()
	ctrlErr = r.ctrl.Connect(responderID)
	respErr = <-done
	return ctrlErr, respErr
}

// scriptLink is a single-threaded radio whose peer is a callback. It lets
// tests drive a controller against the manual clock.
type scriptLink struct {
	cfg        radio.Config
	listening  bool
	rx         [][]byte
	ackPayload []byte
	writes     [][]byte

	onWrite func(s *scriptLink, buf []byte) bool
}

func (s *scriptLink) Configure(cfg radio.Config) error            { s.cfg = cfg; return nil }
func (s *scriptLink) OpenWritingPipe(radio.Address) error         { return nil }
func (s *scriptLink) OpenReadingPipe(uint8, radio.Address) error  { return nil }
func (s *scriptLink) StartListening() error                       { s.listening = true; return nil }
func (s *scriptLink) StopListening() error                        { s.listening = false; return nil }
func (s *scriptLink) Flush() error                                { s.rx = nil; return nil }
func (s *scriptLink) WriteAckPayload(pipe uint8, buf []byte) error { return nil }

func (s *scriptLink) Write(buf []byte) (bool, error) {
	s.writes = append(s.writes, append([]byte(nil), buf...))
	ack := true
	if s.onWrite != nil {
		ack = s.onWrite(s, buf)
	}
	if !s.cfg.AutoAck {
		return true, nil
	}
	return ack, nil
}

func (s *scriptLink) queue(b ...byte) {
	s.rx = append(s.rx, b)
}

func (s *scriptLink) Available() (uint8, bool, error) {
	return protocol.READ_PIPE, len(s.rx) > 0, nil
}

func (s *scriptLink) Read(buf []byte) (int, error) {
	if len(s.rx) == 0 {
		return 0, nil
	}
	n := copy(buf, s.rx[0])
	s.rx = s.rx[1:]
	return n, nil
}

func (s *scriptLink) ReadAckPayload(buf []byte) (int, bool, error) {
	if s.ackPayload == nil {
		return 0, false, nil
	}
	n := copy(buf, s.ackPayload)
	s.ackPayload = nil
	return n, true, nil
}
