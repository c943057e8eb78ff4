package link

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/settings"
	"github.com/dbehnke/rclink/internal/timing"
)

// scriptedController returns a controller whose radio answers like a
// responder: ACK to the announce, the TEST byte as ack payload, and echo
// (when non-nil) to a TEST sent without acks.
func scriptedController(t *testing.T, profile settings.Record, echo []byte) (*Controller, *scriptLink, *timing.ManualClock) {
	t.Helper()

	clock := timing.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	link := &scriptLink{
		onWrite: func(s *scriptLink, buf []byte) bool {
			switch {
			case bytes.HasPrefix(buf, controllerID[:]):
				s.queue(protocol.CONTROL_ACK)
			case buf[0] == protocol.CONTROL_TEST:
				if s.cfg.AckPayloads {
					s.ackPayload = []byte{protocol.CONTROL_TEST}
				}
				if echo != nil {
					s.queue(echo...)
				}
			}
			return true
		},
	}

	store := NewMemoryStore()
	store.SaveSettings(responderID, profile)
	c := NewController(Options{Radio: link, Identity: controllerID, Clock: clock}, store)
	return c, link, clock
}

func TestConnect_NoAckEcho(t *testing.T) {
	tests := []struct {
		name    string
		echo    []byte
		wantErr error
	}{
		{"echoed", []byte{protocol.CONTROL_TEST}, nil},
		{"no echo", nil, protocol.ErrBadData},
		{"wrong echo", []byte{0x03}, protocol.ErrBadData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := settings.New()
			profile.SetAck(false)
			profile.SetAckPayload(false)
			c, _, clock := scriptedController(t, profile, tt.echo)

			start := clock.Now()
			err := c.Connect(responderID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Connect() error = %v, want %v", err, tt.wantErr)
			}

			want := protocol.StateConnected
			if tt.wantErr != nil {
				want = protocol.StateDisconnected
			}
			// A missing echo is waited for until the connect timeout
			if tt.echo == nil {
				if waited := clock.Now().Sub(start); waited < protocol.RC_CONNECT_TIMEOUT {
					t.Errorf("gave up after %v, want at least %v", waited, protocol.RC_CONNECT_TIMEOUT)
				}
			}
			if c.State() != want {
				t.Errorf("State() = %v, want %v", c.State(), want)
			}
		})
	}
}

func TestConnect_BadReply(t *testing.T) {
	profile := settings.New()
	c, link, _ := scriptedController(t, profile, nil)
	link.onWrite = func(s *scriptLink, buf []byte) bool {
		s.queue(0x42)
		return true
	}

	if err := c.Connect(responderID); !errors.Is(err, protocol.ErrBadData) {
		t.Errorf("Connect() error = %v, want ErrBadData", err)
	}
}

func TestConnect_NoReply(t *testing.T) {
	c, link, _ := scriptedController(t, settings.New(), nil)
	link.onWrite = nil

	if err := c.Connect(responderID); !errors.Is(err, protocol.ErrLostConnection) {
		t.Errorf("Connect() error = %v, want ErrLostConnection", err)
	}
	if c.State() != protocol.StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", c.State())
	}
}

func TestConnect_AckPayloadMismatch(t *testing.T) {
	c, link, _ := scriptedController(t, settings.New(), nil)
	link.onWrite = func(s *scriptLink, buf []byte) bool {
		if bytes.HasPrefix(buf, controllerID[:]) {
			s.queue(protocol.CONTROL_ACK)
		} else {
			s.ackPayload = []byte{0x55}
		}
		return true
	}

	if err := c.Connect(responderID); !errors.Is(err, protocol.ErrBadData) {
		t.Errorf("Connect() error = %v, want ErrBadData", err)
	}
}

func TestUpdate_Cadence(t *testing.T) {
	profile := settings.New() // 60 Hz
	c, _, clock := scriptedController(t, profile, nil)
	if err := c.Connect(responderID); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	interval := time.Second / 60
	if c.TickInterval() != interval {
		t.Fatalf("TickInterval() = %v, want %v", c.TickInterval(), interval)
	}

	channels := c.Channels()
	if err := c.Update(channels, nil); err != nil {
		t.Fatalf("first Update() error = %v", err)
	}
	first := clock.Now()

	if err := c.Update(channels, nil); err != nil {
		t.Fatalf("second Update() error = %v", err)
	}
	waited := clock.Now().Sub(first)
	if waited < interval || waited > interval+time.Millisecond {
		t.Errorf("second Update() returned after %v, want %v", waited, interval)
	}

	// A caller that falls behind gets the informational result
	clock.Advance(50 * time.Millisecond)
	err := c.Update(channels, nil)
	if !errors.Is(err, protocol.ErrTickTooShort) || !protocol.IsInformational(err) {
		t.Errorf("late Update() error = %v, want ErrTickTooShort", err)
	}
}

func TestUpdate_NotAcked(t *testing.T) {
	c, link, _ := scriptedController(t, settings.New(), nil)
	if err := c.Connect(responderID); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	link.onWrite = func(*scriptLink, []byte) bool { return false }
	if err := c.Update(c.Channels(), nil); !errors.Is(err, protocol.ErrPacketNotSent) {
		t.Errorf("Update() error = %v, want ErrPacketNotSent", err)
	}
}

func TestUpdate_PacketLayout(t *testing.T) {
	tests := []struct {
		name     string
		dynamic  bool
		size     uint8
		channels []uint16
		want     []byte
	}{
		{
			name:     "static padded",
			size:     8,
			channels: []uint16{0x0102, 0xA0B0},
			want:     []byte{0xA0, 0x01, 0x02, 0xA0, 0xB0, 0, 0, 0},
		},
		{
			name:     "static truncated",
			size:     4,
			channels: []uint16{1, 2, 3},
			want:     []byte{0xA0, 0x00, 0x01, 0x00},
		},
		{
			name:     "dynamic",
			dynamic:  true,
			size:     32,
			channels: []uint16{1500, 1000},
			want:     []byte{0xA0, 0x05, 0xDC, 0x03, 0xE8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := settings.New()
			profile.SetDynamicPayload(tt.dynamic)
			profile.SetPayloadSize(tt.size)
			profile.SetAckPayload(false)
			c, link, _ := scriptedController(t, profile, nil)
			if err := c.Connect(responderID); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}

			if err := c.Update(tt.channels, nil); err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			got := link.writes[len(link.writes)-1]
			if !bytes.Equal(got, tt.want) {
				t.Errorf("packet = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestDecodeChannels(t *testing.T) {
	channels := []uint16{9, 9, 9}
	n := decodeChannels(channels, []byte{0xA3, 0x12, 0x34, 0xFF, 0xFF, 0x01})
	if n != 2 {
		t.Errorf("decodeChannels() = %d, want 2", n)
	}
	if channels[0] != 0x1234 || channels[1] != 0xFFFF || channels[2] != 9 {
		t.Errorf("channels = %#04x", channels)
	}
}

// Polling never sleeps past the phase deadline
func TestWaitAvailable_Deadline(t *testing.T) {
	clock := timing.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	p := &peer{
		radio:    &scriptLink{},
		clock:    clock,
		timeouts: Timeouts{Poll: 16 * time.Millisecond},
	}

	start := clock.Now()
	ok, err := p.waitAvailable(50 * time.Millisecond)
	if ok || err != nil {
		t.Fatalf("waitAvailable() = %t, %v, want false, nil", ok, err)
	}
	if waited := clock.Now().Sub(start); waited != 50*time.Millisecond {
		t.Errorf("waitAvailable() returned after %v, want 50ms", waited)
	}
}
