// Package sim is an in-process radio medium. Links attached to the same
// Medium hear each other when their air settings match, which lets both
// ends of the link protocol run in one process.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dbehnke/rclink/internal/radio"
)

// Hardware limits mirrored from the nRF24L01+
const (
	FIFODepth = 3
	NumPipes  = 6
)

var (
	ErrListening = errors.New("sim: write while listening")
	ErrNoPipe    = errors.New("sim: writing pipe not open")
	ErrBadPipe   = errors.New("sim: pipe out of range")
)

// Medium is the shared air between links
type Medium struct {
	mu    sync.Mutex
	links []*Link
}

func NewMedium() *Medium {
	return &Medium{}
}

// NewLink attaches a radio to the medium
func (m *Medium) NewLink(name string) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := &Link{
		medium: m,
		name:   name,
		cfg:    radio.Config{PayloadSize: radio.MaxPayloadSize, AutoAck: true},
	}
	m.links = append(m.links, l)
	return l
}

type packet struct {
	pipe uint8
	data []byte
}

// Link is one simulated transceiver. All state is guarded by the medium lock.
type Link struct {
	medium *Medium
	name   string

	cfg       radio.Config
	writeAddr radio.Address
	writeOpen bool
	readPipes [NumPipes]*radio.Address
	listening bool

	rx         []packet
	ackQueue   [NumPipes][][]byte
	lastAck    []byte
	lastAckSet bool

	drop   int
	writes int
}

var _ radio.Link = (*Link)(nil)

func (l *Link) String() string { return l.name }

// Config returns the parameters last applied with Configure
func (l *Link) Config() radio.Config {
	l.medium.mu.Lock()
	defer l.medium.mu.Unlock()
	return l.cfg
}

// Listening reports whether the link is in receive mode
func (l *Link) Listening() bool {
	l.medium.mu.Lock()
	defer l.medium.mu.Unlock()
	return l.listening
}

// DropWrites makes the next n writes vanish in the air
func (l *Link) DropWrites(n int) {
	l.medium.mu.Lock()
	l.drop = n
	l.medium.mu.Unlock()
}

// Writes counts every Write call that reached the air
func (l *Link) Writes() int {
	l.medium.mu.Lock()
	defer l.medium.mu.Unlock()
	return l.writes
}

func (l *Link) Configure(cfg radio.Config) error {
	if cfg.PayloadSize == 0 || cfg.PayloadSize > radio.MaxPayloadSize {
		cfg.PayloadSize = radio.MaxPayloadSize
	}
	l.medium.mu.Lock()
	l.cfg = cfg
	l.medium.mu.Unlock()
	return nil
}

func (l *Link) OpenWritingPipe(addr radio.Address) error {
	l.medium.mu.Lock()
	l.writeAddr = addr
	l.writeOpen = true
	l.medium.mu.Unlock()
	return nil
}

func (l *Link) OpenReadingPipe(pipe uint8, addr radio.Address) error {
	if pipe >= NumPipes {
		return fmt.Errorf("%w: %d", ErrBadPipe, pipe)
	}
	l.medium.mu.Lock()
	l.readPipes[pipe] = &addr
	l.medium.mu.Unlock()
	return nil
}

func (l *Link) StartListening() error {
	l.medium.mu.Lock()
	l.listening = true
	l.medium.mu.Unlock()
	return nil
}

func (l *Link) StopListening() error {
	l.medium.mu.Lock()
	l.listening = false
	l.medium.mu.Unlock()
	return nil
}

// Write delivers buf to the first listening link whose air settings and
// reading pipe match. The payload is padded or truncated to the static
// payload size unless dynamic payloads are on.
func (l *Link) Write(buf []byte) (bool, error) {
	m := l.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.listening {
		return false, ErrListening
	}
	if !l.writeOpen {
		return false, ErrNoPipe
	}

	l.writes++
	l.lastAck, l.lastAckSet = nil, false

	if l.drop > 0 {
		l.drop--
		return !l.cfg.AutoAck, nil
	}

	data := l.frame(buf)

	delivered := false
	var rcv *Link
	var pipe uint8
	for _, r := range m.links {
		if r == l || !r.listening || !airMatch(l.cfg, r.cfg) {
			continue
		}
		if p, ok := r.pipeFor(l.writeAddr); ok {
			rcv, pipe = r, p
			break
		}
	}
	if rcv != nil && len(rcv.rx) < FIFODepth {
		rcv.rx = append(rcv.rx, packet{pipe: pipe, data: data})
		delivered = true
	}

	if !l.cfg.AutoAck {
		return true, nil
	}
	if !delivered || !rcv.cfg.AutoAck {
		return false, nil
	}

	if l.cfg.AckPayloads && rcv.cfg.AckPayloads && len(rcv.ackQueue[pipe]) > 0 {
		l.lastAck = rcv.ackQueue[pipe][0]
		l.lastAckSet = true
		rcv.ackQueue[pipe] = rcv.ackQueue[pipe][1:]
	}
	return true, nil
}

func (l *Link) frame(buf []byte) []byte {
	size := int(l.cfg.PayloadSize)
	if l.cfg.DynamicPayloads {
		size = min(len(buf), radio.MaxPayloadSize)
	}
	data := make([]byte, size)
	copy(data, buf)
	return data
}

func (l *Link) pipeFor(addr radio.Address) (uint8, bool) {
	for i, a := range l.readPipes {
		if a != nil && *a == addr {
			return uint8(i), true
		}
	}
	return 0, false
}

func airMatch(a, b radio.Config) bool {
	if a.Channel != b.Channel || a.DataRate != b.DataRate || a.DynamicPayloads != b.DynamicPayloads {
		return false
	}
	return a.DynamicPayloads || a.PayloadSize == b.PayloadSize
}

func (l *Link) Available() (uint8, bool, error) {
	l.medium.mu.Lock()
	defer l.medium.mu.Unlock()
	if len(l.rx) == 0 {
		return 0, false, nil
	}
	return l.rx[0].pipe, true, nil
}

// Read pops the oldest payload. An empty FIFO reads zero bytes.
func (l *Link) Read(buf []byte) (int, error) {
	l.medium.mu.Lock()
	defer l.medium.mu.Unlock()
	if len(l.rx) == 0 {
		return 0, nil
	}
	p := l.rx[0]
	l.rx = l.rx[1:]
	return copy(buf, p.data), nil
}

// QueuedAcks counts the ack payloads waiting on pipe
func (l *Link) QueuedAcks(pipe uint8) int {
	l.medium.mu.Lock()
	defer l.medium.mu.Unlock()
	if pipe >= NumPipes {
		return 0
	}
	return len(l.ackQueue[pipe])
}

// WriteAckPayload queues buf for pipe. When the TX FIFO is full the oldest
// queued payload is discarded.
func (l *Link) WriteAckPayload(pipe uint8, buf []byte) error {
	if pipe >= NumPipes {
		return fmt.Errorf("%w: %d", ErrBadPipe, pipe)
	}
	data := make([]byte, min(len(buf), radio.MaxPayloadSize))
	copy(data, buf)

	l.medium.mu.Lock()
	defer l.medium.mu.Unlock()
	if len(l.ackQueue[pipe]) >= FIFODepth {
		l.ackQueue[pipe] = l.ackQueue[pipe][1:]
	}
	l.ackQueue[pipe] = append(l.ackQueue[pipe], data)
	return nil
}

func (l *Link) ReadAckPayload(buf []byte) (int, bool, error) {
	l.medium.mu.Lock()
	defer l.medium.mu.Unlock()
	if !l.lastAckSet {
		return 0, false, nil
	}
	n := copy(buf, l.lastAck)
	l.lastAck, l.lastAckSet = nil, false
	return n, true, nil
}

func (l *Link) Flush() error {
	l.medium.mu.Lock()
	l.rx = nil
	l.medium.mu.Unlock()
	return nil
}
