// Package serialbridge drives a radio that sits behind a USB serial bridge.
// Every radio.Link call becomes one request frame answered by one reply.
package serialbridge

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/dbehnke/rclink/internal/radio"
)

// Config holds serial port configuration
type Config struct {
	Device      string        // e.g. /dev/ttyUSB0
	Baud        int           // 115200 when zero
	ReadTimeout time.Duration // 500ms when zero
}

// Bridge is a radio.Link proxied over a byte stream
type Bridge struct {
	mu     sync.Mutex
	port   io.ReadWriter
	closer io.Closer
	rd     *bufio.Reader
	logger *log.Logger
	debug  bool
}

var _ radio.Link = (*Bridge)(nil)

// Open opens the serial device and wraps it in a Bridge
func Open(cfg Config, logger *log.Logger, debug bool) (*Bridge, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	b := New(port, logger, debug)
	b.closer = port
	return b, nil
}

// New wraps an already open stream
func New(port io.ReadWriter, logger *log.Logger, debug bool) *Bridge {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Bridge{
		port:   port,
		rd:     bufio.NewReader(port),
		logger: logger,
		debug:  debug,
	}
}

// Close releases the serial port
func (b *Bridge) Close() error {
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}

// call sends one request and waits for its reply
func (b *Bridge) call(cmd byte, data []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.debug {
		b.logger.Printf("serialbridge: -> %s % X", cmdName(cmd), data)
	}
	if err := writeFrame(b.port, cmd, data); err != nil {
		return nil, fmt.Errorf("serialbridge: %s: %w", cmdName(cmd), err)
	}

	rcmd, reply, err := readFrame(b.rd)
	if err != nil {
		return nil, fmt.Errorf("serialbridge: %s reply: %w", cmdName(cmd), err)
	}
	if b.debug {
		b.logger.Printf("serialbridge: <- %s % X", cmdName(rcmd), reply)
	}

	switch rcmd {
	case cmd | replyFlag:
		return reply, nil
	case cmdError:
		return nil, fmt.Errorf("%w: %s: %s", ErrRemote, cmdName(cmd), reply)
	default:
		return nil, fmt.Errorf("%w: %s answered with %s", ErrFrame, cmdName(cmd), cmdName(rcmd))
	}
}

func (b *Bridge) Configure(cfg radio.Config) error {
	_, err := b.call(cmdConfigure, encodeConfig(cfg))
	return err
}

func (b *Bridge) OpenWritingPipe(addr radio.Address) error {
	_, err := b.call(cmdOpenWriting, addr[:])
	return err
}

func (b *Bridge) OpenReadingPipe(pipe uint8, addr radio.Address) error {
	_, err := b.call(cmdOpenReading, append([]byte{pipe}, addr[:]...))
	return err
}

func (b *Bridge) StartListening() error {
	_, err := b.call(cmdStartListening, nil)
	return err
}

func (b *Bridge) StopListening() error {
	_, err := b.call(cmdStopListening, nil)
	return err
}

func (b *Bridge) Write(buf []byte) (bool, error) {
	reply, err := b.call(cmdWrite, buf)
	if err != nil {
		return false, err
	}
	if len(reply) != 1 {
		return false, fmt.Errorf("%w: WRITE reply is %d bytes", ErrFrame, len(reply))
	}
	return reply[0] != 0, nil
}

func (b *Bridge) Available() (uint8, bool, error) {
	reply, err := b.call(cmdAvailable, nil)
	if err != nil {
		return 0, false, err
	}
	if len(reply) != 2 {
		return 0, false, fmt.Errorf("%w: AVAILABLE reply is %d bytes", ErrFrame, len(reply))
	}
	return reply[1], reply[0] != 0, nil
}

func (b *Bridge) Read(buf []byte) (int, error) {
	reply, err := b.call(cmdRead, nil)
	if err != nil {
		return 0, err
	}
	return copy(buf, reply), nil
}

func (b *Bridge) WriteAckPayload(pipe uint8, buf []byte) error {
	_, err := b.call(cmdWriteAckPayload, append([]byte{pipe}, buf...))
	return err
}

// ReadAckPayload replies with a leading present byte followed by the payload
func (b *Bridge) ReadAckPayload(buf []byte) (int, bool, error) {
	reply, err := b.call(cmdReadAckPayload, nil)
	if err != nil {
		return 0, false, err
	}
	if len(reply) < 1 {
		return 0, false, fmt.Errorf("%w: empty READ_ACK_PAYLOAD reply", ErrFrame)
	}
	if reply[0] == 0 {
		return 0, false, nil
	}
	return copy(buf, reply[1:]), true, nil
}

func (b *Bridge) Flush() error {
	_, err := b.call(cmdFlush, nil)
	return err
}
