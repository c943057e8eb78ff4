package serialbridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/dbehnke/rclink/internal/correction"
	"github.com/dbehnke/rclink/internal/radio"
)

// Frame layout: [sync][cmd][len][payload...][crc8]. The checksum covers
// cmd, len and payload.
const (
	frameSync     = 0x7E
	frameOverhead = 4
	maxFrameData  = 1 + radio.MaxPayloadSize // pipe byte + payload
)

// Commands sent by the host. Replies carry cmd|replyFlag, or cmdError with
// a text payload.
const (
	cmdConfigure       = 0x01
	cmdOpenWriting     = 0x02
	cmdOpenReading     = 0x03
	cmdStartListening  = 0x04
	cmdStopListening   = 0x05
	cmdWrite           = 0x06
	cmdAvailable       = 0x07
	cmdRead            = 0x08
	cmdWriteAckPayload = 0x09
	cmdReadAckPayload  = 0x0A
	cmdFlush           = 0x0B

	replyFlag = 0x80
	cmdError  = 0xFF
)

var (
	// ErrFrame reports a malformed or unexpected frame on the serial line
	ErrFrame = errors.New("serialbridge: bad frame")
	// ErrRemote wraps an error reported by the bridge firmware
	ErrRemote = errors.New("serialbridge: bridge error")
)

func cmdName(cmd byte) string {
	switch cmd &^ replyFlag {
	case cmdConfigure:
		return "CONFIGURE"
	case cmdOpenWriting:
		return "OPEN_WRITING"
	case cmdOpenReading:
		return "OPEN_READING"
	case cmdStartListening:
		return "START_LISTENING"
	case cmdStopListening:
		return "STOP_LISTENING"
	case cmdWrite:
		return "WRITE"
	case cmdAvailable:
		return "AVAILABLE"
	case cmdRead:
		return "READ"
	case cmdWriteAckPayload:
		return "WRITE_ACK_PAYLOAD"
	case cmdReadAckPayload:
		return "READ_ACK_PAYLOAD"
	case cmdFlush:
		return "FLUSH"
	}
	if cmd == cmdError {
		return "ERROR"
	}
	return fmt.Sprintf("0x%02X", cmd)
}

func writeFrame(w io.Writer, cmd byte, data []byte) error {
	if len(data) > 255 {
		return fmt.Errorf("%w: %d byte payload", ErrFrame, len(data))
	}
	frame := make([]byte, 0, len(data)+frameOverhead)
	frame = append(frame, frameSync, cmd, byte(len(data)))
	frame = append(frame, data...)
	frame = append(frame, correction.CRC8(frame[1:]))
	_, err := w.Write(frame)
	return err
}

// readFrame skips noise up to the next sync byte and returns one checked frame
func readFrame(r *bufio.Reader) (byte, []byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		if b == frameSync {
			break
		}
	}

	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	if hdr[0] != cmdError && int(hdr[1]) > maxFrameData {
		return 0, nil, fmt.Errorf("%w: %s length %d", ErrFrame, cmdName(hdr[0]), hdr[1])
	}
	body := make([]byte, 2+int(hdr[1])+1)
	copy(body, hdr[:])
	if _, err := io.ReadFull(r, body[2:]); err != nil {
		return 0, nil, err
	}
	if !correction.CheckCRC8(body) {
		return 0, nil, fmt.Errorf("%w: checksum mismatch on %s", ErrFrame, cmdName(hdr[0]))
	}
	return hdr[0], body[2 : len(body)-1], nil
}

// Config encoding: channel, rate, pa, size, flags, retry delay, retry count
const (
	flagDynamic = 1 << iota
	flagAutoAck
	flagAckPayloads

	configSize = 7
)

func encodeConfig(c radio.Config) []byte {
	var flags byte
	if c.DynamicPayloads {
		flags |= flagDynamic
	}
	if c.AutoAck {
		flags |= flagAutoAck
	}
	if c.AckPayloads {
		flags |= flagAckPayloads
	}
	return []byte{c.Channel, byte(c.DataRate), byte(c.PALevel), c.PayloadSize, flags, c.RetryDelay, c.RetryCount}
}

func decodeConfig(b []byte) (radio.Config, error) {
	if len(b) != configSize {
		return radio.Config{}, fmt.Errorf("%w: config is %d bytes", ErrFrame, len(b))
	}
	return radio.Config{
		Channel:         b[0],
		DataRate:        radio.DataRate(b[1]),
		PALevel:         radio.PALevel(b[2]),
		PayloadSize:     b[3],
		DynamicPayloads: b[4]&flagDynamic != 0,
		AutoAck:         b[4]&flagAutoAck != 0,
		AckPayloads:     b[4]&flagAckPayloads != 0,
		RetryDelay:      b[5],
		RetryCount:      b[6],
	}, nil
}
