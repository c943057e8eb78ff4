package serialbridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/dbehnke/rclink/internal/radio"
)

// Serve runs the bridge side of the protocol, answering frames from rw by
// calling link. It returns nil when rw reaches EOF.
func Serve(rw io.ReadWriter, link radio.Link) error {
	rd := bufio.NewReader(rw)
	for {
		cmd, data, err := readFrame(rd)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe):
			return nil
		case errors.Is(err, ErrFrame):
			if err := writeFrame(rw, cmdError, []byte(err.Error())); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		reply, err := dispatch(link, cmd, data)
		if err != nil {
			msg := err.Error()
			if len(msg) > 255 {
				msg = msg[:255]
			}
			err = writeFrame(rw, cmdError, []byte(msg))
		} else {
			err = writeFrame(rw, cmd|replyFlag, reply)
		}
		if err != nil {
			return err
		}
	}
}

func dispatch(link radio.Link, cmd byte, data []byte) ([]byte, error) {
	switch cmd {
	case cmdConfigure:
		cfg, err := decodeConfig(data)
		if err != nil {
			return nil, err
		}
		return nil, link.Configure(cfg)

	case cmdOpenWriting:
		addr, err := address(data)
		if err != nil {
			return nil, err
		}
		return nil, link.OpenWritingPipe(addr)

	case cmdOpenReading:
		if len(data) < 1 {
			return nil, fmt.Errorf("%w: missing pipe", ErrFrame)
		}
		addr, err := address(data[1:])
		if err != nil {
			return nil, err
		}
		return nil, link.OpenReadingPipe(data[0], addr)

	case cmdStartListening:
		return nil, link.StartListening()

	case cmdStopListening:
		return nil, link.StopListening()

	case cmdWrite:
		ok, err := link.Write(data)
		if err != nil {
			return nil, err
		}
		return []byte{boolByte(ok)}, nil

	case cmdAvailable:
		pipe, ok, err := link.Available()
		if err != nil {
			return nil, err
		}
		return []byte{boolByte(ok), pipe}, nil

	case cmdRead:
		buf := make([]byte, radio.MaxPayloadSize)
		n, err := link.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil

	case cmdWriteAckPayload:
		if len(data) < 1 {
			return nil, fmt.Errorf("%w: missing pipe", ErrFrame)
		}
		return nil, link.WriteAckPayload(data[0], data[1:])

	case cmdReadAckPayload:
		buf := make([]byte, 1+radio.MaxPayloadSize)
		n, ok, err := link.ReadAckPayload(buf[1:])
		if err != nil {
			return nil, err
		}
		buf[0] = boolByte(ok)
		return buf[:1+n], nil

	case cmdFlush:
		return nil, link.Flush()
	}
	return nil, fmt.Errorf("%w: unknown command %s", ErrFrame, cmdName(cmd))
}

func address(b []byte) (radio.Address, error) {
	var a radio.Address
	if len(b) != len(a) {
		return a, fmt.Errorf("%w: address is %d bytes", ErrFrame, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
