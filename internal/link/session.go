package link

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/telemetry"
)

// encodeChannels writes [tag][ch0 hi][ch0 lo]... into dst and returns the
// number of bytes used. Channels that do not fit are dropped.
func encodeChannels(dst []byte, channels []uint16) int {
	dst[0] = protocol.PACKET_CHANNELS
	n := 1
	for _, v := range channels {
		if n+2 > len(dst) {
			break
		}
		binary.BigEndian.PutUint16(dst[n:], v)
		n += 2
	}
	return n
}

// decodeChannels fills channels from a channel packet and returns how many
// were present.
func decodeChannels(channels []uint16, pkt []byte) int {
	i := 0
	for ; i < len(channels); i++ {
		off := 1 + 2*i
		if off+2 > len(pkt) {
			break
		}
		channels[i] = binary.BigEndian.Uint16(pkt[off:])
	}
	return i
}

// Update sends one channel packet, collects piggybacked telemetry into tel
// and then holds the caller to the negotiated cadence. ErrTickTooShort and
// ErrNoAckPayload are informational.
func (c *Controller) Update(channels []uint16, tel *telemetry.Record) error {
	if c.state != protocol.StateConnected {
		return protocol.ErrNotConnected
	}

	size := protocol.MAX_PAYLOAD_SIZE
	if !c.settings.DynamicPayload() {
		size = min(max(int(c.settings.PayloadSize()), 1), protocol.MAX_PAYLOAD_SIZE)
	}
	clear(c.tx[:])
	n := encodeChannels(c.tx[:size], channels)
	if !c.settings.DynamicPayload() {
		n = size
	}

	ok, err := c.radio.Write(c.tx[:n])
	if err != nil {
		return fmt.Errorf("radio write: %w", err)
	}

	var result error
	switch {
	case !ok:
		result = protocol.ErrPacketNotSent
	case c.settings.AckPayloadActive() && tel != nil && tel.Size() > 0:
		n, got, err := c.radio.ReadAckPayload(c.ack[:])
		if err != nil {
			return fmt.Errorf("radio read ack payload: %w", err)
		}
		if got {
			tel.Load(c.ack[:n])
		} else {
			result = protocol.ErrNoAckPayload
		}
	}

	if late := c.pace(); late && result == nil {
		result = protocol.ErrTickTooShort
	}
	return result
}

// pace sleeps until one tick interval has passed since the previous call.
// It reports true when the interval had already passed.
func (c *Controller) pace() bool {
	late := false
	if !c.lastTick.IsZero() {
		elapsed := c.clock.Now().Sub(c.lastTick)
		if elapsed > c.interval {
			late = true
		} else {
			for remaining := c.interval - elapsed; remaining > 0; remaining = c.interval - c.clock.Now().Sub(c.lastTick) {
				c.clock.Sleep(min(remaining, time.Millisecond))
			}
		}
	}
	c.lastTick = c.clock.Now()
	return late
}

// Update drains every queued packet. Channel packets are decoded into
// channels and answered with tel on the next ack; DISCONNECT ends the
// session. It reports whether channels changed.
func (r *Responder) Update(channels []uint16, tel *telemetry.Record) (bool, error) {
	if r.state != protocol.StateConnected {
		return false, protocol.ErrNotConnected
	}

	updated := false
	for {
		pipe, ok, err := r.radio.Available()
		if err != nil {
			return updated, fmt.Errorf("radio available: %w", err)
		}
		if !ok {
			return updated, nil
		}
		n, err := r.radio.Read(r.rx[:])
		if err != nil {
			return updated, fmt.Errorf("radio read: %w", err)
		}
		if n == 0 {
			continue
		}
		pkt := r.rx[:n]

		switch tag := pkt[0]; {
		case protocol.IsChannelPacket(tag):
			decodeChannels(channels, pkt)
			updated = true
			if r.settings.AckPayloadActive() && tel != nil && tel.Size() > 0 {
				if err := r.radio.WriteAckPayload(pipe, tel.Bytes()); err != nil {
					return updated, fmt.Errorf("radio write ack payload: %w", err)
				}
			}

		case tag == protocol.PACKET_DISCONNECT:
			if !r.settings.Ack() {
				if err := r.reply(protocol.CONTROL_ACK); err != nil {
					return updated, err
				}
			}
			remote := r.remote
			r.setState(protocol.StateDisconnected)
			r.forget()
			r.logger.Printf("responder: %s disconnected", remote)
			r.record(remote, EventDisconnected, "")
			return updated, nil

		case tag == protocol.PACKET_RECONNECT:
			r.debugf("reconnect from %s", r.remote)
			if !r.settings.Ack() {
				if err := r.reply(protocol.CONTROL_ACK); err != nil {
					return updated, err
				}
			}

		default:
			r.debugf("ignoring packet 0x%02x", tag)
		}
	}
}

// reply sends one control byte and returns to listening
func (r *Responder) reply(b byte) error {
	r.clock.Sleep(r.timeouts.Turnaround)
	if err := r.stopListening(); err != nil {
		return err
	}
	if _, err := r.radio.Write(r.packet(r.settings, b)); err != nil {
		return fmt.Errorf("radio write: %w", err)
	}
	return r.listen()
}
