package link

import (
	"fmt"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/radio"
	"github.com/dbehnke/rclink/internal/settings"
)

// Controller is the initiating end: it sends channel data and reads
// telemetry from the acknowledgments.
type Controller struct {
	peer
	store ControllerStore

	ack [protocol.MAX_PAYLOAD_SIZE]byte
}

// NewController creates a disconnected controller
func NewController(opts Options, store ControllerStore) *Controller {
	return &Controller{
		peer:  newPeer(opts, protocol.RoleController),
		store: store,
	}
}

// Pair broadcasts the controller identity on the pairing address and stores
// the settings record the responder answers with. Pairing never connects.
func (c *Controller) Pair() error {
	if c.state == protocol.StateConnected {
		return protocol.ErrAlreadyConnected
	}
	c.setState(protocol.StatePairing)
	defer c.abort()

	pairing := settings.PairingProfile()
	if err := c.applyPairing(); err != nil {
		return err
	}
	if err := c.openPipes(protocol.PairingAddress, c.self); err != nil {
		return err
	}
	if err := c.stopListening(); err != nil {
		return err
	}
	if err := c.radio.Flush(); err != nil {
		return fmt.Errorf("radio flush: %w", err)
	}

	c.debugf("broadcasting %s", c.self)
	ok, err := c.forceSend(c.packet(pairing, c.self[:]...), c.timeouts.Pair)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pair broadcast: %w", protocol.ErrTimeout)
	}

	if err := c.listen(); err != nil {
		return err
	}
	data, ok, err := c.receive(c.timeouts.Connect)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pair identity: %w", protocol.ErrLostConnection)
	}
	id, err := protocol.IdentityFromBytes(data)
	if err != nil || !id.Valid() {
		return fmt.Errorf("pair identity %v: %w", id, protocol.ErrBadData)
	}

	data, ok, err = c.receive(c.timeouts.Connect)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pair settings: %w", protocol.ErrLostConnection)
	}
	rec, err := settings.FromBytes(data)
	if err != nil {
		return fmt.Errorf("pair settings: %w", protocol.ErrBadData)
	}

	if err := c.store.SaveSettings(id, rec); err != nil {
		return fmt.Errorf("save settings for %s: %w", id, err)
	}
	c.remote = id
	c.logger.Printf("controller: paired with %s (%s)", id, rec)
	c.record(id, EventPaired, rec.String())
	return nil
}

// Connect opens a session with a responder paired earlier
func (c *Controller) Connect(remote protocol.PeerIdentity) (err error) {
	if c.state == protocol.StateConnected {
		return protocol.ErrAlreadyConnected
	}
	rec, ok, err := c.store.LoadSettings(remote)
	if err != nil {
		return fmt.Errorf("load settings for %s: %w", remote, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", remote, protocol.ErrUnknownPeer)
	}

	c.setState(protocol.StateConnecting)
	c.remote = remote
	defer func() {
		if err != nil {
			c.abort()
		}
	}()

	pairing := settings.PairingProfile()
	if err := c.applyPairing(); err != nil {
		return err
	}
	if err := c.openPipes(remote, c.self); err != nil {
		return err
	}
	if err := c.stopListening(); err != nil {
		return err
	}

	c.debugf("announcing to %s", remote)
	ok, err = c.forceSend(c.packet(pairing, c.self[:]...), c.timeouts.Pair)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("connect announce: %w", protocol.ErrTimeout)
	}

	if err := c.listen(); err != nil {
		return err
	}
	reply, ok, err := c.receive(c.timeouts.Connect)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("connect reply: %w", protocol.ErrLostConnection)
	}
	if err := c.stopListening(); err != nil {
		return err
	}

	switch reply[0] {
	case protocol.CONTROL_ACK:
	case protocol.CONTROL_NACK:
		c.record(remote, EventRefused, "")
		return fmt.Errorf("%s: %w", remote, protocol.ErrConnectionRefused)
	default:
		return fmt.Errorf("connect reply 0x%02x: %w", reply[0], protocol.ErrBadData)
	}

	if err := c.applySettings(rec, radio.PALevelHigh); err != nil {
		return err
	}
	c.settle()
	if err := c.verify(rec); err != nil {
		return err
	}

	c.establish(remote, rec)
	if err := c.store.SaveLastPeer(remote); err != nil {
		c.logger.Printf("controller: save last peer: %v", err)
	}
	c.logger.Printf("controller: connected to %s at %d Hz", remote, rec.CommsFrequency())
	c.record(remote, EventConnected, rec.String())
	return nil
}

// verify proves both ends switched to rec. The exchange depends on the
// negotiated ack mode.
func (c *Controller) verify(rec settings.Record) error {
	test := c.packet(rec, protocol.CONTROL_TEST)

	switch {
	case rec.AckPayloadActive():
		ok, err := c.forceSend(test, c.timeouts.Connect)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("verify send: %w", protocol.ErrBadData)
		}
		n, ok, err := c.radio.ReadAckPayload(c.ack[:])
		if err != nil {
			return fmt.Errorf("radio read ack payload: %w", err)
		}
		if !ok || n < 1 || c.ack[0] != protocol.CONTROL_TEST {
			return fmt.Errorf("verify ack payload: %w", protocol.ErrBadData)
		}

	case rec.Ack():
		ok, err := c.forceSend(test, c.timeouts.Connect)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("verify send: %w", protocol.ErrBadData)
		}

	default:
		if _, err := c.radio.Write(test); err != nil {
			return fmt.Errorf("radio write: %w", err)
		}
		if err := c.listen(); err != nil {
			return err
		}
		echo, ok, err := c.receive(c.timeouts.Connect)
		if err != nil {
			return err
		}
		if !ok || echo[0] != protocol.CONTROL_TEST {
			return fmt.Errorf("verify echo: %w", protocol.ErrBadData)
		}
	}

	return c.stopListening()
}

// ConnectLast connects to the last peer this controller was connected to
func (c *Controller) ConnectLast() error {
	last, err := c.store.LoadLastPeer()
	if err != nil {
		return fmt.Errorf("load last peer: %w", err)
	}
	if last.IsNoPeer() {
		return protocol.ErrUnknownPeer
	}
	return c.Connect(last)
}

// Resume reconnects to the last peer after a controller restart. It sends
// RECONNECT with the stored record and clears the last peer on failure.
func (c *Controller) Resume() error {
	if c.state == protocol.StateConnected {
		return protocol.ErrAlreadyConnected
	}
	last, err := c.store.LoadLastPeer()
	if err != nil {
		return fmt.Errorf("load last peer: %w", err)
	}
	if last.IsNoPeer() {
		return protocol.ErrNothingToResume
	}

	rec, ok, err := c.store.LoadSettings(last)
	if err != nil {
		return fmt.Errorf("load settings for %s: %w", last, err)
	}
	if !ok {
		c.forgetLast()
		return protocol.ErrNothingToResume
	}

	if err := c.reconnect(last, rec); err != nil {
		c.abort()
		c.forgetLast()
		c.record(last, EventResumeFailed, err.Error())
		return err
	}

	c.establish(last, rec)
	c.logger.Printf("controller: resumed session with %s", last)
	c.record(last, EventResumed, "")
	return nil
}

func (c *Controller) reconnect(remote protocol.PeerIdentity, rec settings.Record) error {
	if err := c.applySettings(rec, radio.PALevelHigh); err != nil {
		return err
	}
	if err := c.openPipes(remote, c.self); err != nil {
		return err
	}
	if err := c.stopListening(); err != nil {
		return err
	}

	pkt := c.packet(rec, protocol.PACKET_RECONNECT)
	if rec.Ack() {
		ok, err := c.forceSend(pkt, c.timeouts.Connect)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reconnect %s: %w", remote, protocol.ErrTimeout)
		}
		return nil
	}

	if _, err := c.radio.Write(pkt); err != nil {
		return fmt.Errorf("radio write: %w", err)
	}
	if err := c.listen(); err != nil {
		return err
	}
	reply, ok, err := c.receive(protocol.RC_RESUME_TICKS * rec.TickInterval())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reconnect %s: %w", remote, protocol.ErrTimeout)
	}
	if reply[0] != protocol.CONTROL_ACK {
		return fmt.Errorf("reconnect reply 0x%02x: %w", reply[0], protocol.ErrBadData)
	}
	return c.stopListening()
}

func (c *Controller) forgetLast() {
	if err := c.store.SaveLastPeer(protocol.NoPeer); err != nil {
		c.logger.Printf("controller: clear last peer: %v", err)
	}
}

// Disconnect ends the session. Without acks the responder must confirm with
// an explicit ACK; an unconfirmed disconnect leaves the session up.
func (c *Controller) Disconnect() error {
	if c.state != protocol.StateConnected {
		return protocol.ErrNotConnected
	}
	if err := c.stopListening(); err != nil {
		return err
	}

	pkt := c.packet(c.settings, protocol.PACKET_DISCONNECT)
	if c.settings.Ack() {
		ok, err := c.forceSend(pkt, c.timeouts.Connect)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("disconnect: %w", protocol.ErrPacketNotSent)
		}
	} else {
		if _, err := c.radio.Write(pkt); err != nil {
			return fmt.Errorf("radio write: %w", err)
		}
		if err := c.listen(); err != nil {
			return err
		}
		reply, ok, err := c.receive(c.timeouts.Connect)
		stopErr := c.stopListening()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("disconnect: %w", protocol.ErrTimeout)
		}
		if reply[0] != protocol.CONTROL_ACK {
			return fmt.Errorf("disconnect reply 0x%02x: %w", reply[0], protocol.ErrBadData)
		}
		if stopErr != nil {
			return stopErr
		}
	}

	remote := c.remote
	c.setState(protocol.StateDisconnected)
	c.forgetLast()
	c.logger.Printf("controller: disconnected from %s", remote)
	c.record(remote, EventDisconnected, "")
	return nil
}
