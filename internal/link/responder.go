package link

import (
	"fmt"

	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/radio"
	"github.com/dbehnke/rclink/internal/settings"
)

// Responder is the receiving end: it answers pairing broadcasts, accepts
// connections through its Validator and returns telemetry on acks.
type Responder struct {
	peer
	store     ResponderStore
	profile   settings.Record
	validator Validator
}

// NewResponder creates a disconnected responder. profile is the record sent
// to controllers at pairing. A nil validator accepts only the stored peer and
// answers with profile.
func NewResponder(opts Options, store ResponderStore, profile settings.Record, validator Validator) *Responder {
	if validator == nil {
		validator = StoreValidator{Store: store, Profile: profile}
	}
	return &Responder{
		peer:      newPeer(opts, protocol.RoleResponder),
		store:     store,
		profile:   profile,
		validator: validator,
	}
}

// Profile is the record offered at pairing
func (r *Responder) Profile() settings.Record { return r.profile }

// Pair waits on the pairing address for a controller broadcast, stores the
// controller as the paired peer and answers with identity and profile.
func (r *Responder) Pair() error {
	if r.state == protocol.StateConnected {
		return protocol.ErrAlreadyConnected
	}
	r.setState(protocol.StatePairing)
	defer r.abort()

	pairing := settings.PairingProfile()
	if err := r.applyPairing(); err != nil {
		return err
	}
	if err := r.radio.OpenReadingPipe(protocol.READ_PIPE, radio.Address(protocol.PairingAddress)); err != nil {
		return fmt.Errorf("radio open reading pipe: %w", err)
	}
	if err := r.listenFresh(); err != nil {
		return err
	}

	r.debugf("waiting for a pairing broadcast")
	data, ok, err := r.receive(r.timeouts.Pair)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pair broadcast: %w", protocol.ErrTimeout)
	}
	id, err := protocol.IdentityFromBytes(data)
	if err != nil || !id.Valid() {
		return fmt.Errorf("pair identity %v: %w", id, protocol.ErrBadData)
	}
	if err := r.store.SavePeer(id); err != nil {
		return fmt.Errorf("save peer %s: %w", id, err)
	}
	r.remote = id

	if err := r.stopListening(); err != nil {
		return err
	}
	if err := r.radio.OpenWritingPipe(radio.Address(id)); err != nil {
		return fmt.Errorf("radio open writing pipe: %w", err)
	}

	r.settle()
	ok, err = r.forceSend(r.packet(pairing, r.self[:]...), r.timeouts.Connect)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pair identity reply: %w", protocol.ErrLostConnection)
	}

	r.settle()
	ok, err = r.forceSend(r.packet(pairing, r.profile.Bytes()...), r.timeouts.Connect)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pair settings reply: %w", protocol.ErrLostConnection)
	}

	r.logger.Printf("responder: paired with %s", id)
	r.record(id, EventPaired, r.profile.String())
	return nil
}

// Connect waits for a controller announce, asks the validator and runs the
// settings verification on success.
func (r *Responder) Connect() (err error) {
	if r.state == protocol.StateConnected {
		return protocol.ErrAlreadyConnected
	}
	if err := r.store.SaveConnected(false); err != nil {
		return fmt.Errorf("save connected flag: %w", err)
	}
	stored, _, err := r.store.LoadPeer()
	if err != nil {
		return fmt.Errorf("load peer: %w", err)
	}

	r.setState(protocol.StateConnecting)
	defer func() {
		if err != nil {
			r.abort()
		}
	}()

	pairing := settings.PairingProfile()
	if err := r.applyPairing(); err != nil {
		return err
	}
	if err := r.openPipes(stored, r.self); err != nil {
		return err
	}
	if err := r.listenFresh(); err != nil {
		return err
	}

	r.debugf("waiting for a connect announce")
	data, ok, err := r.receive(r.timeouts.Pair)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("connect announce: %w", protocol.ErrTimeout)
	}
	candidate, err := protocol.IdentityFromBytes(data)
	if err != nil {
		return fmt.Errorf("connect announce: %w", protocol.ErrBadData)
	}
	r.remote = candidate

	rec, accept := r.validator.Validate(candidate)
	reply := byte(protocol.CONTROL_NACK)
	if accept {
		reply = protocol.CONTROL_ACK
	}
	r.debugf("%s accept=%t", candidate, accept)

	r.settle()
	if err := r.stopListening(); err != nil {
		return err
	}
	if err := r.radio.OpenWritingPipe(radio.Address(candidate)); err != nil {
		return fmt.Errorf("radio open writing pipe: %w", err)
	}
	ok, err = r.forceSend(r.packet(pairing, reply), r.timeouts.Connect)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("connect reply: %w", protocol.ErrLostConnection)
	}
	if !accept {
		r.logger.Printf("responder: refused %s", candidate)
		r.record(candidate, EventRefused, "")
		return fmt.Errorf("%s: %w", candidate, protocol.ErrConnectionRefused)
	}

	if err := r.applySettings(rec, radio.PALevelHigh); err != nil {
		return err
	}
	if err := r.verify(rec); err != nil {
		return err
	}

	r.establish(candidate, rec)
	if err := r.store.SaveLastPeer(candidate); err != nil {
		r.logger.Printf("responder: save last peer: %v", err)
	}
	if err := r.store.SaveConnected(true); err != nil {
		r.logger.Printf("responder: save connected flag: %v", err)
	}
	if err := r.preloadTelemetry(); err != nil {
		return err
	}

	r.logger.Printf("responder: connected to %s at %d Hz", candidate, rec.CommsFrequency())
	r.record(candidate, EventConnected, rec.String())
	return nil
}

// verify is the responder half of the settings verification. The radio is
// left listening for the session.
func (r *Responder) verify(rec settings.Record) error {
	if rec.AckPayloadActive() {
		test := []byte{protocol.CONTROL_TEST}
		if err := r.radio.WriteAckPayload(protocol.READ_PIPE, test); err != nil {
			return fmt.Errorf("radio write ack payload: %w", err)
		}
	}
	if err := r.listen(); err != nil {
		return err
	}

	data, ok, err := r.receive(r.timeouts.Connect)
	if err != nil {
		return err
	}
	if !ok || data[0] != protocol.CONTROL_TEST {
		return fmt.Errorf("verify receive: %w", protocol.ErrBadData)
	}
	if rec.Ack() {
		return nil
	}

	// No radio acks: echo the test byte back
	r.settle()
	if err := r.stopListening(); err != nil {
		return err
	}
	if _, err := r.radio.Write(r.packet(rec, protocol.CONTROL_TEST)); err != nil {
		return fmt.Errorf("radio write: %w", err)
	}
	return r.listen()
}

// Resume restores a session the unit was in when it lost power, without any
// radio traffic. The controller's RECONNECT is answered by Update.
func (r *Responder) Resume() error {
	if r.state == protocol.StateConnected {
		return protocol.ErrAlreadyConnected
	}
	connected, err := r.store.LoadConnected()
	if err != nil {
		return fmt.Errorf("load connected flag: %w", err)
	}
	last, err := r.store.LoadLastPeer()
	if err != nil {
		return fmt.Errorf("load last peer: %w", err)
	}
	if !connected || last.IsNoPeer() {
		return protocol.ErrNothingToResume
	}

	rec, accept := r.validator.Validate(last)
	if !accept {
		r.forget()
		r.record(last, EventResumeFailed, "peer no longer accepted")
		return protocol.ErrNothingToResume
	}

	if err := r.applySettings(rec, radio.PALevelHigh); err != nil {
		return err
	}
	if err := r.openPipes(last, r.self); err != nil {
		return err
	}
	if err := r.listen(); err != nil {
		return err
	}

	r.establish(last, rec)
	if err := r.preloadTelemetry(); err != nil {
		r.abort()
		return err
	}
	r.logger.Printf("responder: resumed session with %s", last)
	r.record(last, EventResumed, "")
	return nil
}

func (r *Responder) forget() {
	if err := r.store.SaveLastPeer(protocol.NoPeer); err != nil {
		r.logger.Printf("responder: clear last peer: %v", err)
	}
	if err := r.store.SaveConnected(false); err != nil {
		r.logger.Printf("responder: clear connected flag: %v", err)
	}
}

// preloadTelemetry queues the current telemetry so the first channel packet
// is answered with a report.
func (r *Responder) preloadTelemetry() error {
	if !r.settings.AckPayloadActive() || r.telemetry.Size() == 0 {
		return nil
	}
	if err := r.radio.WriteAckPayload(protocol.READ_PIPE, r.telemetry.Bytes()); err != nil {
		return fmt.Errorf("radio write ack payload: %w", err)
	}
	return nil
}
