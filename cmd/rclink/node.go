package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dbehnke/rclink/internal/export"
	"github.com/dbehnke/rclink/internal/link"
	"github.com/dbehnke/rclink/internal/protocol"
	"github.com/dbehnke/rclink/internal/settings"
	"github.com/dbehnke/rclink/internal/telemetry"
)

const (
	STATS_INTERVAL = 30 * time.Second
	RETRY_DELAY    = time.Second
)

// Store is what both roles persist
type Store interface {
	link.ControllerStore
	link.ResponderStore
}

// Plan lists the steps a node runs before its session
type Plan struct {
	Resume  bool // try to restore the previous session first
	Pair    bool // pair before connecting
	Connect bool // open a session, otherwise stop after pairing
}

// PlanFor maps a -mode value to steps. known reports whether a paired peer
// is already stored.
func PlanFor(mode string, known bool) (Plan, error) {
	switch mode {
	case "pair":
		return Plan{Pair: true}, nil
	case "connect":
		return Plan{Pair: !known, Connect: true}, nil
	case "run":
		return Plan{Resume: known, Pair: !known, Connect: true}, nil
	}
	return Plan{}, fmt.Errorf("unknown mode %q", mode)
}

// Node runs one end of the link until its context ends
type Node struct {
	Name    string
	Options link.Options
	Store   Store
	Profile settings.Record       // responder only
	Peer    protocol.PeerIdentity // controller only, NoPeer picks the last or newly paired one
	Logger  *log.Logger

	Exporter    *export.Exporter // controller only, optional
	ExportEvery int
	Sensors     func(tel *telemetry.Record) // responder only, optional
	Sticks      func(tick int, channels []uint16)

	controller *link.Controller
	responder  *link.Responder
}

// Run executes plan with the role selected by role
func (n *Node) Run(ctx context.Context, role protocol.Role, plan Plan) error {
	if n.ExportEvery <= 0 {
		n.ExportEvery = 1
	}
	if n.Sticks == nil {
		n.Sticks = Sweep
	}
	if role == protocol.RoleController {
		n.controller = link.NewController(n.Options, n.Store)
		return n.runController(ctx, plan)
	}
	n.responder = link.NewResponder(n.Options, n.Store, n.Profile, nil)
	return n.runResponder(ctx, plan)
}

// retry repeats op until it succeeds, fails with a non-protocol error or
// ctx ends
func (n *Node) retry(ctx context.Context, what string, op func() error) error {
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("%s: %w", what, err)
		}
		n.Logger.Printf("%s: %s attempt %d failed: %v", n.Name, what, attempt, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(RETRY_DELAY):
		}
	}
}

func retryable(err error) bool {
	for _, e := range []error{
		protocol.ErrTimeout,
		protocol.ErrLostConnection,
		protocol.ErrConnectionRefused,
		protocol.ErrBadData,
		protocol.ErrPacketNotSent,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

func (n *Node) runController(ctx context.Context, plan Plan) error {
	c := n.controller

	if plan.Resume {
		err := c.Resume()
		switch {
		case err == nil:
			n.Logger.Printf("%s: resumed session with %s", n.Name, c.Remote())
			return n.controllerSession(ctx)
		case errors.Is(err, protocol.ErrNothingToResume):
		default:
			n.Logger.Printf("%s: resume failed: %v", n.Name, err)
		}
	}

	peer := n.Peer
	if plan.Pair {
		if err := n.retry(ctx, "pair", c.Pair); err != nil {
			return err
		}
		peer = c.Remote()
	}
	if !plan.Connect {
		return nil
	}

	if peer.IsNoPeer() {
		last, err := n.Store.LoadLastPeer()
		if err != nil {
			return fmt.Errorf("load last peer: %w", err)
		}
		if last.IsNoPeer() {
			return fmt.Errorf("no peer configured and none connected before: %w", protocol.ErrUnknownPeer)
		}
		peer = last
	}

	if err := n.retry(ctx, "connect", func() error { return c.Connect(peer) }); err != nil {
		return err
	}
	return n.controllerSession(ctx)
}

func (n *Node) controllerSession(ctx context.Context) error {
	c := n.controller
	channels := make([]uint16, c.Settings().NumChannels())
	tel := c.Telemetry()

	var sent, late, noTel, lost, streak int
	lostAfter := int(protocol.RC_TIMEOUT / c.TickInterval())
	lastStats := time.Now()

	n.Logger.Printf("%s: session with %s at %v per tick", n.Name, c.Remote(), c.TickInterval())

	for tick := 0; ; tick++ {
		select {
		case <-ctx.Done():
			n.Logger.Printf("%s: disconnecting from %s", n.Name, c.Remote())
			if err := c.Disconnect(); err != nil {
				n.Logger.Printf("%s: disconnect: %v", n.Name, err)
			}
			return nil
		default:
		}

		n.Sticks(tick, channels)
		err := c.Update(channels, tel)
		switch {
		case err == nil:
			sent++
			streak = 0
			if n.Exporter != nil && tel.Size() > 0 && tick%n.ExportEvery == 0 {
				if err := n.Exporter.Write(c.Remote(), tel, time.Now()); err != nil && n.Options.Debug {
					n.Logger.Printf("%s: %v", n.Name, err)
				}
			}
		case errors.Is(err, protocol.ErrTickTooShort):
			sent++
			late++
		case errors.Is(err, protocol.ErrNoAckPayload):
			sent++
			noTel++
		case errors.Is(err, protocol.ErrPacketNotSent):
			lost++
			streak++
			if streak == lostAfter {
				n.Logger.Printf("%s: no ack from %s for %v", n.Name, c.Remote(), protocol.RC_TIMEOUT)
			}
		default:
			return fmt.Errorf("session: %w", err)
		}

		if time.Since(lastStats) >= STATS_INTERVAL {
			lastStats = time.Now()
			n.Logger.Printf("%s: Stats: sent %d, lost %d, late %d, no telemetry %d", n.Name, sent, lost, late, noTel)
			if n.Exporter != nil {
				written, failed, dropped := n.Exporter.Stats()
				n.Logger.Printf("%s: Export: written %d, failed %d, dropped %d", n.Name, written, failed, dropped)
			}
		}
	}
}

func (n *Node) runResponder(ctx context.Context, plan Plan) error {
	r := n.responder

	if plan.Resume {
		err := r.Resume()
		switch {
		case err == nil:
			if err := n.responderSession(ctx); err != nil || !plan.Connect {
				return err
			}
		case errors.Is(err, protocol.ErrNothingToResume):
		default:
			n.Logger.Printf("%s: resume failed: %v", n.Name, err)
		}
	}

	if plan.Pair {
		if err := n.retry(ctx, "pair", r.Pair); err != nil {
			return err
		}
	}
	if !plan.Connect {
		return nil
	}

	// A disconnected session goes back to waiting for the controller
	for ctx.Err() == nil {
		if err := n.retry(ctx, "connect", r.Connect); err != nil {
			return err
		}
		if err := n.responderSession(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) responderSession(ctx context.Context) error {
	r := n.responder
	channels := make([]uint16, r.Settings().NumChannels())
	tel := r.Telemetry()

	poll := n.Options.Timeouts.Poll
	if poll <= 0 {
		poll = protocol.RC_POLL_INTERVAL
	}

	var packets int
	lastPacket := time.Now()
	lastStats := time.Now()
	failsafe := false

	n.Logger.Printf("%s: session with %s", n.Name, r.Remote())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(poll):
		}

		if n.Sensors != nil {
			n.Sensors(tel)
		}
		updated, err := r.Update(channels, tel)
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}
		if r.State() != protocol.StateConnected {
			n.Logger.Printf("%s: session ended", n.Name)
			return nil
		}

		if updated {
			packets++
			lastPacket = time.Now()
			if failsafe {
				n.Logger.Printf("%s: signal back", n.Name)
				failsafe = false
			}
		} else if !failsafe && time.Since(lastPacket) > protocol.RC_TIMEOUT {
			n.Logger.Printf("%s: no packets for %v, holding failsafe", n.Name, protocol.RC_TIMEOUT)
			failsafe = true
		}

		if time.Since(lastStats) >= STATS_INTERVAL {
			lastStats = time.Now()
			n.Logger.Printf("%s: Stats: packets %d, channels %v", n.Name, packets, channels)
		}
	}
}
