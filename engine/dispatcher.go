// File: engine/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatcher: drains hardware events and turns them into endpoint state
// transitions and notifications.

package engine

import (
	"errors"

	"go.uber.org/multierr"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/core/protocol"
)

type notification struct {
	id  int
	sig api.Signal
}

// Pump makes one pass over the open devices in index order, handling at
// most one hardware event per device. It never blocks on hardware and
// returns the number of events handled.
//
// Errors of individual events are aggregated and do not stop the pass; an
// event class neither the engine nor the hardware recognizes is fatal and
// returns immediately with ErrUnrecognizedEvent.
func (r *Runtime) Pump() (int, error) {
	r.pumpMu.Lock()
	defer r.pumpMu.Unlock()

	var (
		handled int
		errs    error
	)
	for _, d := range r.Devices() {
		ev := d.port.hw.Receive()
		if ev.Class == api.EventNone {
			continue
		}
		handled++
		r.metrics.Events.WithLabelValues(ev.Class.String()).Inc()

		notes, err := d.port.dispatch(ev)
		for _, n := range notes {
			r.notify(n)
		}
		if err == nil {
			continue
		}
		r.metrics.Errors.WithLabelValues(api.CodeOf(err).String()).Inc()
		if errors.Is(err, api.ErrUnrecognizedEvent) {
			r.log.Error().Err(err).Int("device", d.index).Msg("unrecognized hardware event")
			return handled, multierr.Append(errs, err)
		}
		d.port.log.Warn().Err(err).Str("class", ev.Class.String()).Msg("event dropped")
		errs = multierr.Append(errs, err)
	}
	return handled, errs
}

func (r *Runtime) notify(n notification) {
	r.metrics.Notifications.WithLabelValues(n.sig.Reason.String()).Inc()
	r.cfg.Notifier.Notify(n.id, n.sig)
}

// dispatch resolves ev to its endpoint. The port lock is released before
// the returned notifications are delivered.
func (p *Port) dispatch(ev api.Event) ([]notification, error) {
	switch ev.Class {
	case api.EventHighRecv:
		return p.onControl(ev)
	case api.EventSendComplete:
		return p.onSendComplete(ev)
	case api.EventRecv:
		return p.onData(ev)
	default:
		if err := p.hw.Unknown(ev); err != nil {
			return nil, api.Errorf(api.ErrCodeUnrecognizedEvent, "event class %s", ev.Class).
				WithContext("device", p.device).
				WithCause(err)
		}
		return nil, nil
	}
}

// onControl handles an arrived control packet. The control buffer is
// provided again before the packet is routed.
func (p *Port) onControl(ev api.Event) ([]notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil
	}
	errs := p.provideControl()
	if ev.Tag != protocol.TagControl {
		p.log.Warn().Int("tag", ev.Tag).Msg("control packet in a non-control buffer")
	}
	pkt, err := protocol.Decode(ev.Message)
	if err != nil {
		return nil, multierr.Append(errs, err)
	}

	switch pkt.Code {
	case protocol.CodeSendIntent:
		in := p.inputAt(pkt.Mux)
		if in == nil {
			return nil, multierr.Append(errs, p.misrouted("send intent for unknown input", pkt, ev))
		}
		if err := checkSender(in.connected, in.remote, ev.Sender); err != nil {
			return nil, multierr.Append(errs, err.WithContext("mux", in.mux))
		}
		return []notification{{in.notifyID, api.Signal{Reason: api.SignalSendIntent}}}, errs
	default:
		out := p.outputAt(pkt.Mux)
		if out == nil {
			return nil, multierr.Append(errs, p.misrouted("credit grant for unknown output", pkt, ev))
		}
		if err := checkSender(out.connected, out.remote, ev.Sender); err != nil {
			return nil, multierr.Append(errs, err.WithContext("mux", out.mux))
		}
		return []notification{{out.notifyID, api.Signal{Reason: api.SignalCreditGranted}}}, errs
	}
}

// onSendComplete finishes the request carried as the send cookie.
func (p *Port) onSendComplete(ev api.Event) ([]notification, error) {
	req, ok := ev.Cookie.(*Request)
	if !ok || req == nil || req.port != p {
		return nil, api.NewError(api.ErrCodeProtocolViolation, "send completion without a request").
			WithContext("device", p.device)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil
	}
	if !req.inFlight {
		return nil, api.NewError(api.ErrCodeProtocolViolation, "completion of a request not in flight").
			WithContext("device", p.device)
	}
	req.finish(ev.Status)
	if ev.Status != nil {
		p.log.Error().Err(ev.Status).Msg("send failed")
	}

	if out := req.output; out != nil {
		sig, err := out.complete(ev.Status)
		if sig.Reason == 0 {
			return nil, err
		}
		return []notification{{out.notifyID, sig}}, err
	}
	in := req.input
	return []notification{{in.notifyID, in.grantSent(ev.Status)}}, nil
}

// onData completes the port's active input.
func (p *Port) onData(ev api.Event) ([]notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil
	}
	in := p.active
	if in == nil {
		return nil, api.NewError(api.ErrCodeProtocolViolation, "data receive with no active input").
			WithContext("device", p.device).
			WithContext("sender", ev.Sender.String())
	}
	if ev.Tag != protocol.TagData {
		p.log.Warn().Int("tag", ev.Tag).Msg("data in a non-data buffer")
	}
	var errs error
	// the data already landed in the posted buffer, so a foreign sender is
	// reported but the receive still completes
	if err := checkSender(in.connected, in.remote, ev.Sender); err != nil {
		errs = err.WithContext("mux", in.mux)
	}
	errs = multierr.Append(errs, in.received(ev.Length))
	sig := api.Signal{Reason: api.SignalDataReceived, Length: ev.Length, Err: ev.Status}
	return []notification{{in.notifyID, sig}}, errs
}

func (p *Port) misrouted(msg string, pkt protocol.Packet, ev api.Event) error {
	return api.NewError(api.ErrCodeProtocolViolation, msg).
		WithContext("device", p.device).
		WithContext("mux", pkt.Mux).
		WithContext("sender", ev.Sender.String())
}

func checkSender(connected bool, remote, sender api.Address) *api.Error {
	if !connected {
		return api.NewError(api.ErrCodeProtocolViolation, "packet for unconnected endpoint").
			WithContext("sender", sender.String())
	}
	if remote.Node != sender.Node {
		return api.Errorf(api.ErrCodeProtocolViolation, "packet from node %d, connected to %d",
			sender.Node, remote.Node)
	}
	return nil
}
