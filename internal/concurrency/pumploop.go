// File: internal/concurrency/pumploop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PumpLoop drives an api.Pumper with adaptive backoff and graceful stop.

package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-dma/api"
)

const (
	// DefaultMinBackoff is the first idle sleep.
	DefaultMinBackoff = time.Microsecond
	// DefaultMaxBackoff caps the idle sleep.
	DefaultMaxBackoff = time.Millisecond
)

// PumpStats counts loop activity.
type PumpStats struct {
	Passes  uint64 `json:"passes"`
	Handled uint64 `json:"handled"`
	Idle    uint64 `json:"idle"`
	Errors  uint64 `json:"errors"`
}

// PumpLoop repeatedly pumps until its context ends or a fatal error occurs.
// Only one Run may be active at a time.
type PumpLoop struct {
	pumper     api.Pumper
	log        zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	fatal      func(error) bool

	running atomic.Bool
	passes  atomic.Uint64
	handled atomic.Uint64
	idle    atomic.Uint64
	errs    atomic.Uint64
}

// PumpOption configures a PumpLoop.
type PumpOption func(*PumpLoop)

// WithBackoff sets the idle backoff bounds.
func WithBackoff(min, max time.Duration) PumpOption {
	return func(l *PumpLoop) {
		if min > 0 {
			l.minBackoff = min
		}
		if max >= l.minBackoff {
			l.maxBackoff = max
		}
	}
}

// WithLogger sets the logger for non-fatal pump errors.
func WithLogger(log zerolog.Logger) PumpOption {
	return func(l *PumpLoop) { l.log = log }
}

// WithFatal overrides which pump errors stop the loop. By default only
// api.ErrUnrecognizedEvent does.
func WithFatal(fn func(error) bool) PumpOption {
	return func(l *PumpLoop) { l.fatal = fn }
}

// NewPumpLoop creates a loop over p.
func NewPumpLoop(p api.Pumper, opts ...PumpOption) *PumpLoop {
	l := &PumpLoop{
		pumper:     p,
		log:        zerolog.Nop(),
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		fatal:      func(err error) bool { return errors.Is(err, api.ErrUnrecognizedEvent) },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run pumps until ctx is done, returning nil, or until a fatal pump error,
// which it returns. Non-fatal errors are logged and counted.
func (l *PumpLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return api.NewError(api.ErrCodeProtocolViolation, "pump loop already running")
	}
	defer l.running.Store(false)

	backoff := l.minBackoff
	timer := time.NewTimer(0)
	drain(timer)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := l.pumper.Pump()
		l.passes.Add(1)
		l.handled.Add(uint64(n))
		if err != nil {
			l.errs.Add(1)
			if l.fatal(err) {
				l.log.Error().Err(err).Msg("pump loop stopped")
				return err
			}
			l.log.Warn().Err(err).Int("handled", n).Msg("pump pass reported errors")
		}
		if n > 0 {
			backoff = l.minBackoff
			continue
		}

		l.idle.Add(1)
		timer.Reset(backoff)
		select {
		case <-ctx.Done():
			drain(timer)
			return nil
		case <-timer.C:
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func drain(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// Running reports whether Run is active.
func (l *PumpLoop) Running() bool { return l.running.Load() }

// Stats returns a snapshot of the loop counters.
func (l *PumpLoop) Stats() PumpStats {
	return PumpStats{
		Passes:  l.passes.Load(),
		Handled: l.handled.Load(),
		Idle:    l.idle.Load(),
		Errors:  l.errs.Load(),
	}
}
