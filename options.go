package lanebus

import (
	"context"

	"github.com/rs/zerolog"
)

// settings carries the ambient collaborators shared by dispatchers, engines
// and the manager.
type settings struct {
	log     zerolog.Logger
	emitter EventEmitter
}

// Option configures a dispatcher, engine or manager.
type Option func(*settings)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) {
		s.log = log
	}
}

// WithEventEmitter installs an emitter for lifecycle events. Without one,
// emission is a no-op.
func WithEventEmitter(emitter EventEmitter) Option {
	return func(s *settings) {
		s.emitter = emitter
	}
}

func newSettings(opts []Option) settings {
	s := settings{log: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// emit sends a lifecycle event through the configured emitter, if any.
// Emission runs on its own goroutine so it never blocks the caller.
func (s *settings) emit(ctx context.Context, eventType string, data map[string]any) {
	if s.emitter == nil {
		return
	}
	event := newLifecycleEvent(eventType, data)
	log := s.log
	emitter := s.emitter
	go func() {
		if err := emitter.EmitEvent(ctx, event); err != nil {
			log.Debug().Err(err).Str("type", eventType).Msg("failed to emit lifecycle event")
		}
	}()
}

func (s *settings) asOptions() []Option {
	return []Option{WithLogger(s.log), WithEventEmitter(s.emitter)}
}
