package service

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stockroom/internal/port"
)

type options struct {
	logger    *zap.Logger
	cache     port.ReplayCache
	publisher port.EventPublisher
	recorder  port.MutationRecorder
	now       func() time.Time
	newID     func() string
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithReplayCache puts a fast cache in front of ledger-based idempotency replays.
func WithReplayCache(cache port.ReplayCache) Option {
	return func(o *options) { o.cache = cache }
}

func WithEventPublisher(publisher port.EventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

func WithRecorder(recorder port.MutationRecorder) Option {
	return func(o *options) { o.recorder = recorder }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
