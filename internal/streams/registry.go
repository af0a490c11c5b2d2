// Package streams tracks in-flight model streams so they can be stopped by
// id, from this process or, with Redis configured, from any replica.
package streams

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/metrics"
)

// AbortResult says where an abort request was applied.
type AbortResult int

const (
	// AbortUnknown means no stream with that id is known here and there is no broadcaster.
	AbortUnknown AbortResult = iota
	// AbortLocal means a stream in this process was cancelled.
	AbortLocal
	// AbortForwarded means the request was published to other replicas.
	AbortForwarded
)

// Broadcaster fans abort requests out to other processes.
type Broadcaster interface {
	Publish(ctx context.Context, streamID string) error
	Subscribe(ctx context.Context, handle func(streamID string)) error
}

type Registry struct {
	mu          sync.Mutex
	streams     map[string]context.CancelFunc
	broadcaster Broadcaster
	logger      zerolog.Logger
}

// NewRegistry returns a Registry. broadcaster may be nil.
func NewRegistry(broadcaster Broadcaster, logger zerolog.Logger) *Registry {
	return &Registry{
		streams:     make(map[string]context.CancelFunc),
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "streams").Logger(),
	}
}

// Register derives a cancellable context for a new stream. The caller must
// call release when the stream ends; aborts after that are unknown.
func (r *Registry) Register(parent context.Context) (ctx context.Context, id string, release func()) {
	ctx, cancel := context.WithCancel(parent)
	id = ulid.Make().String()

	r.mu.Lock()
	r.streams[id] = cancel
	r.mu.Unlock()
	metrics.StreamsInFlight.Inc()

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.streams, id)
			r.mu.Unlock()
			metrics.StreamsInFlight.Dec()
			cancel()
		})
	}
	return ctx, id, release
}

// Abort cancels the stream if it runs here, otherwise forwards the request
// when a broadcaster is configured. Aborting twice is harmless.
func (r *Registry) Abort(ctx context.Context, id string) (AbortResult, error) {
	if r.abortLocal(id) {
		return AbortLocal, nil
	}
	if r.broadcaster == nil {
		return AbortUnknown, nil
	}
	if err := r.broadcaster.Publish(ctx, id); err != nil {
		return AbortUnknown, err
	}
	return AbortForwarded, nil
}

func (r *Registry) abortLocal(id string) bool {
	r.mu.Lock()
	cancel, ok := r.streams[id]
	r.mu.Unlock()
	if ok {
		cancel()
		r.logger.Info().Str("stream_id", id).Msg("stream aborted")
	}
	return ok
}

// Listen applies aborts published by other replicas until ctx is done. It
// returns immediately when no broadcaster is configured.
func (r *Registry) Listen(ctx context.Context) error {
	if r.broadcaster == nil {
		return nil
	}
	return r.broadcaster.Subscribe(ctx, func(id string) {
		r.abortLocal(id)
	})
}

// Len reports the number of registered streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
