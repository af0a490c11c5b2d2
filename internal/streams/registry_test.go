package streams

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRegistry_AbortLocal(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	ctx, id, release := r.Register(context.Background())
	defer release()

	assert.Len(t, id, 26, "ULID string")
	assert.Equal(t, 1, r.Len())

	res, err := r.Abort(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, AbortLocal, res)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	res, err = r.Abort(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, AbortLocal, res, "second abort of a running stream is a no-op")
}

func TestRegistry_ReleaseForgetsStream(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	_, id, release := r.Register(context.Background())
	release()
	release()

	assert.Equal(t, 0, r.Len())
	res, err := r.Abort(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, AbortUnknown, res)
}

func TestRegistry_ParentCancellation(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	parent, cancel := context.WithCancel(context.Background())
	ctx, _, release := r.Register(parent)
	defer release()

	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

// chanBroadcaster delivers publishes to subscribers in-process.
type chanBroadcaster struct {
	mu       sync.Mutex
	handlers []func(string)
	ready    chan struct{}
	err      error
}

func (b *chanBroadcaster) Publish(_ context.Context, id string) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	hs := append([]func(string){}, b.handlers...)
	b.mu.Unlock()
	for _, h := range hs {
		h(id)
	}
	return nil
}

func (b *chanBroadcaster) Subscribe(ctx context.Context, handle func(string)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handle)
	b.mu.Unlock()
	close(b.ready)
	<-ctx.Done()
	return nil
}

func TestRegistry_ForwardsToOtherReplica(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := &chanBroadcaster{ready: make(chan struct{})}
	owner := NewRegistry(bus, zerolog.Nop())
	front := NewRegistry(bus, zerolog.Nop())

	listenCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- owner.Listen(listenCtx) }()
	<-bus.ready

	streamCtx, id, release := owner.Register(context.Background())
	defer release()

	res, err := front.Abort(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, AbortForwarded, res)

	select {
	case <-streamCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("forwarded abort did not cancel the owning stream")
	}

	stop()
	require.NoError(t, <-done)
}

func TestRegistry_PublishError(t *testing.T) {
	r := NewRegistry(&chanBroadcaster{err: errors.New("redis down")}, zerolog.Nop())
	res, err := r.Abort(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, AbortUnknown, res)
}
