package relayws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/socialjobs/job-relay/relay-ws/connectiondao"
)

var errDraining = fmt.Errorf("%w: shutting down", connectiondao.ErrUnavailable)

// Bookkeeper mirrors connection lifecycle into a connectiondao.Store. Results
// are logged and counted, never surfaced to clients.
type Bookkeeper struct {
	store   connectiondao.Store
	metrics *relayMetrics

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

func newBookkeeper(store connectiondao.Store, metrics *relayMetrics) *Bookkeeper {
	if store == nil {
		store = connectiondao.Nop{}
	}
	return &Bookkeeper{
		store:   store,
		metrics: metrics,
	}
}

func (b *Bookkeeper) begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.draining {
		return false
	}
	b.inflight.Add(1)
	return true
}

func (b *Bookkeeper) Activate(ctx context.Context, conn connectiondao.Connection) connectiondao.Result {
	if !b.begin() {
		return b.finish(ctx, "activate", conn.ConnectionID, connectiondao.Result{Outcome: connectiondao.Skipped, Reason: errDraining})
	}
	defer b.inflight.Done()
	return b.finish(ctx, "activate", conn.ConnectionID, b.store.Activate(ctx, conn))
}

func (b *Bookkeeper) Deactivate(ctx context.Context, connectionID string) connectiondao.Result {
	if !b.begin() {
		return b.finish(ctx, "deactivate", connectionID, connectiondao.Result{Outcome: connectiondao.Skipped, Reason: errDraining})
	}
	defer b.inflight.Done()
	return b.finish(ctx, "deactivate", connectionID, b.store.Deactivate(ctx, connectionID))
}

func (b *Bookkeeper) finish(ctx context.Context, op, connectionID string, result connectiondao.Result) connectiondao.Result {
	b.metrics.recordPersistence(op, result)
	if !result.Stored() {
		level := zerolog.WarnLevel
		if errors.Is(result.Reason, connectiondao.ErrDisabled) || errors.Is(result.Reason, errDraining) {
			level = zerolog.DebugLevel
		}
		zerolog.Ctx(ctx).WithLevel(level).
			Str("op", op).
			Str("connection_id", connectionID).
			AnErr("reason", result.Reason).
			Msg("connection bookkeeping skipped")
	}
	return result
}

// Drain stops accepting writes and waits for in-flight ones, or for ctx.
func (b *Bookkeeper) Drain(ctx context.Context) error {
	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining connection bookkeeping: %w", ctx.Err())
	}
}
