package relayws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/socialjobs/job-relay/relay-ws/connectiondao"
	"github.com/tj/assert"
)

type blockingStore struct {
	release chan struct{}
	entered chan struct{}
}

func (s *blockingStore) Activate(ctx context.Context, _ connectiondao.Connection) connectiondao.Result {
	close(s.entered)
	<-s.release
	return connectiondao.Result{Outcome: connectiondao.Stored}
}

func (s *blockingStore) Deactivate(context.Context, string) connectiondao.Result {
	return connectiondao.Result{Outcome: connectiondao.Stored}
}

func TestBookkeeper(t *testing.T) {
	ctx := context.Background()

	t.Run("nil store skips", func(t *testing.T) {
		book := newBookkeeper(nil, nil)
		result := book.Activate(ctx, connectiondao.Connection{ConnectionID: "c1"})
		assert.False(t, result.Stored())
		assert.True(t, errors.Is(result.Reason, connectiondao.ErrUnavailable))
	})

	t.Run("drain waits for in-flight writes", func(t *testing.T) {
		store := &blockingStore{release: make(chan struct{}), entered: make(chan struct{})}
		book := newBookkeeper(store, nil)

		done := make(chan connectiondao.Result, 1)
		go func() { done <- book.Activate(ctx, connectiondao.Connection{ConnectionID: "c1"}) }()
		<-store.entered

		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.Error(t, book.Drain(short))

		close(store.release)
		assert.True(t, (<-done).Stored())
		assert.NoError(t, book.Drain(ctx))
	})

	t.Run("writes after drain are skipped", func(t *testing.T) {
		store := &recordingStore{}
		book := newBookkeeper(store, nil)
		assert.NoError(t, book.Drain(ctx))

		result := book.Deactivate(ctx, "c1")
		assert.False(t, result.Stored())
		assert.True(t, errors.Is(result.Reason, connectiondao.ErrUnavailable))
		assert.Empty(t, store.Deactivated())
	})
	t.Run("skip log levels", func(t *testing.T) {
		levelOf := func(store connectiondao.Store) string {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
			book := newBookkeeper(store, nil)
			book.Activate(logger.WithContext(ctx), connectiondao.Connection{ConnectionID: "c1"})

			var entry map[string]interface{}
			assert.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			return entry["level"].(string)
		}

		assert.Equal(t, "debug", levelOf(connectiondao.Nop{}))
		assert.Equal(t, "warn", levelOf(&recordingStore{skip: true}))
	})
}
