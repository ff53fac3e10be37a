package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestWatcher(t *testing.T, fx *fixture, debounce time.Duration) *Watcher {
	t.Helper()
	w, err := NewWatcher(fx.ix, debounce, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWatcher_DebounceCoalescing(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.write(t, "calc/calc.go", testGoFile)
	w := newTestWatcher(t, fx, 50*time.Millisecond)
	ctx := context.Background()

	// N notifications for one path inside the window: exactly one reindex.
	for i := 0; i < 5; i++ {
		w.enqueue(ctx, "calc/calc.go")
	}

	require.Eventually(t, func() bool {
		return fx.embed.calls() == 1
	}, time.Second, 10*time.Millisecond)

	// And it stays at one: no stray second drain.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, fx.embed.calls())
}

func TestWatcher_PendingDuringDrainIsNotLost(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.write(t, "a.go", testGoFile)
	fx.write(t, "b.go", testGoFile)
	w := newTestWatcher(t, fx, 30*time.Millisecond)
	ctx := context.Background()

	// While the first drain embeds a.go, enqueue b.go; it must be picked up
	// by a follow-up cycle rather than dropped.
	enqueued := false
	fx.embed.onEmbed = func() {
		if !enqueued {
			enqueued = true
			w.enqueue(ctx, "b.go")
		}
	}

	w.enqueue(ctx, "a.go")

	require.Eventually(t, func() bool {
		return fx.embed.calls() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_RemoveIsImmediate(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.write(t, "calc/calc.go", testGoFile)
	ctx := context.Background()
	require.NoError(t, fx.ix.IndexFile(ctx, "calc/calc.go"))

	w := newTestWatcher(t, fx, time.Hour) // debounce must not matter

	w.handleEvent(ctx, fsnotify.Event{
		Name: fx.root + "/calc/calc.go",
		Op:   fsnotify.Remove,
	})

	stored, err := fx.store.GetByPath(ctx, "calc/calc.go")
	require.NoError(t, err)
	assert.Empty(t, stored)
}
