package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder stands in for a storage backend that ignores cancellation.
type recorder struct {
	mu     sync.Mutex
	writes []string
}

func (r *recorder) write(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, value)
}

func (r *recorder) values() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func TestExecutorKeepsWritesOrderedAfterTimeout(t *testing.T) {
	exec := newExecutor(2)
	defer exec.stop()

	stored := &recorder{}
	release := make(chan struct{})
	err := exec.run(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-release
		stored.write("first")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, interfaces.KindStorage, interfaces.KindOf(err))

	// While the first write hangs, a bounded second write gives up without running.
	ran := false
	err = exec.run(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, interfaces.KindStorage, interfaces.KindOf(err))
	assert.False(t, ran)

	done := make(chan error, 1)
	go func() {
		done <- exec.run(context.Background(), 0, func(ctx context.Context) error {
			stored.write("second")
			return nil
		})
	}()

	select {
	case <-done:
		t.Fatal("second write ran before the abandoned one finished")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, stored.values())

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second write never ran")
	}
	assert.Equal(t, []string{"first", "second"}, stored.values())

	require.NoError(t, exec.run(context.Background(), time.Second, func(ctx context.Context) error {
		stored.write("third")
		return nil
	}))
	assert.Equal(t, []string{"first", "second", "third"}, stored.values())
}
