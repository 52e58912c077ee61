package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestRegistry(t *testing.T) {
	now := time.Now()
	r := NewRegistry()

	pos, err := r.AddToQueue("a", "", now)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pos)
	pos, err = r.AddToQueue("b", "", now)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pos)

	_, err = r.AddToQueue("a", "", now)
	require.ErrorIs(t, err, interfaces.ErrParticipantAlreadyAdded)

	assert.True(t, r.IsQueued("a"))
	assert.False(t, r.IsCurrent("a"))

	// without a target round the tail position is reported
	queuePos, err := r.QueuePosition("a", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), queuePos)

	r.AssignTargets(3, 1)
	queuePos, err = r.QueuePosition("b", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), queuePos)

	head, ok := r.PopQueue()
	require.True(t, ok)
	assert.Equal(t, "a", head)
	r.Promote("a", 4, roundTasks(2, 0), now)
	assert.True(t, r.IsCurrent("a"))
	_, err = r.QueuePosition("a", 4)
	assert.Equal(t, interfaces.KindStateConflict, interfaces.KindOf(err))

	tasks, err := r.Drop("a")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Task{interfaces.NewTask(0, 1), interfaces.NewTask(1, 1)}, tasks)
	status, _ := r.StatusOf("a")
	assert.Equal(t, interfaces.StatusDropped, status)

	_, err = r.AddToQueue("a", "", now)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.QueueSize())

	require.ErrorIs(t, r.RecordHeartbeat("unknown", now), interfaces.ErrUnknownContributor)
}

func TestRegistryUnresponsive(t *testing.T) {
	start := time.Now()
	r := NewRegistry()
	_, err := r.AddToQueue("a", "", start)
	require.NoError(t, err)
	_, err = r.AddToQueue("b", "", start)
	require.NoError(t, err)

	require.NoError(t, r.RecordHeartbeat("b", start.Add(time.Minute)))
	assert.Equal(t, []string{"a"}, r.Unresponsive(interfaces.StatusQueued, start.Add(30*time.Second)))
	assert.Empty(t, r.Unresponsive(interfaces.StatusCurrent, start.Add(30*time.Second)))
}

func TestLockManager(t *testing.T) {
	now := time.Now()
	r := NewRegistry()
	for _, id := range []string{"a", "b"} {
		_, err := r.AddToQueue(id, "", now)
		require.NoError(t, err)
		r.Promote(id, 1, roundTasks(2, 0), now)
	}
	_, err := r.AddToQueue("queued", "", now)
	require.NoError(t, err)

	m := NewLockManager(r)
	task := interfaces.NewTask(1, 1)

	_, err = m.TryLock("queued", task, interfaces.LockedLocators{}, now)
	require.ErrorIs(t, err, interfaces.ErrParticipantNotCurrent)

	lock, err := m.TryLock("a", task, interfaces.LockedLocators{}, now)
	require.NoError(t, err)
	assert.Equal(t, "a", lock.Holder)

	_, err = m.TryLock("b", task, interfaces.LockedLocators{}, now)
	require.ErrorIs(t, err, interfaces.ErrChunkLocked)

	require.ErrorIs(t, m.Release("b", 1), interfaces.ErrUnauthorizedRelease)
	require.ErrorIs(t, m.Release("a", 0), interfaces.ErrUnauthorizedRelease)

	holder, ok := m.HolderOf(1)
	require.True(t, ok)
	assert.Equal(t, "a", holder)

	assert.Equal(t, []string{"a"}, m.Expired(now.Add(time.Second)))
	assert.Empty(t, m.Expired(now))

	require.NoError(t, m.Release("a", 1))
	assert.False(t, m.IsLocked(1))

	_, err = m.TryLock("b", task, interfaces.LockedLocators{}, now)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, m.ReleaseAll("b"))
	assert.Equal(t, 0, m.Len())
}

func TestConcurrentTryLock(t *testing.T) {
	now := time.Now()
	r := NewRegistry()
	const participants = 32
	for i := range participants {
		id := fmt.Sprintf("participant-%d", i)
		_, err := r.AddToQueue(id, "", now)
		require.NoError(t, err)
		r.Promote(id, 1, roundTasks(1, uint64(i)), now)
	}
	m := NewLockManager(r)

	var (
		wg        sync.WaitGroup
		acquired  atomic.Int32
		contended atomic.Int32
	)
	for i := range participants {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.TryLock(id, interfaces.NewTask(0, 1), interfaces.LockedLocators{}, now)
			if err == nil {
				acquired.Inc()
			} else if assert.ErrorIs(t, err, interfaces.ErrChunkLocked) {
				contended.Inc()
			}
		}(fmt.Sprintf("participant-%d", i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
	assert.Equal(t, int32(participants-1), contended.Load())
	assert.Equal(t, 1, m.Len())
}

func TestSchedulerReassign(t *testing.T) {
	now := time.Now()
	r := NewRegistry()
	s := NewTaskScheduler(r)
	round := &Round{Height: 1}

	dropped := []interfaces.Task{interfaces.NewTask(2, 1), interfaces.NewTask(1, 1)}

	// nobody eligible
	assert.Equal(t, "", s.Reassign(dropped, round, now))
	assert.True(t, s.HasOrphans())

	_, err := r.AddToQueue("a", "", now)
	require.NoError(t, err)
	assert.Equal(t, "a", s.AdoptOrphans(round, now))
	assert.False(t, s.HasOrphans())
	tasks, err := s.PendingTasks("a")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Task{interfaces.NewTask(1, 1), interfaces.NewTask(2, 1)}, tasks)
	assert.Equal(t, []string{"a"}, round.Contributors)

	// with an empty queue tasks merge into a current participant in chunk order
	assert.Equal(t, "a", s.Reassign([]interfaces.Task{interfaces.NewTask(1, 2), interfaces.NewTask(0, 2)}, round, now))
	tasks, err = s.PendingTasks("a")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Task{
		interfaces.NewTask(0, 2),
		interfaces.NewTask(1, 1),
		interfaces.NewTask(1, 2),
		interfaces.NewTask(2, 1),
	}, tasks)

	next, err := s.NextTask("a")
	require.NoError(t, err)
	require.NoError(t, s.MarkUploaded("a", next))
	require.ErrorIs(t, s.MarkUploaded("a", next), interfaces.ErrUnknownTask)

	finished, err := s.Complete("a", next, now)
	require.NoError(t, err)
	assert.False(t, finished)

	for _, task := range []interfaces.Task{interfaces.NewTask(1, 1), interfaces.NewTask(1, 2), interfaces.NewTask(2, 1)} {
		require.NoError(t, s.MarkUploaded("a", task))
		finished, err = s.Complete("a", task, now)
		require.NoError(t, err)
	}
	assert.True(t, finished)
	assert.True(t, r.IsFinished("a"))

	_, err = s.NextTask("a")
	require.ErrorIs(t, err, interfaces.ErrNoPendingTasks)
}

func TestLoadEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
curve: bw6_761
number_of_chunks: 8
powers_per_chunk: 4
contributors_per_round: 3
lock_timeout: 5m
seen_timeout: 30s
signature_scheme: bls12381
coordinator_verifier: abcd
`), 0600))

	env, err := LoadEnvironment(path)
	require.NoError(t, err)
	assert.Equal(t, interfaces.CurveBW6_761, env.Curve)
	assert.Equal(t, uint64(8), env.NumberOfChunks)
	assert.Equal(t, uint64(3), env.ContributorsPerRound)
	assert.Equal(t, 5*time.Minute, env.LockTimeout)
	assert.Equal(t, 30*time.Second, env.SeenTimeout)
	assert.Equal(t, uint64(3), env.MaxVerificationFailures)
	assert.Equal(t, "abcd", env.CoordinatorVerifier)

	require.NoError(t, os.WriteFile(path, []byte("curve: unknown\n"), 0600))
	_, err = LoadEnvironment(path)
	require.Error(t, err)
}
