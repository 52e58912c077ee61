package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// Lock is an exclusive claim of one participant over one chunk while it
// produces the chunk's next contribution.
type Lock struct {
	ChunkID    uint64                    `json:"chunk_id"`
	Holder     string                    `json:"holder"`
	Task       interfaces.Task           `json:"task"`
	Locators   interfaces.LockedLocators `json:"locators"`
	AcquiredAt time.Time                 `json:"acquired_at"`

	// ResponseHash is set once the contribution bytes are written.
	ResponseHash string `json:"response_hash,omitempty"`
}

func (l *Lock) uploaded() bool {
	return l.ResponseHash != ""
}

// LockManager maps chunks to locks. At most one lock exists per chunk.
type LockManager struct {
	mu       sync.Mutex
	registry *Registry
	locks    map[uint64]*Lock
}

func NewLockManager(registry *Registry) *LockManager {
	return &LockManager{registry: registry, locks: make(map[uint64]*Lock)}
}

// TryLock atomically creates the lock for the task's chunk. The holder must
// be a current participant and the chunk must be unlocked.
func (m *LockManager) TryLock(holder string, task interfaces.Task, locators interfaces.LockedLocators, now time.Time) (*Lock, error) {
	if !m.registry.IsCurrent(holder) {
		return nil, interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrParticipantNotCurrent)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locks[task.ChunkID]; ok {
		if existing.Holder == holder {
			return existing, nil
		}
		return nil, interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrChunkLocked)
	}

	lock := &Lock{
		ChunkID:    task.ChunkID,
		Holder:     holder,
		Task:       task,
		Locators:   locators,
		AcquiredAt: now,
	}
	m.locks[task.ChunkID] = lock
	return lock, nil
}

func (m *LockManager) Release(holder string, chunkID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[chunkID]
	if !ok || lock.Holder != holder {
		return interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnauthorizedRelease)
	}
	delete(m.locks, chunkID)
	return nil
}

// ReleaseAll drops every lock held by holder and returns the released chunks.
func (m *LockManager) ReleaseAll(holder string) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []uint64
	for chunkID, lock := range m.locks {
		if lock.Holder == holder {
			delete(m.locks, chunkID)
			released = append(released, chunkID)
		}
	}
	sort.Slice(released, func(i, j int) bool { return released[i] < released[j] })
	return released
}

func (m *LockManager) IsLocked(chunkID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[chunkID]
	return ok
}

func (m *LockManager) HolderOf(chunkID uint64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[chunkID]
	if !ok {
		return "", false
	}
	return lock.Holder, true
}

func (m *LockManager) Get(chunkID uint64) (*Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[chunkID]
	return lock, ok
}

// HeldBy returns the lock validating that holder owns it.
func (m *LockManager) HeldBy(holder string, chunkID uint64) (*Lock, error) {
	lock, ok := m.Get(chunkID)
	if !ok {
		return nil, interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrChunkNotLocked)
	}
	if lock.Holder != holder {
		return nil, interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrChunkNotLocked)
	}
	return lock, nil
}

// Expired returns the holders of locks acquired before the deadline.
func (m *LockManager) Expired(deadline time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var holders []string
	for _, lock := range m.locks {
		if lock.AcquiredAt.Before(deadline) && !seen[lock.Holder] {
			seen[lock.Holder] = true
			holders = append(holders, lock.Holder)
		}
	}
	sort.Strings(holders)
	return holders
}

func (m *LockManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *LockManager) state() []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	locks := make([]*Lock, 0, len(m.locks))
	for _, lock := range m.locks {
		locks = append(locks, lock)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].ChunkID < locks[j].ChunkID })
	return locks
}

// restore reloads locks with a fresh acquisition time so a restart does not
// expire them.
func (m *LockManager) restore(locks []*Lock, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.locks = make(map[uint64]*Lock, len(locks))
	for _, lock := range locks {
		lock.AcquiredAt = now
		m.locks[lock.ChunkID] = lock
	}
}
