package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// CoordinatorState is the persisted aggregate of the ceremony.
type CoordinatorState struct {
	Round                *Round                `json:"current_round"`
	Participants         []*Participant        `json:"participants"`
	Queue                []string              `json:"queue"`
	Locks                []*Lock               `json:"locks"`
	PendingVerifications []PendingVerification `json:"pending_verifications"`
	OrphanedTasks        []interfaces.Task     `json:"orphaned_tasks,omitempty"`
	SavedAt              time.Time             `json:"saved_at"`
}

func (c *Coordinator) snapshot() CoordinatorState {
	registry := c.registry.state()
	return CoordinatorState{
		Round:                c.pipeline.round,
		Participants:         registry.Participants,
		Queue:                registry.Queue,
		Locks:                c.locks.state(),
		PendingVerifications: c.pipeline.pending,
		OrphanedTasks:        c.scheduler.orphaned,
		SavedAt:              c.now(),
	}
}

// save persists the state. It runs after bookkeeping so a failed write
// never leaves the in-memory state behind the durable one.
func (c *Coordinator) save(ctx context.Context) error {
	encoded, err := json.Marshal(c.snapshot())
	if err != nil {
		return fmt.Errorf("could not encode coordinator state: %w", err)
	}
	if err := c.pipeline.write(ctx, interfaces.CoordinatorStateLocator(), encoded); err != nil {
		return fmt.Errorf("could not save coordinator state: %w", err)
	}
	return nil
}

// load restores a previously saved state. It reports false when storage
// holds no state yet.
func (c *Coordinator) load(ctx context.Context) (bool, error) {
	encoded, err := c.pipeline.read(ctx, interfaces.CoordinatorStateLocator())
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var state CoordinatorState
	if err := json.Unmarshal(encoded, &state); err != nil {
		return false, fmt.Errorf("could not decode coordinator state: %w", err)
	}
	if state.Round == nil {
		return false, errors.New("coordinator state has no round")
	}
	if uint64(len(state.Round.Chunks)) != c.env.NumberOfChunks {
		return false, fmt.Errorf("coordinator state has %d chunks, environment has %d", len(state.Round.Chunks), c.env.NumberOfChunks)
	}

	now := c.now()
	c.registry.restore(registryState{Participants: state.Participants, Queue: state.Queue}, now)
	c.locks.restore(state.Locks, now)
	c.pipeline.round = state.Round
	c.pipeline.pending = state.PendingVerifications
	c.scheduler.orphaned = state.OrphanedTasks
	return true, nil
}
