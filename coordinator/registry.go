package coordinator

import (
	"slices"
	"sort"
	"time"

	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// Participant is a contributor known to the coordinator.
type Participant struct {
	ID       string                       `json:"id"`
	Role     interfaces.Role              `json:"role"`
	Status   interfaces.ParticipantStatus `json:"status"`
	Address  string                       `json:"address,omitempty"`
	Pending  []interfaces.Task            `json:"pending"`
	Awaiting []interfaces.Task            `json:"awaiting"`

	// TargetRound is the round at which a queued participant is expected
	// to become current. Zero means unassigned.
	TargetRound uint64 `json:"target_round,omitempty"`
	RoundHeight uint64 `json:"round_height,omitempty"`
	Failures    uint64 `json:"verification_failures,omitempty"`

	JoinedAt   time.Time  `json:"joined_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastSeen   time.Time  `json:"-"`
}

// Registry tracks participants and the admission queue. It is not safe for
// concurrent use; the coordinator serializes access.
type Registry struct {
	participants map[string]*Participant
	queue        []string
}

func NewRegistry() *Registry {
	return &Registry{participants: make(map[string]*Participant)}
}

// AddToQueue appends a new contributor to the queue and returns its initial
// position. Queued, current and finished participants are rejected; dropped
// participants may rejoin.
func (r *Registry) AddToQueue(id, address string, now time.Time) (uint64, error) {
	if p, ok := r.participants[id]; ok && p.Status != interfaces.StatusDropped {
		return 0, interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrParticipantAlreadyAdded)
	}

	position := uint64(len(r.queue))
	r.participants[id] = &Participant{
		ID:       id,
		Role:     interfaces.RoleContributor,
		Status:   interfaces.StatusQueued,
		Address:  address,
		JoinedAt: now,
		LastSeen: now,
	}
	r.queue = append(r.queue, id)
	return position, nil
}

func (r *Registry) Get(id string) (*Participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

func (r *Registry) StatusOf(id string) (interfaces.ParticipantStatus, bool) {
	p, ok := r.participants[id]
	if !ok {
		return "", false
	}
	return p.Status, true
}

func (r *Registry) IsCurrent(id string) bool {
	status, _ := r.StatusOf(id)
	return status == interfaces.StatusCurrent
}

func (r *Registry) IsQueued(id string) bool {
	status, _ := r.StatusOf(id)
	return status == interfaces.StatusQueued
}

func (r *Registry) IsFinished(id string) bool {
	status, _ := r.StatusOf(id)
	return status == interfaces.StatusFinished
}

// QueuePosition is recomputed on every call from the target round, so it
// only decreases as rounds advance and participants ahead leave.
func (r *Registry) QueuePosition(id string, currentRound uint64) (uint64, error) {
	p, ok := r.participants[id]
	if !ok {
		return 0, interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	if p.Status != interfaces.StatusQueued {
		return 0, interfaces.Errorf(interfaces.KindStateConflict, "participant is %s", p.Status)
	}
	if p.TargetRound == 0 {
		return uint64(len(r.queue)), nil
	}
	if p.TargetRound <= currentRound {
		return 0, nil
	}
	return p.TargetRound - currentRound, nil
}

func (r *Registry) QueueSize() uint64 {
	return uint64(len(r.queue))
}

func (r *Registry) RecordHeartbeat(id string, now time.Time) error {
	p, ok := r.participants[id]
	if !ok {
		return interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	p.LastSeen = now
	return nil
}

// Drop marks the participant dropped and returns the tasks it had not
// uploaded yet. Tasks awaiting verification stay with the participant.
func (r *Registry) Drop(id string) ([]interfaces.Task, error) {
	p, ok := r.participants[id]
	if !ok {
		return nil, interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	if p.Status == interfaces.StatusDropped {
		return nil, nil
	}

	r.removeFromQueue(id)
	p.Status = interfaces.StatusDropped
	p.TargetRound = 0
	tasks := p.Pending
	p.Pending = nil
	return tasks, nil
}

// AssignTargets recomputes target rounds of everyone in the queue.
func (r *Registry) AssignTargets(currentRound, contributorsPerRound uint64) {
	for i, id := range r.queue {
		r.participants[id].TargetRound = currentRound + 1 + uint64(i)/contributorsPerRound
	}
}

// PopQueue removes and returns the head of the queue.
func (r *Registry) PopQueue() (string, bool) {
	if len(r.queue) == 0 {
		return "", false
	}
	id := r.queue[0]
	r.queue = r.queue[1:]
	return id, true
}

// Promote makes a participant current in the given round with the given tasks.
func (r *Registry) Promote(id string, roundHeight uint64, tasks []interfaces.Task, now time.Time) {
	p := r.participants[id]
	r.removeFromQueue(id)
	p.Status = interfaces.StatusCurrent
	p.RoundHeight = roundHeight
	p.TargetRound = 0
	p.Pending = tasks
	p.Awaiting = nil
	p.StartedAt = &now
	p.LastSeen = now
}

// Current returns the current participants sorted by id.
func (r *Registry) Current() []*Participant {
	var current []*Participant
	for _, p := range r.participants {
		if p.Status == interfaces.StatusCurrent {
			current = append(current, p)
		}
	}
	sort.Slice(current, func(i, j int) bool { return current[i].ID < current[j].ID })
	return current
}

// Unresponsive returns participants in the given status not seen since the deadline.
func (r *Registry) Unresponsive(status interfaces.ParticipantStatus, deadline time.Time) []string {
	var ids []string
	for id, p := range r.participants {
		if p.Status == status && p.LastSeen.Before(deadline) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) removeFromQueue(id string) {
	r.queue = slices.DeleteFunc(r.queue, func(queued string) bool { return queued == id })
}

type registryState struct {
	Participants []*Participant `json:"participants"`
	Queue        []string       `json:"queue"`
}

func (r *Registry) state() registryState {
	participants := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].ID < participants[j].ID })
	return registryState{Participants: participants, Queue: slices.Clone(r.queue)}
}

// restore loads persisted participants. Liveness is not persisted, so every
// participant is considered seen at restore time.
func (r *Registry) restore(s registryState, now time.Time) {
	r.participants = make(map[string]*Participant, len(s.Participants))
	for _, p := range s.Participants {
		p.LastSeen = now
		r.participants[p.ID] = p
	}
	r.queue = s.Queue
}
