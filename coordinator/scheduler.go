package coordinator

import (
	"cmp"
	"slices"
	"time"

	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// TaskScheduler hands out tasks to current participants and moves tasks of
// dropped participants to someone who can finish them.
type TaskScheduler struct {
	registry *Registry

	// orphaned tasks were left by a dropped participant while nobody could
	// take them over.
	orphaned []interfaces.Task
}

func NewTaskScheduler(registry *Registry) *TaskScheduler {
	return &TaskScheduler{registry: registry}
}

// NextTask returns the head of the participant's pending list.
func (s *TaskScheduler) NextTask(id string) (interfaces.Task, error) {
	p, ok := s.registry.Get(id)
	if !ok {
		return interfaces.Task{}, interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	if len(p.Pending) == 0 {
		return interfaces.Task{}, interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrNoPendingTasks)
	}
	return p.Pending[0], nil
}

func (s *TaskScheduler) PendingTasks(id string) ([]interfaces.Task, error) {
	p, ok := s.registry.Get(id)
	if !ok {
		return nil, interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	return slices.Clone(p.Pending), nil
}

// MarkUploaded moves a task from pending to awaiting verification.
func (s *TaskScheduler) MarkUploaded(id string, task interfaces.Task) error {
	p, ok := s.registry.Get(id)
	if !ok {
		return interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	i := slices.Index(p.Pending, task)
	if i < 0 {
		return interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrUnknownTask)
	}
	p.Pending = slices.Delete(p.Pending, i, i+1)
	p.Awaiting = append(p.Awaiting, task)
	return nil
}

// Complete removes a verified task. A current participant with no pending
// and no awaiting tasks becomes finished; the return value reports that.
func (s *TaskScheduler) Complete(id string, task interfaces.Task, now time.Time) (bool, error) {
	p, ok := s.registry.Get(id)
	if !ok {
		return false, interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	i := slices.Index(p.Awaiting, task)
	if i < 0 {
		return false, interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrUnknownTask)
	}
	p.Awaiting = slices.Delete(p.Awaiting, i, i+1)

	if p.Status == interfaces.StatusCurrent && len(p.Pending) == 0 && len(p.Awaiting) == 0 {
		p.Status = interfaces.StatusFinished
		p.FinishedAt = &now
		return true, nil
	}
	return false, nil
}

// Retry returns a rejected task to the front of the participant's pending
// list. It reports false when the participant can no longer take it.
func (s *TaskScheduler) Retry(id string, task interfaces.Task) bool {
	p, ok := s.registry.Get(id)
	if !ok {
		return false
	}
	if i := slices.Index(p.Awaiting, task); i >= 0 {
		p.Awaiting = slices.Delete(p.Awaiting, i, i+1)
	}
	if p.Status != interfaces.StatusCurrent {
		return false
	}
	p.Pending = slices.Insert(p.Pending, 0, task)
	return true
}

// Reassign hands tasks to the head of the queue, which becomes current in
// the round. With an empty queue the tasks are merged into another current
// participant's pending list, and failing that kept as orphaned. It returns
// the participant that received the tasks, if any.
func (s *TaskScheduler) Reassign(tasks []interfaces.Task, round *Round, now time.Time) string {
	if len(tasks) == 0 {
		return ""
	}
	sortTasks(tasks)

	if head, ok := s.registry.PopQueue(); ok {
		s.registry.Promote(head, round.Height, tasks, now)
		round.Contributors = append(round.Contributors, head)
		return head
	}

	if current := s.registry.Current(); len(current) > 0 {
		p := current[0]
		p.Pending = append(p.Pending, tasks...)
		sortTasks(p.Pending)
		return p.ID
	}

	s.orphaned = append(s.orphaned, tasks...)
	sortTasks(s.orphaned)
	return ""
}

// AdoptOrphans promotes the head of the queue to take over orphaned tasks.
func (s *TaskScheduler) AdoptOrphans(round *Round, now time.Time) string {
	if len(s.orphaned) == 0 {
		return ""
	}
	head, ok := s.registry.PopQueue()
	if !ok {
		return ""
	}
	s.registry.Promote(head, round.Height, s.orphaned, now)
	round.Contributors = append(round.Contributors, head)
	s.orphaned = nil
	return head
}

func (s *TaskScheduler) HasOrphans() bool {
	return len(s.orphaned) > 0
}

// sortTasks orders tasks by chunk and then by contribution id.
func sortTasks(tasks []interfaces.Task) {
	slices.SortFunc(tasks, func(a, b interfaces.Task) int {
		if c := cmp.Compare(a.ChunkID, b.ChunkID); c != 0 {
			return c
		}
		return cmp.Compare(a.ContributionID, b.ContributionID)
	})
}
