package a2a

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MaxFinishedTasks is how many terminal tasks a TaskStore keeps for
// lookup. Older ones are dropped first.
const MaxFinishedTasks = 1000

type taskEntry struct {
	task     Task
	cancel   context.CancelFunc
	finished bool
}

// TaskStore tracks tasks served by one agent process. Tasks are kept in
// memory only and are lost on restart. Running tasks are never evicted;
// finished ones are kept up to a limit.
type TaskStore struct {
	mu      sync.RWMutex
	tasks   map[string]*taskEntry
	done    []string
	limit   int
	history bool
}

func NewTaskStore(recordHistory bool) *TaskStore {
	return &TaskStore{
		tasks:   make(map[string]*taskEntry),
		limit:   MaxFinishedTasks,
		history: recordHistory,
	}
}

func (s *TaskStore) Create(msg Message, cancel context.CancelFunc) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[msg.MessageID]; ok {
		return nil, fmt.Errorf("a2a: task %q already exists", msg.MessageID)
	}
	e := &taskEntry{
		task: Task{
			ID:        msg.MessageID,
			ContextID: msg.ContextID,
			State:     TaskStateSubmitted,
			Messages:  []Message{msg},
		},
		cancel: cancel,
	}
	if s.history {
		e.task.History = []TaskState{TaskStateSubmitted}
	}
	s.tasks[msg.MessageID] = e
	t := copyTask(e.task)
	return &t, nil
}

func (s *TaskStore) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	t := copyTask(e.task)
	return &t, nil
}

func (s *TaskStore) Update(id string, state TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	s.setState(e, state)
	return nil
}

// Finish records the terminal chunk of a task. A task already canceled
// keeps its canceled state.
func (s *TaskStore) Finish(id string, c StreamChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	e.task.Result = c.Result
	e.task.Error = c.Error
	if c.Result != nil {
		e.task.Messages = append(e.task.Messages, *c.Result)
	}
	e.cancel = nil
	defer s.retire(id, e)
	if e.task.State == TaskStateCanceled {
		return nil
	}
	if c.Failed() {
		s.setState(e, TaskStateFailed)
	} else {
		s.setState(e, TaskStateCompleted)
	}
	return nil
}

// Cancel stops a running task. Finished tasks can't be canceled.
func (s *TaskStore) Cancel(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	if e.task.State.Terminal() {
		return nil, fmt.Errorf("task %q is %s: %w", id, e.task.State, ErrTaskNotCancelable)
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	s.setState(e, TaskStateCanceled)
	t := copyTask(e.task)
	s.retire(id, e)
	return &t, nil
}

func (s *TaskStore) List() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Task, 0, len(s.tasks))
	for _, e := range s.tasks {
		t := copyTask(e.task)
		result = append(result, &t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// retire queues a terminal task for eviction and drops the oldest
// finished tasks over the limit. Callers hold s.mu.
func (s *TaskStore) retire(id string, e *taskEntry) {
	if e.finished {
		return
	}
	e.finished = true
	s.done = append(s.done, id)
	for len(s.done) > s.limit {
		delete(s.tasks, s.done[0])
		s.done = s.done[1:]
	}
}

func (s *TaskStore) setState(e *taskEntry, state TaskState) {
	if e.task.State == state {
		return
	}
	e.task.State = state
	if s.history {
		e.task.History = append(e.task.History, state)
	}
}

func copyTask(t Task) Task {
	t.Messages = append([]Message(nil), t.Messages...)
	t.History = append([]TaskState(nil), t.History...)
	return t
}
