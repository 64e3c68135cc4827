package a2a

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestTaskStore_CreateAndGet(t *testing.T) {
	s := NewTaskStore(false)
	msg := NewTextMessage(RoleUser, "hi")
	if _, err := s.Create(msg, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(msg.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != TaskStateSubmitted {
		t.Errorf("State = %q, want %q", got.State, TaskStateSubmitted)
	}
	if len(got.History) != 0 {
		t.Errorf("History = %v, want none when history is disabled", got.History)
	}
}

func TestTaskStore_GetNotFound(t *testing.T) {
	s := NewTaskStore(false)
	_, err := s.Get("nonexistent")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestTaskStore_GetReturnsCopy(t *testing.T) {
	s := NewTaskStore(true)
	msg := NewTextMessage(RoleUser, "hi")
	_, _ = s.Create(msg, nil)

	got, _ := s.Get(msg.MessageID)
	got.State = TaskStateFailed
	got.History[0] = TaskStateFailed

	again, _ := s.Get(msg.MessageID)
	if again.State != TaskStateSubmitted || again.History[0] != TaskStateSubmitted {
		t.Errorf("store mutated through returned task: %+v", again)
	}
}

func TestTaskStore_Finish(t *testing.T) {
	s := NewTaskStore(true)
	msg := NewTextMessage(RoleUser, "hi")
	_, _ = s.Create(msg, nil)
	_ = s.Update(msg.MessageID, TaskStateWorking)

	if err := s.Finish(msg.MessageID, FailureChunk(msg.MessageID, "nope", ChunkError{Kind: "StageError", Reason: "nope"})); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, _ := s.Get(msg.MessageID)
	if got.State != TaskStateFailed {
		t.Errorf("State = %q, want failed", got.State)
	}
	if got.Error == nil || got.Error.Reason != "nope" {
		t.Errorf("Error = %+v", got.Error)
	}
	if len(got.History) != 3 {
		t.Errorf("History = %v, want 3 entries", got.History)
	}
}

func TestTaskStore_Cancel(t *testing.T) {
	s := NewTaskStore(false)
	msg := NewTextMessage(RoleUser, "hi")
	canceled := false
	_, _ = s.Create(msg, func() { canceled = true })

	task, err := s.Cancel(msg.MessageID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !canceled {
		t.Error("cancel func not called")
	}
	if task.State != TaskStateCanceled {
		t.Errorf("State = %q, want canceled", task.State)
	}

	_ = s.Finish(msg.MessageID, ResultChunk(msg.MessageID, "late"))
	got, _ := s.Get(msg.MessageID)
	if got.State != TaskStateCanceled {
		t.Errorf("State after Finish = %q, want canceled", got.State)
	}

	if _, err := s.Cancel(msg.MessageID); !errors.Is(err, ErrTaskNotCancelable) {
		t.Errorf("second Cancel err = %v, want ErrTaskNotCancelable", err)
	}
}

func TestTaskStore_UpdateNotFound(t *testing.T) {
	s := NewTaskStore(false)
	if err := s.Update("nonexistent", TaskStateWorking); err == nil {
		t.Error("expected error for missing task")
	}
}

func TestTaskStore_ConcurrentAccess(t *testing.T) {
	s := NewTaskStore(true)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := NewTextMessage(RoleUser, fmt.Sprintf("m%d", i))
			_, _ = s.Create(msg, nil)
			_ = s.Update(msg.MessageID, TaskStateWorking)
			_ = s.Finish(msg.MessageID, ResultChunk(msg.MessageID, "ok"))
			_, _ = s.Get(msg.MessageID)
			_ = s.List()
		}(i)
	}
	wg.Wait()

	if n := len(s.List()); n != 50 {
		t.Errorf("List len = %d, want 50", n)
	}
}

func TestTaskStore_EvictsOldestFinished(t *testing.T) {
	s := NewTaskStore(false)
	s.limit = 2

	running := NewTextMessage(RoleUser, "still going")
	if _, err := s.Create(running, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	var ids []string
	for i := 0; i < 3; i++ {
		msg := NewTextMessage(RoleUser, fmt.Sprintf("deck %d", i))
		if _, err := s.Create(msg, nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := s.Finish(msg.MessageID, ResultChunk(msg.MessageID, "done")); err != nil {
			t.Fatalf("Finish: %v", err)
		}
		ids = append(ids, msg.MessageID)
	}

	if _, err := s.Get(ids[0]); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("oldest finished task: err = %v, want ErrTaskNotFound", err)
	}
	for _, id := range ids[1:] {
		if _, err := s.Get(id); err != nil {
			t.Errorf("Get(%s): %v", id, err)
		}
	}
	if _, err := s.Get(running.MessageID); err != nil {
		t.Errorf("running task evicted: %v", err)
	}
	if n := len(s.List()); n != 3 {
		t.Errorf("List len = %d, want 3", n)
	}
}

func TestTaskStore_CanceledThenFinishedCountsOnce(t *testing.T) {
	s := NewTaskStore(false)
	s.limit = 1

	a := NewTextMessage(RoleUser, "a")
	_, _ = s.Create(a, func() {})
	if _, err := s.Cancel(a.MessageID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := s.Finish(a.MessageID, ResultChunk(a.MessageID, "late")); err != nil {
		t.Fatalf("Finish after cancel: %v", err)
	}
	if len(s.done) != 1 {
		t.Fatalf("done = %v, want one entry", s.done)
	}
	got, err := s.Get(a.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != TaskStateCanceled {
		t.Errorf("State = %q, want canceled", got.State)
	}

	b := NewTextMessage(RoleUser, "b")
	_, _ = s.Create(b, nil)
	_ = s.Finish(b.MessageID, ResultChunk(b.MessageID, "ok"))
	if _, err := s.Get(a.MessageID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("canceled task kept past the limit: err = %v", err)
	}
}
