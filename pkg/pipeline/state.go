package pipeline

import (
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StateIdle      State = "Idle"
	StateOutlining State = "Outlining"
	StateDrafting  State = "Drafting"
	StateBuilding  State = "Building"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:      {StateOutlining},
	StateOutlining: {StateDrafting, StateFailed},
	StateDrafting:  {StateBuilding, StateFailed},
	StateBuilding:  {StateCompleted, StateFailed},
}

// ValidateTransition reports whether a run may move from one state to
// another.
func ValidateTransition(from, to State) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("pipeline: invalid transition %s -> %s", from, to)
}

// Stage binds a pipeline state to the capability that serves it.
type Stage struct {
	State      State
	Capability string
}

// Stages run strictly in this order.
var Stages = []Stage{
	{State: StateOutlining, Capability: "outline"},
	{State: StateDrafting, Capability: "draft"},
	{State: StateBuilding, Capability: "build"},
}

type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Run is the state of one pipeline request. Each request owns its Run.
type Run struct {
	ID      string
	Topic   string
	Started time.Time

	mu      sync.Mutex
	state   State
	failure *Failure
	history []Transition
}

func NewRun(id, topic string) *Run {
	return &Run{ID: id, Topic: topic, Started: time.Now(), state: StateIdle}
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) Failure() *Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

func (r *Run) History() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.history...)
}

// Transition moves the run to next, returning the previous state.
func (r *Run) Transition(next State) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ValidateTransition(r.state, next); err != nil {
		return r.state, err
	}
	prev := r.state
	r.state = next
	r.history = append(r.history, Transition{From: prev, To: next, At: time.Now()})
	return prev, nil
}

// Fail moves the run to Failed and records why.
func (r *Run) Fail(f *Failure) (State, error) {
	prev, err := r.Transition(StateFailed)
	if err != nil {
		return prev, err
	}
	r.mu.Lock()
	r.failure = f
	r.mu.Unlock()
	return prev, nil
}
