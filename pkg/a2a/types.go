package a2a

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	Capabilities       Capabilities `json:"capabilities"`
	Skills             []Skill      `json:"skills,omitempty"`
	DefaultInputModes  []string     `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string     `json:"defaultOutputModes,omitempty"`
}

type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Clone returns a deep copy so callers can't mutate a card held elsewhere.
func (c *AgentCard) Clone() *AgentCard {
	if c == nil {
		return nil
	}
	out := *c
	if c.Skills != nil {
		out.Skills = make([]Skill, len(c.Skills))
		for i, s := range c.Skills {
			s.Tags = append([]string(nil), s.Tags...)
			s.Examples = append([]string(nil), s.Examples...)
			out.Skills[i] = s
		}
	}
	out.DefaultInputModes = append([]string(nil), c.DefaultInputModes...)
	out.DefaultOutputModes = append([]string(nil), c.DefaultOutputModes...)
	return &out
}

func (c *AgentCard) Validate() error {
	if c == nil {
		return errors.New("a2a: nil agent card")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("a2a: agent card has no name")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("a2a: agent card %q has invalid url: %w", c.Name, err)
	}
	switch u.Scheme {
	case "http", "https", "grpc":
	default:
		return fmt.Errorf("a2a: agent card %q has unsupported url scheme %q", c.Name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("a2a: agent card %q url has no host", c.Name)
	}
	return nil
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	MessageID string `json:"messageId"`
	ContextID string `json:"contextId,omitempty"`
	Role      Role   `json:"role"`
	Parts     []Part `json:"parts"`
}

const (
	PartText = "text"
	PartData = "data"
)

type Part struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewTextMessage(role Role, text string) Message {
	return Message{
		MessageID: uuid.NewString(),
		Role:      role,
		Parts:     []Part{{Type: PartText, Text: text}},
	}
}

// Text joins the message's text parts with newlines. Non-text parts are skipped.
func (m Message) Text() string {
	var parts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (m Message) Validate() error {
	if m.MessageID == "" {
		return errors.New("a2a: message has no messageId")
	}
	switch m.Role {
	case RoleUser, RoleAgent:
	default:
		return fmt.Errorf("a2a: message %s has unknown role %q", m.MessageID, m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("a2a: message %s has no parts", m.MessageID)
	}
	return nil
}

type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
)

func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCanceled
}

type Task struct {
	ID        string      `json:"id"`
	ContextID string      `json:"contextId,omitempty"`
	State     TaskState   `json:"state"`
	Messages  []Message   `json:"messages,omitempty"`
	Result    *Message    `json:"result,omitempty"`
	Error     *ChunkError `json:"error,omitempty"`
	History   []TaskState `json:"history,omitempty"`
}

// StreamChunk is one unit of a streamed response. Exactly one of Status
// and Result is set; Result chunks are terminal and carry Final.
type StreamChunk struct {
	TaskID string        `json:"taskId,omitempty"`
	Status *StatusUpdate `json:"status,omitempty"`
	Result *Message      `json:"result,omitempty"`
	Final  bool          `json:"final,omitempty"`
	Error  *ChunkError   `json:"error,omitempty"`
}

type StatusUpdate struct {
	State   TaskState `json:"state,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Message *Message  `json:"message,omitempty"`
}

// ChunkError marks a terminal chunk as a failure.
type ChunkError struct {
	Stage  string `json:"stage,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason"`
}

func (e *ChunkError) Error() string {
	switch {
	case e.Stage != "" && e.Kind != "":
		return fmt.Sprintf("%s failed (%s): %s", e.Stage, e.Kind, e.Reason)
	case e.Kind != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	default:
		return e.Reason
	}
}

func (c StreamChunk) IsTerminal() bool { return c.Final }

func (c StreamChunk) Failed() bool { return c.Final && c.Error != nil }

// Text returns the human-readable text carried by the chunk.
func (c StreamChunk) Text() string {
	switch {
	case c.Result != nil:
		return c.Result.Text()
	case c.Status != nil && c.Status.Message != nil:
		return c.Status.Message.Text()
	}
	return ""
}

func StatusChunk(taskID string, state TaskState, text string) StreamChunk {
	msg := NewTextMessage(RoleAgent, text)
	return StreamChunk{
		TaskID: taskID,
		Status: &StatusUpdate{State: state, Message: &msg},
	}
}

func ResultChunk(taskID, text string) StreamChunk {
	msg := NewTextMessage(RoleAgent, text)
	return StreamChunk{TaskID: taskID, Result: &msg, Final: true}
}

// FailureChunk builds a terminal chunk whose text is shown to the caller
// and whose Error carries the structured reason.
func FailureChunk(taskID, text string, cerr ChunkError) StreamChunk {
	c := ResultChunk(taskID, text)
	c.Error = &cerr
	return c
}
