// Package llm is a small client for OpenAI-compatible chat completion
// servers. The slide generators use it for outline and copy text.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature *float64

	// JSON asks the server for a single JSON object reply.
	JSON bool
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is one streamed piece of a reply. The last event on a channel
// carries Usage or Err.
type Event struct {
	Token string
	Usage *Usage
	Err   error
}

type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (<-chan Event, error)
}

// APIError is a non-200 answer from the model server.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API returned %d: %s", e.Provider, e.Status, e.Body)
}

// Complete runs a single-turn request and joins the streamed tokens.
// onToken, when set, sees each token as it arrives.
func Complete(ctx context.Context, p Provider, req ChatRequest, onToken func(string)) (string, *Usage, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = "default"
	}

	events, err := p.Chat(ctx, req)
	if err != nil {
		telemetry.Metrics.LLMRequestsTotal.WithLabelValues(p.Name(), model, "error").Inc()
		return "", nil, err
	}

	var (
		sb    strings.Builder
		usage *Usage
	)
	for ev := range events {
		if ev.Err != nil {
			telemetry.Metrics.LLMRequestsTotal.WithLabelValues(p.Name(), model, "error").Inc()
			return "", nil, fmt.Errorf("%s: %w", p.Name(), ev.Err)
		}
		if ev.Usage != nil {
			usage = ev.Usage
		}
		if ev.Token != "" {
			sb.WriteString(ev.Token)
			if onToken != nil {
				onToken(ev.Token)
			}
		}
	}

	telemetry.Metrics.LLMRequestsTotal.WithLabelValues(p.Name(), model, "ok").Inc()
	telemetry.Metrics.LLMLatency.WithLabelValues(p.Name(), model).Observe(time.Since(start).Seconds())
	return sb.String(), usage, nil
}
