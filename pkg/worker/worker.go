// Package worker implements the three pipeline stage agents. Each one is
// an a2a.Executor that streams progress and ends with exactly one
// terminal chunk.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	CapabilityOutline = "outline"
	CapabilityDraft   = "draft"
	CapabilityBuild   = "build"
)

// Version is stamped into every card.
var Version = "dev"

// stageFunc does the work of one stage. progress emits a status chunk.
type stageFunc func(ctx context.Context, input string, progress func(string)) (string, error)

type Agent struct {
	capability  string
	name        string
	description string
	skill       a2a.Skill
	run         stageFunc
	logger      *slog.Logger
}

// Registrar is satisfied by *directory.Registry and *directory.Client.
type Registrar interface {
	Register(ctx context.Context, capability string, card *a2a.AgentCard) error
}

// Options holds what the stage agents need at construction time.
type Options struct {
	Generator Generator
	OutputDir string
	Logger    *slog.Logger
}

// New returns the agent for capability.
func New(capability string, opts Options) (*Agent, error) {
	if opts.Generator == nil {
		opts.Generator = TemplateGenerator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch strings.ToLower(capability) {
	case CapabilityOutline:
		return NewOutliner(opts.Generator, opts.Logger), nil
	case CapabilityDraft:
		return NewCopywriter(opts.Generator, opts.Logger), nil
	case CapabilityBuild:
		return NewBuilder(BuilderConfig{OutputDir: opts.OutputDir}, opts.Logger)
	default:
		return nil, fmt.Errorf("worker: unknown capability %q", capability)
	}
}

func (a *Agent) Capability() string { return a.capability }
func (a *Agent) Name() string       { return a.name }

// Card describes the agent served at baseURL.
func (a *Agent) Card(baseURL string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:               a.name,
		Description:        a.description,
		URL:                baseURL,
		Version:            Version,
		Capabilities:       a2a.Capabilities{Streaming: true, StateTransitionHistory: true},
		Skills:             []a2a.Skill{a.skill},
		DefaultInputModes:  []string{"text", "text/plain"},
		DefaultOutputModes: []string{"text", "text/plain"},
	}
}

// Register announces the agent to a directory.
func (a *Agent) Register(ctx context.Context, reg Registrar, baseURL string) error {
	if err := reg.Register(ctx, a.capability, a.Card(baseURL)); err != nil {
		return fmt.Errorf("worker: registering %s: %w", a.name, err)
	}
	return nil
}

func (a *Agent) Execute(ctx context.Context, msg a2a.Message) <-chan a2a.StreamChunk {
	out := make(chan a2a.StreamChunk)
	go func() {
		defer close(out)

		ctx, span := telemetry.StartSpan(ctx, "worker."+a.capability,
			attribute.String("task_id", msg.MessageID),
			attribute.String("context_id", msg.ContextID),
		)
		logger := a.logger.With(slog.String("task_id", msg.MessageID))

		emit := func(c a2a.StreamChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		progress := func(text string) {
			emit(a2a.StatusChunk(msg.MessageID, a2a.TaskStateWorking, text))
		}

		logger.Info("stage started")
		result, err := a.run(ctx, msg.Text(), progress)
		telemetry.EndSpan(span, err)
		if err != nil {
			logger.Warn("stage failed", telemetry.Err(err))
			emit(a2a.FailureChunk(msg.MessageID, "Error: "+err.Error(), a2a.ChunkError{
				Stage:  a.capability,
				Kind:   a2a.KindStage,
				Reason: err.Error(),
			}))
			return
		}
		logger.Info("stage completed")
		emit(a2a.ResultChunk(msg.MessageID, result))
	}()
	return out
}
