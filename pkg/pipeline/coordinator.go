// Package pipeline sequences the outline, draft and build stages for each
// request and relays their progress to the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/audit"
	"github.com/igorsilveira/deckhand/pkg/directory"
	"github.com/igorsilveira/deckhand/pkg/events"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// abandonAfter bounds how long the terminal chunk waits for a caller that
// has stopped reading.
const abandonAfter = 5 * time.Second

type Options struct {
	Finder          directory.Finder
	Invoker         a2a.Invoker
	Retry           RetryPolicy
	PipelineTimeout time.Duration
	StageTimeout    time.Duration
	Events          events.Sink
	AuditLog        a2a.Auditor
	Logger          *slog.Logger
}

type Coordinator struct {
	finder          directory.Finder
	invoker         a2a.Invoker
	retry           RetryPolicy
	pipelineTimeout time.Duration
	stageTimeout    time.Duration
	events          events.Sink
	auditLog        a2a.Auditor
	logger          *slog.Logger
}

func New(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	return &Coordinator{
		finder:          opts.Finder,
		invoker:         opts.Invoker,
		retry:           opts.Retry,
		pipelineTimeout: opts.PipelineTimeout,
		stageTimeout:    opts.StageTimeout,
		events:          opts.Events,
		auditLog:        opts.AuditLog,
		logger:          telemetry.Component(opts.Logger, "coordinator"),
	}
}

// Card describes the coordinator as an agent served at baseURL.
func (c *Coordinator) Card(baseURL, version string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:        "Coordinator",
		Description: "Turns a topic into a finished slide deck by running the outline, draft and build agents in order.",
		URL:         baseURL,
		Version:     version,
		Capabilities: a2a.Capabilities{
			Streaming:              true,
			StateTransitionHistory: true,
		},
		Skills: []a2a.Skill{{
			ID:          "generate_deck",
			Name:        "Generate Deck",
			Description: "Generate a slide deck for a topic and return the artifact reference.",
			Tags:        []string{"presentation", "pipeline"},
			Examples:    []string{"AI", "The future of remote work"},
		}},
		DefaultInputModes:  []string{"text", "text/plain"},
		DefaultOutputModes: []string{"text", "text/plain"},
	}
}

func (c *Coordinator) Execute(ctx context.Context, msg a2a.Message) <-chan a2a.StreamChunk {
	return c.Run(ctx, msg)
}

// Run executes the pipeline for req. The returned channel carries status
// chunks followed by exactly one terminal chunk, then closes. Callers must
// drain it.
func (c *Coordinator) Run(ctx context.Context, req a2a.Message) <-chan a2a.StreamChunk {
	out := make(chan a2a.StreamChunk)
	go func() {
		defer close(out)
		r := &relay{
			coord: c,
			run:   NewRun(req.MessageID, req.Text()),
			out:   out,
		}
		r.execute(ctx, req)
	}()
	return out
}

// relay is the per-request state of one Run call.
type relay struct {
	coord  *Coordinator
	run    *Run
	out    chan<- a2a.StreamChunk
	logger *slog.Logger
}

func (r *relay) execute(parent context.Context, req a2a.Message) {
	c := r.coord
	ctx := parent
	if c.pipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.pipelineTimeout)
		defer cancel()
	}
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run",
		attribute.String("run_id", r.run.ID),
		attribute.String("topic", r.run.Topic),
	)
	r.logger = c.logger.With(slog.String("run_id", r.run.ID))

	telemetry.Metrics.ActivePipelines.Inc()
	defer telemetry.Metrics.ActivePipelines.Dec()
	c.audit(ctx, audit.EventPipelineStart, r.run.ID, r.run.Topic)
	r.logger.Info("pipeline started", slog.String("topic", r.run.Topic))

	payload := req.Text()
	for _, st := range Stages {
		r.transition(ctx, st.State, nil)
		out, f := r.stage(ctx, st, payload)
		if f != nil {
			r.fail(ctx, f)
			telemetry.EndSpan(span, f)
			return
		}
		payload = out
	}

	r.transition(ctx, StateCompleted, nil)
	telemetry.Metrics.PipelineRuns.WithLabelValues("completed").Inc()
	telemetry.Metrics.PipelineDuration.Observe(time.Since(r.run.Started).Seconds())
	c.audit(ctx, audit.EventPipelineDone, r.run.ID, payload)
	r.logger.Info("pipeline completed",
		slog.String("artifact", payload),
		slog.Duration("elapsed", time.Since(r.run.Started)),
	)
	telemetry.EndSpan(span, nil)
	r.finish(ctx, a2a.ResultChunk(r.run.ID, payload))
}

// stage resolves, invokes and relays one stage, returning its terminal
// payload.
func (r *relay) stage(ctx context.Context, st Stage, input string) (string, *Failure) {
	c := r.coord
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "pipeline.stage",
		attribute.String("stage", string(st.State)),
		attribute.String("capability", st.Capability),
	)
	defer func() {
		telemetry.Metrics.StageDuration.WithLabelValues(string(st.State)).Observe(time.Since(start).Seconds())
	}()

	card, err := c.finder.Find(ctx, st.Capability)
	if err != nil {
		f := classify(ctx, st.State, err)
		telemetry.EndSpan(span, f)
		return "", f
	}
	if !card.Capabilities.Streaming {
		f := &Failure{
			Stage:  st.State,
			Kind:   KindUnsupported,
			Reason: fmt.Sprintf("%s does not support streaming", card.Name),
			Err:    a2a.ErrStreamingUnsupported,
		}
		telemetry.EndSpan(span, f)
		return "", f
	}

	r.status(ctx, st.State, fmt.Sprintf("%s: handing off to %s", st.State, card.Name))

	out, err := c.retry.do(ctx, func() (string, error) {
		return r.attempt(ctx, st, card, input)
	}, func(err error, wait time.Duration) {
		telemetry.Metrics.StageRetries.WithLabelValues(string(st.State)).Inc()
		r.logger.Warn("retrying stage",
			slog.String("stage", string(st.State)),
			slog.Duration("wait", wait),
			telemetry.Err(err),
		)
		r.status(ctx, st.State, fmt.Sprintf("%s: retrying after error: %v", st.State, err))
	})
	if err != nil {
		f := classify(ctx, st.State, err)
		telemetry.EndSpan(span, f)
		return "", f
	}
	telemetry.EndSpan(span, nil)
	return out, nil
}

// attempt makes one streaming call to the stage's agent.
func (r *relay) attempt(ctx context.Context, st Stage, card *a2a.AgentCard, input string) (string, error) {
	c := r.coord
	if c.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stageTimeout)
		defer cancel()
	}

	msg := a2a.Message{
		MessageID: uuid.NewString(),
		ContextID: r.run.ID,
		Role:      a2a.RoleUser,
		Parts:     []a2a.Part{{Type: a2a.PartText, Text: input}},
	}
	stream, err := c.invoker.Stream(ctx, card, msg)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", &a2a.ConnectionError{Op: "read stream", URL: card.URL, Err: a2a.ErrStreamClosed}
		}
		var pe *a2a.ProtocolError
		if errors.As(err, &pe) {
			r.logger.Warn("skipping undecodable chunk",
				slog.String("stage", string(st.State)),
				telemetry.Err(err),
			)
			continue
		}
		if err != nil {
			return "", err
		}

		if chunk.Failed() {
			return "", &stageError{chunk: chunk.Error}
		}
		if chunk.IsTerminal() {
			return chunk.Text(), nil
		}
		if chunk.Status != nil {
			telemetry.Metrics.ChunksRelayed.WithLabelValues(string(st.State)).Inc()
			r.emit(ctx, a2a.StreamChunk{
				TaskID: r.run.ID,
				Status: &a2a.StatusUpdate{
					State:   a2a.TaskStateWorking,
					Stage:   string(st.State),
					Message: chunk.Status.Message,
				},
			})
		}
	}
}

func (r *relay) transition(ctx context.Context, to State, f *Failure) {
	var (
		from State
		err  error
	)
	if f != nil {
		from, err = r.run.Fail(f)
	} else {
		from, err = r.run.Transition(to)
	}
	if err != nil {
		r.logger.Error("rejected state transition", telemetry.Err(err))
		return
	}

	ev := events.Event{
		RunID: r.run.ID,
		Topic: r.run.Topic,
		From:  string(from),
		To:    string(to),
		At:    time.Now().UTC(),
	}
	if f != nil {
		ev.Kind = string(f.Kind)
		ev.Reason = f.Reason
	}
	if err := r.coord.events.Publish(ctx, ev); err != nil {
		r.logger.Warn("event publish failed", telemetry.Err(err))
	}
	if !to.Terminal() {
		r.status(ctx, to, fmt.Sprintf("%s started", to))
	}
}

func (r *relay) fail(ctx context.Context, f *Failure) {
	r.transition(ctx, StateFailed, f)
	telemetry.Metrics.PipelineRuns.WithLabelValues("failed").Inc()
	telemetry.Metrics.StageFailures.WithLabelValues(string(f.Stage), string(f.Kind)).Inc()
	telemetry.Metrics.PipelineDuration.Observe(time.Since(r.run.Started).Seconds())
	r.coord.audit(context.WithoutCancel(ctx), audit.EventPipelineFail, r.run.ID, f.Error())
	r.logger.Warn("pipeline failed",
		slog.String("stage", string(f.Stage)),
		slog.String("kind", string(f.Kind)),
		slog.String("reason", f.Reason),
	)
	r.finish(ctx, f.Chunk(r.run.ID))
}

func (r *relay) status(ctx context.Context, stage State, text string) {
	c := a2a.StatusChunk(r.run.ID, a2a.TaskStateWorking, text)
	c.Status.Stage = string(stage)
	r.emit(ctx, c)
}

// emit delivers a non-terminal chunk unless the request is gone.
func (r *relay) emit(ctx context.Context, c a2a.StreamChunk) bool {
	select {
	case r.out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish delivers the terminal chunk. It still tries after ctx ends so a
// caller that is draining sees the outcome.
func (r *relay) finish(ctx context.Context, c a2a.StreamChunk) {
	if ctx.Err() == nil {
		select {
		case r.out <- c:
			return
		case <-ctx.Done():
		}
	}
	select {
	case r.out <- c:
	case <-time.After(abandonAfter):
		r.logger.Warn("caller stopped reading, dropping terminal chunk")
	}
}

func (c *Coordinator) audit(ctx context.Context, event, runID, detail string) {
	if c.auditLog == nil {
		return
	}
	if err := c.auditLog.Log(ctx, event, runID, "Coordinator", "pipeline", detail); err != nil {
		c.logger.Warn("audit log write failed", telemetry.Err(err))
	}
}
