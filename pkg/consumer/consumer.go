package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

// FrameSource yields raw frames. *a2a.EventStream satisfies it.
type FrameSource interface {
	Next() (a2a.Frame, error)
}

// Renderer displays decoded chunks.
type Renderer interface {
	Render(d Decoded)
}

type RendererFunc func(d Decoded)

func (f RendererFunc) Render(d Decoded) { f(d) }

// Outcome summarizes a consumed stream.
type Outcome struct {
	Text        string
	Failed      bool
	Reason      string
	Terminal    bool
	Chunks      int
	Diagnostics int
	Err         error
}

type Consumer struct {
	renderer Renderer
	logger   *slog.Logger
}

func New(r Renderer, logger *slog.Logger) *Consumer {
	if r == nil {
		r = RendererFunc(func(Decoded) {})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{renderer: r, logger: telemetry.Component(logger, "consumer")}
}

// Consume reads src until a terminal chunk, the end of the stream, or a
// transport error. A chunk that fails to decode is logged and skipped.
func (c *Consumer) Consume(ctx context.Context, src FrameSource) Outcome {
	var out Outcome
	for {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			out.Err = a2a.ErrStreamClosed
			return out
		}
		if err != nil {
			out.Err = err
			return out
		}

		d := Decode(f.Data)
		out.Chunks++
		telemetry.Metrics.DecodeShapes.WithLabelValues(string(d.Kind)).Inc()

		switch d.Kind {
		case KindInvalid:
			out.Diagnostics++
			c.logger.Warn("skipping undecodable chunk",
				slog.String("event", f.Event),
				telemetry.Err(d.Err),
			)
			continue
		case KindDump:
			out.Diagnostics++
			c.logger.Debug("chunk matched no known shape", slog.String("dump", d.Text))
		}

		c.renderer.Render(d)
		if d.Final {
			out.Text = d.Text
			out.Failed = d.Failed
			out.Reason = d.Reason
			out.Terminal = true
			return out
		}
	}
}
