package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/directory"
)

type Kind string

const (
	KindNotFound    Kind = a2a.KindNotFound
	KindConnection  Kind = a2a.KindConnection
	KindStage       Kind = a2a.KindStage
	KindCanceled    Kind = a2a.KindCanceled
	KindUnsupported Kind = a2a.KindUnsupported
)

// Failure is the reason a run ended in Failed.
type Failure struct {
	Stage  State
	Kind   Kind
	Reason string
	Err    error
}

// Error renders Failed(stage, reason). Stage errors show the worker's
// reason verbatim; everything else shows the kind.
func (f *Failure) Error() string {
	detail := string(f.Kind)
	if f.Kind == KindStage && f.Reason != "" {
		detail = f.Reason
	}
	return fmt.Sprintf("Failed(%s, %s)", f.Stage, detail)
}

func (f *Failure) Unwrap() error { return f.Err }

// Chunk is the terminal chunk reporting f to the caller.
func (f *Failure) Chunk(taskID string) a2a.StreamChunk {
	return a2a.FailureChunk(taskID, f.Error(), a2a.ChunkError{
		Stage:  string(f.Stage),
		Kind:   string(f.Kind),
		Reason: f.Reason,
	})
}

// stageError is a worker's failure terminal.
type stageError struct {
	chunk *a2a.ChunkError
}

func (e *stageError) Error() string { return e.chunk.Reason }

// classify turns an error from a stage attempt into a Failure. ctx is the
// pipeline context: once it is done, its error decides the kind.
func classify(ctx context.Context, stage State, err error) *Failure {
	f := &Failure{Stage: stage, Reason: err.Error(), Err: err}

	if ctxErr := ctx.Err(); ctxErr != nil {
		f.Kind = KindCanceled
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			f.Kind = KindConnection
		}
		f.Reason = ctxErr.Error()
		return f
	}

	var (
		se   *stageError
		de   *directory.DiscoveryError
		conn *a2a.ConnectionError
	)
	switch {
	case errors.As(err, &se):
		f.Kind = KindStage
		if se.chunk.Kind == a2a.KindConnection {
			f.Kind = KindConnection
		}
		f.Reason = se.chunk.Reason
	case errors.As(err, &de), errors.Is(err, directory.ErrNotFound):
		f.Kind = KindNotFound
	case errors.Is(err, a2a.ErrStreamingUnsupported):
		f.Kind = KindUnsupported
	case errors.As(err, &conn), errors.Is(err, context.DeadlineExceeded):
		f.Kind = KindConnection
	default:
		f.Kind = KindConnection
	}
	return f
}
