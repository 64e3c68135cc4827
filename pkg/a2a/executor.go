package a2a

import (
	"context"
	"errors"
)

// Executor produces the chunks answering one message. The returned
// channel must be closed by the executor once it is done.
type Executor interface {
	Execute(ctx context.Context, msg Message) <-chan StreamChunk
}

type ExecutorFunc func(ctx context.Context, msg Message) <-chan StreamChunk

func (f ExecutorFunc) Execute(ctx context.Context, msg Message) <-chan StreamChunk {
	return f(ctx, msg)
}

// Seal relays chunks from in, stamped with taskID, and guarantees the
// output ends with exactly one terminal chunk. Chunks after the first
// terminal are dropped. If in closes without a terminal, or ctx ends
// first, a failure terminal is synthesized. Callers must drain the
// returned channel.
func Seal(ctx context.Context, taskID string, in <-chan StreamChunk) <-chan StreamChunk {
	out := make(chan StreamChunk, 1)
	go func() {
		defer close(out)
		for {
			select {
			case c, ok := <-in:
				if !ok {
					out <- FailureChunk(taskID, ErrStreamClosed.Error(), ChunkError{
						Kind:   KindStage,
						Reason: "agent closed stream without a result",
					})
					return
				}
				c.TaskID = taskID
				if c.Result == nil && c.Status == nil {
					continue
				}
				if c.Result != nil {
					c.Final = true
				}
				out <- c
				if c.Final {
					go drain(in)
					return
				}
			case <-ctx.Done():
				go drain(in)
				kind := KindCanceled
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					kind = KindConnection
				}
				out <- FailureChunk(taskID, ctx.Err().Error(), ChunkError{
					Kind:   kind,
					Reason: ctx.Err().Error(),
				})
				return
			}
		}
	}()
	return out
}

func drain(in <-chan StreamChunk) {
	for range in {
	}
}
