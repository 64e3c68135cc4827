package a2a

import (
	"context"
	"testing"
)

func scripted(chunks ...StreamChunk) Executor {
	return ExecutorFunc(func(ctx context.Context, msg Message) <-chan StreamChunk {
		ch := make(chan StreamChunk, len(chunks))
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return ch
	})
}

// blocking emits one status chunk then waits for cancellation.
func blocking(started chan<- struct{}) Executor {
	return ExecutorFunc(func(ctx context.Context, msg Message) <-chan StreamChunk {
		ch := make(chan StreamChunk)
		go func() {
			defer close(ch)
			select {
			case ch <- StatusChunk("", TaskStateWorking, "thinking"):
			case <-ctx.Done():
				return
			}
			if started != nil {
				close(started)
			}
			<-ctx.Done()
		}()
		return ch
	})
}

func testCard(streaming bool) *AgentCard {
	return &AgentCard{
		Name:         "TestAgent",
		Description:  "A test agent",
		URL:          "http://localhost:10201/",
		Version:      "1.0.0",
		Capabilities: Capabilities{Streaming: streaming, StateTransitionHistory: true},
		Skills:       []Skill{{ID: "echo", Name: "echo", Description: "Echo input"}},
	}
}

func testHandler(t *testing.T, exec Executor) *Handler {
	t.Helper()
	return NewHandler(HandlerConfig{Card: testCard(true), Executor: exec})
}

func collect(t *testing.T, s Stream) []StreamChunk {
	t.Helper()
	var out []StreamChunk
	for {
		c, err := s.Recv()
		if err != nil {
			return out
		}
		out = append(out, c)
	}
}
