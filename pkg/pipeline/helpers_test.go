package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/directory"
)

type fakeFinder struct {
	mu    sync.Mutex
	cards map[string]*a2a.AgentCard
}

func newFinder(capabilities ...string) *fakeFinder {
	f := &fakeFinder{cards: make(map[string]*a2a.AgentCard)}
	for _, c := range capabilities {
		f.cards[c] = &a2a.AgentCard{
			Name:         c + "-agent",
			URL:          "http://" + c + ".test",
			Capabilities: a2a.Capabilities{Streaming: true},
		}
	}
	return f
}

func (f *fakeFinder) Find(_ context.Context, capability string) (*a2a.AgentCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[capability]
	if !ok {
		return nil, &directory.DiscoveryError{Capability: capability, Err: directory.ErrNotFound}
	}
	return card.Clone(), nil
}

type call struct {
	agent string
	msg   a2a.Message
}

// fakeInvoker answers Stream with the script registered for the card's
// agent name.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []call
	scripts map[string]func(ctx context.Context, msg a2a.Message) (a2a.Stream, error)
}

func newInvoker() *fakeInvoker {
	return &fakeInvoker{scripts: make(map[string]func(context.Context, a2a.Message) (a2a.Stream, error))}
}

func (f *fakeInvoker) on(capability string, fn func(ctx context.Context, msg a2a.Message) (a2a.Stream, error)) {
	f.scripts[capability+"-agent"] = fn
}

// reply scripts a stage that streams one status then returns text.
func (f *fakeInvoker) reply(capability string, text func(input string) string) {
	f.on(capability, func(ctx context.Context, msg a2a.Message) (a2a.Stream, error) {
		return &sliceStream{chunks: []a2a.StreamChunk{
			a2a.StatusChunk(msg.MessageID, a2a.TaskStateWorking, capability+" working"),
			a2a.ResultChunk(msg.MessageID, text(msg.Text())),
		}}, nil
	})
}

func (f *fakeInvoker) Stream(ctx context.Context, card *a2a.AgentCard, msg a2a.Message) (a2a.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{agent: card.Name, msg: msg})
	fn := f.scripts[card.Name]
	f.mu.Unlock()
	if fn == nil {
		return nil, &a2a.ConnectionError{Op: "stream", URL: card.URL, Err: io.ErrUnexpectedEOF}
	}
	return fn(ctx, msg)
}

func (f *fakeInvoker) Send(ctx context.Context, card *a2a.AgentCard, msg a2a.Message) (*a2a.Message, error) {
	panic("Send not used by the coordinator")
}

func (f *fakeInvoker) agents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.agent)
	}
	return out
}

func (f *fakeInvoker) callsTo(agent string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.agent == agent {
			out = append(out, c)
		}
	}
	return out
}

type sliceStream struct {
	chunks []a2a.StreamChunk
	errs   map[int]error
	i      int
}

func (s *sliceStream) Recv() (a2a.StreamChunk, error) {
	if err, ok := s.errs[s.i]; ok {
		delete(s.errs, s.i)
		return a2a.StreamChunk{}, err
	}
	if s.i >= len(s.chunks) {
		return a2a.StreamChunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *sliceStream) Close() error { return nil }

// hangStream blocks until ctx ends, then fails the way a real transport
// does.
type hangStream struct {
	ctx context.Context
}

func (s *hangStream) Recv() (a2a.StreamChunk, error) {
	<-s.ctx.Done()
	return a2a.StreamChunk{}, &a2a.ConnectionError{Op: "read stream", URL: "http://outline.test", Err: s.ctx.Err()}
}

func (s *hangStream) Close() error { return nil }

func collect(t *testing.T, ch <-chan a2a.StreamChunk) []a2a.StreamChunk {
	t.Helper()
	var out []a2a.StreamChunk
	timeout := time.After(10 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("pipeline did not finish")
			return nil
		}
	}
}

// terminal asserts exactly one terminal chunk, last, and returns it.
func terminal(t *testing.T, chunks []a2a.StreamChunk) a2a.StreamChunk {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	for i, c := range chunks[:len(chunks)-1] {
		if c.IsTerminal() {
			t.Fatalf("chunk %d of %d is terminal", i, len(chunks))
		}
	}
	last := chunks[len(chunks)-1]
	if !last.IsTerminal() {
		t.Fatalf("last chunk is not terminal: %+v", last)
	}
	return last
}

func request(topic string) a2a.Message {
	return a2a.NewTextMessage(a2a.RoleUser, topic)
}
