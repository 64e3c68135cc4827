package consumer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/igorsilveira/deckhand/pkg/a2a"
)

type sliceSource struct {
	frames []a2a.Frame
	err    error
}

func (s *sliceSource) Next() (a2a.Frame, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return a2a.Frame{}, s.err
		}
		return a2a.Frame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func frames(raw ...string) *sliceSource {
	s := &sliceSource{}
	for _, r := range raw {
		s.frames = append(s.frames, a2a.Frame{Event: "status", Data: []byte(r)})
	}
	return s
}

type recorder struct {
	got []Decoded
}

func (r *recorder) Render(d Decoded) { r.got = append(r.got, d) }

const (
	statusFrame = `{"status":{"stage":"Outlining","message":{"parts":[{"type":"text","text":"Outlining started"}]}}}`
	resultFrame = `{"result":{"parts":[{"type":"text","text":"output/deck-ai-001.md"}]},"final":true}`
)

func TestConsumeCompletes(t *testing.T) {
	rec := &recorder{}
	out := New(rec, nil).Consume(context.Background(), frames(statusFrame, resultFrame))
	if out.Err != nil {
		t.Fatalf("Err = %v", out.Err)
	}
	if !out.Terminal || out.Failed {
		t.Fatalf("Outcome = %+v, want successful terminal", out)
	}
	if out.Text != "output/deck-ai-001.md" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Chunks != 2 || len(rec.got) != 2 {
		t.Errorf("Chunks = %d, rendered = %d, want 2", out.Chunks, len(rec.got))
	}
}

// An unrecognized chunk is reported and the next chunk still renders.
func TestConsumeSurvivesUnknownShape(t *testing.T) {
	rec := &recorder{}
	src := frames(
		`{"kind":"heartbeat","seq":7}`,
		`this is not json`,
		statusFrame,
		resultFrame,
	)
	out := New(rec, nil).Consume(context.Background(), src)
	if !out.Terminal {
		t.Fatalf("Outcome = %+v, want terminal", out)
	}
	if out.Diagnostics != 2 {
		t.Errorf("Diagnostics = %d, want 2", out.Diagnostics)
	}
	if len(rec.got) != 3 {
		t.Fatalf("rendered %d chunks, want 3", len(rec.got))
	}
	if rec.got[0].Kind != KindDump {
		t.Errorf("first render kind = %q, want dump", rec.got[0].Kind)
	}
	if rec.got[1].Text != "Outlining started" {
		t.Errorf("second render = %q, want the status text", rec.got[1].Text)
	}
}

func TestConsumeStopsAtTerminal(t *testing.T) {
	rec := &recorder{}
	src := frames(resultFrame, statusFrame)
	out := New(rec, nil).Consume(context.Background(), src)
	if !out.Terminal || len(rec.got) != 1 {
		t.Errorf("Outcome = %+v, rendered %d, want stop after terminal", out, len(rec.got))
	}
	if len(src.frames) != 1 {
		t.Errorf("frames left = %d, want 1 unread", len(src.frames))
	}
}

func TestConsumeFailure(t *testing.T) {
	out := New(nil, nil).Consume(context.Background(), frames(
		`{"result":{"parts":[{"text":"Failed(Outlining, NotFound)"}]},"final":true,"error":{"stage":"Outlining","kind":"NotFound","reason":"no agent registered"}}`,
	))
	if !out.Terminal || !out.Failed {
		t.Fatalf("Outcome = %+v, want failed terminal", out)
	}
	if out.Reason != "no agent registered" {
		t.Errorf("Reason = %q", out.Reason)
	}
}

func TestConsumeContentError(t *testing.T) {
	out := New(nil, nil).Consume(context.Background(), frames(
		`{"is_task_complete":false,"content":"Outlining started"}`,
		`{"is_task_complete":true,"content":"Error: no agent for draft"}`,
	))
	if !out.Terminal || !out.Failed {
		t.Fatalf("Outcome = %+v, want failed terminal", out)
	}
	if out.Reason != "no agent for draft" {
		t.Errorf("Reason = %q", out.Reason)
	}
}

func TestConsumeEndsWithoutTerminal(t *testing.T) {
	out := New(nil, nil).Consume(context.Background(), frames(statusFrame))
	if out.Terminal {
		t.Fatal("Terminal = true for a truncated stream")
	}
	if !errors.Is(out.Err, a2a.ErrStreamClosed) {
		t.Errorf("Err = %v, want ErrStreamClosed", out.Err)
	}
}

func TestConsumeTransportError(t *testing.T) {
	broken := errors.New("connection reset")
	src := frames(statusFrame)
	src.err = broken
	out := New(nil, nil).Consume(context.Background(), src)
	if !errors.Is(out.Err, broken) {
		t.Errorf("Err = %v, want %v", out.Err, broken)
	}
	if out.Chunks != 1 {
		t.Errorf("Chunks = %d, want 1", out.Chunks)
	}
}

func TestConsumeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := New(nil, nil).Consume(ctx, frames(statusFrame, resultFrame))
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", out.Err)
	}
}

func TestConsumeOverHTTP(t *testing.T) {
	exec := a2a.ExecutorFunc(func(ctx context.Context, msg a2a.Message) <-chan a2a.StreamChunk {
		ch := make(chan a2a.StreamChunk, 3)
		ch <- a2a.StatusChunk(msg.MessageID, a2a.TaskStateWorking, "Outlining started")
		ch <- a2a.StatusChunk(msg.MessageID, a2a.TaskStateWorking, "Drafting started")
		ch <- a2a.ResultChunk(msg.MessageID, "output/deck-ai-001.md")
		close(ch)
		return ch
	})
	card := &a2a.AgentCard{
		Name:         "Coordinator",
		URL:          "http://127.0.0.1:10200",
		Capabilities: a2a.Capabilities{Streaming: true},
	}
	srv := httptest.NewServer(a2a.NewHandler(a2a.HandlerConfig{Card: card, Executor: exec}))
	defer srv.Close()

	stream, err := a2a.NewHTTPClient().OpenStream(context.Background(), srv.URL, a2a.NewTextMessage(a2a.RoleUser, "AI"))
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	var buf bytes.Buffer
	out := New(NewPlainRenderer(&buf), nil).Consume(context.Background(), stream)
	if !out.Terminal || out.Text != "output/deck-ai-001.md" {
		t.Fatalf("Outcome = %+v", out)
	}
	want := "Outlining started\nDrafting started\n✓ output/deck-ai-001.md\n"
	if buf.String() != want {
		t.Errorf("rendered:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestPlainRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.Render(Decoded{Kind: KindStatus, Stage: "Drafting", Text: "Drafting slide 1/3: Intro"})
	r.Render(Decoded{Kind: KindDump, Text: `{"x":1}`})
	r.Render(Decoded{Kind: KindResult, Final: true, Failed: true, Text: "Failed(Drafting, StageError)"})
	got := buf.String()
	for _, want := range []string{"[Drafting] Drafting slide 1/3: Intro\n", "? {\"x\":1}\n", "✗ Failed(Drafting, StageError)\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
