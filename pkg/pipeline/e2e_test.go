package pipeline

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/directory"
	"github.com/igorsilveira/deckhand/pkg/worker"
)

func serveAgent(t *testing.T, exec a2a.Executor, card func(url string) *a2a.AgentCard) *a2a.AgentCard {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	c := card("http://" + ln.Addr().String())
	srv := &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: a2a.NewHandler(a2a.HandlerConfig{Card: c, Executor: exec})},
	}
	srv.Start()
	t.Cleanup(srv.Close)
	return c
}

// staticOutliner answers like an outliner that returns plain text.
var staticOutliner = a2a.ExecutorFunc(func(ctx context.Context, msg a2a.Message) <-chan a2a.StreamChunk {
	ch := make(chan a2a.StreamChunk, 2)
	ch <- a2a.StatusChunk("", a2a.TaskStateWorking, "outlining "+msg.Text())
	ch <- a2a.ResultChunk("", "I. Intro II. Trends III. Conclusion")
	close(ch)
	return ch
})

func TestEndToEndOverHTTP(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()

	copywriter, err := worker.New(worker.CapabilityDraft, worker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	builder, err := worker.New(worker.CapabilityBuild, worker.Options{OutputDir: out})
	if err != nil {
		t.Fatal(err)
	}

	reg := directory.NewRegistry(nil)
	outlineCard := serveAgent(t, staticOutliner, func(url string) *a2a.AgentCard {
		return &a2a.AgentCard{Name: "Outliner", URL: url, Capabilities: a2a.Capabilities{Streaming: true}}
	})
	_ = reg.Register(ctx, "outline", outlineCard)
	_ = reg.Register(ctx, "draft", serveAgent(t, copywriter, copywriter.Card))
	_ = reg.Register(ctx, "build", serveAgent(t, builder, builder.Card))

	transport := a2a.NewTransport(nil, nil)
	defer transport.Close()
	coord := New(Options{Finder: reg, Invoker: transport})

	chunks := collect(t, coord.Run(ctx, request("AI")))
	last := terminal(t, chunks)
	if last.Failed() {
		t.Fatalf("pipeline failed: %s (%+v)", last.Text(), last.Error)
	}

	path := last.Text()
	if filepath.Base(path) != "deck-intro-001.md" {
		t.Errorf("artifact = %q, want deck-intro-001.md", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	for _, title := range []string{"Intro", "Trends", "Conclusion"} {
		if !strings.Contains(string(data), title) {
			t.Errorf("deck missing %q", title)
		}
	}

	var drafting int
	for _, c := range chunks {
		if c.Status != nil && c.Status.Stage == "Drafting" && strings.HasPrefix(c.Text(), "Drafting slide") {
			drafting++
		}
	}
	if drafting != 3 {
		t.Errorf("relayed %d per-slide drafting updates, want 3", drafting)
	}
}

func TestCoordinatorServedAsAgent(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()

	reg := directory.NewRegistry(nil)
	for _, capability := range []string{worker.CapabilityOutline, worker.CapabilityDraft, worker.CapabilityBuild} {
		w, err := worker.New(capability, worker.Options{OutputDir: out})
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Register(ctx, reg, serveAgent(t, w, w.Card).URL); err != nil {
			t.Fatal(err)
		}
	}

	transport := a2a.NewTransport(nil, nil)
	defer transport.Close()
	coord := New(Options{Finder: reg, Invoker: transport})
	coordCard := serveAgent(t, coord, func(url string) *a2a.AgentCard { return coord.Card(url, "test") })

	stream, err := a2a.NewHTTPClient().Stream(ctx, coordCard, request("AI"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var last a2a.StreamChunk
	var n int
	for {
		c, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		n++
		last = c
	}
	if !last.IsTerminal() || last.Failed() {
		t.Fatalf("last chunk = %+v", last)
	}
	if filepath.Base(last.Text()) != "deck-ai-001.md" {
		t.Errorf("artifact = %q, want deck-ai-001.md", last.Text())
	}
	if n < 4 {
		t.Errorf("received %d chunks, want progress before the result", n)
	}
}
