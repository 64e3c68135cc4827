package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/consumer"
)

// serve runs g on a loopback listener until the test ends.
func serve(t *testing.T, g *Gateway) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return "http://" + ln.Addr().String()
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthAndMetrics(t *testing.T) {
	base := serve(t, New(Config{}))
	if code, body := get(t, base+"/healthz"); code != http.StatusOK || !strings.Contains(body, "ok") {
		t.Errorf("/healthz = %d %s", code, body)
	}
	if code, body := get(t, base+"/metrics"); code != http.StatusOK || !strings.Contains(body, "deckhand_") {
		t.Errorf("/metrics = %d, deckhand metrics missing", code)
	}
}

func TestReadyz(t *testing.T) {
	g := New(Config{})
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before Serve = %d, want 503", rec.Code)
	}

	base := serve(t, g)
	if code, _ := get(t, base+"/readyz"); code != http.StatusOK {
		t.Errorf("/readyz while serving = %d, want 200", code)
	}
}

func TestReadyzConsultsCheck(t *testing.T) {
	base := serve(t, New(Config{Ready: func(ctx context.Context) error {
		return errors.New("directory unreachable")
	}}))
	code, body := get(t, base+"/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want 503", code)
	}
	if !strings.Contains(body, "directory unreachable") {
		t.Errorf("/readyz body = %s", body)
	}
}

func TestHandlerAndMounts(t *testing.T) {
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "root "+r.URL.Path)
	})
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "mcp")
	})
	base := serve(t, New(Config{Handler: root, Mounts: []Mount{{Pattern: "/mcp", Handler: mcp}}}))

	if _, body := get(t, base+"/cards/outline"); body != "root /cards/outline" {
		t.Errorf("root handler body = %q", body)
	}
	if _, body := get(t, base+"/mcp"); body != "mcp" {
		t.Errorf("mount body = %q", body)
	}
	if _, body := get(t, base+"/healthz"); !strings.Contains(body, "ok") {
		t.Errorf("/healthz shadowed by root handler: %q", body)
	}
}

func pipelineExecutor() a2a.Executor {
	return a2a.ExecutorFunc(func(ctx context.Context, msg a2a.Message) <-chan a2a.StreamChunk {
		ch := make(chan a2a.StreamChunk, 3)
		ch <- a2a.StatusChunk(msg.MessageID, a2a.TaskStateWorking, "Outlining started")
		ch <- a2a.StatusChunk(msg.MessageID, a2a.TaskStateWorking, "Building started")
		ch <- a2a.ResultChunk(msg.MessageID, "output/deck-"+strings.ToLower(msg.Text())+"-001.md")
		close(ch)
		return ch
	})
}

func TestWebSocketRelay(t *testing.T) {
	base := serve(t, New(Config{Executor: pipelineExecutor()}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := DialStream(ctx, base, "AI")
	if err != nil {
		t.Fatalf("DialStream: %v", err)
	}
	defer stream.Close()

	var rendered []string
	out := consumer.New(consumer.RendererFunc(func(d consumer.Decoded) {
		rendered = append(rendered, d.Text)
	}), nil).Consume(ctx, stream)

	if !out.Terminal || out.Failed {
		t.Fatalf("Outcome = %+v, want completed", out)
	}
	if out.Text != "output/deck-ai-001.md" {
		t.Errorf("Text = %q", out.Text)
	}
	if len(rendered) != 3 {
		t.Errorf("rendered = %q, want 3 chunks", rendered)
	}
	if _, err := stream.Next(); err != io.EOF {
		t.Errorf("Next after terminal = %v, want io.EOF", err)
	}
}

func TestWebSocketRejectsBadRequest(t *testing.T) {
	base := serve(t, New(Config{Executor: pipelineExecutor()}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u, _ := wsURL(base)
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, map[string]string{"topic": "  "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var c a2a.StreamChunk
	if err := wsjson.Read(ctx, conn, &c); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !c.Failed() || c.Error.Kind != "InvalidRequest" {
		t.Errorf("chunk = %+v, want InvalidRequest failure", c)
	}

	// The connection stays usable for a valid request.
	if err := wsjson.Write(ctx, conn, map[string]string{"topic": "Go"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var last a2a.StreamChunk
	for {
		var c a2a.StreamChunk
		if err := wsjson.Read(ctx, conn, &c); err != nil {
			t.Fatalf("read: %v", err)
		}
		if c.IsTerminal() {
			last = c
			break
		}
	}
	if last.Failed() {
		t.Fatalf("valid request failed: %+v", last.Error)
	}
	if last.Text() != "output/deck-go-001.md" {
		t.Errorf("terminal text = %q", last.Text())
	}
}

func TestWebSocketDisconnectCancelsRun(t *testing.T) {
	canceled := make(chan struct{})
	exec := a2a.ExecutorFunc(func(ctx context.Context, msg a2a.Message) <-chan a2a.StreamChunk {
		ch := make(chan a2a.StreamChunk)
		go func() {
			defer close(ch)
			select {
			case ch <- a2a.StatusChunk(msg.MessageID, a2a.TaskStateWorking, "working"):
			case <-ctx.Done():
			}
			<-ctx.Done()
			close(canceled)
		}()
		return ch
	})
	base := serve(t, New(Config{Executor: exec}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := DialStream(ctx, base, "AI")
	if err != nil {
		t.Fatalf("DialStream: %v", err)
	}
	if _, err := stream.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	stream.Close()

	select {
	case <-canceled:
	case <-ctx.Done():
		t.Fatal("run not canceled after the client went away")
	}
}

func TestResolveAddr(t *testing.T) {
	tests := []struct {
		bind string
		want string
	}{
		{"", "127.0.0.1:10200"},
		{"loopback", "127.0.0.1:10200"},
		{"lan", "0.0.0.0:10200"},
		{"all", "0.0.0.0:10200"},
		{"10.0.0.5", "10.0.0.5:10200"},
	}
	for _, tt := range tests {
		if got := ResolveAddr(tt.bind, 10200); got != tt.want {
			t.Errorf("ResolveAddr(%q) = %q, want %q", tt.bind, got, tt.want)
		}
	}
	if got := AdvertiseURL("grpc", "all", 11201); got != "grpc://127.0.0.1:11201" {
		t.Errorf("AdvertiseURL = %q", got)
	}
	if got := AdvertiseURL("http", "10.0.0.5", 10201); got != "http://10.0.0.5:10201" {
		t.Errorf("AdvertiseURL = %q", got)
	}
}

func TestWSURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://127.0.0.1:10200", "ws://127.0.0.1:10200/a2a/ws", false},
		{"https://deck.example/", "wss://deck.example/a2a/ws", false},
		{"grpc://127.0.0.1:1", "", true},
	}
	for _, tt := range tests {
		got, err := wsURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("wsURL(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
