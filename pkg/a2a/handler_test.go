package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func postJSON(h http.Handler, path string, v any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(v)
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func rpc(t *testing.T, h http.Handler, method string, params any) JSONRPCResponse {
	t.Helper()
	req, err := NewJSONRPCRequest(1, method, params)
	if err != nil {
		t.Fatal(err)
	}
	w := postJSON(h, "/a2a", req)
	var resp JSONRPCResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v (body %q)", err, w.Body.String())
	}
	return resp
}

func sseChunks(t *testing.T, body string) []StreamChunk {
	t.Helper()
	r := NewSSEReader(strings.NewReader(body))
	var out []StreamChunk
	for {
		f, err := r.Next()
		if err != nil {
			return out
		}
		var c StreamChunk
		if err := json.Unmarshal(f.Data, &c); err != nil {
			t.Fatalf("frame %q: %v", f.Data, err)
		}
		out = append(out, c)
	}
}

func TestAgentCard(t *testing.T) {
	h := testHandler(t, scripted())
	req := httptest.NewRequest("GET", CardPath, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var card AgentCard
	if err := json.NewDecoder(w.Body).Decode(&card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.Name != "TestAgent" {
		t.Errorf("Name = %q, want %q", card.Name, "TestAgent")
	}
	if !card.Capabilities.Streaming {
		t.Error("Capabilities.Streaming = false, want true")
	}
	if len(card.Skills) != 1 {
		t.Errorf("Skills len = %d, want 1", len(card.Skills))
	}
}

func TestSendMessageCreatesTask(t *testing.T) {
	h := testHandler(t, scripted(
		StatusChunk("", TaskStateWorking, "working"),
		ResultChunk("", "done"),
	))

	msg := NewTextMessage(RoleUser, "hello")
	w := postJSON(h, "/a2a/messages", msg)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var task Task
	if err := json.NewDecoder(w.Body).Decode(&task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID != msg.MessageID {
		t.Errorf("ID = %q, want %q", task.ID, msg.MessageID)
	}
	if task.State != TaskStateCompleted {
		t.Errorf("State = %q, want %q", task.State, TaskStateCompleted)
	}
	if task.Result == nil || task.Result.Text() != "done" {
		t.Errorf("Result = %+v, want text done", task.Result)
	}
	want := []TaskState{TaskStateSubmitted, TaskStateWorking, TaskStateCompleted}
	if len(task.History) != len(want) {
		t.Fatalf("History = %v, want %v", task.History, want)
	}
	for i := range want {
		if task.History[i] != want[i] {
			t.Errorf("History[%d] = %q, want %q", i, task.History[i], want[i])
		}
	}
}

func TestSendMessageRejectsInvalid(t *testing.T) {
	h := testHandler(t, scripted(ResultChunk("", "x")))
	w := postJSON(h, "/a2a/messages", Message{Role: RoleUser})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSendMessageDuplicateID(t *testing.T) {
	h := testHandler(t, scripted(ResultChunk("", "x")))
	msg := NewTextMessage(RoleUser, "hello")
	postJSON(h, "/a2a/messages", msg)
	w := postJSON(h, "/a2a/messages", msg)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestStreamEmitsExactlyOneTerminal(t *testing.T) {
	h := testHandler(t, scripted(
		StatusChunk("", TaskStateWorking, "one"),
		StatusChunk("", TaskStateWorking, "two"),
		ResultChunk("", "final"),
		StatusChunk("", TaskStateWorking, "late"),
		ResultChunk("", "second final"),
	))

	msg := NewTextMessage(RoleUser, "go")
	req, _ := NewJSONRPCRequest(1, MethodStreamMessage, MessageParams{Message: msg})
	w := postJSON(h, "/a2a", req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	chunks := sseChunks(t, w.Body.String())
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3: %+v", len(chunks), chunks)
	}
	for i, c := range chunks {
		if c.TaskID != msg.MessageID {
			t.Errorf("chunk %d TaskID = %q, want %q", i, c.TaskID, msg.MessageID)
		}
		if c.IsTerminal() != (i == 2) {
			t.Errorf("chunk %d terminal = %v", i, c.IsTerminal())
		}
	}
	if chunks[2].Text() != "final" {
		t.Errorf("terminal text = %q, want final", chunks[2].Text())
	}
}

func TestStreamSynthesizesTerminal(t *testing.T) {
	h := testHandler(t, scripted(StatusChunk("", TaskStateWorking, "only status")))
	w := postJSON(h, "/a2a/messages:stream", NewTextMessage(RoleUser, "go"))

	chunks := sseChunks(t, w.Body.String())
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	last := chunks[1]
	if !last.Failed() {
		t.Fatalf("last chunk = %+v, want failure terminal", last)
	}
	if last.Error.Kind != "StageError" {
		t.Errorf("Kind = %q, want StageError", last.Error.Kind)
	}
}

func TestStreamRefusedWithoutCapability(t *testing.T) {
	h := NewHandler(HandlerConfig{Card: testCard(false), Executor: scripted(ResultChunk("", "x"))})
	resp := rpc(t, h, MethodStreamMessage, MessageParams{Message: NewTextMessage(RoleUser, "go")})
	if resp.Error == nil || resp.Error.Code != ErrCodeUnsupportedOper {
		t.Errorf("Error = %+v, want code %d", resp.Error, ErrCodeUnsupportedOper)
	}
}

func TestJSONRPCSendAndGet(t *testing.T) {
	h := testHandler(t, scripted(ResultChunk("", "outline ready")))
	msg := NewTextMessage(RoleUser, "topic")

	resp := rpc(t, h, MethodSendMessage, MessageParams{Message: msg})
	if resp.Error != nil {
		t.Fatalf("Error = %v", resp.Error)
	}
	var task Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		t.Fatal(err)
	}
	if task.State != TaskStateCompleted {
		t.Errorf("State = %q, want completed", task.State)
	}

	resp = rpc(t, h, MethodGetTask, TaskIDParams{ID: msg.MessageID})
	if resp.Error != nil {
		t.Fatalf("get: %v", resp.Error)
	}
	resp = rpc(t, h, MethodGetTask, TaskIDParams{ID: "missing"})
	if resp.Error == nil || resp.Error.Code != ErrCodeTaskNotFound {
		t.Errorf("Error = %+v, want task not found", resp.Error)
	}
}

func TestJSONRPCUnknownMethod(t *testing.T) {
	h := testHandler(t, scripted())
	resp := rpc(t, h, "tasks/resubscribe", TaskIDParams{ID: "x"})
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("Error = %+v, want method not found", resp.Error)
	}
}

func TestJSONRPCParseError(t *testing.T) {
	h := testHandler(t, scripted())
	req := httptest.NewRequest("POST", "/a2a", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var resp JSONRPCResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error == nil || resp.Error.Code != ErrCodeParse {
		t.Errorf("Error = %+v, want parse error", resp.Error)
	}
}

func TestListTasks(t *testing.T) {
	h := testHandler(t, scripted(ResultChunk("", "ok")))
	for i := 0; i < 3; i++ {
		postJSON(h, "/a2a/messages", NewTextMessage(RoleUser, "hello"))
	}

	req := httptest.NewRequest("GET", "/a2a/tasks", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var tasks []*Task
	_ = json.NewDecoder(w.Body).Decode(&tasks)
	if len(tasks) != 3 {
		t.Errorf("tasks len = %d, want 3", len(tasks))
	}
}

func TestCancelRunningTask(t *testing.T) {
	started := make(chan struct{})
	h := testHandler(t, blocking(started))
	srv := httptest.NewServer(h)
	defer srv.Close()

	msg := NewTextMessage(RoleUser, "long job")
	client := NewHTTPClient()
	stream, err := client.OpenStream(context.Background(), srv.URL, msg)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	first, err := stream.Recv()
	if err != nil || first.Status == nil {
		t.Fatalf("first chunk = %+v, err = %v", first, err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never started")
	}

	w := postJSON(h, "/a2a/tasks/"+msg.MessageID+":cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %s", w.Code, w.Body.String())
	}

	last, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !last.Failed() || last.Error.Kind != "Canceled" {
		t.Errorf("last = %+v, want Canceled failure terminal", last)
	}

	task, err := h.Tasks().Get(msg.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if task.State != TaskStateCanceled {
		t.Errorf("State = %q, want canceled", task.State)
	}

	w = postJSON(h, "/a2a/tasks/"+msg.MessageID+":cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	h := testHandler(t, scripted())
	resp := rpc(t, h, MethodCancelTask, TaskIDParams{ID: "nope"})
	if resp.Error == nil || resp.Error.Code != ErrCodeTaskNotFound {
		t.Errorf("Error = %+v, want task not found", resp.Error)
	}
}
