package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

type ClientOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *HTTPClient) { cl.http = c }
}

func WithHeader(name, value string) ClientOption {
	return func(cl *HTTPClient) { cl.headers.Add(name, value) }
}

// HTTPClient speaks JSON-RPC over HTTP to an agent, with server-sent
// events for streamed responses. The underlying http.Client should have
// no overall timeout; deadlines come from the request context.
type HTTPClient struct {
	http    *http.Client
	headers http.Header
	id      uint64
}

func NewHTTPClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		http:    &http.Client{},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Endpoint returns the JSON-RPC URL for an agent base URL.
func Endpoint(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/a2a"
}

// Stream sends msg with message/stream and returns the lazily read
// response. It refuses cards that don't advertise streaming.
func (c *HTTPClient) Stream(ctx context.Context, card *AgentCard, msg Message) (Stream, error) {
	if !card.Capabilities.Streaming {
		return nil, fmt.Errorf("%s: %w", card.Name, ErrStreamingUnsupported)
	}
	return c.OpenStream(ctx, card.URL, msg)
}

// OpenStream is Stream without the capability check, for callers that
// only know an address.
func (c *HTTPClient) OpenStream(ctx context.Context, baseURL string, msg Message) (*EventStream, error) {
	endpoint := Endpoint(baseURL)
	resp, err := c.post(ctx, endpoint, MethodStreamMessage, MessageParams{Message: msg}, "text/event-stream")
	if err != nil {
		return nil, err
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/event-stream") {
		defer resp.Body.Close()
		var rpcResp JSONRPCResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err == nil && rpcResp.Error != nil {
			return nil, &ConnectionError{Op: "stream", URL: endpoint, Err: rpcResp.Error}
		}
		return nil, &ConnectionError{Op: "stream", URL: endpoint, Err: fmt.Errorf("unexpected content type %q", ct)}
	}
	return &EventStream{ctx: ctx, url: endpoint, body: resp.Body, reader: NewSSEReader(resp.Body)}, nil
}

// Send sends msg with message/send and waits for the finished task.
// A task that failed is returned as its *ChunkError.
func (c *HTTPClient) Send(ctx context.Context, card *AgentCard, msg Message) (*Message, error) {
	endpoint := Endpoint(card.URL)
	resp, err := c.post(ctx, endpoint, MethodSendMessage, MessageParams{Message: msg}, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, &ConnectionError{Op: "send", URL: endpoint, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	var task Task
	if err := json.Unmarshal(rpcResp.Result, &task); err != nil {
		return nil, &ConnectionError{Op: "send", URL: endpoint, Err: fmt.Errorf("decoding task: %w", err)}
	}
	return taskResult(&task)
}

func (c *HTTPClient) FetchCard(ctx context.Context, baseURL string) (*AgentCard, error) {
	u := strings.TrimRight(baseURL, "/") + CardPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("a2a: creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: "fetch card", URL: u, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectionError{Op: "fetch card", URL: u, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("a2a: decoding card: %w", err)
	}
	return &card, nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint, method string, params any, accept string) (*http.Response, error) {
	rpcReq, err := NewJSONRPCRequest(atomic.AddUint64(&c.id, 1), method, params)
	if err != nil {
		return nil, fmt.Errorf("a2a: encoding params: %w", err)
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("a2a: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("a2a: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	telemetry.InjectHTTP(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: method, URL: endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ConnectionError{
			Op:  method,
			URL: endpoint,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}
	return resp, nil
}

// EventStream reads chunks from a message/stream response body. It is
// single-consumer and forward-only.
type EventStream struct {
	ctx    context.Context
	url    string
	body   io.ReadCloser
	reader *SSEReader
	done   bool
}

// Next returns the next raw frame. It does not interpret the payload.
func (s *EventStream) Next() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}
	f, err := s.reader.Next()
	if err != nil {
		s.done = true
		_ = s.body.Close()
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return Frame{}, &ConnectionError{Op: "read stream", URL: s.url, Err: err}
	}
	return f, nil
}

// Recv returns the next decoded chunk, io.EOF after the terminal chunk,
// a *ConnectionError if the stream breaks before it, or a recoverable
// *ProtocolError for a frame that isn't a chunk.
func (s *EventStream) Recv() (StreamChunk, error) {
	if s.done {
		return StreamChunk{}, io.EOF
	}
	f, err := s.Next()
	if err == io.EOF {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return StreamChunk{}, &ConnectionError{Op: "read stream", URL: s.url, Err: ctxErr}
		}
		return StreamChunk{}, &ConnectionError{Op: "read stream", URL: s.url, Err: ErrStreamClosed}
	}
	if err != nil {
		return StreamChunk{}, err
	}
	var c StreamChunk
	if err := json.Unmarshal(f.Data, &c); err != nil {
		return StreamChunk{}, &ProtocolError{Data: f.Data, Err: err}
	}
	if c.Result != nil {
		c.Final = true
	}
	if c.Final {
		s.done = true
		_ = s.body.Close()
	}
	return c, nil
}

func (s *EventStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}

func taskResult(task *Task) (*Message, error) {
	switch task.State {
	case TaskStateCompleted:
		if task.Result == nil {
			return nil, fmt.Errorf("a2a: task %s completed without result", task.ID)
		}
		return task.Result, nil
	case TaskStateFailed, TaskStateCanceled:
		if task.Error != nil {
			return nil, task.Error
		}
		return nil, &ChunkError{Kind: string(task.State), Reason: "task " + string(task.State)}
	default:
		return nil, fmt.Errorf("a2a: task %s returned in state %s", task.ID, task.State)
	}
}
