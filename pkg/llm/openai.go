package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/tidwall/gjson"
)

const (
	openaiBaseURL = "https://api.openai.com/v1"
	ollamaBaseURL = "http://localhost:11434"
)

// OpenAIProvider speaks the chat completions API, which is also what
// Ollama and most local model servers expose.
type OpenAIProvider struct {
	name     string
	apiKey   string
	endpoint string
	model    string
	http     *http.Client
}

func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("openai: API key not set (provide it or set OPENAI_API_KEY)")
	}
	if baseURL == "" {
		baseURL = openaiBaseURL
	}
	return &OpenAIProvider{
		name:     "openai",
		apiKey:   apiKey,
		endpoint: completionsURL(baseURL),
		model:    "gpt-4o-mini",
		http:     &http.Client{},
	}, nil
}

// NewOllamaProvider needs no key. baseURL falls back to OLLAMA_BASE_URL,
// then to a local server.
func NewOllamaProvider(baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	if model == "" {
		model = "llama3"
	}
	return &OpenAIProvider{
		name:     "ollama",
		endpoint: completionsURL(baseURL),
		model:    model,
		http:     &http.Client{},
	}
}

// completionsURL accepts a server root, a /v1 base or the full endpoint.
func completionsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasSuffix(base, "/chat/completions"):
		return base
	case strings.HasSuffix(base, "/v1"):
		return base + "/chat/completions"
	default:
		return base + "/v1/chat/completions"
	}
}

func (o *OpenAIProvider) Name() string { return o.name }

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Stream         bool            `json:"stream"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type responseFormat struct {
	Type string `json:"type"`
}

func (o *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	body := completionRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	if body.Model == "" {
		body.Model = o.model
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if req.System != "" {
		body.Messages = append(body.Messages, ChatMessage{Role: RoleSystem, Content: req.System})
	}
	body.Messages = append(body.Messages, req.Messages...)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", o.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", o.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", o.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Provider: o.name, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	ch := make(chan Event, 64)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		go readStream(ctx, resp.Body, ch)
	} else {
		go readFull(resp.Body, ch)
	}
	return ch, nil
}

// readStream relays delta tokens until [DONE] or the body ends. Frames
// that are not JSON are skipped.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- Event) {
	defer close(ch)
	defer body.Close()

	var usage Usage
	sse := a2a.NewSSEReader(body)
	for {
		if err := ctx.Err(); err != nil {
			ch <- Event{Err: err}
			return
		}
		f, err := sse.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			ch <- Event{Err: fmt.Errorf("reading stream: %w", err)}
			return
		}
		if string(f.Data) == "[DONE]" {
			break
		}
		if !gjson.ValidBytes(f.Data) {
			continue
		}
		chunk := gjson.ParseBytes(f.Data)
		if u := chunk.Get("usage"); u.IsObject() {
			usage = Usage{
				InputTokens:  int(u.Get("prompt_tokens").Int()),
				OutputTokens: int(u.Get("completion_tokens").Int()),
			}
		}
		for _, tok := range chunk.Get("choices.#.delta.content").Array() {
			if s := tok.String(); s != "" {
				ch <- Event{Token: s}
			}
		}
	}
	ch <- Event{Usage: &usage}
}

// readFull handles servers that ignore the stream flag.
func readFull(body io.ReadCloser, ch chan<- Event) {
	defer close(ch)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		ch <- Event{Err: fmt.Errorf("reading response: %w", err)}
		return
	}
	if !gjson.ValidBytes(data) {
		ch <- Event{Err: errors.New("response is not JSON")}
		return
	}
	resp := gjson.ParseBytes(data)
	for _, content := range resp.Get("choices.#.message.content").Array() {
		if s := content.String(); s != "" {
			ch <- Event{Token: s}
		}
	}
	ch <- Event{Usage: &Usage{
		InputTokens:  int(resp.Get("usage.prompt_tokens").Int()),
		OutputTokens: int(resp.Get("usage.completion_tokens").Int()),
	}}
}
