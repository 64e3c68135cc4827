package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/igorsilveira/deckhand/pkg/a2a"
)

// Client talks to a remote directory over its REST surface.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Find(ctx context.Context, capability string) (*a2a.AgentCard, error) {
	capability = normalize(capability)
	resp, err := c.do(ctx, http.MethodGet, "/cards/"+url.PathEscape(capability), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &DiscoveryError{Capability: capability, Err: ErrNotFound}
	default:
		return nil, statusError("find", resp)
	}
	var card a2a.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("directory: decoding card: %w", err)
	}
	return &card, nil
}

func (c *Client) Register(ctx context.Context, capability string, card *a2a.AgentCard) error {
	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("directory: encoding card: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPut, "/cards/"+url.PathEscape(normalize(capability)), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("register", resp)
	}
	return nil
}

func (c *Client) List(ctx context.Context) ([]Registration, error) {
	resp, err := c.do(ctx, http.MethodGet, "/cards", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list", resp)
	}
	var regs []Registration
	if err := json.NewDecoder(resp.Body).Decode(&regs); err != nil {
		return nil, fmt.Errorf("directory: decoding registrations: %w", err)
	}
	return regs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("directory: creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &a2a.ConnectionError{Op: "directory " + strings.ToLower(method), URL: c.baseURL + path, Err: err}
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("directory: %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
}
