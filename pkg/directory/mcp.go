package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ToolFindAgent  = "find_agent"
	ToolListAgents = "list_agents"
)

type findAgentInput struct {
	Capability string `json:"capability" jsonschema:"capability id such as outline, draft or build"`
}

type listAgentsInput struct{}

// NewMCPServer exposes the registry as MCP tools so any MCP client can
// discover agents.
func NewMCPServer(reg *Registry, version string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "deckhand-directory",
		Version: version,
	}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolFindAgent,
		Description: "Return the agent card registered for a capability id.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, args findAgentInput) (*mcpsdk.CallToolResult, any, error) {
		card, err := reg.Find(ctx, args.Capability)
		if err != nil {
			return toolError(err), nil, nil
		}
		return toolJSON(card)
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolListAgents,
		Description: "List every registered capability and its agent card.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, _ listAgentsInput) (*mcpsdk.CallToolResult, any, error) {
		regs, err := reg.List(ctx)
		if err != nil {
			return toolError(err), nil, nil
		}
		return toolJSON(regs)
	})

	return server
}

// MCPHandler serves server over streamable HTTP.
func MCPHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return server
	}, nil)
}

func toolJSON(v any) (*mcpsdk.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}, nil, nil
}

func toolError(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}

// MCPClient is a Finder backed by a directory's MCP endpoint. The session
// is opened on first use and reused.
type MCPClient struct {
	client    *mcpsdk.Client
	transport func() mcpsdk.Transport

	mu      sync.Mutex
	session *mcpsdk.ClientSession
}

func NewMCPClient(endpoint, version string) *MCPClient {
	return newMCPClient(version, func() mcpsdk.Transport {
		return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}
	})
}

func newMCPClient(version string, transport func() mcpsdk.Transport) *MCPClient {
	return &MCPClient{
		client: mcpsdk.NewClient(&mcpsdk.Implementation{
			Name:    "deckhand-coordinator",
			Version: version,
		}, nil),
		transport: transport,
	}
}

func (c *MCPClient) Find(ctx context.Context, capability string) (*a2a.AgentCard, error) {
	capability = normalize(capability)
	text, err := c.call(ctx, ToolFindAgent, map[string]any{"capability": capability})
	if err != nil {
		var te *toolCallError
		if errors.As(err, &te) && strings.Contains(te.text, ErrNotFound.Error()) {
			return nil, &DiscoveryError{Capability: capability, Err: ErrNotFound}
		}
		return nil, err
	}
	var card a2a.AgentCard
	if err := json.Unmarshal([]byte(text), &card); err != nil {
		return nil, fmt.Errorf("directory: decoding card: %w", err)
	}
	return &card, nil
}

func (c *MCPClient) List(ctx context.Context) ([]Registration, error) {
	text, err := c.call(ctx, ToolListAgents, map[string]any{})
	if err != nil {
		return nil, err
	}
	var regs []Registration
	if err := json.Unmarshal([]byte(text), &regs); err != nil {
		return nil, fmt.Errorf("directory: decoding registrations: %w", err)
	}
	return regs, nil
}

func (c *MCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

type toolCallError struct {
	tool string
	text string
}

func (e *toolCallError) Error() string {
	return fmt.Sprintf("directory: tool %s: %s", e.tool, e.text)
}

func (c *MCPClient) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	sess, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	result, err := sess.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		c.reset()
		return "", &a2a.ConnectionError{Op: "mcp " + tool, URL: "directory", Err: err}
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", &toolCallError{tool: tool, text: sb.String()}
	}
	return sb.String(), nil
}

func (c *MCPClient) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	sess, err := c.client.Connect(ctx, c.transport(), nil)
	if err != nil {
		return nil, &a2a.ConnectionError{Op: "mcp connect", URL: "directory", Err: err}
	}
	c.session = sess
	return sess, nil
}

func (c *MCPClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
}
