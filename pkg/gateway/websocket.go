package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

const WebSocketPath = "/a2a/ws"

// wsRequest starts one run on the connection. Runs on a connection are
// served one at a time.
type wsRequest struct {
	Topic     string `json:"topic"`
	MessageID string `json:"message_id,omitempty"`
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Error("websocket accept failed", telemetry.Err(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// A failed read means the client is gone; cancelling ctx stops the
	// run in flight.
	requests := make(chan []byte)
	go func() {
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					g.logger.Debug("websocket client disconnected")
				default:
					if ctx.Err() == nil {
						g.logger.Warn("websocket read error", telemetry.Err(err))
					}
				}
				return
			}
			select {
			case requests <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-requests:
			var req wsRequest
			if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.Topic) == "" {
				reason := "request needs a topic"
				if err != nil {
					reason = "invalid message format"
				}
				_ = wsjson.Write(ctx, conn, a2a.FailureChunk(req.MessageID, "Error: "+reason, a2a.ChunkError{
					Kind:   "InvalidRequest",
					Reason: reason,
				}))
				continue
			}
			msg := a2a.NewTextMessage(a2a.RoleUser, req.Topic)
			if req.MessageID != "" {
				msg.MessageID = req.MessageID
			}
			if err := g.relay(ctx, conn, msg); err != nil {
				g.logger.Warn("websocket relay stopped", slog.String("task_id", msg.MessageID), telemetry.Err(err))
				return
			}
		}
	}
}

func (g *Gateway) relay(ctx context.Context, conn *websocket.Conn, msg a2a.Message) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := a2a.Seal(runCtx, msg.MessageID, g.executor.Execute(runCtx, msg))
	for c := range chunks {
		if err := wsjson.Write(ctx, conn, c); err != nil {
			cancel()
			for range chunks {
			}
			return err
		}
	}
	return nil
}

// WSStream reads chunks sent over a WebSocket relay. It satisfies
// consumer.FrameSource.
type WSStream struct {
	ctx  context.Context
	url  string
	conn *websocket.Conn
	done bool
}

// DialStream connects to the relay at baseURL and starts a run for topic.
func DialStream(ctx context.Context, baseURL, topic string) (*WSStream, error) {
	u, err := wsURL(baseURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, &a2a.ConnectionError{Op: "dial websocket", URL: u, Err: err}
	}
	conn.SetReadLimit(4 << 20)
	if err := wsjson.Write(ctx, conn, wsRequest{Topic: topic}); err != nil {
		conn.CloseNow()
		return nil, &a2a.ConnectionError{Op: "write websocket", URL: u, Err: err}
	}
	return &WSStream{ctx: ctx, url: u, conn: conn}, nil
}

func (s *WSStream) Next() (a2a.Frame, error) {
	if s.done {
		return a2a.Frame{}, io.EOF
	}
	_, data, err := s.conn.Read(s.ctx)
	if err != nil {
		s.done = true
		s.conn.CloseNow()
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return a2a.Frame{}, &a2a.ConnectionError{Op: "read websocket", URL: s.url, Err: err}
	}
	var peek struct {
		Final bool `json:"final"`
	}
	event := "status"
	if json.Unmarshal(data, &peek) == nil && peek.Final {
		event = "result"
		s.done = true
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	}
	return a2a.Frame{Event: event, Data: data}, nil
}

func (s *WSStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + WebSocketPath)
	if err != nil {
		return "", fmt.Errorf("gateway: parsing %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("gateway: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
