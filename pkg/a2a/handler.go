package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/igorsilveira/deckhand/pkg/audit"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

const CardPath = "/.well-known/agent.json"

// Auditor records task lifecycle events. *audit.Logger satisfies it.
type Auditor interface {
	Log(ctx context.Context, eventType, sessionID, agentID, actor string, detail any) error
}

type Handler struct {
	router   chi.Router
	card     *AgentCard
	store    *TaskStore
	exec     Executor
	auditLog Auditor
	logger   *slog.Logger
}

type HandlerConfig struct {
	Card     *AgentCard
	Executor Executor
	AuditLog Auditor
	Logger   *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		card:     cfg.Card,
		store:    NewTaskStore(cfg.Card.Capabilities.StateTransitionHistory),
		exec:     cfg.Executor,
		auditLog: cfg.AuditLog,
		logger:   cfg.Logger,
	}
	h.buildRouter()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) Tasks() *TaskStore { return h.store }

func (h *Handler) buildRouter() {
	r := chi.NewRouter()
	r.Use(traceContext)
	r.Get(CardPath, h.handleAgentCard)
	r.Post("/a2a", h.handleJSONRPC)
	r.Post("/a2a/messages", h.handleSendMessage)
	r.Post("/a2a/messages:stream", h.handleSendMessageStream)
	r.Get("/a2a/tasks/{id}", h.handleGetTask)
	r.Get("/a2a/tasks", h.handleListTasks)
	r.Post("/a2a/tasks/{id}:cancel", h.handleCancelTask)
	h.router = r
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.card)
}

func (h *Handler) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, NewJSONRPCError(nil, ErrCodeParse, "parse error"))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidReq, "invalid jsonrpc version"))
		return
	}

	switch req.Method {
	case MethodSendMessage, MethodStreamMessage:
		var params MessageParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
			return
		}
		if err := params.Message.Validate(); err != nil {
			writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, err.Error()))
			return
		}
		if req.Method == MethodStreamMessage {
			if !h.card.Capabilities.Streaming {
				writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeUnsupportedOper, ErrStreamingUnsupported.Error()))
				return
			}
			h.stream(w, r, params.Message)
			return
		}
		task, err := h.run(r.Context(), params.Message)
		if err != nil {
			writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, NewJSONRPCResponse(req.ID, task))
	case MethodGetTask:
		var params TaskIDParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
			return
		}
		task, err := h.store.Get(params.ID)
		if err != nil {
			writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeTaskNotFound, err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, NewJSONRPCResponse(req.ID, task))
	case MethodCancelTask:
		var params TaskIDParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeInvalidParams, "invalid params"))
			return
		}
		task, err := h.cancel(r.Context(), params.ID)
		if err != nil {
			code := ErrCodeTaskNotFound
			if errors.Is(err, ErrTaskNotCancelable) {
				code = ErrCodeTaskNotCancel
			}
			writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, code, err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, NewJSONRPCResponse(req.ID, task))
	default:
		writeJSON(w, http.StatusOK, NewJSONRPCError(req.ID, ErrCodeNotFound, fmt.Sprintf("method %q not found", req.Method)))
	}
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	task, err := h.run(r.Context(), msg)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleSendMessageStream(w http.ResponseWriter, r *http.Request) {
	msg, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	if !h.card.Capabilities.Streaming {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": ErrStreamingUnsupported.Error()})
		return
	}
	h.stream(w, r, msg)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.List())
}

func (h *Handler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, ErrTaskNotCancelable) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// run executes msg to completion and returns the finished task.
func (h *Handler) run(ctx context.Context, msg Message) (*Task, error) {
	chunks, err := h.start(ctx, msg)
	if err != nil {
		return nil, err
	}
	for c := range chunks {
		if c.IsTerminal() {
			h.finish(ctx, msg.MessageID, c)
		}
	}
	return h.store.Get(msg.MessageID)
}

// stream writes each chunk as a server-sent event. The request context
// is the task's parent, so a disconnecting client cancels the executor.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, msg Message) {
	chunks, err := h.start(r.Context(), msg)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if canFlush {
		flusher.Flush()
	}

	for c := range chunks {
		event := "status"
		if c.IsTerminal() {
			event = "result"
			h.finish(r.Context(), msg.MessageID, c)
		}
		writeSSE(w, flusher, canFlush, event, c)
	}
}

func (h *Handler) start(ctx context.Context, msg Message) (<-chan StreamChunk, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	if _, err := h.store.Create(msg, cancel); err != nil {
		cancel()
		return nil, err
	}
	_ = h.store.Update(msg.MessageID, TaskStateWorking)
	h.auditLogEvent(ctx, audit.EventTaskNew, msg.MessageID)
	h.logger.Debug("task started",
		slog.String("task_id", msg.MessageID),
		slog.String("context_id", msg.ContextID),
	)

	sealed := Seal(taskCtx, msg.MessageID, h.exec.Execute(taskCtx, msg))
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer cancel()
		for c := range sealed {
			out <- c
		}
	}()
	return out, nil
}

func (h *Handler) finish(ctx context.Context, id string, c StreamChunk) {
	_ = h.store.Finish(id, c)
	status := "completed"
	event := audit.EventTaskDone
	if c.Failed() {
		status = "failed"
		event = audit.EventTaskFail
		h.logger.Warn("task failed",
			slog.String("task_id", id),
			slog.String("reason", c.Error.Reason),
		)
	}
	telemetry.Metrics.WorkerTasks.WithLabelValues(h.card.Name, status).Inc()
	h.auditLogEvent(context.WithoutCancel(ctx), event, id)
}

func (h *Handler) cancel(ctx context.Context, id string) (*Task, error) {
	task, err := h.store.Cancel(id)
	if err != nil {
		return nil, err
	}
	h.auditLogEvent(ctx, audit.EventTaskCancel, id)
	return task, nil
}

func (h *Handler) auditLogEvent(ctx context.Context, eventType, taskID string) {
	if h.auditLog == nil {
		return
	}
	if err := h.auditLog.Log(ctx, eventType, taskID, h.card.Name, "a2a", fmt.Sprintf("task_id=%s", taskID)); err != nil {
		h.logger.Warn("audit log write failed", telemetry.Err(err))
	}
}

func traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.ExtractHTTP(r.Context(), r.Header)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func decodeMessage(w http.ResponseWriter, r *http.Request) (Message, bool) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return msg, false
	}
	if err := msg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return msg, false
	}
	return msg, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, canFlush bool, event string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	if canFlush {
		flusher.Flush()
	}
}
