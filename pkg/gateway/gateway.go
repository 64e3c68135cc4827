// Package gateway is the HTTP front of every deckhand process: health,
// readiness, metrics, the process's own handlers, and an optional
// WebSocket relay for an a2a.Executor.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Gateway struct {
	server   *http.Server
	router   *chi.Mux
	executor a2a.Executor
	ready    func(ctx context.Context) error
	serving  atomic.Bool
	logger   *slog.Logger
}

// Mount attaches Handler under Pattern.
type Mount struct {
	Pattern string
	Handler http.Handler
}

type Config struct {
	Bind   string
	Port   int
	Logger *slog.Logger

	// Handler serves everything not matched by the built-in routes or
	// Mounts, usually an *a2a.Handler.
	Handler http.Handler
	Mounts  []Mount

	// Executor, when set, is reachable over WebSocket at /a2a/ws.
	Executor a2a.Executor

	// Ready reports whether the process can take traffic. It is consulted
	// by /readyz once the listener is up.
	Ready func(ctx context.Context) error
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	g := &Gateway{
		router:   r,
		executor: cfg.Executor,
		ready:    cfg.Ready,
		logger:   telemetry.Component(cfg.Logger, "gateway"),
	}
	g.registerRoutes(cfg)

	g.server = &http.Server{
		Addr:              ResolveAddr(cfg.Bind, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return g
}

func (g *Gateway) registerRoutes(cfg Config) {
	g.router.Get("/healthz", g.handleHealthz)
	g.router.Get("/readyz", g.handleReadyz)
	g.router.Handle("/metrics", promhttp.Handler())
	if g.executor != nil {
		g.router.Get(WebSocketPath, g.handleWebSocket)
	}
	for _, m := range cfg.Mounts {
		g.router.Mount(m.Pattern, m.Handler)
	}
	if cfg.Handler != nil {
		g.router.Mount("/", cfg.Handler)
	}
}

func (g *Gateway) Handler() http.Handler { return g.router }

func (g *Gateway) Addr() string { return g.server.Addr }

// Start listens on the configured address and serves until ctx is done.
func (g *Gateway) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	g.logger.Info("gateway listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	g.serving.Store(true)

	select {
	case <-ctx.Done():
		return g.shutdown()
	case err := <-errCh:
		g.serving.Store(false)
		return err
	}
}

func (g *Gateway) shutdown() error {
	g.serving.Store(false)
	g.logger.Info("gateway shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !g.serving.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"starting"}`)
		return
	}
	if g.ready != nil {
		if err := g.ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"not ready","error":%q}`, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ready"}`)
}

// ResolveAddr turns a bind mode ("loopback", "lan", "all") or a literal
// host into a listen address.
func ResolveAddr(bind string, port int) string {
	var host string
	switch bind {
	case "lan", "all":
		host = "0.0.0.0"
	case "loopback", "":
		host = "127.0.0.1"
	default:
		host = bind
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// AdvertiseURL is the base URL other processes should use to reach a
// listener bound with bind.
func AdvertiseURL(scheme, bind string, port int) string {
	host := bind
	switch bind {
	case "lan", "all", "loopback", "", "0.0.0.0":
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}
