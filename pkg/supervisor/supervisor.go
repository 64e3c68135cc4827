// Package supervisor runs the deckhand processes on one host. It starts
// them in dependency order, waits for each to report ready, and stops them
// in reverse order.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/igorsilveira/deckhand/pkg/audit"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

// Process describes one managed command.
type Process struct {
	Name    string
	Program string
	Args    []string
	Env     []string
	Dir     string

	// ReadyURL is polled until it answers 200. Empty means the process
	// counts as ready once it has started.
	ReadyURL string
}

type Auditor interface {
	Log(ctx context.Context, eventType, sessionID, agentID, actor string, detail any) error
}

type Options struct {
	ReadyTimeout time.Duration
	PollInterval time.Duration
	Grace        time.Duration
	Stdout       io.Writer
	Stderr       io.Writer
	AuditLog     Auditor
	Logger       *slog.Logger
	HTTPClient   *http.Client
}

// ExitError reports a managed process that ended on its own.
type ExitError struct {
	Name string
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("supervisor: %s exited", e.Name)
	}
	return fmt.Sprintf("supervisor: %s exited: %v", e.Name, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

type managed struct {
	proc Process
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

type Supervisor struct {
	procs  []Process
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	running []*managed
	exited  chan *managed
}

func New(procs []Process, opts Options) *Supervisor {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 15 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Second}
	}
	return &Supervisor{
		procs:  procs,
		opts:   opts,
		logger: telemetry.Component(opts.Logger, "supervisor"),
		exited: make(chan *managed, len(procs)),
	}
}

// Start launches every process in order, waiting for each to be ready
// before the next. If one fails, the processes already started are shut
// down. ctx bounds the readiness waits only; processes keep running until
// Shutdown stops them in reverse order.
func (s *Supervisor) Start(ctx context.Context) error {
	for _, p := range s.procs {
		m, err := s.launch(ctx, p)
		if err == nil {
			err = s.awaitReady(ctx, m)
		}
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Grace+time.Second)
			defer cancel()
			return errors.Join(fmt.Errorf("supervisor: starting %s: %w", p.Name, err), s.Shutdown(shutdownCtx))
		}
		s.logger.Info("process ready", slog.String("process", p.Name), slog.Int("pid", m.cmd.Process.Pid))
	}
	return nil
}

func (s *Supervisor) launch(ctx context.Context, p Process) (*managed, error) {
	if p.Program == "" {
		return nil, errors.New("empty program")
	}
	cmd := exec.Command(p.Program, p.Args...)
	cmd.Dir = p.Dir
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr
	cmd.WaitDelay = s.opts.Grace
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	m := &managed{proc: p, cmd: cmd, done: make(chan struct{})}
	go func() {
		m.err = cmd.Wait()
		close(m.done)
		s.exited <- m
	}()

	s.mu.Lock()
	s.running = append(s.running, m)
	s.mu.Unlock()

	s.audit(ctx, audit.EventProcessStart, p.Name, fmt.Sprintf("pid=%d", cmd.Process.Pid))
	return m, nil
}

// AwaitReady polls the named process's ready URL until it answers 200,
// the process exits, or ReadyTimeout passes.
func (s *Supervisor) AwaitReady(ctx context.Context, name string) error {
	s.mu.Lock()
	var m *managed
	for _, r := range s.running {
		if r.proc.Name == name {
			m = r
		}
	}
	s.mu.Unlock()
	if m == nil {
		return fmt.Errorf("supervisor: %s is not running", name)
	}
	return s.awaitReady(ctx, m)
}

func (s *Supervisor) awaitReady(ctx context.Context, m *managed) error {
	if m.proc.ReadyURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		if s.ready(ctx, m.proc.ReadyURL) {
			return nil
		}
		select {
		case <-m.done:
			return &ExitError{Name: m.proc.Name, Err: m.err}
		case <-ctx.Done():
			return fmt.Errorf("not ready at %s: %w", m.proc.ReadyURL, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) ready(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Wait blocks until ctx is done or a managed process exits on its own.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case m := <-s.exited:
		return &ExitError{Name: m.proc.Name, Err: m.err}
	}
}

// Shutdown interrupts the running processes in reverse start order. A
// process still alive after the grace period is killed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = nil
	s.mu.Unlock()

	var errs []error
	for i := len(running) - 1; i >= 0; i-- {
		if err := s.stop(ctx, running[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) stop(ctx context.Context, m *managed) error {
	name := m.proc.Name
	select {
	case <-m.done:
		s.audit(ctx, audit.EventProcessStopped, name, "already exited")
		return nil
	default:
	}

	s.logger.Info("stopping process", slog.String("process", name))
	if err := m.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("interrupt failed", slog.String("process", name), telemetry.Err(err))
	}

	grace := time.NewTimer(s.opts.Grace)
	defer grace.Stop()
	select {
	case <-m.done:
		s.audit(ctx, audit.EventProcessStopped, name, "interrupted")
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	s.logger.Warn("killing process", slog.String("process", name))
	if err := m.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("supervisor: killing %s: %w", name, err)
	}
	<-m.done
	s.audit(ctx, audit.EventProcessStopped, name, "killed")
	return nil
}

func (s *Supervisor) audit(ctx context.Context, event, name, detail string) {
	if s.opts.AuditLog == nil {
		return
	}
	if err := s.opts.AuditLog.Log(context.WithoutCancel(ctx), event, "", name, "supervisor", detail); err != nil {
		s.logger.Warn("audit log write failed", telemetry.Err(err))
	}
}
