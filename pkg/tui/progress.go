// Package tui renders a pipeline run as a live progress view.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/igorsilveira/deckhand/pkg/consumer"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	maxLogLines  = 8
	pipelineRows = []string{"Outlining", "Drafting", "Building"}
)

type stageStatus int

const (
	pending stageStatus = iota
	active
	done
	failed
)

// ChunkMsg delivers one decoded chunk to the model.
type ChunkMsg consumer.Decoded

// DoneMsg ends the run.
type DoneMsg consumer.Outcome

type Model struct {
	topic   string
	stages  map[string]stageStatus
	log     []string
	outcome *consumer.Outcome
	cancel  context.CancelFunc
	width   int
}

func NewModel(topic string, cancel context.CancelFunc) Model {
	stages := make(map[string]stageStatus, len(pipelineRows))
	for _, s := range pipelineRows {
		stages[s] = pending
	}
	return Model{topic: topic, stages: stages, cancel: cancel}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			if m.cancel != nil {
				m.cancel()
			}
			if m.outcome != nil {
				return m, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case ChunkMsg:
		m.apply(consumer.Decoded(msg))

	case DoneMsg:
		out := consumer.Outcome(msg)
		m.outcome = &out
		if !out.Terminal || out.Failed {
			m.failActive()
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(d consumer.Decoded) {
	if _, known := m.stages[d.Stage]; known {
		m.enter(d.Stage)
	}
	switch {
	case d.Failed:
		m.failActive()
	case d.Final:
		for _, s := range pipelineRows {
			m.stages[s] = done
		}
	}
	if d.Text != "" && !d.Final {
		m.log = append(m.log, d.Text)
		if len(m.log) > maxLogLines {
			m.log = m.log[len(m.log)-maxLogLines:]
		}
	}
}

// enter marks stage active and every stage before it done.
func (m *Model) enter(stage string) {
	for _, s := range pipelineRows {
		if s == stage {
			if m.stages[s] != failed {
				m.stages[s] = active
			}
			return
		}
		m.stages[s] = done
	}
}

func (m *Model) failActive() {
	for _, s := range pipelineRows {
		if m.stages[s] == active {
			m.stages[s] = failed
			return
		}
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("deckhand: " + m.topic))
	b.WriteString("\n\n")

	for _, s := range pipelineRows {
		switch m.stages[s] {
		case active:
			b.WriteString(activeStyle.Render("▶ " + s))
		case done:
			b.WriteString(doneStyle.Render("✓ " + s))
		case failed:
			b.WriteString(failedStyle.Render("✗ " + s))
		default:
			b.WriteString(dimStyle.Render("· " + s))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, line := range m.log {
		if m.width > 4 && len(line) > m.width-2 {
			line = line[:m.width-5] + "..."
		}
		b.WriteString(dimStyle.Render("  " + line))
		b.WriteString("\n")
	}

	if m.outcome != nil {
		b.WriteString("\n")
		switch {
		case m.outcome.Err != nil && !m.outcome.Terminal:
			b.WriteString(failedStyle.Render("Error: ") + m.outcome.Err.Error())
		case m.outcome.Failed:
			b.WriteString(failedStyle.Render(m.outcome.Text))
		default:
			b.WriteString(doneStyle.Render("Deck ready: ") + m.outcome.Text)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("\n" + dimStyle.Render("Ctrl+C to cancel"))
	}
	return b.String()
}

// programRenderer forwards decoded chunks into a running program.
type programRenderer struct {
	p *tea.Program
}

func (r programRenderer) Render(d consumer.Decoded) {
	r.p.Send(ChunkMsg(d))
}

// Run shows the progress view while consume reads the stream. consume
// must return once ctx is cancelled.
func Run(ctx context.Context, topic string, consume func(ctx context.Context, r consumer.Renderer) consumer.Outcome) (consumer.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(topic, cancel))
	result := make(chan consumer.Outcome, 1)
	go func() {
		out := consume(ctx, programRenderer{p: p})
		result <- out
		p.Send(DoneMsg(out))
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		return <-result, fmt.Errorf("tui: %w", err)
	}
	return <-result, nil
}
