package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

type BuilderConfig struct {
	// OutputDir receives the rendered decks. It is fixed for the life of
	// the agent.
	OutputDir string
}

const maxDeckSequence = 999

func NewBuilder(cfg BuilderConfig, logger *slog.Logger) (*Agent, error) {
	if cfg.OutputDir == "" {
		return nil, errors.New("worker: builder needs an output directory")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("worker: creating output directory: %w", err)
	}
	dir := cfg.OutputDir

	a := &Agent{
		capability:  CapabilityBuild,
		name:        "Builder",
		description: "Compiles drafted slides into a finished deck file.",
		skill: a2a.Skill{
			ID:          "build_deck",
			Name:        "Build Deck",
			Description: "Render a drafted outline into a Markdown slide deck and return its path.",
			Tags:        []string{"builder", "markdown"},
		},
		logger: telemetry.Component(logger, "builder"),
	}
	a.run = func(ctx context.Context, input string, progress func(string)) (string, error) {
		outline, err := ParseOutline(input)
		if err != nil {
			return "", fmt.Errorf("could not parse outline: %w", err)
		}
		progress(fmt.Sprintf("Rendering %d slides", len(outline.Slides)))
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path, err := writeDeck(dir, outline)
		if err != nil {
			return "", err
		}
		a.logger.Info("deck written", slog.String("path", path))
		return path, nil
	}
	return a, nil
}

// writeDeck creates the next free deck-<slug>-NNN.md in dir. O_EXCL keeps
// concurrent builds from claiming the same name.
func writeDeck(dir string, o *Outline) (string, error) {
	content := RenderMarkdown(o)
	slug := Slug(o.Topic)
	for seq := 1; seq <= maxDeckSequence; seq++ {
		path := filepath.Join(dir, fmt.Sprintf("deck-%s-%03d.md", slug, seq))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating deck: %w", err)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return "", fmt.Errorf("writing deck: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("writing deck: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free deck name for %q", slug)
}

// RenderMarkdown lays the outline out as slides separated by rules, with
// speaker notes in HTML comments.
func RenderMarkdown(o *Outline) string {
	var sb strings.Builder
	for i, s := range o.Slides {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&sb, "<!-- slide %d: %s -->\n", s.PageNumber, s.Layout)
		switch s.Layout {
		case LayoutTitle:
			fmt.Fprintf(&sb, "# %s\n", s.Title)
		case LayoutSection:
			fmt.Fprintf(&sb, "## %s\n", s.Title)
		default:
			fmt.Fprintf(&sb, "### %s\n", s.Title)
		}
		if body := strings.TrimSpace(s.BodyText); body != "" {
			sb.WriteString("\n")
			if s.Layout == LayoutTwoContent {
				left, right := splitColumns(body)
				fmt.Fprintf(&sb, "<div class=\"columns\">\n\n%s\n\n%s\n\n</div>\n", left, right)
			} else {
				sb.WriteString(body + "\n")
			}
		}
		if s.ImagePrompt != "" {
			fmt.Fprintf(&sb, "\n![%s](image: %s)\n", s.Title, s.ImagePrompt)
		}
		if notes := strings.TrimSpace(s.SpeakerNotes); notes != "" {
			fmt.Fprintf(&sb, "\n<!-- notes: %s -->\n", strings.ReplaceAll(notes, "--", "- -"))
		}
	}
	return sb.String()
}

func splitColumns(body string) (string, string) {
	lines := strings.Split(body, "\n")
	mid := (len(lines) + 1) / 2
	return strings.Join(lines[:mid], "\n"), strings.Join(lines[mid:], "\n")
}
