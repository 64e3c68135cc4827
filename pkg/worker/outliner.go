package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

func NewOutliner(gen Generator, logger *slog.Logger) *Agent {
	a := &Agent{
		capability:  CapabilityOutline,
		name:        "Outliner",
		description: "Creates structured outlines for presentations.",
		skill: a2a.Skill{
			ID:          "generate_outline",
			Name:        "Generate Outline",
			Description: "Turn a topic into a structured slide outline with titles and layouts.",
			Tags:        []string{"outline", "planning"},
			Examples:    []string{"AI in healthcare", `{"topic": "Edge computing", "num_slides": 7}`},
		},
		logger: telemetry.Component(logger, "outliner"),
	}
	a.run = func(ctx context.Context, input string, progress func(string)) (string, error) {
		req, err := ParseRequest(input)
		if err != nil {
			return "", fmt.Errorf("could not parse request: %w", err)
		}
		progress(fmt.Sprintf("Planning %d slides on %q", req.NumSlides, req.Topic))
		outline, err := gen.Outline(ctx, req)
		if err != nil {
			return "", err
		}
		if len(outline.Slides) == 0 {
			return "", fmt.Errorf("no slides produced for %q", req.Topic)
		}
		progress(fmt.Sprintf("Outline ready with %d slides", len(outline.Slides)))
		return outline.JSON(), nil
	}
	return a
}
