package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

// NewCopywriter drafts every slide of an outline in turn. A slide the
// generator fails on keeps its outline content; cancellation aborts.
func NewCopywriter(gen Generator, logger *slog.Logger) *Agent {
	a := &Agent{
		capability:  CapabilityDraft,
		name:        "Copywriter",
		description: "Writes body text and speaker notes for presentation slides.",
		skill: a2a.Skill{
			ID:          "write_copy",
			Name:        "Write Slide Copy",
			Description: "Fill in body text, speaker notes and an image prompt for each slide of an outline.",
			Tags:        []string{"content", "copywriting"},
		},
		logger: telemetry.Component(logger, "copywriter"),
	}
	a.run = func(ctx context.Context, input string, progress func(string)) (string, error) {
		outline, err := ParseOutline(input)
		if err != nil {
			return "", fmt.Errorf("could not parse outline: %w", err)
		}
		n := len(outline.Slides)
		for i, slide := range outline.Slides {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			progress(fmt.Sprintf("Drafting slide %d/%d: %s", i+1, n, slide.Title))
			drafted, err := gen.Draft(ctx, outline.Topic, slide)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				a.logger.Warn("draft failed, keeping outline slide",
					slog.Int("page", slide.PageNumber),
					telemetry.Err(err),
				)
				progress(fmt.Sprintf("Slide %d kept as outlined: %v", i+1, err))
				continue
			}
			drafted.PageNumber = slide.PageNumber
			drafted.Layout = NormalizeLayout(drafted.Layout)
			outline.Slides[i] = drafted
		}
		return outline.JSON(), nil
	}
	return a
}
