package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/igorsilveira/deckhand/pkg/config"
	"github.com/igorsilveira/deckhand/pkg/llm"
)

// Generator produces slide content. Orchestration only depends on this
// interface.
type Generator interface {
	Outline(ctx context.Context, req Request) (*Outline, error)
	Draft(ctx context.Context, topic string, slide Slide) (Slide, error)
}

// NewGenerator builds the generator named by cfg.Driver.
func NewGenerator(cfg config.GeneratorConfig) (Generator, error) {
	switch cfg.Driver {
	case "", "template":
		return TemplateGenerator{}, nil
	case "openai":
		p, err := llm.NewOpenAIProvider(os.Getenv(cfg.APIKeyEnv), cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return &LLMGenerator{Provider: p, Model: cfg.Model}, nil
	case "ollama":
		return &LLMGenerator{Provider: llm.NewOllamaProvider(cfg.BaseURL, cfg.Model), Model: cfg.Model}, nil
	default:
		return nil, fmt.Errorf("unknown generator driver %q", cfg.Driver)
	}
}

var sectionTitles = []string{
	"Why %s matters",
	"Where %s stands today",
	"Key trends",
	"Challenges and risks",
	"Opportunities",
	"A closer look",
	"Lessons learned",
	"What comes next",
}

// TemplateGenerator writes deterministic content without calling a model.
type TemplateGenerator struct{}

func (TemplateGenerator) Outline(ctx context.Context, req Request) (*Outline, error) {
	o := &Outline{Topic: req.Topic}
	o.Slides = append(o.Slides, Slide{Title: req.Topic, Layout: LayoutTitle})
	for i := 1; i < req.NumSlides-1; i++ {
		title := sectionTitles[(i-1)%len(sectionTitles)]
		if strings.Contains(title, "%s") {
			title = fmt.Sprintf(title, req.Topic)
		}
		layout := LayoutContent
		switch {
		case i == 1 && req.NumSlides > 4:
			layout = LayoutSection
		case i%4 == 0:
			layout = LayoutTwoContent
		}
		o.Slides = append(o.Slides, Slide{Title: title, Layout: layout})
	}
	if req.NumSlides > 1 {
		o.Slides = append(o.Slides, Slide{Title: "Conclusion", Layout: LayoutContent})
	}
	o.normalize()
	return o, nil
}

func (TemplateGenerator) Draft(ctx context.Context, topic string, slide Slide) (Slide, error) {
	if err := ctx.Err(); err != nil {
		return slide, err
	}
	switch slide.Layout {
	case LayoutTitle:
		slide.BodyText = fmt.Sprintf("An overview of %s", topic)
		slide.SpeakerNotes = fmt.Sprintf("Welcome everyone. Today we walk through %s and what it means for us.", topic)
	case LayoutSection:
		slide.BodyText = slide.Title
		slide.SpeakerNotes = fmt.Sprintf("This section sets the context for %s.", topic)
	default:
		slide.BodyText = strings.Join([]string{
			fmt.Sprintf("- %s: the essentials", slide.Title),
			fmt.Sprintf("- How it shapes %s", topic),
			"- What to watch for",
		}, "\n")
		slide.SpeakerNotes = fmt.Sprintf("Explain %q in the context of %s, then give one concrete example.", slide.Title, topic)
	}
	slide.ImagePrompt = fmt.Sprintf("A clean illustration of %s, %s", strings.ToLower(slide.Title), topic)
	return slide, nil
}

// LLMGenerator asks a chat model for JSON matching Outline and Slide.
type LLMGenerator struct {
	Provider llm.Provider
	Model    string
}

const outlinePrompt = `You are an expert presentation outliner. Create a structured outline for a presentation.

Topic: %s
Number of slides: %d
Style: %s

For each slide give a catchy title and a layout, one of: Title Slide, Title and Content, Section Header, Two Content.
Reply with only a JSON object: {"topic": string, "slides": [{"page_number": int, "title": string, "layout": string}]}`

const draftPrompt = `You are a professional presentation copywriter. Write the content for one slide.

Slide title: %s
Slide layout: %s
Presentation topic: %s

Write concise body text (bullet points or short paragraphs), detailed speaker notes, and a prompt for an image model.
Reply with only a JSON object: {"body_text": string, "speaker_notes": string, "image_prompt": string}`

func (g *LLMGenerator) Outline(ctx context.Context, req Request) (*Outline, error) {
	text, err := g.complete(ctx, fmt.Sprintf(outlinePrompt, req.Topic, req.NumSlides, req.Style))
	if err != nil {
		return nil, err
	}
	o, err := ParseOutline(text)
	if err != nil {
		return nil, fmt.Errorf("model returned an unusable outline: %w", err)
	}
	if o.Topic == "" {
		o.Topic = req.Topic
	}
	return o, nil
}

func (g *LLMGenerator) Draft(ctx context.Context, topic string, slide Slide) (Slide, error) {
	text, err := g.complete(ctx, fmt.Sprintf(draftPrompt, slide.Title, slide.Layout, topic))
	if err != nil {
		return slide, err
	}
	var content struct {
		BodyText     string `json:"body_text"`
		SpeakerNotes string `json:"speaker_notes"`
		ImagePrompt  string `json:"image_prompt"`
	}
	if err := json.Unmarshal([]byte(StripFence(text)), &content); err != nil {
		return slide, fmt.Errorf("model returned unusable slide content: %w", err)
	}
	slide.BodyText = content.BodyText
	slide.SpeakerNotes = content.SpeakerNotes
	slide.ImagePrompt = content.ImagePrompt
	return slide, nil
}

func (g *LLMGenerator) complete(ctx context.Context, prompt string) (string, error) {
	text, _, err := llm.Complete(ctx, g.Provider, llm.ChatRequest{
		Model:    g.Model,
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt}},
		JSON:     true,
	}, nil)
	return text, err
}
