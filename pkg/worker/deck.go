package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	LayoutTitle      = "Title Slide"
	LayoutContent    = "Title and Content"
	LayoutSection    = "Section Header"
	LayoutTwoContent = "Two Content"

	defaultNumSlides = 5
	defaultStyle     = "professional"
	maxNumSlides     = 30
)

// Request is what the Outliner accepts: either this JSON document or a
// bare topic string.
type Request struct {
	Topic     string `json:"topic"`
	NumSlides int    `json:"num_slides,omitempty"`
	Style     string `json:"style,omitempty"`
}

type Slide struct {
	PageNumber   int    `json:"page_number"`
	Title        string `json:"title"`
	Layout       string `json:"layout"`
	BodyText     string `json:"body_text,omitempty"`
	SpeakerNotes string `json:"speaker_notes,omitempty"`
	ImagePrompt  string `json:"image_prompt,omitempty"`
}

type Outline struct {
	Topic  string  `json:"topic"`
	Slides []Slide `json:"slides"`
}

func ParseRequest(text string) (Request, error) {
	text = strings.TrimSpace(StripFence(text))
	var req Request
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return req, fmt.Errorf("parsing request: %w", err)
		}
	} else {
		req.Topic = text
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return req, errors.New("request has no topic")
	}
	if req.NumSlides <= 0 {
		req.NumSlides = defaultNumSlides
	}
	if req.NumSlides > maxNumSlides {
		return req, fmt.Errorf("num_slides %d exceeds %d", req.NumSlides, maxNumSlides)
	}
	if req.Style == "" {
		req.Style = defaultStyle
	}
	return req, nil
}

// NormalizeLayout maps free-form layout names onto the four supported
// ones, falling back to LayoutContent.
func NormalizeLayout(layout string) string {
	l := strings.ToLower(layout)
	switch {
	case strings.Contains(l, "title slide"):
		return LayoutTitle
	case strings.Contains(l, "section"):
		return LayoutSection
	case strings.Contains(l, "two"):
		return LayoutTwoContent
	default:
		return LayoutContent
	}
}

// StripFence removes a surrounding Markdown code fence, with or without
// a language tag.
func StripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	} else {
		t = strings.TrimPrefix(t, "json")
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

var listMarker = regexp.MustCompile(`(?:^|\s)([IVXLC]+|\d+)[.)]\s+`)

// ParseOutline accepts outline JSON (optionally fenced) or a plain-text
// outline such as "I. Intro II. Trends III. Conclusion", one section per
// marker or per line.
func ParseOutline(text string) (*Outline, error) {
	t := strings.TrimSpace(StripFence(text))
	if t == "" {
		return nil, errors.New("empty outline")
	}
	if strings.HasPrefix(t, "{") {
		var o Outline
		if err := json.Unmarshal([]byte(t), &o); err != nil {
			return nil, fmt.Errorf("parsing outline: %w", err)
		}
		if len(o.Slides) == 0 {
			return nil, errors.New("outline has no slides")
		}
		o.normalize()
		return &o, nil
	}

	titles := splitPlainOutline(t)
	o := &Outline{Topic: titles[0]}
	for i, title := range titles {
		layout := LayoutContent
		if i == 0 {
			layout = LayoutTitle
		}
		o.Slides = append(o.Slides, Slide{Title: title, Layout: layout})
	}
	o.normalize()
	return o, nil
}

func splitPlainOutline(t string) []string {
	var titles []string
	for _, line := range strings.Split(t, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		titles = append(titles, splitMarkedLine(line)...)
	}
	return titles
}

// splitMarkedLine splits "I. Intro II. Trends" into its sections. A line
// is only split when it opens with a marker, and only at markers that
// continue its numbering, so "World War II. Aftermath" stays whole.
func splitMarkedLine(line string) []string {
	locs := listMarker.FindAllStringSubmatchIndex(line, -1)
	if len(locs) == 0 || locs[0][0] != 0 {
		return []string{strings.TrimLeft(line, "-*• ")}
	}
	first := line[locs[0][2]:locs[0][3]]
	roman := !isDigits(first)
	next := ordinal(first) + 1

	cuts := [][]int{locs[0]}
	for _, loc := range locs[1:] {
		tok := line[loc[2]:loc[3]]
		if isDigits(tok) == roman || ordinal(tok) != next {
			continue
		}
		cuts = append(cuts, loc)
		next++
	}

	var out []string
	for i, loc := range cuts {
		end := len(line)
		if i+1 < len(cuts) {
			end = cuts[i+1][0]
		}
		if s := strings.TrimSpace(line[loc[1]:end]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

var romanValues = map[byte]int{'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100}

// ordinal reads a decimal or Roman marker. It returns 0 when tok is
// neither.
func ordinal(tok string) int {
	if isDigits(tok) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return 0
		}
		return n
	}
	n := 0
	for i := 0; i < len(tok); i++ {
		v := romanValues[tok[i]]
		if v == 0 {
			return 0
		}
		if i+1 < len(tok) && v < romanValues[tok[i+1]] {
			n -= v
		} else {
			n += v
		}
	}
	return n
}

func (o *Outline) normalize() {
	for i := range o.Slides {
		o.Slides[i].PageNumber = i + 1
		o.Slides[i].Title = strings.TrimSpace(o.Slides[i].Title)
		o.Slides[i].Layout = NormalizeLayout(o.Slides[i].Layout)
	}
}

func (o *Outline) JSON() string {
	b, _ := json.MarshalIndent(o, "", "  ")
	return string(b)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a topic into a file-name fragment.
func Slug(topic string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(topic), "-"), "-")
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}
