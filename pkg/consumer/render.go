package consumer

import (
	"fmt"
	"io"
	"sync"
)

// PlainRenderer writes one line per chunk, prefixed with the stage when
// the chunk names one.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPlainRenderer(w io.Writer) *PlainRenderer {
	return &PlainRenderer{out: w}
}

func (r *PlainRenderer) Render(d Decoded) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case d.Failed:
		fmt.Fprintf(r.out, "✗ %s\n", d.Text)
	case d.Final:
		fmt.Fprintf(r.out, "✓ %s\n", d.Text)
	case d.Kind == KindDump:
		fmt.Fprintf(r.out, "? %s\n", d.Text)
	case d.Stage != "":
		fmt.Fprintf(r.out, "[%s] %s\n", d.Stage, d.Text)
	default:
		fmt.Fprintln(r.out, d.Text)
	}
}
