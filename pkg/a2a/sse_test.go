package a2a

import (
	"io"
	"strings"
	"testing"
)

func TestSSEReader(t *testing.T) {
	input := ": keepalive\n" +
		"event: status\n" +
		"data: {\"a\":1}\n" +
		"\n" +
		"\n" +
		"data: line1\n" +
		"data: line2\n" +
		"\n" +
		"event: result\n" +
		"data: tail"

	r := NewSSEReader(strings.NewReader(input))

	f, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Event != "status" || string(f.Data) != `{"a":1}` {
		t.Errorf("frame 1 = %q %q", f.Event, f.Data)
	}

	f, err = r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Event != "" || string(f.Data) != "line1\nline2" {
		t.Errorf("frame 2 = %q %q", f.Event, f.Data)
	}

	f, err = r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Event != "result" || string(f.Data) != "tail" {
		t.Errorf("frame 3 = %q %q", f.Event, f.Data)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}
