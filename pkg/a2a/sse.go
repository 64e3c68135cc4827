package a2a

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  []byte
}

// SSEReader splits an event stream into frames. Multi-line data fields
// are joined with newlines; comment lines are skipped.
type SSEReader struct {
	scanner *bufio.Scanner
}

func NewSSEReader(r io.Reader) *SSEReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &SSEReader{scanner: s}
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (r *SSEReader) Next() (Frame, error) {
	var (
		f       Frame
		data    bytes.Buffer
		hasData bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if hasData {
				f.Data = data.Bytes()
				return f, nil
			}
			f.Event = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if hasData {
		f.Data = data.Bytes()
		return f, nil
	}
	return Frame{}, io.EOF
}
