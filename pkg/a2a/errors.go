package a2a

import (
	"errors"
	"fmt"
)

var (
	ErrStreamingUnsupported = errors.New("a2a: agent does not support streaming")
	ErrStreamClosed         = errors.New("a2a: stream closed before terminal chunk")
	ErrTaskNotFound         = errors.New("a2a: task not found")
	ErrTaskNotCancelable    = errors.New("a2a: task is not cancelable")
)

// Failure kinds carried in ChunkError.Kind.
const (
	KindNotFound    = "NotFound"
	KindConnection  = "ConnectionError"
	KindStage       = "StageError"
	KindCanceled    = "Canceled"
	KindUnsupported = "Unsupported"
)

// ConnectionError reports a transport failure talking to an agent:
// dial errors, bad status codes, timeouts, or a stream cut short.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("a2a: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError wraps a frame that could not be decoded. It is recoverable:
// the stream may still yield further frames.
type ProtocolError struct {
	Data []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("a2a: undecodable chunk (%d bytes): %v", len(e.Data), e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
