// Package consumer turns raw stream frames into something a person can
// read. Chunk layouts differ between producer versions, so decoding tries
// an ordered list of known shapes and always yields a value.
package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

type Kind string

const (
	KindStatus  Kind = "status"
	KindResult  Kind = "result"
	KindContent Kind = "content"
	KindDump    Kind = "dump"
	KindInvalid Kind = "invalid"
)

// Decoded is the normalized form of one chunk.
type Decoded struct {
	Kind  Kind
	Text  string
	Stage string
	Final bool

	// Failed is set on a terminal chunk that carries an error; ErrorKind
	// and Reason come from that error.
	Failed    bool
	ErrorKind string
	Reason    string

	// Err is a *ProtocolError when Kind is KindInvalid.
	Err error
}

// Diagnostic reports whether the chunk matched no known shape.
func (d Decoded) Diagnostic() bool {
	return d.Kind == KindDump || d.Kind == KindInvalid
}

type ProtocolError struct {
	Data []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("consumer: undecodable chunk (%d bytes): %v", len(e.Data), e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

var errNotJSON = errors.New("not valid JSON")

const errorPrefix = "Error:"

type shape struct {
	kind  Kind
	match func(root gjson.Result) (Decoded, bool)
}

// shapes is tried in order; the first match wins. dump matches anything.
var shapes = []shape{
	{KindStatus, matchStatus},
	{KindResult, matchResult},
	{KindContent, matchContent},
	{KindDump, matchDump},
}

// Decode never fails; input that is not JSON comes back as KindInvalid.
func Decode(raw []byte) Decoded {
	if !gjson.ValidBytes(raw) {
		return Decoded{Kind: KindInvalid, Err: &ProtocolError{Data: raw, Err: errNotJSON}}
	}
	root := unwrapRPC(gjson.ParseBytes(raw))
	for _, s := range shapes {
		if d, ok := s.match(root); ok {
			d.Kind = s.kind
			return d
		}
	}
	return Decoded{Kind: KindInvalid, Err: &ProtocolError{Data: raw, Err: errors.New("no shape matched")}}
}

// unwrapRPC strips a JSON-RPC response envelope. A JSON-RPC error becomes
// a failed terminal chunk.
func unwrapRPC(root gjson.Result) gjson.Result {
	if !root.IsObject() || !root.Get("jsonrpc").Exists() {
		return root
	}
	if res := root.Get("result"); res.IsObject() {
		return res
	}
	if e := root.Get("error"); e.IsObject() {
		chunk, _ := json.Marshal(map[string]any{
			"final":  true,
			"result": map[string]any{"parts": []map[string]string{{"type": "text", "text": errorPrefix + " " + e.Get("message").String()}}},
			"error":  map[string]string{"kind": "RPCError", "reason": e.Get("message").String()},
		})
		return gjson.ParseBytes(chunk)
	}
	return root
}

func matchStatus(root gjson.Result) (Decoded, bool) {
	text := root.Get("status.message.parts.0.text")
	if !text.Exists() {
		return Decoded{}, false
	}
	d := Decoded{
		Text:  text.String(),
		Stage: root.Get("status.stage").String(),
		Final: root.Get("final").Bool(),
	}
	failure(root, &d)
	return d, true
}

func matchResult(root gjson.Result) (Decoded, bool) {
	text := root.Get("result.parts.0.text")
	if !text.Exists() {
		return Decoded{}, false
	}
	d := Decoded{Text: text.String(), Final: true}
	failure(root, &d)
	return d, true
}

// matchContent reads the flat {"content": ..., "is_task_complete": ...}
// responses older agents produce. Those agents report a failed task as
// completed content starting with "Error:".
func matchContent(root gjson.Result) (Decoded, bool) {
	content := root.Get("content")
	if !content.Exists() {
		return Decoded{}, false
	}
	d := Decoded{
		Text:  content.String(),
		Final: root.Get("is_task_complete").Bool(),
	}
	if d.Final && strings.HasPrefix(d.Text, errorPrefix) {
		d.Failed = true
		d.Reason = strings.TrimSpace(strings.TrimPrefix(d.Text, errorPrefix))
	}
	return d, true
}

func matchDump(root gjson.Result) (Decoded, bool) {
	v := prune(root)
	if v == nil {
		return Decoded{Text: "{}"}, true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Decoded{Text: root.Raw}, true
	}
	return Decoded{Text: string(b)}, true
}

func failure(root gjson.Result, d *Decoded) {
	e := root.Get("error")
	if !d.Final || !e.IsObject() {
		return
	}
	d.Failed = true
	d.ErrorKind = e.Get("kind").String()
	d.Reason = e.Get("reason").String()
	if stage := e.Get("stage").String(); stage != "" && d.Stage == "" {
		d.Stage = stage
	}
}

// prune converts r to plain Go values, dropping nulls, empty strings and
// empty containers. It returns nil when nothing is left.
func prune(r gjson.Result) any {
	switch {
	case r.IsObject():
		out := map[string]any{}
		r.ForEach(func(k, v gjson.Result) bool {
			if pv := prune(v); pv != nil {
				out[k.String()] = pv
			}
			return true
		})
		if len(out) == 0 {
			return nil
		}
		return out
	case r.IsArray():
		var out []any
		for _, v := range r.Array() {
			if pv := prune(v); pv != nil {
				out = append(out, pv)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case r.Type == gjson.Null:
		return nil
	case r.Type == gjson.String && r.Str == "":
		return nil
	default:
		return r.Value()
	}
}
