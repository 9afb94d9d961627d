// Package envelope classifies invocation arguments against the envelope shapes
// upstream triggers deliver and extracts the embedded raw payload.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Shape identifies which envelope an argument arrived in.
type Shape int

const (
	// ShapeUnmatched means no known envelope matched; the argument is passed
	// through unchanged and validation decides.
	ShapeUnmatched Shape = iota
	// ShapeDirect is an already-canonical DTO.
	ShapeDirect
	// ShapeCallback is {detail: {responsePayload: T | null}}.
	ShapeCallback
	// ShapeQueueBatch is {Records: [{body: ...}, ...]}.
	ShapeQueueBatch
	// ShapeDetail is the generic {detail: {...}} fallback.
	ShapeDetail
)

func (s Shape) String() string {
	switch s {
	case ShapeDirect:
		return "direct"
	case ShapeCallback:
		return "callback"
	case ShapeQueueBatch:
		return "queue_batch"
	case ShapeDetail:
		return "detail"
	default:
		return "unmatched"
	}
}

// Located is the Locator's result. Payload may be a JSON object, a JSON
// string that still needs decoding, or the literal null.
type Located struct {
	Shape   Shape
	Payload json.RawMessage
	// NoData is set when an async-callback wrapper explicitly carried a null
	// result: upstream produced nothing, which is not an error.
	NoData bool
}

// IsNull reports whether the located payload is the JSON literal null.
func (l Located) IsNull() bool {
	return IsNull(l.Payload)
}

var nullLiteral = []byte("null")

// IsNull reports whether raw is the JSON literal null.
func IsNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), nullLiteral)
}

// Locator probes arguments for a fixed set of envelope shapes. It has no side
// effects and holds no per-call state.
type Locator struct {
	probes []string
}

// NewLocator returns a Locator that recognises a direct DTO by the presence of
// any of the given top-level fields.
func NewLocator(probeFields ...string) (*Locator, error) {
	probes := make([]string, 0, len(probeFields))
	for _, f := range probeFields {
		if f = strings.TrimSpace(f); f != "" {
			probes = append(probes, f)
		}
	}
	if len(probes) == 0 {
		return nil, errors.New("envelope: at least one probe field is required")
	}
	return &Locator{probes: probes}, nil
}

type detailWrapper struct {
	ResponsePayload json.RawMessage `json:"responsePayload"`
}

type queueRecord struct {
	Body json.RawMessage `json:"body"`
}

// Locate classifies arg in fixed precedence: direct, async callback, queue
// batch, nested detail. The first structural match wins.
func (l *Locator) Locate(arg []byte) Located {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(arg, &top); err != nil || top == nil {
		return unmatched(arg)
	}

	for _, f := range l.probes {
		if _, ok := top[f]; ok {
			return Located{Shape: ShapeDirect, Payload: clone(arg)}
		}
	}

	if detail, ok := top["detail"]; ok {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(detail, &fields); err == nil {
			if payload, ok := fields["responsePayload"]; ok {
				return Located{Shape: ShapeCallback, Payload: clone(payload), NoData: IsNull(payload)}
			}
		}
	}

	if records, ok := top["Records"]; ok {
		if body, ok := firstRecordBody(records); ok {
			return Located{Shape: ShapeQueueBatch, Payload: body}
		}
	}

	if detail, ok := top["detail"]; ok {
		return Located{Shape: ShapeDetail, Payload: clone(detail)}
	}

	return unmatched(arg)
}

// firstRecordBody returns Records[0].body. Later records are split off as raw
// bytes and never decoded.
func firstRecordBody(records json.RawMessage) (json.RawMessage, bool) {
	var batch []json.RawMessage
	if err := json.Unmarshal(records, &batch); err != nil || len(batch) == 0 {
		return nil, false
	}
	var first map[string]json.RawMessage
	if err := json.Unmarshal(batch[0], &first); err != nil {
		return nil, false
	}
	body, ok := first["body"]
	if !ok {
		return nil, false
	}
	return clone(body), true
}

func unmatched(arg []byte) Located {
	return Located{Shape: ShapeUnmatched, Payload: clone(arg)}
}

func clone(b []byte) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
