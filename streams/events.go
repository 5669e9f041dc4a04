// Package streams carries the uniform stream-event union produced by every
// streaming capability, and the single-reader buffer callers drain.
//
// Producers push, consumers poll. Exactly one terminal event (Finish or
// Failure) is delivered per stream and nothing follows it.
package streams

import (
	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/fault"
)

// EventType tags the event union.
type EventType string

const (
	EventDelta   EventType = "delta"
	EventFinish  EventType = "finish"
	EventFailure EventType = "failure"
)

// ContentType tags the content-part union inside a Delta.
type ContentType string

const (
	ContentText        ContentType = "text"
	ContentAudioChunk  ContentType = "audio_chunk"
	ContentTranscript  ContentType = "transcript_alternative"
	ContentSearchChunk ContentType = "search_result_chunk"
	ContentVectorHit   ContentType = "vector_hit"
	ContentStdout      ContentType = "stdout_chunk"
	ContentStderr      ContentType = "stderr_chunk"
)

// ContentPart is one fragment of streamed content. Text carries textual
// deltas, Bytes carries binary chunks (audio, stdout, stderr) and Payload
// carries the capability-typed value (transcript alternative, search result,
// vector hit) encoded as JSON so records replay without importing the
// domain package.
type ContentPart struct {
	Type    ContentType     `json:"type"`
	Text    string          `json:"text,omitempty"`
	Bytes   []byte          `json:"bytes,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TextPart builds a text content part carrying the exact delta text.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentText, Text: text}
}

// BytesPart builds a binary content part of the given type.
func BytesPart(typ ContentType, b []byte) ContentPart {
	return ContentPart{Type: typ, Bytes: b}
}

// PayloadPart encodes v as the typed payload of a content part.
func PayloadPart(typ ContentType, v any) (ContentPart, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return ContentPart{}, fault.Wrap(fault.KindInternal, err, "encode %s payload", typ)
	}
	return ContentPart{Type: typ, Payload: raw}, nil
}

// ToolCallDelta is one fragment of a streamed tool call. Fragments with the
// same ID group together; Arguments concatenate in arrival order.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Delta is an incremental content event.
type Delta struct {
	Content   []ContentPart   `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// FinishReason mirrors the provider-reported reason a stream ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
)

// Usage carries aggregate token or unit counts reported at stream end.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Finish is the terminal success event.
type Finish struct {
	Reason FinishReason    `json:"reason"`
	Usage  *Usage          `json:"usage,omitempty"`
	Extra  json.RawMessage `json:"extra,omitempty"`
}

// Event is the uniform tagged union buffered by every streaming capability.
// Replayed marks events reconstructed from a durability record so callers
// can tell them apart from fresh ones.
type Event struct {
	Type     EventType    `json:"type"`
	Delta    *Delta       `json:"delta,omitempty"`
	Finish   *Finish      `json:"finish,omitempty"`
	Failure  *fault.Fault `json:"failure,omitempty"`
	Replayed bool         `json:"replayed,omitempty"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Type == EventFinish || e.Type == EventFailure
}

// DeltaEvent wraps parts into a Delta event.
func DeltaEvent(parts ...ContentPart) Event {
	return Event{Type: EventDelta, Delta: &Delta{Content: parts}}
}

// ToolCallEvent wraps tool-call fragments into a Delta event.
func ToolCallEvent(calls ...ToolCallDelta) Event {
	return Event{Type: EventDelta, Delta: &Delta{ToolCalls: calls}}
}

// FinishEvent builds the terminal success event.
func FinishEvent(reason FinishReason, usage *Usage) Event {
	return Event{Type: EventFinish, Finish: &Finish{Reason: reason, Usage: usage}}
}

// FailureEvent builds the terminal failure event.
func FailureEvent(f *fault.Fault) Event {
	return Event{Type: EventFailure, Failure: f}
}
