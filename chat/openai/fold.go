package openai

import (
	"github.com/tidwall/gjson"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/streams"
)

// fold is the per-stream state machine turning raw chat-completion frames
// into stream events. Deltas are forwarded exactly as received, never
// reassembled; the finish reason is held until the usage frame (or end of
// stream) so exactly one terminal event is emitted.
type fold struct {
	finished bool
	reason   streams.FinishReason
}

func newFold() *fold {
	return &fold{reason: streams.FinishOther}
}

// Apply folds one frame into zero or more events. Frames after the terminal
// event are dropped; frames that parse to nothing useful are ignored.
func (f *fold) Apply(data string) []streams.Event {
	if f.finished {
		return nil
	}
	frame := gjson.Parse(data)

	if errMsg := frame.Get("error.message"); errMsg.Exists() {
		f.finished = true
		return []streams.Event{streams.FailureEvent(
			fault.New(fault.KindInternal, "provider error: %s", errMsg.String()))}
	}

	var events []streams.Event
	choice := frame.Get("choices.0")

	if content := choice.Get("delta.content"); content.Exists() && content.String() != "" {
		events = append(events, streams.DeltaEvent(streams.TextPart(content.String())))
	}

	if calls := choice.Get("delta.tool_calls"); calls.IsArray() {
		var deltas []streams.ToolCallDelta
		calls.ForEach(func(_, call gjson.Result) bool {
			deltas = append(deltas, streams.ToolCallDelta{
				Index:     int(call.Get("index").Int()),
				ID:        call.Get("id").String(),
				Name:      call.Get("function.name").String(),
				Arguments: call.Get("function.arguments").String(),
			})
			return true
		})
		if len(deltas) > 0 {
			events = append(events, streams.ToolCallEvent(deltas...))
		}
	}

	if reason := choice.Get("finish_reason"); reason.Exists() && reason.String() != "" {
		f.reason = mapFinishReason(reason.String())
	}

	// The usage frame arrives last when stream_options requests it and
	// carries no choices; it closes the stream.
	if usage := frame.Get("usage"); usage.Exists() && usage.IsObject() {
		f.finished = true
		events = append(events, streams.FinishEvent(f.reason, &streams.Usage{
			Input:  int(usage.Get("prompt_tokens").Int()),
			Output: int(usage.Get("completion_tokens").Int()),
			Total:  int(usage.Get("total_tokens").Int()),
		}))
	}

	return events
}

// Flush closes the fold at end of stream, synthesizing the terminal event
// when the provider never sent one.
func (f *fold) Flush() *streams.Event {
	if f.finished {
		return nil
	}
	f.finished = true
	ev := streams.FinishEvent(f.reason, nil)
	return &ev
}

func mapFinishReason(raw string) streams.FinishReason {
	switch raw {
	case "stop":
		return streams.FinishStop
	case "length":
		return streams.FinishLength
	case "tool_calls", "function_call":
		return streams.FinishToolCalls
	case "content_filter":
		return streams.FinishContentFilter
	default:
		return streams.FinishOther
	}
}
