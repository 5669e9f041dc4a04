package durable

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/streams"
)

var chatID = capability.ID{Family: capability.Chat, Provider: "openai"}

func marshalEvent(ev streams.Event) ([]byte, error) {
	return json.Marshal(ev)
}

type echoReq struct {
	Text string `json:"text"`
}

type echoResp struct {
	Text string `json:"text"`
}

func TestUnary_SecondInvocationShortCircuits(t *testing.T) {
	m := NewManager(NewMemoryJournal())
	calls := 0
	call := func(_ context.Context, req echoReq) (echoResp, error) {
		calls++
		return echoResp{Text: req.Text + "!"}, nil
	}

	first, err := Unary(context.Background(), m, chatID, "send", echoReq{Text: "hi"}, call)
	require.NoError(t, err)
	second, err := Unary(context.Background(), m, chatID, "send", echoReq{Text: "hi"}, call)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "identical input must not re-execute")
}

func TestUnary_DistinctInputsExecuteSeparately(t *testing.T) {
	m := NewManager(NewMemoryJournal())
	calls := 0
	call := func(_ context.Context, req echoReq) (echoResp, error) {
		calls++
		return echoResp{Text: req.Text}, nil
	}

	_, err := Unary(context.Background(), m, chatID, "send", echoReq{Text: "a"}, call)
	require.NoError(t, err)
	_, err = Unary(context.Background(), m, chatID, "send", echoReq{Text: "b"}, call)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUnary_RecordedFaultReplays(t *testing.T) {
	m := NewManager(NewMemoryJournal())
	calls := 0
	call := func(_ context.Context, _ echoReq) (echoResp, error) {
		calls++
		return echoResp{}, fault.Invalid("bad prompt")
	}

	_, err := Unary(context.Background(), m, chatID, "send", echoReq{Text: "x"}, call)
	require.Error(t, err)
	_, err = Unary(context.Background(), m, chatID, "send", echoReq{Text: "x"}, call)
	require.Error(t, err)

	assert.Equal(t, fault.KindInvalidRequest, fault.As(err).Kind)
	assert.Equal(t, 1, calls, "a recorded failure is an outcome, not a retry trigger")
}

type failingJournal struct {
	*MemoryJournal
	storeErr error
}

func (j *failingJournal) StoreUnary(ctx context.Context, key Key, out Outcome) error {
	if j.storeErr != nil {
		return j.storeErr
	}
	return j.MemoryJournal.StoreUnary(ctx, key, out)
}

func TestUnary_PersistenceFailureSurfacesAsInternal(t *testing.T) {
	m := NewManager(&failingJournal{
		MemoryJournal: NewMemoryJournal(),
		storeErr:      errors.New("disk full"),
	})
	_, err := Unary(context.Background(), m, chatID, "send", echoReq{Text: "x"},
		func(_ context.Context, _ echoReq) (echoResp, error) {
			return echoResp{Text: "ok"}, nil
		})
	require.Error(t, err)
	assert.Equal(t, fault.KindInternal, fault.As(err).Kind)
}

func pumpLive(events ...streams.Event) Open {
	return func(_ context.Context) (*streams.Buffer, error) {
		b := streams.NewBuffer()
		for _, ev := range events {
			b.Push(ev)
		}
		return b, nil
	}
}

func drainAll(t *testing.T, b *streams.Buffer) []streams.Event {
	t.Helper()
	var out []streams.Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, ok := b.Next(100 * time.Millisecond)
		if !ok {
			if b.IsFinished() {
				return out
			}
			continue
		}
		out = append(out, ev)
		if ev.Terminal() {
			return out
		}
	}
	t.Fatal("stream did not terminate")
	return nil
}

func textOf(events []streams.Event) string {
	var s string
	for _, ev := range events {
		if ev.Delta == nil {
			continue
		}
		for _, part := range ev.Delta.Content {
			s += part.Text
		}
	}
	return s
}

func TestStream_LiveThenReplayedFromJournal(t *testing.T) {
	m := NewManager(NewMemoryJournal())
	input := []byte(`{"prompt":"hi"}`)
	open := pumpLive(
		streams.DeltaEvent(streams.TextPart("Hel")),
		streams.DeltaEvent(streams.TextPart("lo")),
		streams.FinishEvent(streams.FinishStop, &streams.Usage{Input: 1, Output: 2, Total: 3}),
	)

	live, err := m.Stream(context.Background(), chatID, "stream", input, open, nil)
	require.NoError(t, err)
	first := drainAll(t, live)
	require.Len(t, first, 3)
	assert.Equal(t, "Hello", textOf(first))
	for _, ev := range first {
		assert.False(t, ev.Replayed)
	}

	// Same key again: everything comes from the journal, nothing is opened.
	replay, err := m.Stream(context.Background(), chatID, "stream", input,
		func(context.Context) (*streams.Buffer, error) {
			t.Fatal("sealed record must not reopen the provider stream")
			return nil, nil
		}, nil)
	require.NoError(t, err)
	second := drainAll(t, replay)
	require.Len(t, second, 3)
	assert.Equal(t, "Hello", textOf(second))
	for _, ev := range second {
		assert.True(t, ev.Replayed)
	}
	assert.True(t, replay.IsFinished())
}

func TestStream_UnsealedRecordResumesWithContinuation(t *testing.T) {
	journal := NewMemoryJournal()
	m := NewManager(journal)
	input := []byte(`{"prompt":"hi"}`)
	key := NewKey(chatID, "stream", input)

	// Simulate a crash after two deltas: events recorded, never sealed.
	for _, ev := range []streams.Event{
		streams.DeltaEvent(streams.TextPart("Hel")),
		streams.DeltaEvent(streams.TextPart("lo")),
	} {
		payload, err := marshalEvent(ev)
		require.NoError(t, err)
		require.NoError(t, journal.AppendEvent(context.Background(), key, payload))
	}

	var sawReplayed []streams.Event
	resume := func(_ context.Context, replayed []streams.Event) (*streams.Buffer, error) {
		sawReplayed = replayed
		b := streams.NewBuffer()
		b.Push(streams.DeltaEvent(streams.TextPart(", world")))
		b.Push(streams.FinishEvent(streams.FinishStop, nil))
		return b, nil
	}

	out, err := m.Stream(context.Background(), chatID, "stream", input,
		func(context.Context) (*streams.Buffer, error) {
			t.Fatal("partial record must resume, not reopen")
			return nil, nil
		}, resume)
	require.NoError(t, err)

	events := drainAll(t, out)
	assert.Equal(t, "Hello, world", textOf(events))
	assert.Equal(t, "Hello", textOf(sawReplayed))
	assert.True(t, events[0].Replayed)
	assert.True(t, events[1].Replayed)
	assert.False(t, events[len(events)-1].Replayed)

	// The continuation was journaled and sealed under the same key.
	recorded, sealed, exists, err := journal.LoadStream(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, sealed)
	assert.Len(t, recorded, 4)
}

func TestStream_UnsealedRecordWithoutResumeFails(t *testing.T) {
	journal := NewMemoryJournal()
	m := NewManager(journal)
	input := []byte(`{"code":"print(1)"}`)
	execID := capability.ID{Family: capability.Exec}
	key := NewKey(execID, "run-streaming", input)

	payload, err := marshalEvent(streams.DeltaEvent(streams.BytesPart(streams.ContentStdout, []byte("1\n"))))
	require.NoError(t, err)
	require.NoError(t, journal.AppendEvent(context.Background(), key, payload))

	out, err := m.Stream(context.Background(), execID, "run-streaming", input,
		func(context.Context) (*streams.Buffer, error) {
			t.Fatal("must not reopen")
			return nil, nil
		}, nil)
	require.NoError(t, err)

	events := drainAll(t, out)
	last := events[len(events)-1]
	require.Equal(t, streams.EventFailure, last.Type)
	assert.Equal(t, fault.KindInternal, last.Failure.Kind)
}

func TestKey_StableAcrossEquivalentInputs(t *testing.T) {
	a := NewKey(chatID, "send", []byte(`{"x":1}`))
	b := NewKey(chatID, "send", []byte(`{"x":1}`))
	c := NewKey(chatID, "send", []byte(`{"x":2}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, NewKey(chatID, "stream", []byte(`{"x":1}`)))
}
