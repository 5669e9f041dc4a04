package durable

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/streams"
)

// teePoll bounds each wait on the source buffer inside the journaling loop.
const teePoll = 100 * time.Millisecond

// Open starts a fresh provider stream.
type Open func(ctx context.Context) (*streams.Buffer, error)

// Resume continues an interrupted stream given the events already replayed
// from the journal. Capabilities that cannot resume pass nil, turning an
// unsealed record into a terminal Failure.
type Resume func(ctx context.Context, replayed []streams.Event) (*streams.Buffer, error)

// Stream is the durable wrapper for streaming operations.
//
// With no record for the key it opens a live stream and tees every event
// into the journal before delivery, sealing on the terminal event. A sealed
// record replays entirely from the journal with events marked Replayed. An
// unsealed record replays what was captured, then hands off to resume for
// the remainder; the continuation is journaled under the same key.
func (m *Manager) Stream(
	ctx context.Context,
	id capability.ID,
	op capability.Operation,
	input []byte,
	open Open,
	resume Resume,
) (*streams.Buffer, error) {
	key := NewKey(id, op, input)

	unlock := m.lock(key)
	recorded, sealed, exists, err := m.journal.LoadStream(ctx, key)
	unlock()
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "journal load for %s", key)
	}

	if !exists {
		live, err := open(ctx)
		if err != nil {
			return nil, err
		}
		out := streams.NewBuffer(streams.WithCloser(live.Close))
		go m.tee(ctx, key, live, out)
		return out, nil
	}

	replayed, err := decodeEvents(recorded)
	if err != nil {
		return nil, err
	}

	if sealed {
		out := streams.NewBuffer()
		for _, ev := range replayed {
			out.Push(ev)
		}
		return out, nil
	}

	// Partial record: deliver what was captured, then continue live.
	if resume == nil {
		out := streams.NewBuffer()
		for _, ev := range replayed {
			out.Push(ev)
		}
		out.Push(streams.FailureEvent(
			fault.New(fault.KindInternal, "stream %s was interrupted and cannot be resumed", op)))
		return out, nil
	}

	cont, err := resume(ctx, replayed)
	if err != nil {
		return nil, err
	}
	out := streams.NewBuffer(streams.WithCloser(cont.Close))
	for _, ev := range replayed {
		out.Push(ev)
	}
	go m.tee(ctx, key, cont, out)
	return out, nil
}

// tee forwards events from src to dst, journaling each one before delivery
// so nothing reaches the caller unrecorded. The terminal event additionally
// seals the record; a persistence failure replaces it with Failure.
func (m *Manager) tee(ctx context.Context, key Key, src, dst *streams.Buffer) {
	for {
		ev, ok := src.Next(teePoll)
		if !ok {
			if src.IsFinished() || src.IsClosed() || dst.IsClosed() || ctx.Err() != nil {
				return
			}
			continue
		}

		payload, err := json.Marshal(ev)
		if err == nil {
			unlock := m.lock(key)
			err = m.journal.AppendEvent(ctx, key, payload)
			if err == nil && ev.Terminal() {
				err = m.journal.Seal(ctx, key)
			}
			unlock()
		}
		if err != nil {
			dst.Push(streams.FailureEvent(
				fault.Wrap(fault.KindInternal, err, "journal write for %s", key)))
			return
		}

		dst.Push(ev)
		if ev.Terminal() {
			return
		}
	}
}

func decodeEvents(recorded [][]byte) ([]streams.Event, error) {
	events := make([]streams.Event, 0, len(recorded))
	for _, payload := range recorded {
		var ev streams.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "decode recorded stream event")
		}
		ev.Replayed = true
		events = append(events, ev)
	}
	return events, nil
}
