package durable

import (
	"context"
	"sync"
)

// MemoryJournal is the in-process backend used in tests and for callers
// that want replay semantics without persistence across restarts.
type MemoryJournal struct {
	mu     sync.Mutex
	unary  map[string]Outcome
	events map[string][][]byte
	sealed map[string]bool
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		unary:  make(map[string]Outcome),
		events: make(map[string][][]byte),
		sealed: make(map[string]bool),
	}
}

func (j *MemoryJournal) LookupUnary(_ context.Context, key Key) (*Outcome, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out, ok := j.unary[key.String()]
	if !ok {
		return nil, false, nil
	}
	return &out, true, nil
}

func (j *MemoryJournal) StoreUnary(_ context.Context, key Key, out Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.unary[key.String()] = out
	return nil
}

func (j *MemoryJournal) AppendEvent(_ context.Context, key Key, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := key.String()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	j.events[id] = append(j.events[id], buf)
	return nil
}

func (j *MemoryJournal) Seal(_ context.Context, key Key) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sealed[key.String()] = true
	return nil
}

func (j *MemoryJournal) LoadStream(_ context.Context, key Key) ([][]byte, bool, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := key.String()
	events, ok := j.events[id]
	if !ok {
		return nil, false, false, nil
	}
	out := make([][]byte, len(events))
	copy(out, events)
	return out, j.sealed[id], true, nil
}
