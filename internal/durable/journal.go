// Package durable wraps capability calls with write-ahead journaling so an
// interrupted invocation can be replayed or resumed instead of re-executed
// blindly. Unary calls are memoized by invocation key; streams are teed into
// the journal event by event and replayed from it on a later attempt.
package durable

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/capra-ai/capra/capability"
	"github.com/capra-ai/capra/fault"
)

// Key identifies one invocation: which adapter, which operation, and a
// digest of the canonical input encoding. Identical inputs share a key.
type Key struct {
	Capability capability.ID
	Operation  capability.Operation
	Digest     string
}

// NewKey digests the canonical input bytes.
func NewKey(id capability.ID, op capability.Operation, input []byte) Key {
	sum := sha256.Sum256(input)
	return Key{Capability: id, Operation: op, Digest: hex.EncodeToString(sum[:])}
}

func (k Key) String() string {
	return k.Capability.String() + ":" + string(k.Operation) + ":" + k.Digest
}

// Outcome is the sealed result of a unary invocation. Exactly one of Result
// and Failure is set.
type Outcome struct {
	Result  []byte       `json:"result,omitempty"`
	Failure *fault.Fault `json:"failure,omitempty"`
}

// Journal persists invocation records. Implementations must be safe for
// concurrent use; per-key ordering is enforced by the Manager above them.
type Journal interface {
	// LookupUnary returns the sealed outcome for key, if one exists.
	LookupUnary(ctx context.Context, key Key) (*Outcome, bool, error)
	// StoreUnary seals the outcome for key.
	StoreUnary(ctx context.Context, key Key, out Outcome) error

	// AppendEvent appends one encoded stream event to the record for key.
	AppendEvent(ctx context.Context, key Key, payload []byte) error
	// Seal marks the stream record for key complete.
	Seal(ctx context.Context, key Key) error
	// LoadStream returns the recorded events for key in append order,
	// whether the record is sealed, and whether it exists at all.
	LoadStream(ctx context.Context, key Key) (events [][]byte, sealed bool, exists bool, err error)
}

// Manager serializes journal access per invocation key and hosts the unary
// and streaming wrappers.
type Manager struct {
	journal Journal

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wraps a journal backend.
func NewManager(j Journal) *Manager {
	return &Manager{journal: j, locks: make(map[string]*sync.Mutex)}
}

// lock acquires the per-key mutex and returns its release.
func (m *Manager) lock(key Key) func() {
	id := key.String()
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}
