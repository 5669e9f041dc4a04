// Package tts defines the text-to-speech capability contract and provider
// registry.
package tts

import (
	"context"
	"fmt"
	"sync"

	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
)

// Request is one synthesis input.
type Request struct {
	Text         string   `json:"text"`
	VoiceID      string   `json:"voice_id"`
	Format       string   `json:"format,omitempty"`
	SampleRate   int      `json:"sample_rate,omitempty"`
	SpeakingRate float64  `json:"speaking_rate,omitempty"`
	Lexicons     []string `json:"lexicons,omitempty"`
}

// Audio is synthesized speech.
type Audio struct {
	Data   []byte `json:"data"`
	Format string `json:"format"`
}

// TaskStatus tracks a long-form synthesis task.
type TaskStatus string

const (
	TaskScheduled  TaskStatus = "scheduled"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// LongFormTask is the handle for asynchronous long-form synthesis. Progress
// is observed by polling with the handle.
type LongFormTask struct {
	Handle         string     `json:"handle"`
	Status         TaskStatus `json:"status"`
	OutputLocation string     `json:"output_location,omitempty"`
}

// VoiceClone is a created custom voice.
type VoiceClone struct {
	VoiceID string `json:"voice_id"`
	Name    string `json:"name"`
}

// Voice describes one selectable voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

// Provider is the text-to-speech capability contract. Providers answer
// Unsupported for operations their service does not model.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (*Audio, error)
	SynthesizeBatch(ctx context.Context, reqs []Request) ([]Audio, error)
	SynthesizeLongForm(ctx context.Context, req Request, outputLocation string) (*LongFormTask, error)
	GetLongForm(ctx context.Context, handle string) (*LongFormTask, error)
	CreateVoiceClone(ctx context.Context, name string, samples [][]byte) (*VoiceClone, error)
	CreateLexicon(ctx context.Context, name, content string) error
	DeleteLexicon(ctx context.Context, name string) error
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Deps are the shared runtime pieces handed to adapter factories.
type Deps struct {
	HTTP     *httpx.Client
	Conf     *conf.Resolver
	Override map[string]string
}

type Factory func(Deps) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("tts provider %s already registered", name))
	}
	factories[name] = f
}

func New(name string, deps Deps) (Provider, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tts provider not found: %s", name)
	}
	return f(deps)
}
