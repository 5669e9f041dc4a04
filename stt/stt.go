// Package stt defines the speech-to-text capability contract and provider
// registry. Providers whose live transport is not plain HTTP expose
// streaming through the emulated bidirectional stream in this package:
// callers push audio chunks in, call Finish, and drain transcript events.
package stt

import (
	"context"
	"fmt"
	"sync"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/streams"
)

// Options tune a transcription request.
type Options struct {
	Language        string   `json:"language,omitempty"`
	Model           string   `json:"model,omitempty"`
	ProfanityFilter bool     `json:"profanity_filter,omitempty"`
	Timestamps      bool     `json:"timestamps,omitempty"`
	Diarization     bool     `json:"diarization,omitempty"`
	WordConfidence  bool     `json:"word_confidence,omitempty"`
	Vocabulary      string   `json:"vocabulary,omitempty"`
	SpeechContexts  []string `json:"speech_contexts,omitempty"`
}

// Request is one unary transcription.
type Request struct {
	Audio   []byte  `json:"audio"`
	Format  string  `json:"format,omitempty"`
	Options Options `json:"options"`
}

// Word is one recognized token with optional timing and speaker attribution.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start,omitempty"`
	End        float64 `json:"end,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Speaker    int     `json:"speaker,omitempty"`
}

// Alternative is one candidate transcript.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
	Words      []Word  `json:"words,omitempty"`
}

// Transcription is the full result of a transcription request.
type Transcription struct {
	Alternatives    []Alternative `json:"alternatives"`
	DurationSeconds float64       `json:"duration_seconds,omitempty"`
	Language        string        `json:"language,omitempty"`
}

// Vocabulary is a named phrase list boosting recognition. Handles are
// opaque; a deleted handle answers NotFound.
type Vocabulary struct {
	Handle  string   `json:"handle"`
	Name    string   `json:"name"`
	Phrases []string `json:"phrases"`
}

// Provider is the speech-to-text capability contract.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (*Transcription, error)
	TranscribeStream(ctx context.Context, opts Options) (*Stream, error)
	CreateVocabulary(ctx context.Context, name string, phrases []string) (*Vocabulary, error)
	DeleteVocabulary(ctx context.Context, handle string) error
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
		panic(fmt.Sprintf("stt provider %s already registered", name))
	}
	factories[name] = f
}

func New(name string, deps Deps) (Provider, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stt provider not found: %s", name)
	}
	return f(deps)
}

// Finisher transcribes the accumulated audio when the caller finishes an
// emulated stream.
type Finisher func(ctx context.Context, audio []byte) (*Transcription, error)

// Stream is the emulated bidirectional transcription stream. Audio chunks
// go in through Send (boundaries preserved); Finish runs the transcription
// and emits one event per alternative followed by the terminal finish.
type Stream struct {
	Events *streams.Buffer

	mu     sync.Mutex
	chunks [][]byte
	total  int
	done   bool
	finish Finisher
}

// NewStream builds an emulated stream around the provider's finisher.
func NewStream(finish Finisher) *Stream {
	s := &Stream{finish: finish}
	s.Events = streams.NewBuffer(streams.WithInput(s.accept))
	return s
}

func (s *Stream) accept(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return fault.NotFound("stream already finished")
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.chunks = append(s.chunks, buf)
	s.total += len(buf)
	return nil
}

// Send pushes one audio chunk. Chunks are never coalesced before Finish.
func (s *Stream) Send(chunk []byte) error {
	return s.Events.SendInput(chunk)
}

// BytesReceived reports how much audio has been accepted, which resumption
// uses to resend from the acknowledged offset.
func (s *Stream) BytesReceived() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Finish transcribes everything sent so far and terminates the event
// stream. It is an error to finish twice.
func (s *Stream) Finish(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return fault.NotFound("stream already finished")
	}
	s.done = true
	audio := make([]byte, 0, s.total)
	for _, c := range s.chunks {
		audio = append(audio, c...)
	}
	s.mu.Unlock()

	result, err := s.finish(ctx, audio)
	if err != nil {
		s.Events.Push(streams.FailureEvent(fault.Promote(err)))
		return err
	}
	for _, alt := range result.Alternatives {
		part, perr := streams.PayloadPart(streams.ContentTranscript, alt)
		if perr != nil {
			s.Events.Push(streams.FailureEvent(fault.Promote(perr)))
			return perr
		}
		s.Events.Push(streams.DeltaEvent(part))
	}
	s.Events.Push(streams.FinishEvent(streams.FinishStop, nil))
	return nil
}

// ResumeStream replaces an interrupted transcription stream. The
// replacement receives only the audio past the interrupted stream's
// acknowledged offset; acknowledged bytes are never resent.
func ResumeStream(ctx context.Context, p Provider, opts Options, interrupted *Stream, audio []byte) (*Stream, error) {
	fresh, err := p.TranscribeStream(ctx, opts)
	if err != nil {
		return nil, err
	}
	offset := interrupted.BytesReceived()
	if offset > len(audio) {
		offset = len(audio)
	}
	if offset < len(audio) {
		if err := fresh.Send(audio[offset:]); err != nil {
			fresh.Close()
			return nil, err
		}
	}
	return fresh, nil
}

// Close abandons the stream without transcribing.
func (s *Stream) Close() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.Events.Close()
}
