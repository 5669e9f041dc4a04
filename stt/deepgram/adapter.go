// Package deepgram adapts the Deepgram prerecorded API to the
// speech-to-text capability contract. Vocabularies are emulated locally and
// expand into keyword boosts on each request, since Deepgram models them as
// per-request parameters rather than server-side resources.
package deepgram

import (
	"context"
	"net/url"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/stt"
)

const defaultBaseURL = "https://api.deepgram.com"

func init() {
	stt.Register("deepgram", New)
}

type Adapter struct {
	http    *httpx.Client
	key     string
	baseURL string

	mu           sync.Mutex
	vocabularies map[string]stt.Vocabulary
}

func New(deps stt.Deps) (stt.Provider, error) {
	key, err := deps.Conf.APIKey(conf.EnvDeepgramKey, deps.Override)
	if err != nil {
		return nil, err
	}
	baseURL := defaultBaseURL
	if u, ok := deps.Override["DEEPGRAM_BASE_URL"]; ok && u != "" {
		baseURL = u
	}
	client := deps.HTTP
	if client == nil {
		client = httpx.New()
	}
	return &Adapter{
		http:         client,
		key:          key,
		baseURL:      strings.TrimRight(baseURL, "/"),
		vocabularies: make(map[string]stt.Vocabulary),
	}, nil
}

func (a *Adapter) Name() string { return "deepgram" }

func (a *Adapter) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcription, error) {
	if len(req.Audio) == 0 {
		return nil, fault.Invalid("audio payload is empty")
	}

	query := url.Values{}
	if req.Options.Model != "" {
		query.Set("model", req.Options.Model)
	}
	if req.Options.Language != "" {
		query.Set("language", req.Options.Language)
	}
	if req.Options.ProfanityFilter {
		query.Set("profanity_filter", "true")
	}
	if req.Options.Diarization {
		query.Set("diarize", "true")
	}
	query.Set("punctuate", "true")
	for _, phrase := range a.keywordsFor(req.Options) {
		query.Add("keywords", phrase)
	}

	contentType := "audio/wav"
	if req.Format != "" {
		contentType = "audio/" + req.Format
	}
	env := httpx.Envelope{
		Method: "POST",
		URL:    a.baseURL + "/v1/listen?" + query.Encode(),
		Headers: []httpx.Header{
			{Name: "Content-Type", Value: contentType},
		},
		Body: req.Audio,
		Auth: httpx.KeyHeader("Authorization", "Token "+a.key),
	}
	resp, err := a.http.Perform(ctx, env)
	if err != nil {
		return nil, err
	}
	return parseListen(resp.Body, req.Options)
}

// keywordsFor merges the referenced vocabulary and the request speech
// contexts into Deepgram keyword boosts.
func (a *Adapter) keywordsFor(opts stt.Options) []string {
	phrases := append([]string(nil), opts.SpeechContexts...)
	if opts.Vocabulary == "" {
		return phrases
	}
	a.mu.Lock()
	vocab, ok := a.vocabularies[opts.Vocabulary]
	a.mu.Unlock()
	if ok {
		phrases = append(phrases, vocab.Phrases...)
	}
	return phrases
}

func (a *Adapter) TranscribeStream(_ context.Context, opts stt.Options) (*stt.Stream, error) {
	return stt.NewStream(func(ctx context.Context, audio []byte) (*stt.Transcription, error) {
		return a.Transcribe(ctx, stt.Request{Audio: audio, Options: opts})
	}), nil
}

func (a *Adapter) CreateVocabulary(_ context.Context, name string, phrases []string) (*stt.Vocabulary, error) {
	if name == "" || len(phrases) == 0 {
		return nil, fault.Invalid("vocabulary requires a name and at least one phrase")
	}
	vocab := stt.Vocabulary{
		Handle:  uuid.NewString(),
		Name:    name,
		Phrases: append([]string(nil), phrases...),
	}
	a.mu.Lock()
	a.vocabularies[vocab.Handle] = vocab
	a.mu.Unlock()
	return &vocab, nil
}

func (a *Adapter) DeleteVocabulary(_ context.Context, handle string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.vocabularies[handle]; !ok {
		return fault.NotFound("vocabulary %s", handle)
	}
	delete(a.vocabularies, handle)
	return nil
}

type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
					Speaker    *int    `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func parseListen(body []byte, opts stt.Options) (*stt.Transcription, error) {
	var r listenResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode transcription response")
	}
	if len(r.Results.Channels) == 0 {
		return nil, fault.New(fault.KindInternal, "transcription carried no channels")
	}

	out := &stt.Transcription{
		DurationSeconds: r.Metadata.Duration,
		Language:        opts.Language,
	}
	for _, alt := range r.Results.Channels[0].Alternatives {
		a := stt.Alternative{Transcript: alt.Transcript, Confidence: alt.Confidence}
		if opts.Timestamps || opts.WordConfidence || opts.Diarization {
			for _, w := range alt.Words {
				word := stt.Word{Text: w.Word}
				if opts.Timestamps {
					word.Start, word.End = w.Start, w.End
				}
				if opts.WordConfidence {
					word.Confidence = w.Confidence
				}
				if opts.Diarization && w.Speaker != nil {
					word.Speaker = *w.Speaker
				}
				a.Words = append(a.Words, word)
			}
		}
		out.Alternatives = append(out.Alternatives, a)
	}
	return out, nil
}
