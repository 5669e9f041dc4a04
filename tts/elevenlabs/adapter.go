// Package elevenlabs adapts the ElevenLabs API to the text-to-speech
// capability contract. Lexicons and long-form tasks are not part of the
// ElevenLabs model and answer Unsupported.
package elevenlabs

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/tts"
)

const defaultBaseURL = "https://api.elevenlabs.io"

func init() {
	tts.Register("elevenlabs", New)
}

type Adapter struct {
	http    *httpx.Client
	key     string
	baseURL string
}

func New(deps tts.Deps) (tts.Provider, error) {
	key, err := deps.Conf.APIKey(conf.EnvElevenLabsKey, deps.Override)
	if err != nil {
		return nil, err
	}
	baseURL := defaultBaseURL
	if u, ok := deps.Override["ELEVENLABS_BASE_URL"]; ok && u != "" {
		baseURL = u
	}
	client := deps.HTTP
	if client == nil {
		client = httpx.New()
	}
	return &Adapter{http: client, key: key, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (a *Adapter) Name() string { return "elevenlabs" }

func (a *Adapter) auth() httpx.Auth {
	return httpx.KeyHeader("xi-api-key", a.key)
}

func (a *Adapter) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if req.Text == "" {
		return nil, fault.Invalid("text is required")
	}
	if req.VoiceID == "" {
		return nil, fault.Invalid("voice_id is required")
	}
	payload := map[string]any{"text": req.Text}
	if req.SpeakingRate > 0 {
		payload["voice_settings"] = map[string]any{"speed": req.SpeakingRate}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode synthesis request")
	}

	url := a.baseURL + "/v1/text-to-speech/" + req.VoiceID
	format := req.Format
	if format == "" {
		format = "mp3_44100_128"
	}
	url += "?output_format=" + format

	resp, err := a.http.Perform(ctx, httpx.Post(url, body).WithAuth(a.auth()))
	if err != nil {
		return nil, err
	}
	return &tts.Audio{Data: resp.Body, Format: format}, nil
}

func (a *Adapter) SynthesizeBatch(ctx context.Context, reqs []tts.Request) ([]tts.Audio, error) {
	out := make([]tts.Audio, 0, len(reqs))
	for i, req := range reqs {
		audio, err := a.Synthesize(ctx, req)
		if err != nil {
			return nil, fault.Promote(fmt.Errorf("batch item %d: %w", i, err))
		}
		out = append(out, *audio)
	}
	return out, nil
}

func (a *Adapter) SynthesizeLongForm(context.Context, tts.Request, string) (*tts.LongFormTask, error) {
	return nil, fault.Unsupported("synthesize-long-form")
}

func (a *Adapter) GetLongForm(context.Context, string) (*tts.LongFormTask, error) {
	return nil, fault.Unsupported("get-long-form")
}

func (a *Adapter) CreateVoiceClone(ctx context.Context, name string, samples [][]byte) (*tts.VoiceClone, error) {
	if name == "" || len(samples) == 0 {
		return nil, fault.Invalid("voice clone requires a name and at least one sample")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("name", name); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "build clone form")
	}
	for i, sample := range samples {
		part, err := form.CreateFormFile("files", fmt.Sprintf("sample-%d.mp3", i))
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "build clone form")
		}
		if _, err := part.Write(sample); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "build clone form")
		}
	}
	if err := form.Close(); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "build clone form")
	}

	env := httpx.Post(a.baseURL+"/v1/voices/add", buf.Bytes(),
		httpx.Header{Name: "Content-Type", Value: form.FormDataContentType()},
	).WithAuth(a.auth())
	resp, err := a.http.Perform(ctx, env)
	if err != nil {
		return nil, err
	}

	var created struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.Unmarshal(resp.Body, &created); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode clone response")
	}
	return &tts.VoiceClone{VoiceID: created.VoiceID, Name: name}, nil
}

func (a *Adapter) CreateLexicon(context.Context, string, string) error {
	return fault.Unsupported("create-lexicon")
}

func (a *Adapter) DeleteLexicon(context.Context, string) error {
	return fault.Unsupported("delete-lexicon")
}

func (a *Adapter) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	resp, err := a.http.Perform(ctx, httpx.Get(a.baseURL+"/v1/voices").WithAuth(a.auth()))
	if err != nil {
		return nil, err
	}
	var listed struct {
		Voices []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
			Labels  struct {
				Gender string `json:"gender"`
			} `json:"labels"`
		} `json:"voices"`
	}
	if err := json.Unmarshal(resp.Body, &listed); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode voices response")
	}
	voices := make([]tts.Voice, 0, len(listed.Voices))
	for _, v := range listed.Voices {
		voices = append(voices, tts.Voice{ID: v.VoiceID, Name: v.Name, Gender: v.Labels.Gender})
	}
	return voices, nil
}
