// Package polly adapts Amazon Polly to the text-to-speech capability
// contract, including asynchronous long-form synthesis tasks and pronunciation
// lexicons. All requests are signed with Signature Version 4.
package polly

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/internal/httpx"
	"github.com/capra-ai/capra/tts"
)

func init() {
	tts.Register("polly", New)
}

type Adapter struct {
	http    *httpx.Client
	aws     conf.AWSSettings
	baseURL string
}

func New(deps tts.Deps) (tts.Provider, error) {
	aws, err := deps.Conf.AWS(deps.Override)
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("https://polly.%s.amazonaws.com", aws.Region)
	if u, ok := deps.Override["POLLY_BASE_URL"]; ok && u != "" {
		baseURL = u
	}
	client := deps.HTTP
	if client == nil {
		client = httpx.New()
	}
	return &Adapter{http: client, aws: aws, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (a *Adapter) Name() string { return "polly" }

func (a *Adapter) auth() httpx.Auth {
	return httpx.SigV4(a.aws.Credentials, a.aws.Region, "polly")
}

func (a *Adapter) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	payload, err := synthesisPayload(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode synthesis request")
	}
	resp, err := a.http.Perform(ctx, httpx.Post(a.baseURL+"/v1/speech", body).WithAuth(a.auth()))
	if err != nil {
		return nil, err
	}
	format := req.Format
	if format == "" {
		format = "mp3"
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

// SynthesizeLongForm starts an asynchronous synthesis task writing to the
// given S3 location and returns its polling handle.
func (a *Adapter) SynthesizeLongForm(ctx context.Context, req tts.Request, outputLocation string) (*tts.LongFormTask, error) {
	if outputLocation == "" {
		return nil, fault.Invalid("output location is required for long-form synthesis")
	}
	payload, err := synthesisPayload(req)
	if err != nil {
		return nil, err
	}
	payload["OutputS3BucketName"] = outputLocation
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode synthesis task")
	}
	resp, err := a.http.Perform(ctx, httpx.Post(a.baseURL+"/v1/synthesisTasks", body).WithAuth(a.auth()))
	if err != nil {
		return nil, err
	}
	return parseTask(resp.Body)
}

func (a *Adapter) GetLongForm(ctx context.Context, handle string) (*tts.LongFormTask, error) {
	if handle == "" {
		return nil, fault.Invalid("task handle is required")
	}
	resp, err := a.http.Perform(ctx,
		httpx.Get(a.baseURL+"/v1/synthesisTasks/"+handle).WithAuth(a.auth()))
	if err != nil {
		return nil, err
	}
	return parseTask(resp.Body)
}

func (a *Adapter) CreateVoiceClone(context.Context, string, [][]byte) (*tts.VoiceClone, error) {
	return nil, fault.Unsupported("create-voice-clone")
}

func (a *Adapter) CreateLexicon(ctx context.Context, name, content string) error {
	if name == "" || content == "" {
		return fault.Invalid("lexicon requires a name and content")
	}
	body, err := json.Marshal(map[string]string{"Content": content})
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "encode lexicon")
	}
	env := httpx.Envelope{
		Method:  "PUT",
		URL:     a.baseURL + "/v1/lexicons/" + name,
		Headers: []httpx.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:    body,
		Auth:    a.auth(),
	}
	_, err = a.http.Perform(ctx, env)
	return err
}

func (a *Adapter) DeleteLexicon(ctx context.Context, name string) error {
	if name == "" {
		return fault.Invalid("lexicon name is required")
	}
	env := httpx.Envelope{
		Method: "DELETE",
		URL:    a.baseURL + "/v1/lexicons/" + name,
		Auth:   a.auth(),
	}
	_, err := a.http.Perform(ctx, env)
	return err
}

func (a *Adapter) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	resp, err := a.http.Perform(ctx, httpx.Get(a.baseURL+"/v1/voices").WithAuth(a.auth()))
	if err != nil {
		return nil, err
	}
	var listed struct {
		Voices []struct {
			ID           string `json:"Id"`
			Name         string `json:"Name"`
			LanguageCode string `json:"LanguageCode"`
			Gender       string `json:"Gender"`
		} `json:"Voices"`
	}
	if err := json.Unmarshal(resp.Body, &listed); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode voices response")
	}
	voices := make([]tts.Voice, 0, len(listed.Voices))
	for _, v := range listed.Voices {
		voices = append(voices, tts.Voice{
			ID:       v.ID,
			Name:     v.Name,
			Language: v.LanguageCode,
			Gender:   v.Gender,
		})
	}
	return voices, nil
}

func synthesisPayload(req tts.Request) (map[string]any, error) {
	if req.Text == "" {
		return nil, fault.Invalid("text is required")
	}
	if req.VoiceID == "" {
		return nil, fault.Invalid("voice_id is required")
	}
	format := req.Format
	if format == "" {
		format = "mp3"
	}
	payload := map[string]any{
		"Text":         req.Text,
		"VoiceId":      req.VoiceID,
		"OutputFormat": format,
	}
	if req.SampleRate > 0 {
		payload["SampleRate"] = strconv.Itoa(req.SampleRate)
	}
	if len(req.Lexicons) > 0 {
		payload["LexiconNames"] = req.Lexicons
	}
	return payload, nil
}

func parseTask(body []byte) (*tts.LongFormTask, error) {
	var wrapped struct {
		SynthesisTask struct {
			TaskID     string `json:"TaskId"`
			TaskStatus string `json:"TaskStatus"`
			OutputURI  string `json:"OutputUri"`
		} `json:"SynthesisTask"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode synthesis task")
	}
	if wrapped.SynthesisTask.TaskID == "" {
		return nil, fault.New(fault.KindInternal, "synthesis task carried no id")
	}
	return &tts.LongFormTask{
		Handle:         wrapped.SynthesisTask.TaskID,
		Status:         mapTaskStatus(wrapped.SynthesisTask.TaskStatus),
		OutputLocation: wrapped.SynthesisTask.OutputURI,
	}, nil
}

func mapTaskStatus(raw string) tts.TaskStatus {
	switch raw {
	case "scheduled":
		return tts.TaskScheduled
	case "inProgress":
		return tts.TaskInProgress
	case "completed":
		return tts.TaskCompleted
	default:
		return tts.TaskFailed
	}
}
