package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/chaz8081/voicecore/internal/audio"
	"github.com/chaz8081/voicecore/internal/models"
)

// DefaultMaxPayload is the upload limit of the OpenAI transcription API.
const DefaultMaxPayload = 25 * 1024 * 1024

// remoteMIMETypes are the upload formats the API accepts, by extension.
var remoteMIMETypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".mpeg": "audio/mpeg",
	".mpga": "audio/mpeg",
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// errUnreachable marks failures to reach the server at all, as opposed to
// a server that answered with an error.
var errUnreachable = errors.New("server unreachable")

// RemoteConfig configures a RemoteBackend.
type RemoteConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxPayload     int64 // bytes
	MaxConcurrency int
	HTTP2          bool
	// StreamURL, when set, carries streaming sessions over a websocket
	// instead of one HTTP request per flush.
	StreamURL string
	Stream    StreamOptions
}

// RemoteBackend transcribes through an OpenAI-compatible HTTP API.
type RemoteBackend struct {
	*base
	cfg       RemoteConfig
	client    *http.Client
	transport *http.Transport

	mu    sync.Mutex
	model string
}

// NewRemoteBackend creates a remote backend with its own HTTP transport.
func NewRemoteBackend(cfg RemoteConfig) *RemoteBackend {
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.HTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			slog.Warn("[TRANSCRIBE] http2 unavailable, using http/1.1", "error", err)
		}
	}

	r := &RemoteBackend{
		base:      newBase(BackendRemote, cfg.MaxConcurrency, true, cfg.Stream),
		cfg:       cfg,
		transport: tr,
		client:    &http.Client{Transport: tr, Timeout: cfg.Timeout},
		model:     cfg.Model,
	}
	r.run = r.transcribe
	r.runFile = r.transcribeFile
	r.ready = r.requireModel
	return r
}

// Probe checks the API is reachable and the key is accepted.
func (r *RemoteBackend) Probe(ctx context.Context) error {
	if r.cfg.BaseURL == "" {
		return fmt.Errorf("%w: no base url", ErrEngineUnavailable)
	}
	if r.cfg.APIKey == "" {
		return fmt.Errorf("%w: unauthorized: no api key", ErrEngineUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: unreachable: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: unauthorized (HTTP %d)", ErrEngineUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}

// AvailableModels returns the configured API model.
func (r *RemoteBackend) AvailableModels() []models.Model {
	id := r.modelName()
	if id == "" {
		return nil
	}
	return []models.Model{{
		ID:           id,
		Name:         id,
		Downloaded:   true,
		Loaded:       true,
		Multilingual: true,
		Languages:    models.WhisperLanguages,
	}}
}

// LoadModel selects the API model name sent with each request.
func (r *RemoteBackend) LoadModel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty model id", ErrUnknownModel)
	}
	r.mu.Lock()
	r.model = id
	r.mu.Unlock()
	r.notices.notify(Notice{Kind: NoticeModelLoaded, ModelID: id})
	return nil
}

func (r *RemoteBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	return r.transcribe(ctx, samples, sampleRate, opts)
}

func (r *RemoteBackend) TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	return r.transcribeFile(ctx, path, opts)
}

// DetectLanguage uploads the first 30 seconds and reports the language the
// API detected.
func (r *RemoteBackend) DetectLanguage(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := r.requireModel(); err != nil {
		return "", err
	}
	input, err := prepare(samples, sampleRate)
	if err != nil {
		return "", err
	}
	opts := DefaultOptions()
	opts.Language = "auto"
	opts.Timestamps = false
	res, err := r.transcribePrepared(ctx, window(input, detectWindow), opts)
	if err != nil {
		return "", err
	}
	return res.Language, nil
}

// StartStreaming opens a session over the websocket endpoint when one is
// configured, or over one HTTP request per flush.
func (r *RemoteBackend) StartStreaming(cfg StreamConfig) (string, error) {
	if err := r.requireModel(); err != nil {
		return "", err
	}
	var transport StreamTransport = &httpStreamTransport{remote: r}
	if r.cfg.StreamURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		defer cancel()
		ws, err := dialStream(ctx, r.cfg.StreamURL, r.cfg.APIKey, r.modelName(), cfg)
		if err != nil {
			return "", err
		}
		transport = ws
	}
	return r.streams.Start(cfg, transport)
}

func (r *RemoteBackend) PerformanceStats() PerformanceStats {
	s := r.stats()
	s.Model = r.modelName()
	return s
}

func (r *RemoteBackend) Close() error {
	r.close()
	r.transport.CloseIdleConnections()
	return nil
}

func (r *RemoteBackend) transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	if err := r.requireModel(); err != nil {
		return nil, err
	}
	input, err := prepare(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	if silent(input, opts) {
		res := emptyResult(input, opts)
		res.Backend, res.Model = r.name, r.modelName()
		return res, nil
	}
	return r.transcribePrepared(ctx, input, opts)
}

func (r *RemoteBackend) transcribePrepared(ctx context.Context, input []float32, opts Options) (*Result, error) {
	payload, err := encodeWAV(input)
	if err != nil {
		return nil, err
	}
	if err := r.checkSize(int64(len(payload))); err != nil {
		return nil, err
	}
	audioLen := samplesDuration(len(input), SampleRate)
	return r.timed(audioLen, func() (*Result, error) {
		return r.upload(ctx, "audio.wav", remoteMIMETypes[".wav"], payload, opts)
	})
}

func (r *RemoteBackend) transcribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	if err := r.requireModel(); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	mimeType, ok := remoteMIMETypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: wav, mp3, m4a, mp4, mpeg, mpga, webm, ogg, flac)", ErrUnsupportedFormat, ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if err := r.checkSize(info.Size()); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: read %s: %w", path, err)
	}
	// Only WAV length is known before upload.
	var audioLen time.Duration
	if ext == ".wav" {
		if buf, err := audio.LoadWAV(path); err == nil {
			audioLen = buf.Duration()
		}
	}
	return r.timed(audioLen, func() (*Result, error) {
		return r.upload(ctx, filepath.Base(path), mimeType, data, opts)
	})
}

// checkSize rejects payloads over the limit before anything is sent.
func (r *RemoteBackend) checkSize(n int64) error {
	if n <= r.cfg.MaxPayload {
		return nil
	}
	return fmt.Errorf("%w: %.1f MB exceeds the %.0f MB limit; split the audio into shorter pieces or use the local backend",
		ErrAudioTooLarge, float64(n)/(1024*1024), float64(r.cfg.MaxPayload)/(1024*1024))
}

// upload posts one transcription request.
func (r *RemoteBackend) upload(ctx context.Context, filename, mimeType string, data []byte, opts Options) (*Result, error) {
	body, contentType, err := r.multipartBody(filename, mimeType, data, opts)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w: %v", ErrTranscriptionFailed, errUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: reading response: %v", ErrTranscriptionFailed, errUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, fmt.Errorf("%w: server rejected %d bytes", ErrAudioTooLarge, len(data))
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: %w: HTTP %d", ErrTranscriptionFailed, errUnreachable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrTranscriptionFailed, resp.StatusCode, apiErrorMessage(raw))
	}

	var vr verboseResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrTranscriptionFailed, err)
	}
	res := vr.result(opts)
	res.Model = r.modelName()
	return res, nil
}

func (r *RemoteBackend) multipartBody(filename, mimeType string, data []byte, opts Options) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("transcribe: multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("transcribe: multipart: %w", err)
	}

	fields := [][2]string{
		{"model", r.modelName()},
		{"response_format", "verbose_json"},
		{"temperature", strconv.FormatFloat(float64(opts.Temperature), 'f', -1, 32)},
		{"timestamp_granularities[]", "segment"},
	}
	if lang := opts.language(); lang != "auto" {
		fields = append(fields, [2]string{"language", lang})
	}
	if opts.Prompt != "" {
		fields = append(fields, [2]string{"prompt", opts.Prompt})
	}
	if opts.Timestamps {
		fields = append(fields, [2]string{"timestamp_granularities[]", "word"})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("transcribe: multipart: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("transcribe: multipart: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

func (r *RemoteBackend) requireModel() error {
	if r.modelName() == "" {
		return ErrModelNotLoaded
	}
	return nil
}

func (r *RemoteBackend) modelName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model
}

// verboseResponse is the verbose_json transcription body.
type verboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

func (vr *verboseResponse) result(opts Options) *Result {
	res := &Result{
		Language: languageCode(vr.Language),
		Duration: seconds(vr.Duration),
	}
	for _, s := range vr.Segments {
		seg := Segment{
			Start:   seconds(s.Start),
			End:     seconds(s.End),
			Text:    strings.TrimSpace(s.Text),
			Speaker: -1,
		}
		if opts.Confidence {
			seg.Confidence = float32(math.Exp(s.AvgLogprob))
		}
		if seg.Text != "" {
			res.Segments = append(res.Segments, seg)
		}
	}
	if opts.Timestamps {
		for _, w := range vr.Words {
			word := Word{Text: strings.TrimSpace(w.Word), Start: seconds(w.Start), End: seconds(w.End)}
			for i := range res.Segments {
				if word.Start >= res.Segments[i].Start && word.Start < res.Segments[i].End {
					res.Segments[i].Words = append(res.Segments[i].Words, word)
					break
				}
			}
		}
	}
	finish(res, opts)
	if len(res.Segments) == 0 {
		res.Text = strings.TrimSpace(vr.Text)
	}
	if want := opts.language(); want != "auto" && res.Language == "" {
		res.Language = want
	}
	return res
}

// apiErrorMessage extracts {"error":{"message":...}} when present.
func apiErrorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// encodeWAV renders 16 kHz mono samples as a WAV file in memory. The
// encoder needs a seekable writer, so it goes through a temp file.
func encodeWAV(samples []float32) ([]byte, error) {
	f, err := os.CreateTemp("", "voicecore-*.wav")
	if err != nil {
		return nil, fmt.Errorf("transcribe: temp wav: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()
	if err := audio.EncodeWAV(f, audio.NewBuffer(samples, 1, SampleRate)); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("transcribe: temp wav: %w", err)
	}
	return io.ReadAll(f)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var languageNames = map[string]string{
	"english": "en", "chinese": "zh", "german": "de", "spanish": "es", "russian": "ru",
	"korean": "ko", "french": "fr", "japanese": "ja", "portuguese": "pt", "turkish": "tr",
	"polish": "pl", "catalan": "ca", "dutch": "nl", "arabic": "ar", "swedish": "sv",
	"italian": "it", "indonesian": "id", "hindi": "hi", "finnish": "fi", "vietnamese": "vi",
	"hebrew": "he", "ukrainian": "uk", "greek": "el", "czech": "cs", "romanian": "ro",
	"danish": "da", "hungarian": "hu", "norwegian": "no", "thai": "th",
}

// languageCode maps the API's language names to ISO codes.
func languageCode(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if code, ok := languageNames[name]; ok {
		return code
	}
	return name
}
