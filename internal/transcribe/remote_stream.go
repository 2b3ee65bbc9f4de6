package transcribe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/voicecore/internal/audio"
)

// httpStreamTransport sends each flushed chunk as its own transcription
// request.
type httpStreamTransport struct {
	remote *RemoteBackend
}

func (t *httpStreamTransport) Send(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	res, err := t.remote.transcribe(ctx, samples, sampleRate, opts)
	if err != nil && errors.Is(err, errUnreachable) {
		return nil, fmt.Errorf("%w: %w", ErrStreamingDisconnected, err)
	}
	return res, err
}

// Reconnect is a no-op: every Send opens its own request.
func (t *httpStreamTransport) Reconnect(context.Context) error { return nil }

func (t *httpStreamTransport) Close() error { return nil }

// streamWriteTimeout bounds a single websocket write or reply.
const streamWriteTimeout = 30 * time.Second

// streamControl is a text frame sent to the streaming endpoint.
type streamControl struct {
	Type       string `json:"type"` // "start" or "stop"
	Model      string `json:"model,omitempty"`
	Language   string `json:"language,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// streamReply is the JSON answer to one binary audio frame.
type streamReply struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float32 `json:"confidence"`
	Error      string  `json:"error"`
}

// wsTransport carries a session over one websocket: 16 kHz PCM16LE binary
// frames out, one JSON reply per frame back.
type wsTransport struct {
	url    string
	apiKey string
	start  streamControl

	mu   sync.Mutex
	conn *websocket.Conn
}

func dialStream(ctx context.Context, url, apiKey, model string, cfg StreamConfig) (*wsTransport, error) {
	opts := cfg.Options
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	t := &wsTransport{
		url:    url,
		apiKey: apiKey,
		start: streamControl{
			Type:       "start",
			Model:      model,
			Prompt:     opts.Prompt,
			SampleRate: SampleRate,
		},
	}
	if lang := opts.language(); lang != "auto" {
		t.start.Language = lang
	}
	if err := t.dial(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *wsTransport) dial(ctx context.Context) error {
	header := http.Header{}
	if t.apiKey != "" {
		header.Set("Authorization", "Bearer "+t.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrStreamingDisconnected, t.url, err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(t.start); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: start: %v", ErrStreamingDisconnected, err)
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	slog.Debug("[STREAM] websocket connected", "url", t.url)
	return nil
}

func (t *wsTransport) Send(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	input, err := prepare(samples, sampleRate)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrStreamingDisconnected)
	}

	deadline := time.Now().Add(streamWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	_ = t.conn.SetReadDeadline(deadline)

	if err := t.conn.WriteMessage(websocket.BinaryMessage, pcm16le(input)); err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrStreamingDisconnected, err)
	}
	var reply streamReply
	if err := t.conn.ReadJSON(&reply); err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrStreamingDisconnected, err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrTranscriptionFailed, reply.Error)
	}

	res := &Result{
		Text:       reply.Text,
		Language:   languageCode(reply.Language),
		Confidence: reply.Confidence,
		Duration:   samplesDuration(len(input), SampleRate),
		Backend:    BackendRemote,
		Model:      t.start.Model,
	}
	if res.Language == "" {
		res.Language = t.start.Language
	}
	return res, nil
}

func (t *wsTransport) Reconnect(ctx context.Context) error {
	return t.dial(ctx)
}

// Close sends the stop message and a normal close frame.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	conn := t.conn
	t.conn = nil

	deadline := time.Now().Add(time.Second)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(streamControl{Type: "stop"})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

func pcm16le(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range audio.Float32ToInt16(samples) {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
