package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Streaming defaults.
const (
	DefaultFlushInterval = 3 * time.Second
	DefaultMaxReconnects = 5
	DefaultMaxBackoff    = 30 * time.Second
	// DefaultMaxBuffered is the accumulator size, in samples, that triggers
	// an early flush.
	DefaultMaxBuffered = 30 * SampleRate
)

// StreamOptions configures a StreamManager.
type StreamOptions struct {
	FlushInterval time.Duration
	MaxReconnects int
	BaseBackoff   time.Duration // first reconnect delay, doubled per attempt
	MaxBackoff    time.Duration
	MaxBuffered   int
}

// DefaultStreamOptions returns the options used by the backends.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		FlushInterval: DefaultFlushInterval,
		MaxReconnects: DefaultMaxReconnects,
		BaseBackoff:   time.Second,
		MaxBackoff:    DefaultMaxBackoff,
		MaxBuffered:   DefaultMaxBuffered,
	}
}

func (o StreamOptions) withDefaults() StreamOptions {
	d := DefaultStreamOptions()
	if o.FlushInterval <= 0 {
		o.FlushInterval = d.FlushInterval
	}
	if o.MaxReconnects < 0 {
		o.MaxReconnects = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = d.BaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	if o.MaxBuffered <= 0 {
		o.MaxBuffered = d.MaxBuffered
	}
	return o
}

// StreamTransport carries one session's audio to a recognizer.
type StreamTransport interface {
	// Send transcribes one chunk. Transport failures wrap
	// ErrStreamingDisconnected.
	Send(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error)
	// Reconnect re-establishes the transport after a disconnect.
	Reconnect(ctx context.Context) error
	Close() error
}

// directTransport runs chunks through in-process inference.
type directTransport struct {
	run runFunc
}

func (t *directTransport) Send(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	return t.run(ctx, samples, sampleRate, opts)
}

func (t *directTransport) Reconnect(context.Context) error { return nil }

func (t *directTransport) Close() error { return nil }

type stream struct {
	id        string
	cfg       StreamConfig
	transport StreamTransport

	// flushMu serializes the periodic flush with Stop.
	flushMu sync.Mutex

	mu       sync.Mutex
	pending  []float32
	consumed int // samples already flushed
	partials []Partial
	stats    StreamStats
	stopping bool // Stop has begun; no more audio is accepted
	ended    bool
	err      error
}

// StreamManager owns streaming sessions. One goroutine flushes every
// session's accumulated audio on a fixed cadence.
type StreamManager struct {
	opts   StreamOptions
	notify func(Notice)

	mu       sync.Mutex
	sessions map[string]*stream

	kick    chan struct{}
	flushes sync.WaitGroup
	ctx     context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamManager starts the flush loop. notify may be nil.
func NewStreamManager(opts StreamOptions, notify func(Notice)) *StreamManager {
	if notify == nil {
		notify = func(Notice) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &StreamManager{
		opts:     opts.withDefaults(),
		notify:   notify,
		sessions: make(map[string]*stream),
		kick:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

// Start opens a session on transport and returns its id. The manager
// closes the transport when the session ends.
func (m *StreamManager) Start(cfg StreamConfig, transport StreamTransport) (string, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = SampleRate
	}
	if cfg.Options == (Options{}) {
		cfg.Options = DefaultOptions()
	}
	s := &stream{id: uuid.NewString(), cfg: cfg, transport: transport}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return "", ErrClosed
	}
	m.sessions[s.id] = s
	slog.Info("[STREAM] session started", "session", s.id, "sample_rate", cfg.SampleRate)
	return s.id, nil
}

// Add appends samples to the session accumulator. Audio is never dropped:
// past MaxBuffered the flush loop is woken early instead.
func (m *StreamManager) Add(id string, samples []float32) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.ended {
		err := s.err
		s.mu.Unlock()
		if err == nil {
			err = ErrSessionNotFound
		}
		return fmt.Errorf("transcribe: session %s ended: %w", id, err)
	}
	if s.stopping {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is stopping", ErrSessionNotFound, id)
	}
	s.pending = append(s.pending, samples...)
	over := len(s.pending) >= m.opts.MaxBuffered
	s.mu.Unlock()

	if over {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Stop flushes whatever audio is still buffered, marks every partial final
// and returns the joined transcript. A session that ended on a terminal
// error returns the transcript so far together with that error.
func (m *StreamManager) Stop(id string) (string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s is already stopping", ErrSessionNotFound, id)
	}
	s.stopping = true
	s.mu.Unlock()

	flushErr := m.flush(s)

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	s.mu.Lock()
	texts := make([]string, 0, len(s.partials))
	for i := range s.partials {
		s.partials[i].Final = true
		if t := strings.TrimSpace(s.partials[i].Text); t != "" {
			texts = append(texts, t)
		}
	}
	s.ended = true
	if s.err == nil {
		s.err = flushErr
	}
	termErr := s.err
	s.mu.Unlock()

	if err := s.transport.Close(); err != nil {
		slog.Debug("[STREAM] transport close", "session", id, "error", err)
	}

	text := strings.Join(texts, " ")
	m.notify(Notice{Kind: NoticeCompleted, SessionID: id, Text: text, Final: true})
	slog.Info("[STREAM] session stopped", "session", id, "partials", len(texts))
	return text, termErr
}

// Session returns a snapshot of the session.
func (m *StreamManager) Session(id string) (StreamSession, error) {
	s, err := m.lookup(id)
	if err != nil {
		return StreamSession{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamSession{
		ID:       s.id,
		Config:   s.cfg,
		Partials: append([]Partial(nil), s.partials...),
		Stats:    s.stats,
		Buffered: len(s.pending),
		Ended:    s.ended,
		Err:      s.err,
	}, nil
}

// Len returns the number of open sessions.
func (m *StreamManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the flush loop and closes every session's transport without
// a final flush.
func (m *StreamManager) Close() {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.cancel()
	sessions := m.sessions
	m.sessions = make(map[string]*stream)
	m.mu.Unlock()

	<-m.done
	m.flushes.Wait()
	for _, s := range sessions {
		_ = s.transport.Close()
	}
}

func (m *StreamManager) lookup(id string) (*stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *StreamManager) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}

		m.mu.Lock()
		sessions := make([]*stream, 0, len(m.sessions))
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
		m.mu.Unlock()

		// Each session flushes on its own goroutine so one stuck in
		// reconnect backoff does not hold up the others. A session whose
		// previous flush is still running is skipped this round.
		for _, s := range sessions {
			if !s.flushMu.TryLock() {
				continue
			}
			m.flushes.Add(1)
			go func() {
				defer m.flushes.Done()
				defer s.flushMu.Unlock()
				if err := m.flushLocked(s); err != nil {
					slog.Warn("[STREAM] flush failed", "session", s.id, "error", err)
				}
			}()
		}
	}
}

// flush sends the session's pending audio. A failed chunk is put back so
// the next flush retries it, unless the session ended.
func (m *StreamManager) flush(s *stream) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return m.flushLocked(s)
}

// flushLocked is flush with s.flushMu already held.
func (m *StreamManager) flushLocked(s *stream) error {

	s.mu.Lock()
	if s.ended || len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	chunk := s.pending
	s.pending = nil
	offset := s.consumed
	s.mu.Unlock()

	res, err := m.send(s, chunk)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Errors++
		if errors.Is(err, ErrStreamingDisconnected) || m.ctx.Err() != nil {
			s.ended = true
			s.err = err
			m.notify(Notice{Kind: NoticeStreamFailed, SessionID: s.id, Final: true, Err: err})
			return err
		}
		s.pending = append(chunk, s.pending...)
		m.notify(Notice{Kind: NoticeStreamFailed, SessionID: s.id, Err: err})
		return err
	}

	s.consumed += len(chunk)
	s.stats.BytesSent += int64(len(chunk)) * 2
	s.stats.ResultsReceived++
	rate := s.cfg.SampleRate
	p := Partial{
		Offset:   samplesDuration(offset, rate),
		Duration: samplesDuration(len(chunk), rate),
		Received: time.Now(),
	}
	if res != nil {
		p.Text = res.Text
		p.Language = res.Language
		p.Confidence = res.Confidence
	}
	s.partials = append(s.partials, p)
	m.notify(Notice{Kind: NoticePartial, SessionID: s.id, Text: p.Text, Language: p.Language})
	return nil
}

// send delivers chunk, reconnecting with backoff when the transport drops.
func (m *StreamManager) send(s *stream, chunk []float32) (*Result, error) {
	ctx := m.ctx
	res, err := s.transport.Send(ctx, chunk, s.cfg.SampleRate, s.cfg.Options)
	if err == nil || !errors.Is(err, ErrStreamingDisconnected) {
		return res, err
	}
	slog.Warn("[STREAM] disconnected, reconnecting...", "session", s.id, "error", err)

	for attempt := 0; attempt < m.opts.MaxReconnects; attempt++ {
		delay := backoffDelay(attempt, m.opts.BaseBackoff, m.opts.MaxBackoff)
		slog.Info("[STREAM] reconnect backoff", "session", s.id, "attempt", attempt+1, "delay", delay)
		m.notify(Notice{Kind: NoticeReconnecting, SessionID: s.id, Attempt: attempt + 1})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}

		s.mu.Lock()
		s.stats.Reconnects++
		s.mu.Unlock()

		if err := s.transport.Reconnect(ctx); err != nil {
			slog.Warn("[STREAM] reconnect failed", "session", s.id, "error", err, "attempt", attempt+1)
			continue
		}
		slog.Info("[STREAM] reconnected", "session", s.id)
		m.notify(Notice{Kind: NoticeReconnected, SessionID: s.id, Attempt: attempt + 1})

		res, err = s.transport.Send(ctx, chunk, s.cfg.SampleRate, s.cfg.Options)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrStreamingDisconnected) {
			return nil, err
		}
		slog.Warn("[STREAM] resend failed", "session", s.id, "error", err)
	}
	return nil, fmt.Errorf("%w: session %s: gave up after %d reconnect attempts", ErrStreamingDisconnected, s.id, m.opts.MaxReconnects)
}

// backoffDelay returns the reconnection delay for attempt n: base doubled
// per attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

func samplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
