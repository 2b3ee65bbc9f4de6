package transcribe

import (
	"time"
)

// SampleRate is the rate every backend transcribes at. Input at other rates
// is resampled first.
const SampleRate = 16000

// DefaultVADThreshold is the RMS below which a whole call is treated as silence.
const DefaultVADThreshold = 0.02

// Options are per-call inference parameters. They never change engine state.
type Options struct {
	Language    string // "" or "auto" detects
	Prompt      string
	Timestamps  bool
	Confidence  bool
	Diarize     bool
	MaxSpeakers int
	Punctuation bool
	Temperature float32
	BeamSize    int
	UseGPU      bool

	// VAD skips inference entirely when the input RMS is at or below
	// VADThreshold.
	VAD          bool
	VADThreshold float32
}

// DefaultOptions returns the options used when a caller has no preference.
func DefaultOptions() Options {
	return Options{
		Language:     "auto",
		Timestamps:   true,
		Confidence:   true,
		MaxSpeakers:  10,
		Punctuation:  true,
		BeamSize:     1,
		UseGPU:       true,
		VAD:          true,
		VADThreshold: DefaultVADThreshold,
	}
}

func (o Options) language() string {
	if o.Language == "" {
		return "auto"
	}
	return o.Language
}

// Word is a single recognized word with its timing.
type Word struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float32
}

// Segment is a contiguous span of recognized speech.
type Segment struct {
	Start      time.Duration
	End        time.Duration
	Text       string
	Confidence float32
	Words      []Word
	Speaker    int // -1 when diarization was not requested
}

// Result is a finished transcription.
type Result struct {
	Text           string
	Language       string
	Duration       time.Duration
	Confidence     float32
	Segments       []Segment
	Speakers       int
	ProcessingTime time.Duration
	Backend        string
	Model          string
}

// Status is a job's lifecycle state. Transitions only move forward.
type Status int

const (
	StatusQueued Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

// Job is a snapshot of a queued transcription.
type Job struct {
	ID       string
	File     string // set for file jobs
	Frames   int    // set for sample jobs
	Options  Options
	Status   Status
	Progress float64
	Phase    string
	Result   *Result
	Err      error

	Created  time.Time
	Started  time.Time
	Finished time.Time
}

// Elapsed returns time spent processing so far, or in total once finished.
func (j Job) Elapsed() time.Duration {
	switch {
	case j.Started.IsZero():
		return 0
	case j.Finished.IsZero():
		return time.Since(j.Started)
	default:
		return j.Finished.Sub(j.Started)
	}
}

// Remaining estimates time left from progress: elapsed*(1-p)/p.
func (j Job) Remaining() time.Duration {
	if j.Status.Terminal() || j.Progress <= 0 {
		return 0
	}
	elapsed := j.Elapsed()
	return time.Duration(float64(elapsed) * (1 - j.Progress) / j.Progress)
}

// StreamConfig configures one streaming session.
type StreamConfig struct {
	SampleRate int // of the chunks passed to AddAudioChunk; 0 means 16 kHz
	Options    Options
}

// Partial is one interim result of a streaming session.
type Partial struct {
	Text       string
	Language   string
	Confidence float32
	Offset     time.Duration // session audio time where the chunk began
	Duration   time.Duration
	Final      bool
	Received   time.Time
}

// StreamStats counts streaming session activity.
type StreamStats struct {
	BytesSent       int64
	ResultsReceived int
	Errors          int
	Reconnects      int
}

// StreamSession is a snapshot of a streaming session.
type StreamSession struct {
	ID       string
	Config   StreamConfig
	Partials []Partial
	Stats    StreamStats
	Buffered int // samples awaiting the next flush
	Ended    bool
	Err      error
}

// PerformanceStats aggregates backend throughput.
type PerformanceStats struct {
	Backend              string
	Model                string
	TotalTranscriptions  int
	FailedTranscriptions int
	TotalAudio           time.Duration
	TotalProcessing      time.Duration
	AverageProcessing    time.Duration
	RealTimeFactor       float64 // processing time / audio duration
	QueueLength          int
	ActiveJobs           int
	ActiveStreams        int
	Threads              int
	CPUFeatures          []string
	GPU                  string
}
