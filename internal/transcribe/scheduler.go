package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job progress phases.
const (
	PhaseStarting   = "starting"
	PhaseProcessing = "processing audio"
	PhaseFinalizing = "finalizing"
	PhaseCompleted  = "completed"
)

// MaxRetainedJobs caps how many finished jobs stay queryable by id.
const MaxRetainedJobs = 100

// ProgressFunc reports job progress in [0,1] with a phase label.
type ProgressFunc func(progress float64, phase string)

// Work is the body of a queued job.
type Work func(ctx context.Context, report ProgressFunc) (*Result, error)

type schedJob struct {
	snap   Job
	work   Work
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs jobs FIFO on a fixed number of workers. Only jobs that are
// still queued can be cancelled, unless the scheduler is interruptible, in
// which case a running job's context is cancelled too.
type Scheduler struct {
	limit         int
	interruptible bool
	notify        func(Notice)

	mu       sync.Mutex
	queue    []*schedJob
	jobs     map[string]*schedJob
	finished []string
	active   int
	closed   bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler starts limit workers. notify may be nil.
func NewScheduler(limit int, interruptible bool, notify func(Notice)) *Scheduler {
	if limit <= 0 {
		limit = 1
	}
	if notify == nil {
		notify = func(Notice) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		limit:         limit,
		interruptible: interruptible,
		notify:        notify,
		jobs:          make(map[string]*schedJob),
		wake:          make(chan struct{}, limit),
		ctx:           ctx,
		cancel:        cancel,
	}
	for i := 0; i < limit; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit queues work and returns the new job id. meta supplies the
// descriptive fields of the job snapshot.
func (s *Scheduler) Submit(meta Job, work Work) (string, error) {
	j := &schedJob{snap: meta, work: work, done: make(chan struct{})}
	j.snap.ID = uuid.NewString()
	j.snap.Status = StatusQueued
	j.snap.Progress = 0
	j.snap.Created = time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.queue = append(s.queue, j)
	s.jobs[j.snap.ID] = j
	depth := len(s.queue)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	slog.Debug("[TRANSCRIBE] job queued", "job", j.snap.ID, "queue", depth)
	return j.snap.ID, nil
}

// Job returns a snapshot of the job.
func (s *Scheduler) Job(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.snap, nil
}

// Wait blocks until the job finishes or ctx ends. Leaving early does not
// cancel the job.
func (s *Scheduler) Wait(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return j.snap, nil
}

// Cancel cancels a queued job and reports true. A processing job is only
// cancelled when the scheduler is interruptible; otherwise it keeps running
// and Cancel reports false.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	switch j.snap.Status {
	case StatusQueued:
		s.removeQueued(j)
	case StatusProcessing:
		if !s.interruptible {
			s.mu.Unlock()
			return false
		}
		j.cancel()
	default:
		s.mu.Unlock()
		return false
	}
	s.finish(j, StatusCancelled, nil, context.Canceled)
	s.mu.Unlock()

	s.notify(Notice{Kind: NoticeCancelled, JobID: id, Err: context.Canceled})
	return true
}

// Clear cancels every queued job and returns how many were removed.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	for _, j := range queued {
		s.finish(j, StatusCancelled, nil, context.Canceled)
	}
	s.mu.Unlock()

	for _, j := range queued {
		s.notify(Notice{Kind: NoticeCancelled, JobID: j.snap.ID, Err: context.Canceled})
	}
	return len(queued)
}

// QueueLength returns the number of jobs waiting for a worker.
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Active returns the number of jobs currently processing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Limit returns the worker count.
func (s *Scheduler) Limit() int { return s.limit }

// Close cancels queued jobs and waits for running ones to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Clear()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		if j := s.next(); j != nil {
			s.run(j)
			continue
		}
		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}
	}
}

// next pops the head of the queue and marks it processing in the same
// critical section, so a job is either queued or owned by a worker.
func (s *Scheduler) next() *schedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 || s.ctx.Err() != nil {
		return nil
	}
	j := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]

	j.ctx, j.cancel = context.WithCancel(s.ctx)
	j.snap.Status = StatusProcessing
	j.snap.Started = time.Now()
	j.snap.Phase = PhaseStarting
	s.active++
	return j
}

func (s *Scheduler) run(j *schedJob) {
	id := j.snap.ID
	s.notify(Notice{Kind: NoticeProgress, JobID: id, Progress: 0, Phase: PhaseStarting})

	res, err := j.work(j.ctx, func(p float64, phase string) {
		s.report(j, p, phase)
	})
	j.cancel()

	s.mu.Lock()
	s.active--
	if j.snap.Status.Terminal() {
		// Cancelled while running.
		s.mu.Unlock()
		return
	}
	switch {
	case err != nil:
		if !errors.Is(err, ErrTranscriptionFailed) && !errors.Is(err, context.Canceled) && isInferenceError(err) {
			err = fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
		}
		s.finish(j, StatusFailed, nil, err)
	default:
		j.snap.Progress = 1
		j.snap.Phase = PhaseCompleted
		s.finish(j, StatusCompleted, res, nil)
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("[TRANSCRIBE] job failed", "job", id, "error", err)
		s.notify(Notice{Kind: NoticeFailed, JobID: id, Err: err})
		return
	}
	s.notify(Notice{Kind: NoticeProgress, JobID: id, Progress: 1, Phase: PhaseCompleted})
	notice := Notice{Kind: NoticeCompleted, JobID: id, Final: true}
	if res != nil {
		notice.Text = res.Text
		notice.Language = res.Language
	}
	s.notify(notice)
}

func (s *Scheduler) report(j *schedJob, p float64, phase string) {
	s.mu.Lock()
	if j.snap.Status != StatusProcessing || p < j.snap.Progress {
		s.mu.Unlock()
		return
	}
	j.snap.Progress = p
	j.snap.Phase = phase
	id := j.snap.ID
	s.mu.Unlock()
	s.notify(Notice{Kind: NoticeProgress, JobID: id, Progress: p, Phase: phase})
}

// finish moves j to a terminal status. Callers hold s.mu.
func (s *Scheduler) finish(j *schedJob, status Status, res *Result, err error) {
	if j.snap.Status.Terminal() {
		return
	}
	j.snap.Status = status
	j.snap.Result = res
	j.snap.Err = err
	j.snap.Finished = time.Now()
	close(j.done)

	s.finished = append(s.finished, j.snap.ID)
	for len(s.finished) > MaxRetainedJobs {
		delete(s.jobs, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// removeQueued drops j from the queue. Callers hold s.mu.
func (s *Scheduler) removeQueued(j *schedJob) {
	for i, q := range s.queue {
		if q == j {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// isInferenceError reports whether err came from the inference call itself
// rather than a precondition the caller can act on.
func isInferenceError(err error) bool {
	for _, sentinel := range []error{
		ErrModelNotLoaded, ErrAudioTooLarge, ErrUnsupportedFormat,
		ErrNotImplemented, ErrEngineUnavailable, ErrUnknownModel, ErrModelLoadFailed,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}
