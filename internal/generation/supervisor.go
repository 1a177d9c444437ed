// Package generation runs cancellable AI generation tasks and guarantees each
// one reaches exactly one terminal state.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Tyrowin/chathub/internal/logger"
	"github.com/Tyrowin/chathub/internal/provider"
	"go.uber.org/zap"
)

// Outcome is the terminal state of a task.
type Outcome int

const (
	Completed Outcome = iota
	Stopped
	NoResponse
	Failed
)

const (
	StoppedMarker    = "[STOPPED]"
	NoResponseMarker = "[NO RESPONSE]"
	ErrorMarker      = "[ERROR]"
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case NoResponse:
		return "no_response"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrClosed    = errors.New("supervisor is shut down")
	ErrDuplicate = errors.New("task id already running")
	ErrNoAdapter = errors.New("generation is not configured")
)

// Info identifies a task to sinks.
type Info struct {
	ID      string
	Owner   string
	Channel string
}

// TaskSpec describes one invocation.
type TaskSpec struct {
	Info
	Prompt   string
	ImageURL string
	History  []provider.Message
}

// Sink receives task progress. Update carries the full text so far.
// Finalize is called exactly once per started task, with the text that
// should replace the placeholder.
type Sink interface {
	Update(task Info, text string)
	Finalize(task Info, outcome Outcome, text string)
}

// Observer is notified when tasks start and finish.
type Observer interface {
	TaskStarted()
	TaskFinished(outcome Outcome)
}

type task struct {
	Info
	cancel context.CancelFunc
}

// Supervisor owns every live task.
type Supervisor struct {
	adapter  provider.Adapter
	sink     Sink
	observer Observer

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithObserver reports task starts and terminal outcomes to o.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observer = o }
}

// NewSupervisor returns a supervisor that streams from adapter into sink.
func NewSupervisor(adapter provider.Adapter, sink Sink, opts ...Option) *Supervisor {
	s := &Supervisor{
		adapter: adapter,
		sink:    sink,
		tasks:   make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether a backend is configured.
func (s *Supervisor) Available() bool {
	return s.adapter != nil
}

// Model names the model the backend will use for a request.
func (s *Supervisor) Model(imageURL string) string {
	if s.adapter == nil {
		return ""
	}
	return provider.ModelFor(s.adapter, provider.Request{ImageURL: imageURL})
}

// Start launches a background task. The sink sees nothing if Start fails.
func (s *Supervisor) Start(spec TaskSpec) error {
	if s.adapter == nil {
		return ErrNoAdapter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tasks[spec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, spec.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{Info: spec.Info, cancel: cancel}
	s.tasks[spec.ID] = t
	s.wg.Add(1)
	if s.observer != nil {
		s.observer.TaskStarted()
	}
	go s.run(ctx, t, spec)
	return nil
}

func (s *Supervisor) run(ctx context.Context, t *task, spec TaskSpec) {
	var (
		text    strings.Builder
		done    bool
		failure error
	)
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Errorf("panic: %v", r)
		}
		t.cancel()
		s.mu.Lock()
		delete(s.tasks, t.ID)
		s.mu.Unlock()

		outcome, final := settle(ctx, done, failure, text.String())
		if outcome == Failed {
			logger.Error("generation_failed", zap.String("task", t.ID), zap.String("owner", t.Owner), zap.Error(failure))
		} else {
			logger.Debug("generation_finished", zap.String("task", t.ID), zap.String("outcome", outcome.String()))
		}
		s.sink.Finalize(t.Info, outcome, final)
		if s.observer != nil {
			s.observer.TaskFinished(outcome)
		}
	}()

	req := provider.Request{Prompt: spec.Prompt, ImageURL: spec.ImageURL, Messages: spec.History}
	for ev := range s.adapter.Stream(ctx, req) {
		switch ev.Type {
		case provider.EventTextDelta:
			if ev.Delta == "" {
				continue
			}
			text.WriteString(ev.Delta)
			if ctx.Err() == nil {
				s.sink.Update(t.Info, text.String())
			}
		case provider.EventWarning:
			logger.Warn("generation_warning", zap.String("task", t.ID), zap.String("detail", ev.Message))
		case provider.EventError:
			failure = ev.Err
			if failure == nil {
				failure = errors.New("provider error")
			}
		case provider.EventDone:
			done = true
		}
	}
}

// settle picks the terminal state. A cancellation that lands before the
// stream finished always wins over a late error.
func settle(ctx context.Context, done bool, failure error, text string) (Outcome, string) {
	switch {
	case !done && ctx.Err() != nil:
		return Stopped, StoppedMarker
	case failure != nil && provider.IsAbortedError(failure):
		return Stopped, StoppedMarker
	case failure != nil:
		return Failed, ErrorMarker
	case strings.TrimSpace(text) == "":
		return NoResponse, NoResponseMarker
	default:
		return Completed, text
	}
}

// Cancel stops one task. It is idempotent and reports whether the id was live.
func (s *Supervisor) Cancel(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// CancelOwner stops every task started by owner and returns how many.
func (s *Supervisor) CancelOwner(owner string) int {
	return s.cancelWhere(func(t *task) bool { return t.Owner == owner })
}

// CancelChannel stops every task streaming into the channel key.
func (s *Supervisor) CancelChannel(key string) int {
	return s.cancelWhere(func(t *task) bool { return t.Channel == key })
}

// CancelAll stops every live task.
func (s *Supervisor) CancelAll() int {
	return s.cancelWhere(func(*task) bool { return true })
}

func (s *Supervisor) cancelWhere(match func(*task) bool) int {
	s.mu.Lock()
	var hit []*task
	for _, t := range s.tasks {
		if match(t) {
			hit = append(hit, t)
		}
	}
	s.mu.Unlock()
	for _, t := range hit {
		t.cancel()
	}
	return len(hit)
}

// Active returns the number of live tasks.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown refuses new tasks, cancels the live ones and waits until each has
// been finalized or ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.CancelAll()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
