// Package thumbnails debounces slide preview regeneration requests per
// document and forwards them to the external renderer.
package thumbnails

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/podium/internal/clock"
	"github.com/MarcoPoloResearchLab/podium/internal/persistence"
)

const defaultRequestTimeout = 10 * time.Second

var (
	errMissingRenderer = errors.New("renderer is required")
	errMissingClock    = errors.New("clock is required")
	errInvalidDelay    = errors.New("thumbnail delay must be positive")
)

// Renderer regenerates slide previews asynchronously. Results come back
// through the push-back endpoint.
type Renderer interface {
	RequestRegeneration(ctx context.Context, documentID string) error
}

// SchedulerConfig describes a Scheduler.
type SchedulerConfig struct {
	Renderer       Renderer
	Clock          clock.Clock
	Delay          time.Duration
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Scheduler keeps one debounce timer per document, independent of the
// persistence timer.
type Scheduler struct {
	renderer Renderer
	clock    clock.Clock
	delay    time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*persistence.Debouncer
}

// NewScheduler constructs a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Renderer == nil {
		return nil, errMissingRenderer
	}
	if cfg.Clock == nil {
		return nil, errMissingClock
	}
	if cfg.Delay <= 0 {
		return nil, errInvalidDelay
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		renderer: cfg.Renderer,
		clock:    cfg.Clock,
		delay:    cfg.Delay,
		timeout:  timeout,
		logger:   logger,
		pending:  make(map[string]*persistence.Debouncer),
	}, nil
}

// Schedule re-arms the regeneration timer of documentID.
func (s *Scheduler) Schedule(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	debouncer, ok := s.pending[documentID]
	if !ok {
		created, err := persistence.NewDebouncer(persistence.DebouncerConfig{
			Clock: s.clock,
			Delay: s.delay,
			Fire: func() {
				s.fire(documentID)
			},
		})
		if err != nil {
			s.logger.Error("thumbnail debouncer rejected",
				zap.String("document_id", documentID),
				zap.Error(err),
			)
			return
		}
		debouncer = created
		s.pending[documentID] = debouncer
	}
	debouncer.Trigger()
}

// Flush sends every pending request immediately.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	debouncers := make([]*persistence.Debouncer, 0, len(s.pending))
	for _, debouncer := range s.pending {
		debouncers = append(debouncers, debouncer)
	}
	s.mu.Unlock()

	for _, debouncer := range debouncers {
		debouncer.Flush()
	}
}

// Pending returns the number of documents waiting for a request.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) fire(documentID string) {
	s.mu.Lock()
	if debouncer, ok := s.pending[documentID]; ok && !debouncer.Pending() {
		delete(s.pending, documentID)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.renderer.RequestRegeneration(ctx, documentID); err != nil {
		s.logger.Warn("thumbnail regeneration request failed",
			zap.String("operation", "thumbnails.request"),
			zap.String("document_id", documentID),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("thumbnail regeneration requested", zap.String("document_id", documentID))
}
