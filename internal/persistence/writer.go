package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/podium/internal/materials"
)

const defaultSaveTimeout = 10 * time.Second

var errMissingSaver = errors.New("document saver is required")

// ErrWriterClosed reports a snapshot submitted after Close.
var ErrWriterClosed = errors.New("document writer is closed")

// Saver writes a full document.
type Saver interface {
	Save(ctx context.Context, material materials.Material) error
}

// WriterConfig describes a Writer.
type WriterConfig struct {
	Saver Saver
	// OnSaved runs after every successful write, on the writer goroutine.
	OnSaved     func(documentID string)
	SaveTimeout time.Duration
	Logger      *zap.Logger
}

type documentQueue struct {
	next *materials.Material
	done chan struct{}
}

// Writer performs durable writes off the room goroutines. Writes for one
// document run one at a time; a snapshot submitted while a write is in
// flight replaces any snapshot still waiting, so at most one write per
// document is pending.
type Writer struct {
	saver       Saver
	onSaved     func(documentID string)
	saveTimeout time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	queues map[string]*documentQueue
	closed bool
}

// NewWriter constructs a Writer.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Saver == nil {
		return nil, errMissingSaver
	}
	timeout := cfg.SaveTimeout
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		saver:       cfg.Saver,
		onSaved:     cfg.OnSaved,
		saveTimeout: timeout,
		logger:      logger,
		queues:      make(map[string]*documentQueue),
	}, nil
}

// Submit queues snapshot for writing. The caller must not retain or mutate
// snapshot afterwards. Snapshots submitted after Close are dropped.
func (w *Writer) Submit(snapshot materials.Material) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Error("document write dropped",
			zap.String("operation", "persistence.submit"),
			zap.String("document_id", snapshot.ID),
			zap.Error(ErrWriterClosed),
		)
		return
	}
	if queue, active := w.queues[snapshot.ID]; active {
		queue.next = &snapshot
		w.mu.Unlock()
		return
	}
	queue := &documentQueue{done: make(chan struct{})}
	w.queues[snapshot.ID] = queue
	w.mu.Unlock()

	go w.drain(snapshot.ID, queue, snapshot)
}

// Await blocks until no write for documentID is running or queued.
func (w *Writer) Await(ctx context.Context, documentID string) error {
	w.mu.Lock()
	queue, active := w.queues[documentID]
	w.mu.Unlock()
	if !active {
		return nil
	}
	select {
	case <-queue.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted write has finished, including writes
// submitted while it waits.
func (w *Writer) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		pending := make([]chan struct{}, 0, len(w.queues))
		for _, queue := range w.queues {
			pending = append(pending, queue.done)
		}
		w.mu.Unlock()
		if len(pending) == 0 {
			return nil
		}
		for _, done := range pending {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close makes later submissions fail. Writes already queued still run;
// call Wait to drain them.
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *Writer) drain(documentID string, queue *documentQueue, snapshot materials.Material) {
	for {
		w.write(snapshot)

		w.mu.Lock()
		if queue.next == nil {
			delete(w.queues, documentID)
			close(queue.done)
			w.mu.Unlock()
			return
		}
		snapshot = *queue.next
		queue.next = nil
		w.mu.Unlock()
	}
}

func (w *Writer) write(snapshot materials.Material) {
	ctx, cancel := context.WithTimeout(context.Background(), w.saveTimeout)
	defer cancel()

	if err := w.saver.Save(ctx, snapshot); err != nil {
		w.logger.Error("document write failed",
			zap.String("operation", "persistence.write"),
			zap.String("document_id", snapshot.ID),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("document written",
		zap.String("document_id", snapshot.ID),
		zap.Int("slide_count", len(snapshot.Slides)),
	)
	if w.onSaved != nil {
		w.onSaved(snapshot.ID)
	}
}
