package auditlog

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/toolgate/pkg/toolregistry"
)

const DefaultBuffer = 1024

var (
	// ErrBufferFull is returned when the queue cannot take another record.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrClosed is returned by Record after Close.
	ErrClosed = errors.New("audit log closed")
)

// Sink is anything that stores invocation records.
type Sink interface {
	Record(ctx context.Context, rec toolregistry.InvocationRecord) error
}

// AsyncConfig configures an Async fan-out.
type AsyncConfig struct {
	Buffer int
	// OnError receives sink failures; the registry never sees them.
	OnError func(rec toolregistry.InvocationRecord, err error)
	Logger  *zerolog.Logger
}

// Async queues records and delivers them to every sink from one worker
// goroutine. Record never blocks.
type Async struct {
	sinks   []Sink
	queue   chan toolregistry.InvocationRecord
	onError func(toolregistry.InvocationRecord, error)
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ toolregistry.ObservabilityLogger = (*Async)(nil)

// NewAsync starts the delivery worker.
func NewAsync(cfg AsyncConfig, sinks ...Sink) *Async {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	a := &Async{
		sinks:   sinks,
		queue:   make(chan toolregistry.InvocationRecord, cfg.Buffer),
		onError: cfg.OnError,
		logger:  logger.With().Str("component", "auditlog").Logger(),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Record enqueues rec. The context is not carried to the sinks.
func (a *Async) Record(_ context.Context, rec toolregistry.InvocationRecord) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- rec:
		return nil
	default:
		return ErrBufferFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for rec := range a.queue {
		for _, sink := range a.sinks {
			if err := sink.Record(context.Background(), rec); err != nil {
				a.logger.Warn().
					Err(err).
					Str("invocation_id", rec.InvocationID).
					Str("tool", rec.ToolName).
					Msg("Audit sink failed")
				if a.onError != nil {
					a.onError(rec, err)
				}
			}
		}
	}
}

// Pending is the number of queued records.
func (a *Async) Pending() int {
	return len(a.queue)
}

// Close stops accepting records and waits until the queue drains or ctx
// ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
