package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Co-Epi/coepi-core/store"
)

// LogSink receives log lines destined for the host application.
type LogSink interface {
	Log(level slog.Level, message string)
}

// AlertSink receives newly created alerts.
type AlertSink interface {
	Alert(alert store.Alert)
}

// sinkQueueDepth bounds how many undelivered events a sink can accumulate
// before the oldest is dropped.
const sinkQueueDepth = 256

// dispatcher fans events out to registered sinks without ever blocking the
// producer: each sink gets a bounded queue drained by its own goroutine, and
// a full queue drops the oldest event.
type dispatcher[T any] struct {
	mu     sync.Mutex
	queues []chan T
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func newDispatcher[T any]() *dispatcher[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &dispatcher[T]{ctx: ctx, cancel: cancel}
}

// register attaches a consumer. deliver is called once per event, in order,
// from a dedicated goroutine.
func (d *dispatcher[T]) register(deliver func(T)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	queue := make(chan T, sinkQueueDepth)
	d.queues = append(d.queues, queue)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.ctx.Done():
				return
			case event := <-queue:
				deliver(event)
			}
		}
	}()
}

// publish enqueues the event for every sink, evicting each queue's oldest
// entry when full.
func (d *dispatcher[T]) publish(event T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, queue := range d.queues {
		for {
			select {
			case queue <- event:
			default:
				select {
				case <-queue: // drop oldest, retry
					continue
				default:
				}
			}
			break
		}
	}
}

// close stops the consumer goroutines. Queued events may be discarded.
func (d *dispatcher[T]) close() {
	d.cancel()
	d.wg.Wait()
}

// sinkLogHandler is a slog.Handler that forwards formatted records to the
// core's log dispatcher alongside the primary handler.
type sinkLogHandler struct {
	slog.Handler
	logs *dispatcher[sinkLogEntry]
}

type sinkLogEntry struct {
	level   slog.Level
	message string
}

func (h *sinkLogHandler) Handle(ctx context.Context, record slog.Record) error {
	h.logs.publish(sinkLogEntry{level: record.Level, message: record.Message})
	return h.Handler.Handle(ctx, record)
}

func (h *sinkLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sinkLogHandler{Handler: h.Handler.WithAttrs(attrs), logs: h.logs}
}

func (h *sinkLogHandler) WithGroup(name string) slog.Handler {
	return &sinkLogHandler{Handler: h.Handler.WithGroup(name), logs: h.logs}
}
