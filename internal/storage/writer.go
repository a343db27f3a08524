package storage

import (
	"context"
	"time"

	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/model"
)

const saveTimeout = 5 * time.Second

// Hooks are optional callbacks used for metrics.
type Hooks struct {
	OnDrop  func()
	OnError func()
}

// Writer drains accepted messages into an Archive from a single goroutine,
// so mutations of one message are saved in the order they were enqueued.
// Enqueue never blocks: a full queue drops the write.
type Writer struct {
	archive Archive
	queue   chan model.Message
	hooks   Hooks

	done chan struct{}
}

func NewWriter(archive Archive, size int, hooks Hooks) *Writer {
	if size <= 0 {
		size = 1024
	}
	return &Writer{
		archive: archive,
		queue:   make(chan model.Message, size),
		hooks:   hooks,
		done:    make(chan struct{}),
	}
}

// Enqueue schedules msg for saving. It reports false when the queue is full.
func (w *Writer) Enqueue(msg model.Message) bool {
	select {
	case w.queue <- msg:
		return true
	default:
		logger.Warnf("archive queue full, dropping message id=%s room=%s", msg.ID, msg.Room)
		if w.hooks.OnDrop != nil {
			w.hooks.OnDrop()
		}
		return false
	}
}

// Run saves queued messages until ctx is cancelled, then flushes what is
// already queued and returns.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case msg := <-w.queue:
			w.save(msg)
		}
	}
}

func (w *Writer) flush() {
	for {
		select {
		case msg := <-w.queue:
			w.save(msg)
		default:
			return
		}
	}
}

func (w *Writer) save(msg model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := w.archive.SaveMessage(ctx, msg); err != nil {
		logger.Errorf("archive save message id=%s room=%s: %v", msg.ID, msg.Room, err)
		if w.hooks.OnError != nil {
			w.hooks.OnError()
		}
	}
}

// Wait blocks until Run has returned.
func (w *Writer) Wait() {
	<-w.done
}

// Pending is the number of queued, unsaved messages.
func (w *Writer) Pending() int {
	return len(w.queue)
}
