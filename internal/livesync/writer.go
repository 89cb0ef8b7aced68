package livesync

import (
	"context"
	"log/slog"
	"time"

	"github.com/Akash16-Sharma/Conversa/internal/logging"
)

const writerBuffer = 32

type writeTask struct {
	name string
	fn   func(ctx context.Context) error
}

// writer runs a screen's fire-and-forget store and presence writes one at a
// time, in submission order, each bounded by its own timeout. Failures are
// logged and never reach the screen.
type writer struct {
	base    context.Context
	timeout time.Duration
	log     *slog.Logger
	tasks   chan writeTask
	done    chan struct{}
}

func newWriter(ctx context.Context, timeout time.Duration, log *slog.Logger) *writer {
	w := &writer{
		base:    context.WithoutCancel(ctx),
		timeout: timeout,
		log:     log,
		tasks:   make(chan writeTask, writerBuffer),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *writer) loop() {
	defer close(w.done)
	for task := range w.tasks {
		ctx, cancel := context.WithTimeout(w.base, w.timeout)
		if err := task.fn(ctx); err != nil {
			w.log.Warn("background write failed", slog.String("task", task.name), logging.Err(err))
		}
		cancel()
	}
}

// submit must only be called from the owning screen's goroutine.
func (w *writer) submit(name string, fn func(ctx context.Context) error) {
	select {
	case w.tasks <- writeTask{name: name, fn: fn}:
	default:
		w.log.Warn("background write dropped", slog.String("task", name))
	}
}

// close waits for every submitted write to finish.
func (w *writer) close() {
	close(w.tasks)
	<-w.done
}
