package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// backgroundWorker — фоновая горутина с отменой и ожиданием завершения.
type backgroundWorker struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// startWorker запускает run в отдельной горутине с собственным контекстом.
func startWorker(parent context.Context, name string, run func(ctx context.Context)) *backgroundWorker {
	ctx, cancel := context.WithCancel(parent)
	w := &backgroundWorker{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		run(ctx)
	}()
	return w
}

// stop отменяет воркер и ждёт его не дольше timeout.
func (w *backgroundWorker) stop(timeout time.Duration, logger *log.Entry) {
	if w == nil {
		return
	}
	w.cancel()

	select {
	case <-w.done:
		logger.WithField("worker", w.name).Info("worker stopped")
	case <-time.After(timeout):
		logger.WithField("worker", w.name).Warn("worker did not stop in time")
	}
}

func stopWorkers(workers []*backgroundWorker, timeout time.Duration, logger *log.Entry) {
	for i := len(workers) - 1; i >= 0; i-- {
		workers[i].stop(timeout, logger)
	}
}
