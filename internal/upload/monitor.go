package upload

import (
	"context"
	"sync"
)

// Monitor is a one-shot gate between the goroutine receiving chunks and the one running the task.
// Notify may run before Wait; the signal is kept.
type Monitor struct {
	done chan struct{}
	once sync.Once
}

func NewMonitor() *Monitor {
	return &Monitor{done: make(chan struct{})}
}

func (m *Monitor) Notify() {
	m.once.Do(func() {
		close(m.done)
	})
}

// Wait blocks until Notify or until ctx is done, in which case it returns ctx.Err().
func (m *Monitor) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	default:
	}

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
