package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_NotifyBeforeWaitIsNotLost(t *testing.T) {
	m := NewMonitor()

	m.Notify()

	assert.NoError(t, m.Wait(context.Background()))
}

func TestMonitor_WaitReturnsAfterNotifyFromAnotherGoroutine(t *testing.T) {
	m := NewMonitor()
	done := make(chan error, 1)

	go func() {
		done <- m.Wait(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)
	m.Notify()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait was not released by Notify")
	}
}

func TestMonitor_NotifyIsIdempotent(t *testing.T) {
	m := NewMonitor()

	assert.NotPanics(t, func() {
		m.Notify()
		m.Notify()
	})
	assert.NoError(t, m.Wait(context.Background()))
}

func TestMonitor_WaitIsCancellable(t *testing.T) {
	m := NewMonitor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Wait(ctx), context.Canceled)
}

func TestMonitor_NotifiedWinsOverCancelledContext(t *testing.T) {
	m := NewMonitor()
	m.Notify()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, m.Wait(ctx))
}
