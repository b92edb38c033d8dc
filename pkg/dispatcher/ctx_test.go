package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFOOrder(t *testing.T) {
	d := NewDispatcherCtx(4, log.NewNopLogger())

	require.True(t, d.Enqueue(1))
	require.True(t, d.Enqueue(2))
	require.True(t, d.Enqueue(3))

	fd, ok := d.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 1, fd)

	fd, ok = d.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, fd)
}

func TestEnqueueBlocksWhenFullUntilDequeue(t *testing.T) {
	d := NewDispatcherCtx(1, log.NewNopLogger())
	require.True(t, d.Enqueue(10))

	done := make(chan struct{})
	go func() {
		d.Enqueue(20)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Enqueue returned before the FIFO had room")
	case <-time.After(50 * time.Millisecond):
	}

	fd, ok := d.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 10, fd)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue never unblocked after Dequeue freed capacity")
	}
}

func TestDequeueUnblocksOnShutdown(t *testing.T) {
	d := NewDispatcherCtx(4, log.NewNopLogger())

	var ok bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ok = d.Dequeue()
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Shutdown(context.Background()))
	wg.Wait()

	assert.False(t, ok)
	assert.True(t, d.Stopped())
}

func TestEnqueueFailsAfterShutdown(t *testing.T) {
	d := NewDispatcherCtx(4, log.NewNopLogger())
	require.NoError(t, d.Shutdown(context.Background()))
	assert.False(t, d.Enqueue(1))
}

func TestShutdownWaitsForInFlightWorkers(t *testing.T) {
	d := NewDispatcherCtx(4, log.NewNopLogger())
	d.WorkerStarted()

	released := make(chan struct{})
	go func() {
		<-released
		d.WorkerDone()
	}()

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- d.Shutdown(context.Background()) }()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before the in-flight worker finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(released)
	select {
	case err := <-shutdownDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Shutdown never returned after worker finished")
	}
}

func TestShutdownRespectsContextDeadline(t *testing.T) {
	d := NewDispatcherCtx(4, log.NewNopLogger())
	d.WorkerStarted() // never released

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
