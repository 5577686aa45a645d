package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore_TryAcquireRelease(t *testing.T) {
	sem := NewSemaphore(2)
	assert.Equal(t, 2, sem.Cap())
	assert.Equal(t, 2, sem.Available())

	assert.True(t, sem.TryAcquire())
	assert.True(t, sem.TryAcquire())
	assert.False(t, sem.TryAcquire())
	assert.Equal(t, 0, sem.Available())

	sem.Release()
	assert.Equal(t, 1, sem.Available())
	assert.True(t, sem.TryAcquire())
}

func TestSemaphore_AcquireBlocksUntilRelease(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	acquired := make(chan struct{})
	go func() {
		if err := sem.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire succeeded while semaphore was full")
	case <-time.After(50 * time.Millisecond):
	}

	sem.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not proceed after release")
	}
}

func TestSemaphore_AcquireHonorsContext(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sem.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSemaphore_ZeroCapacityDefaultsToOne(t *testing.T) {
	sem := NewSemaphore(0)
	assert.Equal(t, 1, sem.Cap())
}
