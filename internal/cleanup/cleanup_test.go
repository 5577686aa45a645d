package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

func TestRunner_RunsTasksImmediately(t *testing.T) {
	runner := NewRunner(time.Hour, logger.NewNop())

	var calls atomic.Int32
	runner.Add(TaskFunc{
		TaskName: "count",
		Fn: func(ctx context.Context) (int, error) {
			calls.Add(1)
			return 2, nil
		},
	})

	runner.Start(context.Background())
	defer runner.Stop()

	deadline := time.After(time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunner_FailingTaskDoesNotBlockOthers(t *testing.T) {
	runner := NewRunner(time.Hour, logger.NewNop())

	var ran atomic.Bool
	runner.Add(TaskFunc{
		TaskName: "broken",
		Fn: func(ctx context.Context) (int, error) {
			return 0, errors.New("disk error")
		},
	})
	runner.Add(TaskFunc{
		TaskName: "healthy",
		Fn: func(ctx context.Context) (int, error) {
			ran.Store(true)
			return 0, nil
		},
	})

	runner.Start(context.Background())
	defer runner.Stop()

	deadline := time.After(time.Second)
	for !ran.Load() {
		select {
		case <-deadline:
			t.Fatal("second task never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunner_StopWithoutStart(t *testing.T) {
	runner := NewRunner(time.Hour, logger.NewNop())
	runner.Stop()
}

func TestRunner_StopHaltsExecution(t *testing.T) {
	runner := NewRunner(time.Hour, logger.NewNop())
	runner.Add(TaskFunc{
		TaskName: "noop",
		Fn:       func(ctx context.Context) (int, error) { return 0, nil },
	})

	runner.Start(context.Background())
	runner.Stop()

	select {
	case <-runner.done:
	default:
		t.Error("done channel not closed after Stop")
	}
}
