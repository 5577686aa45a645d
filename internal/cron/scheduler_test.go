package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozhuanzuojing/CountBot/internal/agent"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

// fakeExecutor records executions and can be scripted with a delay,
// a fixed result, or an error.
type fakeExecutor struct {
	mu         sync.Mutex
	executions []agent.Job
	delay      time.Duration
	result     string
	err        error

	concurrent    atomic.Int32
	maxConcurrent atomic.Int32
	done          chan string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{done: make(chan string, 16)}
}

func (f *fakeExecutor) ExecuteJob(ctx context.Context, job agent.Job) (string, error) {
	cur := f.concurrent.Add(1)
	for {
		max := f.maxConcurrent.Load()
		if cur <= max || f.maxConcurrent.CompareAndSwap(max, cur) {
			break
		}
	}
	defer f.concurrent.Add(-1)

	f.mu.Lock()
	f.executions = append(f.executions, job)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			f.done <- job.ID
			return "", ctx.Err()
		}
	}

	f.done <- job.ID
	return f.result, f.err
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executions)
}

type fakeSink struct {
	mu         sync.Mutex
	deliveries []string
}

func (f *fakeSink) Deliver(ctx context.Context, channel, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, fmt.Sprintf("%s/%s: %s", channel, chatID, text))
	return nil
}

func newTestScheduler(t *testing.T, executor Executor, sink DeliverySink, cfg Config) *Scheduler {
	t.Helper()
	s, err := NewScheduler(nil, executor, sink, logger.NewNop(), NewNopMetrics(), cfg)
	require.NoError(t, err)
	return s
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
}

// fireSoon backdates a job so the next wake dispatches it immediately.
func fireSoon(s *Scheduler, jobID string) {
	past := time.Now().Add(-time.Millisecond)
	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok {
		job.NextRun = &past
	}
	s.mu.Unlock()
	s.triggerReschedule()
}

func waitForExecution(t *testing.T, exec *fakeExecutor, want string) {
	t.Helper()
	select {
	case id := <-exec.done:
		assert.Equal(t, want, id)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for job execution")
	}
}

func TestScheduler_AddJobValidatesSchedule(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{})

	_, err := s.AddJob(agent.Job{Name: "bad", Schedule: "not a schedule", Message: "x", Enabled: true})
	assert.Error(t, err)

	job, err := s.AddJob(agent.Job{Name: "good", Schedule: "0 9 * * *", Message: "x", Enabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	require.NotNil(t, job.NextRun)
	assert.True(t, job.NextRun.After(time.Now()))
}

func TestScheduler_ExecutesDueJob(t *testing.T) {
	exec := newFakeExecutor()
	exec.result = "done"
	s := newTestScheduler(t, exec, nil, Config{})
	startScheduler(t, s)

	job, err := s.AddJob(agent.Job{Name: "tick", Schedule: "* * * * *", Message: "run it", Enabled: true})
	require.NoError(t, err)

	fireSoon(s, job.ID)
	waitForExecution(t, exec, job.ID)

	require.Eventually(t, func() bool {
		got, err := s.GetJob(job.ID)
		return err == nil && got.RunCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.JobStatusOK, got.LastStatus)
	assert.Empty(t, got.LastError)
	assert.NotNil(t, got.LastRun)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.After(time.Now()))
}

func TestScheduler_WakesForEarliestJob(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{IdleInterval: time.Hour})

	now := time.Now()
	near := now.Add(50 * time.Millisecond)
	far := now.Add(time.Hour)

	s.mu.Lock()
	s.jobs["near"] = &agent.Job{ID: "near", Enabled: true, NextRun: &near}
	s.jobs["far"] = &agent.Job{ID: "far", Enabled: true, NextRun: &far}
	s.jobs["off"] = &agent.Job{ID: "off", Enabled: false, NextRun: &now}
	s.mu.Unlock()

	wait := s.nextWait(now)
	assert.InDelta(t, 50*time.Millisecond, wait, float64(5*time.Millisecond))
}

func TestScheduler_IdleFallbackWithNoJobs(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{IdleInterval: 250 * time.Millisecond})
	assert.Equal(t, 250*time.Millisecond, s.nextWait(time.Now()))
}

func TestScheduler_PastDueClampsToZero(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{})

	past := time.Now().Add(-time.Minute)
	s.mu.Lock()
	s.jobs["late"] = &agent.Job{ID: "late", Enabled: true, NextRun: &past}
	s.mu.Unlock()

	assert.Equal(t, time.Duration(0), s.nextWait(time.Now()))
}

func TestScheduler_ActiveJobNotDispatchedTwice(t *testing.T) {
	exec := newFakeExecutor()
	exec.delay = 300 * time.Millisecond
	s := newTestScheduler(t, exec, nil, Config{})
	startScheduler(t, s)

	job, err := s.AddJob(agent.Job{Name: "slow", Schedule: "* * * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	fireSoon(s, job.ID)
	time.Sleep(50 * time.Millisecond)
	// Second due instant while the first execution is still in flight.
	fireSoon(s, job.ID)

	waitForExecution(t, exec, job.ID)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, exec.count())
}

func TestScheduler_RunJobNowConflictsWithActive(t *testing.T) {
	exec := newFakeExecutor()
	exec.delay = 300 * time.Millisecond
	s := newTestScheduler(t, exec, nil, Config{})
	startScheduler(t, s)

	job, err := s.AddJob(agent.Job{Name: "manual", Schedule: "0 9 * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, s.RunJobNow(job.ID))
	time.Sleep(50 * time.Millisecond)

	err = s.RunJobNow(job.ID)
	assert.ErrorIs(t, err, ErrJobActive)

	waitForExecution(t, exec, job.ID)
}

func TestScheduler_RunJobNowUnknownJob(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{})
	startScheduler(t, s)

	err := s.RunJobNow("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	exec := newFakeExecutor()
	exec.delay = 150 * time.Millisecond
	s := newTestScheduler(t, exec, nil, Config{MaxConcurrent: 1})
	startScheduler(t, s)

	a, err := s.AddJob(agent.Job{Name: "a", Schedule: "* * * * *", Message: "x", Enabled: true})
	require.NoError(t, err)
	b, err := s.AddJob(agent.Job{Name: "b", Schedule: "* * * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	fireSoon(s, a.ID)
	fireSoon(s, b.ID)

	for i := 0; i < 2; i++ {
		select {
		case <-exec.done:
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for job executions")
		}
	}

	assert.Equal(t, 2, exec.count())
	assert.Equal(t, int32(1), exec.maxConcurrent.Load())
}

func TestScheduler_FailureRecordedButJobStaysEnabled(t *testing.T) {
	exec := newFakeExecutor()
	exec.err = errors.New("gateway unavailable")
	s := newTestScheduler(t, exec, nil, Config{})
	startScheduler(t, s)

	job, err := s.AddJob(agent.Job{Name: "flaky", Schedule: "* * * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	fireSoon(s, job.ID)
	waitForExecution(t, exec, job.ID)

	require.Eventually(t, func() bool {
		got, err := s.GetJob(job.ID)
		return err == nil && got.RunCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.JobStatusError, got.LastStatus)
	assert.Equal(t, "gateway unavailable", got.LastError)
	assert.Equal(t, 1, got.ErrorCount)
	assert.True(t, got.Enabled)
}

func TestScheduler_UnparseableScheduleDisablesJob(t *testing.T) {
	exec := newFakeExecutor()
	s := newTestScheduler(t, exec, nil, Config{})
	startScheduler(t, s)

	job, err := s.AddJob(agent.Job{Name: "rot", Schedule: "* * * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	// Corrupt the schedule after registration, as a bad migration would.
	s.mu.Lock()
	s.jobs[job.ID].Schedule = "garbage"
	s.mu.Unlock()

	fireSoon(s, job.ID)
	waitForExecution(t, exec, job.ID)

	require.Eventually(t, func() bool {
		got, err := s.GetJob(job.ID)
		return err == nil && !got.Enabled
	}, 2*time.Second, 10*time.Millisecond)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRun)
}

func TestScheduler_JobTimeout(t *testing.T) {
	exec := newFakeExecutor()
	exec.delay = time.Second
	s := newTestScheduler(t, exec, nil, Config{JobTimeout: 50 * time.Millisecond})
	startScheduler(t, s)

	job, err := s.AddJob(agent.Job{Name: "hang", Schedule: "* * * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	fireSoon(s, job.ID)
	waitForExecution(t, exec, job.ID)

	require.Eventually(t, func() bool {
		got, err := s.GetJob(job.ID)
		return err == nil && got.RunCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.JobStatusError, got.LastStatus)
	assert.Contains(t, got.LastError, "timed out")
}

func TestScheduler_DeliversOutputToSink(t *testing.T) {
	exec := newFakeExecutor()
	exec.result = "report ready"
	sink := &fakeSink{}
	s := newTestScheduler(t, exec, sink, Config{})
	startScheduler(t, s)

	job, err := s.AddJob(agent.Job{
		Name: "report", Schedule: "* * * * *", Message: "x", Enabled: true,
		Channel: "telegram", ChatID: "42",
	})
	require.NoError(t, err)

	fireSoon(s, job.ID)
	waitForExecution(t, exec, job.ID)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.deliveries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	assert.Equal(t, "telegram/42: report ready", sink.deliveries[0])
	sink.mu.Unlock()
}

func TestScheduler_NoDeliveryWithoutChannel(t *testing.T) {
	exec := newFakeExecutor()
	exec.result = "quiet"
	sink := &fakeSink{}
	s := newTestScheduler(t, exec, sink, Config{})
	startScheduler(t, s)

	job, err := s.AddJob(agent.Job{Name: "silent", Schedule: "* * * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	fireSoon(s, job.ID)
	waitForExecution(t, exec, job.ID)
	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	assert.Empty(t, sink.deliveries)
	sink.mu.Unlock()
}

func TestScheduler_SetEnabled(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{})

	job, err := s.AddJob(agent.Job{Name: "toggle", Schedule: "0 9 * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	disabled, err := s.SetEnabled(job.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Nil(t, disabled.NextRun)

	enabled, err := s.SetEnabled(job.ID, true)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	require.NotNil(t, enabled.NextRun)
	assert.True(t, enabled.NextRun.After(time.Now()))

	_, err = s.SetEnabled("nope", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_UpdateSchedule(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{})

	job, err := s.AddJob(agent.Job{Name: "shift", Schedule: "0 9 * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	updated, err := s.UpdateSchedule(job.ID, "30 18 * * 5")
	require.NoError(t, err)
	assert.Equal(t, "30 18 * * 5", updated.Schedule)

	_, err = s.UpdateSchedule(job.ID, "bogus")
	assert.Error(t, err)
}

func TestScheduler_RemoveJob(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{})

	job, err := s.AddJob(agent.Job{Name: "gone", Schedule: "0 9 * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, s.RemoveJob(job.ID))
	_, err = s.GetJob(job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.RemoveJob(job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_ListJobs(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{})

	_, err := s.AddJob(agent.Job{Name: "one", Schedule: "0 9 * * *", Message: "x", Enabled: true})
	require.NoError(t, err)
	_, err = s.AddJob(agent.Job{Name: "two", Schedule: "0 10 * * *", Message: "y", Enabled: false})
	require.NoError(t, err)

	jobs := s.ListJobs()
	assert.Len(t, jobs, 2)
}

func TestScheduler_StartTwiceFails(t *testing.T) {
	s := newTestScheduler(t, newFakeExecutor(), nil, Config{})
	startScheduler(t, s)
	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_PanickingExecutorRecorded(t *testing.T) {
	s := newTestScheduler(t, panicExecutor{}, nil, Config{})
	startScheduler(t, s)

	job, err := s.AddJob(agent.Job{Name: "boom", Schedule: "* * * * *", Message: "x", Enabled: true})
	require.NoError(t, err)

	fireSoon(s, job.ID)

	require.Eventually(t, func() bool {
		got, err := s.GetJob(job.ID)
		return err == nil && got.RunCount == 1
	}, 3*time.Second, 10*time.Millisecond)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.JobStatusError, got.LastStatus)
	assert.Contains(t, got.LastError, "panic")
	assert.True(t, got.Enabled)
}

type panicExecutor struct{}

func (panicExecutor) ExecuteJob(ctx context.Context, job agent.Job) (string, error) {
	panic("executor blew up")
}
