package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type blockingJob struct {
	name    string
	calls   atomic.Int32
	release chan struct{}
}

func (j *blockingJob) Name() string { return j.name }

func (j *blockingJob) Run(ctx context.Context) error {
	j.calls.Add(1)
	select {
	case <-j.release:
	case <-ctx.Done():
	}
	return nil
}

type failingJob struct{}

func (failingJob) Name() string { return "failing" }
func (failingJob) Run(context.Context) error { return errors.New("nope") }

func TestAddJobRejectsBadSpecAndDuplicates(t *testing.T) {
	s := NewCronScheduler()
	job := &blockingJob{name: "purge", release: make(chan struct{})}
	require.Error(t, s.AddJob(job, "not a spec"))
	require.NoError(t, s.AddJob(job, "*/5 * * * *"))
	require.Error(t, s.AddJob(job, "*/5 * * * *"))

	s.Start(context.Background())
	defer s.Stop()
	next, ok := s.Next("purge")
	require.True(t, ok)
	require.True(t, next.After(time.Now()))
	_, ok = s.Next("missing")
	require.False(t, ok)
}

func TestWrapSkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	s.ctx = context.Background()
	job := &blockingJob{name: "slow", release: make(chan struct{})}
	run := s.wrap(job, "* * * * *")

	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	require.Eventually(t, func() bool { return job.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	run()
	require.Equal(t, int32(1), job.calls.Load())

	close(job.release)
	<-done
	run()
	require.Equal(t, int32(2), job.calls.Load())
}

func TestRunOnceReturnsJobError(t *testing.T) {
	require.Error(t, RunOnce(context.Background(), failingJob{}))
}
