package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type checkerFunc func() error

func (f checkerFunc) CheckInvariants() error { return f() }

type verifierFunc func(context.Context) error

func (f verifierFunc) Verify(ctx context.Context) error { return f(ctx) }

func TestRunOnceJoinsFailures(t *testing.T) {
	engineErr := errors.New("drift")
	chainErr := errors.New("broken")
	job := New(checkerFunc(func() error { return engineErr }), verifierFunc(func(context.Context) error { return chainErr }), nil, nil)

	err := job.RunOnce(context.Background())
	require.ErrorIs(t, err, engineErr)
	require.ErrorIs(t, err, chainErr)

	at, last := job.Last()
	require.False(t, at.IsZero())
	require.Equal(t, err, last)
}

func TestRunOncePasses(t *testing.T) {
	job := New(checkerFunc(func() error { return nil }), nil, nil, nil)
	require.NoError(t, job.RunOnce(context.Background()))
}

func TestStartRunsOnSchedule(t *testing.T) {
	var runs atomic.Int32
	job := New(checkerFunc(func() error {
		runs.Add(1)
		return nil
	}), nil, nil, nil)

	require.Error(t, job.Start(context.Background(), "not a schedule"))
	require.NoError(t, job.Start(context.Background(), "@every 1s"))
	require.Error(t, job.Start(context.Background(), "@every 1s"))
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	job.Stop()
	job.Stop()
}
