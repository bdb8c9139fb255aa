package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestStart_InvalidExpression(t *testing.T) {
	s := NewService(func(ctx context.Context) error { return nil }, arbor.NewLogger())

	assert.Error(t, s.Start("every day", false))
	assert.Error(t, s.Start("", false))
	assert.False(t, s.IsRunning())
}

func TestStart_RunOnStart(t *testing.T) {
	var runs atomic.Int32
	s := NewService(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, arbor.NewLogger())

	require.NoError(t, s.Start("0 3 * * *", true))
	assert.ErrorIs(t, s.Start("0 3 * * *", false), ErrAlreadyRunning)

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)

	status := s.GetStatus()
	assert.True(t, status.Running)
	assert.Equal(t, "0 3 * * *", status.Schedule)
	require.NotNil(t, status.NextRun)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestTriggerNow_RecordsError(t *testing.T) {
	s := NewService(func(ctx context.Context) error {
		return errors.New("ledger unavailable")
	}, arbor.NewLogger())

	assert.Error(t, s.TriggerNow(), "not running yet")

	require.NoError(t, s.Start("0 3 * * *", false))
	require.NoError(t, s.TriggerNow())

	assert.Eventually(t, func() bool { return s.GetStatus().Runs == 1 }, time.Second, 10*time.Millisecond)
	status := s.GetStatus()
	assert.Equal(t, "ledger unavailable", status.LastError)
	assert.NotNil(t, status.LastRun)

	require.NoError(t, s.Stop())
}

func TestStop_CancelsInFlightRun(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	s := NewService(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}, arbor.NewLogger())

	require.NoError(t, s.Start("0 3 * * *", true))
	<-started

	assert.Error(t, s.TriggerNow(), "overlapping runs are refused")

	require.NoError(t, s.Stop())
	assert.True(t, cancelled.Load())
	assert.NoError(t, s.Stop(), "stopping twice is a no-op")
}
