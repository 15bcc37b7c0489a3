package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsSubmittedTasks(t *testing.T) {
	q := NewQueue(8, 2)
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Submit(Task{Name: "inc", Run: func(ctx context.Context) error {
			n.Add(1)
			return nil
		}}))
	}
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, int32(5), n.Load())
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Submit(Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.NoError(t, q.Submit(Task{Name: "fills", Run: func(ctx context.Context) error { return nil }}))

	err := q.Submit(Task{Name: "dropped", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, q.Close(context.Background()))
	assert.ErrorIs(t, q.Submit(Task{Name: "late"}), ErrQueueClosed)
}

func TestQueue_SurvivesErrorsAndPanics(t *testing.T) {
	q := NewQueue(4, 1)
	var ran atomic.Bool
	require.NoError(t, q.Submit(Task{Name: "err", Run: func(ctx context.Context) error { return errors.New("db down") }}))
	require.NoError(t, q.Submit(Task{Name: "panic", Run: func(ctx context.Context) error { panic("boom") }}))
	require.NoError(t, q.Submit(Task{Name: "ok", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
	assert.True(t, ran.Load())
}
