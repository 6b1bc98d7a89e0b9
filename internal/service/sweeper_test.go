package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDeleter struct{ calls atomic.Int64 }

func (d *countingDeleter) DeleteExpired(context.Context, time.Time) (int64, error) {
	d.calls.Add(1)
	return 1, nil
}

func TestRunCounterSweeperStopsWithContext(t *testing.T) {
	d := &countingDeleter{}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := RunCounterSweeper(ctx, d, 5*time.Millisecond, ClockFunc(time.Now), quietLogger())
	require.NoError(t, err)
	assert.Greater(t, d.calls.Load(), int64(0))
}
