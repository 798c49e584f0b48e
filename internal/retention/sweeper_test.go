package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"seoscope/internal/audit"
	"seoscope/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func finishJob(t *testing.T, store *memory.JobStore, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, audit.Job{
		ID:               id,
		Domain:           "example.com",
		OutputProjection: audit.ProjectionByPage,
		State:            audit.JobStatePending,
	}))
	_, ok, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Transition(ctx, id, audit.JobStateCompleted, &audit.ScoreReport{OverallScore: 100}, ""))
}

func TestSweepOncePrunesExpiredJobs(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewJobStore(clock)
	finishJob(t, store, "old")
	clock.Advance(48 * time.Hour)
	finishJob(t, store, "fresh")

	sweeper := New(store, clock, Config{Window: 24 * time.Hour}, zap.NewNop())
	n := sweeper.SweepOnce(context.Background())
	assert.Equal(t, 1, n)

	_, err := store.GetJob(context.Background(), "old")
	assert.ErrorIs(t, err, audit.ErrJobNotFound)
	_, err = store.GetJob(context.Background(), "fresh")
	assert.NoError(t, err)
}

type failingStore struct {
	audit.JobStore
}

func (failingStore) PruneCompletedBefore(context.Context, time.Time, bool) (int, error) {
	return 0, errors.New("connection refused")
}

func TestSweepOnceSwallowsStoreErrors(t *testing.T) {
	sweeper := New(failingStore{}, newFakeClock(), Config{}, zap.NewNop())
	assert.Equal(t, 0, sweeper.SweepOnce(context.Background()))
}

func TestStartStop(t *testing.T) {
	clock := newFakeClock()
	store := memory.NewJobStore(clock)
	sweeper := New(store, clock, Config{Interval: 5 * time.Millisecond, Window: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	sweeper.Stop()
}
