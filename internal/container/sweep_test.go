package container

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	maxAge time.Duration
	calls  int
}

func (f *fakeSweeper) Sweep(maxAge time.Duration, _ time.Time) (int, error) {
	f.calls++
	f.maxAge = maxAge
	return 0, nil
}

type fakePruner struct {
	errs   []error
	calls  int
	before time.Time
}

func (f *fakePruner) PruneGenerations(_ context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return 0, err
	}
	return 2, nil
}

func TestSweepOnce(t *testing.T) {
	ws := &fakeSweeper{}
	repo := &fakePruner{}
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	cfg := SweepConfig{StaleAfter: 5 * time.Minute, RecordRetention: 24 * time.Hour, MaxRetries: 3, RetryBaseDelay: time.Millisecond}

	sweepOnce(context.Background(), ws, repo, cfg, now)

	assert.Equal(t, 1, ws.calls)
	assert.Equal(t, 5*time.Minute, ws.maxAge)
	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, now.Add(-24*time.Hour), repo.before)
}

func TestSweepOnceWithoutRepo(t *testing.T) {
	ws := &fakeSweeper{}
	sweepOnce(context.Background(), ws, nil, SweepConfig{StaleAfter: time.Minute}, time.Now())
	assert.Equal(t, 1, ws.calls)
}

func TestPruneWithRetryBusy(t *testing.T) {
	repo := &fakePruner{errs: []error{errors.New("SQLITE_BUSY"), errors.New("database is locked")}}

	deleted, err := pruneWithRetry(context.Background(), repo, time.Now(), 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 3, repo.calls)
}

func TestPruneWithRetryGivesUp(t *testing.T) {
	repo := &fakePruner{errs: []error{errors.New("SQLITE_BUSY"), errors.New("SQLITE_BUSY"), errors.New("SQLITE_BUSY")}}

	_, err := pruneWithRetry(context.Background(), repo, time.Now(), 3, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 3, repo.calls)
}

func TestPruneWithRetryNonRetryable(t *testing.T) {
	repo := &fakePruner{errs: []error{errors.New("no such table")}}

	_, err := pruneWithRetry(context.Background(), repo, time.Now(), 3, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 1, repo.calls)
}
