package jobs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/restoreassist/pkg/observability"
)

type fakeInvitations struct {
	removed int64
	err     error
}

func (f *fakeInvitations) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	return f.removed, f.err
}

type fakeUsage struct {
	olderThan time.Duration
}

func (f *fakeUsage) CleanupUsageLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 12, nil
}

type fakePruner struct {
	mu     sync.Mutex
	prefix string
	cutoff time.Time
}

func (f *fakePruner) DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefix = prefix
	f.cutoff = cutoff
	return 4, nil
}

type fakeTrimmer struct {
	maxBytes int64
}

func (f *fakeTrimmer) Trim(ctx context.Context, maxBytes int64) (int64, error) {
	f.maxBytes = maxBytes
	return 2, nil
}

func TestRunner_RunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	usage := &fakeUsage{}
	pruner := &fakePruner{}
	trimmer := &fakeTrimmer{}
	metrics := observability.NewMetrics(observability.NewRegistry())

	runner := NewRunner(observability.NewNopLogger(), metrics,
		InvitationCleanup(&fakeInvitations{removed: 3}),
		UsageLogCleanup(usage, 90*24*time.Hour),
		DownloadCacheCleanup(pruner, "download-cache/", time.Hour, func() time.Time { return now }),
		DownloadCacheBudget(trimmer, 1<<30),
	)

	require.NoError(t, runner.RunOnce(context.Background()))

	assert.Equal(t, 90*24*time.Hour, usage.olderThan)
	assert.Equal(t, "download-cache/", pruner.prefix)
	assert.Equal(t, now.Add(-time.Hour), pruner.cutoff)
	assert.Equal(t, int64(1<<30), trimmer.maxBytes)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.CleanupRemovedTotal.WithLabelValues(JobInvitations)))
	assert.Equal(t, 12.0, testutil.ToFloat64(metrics.CleanupRemovedTotal.WithLabelValues(JobUsageLogs)))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.CleanupRemovedTotal.WithLabelValues(JobDownloadCache)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CleanupRemovedTotal.WithLabelValues(JobCacheBudget)))
}

func TestRunner_FailureDoesNotStopOtherJobs(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)
	usage := &fakeUsage{}

	runner := NewRunner(logger, nil,
		InvitationCleanup(&fakeInvitations{err: errors.New("connection refused")}),
		UsageLogCleanup(usage, time.Hour),
	)

	err := runner.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobInvitations)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, time.Hour, usage.olderThan)
	assert.Contains(t, buf.String(), "housekeeping job failed")
}

func TestRunner_Jobs(t *testing.T) {
	runner := NewRunner(nil, nil, InvitationCleanup(&fakeInvitations{}), UsageLogCleanup(&fakeUsage{}, time.Hour))
	assert.Equal(t, []string{JobInvitations, JobUsageLogs}, runner.Jobs())
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler(NewRunner(nil, nil), "every tuesday")
	assert.Error(t, err)
}

func TestScheduler_RunsJobs(t *testing.T) {
	var runs atomic.Int32
	runner := NewRunner(nil, nil, Job{
		Name: "count",
		Run: func(ctx context.Context) (int64, error) {
			runs.Add(1)
			return 1, nil
		},
	})

	s, err := NewScheduler(runner, "@every 1s")
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
