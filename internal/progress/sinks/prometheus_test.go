package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/zzpscan/presence-verifier/internal/progress"
)

func TestPrometheusSink_JobLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", BusinessID: "b1", TS: now, Stage: progress.StageItemDone, Dur: time.Second},
		{JobID: "job-1", BusinessID: "b2", TS: now, Stage: progress.StageItemFailed},
		{JobID: "job-1", TS: now, Stage: progress.StageJobDone, Dur: 5 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsFinished.WithLabelValues("completed")))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.itemsResolved.WithLabelValues(string(progress.StageItemDone))))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.itemsResolved.WithLabelValues(string(progress.StageItemFailed))))
}

func TestPrometheusSink_RunningGaugeTracksDistinctJobs(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart}, // duplicate start
		{JobID: "job-2", TS: now, Stage: progress.StageJobStart},
	}))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.jobsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-2", TS: now, Stage: progress.StageJobCancelled},
	}))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsFinished.WithLabelValues("cancelled")))
}
