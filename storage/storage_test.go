package storage_test

import (
	"database/sql"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscilla-xyz/go-oscilla/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndFinishRun(t *testing.T) {
	store := openStore(t)
	id := uuid.NewString()

	require.NoError(t, store.CreateRun(id, `{"coupling":0.5}`))

	run, err := store.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "running", run.Status)
	assert.Nil(t, run.Finished)
	assert.Equal(t, `{"coupling":0.5}`, run.ConfigJSON)

	require.NoError(t, store.FinishRun(id, "success"))

	run, err = store.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "success", run.Status)
	require.NotNil(t, run.Finished)
	assert.False(t, run.Finished.Before(run.Started))
}

func TestGetRunMissing(t *testing.T) {
	store := openStore(t)

	_, err := store.GetRun("nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecordAndFetchSamples(t *testing.T) {
	store := openStore(t)
	id := uuid.NewString()
	require.NoError(t, store.CreateRun(id, ""))

	for i := 0; i < 5; i++ {
		stab := 0.3
		if i < 2 {
			stab = math.NaN() // warm-up, no analysis yet
		}
		require.NoError(t, store.RecordSample(&storage.Sample{
			RunID:      id,
			Tick:       i,
			T:          float64(i) * 0.1,
			SyncRatio:  0.5 + 0.1*float64(i),
			OrderParam: 0.6,
			Stability:  stab,
			Feedback:   1.0,
		}))
	}

	samples, err := store.GetSamples(id)
	require.NoError(t, err)
	require.Len(t, samples, 5)

	assert.Equal(t, 0, samples[0].Tick)
	assert.True(t, math.IsNaN(samples[0].Stability))
	assert.Equal(t, 0.3, samples[4].Stability)
	assert.InDelta(t, 0.9, samples[4].SyncRatio, 1e-12)
}

func TestDuplicateTickRejected(t *testing.T) {
	store := openStore(t)
	id := uuid.NewString()
	require.NoError(t, store.CreateRun(id, ""))

	sm := &storage.Sample{RunID: id, Tick: 7, T: 0.7, SyncRatio: 1, OrderParam: 1, Feedback: 1}
	require.NoError(t, store.RecordSample(sm))
	assert.Error(t, store.RecordSample(sm))
}

func TestRecordAndFetchAnalyses(t *testing.T) {
	store := openStore(t)
	id := uuid.NewString()
	require.NoError(t, store.CreateRun(id, ""))

	require.NoError(t, store.RecordAnalysis(id, 25, `{"stabilityIndex":0.4}`))
	require.NoError(t, store.RecordAnalysis(id, 50, `{"stabilityIndex":0.6}`))

	analyses, err := store.GetAnalyses(id)
	require.NoError(t, err)
	require.Len(t, analyses, 2)
	assert.Equal(t, 25, analyses[0].Tick)
	assert.Equal(t, 50, analyses[1].Tick)
	assert.JSONEq(t, `{"stabilityIndex":0.6}`, analyses[1].ReportJSON)
}

func TestRecentRunsOrder(t *testing.T) {
	store := openStore(t)

	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		require.NoError(t, store.CreateRun(id, ""))
	}

	runs, err := store.RecentRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestExportRunJSON(t *testing.T) {
	store := openStore(t)
	id := uuid.NewString()
	require.NoError(t, store.CreateRun(id, `{"dt":0.1}`))
	require.NoError(t, store.RecordSample(&storage.Sample{
		RunID: id, Tick: 0, T: 0, SyncRatio: 0.4, OrderParam: 0.5, Stability: 0.1, Feedback: 1,
	}))
	require.NoError(t, store.RecordAnalysis(id, 0, `{}`))
	require.NoError(t, store.FinishRun(id, "success"))

	data, err := store.ExportRunJSON(id)
	require.NoError(t, err)

	var export map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Contains(t, export, "run")
	assert.Contains(t, export, "samples")
	assert.Contains(t, export, "analyses")
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := storage.Open(path)
	require.NoError(t, err)
	defer store.Close()

	id := uuid.NewString()
	require.NoError(t, store.CreateRun(id, ""))

	run, err := store.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
}
