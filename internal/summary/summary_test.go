package summary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "summary.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MigratesTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Second open finds no pending migrations.
	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow(`SELECT version FROM schema_migrations`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestStore_Runs(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartRun("train", "logs/ae", "solver: {}")
	require.NoError(t, err)
	assert.Len(t, id, 36)

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "train", runs[0].Mode)
	assert.False(t, runs[0].FinishedAt.Valid)

	require.NoError(t, s.FinishRun(id))
	runs, err = s.Runs()
	require.NoError(t, err)
	assert.True(t, runs[0].FinishedAt.Valid)

	assert.ErrorIs(t, s.FinishRun("missing"), ErrUnknownRun)
}

func TestStore_Scalars(t *testing.T) {
	s := openTestStore(t)
	id, err := s.StartRun("train", "logs", "")
	require.NoError(t, err)

	require.NoError(t, s.AddScalars(id, 2, map[string]float64{"train/loss": 0.5, "train/accu_4": 0.9}))
	require.NoError(t, s.AddScalars(id, 1, map[string]float64{"train/loss": 1.0}))
	// Overwrite.
	require.NoError(t, s.AddScalars(id, 2, map[string]float64{"train/loss": 0.4}))

	pts, err := s.Scalars(id, "train/loss")
	require.NoError(t, err)
	assert.Equal(t, []Point{{Epoch: 1, Value: 1.0}, {Epoch: 2, Value: 0.4}}, pts)

	tags, err := s.Tags(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"train/accu_4", "train/loss"}, tags)

	pts, err = s.Scalars(id, "absent")
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestPlotCurves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", CurveFile)

	err := PlotCurves(path, "loss", map[string][]Point{
		"train/loss": {{1, 1.0}, {2, 0.6}, {3, 0.4}},
		"test/loss":  {{1, 1.1}, {3, 0.5}},
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.ErrorIs(t, PlotCurves(path, "", nil), ErrNoSeries)
	assert.ErrorIs(t, PlotCurves(path, "", map[string][]Point{"a": nil}), ErrNoSeries)
}

func TestStore_PlotRun(t *testing.T) {
	s := openTestStore(t)
	id, err := s.StartRun("train", "logs", "")
	require.NoError(t, err)
	for epoch := 1; epoch <= 3; epoch++ {
		require.NoError(t, s.AddScalars(id, epoch, map[string]float64{
			"train/loss":   1 / float64(epoch),
			"train/accu_4": float64(epoch) / 3,
		}))
	}

	path := filepath.Join(t.TempDir(), CurveFile)
	onlyLoss := func(tag string) bool { return strings.HasSuffix(tag, "loss") }
	require.NoError(t, s.PlotRun(id, path, onlyLoss))
	assert.FileExists(t, path)

	assert.ErrorIs(t, s.PlotRun(id, path, func(string) bool { return false }), ErrNoSeries)
}
