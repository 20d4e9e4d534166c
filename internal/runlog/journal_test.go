package runlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

func report(id, interval string, state model.RunState) *model.RunReport {
	rep := model.NewRunReport(id, interval)
	rep.State = state
	return rep
}

func TestJournal_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "runs.json")
	j, err := Open(path, 0)
	require.NoError(t, err)
	assert.Empty(t, j.Recent(5))

	rep := report("r1", "2026-02-01", model.StateCompleted)
	rep.Drops.Add(model.DropInvalidPrice, 2)
	require.NoError(t, j.RunFinished(context.Background(), rep, nil))
	require.NoError(t, j.Append(report("r2", "2026-02-02", model.StatePartiallyFailed)))

	j2, err := Open(path, 0)
	require.NoError(t, err)
	recent := j2.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "r2", recent[0].RunID)
	assert.Equal(t, "partially_failed", recent[0].Outcome)
	assert.Equal(t, "completed_with_losses", recent[1].Outcome)
	assert.Equal(t, 2, recent[1].Drops[model.DropInvalidPrice])

	e, ok := j2.Last("2026-02-01")
	require.True(t, ok)
	assert.Equal(t, "r1", e.RunID)
	_, ok = j2.Last("2026-03-01")
	assert.False(t, ok)
}

func TestJournal_Bounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	j, err := Open(path, 2)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.Append(report(id, "2026-02-01", model.StateCompleted)))
	}
	recent := j.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].RunID)
	assert.Equal(t, "b", recent[1].RunID)
}

func TestLoadState_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := Open(path, 0)
	assert.Error(t, err)
}
