package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-guard/internal/model"
)

func run(id string, state model.RepairState, trigger string, startedAt time.Time) model.RunView {
	return model.RunView{
		RunID:       id,
		Trigger:     trigger,
		State:       state,
		Transitions: []model.RepairState{model.RepairInspecting, state},
		Attempts:    1,
		StartedAt:   startedAt,
	}
}

func TestJournalFileRecentNewestFirst(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs", "journal.jsonl")
	j, err := New(path)
	require.NoError(t, err)

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(run("r1", model.RepairSucceeded, "startup", base)))
	require.NoError(t, j.Record(run("r2", model.RepairFailed, "manual", base.Add(time.Minute))))
	require.NoError(t, j.Record(run("r3", model.RepairSucceeded, "manual", base.Add(2*time.Minute))))

	items, err := j.Recent(Query{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "r3", items[0].RunID)
	assert.Equal(t, "r1", items[2].RunID)

	items, err = j.Recent(Query{State: "failed"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "r2", items[0].RunID)

	items, err = j.Recent(Query{Trigger: "manual", Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "r3", items[0].RunID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestJournalSkipsGarbageLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := New(path)
	require.NoError(t, err)

	require.NoError(t, j.Record(run("ok", model.RepairSucceeded, "startup", time.Now())))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{truncated\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	items, err := j.Recent(Query{})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestJournalMemoryIsBounded(t *testing.T) {
	t.Parallel()

	j, err := New("")
	require.NoError(t, err)

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < MaxLimit+10; i++ {
		require.NoError(t, j.Record(run(fmt.Sprintf("r%d", i), model.RepairSucceeded, "startup", base.Add(time.Duration(i)*time.Second))))
	}

	items, err := j.Recent(Query{Limit: 1000})
	require.NoError(t, err)
	require.Len(t, items, MaxLimit)
	assert.Equal(t, fmt.Sprintf("r%d", MaxLimit+9), items[0].RunID)
}

func TestNilJournalRecordIsNoop(t *testing.T) {
	t.Parallel()

	var j *Journal
	require.NoError(t, j.Record(model.RunView{RunID: "x"}))
}
