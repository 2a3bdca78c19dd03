package rundb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStartAndFinishRun(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.StartRun("p1", "amd64")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, err := db.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, "prepare_log", rec.LastPhase)

	require.NoError(t, db.SetPhase(id, "lock_acquired"))
	require.NoError(t, db.Finish(id, StatusSuccess))

	rec, err = db.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, "lock_acquired", rec.LastPhase)
	assert.False(t, rec.EndTime.IsZero())
}

func TestGet_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Get("nonexistent")
	assert.True(t, IsRecordNotFound(err))
}

func TestRecent_FiltersAndOrders(t *testing.T) {
	db := setupTestDB(t)

	id1, err := db.StartRun("p1", "amd64")
	require.NoError(t, err)
	require.NoError(t, db.Finish(id1, StatusSuccess))

	id2, err := db.StartRun("p1", "amd64")
	require.NoError(t, err)
	require.NoError(t, db.Finish(id2, StatusFailed))

	_, err = db.StartRun("p2", "amd64")
	require.NoError(t, err)

	recs, err := db.Recent("p1", "amd64", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "p1", r.Project)
	}
}

func TestRecent_LimitsCount(t *testing.T) {
	db := setupTestDB(t)
	for i := 0; i < 5; i++ {
		_, err := db.StartRun("p1", "amd64")
		require.NoError(t, err)
	}

	recs, err := db.Recent("p1", "amd64", 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
