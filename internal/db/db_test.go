package db

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRun() *Run {
	return &Run{
		CreatedAt:  time.Unix(1700000000, 0),
		Checkpoint: "ckpt/airplane.json",
		ModelKind:  "flow",
		LatentDim:  256,
		Categories: []string{"airplane", "chair"},
		Mode:       "shape_bbox",
		BatchSize:  128,
		NumPoints:  1024,
		Rounds:     5,
		Seed:       9,
		Device:     "cuda",
		SaveDir:    "results/GEN_Ours_airplane_chair_1700000000",
	}
}

func TestMigrateUp(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	migrationsFS, err := MigrationsFS()
	require.NoError(t, err)

	version, dirty, err := db.MigrateVersion(migrationsFS)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp(migrationsFS))
	require.NoError(t, db.MigrateUp(migrationsFS), "second up is a no-op")

	version, dirty, err = db.MigrateVersion(migrationsFS)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown(migrationsFS))
	version, _, err = db.MigrateVersion(migrationsFS)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestMigrateUp_NilFS(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()
	assert.Error(t, db.MigrateUp(nil))
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)

	r := sampleRun()
	require.NoError(t, db.StartRun(r))
	require.NotEmpty(t, r.RunID)

	got, err := db.GetRun(r.RunID)
	require.NoError(t, err)
	want := *r
	want.CreatedAt = time.Unix(0, r.CreatedAt.UnixNano())
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("GetRun mismatch (-want +got):\n%s", diff)
	}

	done := time.Unix(1700000060, 0)
	require.NoError(t, db.CompleteRun(r.RunID, 640, "results/x/inferencia.npy", done))

	got, err = db.GetRun(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Equal(t, 640, got.Clouds)
	assert.Equal(t, "results/x/inferencia.npy", got.OutputPath)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(done))

	// A finished run cannot be finished again.
	err = db.FailRun(r.RunID, errors.New("late"), done)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestFailRun(t *testing.T) {
	db := newTestDB(t)
	r := sampleRun()
	require.NoError(t, db.StartRun(r))

	require.NoError(t, db.FailRun(r.RunID, errors.New("decode round 2: unavailable"), time.Unix(1700000010, 0)))
	got, err := db.GetRun(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, "decode round 2: unavailable", got.Error)
	assert.Zero(t, got.Clouds)
}

func TestGetRun_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 3; i++ {
		r := sampleRun()
		r.CreatedAt = time.Unix(1700000000+int64(i), 0)
		r.Seed = uint64(i)
		require.NoError(t, db.StartRun(r))
	}

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, uint64(2), runs[0].Seed)
	assert.Equal(t, uint64(0), runs[2].Seed)

	runs, err = db.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestStartRun_LargeSeedRoundTrips(t *testing.T) {
	db := newTestDB(t)
	r := sampleRun()
	r.Seed = ^uint64(0)
	require.NoError(t, db.StartRun(r))
	got, err := db.GetRun(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, r.Seed, got.Seed)
}

func TestAttachDebugHandlers(t *testing.T) {
	db := newTestDB(t)
	r := sampleRun()
	require.NoError(t, db.StartRun(r))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachDebugHandlers(mux))

	for _, path := range []string{"/debug/runs", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:12345"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		// Registered routes answer 200 or 403 depending on debug access.
		assert.NotEqual(t, http.StatusNotFound, rec.Code, path)
		if path == "/debug/runs" && rec.Code == http.StatusOK {
			assert.Contains(t, rec.Body.String(), r.RunID)
		}
	}
}
