package regionews

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "regionews.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	docs := []Document{localDoc(0, 1), wireCopy(0, 0), {ID: "bare", Title: "No extras", PublishedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}}
	require.NoError(t, s.UpsertDocuments(ctx, docs))

	loaded, err := s.LoadDocuments(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	// Oldest first.
	assert.Equal(t, "bare", loaded[0].ID)
	assert.Nil(t, loaded[0].Location)
	assert.Nil(t, loaded[0].Embedding)
	assert.Nil(t, loaded[0].Outcome)

	got := loaded[1]
	want := localDoc(0, 1)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.LocationName, got.LocationName)
	assert.Equal(t, want.Location, got.Location)
	assert.Equal(t, want.Embedding, got.Embedding)
	assert.InDelta(t, *want.Outcome, *got.Outcome, 1e-12)
	assert.True(t, want.PublishedAt.Equal(got.PublishedAt))

	recent, err := s.LoadDocuments(ctx, time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "wire-0-0", recent[0].ID)
}

func TestStoreUpsertKeepsEnrichment(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := localDoc(1, 2)
	require.NoError(t, s.UpsertDocuments(ctx, []Document{doc}))

	// Re-ingesting the raw article must not drop its embedding or outcome.
	raw := doc
	raw.Embedding = nil
	raw.Outcome = nil
	raw.Title = "Updated headline"
	require.NoError(t, s.UpsertDocuments(ctx, []Document{raw}))

	loaded, err := s.LoadDocuments(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Updated headline", loaded[0].Title)
	assert.Equal(t, doc.Embedding, loaded[0].Embedding)
	require.NotNil(t, loaded[0].Outcome)
}

func TestStoreUpsertRejectsMissingID(t *testing.T) {
	s := openTestStore(t)
	err := s.UpsertDocuments(context.Background(), []Document{{Title: "anonymous"}})
	assert.True(t, eris.Is(err, ErrInvalidInput))
}

func TestStoreUpdateEnrichment(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.UpsertDocuments(ctx, []Document{{ID: "a", Title: "A", PublishedAt: time.Now()}}))

	require.NoError(t, s.UpdateEnrichment(ctx, "a", []float64{0.1, 0.2}, nil))
	require.NoError(t, s.UpdateEnrichment(ctx, "a", nil, f64(-0.4)))

	loaded, err := s.LoadDocuments(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, loaded[0].Embedding)
	require.NotNil(t, loaded[0].Outcome)
	assert.Equal(t, -0.4, *loaded[0].Outcome)

	err = s.UpdateEnrichment(ctx, "missing", []float64{1}, nil)
	assert.True(t, eris.Is(err, ErrInvalidInput))
}

func TestStoreSaveRunAndPurge(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	analysis, err := Analyze(ctx, syntheticCorpus(), testOptions())
	require.NoError(t, err)

	runID, err := s.SaveRun(ctx, analysis)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	estimates, err := s.LoadEstimates(ctx, runID)
	require.NoError(t, err)
	require.Len(t, estimates, len(analysis.Regional.Estimates))
	for i, e := range estimates {
		want := analysis.Regional.Estimates[i]
		assert.Equal(t, want.LocationID, e.LocationID)
		assert.Equal(t, want.N, e.N)
		assert.Equal(t, want.Significant, e.Significant)
		assert.InDelta(t, want.Deviation, e.Deviation, 1e-12)
	}

	var assignments int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE run_id = ?`, runID).Scan(&assignments))
	assert.Equal(t, 50, assignments)

	var syndicated int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE run_id = ? AND verdict = 'duplicate'`, runID).Scan(&syndicated))
	assert.Equal(t, 6, syndicated)

	run, err := s.LoadRun(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, 50, run.Documents)
	assert.Equal(t, 6, run.Syndicated)
	assert.Equal(t, 4, run.Clusters)
	assert.True(t, analysis.CreatedAt.Equal(run.CreatedAt))

	byID, err := s.LoadRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, run, byID)

	_, err = s.LoadRun(ctx, "missing")
	assert.True(t, eris.Is(err, ErrInvalidInput))

	n, err := s.PurgeRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	estimates, err = s.LoadEstimates(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, estimates)

	_, err = s.LoadRun(ctx, "")
	assert.True(t, eris.Is(err, ErrInvalidInput), "no runs left")
}
