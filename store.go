package regionews

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Store persists documents, their enrichment and analysis runs in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite database at path and
// applies the schema.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, eris.Wrapf(err, "store: open %s", path)
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			zap.L().Warn("failed to close database", zap.Error(cerr))
		}
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	location_name TEXT NOT NULL DEFAULT '',
	latitude REAL,
	longitude REAL,
	published_at DATETIME NOT NULL,
	embedding_json TEXT,
	outcome REAL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_documents_published_at ON documents(published_at);
CREATE INDEX IF NOT EXISTS idx_documents_location ON documents(location_name);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL,
	n_documents INTEGER NOT NULL,
	n_syndicated INTEGER NOT NULL,
	n_clusters INTEGER NOT NULL,
	evaluation_json TEXT NOT NULL,
	national_json TEXT
);

CREATE TABLE IF NOT EXISTS assignments (
	run_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	label INTEGER NOT NULL,
	lambda REAL NOT NULL,
	verdict TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, document_id)
);

CREATE TABLE IF NOT EXISTS regional_estimates (
	run_id TEXT NOT NULL,
	location_id TEXT NOT NULL,
	n INTEGER NOT NULL,
	point_estimate REAL NOT NULL,
	sample_mean REAL NOT NULL,
	ci_lower REAL NOT NULL,
	ci_upper REAL NOT NULL,
	deviation REAL NOT NULL,
	effect_size REAL NOT NULL,
	effect_label TEXT NOT NULL,
	significant INTEGER NOT NULL,
	PRIMARY KEY (run_id, location_id)
);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return eris.Wrap(err, "store: migrate")
	}
	return nil
}

// UpsertDocuments inserts docs or refreshes their metadata. Existing
// embeddings and outcomes are kept when the incoming document has none.
func (s *Store) UpsertDocuments(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "store: begin upsert")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO documents (id, title, text, url, source, location_name, latitude, longitude, published_at, embedding_json, outcome)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		text = excluded.text,
		url = excluded.url,
		source = excluded.source,
		location_name = excluded.location_name,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		published_at = excluded.published_at,
		embedding_json = COALESCE(excluded.embedding_json, documents.embedding_json),
		outcome = COALESCE(excluded.outcome, documents.outcome)
	`)
	if err != nil {
		return eris.Wrap(err, "store: prepare upsert")
	}
	defer func() { _ = stmt.Close() }()

	for _, doc := range docs {
		if doc.ID == "" {
			return eris.Wrap(ErrInvalidInput, "store: document without id")
		}
		var lat, lon sql.NullFloat64
		if doc.HasLocation() {
			lat = sql.NullFloat64{Float64: doc.Location.Latitude, Valid: true}
			lon = sql.NullFloat64{Float64: doc.Location.Longitude, Valid: true}
		}
		embedding, err := embeddingJSON(doc.Embedding)
		if err != nil {
			return err
		}
		var outcome sql.NullFloat64
		if doc.Outcome != nil {
			outcome = sql.NullFloat64{Float64: *doc.Outcome, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Title, doc.Text, doc.URL, doc.Source, doc.LocationName,
			lat, lon, doc.PublishedAt.UTC(), embedding, outcome); err != nil {
			return eris.Wrapf(err, "store: upsert document %s", doc.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "store: commit upsert")
	}
	return nil
}

func embeddingJSON(embedding []float64) (sql.NullString, error) {
	if len(embedding) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "store: marshal embedding")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// LoadDocuments returns documents published at or after since, oldest first.
// A zero since loads everything.
func (s *Store) LoadDocuments(ctx context.Context, since time.Time) ([]Document, error) {
	query := `
	SELECT id, title, text, url, source, location_name, latitude, longitude, published_at, embedding_json, outcome
	FROM documents`
	var args []any
	if !since.IsZero() {
		query += ` WHERE published_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY published_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query documents")
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var (
			doc       Document
			lat, lon  sql.NullFloat64
			embedding sql.NullString
			outcome   sql.NullFloat64
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Text, &doc.URL, &doc.Source, &doc.LocationName,
			&lat, &lon, &doc.PublishedAt, &embedding, &outcome); err != nil {
			return nil, eris.Wrap(err, "store: scan document")
		}
		if lat.Valid && lon.Valid {
			doc.Location = &GeoPoint{Latitude: lat.Float64, Longitude: lon.Float64}
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &doc.Embedding); err != nil {
				return nil, eris.Wrapf(err, "store: unmarshal embedding for %s", doc.ID)
			}
		}
		if outcome.Valid {
			v := outcome.Float64
			doc.Outcome = &v
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate documents")
	}
	return docs, nil
}

// UpdateEnrichment stores the embedding and outcome of one document. Nil or
// empty values leave the stored ones untouched.
func (s *Store) UpdateEnrichment(ctx context.Context, id string, embedding []float64, outcome *float64) error {
	emb, err := embeddingJSON(embedding)
	if err != nil {
		return err
	}
	var out sql.NullFloat64
	if outcome != nil {
		out = sql.NullFloat64{Float64: *outcome, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE documents
	SET embedding_json = COALESCE(?, embedding_json), outcome = COALESCE(?, outcome)
	WHERE id = ?`, emb, out, id)
	if err != nil {
		return eris.Wrapf(err, "store: update enrichment for %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return eris.Wrapf(ErrInvalidInput, "store: unknown document %s", id)
	}
	return nil
}

// SaveRun persists an analysis and returns its run id.
func (s *Store) SaveRun(ctx context.Context, a *Analysis) (string, error) {
	runID := uuid.NewString()

	evaluation, err := json.Marshal(a.Evaluation)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal evaluation")
	}
	var national sql.NullString
	if a.National != nil {
		data, err := json.Marshal(a.National)
		if err != nil {
			return "", eris.Wrap(err, "store: marshal national baseline")
		}
		national = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "store: begin run")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO runs (id, created_at, n_documents, n_syndicated, n_clusters, evaluation_json, national_json)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, a.CreatedAt.UTC(), len(a.Documents), a.Scores.SyndicatedCount(), len(a.Assignment.Clusters),
		string(evaluation), national); err != nil {
		return "", eris.Wrap(err, "store: insert run")
	}

	verdicts := make(map[string]string, len(a.Scores.IDs))
	for i, id := range a.Scores.IDs {
		verdicts[id] = a.Scores.Verdicts[i]
	}
	for i, id := range a.Assignment.IDs {
		lambda := 0.0
		if i < len(a.Lambdas) {
			lambda = a.Lambdas[i]
		}
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO assignments (run_id, document_id, label, lambda, verdict) VALUES (?, ?, ?, ?, ?)`,
			runID, id, a.Assignment.Labels[i], lambda, verdicts[id]); err != nil {
			return "", eris.Wrapf(err, "store: insert assignment for %s", id)
		}
	}

	for _, e := range a.Regional.Estimates {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO regional_estimates (run_id, location_id, n, point_estimate, sample_mean, ci_lower, ci_upper,
			deviation, effect_size, effect_label, significant)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, e.LocationID, e.N, e.PointEstimate, e.SampleMean, e.CILower, e.CIUpper,
			e.Deviation, e.EffectSize, e.EffectLabel, e.Significant); err != nil {
			return "", eris.Wrapf(err, "store: insert estimate for %s", e.LocationID)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "store: commit run")
	}
	zap.L().Info("saved analysis run", zap.String("run_id", runID))
	return runID, nil
}

// RunRecord is the stored header of an analysis run.
type RunRecord struct {
	ID         string
	CreatedAt  time.Time
	Documents  int
	Syndicated int
	Clusters   int
}

// LoadRun returns the run with the given id, or the most recent run when id
// is empty.
func (s *Store) LoadRun(ctx context.Context, id string) (RunRecord, error) {
	query := `SELECT id, created_at, n_documents, n_syndicated, n_clusters FROM runs WHERE id = ?`
	args := []any{id}
	if id == "" {
		query = `SELECT id, created_at, n_documents, n_syndicated, n_clusters FROM runs ORDER BY created_at DESC LIMIT 1`
		args = nil
	}
	var r RunRecord
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&r.ID, &r.CreatedAt, &r.Documents, &r.Syndicated, &r.Clusters)
	if eris.Is(err, sql.ErrNoRows) {
		if id == "" {
			return RunRecord{}, eris.Wrap(ErrInvalidInput, "store: no stored runs")
		}
		return RunRecord{}, eris.Wrapf(ErrInvalidInput, "store: unknown run %s", id)
	}
	if err != nil {
		return RunRecord{}, eris.Wrap(err, "store: query run")
	}
	return r, nil
}

// LoadEstimates returns the regional estimates of a run, largest deviation
// first.
func (s *Store) LoadEstimates(ctx context.Context, runID string) ([]RegionalEstimate, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT location_id, n, point_estimate, sample_mean, ci_lower, ci_upper, deviation, effect_size, effect_label, significant
	FROM regional_estimates
	WHERE run_id = ?
	ORDER BY ABS(deviation) DESC, location_id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "store: query estimates")
	}
	defer func() { _ = rows.Close() }()

	estimates := []RegionalEstimate{}
	for rows.Next() {
		var e RegionalEstimate
		if err := rows.Scan(&e.LocationID, &e.N, &e.PointEstimate, &e.SampleMean, &e.CILower, &e.CIUpper,
			&e.Deviation, &e.EffectSize, &e.EffectLabel, &e.Significant); err != nil {
			return nil, eris.Wrap(err, "store: scan estimate")
		}
		estimates = append(estimates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate estimates")
	}
	return estimates, nil
}

// PurgeRuns deletes every stored run with its assignments and estimates and
// returns the number of runs removed.
func (s *Store) PurgeRuns(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "store: begin purge")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, eris.Wrap(err, "store: delete runs")
	}
	for _, table := range []string{"assignments", "regional_estimates"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return 0, eris.Wrapf(err, "store: delete %s", table)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "store: commit purge")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
