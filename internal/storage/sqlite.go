package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrMetricNotFound is returned by LoadMetric when no artifact exists for a metric
var ErrMetricNotFound = errors.New("metric not found")

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	// Initialize schema
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		entity_id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		broadcaster_type TEXT,
		description TEXT,
		language TEXT,
		last_game TEXT,
		view_count INTEGER DEFAULT 0,
		follower_count INTEGER,
		profile_image_url TEXT,
		created_at TIMESTAMP,
		follows TEXT
	);

	CREATE TABLE IF NOT EXISTS corpus_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metric_artifacts (
		metric TEXT PRIMARY KEY,
		corpus_version TEXT NOT NULL,
		computed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS metric_scores (
		metric TEXT NOT NULL,
		position INTEGER NOT NULL,
		entity_id TEXT NOT NULL,
		score REAL NOT NULL,
		PRIMARY KEY (metric, position),
		FOREIGN KEY (metric) REFERENCES metric_artifacts(metric)
	);

	CREATE TABLE IF NOT EXISTS crawl_runs (
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		iterations INTEGER DEFAULT 0,
		corpus_size INTEGER DEFAULT 0,
		termination_reason TEXT,
		PRIMARY KEY (run_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_position ON entities(position);
	CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
	CREATE INDEX IF NOT EXISTS idx_runs_start ON crawl_runs(start_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveCorpus overwrites the stored corpus with entities, keeping the first
// record of every identifier, and updates the corpus version.
// Returns the new corpus version.
func (s *Storage) SaveCorpus(entities []Entity) (string, error) {
	deduped := Dedup(entities)
	version := CorpusVersion(deduped)

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entities"); err != nil {
		return "", fmt.Errorf("failed to clear corpus: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO entities (
			entity_id, position, name, broadcaster_type, description, language,
			last_game, view_count, follower_count, profile_image_url, created_at, follows
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range deduped {
		follows, err := encodeFollows(e.Follows)
		if err != nil {
			return "", fmt.Errorf("failed to encode follows of %s: %w", e.ID, err)
		}

		var followerCount sql.NullInt64
		if e.FollowerCount != nil {
			followerCount = sql.NullInt64{Int64: *e.FollowerCount, Valid: true}
		}

		_, err = stmt.Exec(e.ID, i, e.Name, e.BroadcasterType, e.Description, e.Language,
			e.LastGame, e.ViewCount, followerCount, e.ProfileImageURL, e.CreatedAt, follows)
		if err != nil {
			return "", fmt.Errorf("failed to insert entity %s: %w", e.ID, err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO corpus_meta (key, value) VALUES ('version', ?)
		ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value
	`, version)
	if err != nil {
		return "", fmt.Errorf("failed to store corpus version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit corpus: %w", err)
	}

	return version, nil
}

// LoadCorpus returns the stored corpus in its saved order
func (s *Storage) LoadCorpus() ([]Entity, error) {
	rows, err := s.db.Query(`
		SELECT entity_id, name, broadcaster_type, description, language, last_game,
			view_count, follower_count, profile_image_url, created_at, follows
		FROM entities
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var (
			e             Entity
			followerCount sql.NullInt64
			follows       sql.NullString
		)
		err := rows.Scan(&e.ID, &e.Name, &e.BroadcasterType, &e.Description, &e.Language,
			&e.LastGame, &e.ViewCount, &followerCount, &e.ProfileImageURL, &e.CreatedAt, &follows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if followerCount.Valid {
			n := followerCount.Int64
			e.FollowerCount = &n
		}
		if e.Follows, err = decodeFollows(follows); err != nil {
			return nil, fmt.Errorf("failed to decode follows of %s: %w", e.ID, err)
		}
		entities = append(entities, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

// CorpusVersion returns the version of the stored corpus, or "" if none was saved
func (s *Storage) CorpusVersion() (string, error) {
	var version string
	err := s.db.QueryRow("SELECT value FROM corpus_meta WHERE key = 'version'").Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read corpus version: %w", err)
	}
	return version, nil
}

// SaveMetric replaces the artifact of one metric. Scores are stored in the given order.
func (s *Storage) SaveMetric(metric, corpusVersion string, scores []MetricScore) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM metric_scores WHERE metric = ?", metric); err != nil {
		return fmt.Errorf("failed to clear metric %s: %w", metric, err)
	}

	_, err = tx.Exec(`
		INSERT INTO metric_artifacts (metric, corpus_version, computed_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(metric) DO UPDATE SET
			corpus_version = EXCLUDED.corpus_version,
			computed_at = EXCLUDED.computed_at
	`, metric, corpusVersion)
	if err != nil {
		return fmt.Errorf("failed to upsert metric %s: %w", metric, err)
	}

	stmt, err := tx.Prepare("INSERT INTO metric_scores (metric, position, entity_id, score) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, sc := range scores {
		if _, err := stmt.Exec(metric, i, sc.EntityID, sc.Score); err != nil {
			return fmt.Errorf("failed to insert score for %s: %w", sc.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metric %s: %w", metric, err)
	}
	return nil
}

// LoadMetric returns the stored ranking of a metric and the corpus version it was computed from
func (s *Storage) LoadMetric(metric string) ([]MetricScore, string, error) {
	var version string
	err := s.db.QueryRow("SELECT corpus_version FROM metric_artifacts WHERE metric = ?", metric).Scan(&version)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("%s: %w", metric, ErrMetricNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load metric %s: %w", metric, err)
	}

	rows, err := s.db.Query(`
		SELECT entity_id, score
		FROM metric_scores
		WHERE metric = ?
		ORDER BY position ASC
	`, metric)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load scores of %s: %w", metric, err)
	}
	defer rows.Close()

	scores := make([]MetricScore, 0)
	for rows.Next() {
		var sc MetricScore
		if err := rows.Scan(&sc.EntityID, &sc.Score); err != nil {
			return nil, "", fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating scores: %w", err)
	}

	return scores, version, nil
}

// RecordRun stores the summary of a finished crawl or follow-up pass.
// A run is keyed by its identifier and kind; recording it again updates it.
func (s *Storage) RecordRun(run CrawlRun) error {
	_, err := s.db.Exec(`
		INSERT INTO crawl_runs (run_id, kind, start_time, end_time, iterations, corpus_size, termination_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, kind) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			iterations = EXCLUDED.iterations,
			corpus_size = EXCLUDED.corpus_size,
			termination_reason = EXCLUDED.termination_reason
	`, run.RunID, run.Kind, run.StartTime, run.EndTime, run.Iterations, run.CorpusSize, run.TerminationReason)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Runs returns all recorded runs, oldest first
func (s *Storage) Runs() ([]CrawlRun, error) {
	rows, err := s.db.Query(`
		SELECT run_id, kind, start_time, end_time, iterations, corpus_size, termination_reason
		FROM crawl_runs
		ORDER BY start_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}
	defer rows.Close()

	var runs []CrawlRun
	for rows.Next() {
		var r CrawlRun
		if err := rows.Scan(&r.RunID, &r.Kind, &r.StartTime, &r.EndTime, &r.Iterations, &r.CorpusSize, &r.TerminationReason); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Dedup returns entities with duplicate identifiers removed, keeping the first record
func Dedup(entities []Entity) []Entity {
	seen := make(map[string]bool, len(entities))
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

// CorpusVersion fingerprints a corpus by its identifiers and follow lists, in order
func CorpusVersion(entities []Entity) string {
	h := sha256.New()
	for _, e := range entities {
		h.Write([]byte(e.ID))
		h.Write([]byte{0})
		if e.Follows == nil {
			h.Write([]byte{1})
		}
		for _, f := range e.Follows {
			h.Write([]byte(f))
			h.Write([]byte{','})
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func encodeFollows(follows []string) (sql.NullString, error) {
	if follows == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(follows)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeFollows(raw sql.NullString) ([]string, error) {
	if !raw.Valid {
		return nil, nil
	}
	follows := make([]string, 0)
	if err := json.Unmarshal([]byte(raw.String), &follows); err != nil {
		return nil, err
	}
	return follows, nil
}
