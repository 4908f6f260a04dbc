package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"contentguard/internal/domain"
)

const DefaultListLimit = 20

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id                 TEXT PRIMARY KEY,
		text               TEXT NOT NULL,
		local_label        TEXT NOT NULL,
		local_confidence   REAL NOT NULL,
		remote_label       TEXT,
		remote_confidence  REAL,
		verdict_label      TEXT NOT NULL,
		verdict_confidence REAL NOT NULL,
		duration_ms        INTEGER NOT NULL DEFAULT 0,
		created_at         DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
	CREATE INDEX IF NOT EXISTS idx_analyses_verdict ON analyses(verdict_label);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	// Migration: add remote_provider column if missing.
	var colCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('analyses') WHERE name = 'remote_provider'`).Scan(&colCount)
	if colCount == 0 {
		_, _ = db.Exec(`ALTER TABLE analyses ADD COLUMN remote_provider TEXT DEFAULT ''`)
	}

	return db, nil
}

func InsertAnalysis(db *sql.DB, a domain.Analysis) error {
	var remoteLabel sql.NullString
	var remoteConfidence sql.NullFloat64
	if a.Remote != nil {
		remoteLabel = sql.NullString{String: string(a.Remote.Label), Valid: true}
		remoteConfidence = sql.NullFloat64{Float64: a.Remote.Confidence, Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO analyses (id, text, local_label, local_confidence, remote_label, remote_confidence,
		                       verdict_label, verdict_confidence, remote_provider, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Text, string(a.Local.Label), a.Local.Confidence, remoteLabel, remoteConfidence,
		string(a.Verdict.Label), a.Verdict.Confidence, a.RemoteProvider, a.Duration.Milliseconds(), a.CreatedAt.UTC(),
	)
	return err
}

// ListRecentAnalyses returns the newest analyses first.
func ListRecentAnalyses(db *sql.DB, limit int) ([]domain.Analysis, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := db.Query(
		`SELECT id, text, local_label, local_confidence, remote_label, remote_confidence,
		        verdict_label, verdict_confidence, remote_provider, duration_ms, created_at
		 FROM analyses ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Analysis
	for rows.Next() {
		var a domain.Analysis
		var localLabel, verdictLabel string
		var remoteLabel sql.NullString
		var remoteConfidence sql.NullFloat64
		var durationMS int64
		err := rows.Scan(
			&a.ID, &a.Text, &localLabel, &a.Local.Confidence, &remoteLabel, &remoteConfidence,
			&verdictLabel, &a.Verdict.Confidence, &a.RemoteProvider, &durationMS, &a.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		a.Local.Label = domain.Label(localLabel)
		a.Verdict.Label = domain.Label(verdictLabel)
		if remoteLabel.Valid {
			a.Remote = &domain.Result{Label: domain.Label(remoteLabel.String), Confidence: remoteConfidence.Float64}
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAnalysisStats aggregates analyses created at or after since.
func GetAnalysisStats(db *sql.DB, since time.Time) (domain.AnalysisStats, error) {
	var s domain.AnalysisStats
	err := db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN verdict_label = 'HARMFUL' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN verdict_label = 'SAFE' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN remote_label IS NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN remote_label IS NOT NULL AND remote_label != local_label THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(verdict_confidence), 0)
		 FROM analyses WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&s.Total, &s.Harmful, &s.Safe, &s.RemoteUnavailable, &s.Disagreements, &s.AvgConfidence)
	return s, err
}

// Store adapts the history table to the analyzer's Recorder.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) RecordAnalysis(ctx context.Context, a domain.Analysis) error {
	return InsertAnalysis(s.db, a)
}

func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Analysis, error) {
	return ListRecentAnalyses(s.db, limit)
}

func (s *Store) Stats(ctx context.Context, since time.Time) (domain.AnalysisStats, error) {
	return GetAnalysisStats(s.db, since)
}

func (s *Store) Close() error { return s.db.Close() }
