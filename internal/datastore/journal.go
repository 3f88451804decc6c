package datastore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Journal records every pending-download state transition before the
// corresponding host side effect is attempted. A process restart mid-flow
// therefore leaves a detectable remnant instead of a silent leak.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
}

// TransitionEntry is one journaled state change.
type TransitionEntry struct {
	ID         int64
	DownloadID string
	URL        string
	FromState  string
	ToState    string
	Verdict    sql.NullString
	CreatedAt  time.Time
}

// NewJournal opens (creating if needed) the transition journal database.
func NewJournal(dataSourceName string, logger zerolog.Logger) (*Journal, error) {
	journalLogger := logger.With().Str("component", "Journal").Logger()

	dbDir := filepath.Dir(dataSourceName)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory %s: %w", dbDir, err)
	}

	dbInstance, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("sql.Open failed for %s: %w", dataSourceName, err)
	}

	j := &Journal{
		db:     dbInstance,
		logger: journalLogger,
	}

	if err := j.initSchema(); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	journalLogger.Info().Str("db_path", dataSourceName).Msg("Transition journal initialized")
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *Journal) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS download_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		download_id TEXT NOT NULL,
		url TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		verdict TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_download_id ON download_transitions(download_id);
	CREATE INDEX IF NOT EXISTS idx_transitions_created_at ON download_transitions(created_at);
	`
	_, err := j.db.Exec(query)
	return err
}

// RecordTransition appends one state change. Callers invoke this before the
// host side effect the transition corresponds to.
func (j *Journal) RecordTransition(downloadID, url, fromState, toState, verdict string) error {
	var verdictValue interface{}
	if verdict != "" {
		verdictValue = verdict
	}
	_, err := j.db.Exec(
		`INSERT INTO download_transitions (download_id, url, from_state, to_state, verdict, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		downloadID, url, fromState, toState, verdictValue, time.Now().UTC(),
	)
	if err != nil {
		j.logger.Error().Err(err).Str("download_id", downloadID).Msg("Failed to journal state transition")
		return err
	}
	return nil
}

// NonTerminalRemnants returns ids of downloads whose latest journaled state
// is not terminal and whose last activity is older than the given age. These
// are leftovers of interrupted flows.
func (j *Journal) NonTerminalRemnants(olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := j.db.Query(
		`SELECT download_id FROM download_transitions t1
		 WHERE created_at = (
			SELECT MAX(created_at) FROM download_transitions t2
			WHERE t2.download_id = t1.download_id
		 )
		 AND to_state != 'terminal'
		 AND created_at < ?`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// History returns the journaled transitions for one download, oldest first.
func (j *Journal) History(downloadID string) ([]TransitionEntry, error) {
	rows, err := j.db.Query(
		`SELECT id, download_id, url, from_state, to_state, verdict, created_at
		 FROM download_transitions WHERE download_id = ? ORDER BY id ASC`,
		downloadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TransitionEntry
	for rows.Next() {
		var e TransitionEntry
		if err := rows.Scan(&e.ID, &e.DownloadID, &e.URL, &e.FromState, &e.ToState, &e.Verdict, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes journal rows older than the retention window and returns how
// many were removed.
func (j *Journal) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := j.db.Exec(`DELETE FROM download_transitions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
