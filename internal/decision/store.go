// SPDX-License-Identifier: MIT

package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver
)

const schemaVersion = 1

// ErrNotFound is returned when a decision ID does not exist.
var ErrNotFound = errors.New("decision: not found")

// Store persists decisions in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the decision database at dbPath and runs
// migrations. WAL and busy_timeout are set through the DSN so they apply to
// every pooled connection.
func OpenStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("decision: open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("decision: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("decision: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		options_json TEXT NOT NULL,
		emotional_state TEXT NOT NULL,
		transcription TEXT,
		audio_url TEXT,
		audio_duration_ms INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_user ON decisions(user_id, created_at_ms);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateFromExtraction materializes a draft decision for userID and returns
// its ID. The emotional state is normalized to "neutral" if the extractor
// produced an unknown value.
func (s *Store) CreateFromExtraction(ctx context.Context, userID, audioURL string, ex Extraction) (string, error) {
	if userID == "" {
		return "", errors.New("decision: empty user id")
	}
	if ex.Title == "" {
		return "", errors.New("decision: empty title")
	}

	state := ex.EmotionalState
	if !state.Valid() {
		state = EmotionNeutral
	}

	category := strings.TrimSpace(ex.SuggestedCategory)
	if category == "" {
		category = DefaultCategory
	}

	options := ex.Options
	if options == nil {
		options = []Option{}
	}
	for i := range options {
		if options[i].ID == "" {
			options[i].ID = uuid.NewString()
		}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("decision: marshal options: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UnixMilli()

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO decisions (
		id, user_id, title, description, category, options_json, emotional_state,
		transcription, audio_url, audio_duration_ms, status, created_at_ms, updated_at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, ex.Title, ex.Description, category, string(optionsJSON), string(state),
		ex.Transcription, audioURL, ex.DurationMS, StatusDraft, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("decision: insert failed: %w", err)
	}
	return id, nil
}

// Get returns the decision with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, user_id, title, description, category, options_json, emotional_state,
	       transcription, audio_url, audio_duration_ms, status, created_at_ms, updated_at_ms
	FROM decisions WHERE id = ?`, id)

	var d Decision
	var optionsJSON string
	var createdMS, updatedMS int64
	var description, transcription, audioURL sql.NullString
	err := row.Scan(&d.ID, &d.UserID, &d.Title, &description, &d.Category, &optionsJSON,
		&d.EmotionalState, &transcription, &audioURL, &d.AudioDurationMS, &d.Status, &createdMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("decision: query failed: %w", err)
	}

	d.Description = description.String
	d.Transcription = transcription.String
	d.AudioURL = audioURL.String
	if err := json.Unmarshal([]byte(optionsJSON), &d.Options); err != nil {
		return nil, fmt.Errorf("decision: corrupt options for %s: %w", id, err)
	}
	d.CreatedAt = time.UnixMilli(createdMS)
	d.UpdatedAt = time.UnixMilli(updatedMS)
	return &d, nil
}

// ListByUser returns the user's decisions, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, user_id, title, description, category, options_json, emotional_state,
	       transcription, audio_url, audio_duration_ms, status, created_at_ms, updated_at_ms
	FROM decisions WHERE user_id = ? ORDER BY created_at_ms DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("decision: query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Decision
	for rows.Next() {
		var d Decision
		var optionsJSON string
		var createdMS, updatedMS int64
		var description, transcription, audioURL sql.NullString
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &description, &d.Category, &optionsJSON,
			&d.EmotionalState, &transcription, &audioURL, &d.AudioDurationMS, &d.Status, &createdMS, &updatedMS); err != nil {
			return nil, err
		}
		d.Description = description.String
		d.Transcription = transcription.String
		d.AudioURL = audioURL.String
		if err := json.Unmarshal([]byte(optionsJSON), &d.Options); err != nil {
			return nil, fmt.Errorf("decision: corrupt options for %s: %w", d.ID, err)
		}
		d.CreatedAt = time.UnixMilli(createdMS)
		d.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, d)
	}
	return out, rows.Err()
}
