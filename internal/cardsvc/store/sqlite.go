package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avvvet/wishcard-services/internal/cardsvc/models"
	_ "modernc.org/sqlite"
)

// SQLiteBackend persists cards in a single SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLite opens the database at path and creates the schema.
// Use ":memory:" for a throwaway database.
func NewSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			id INTEGER PRIMARY KEY,
			uuid TEXT UNIQUE NOT NULL,
			nickname TEXT NOT NULL,
			content TEXT NOT NULL,
			style_id INTEGER NOT NULL DEFAULT 0,
			kind INTEGER NOT NULL DEFAULT 0,
			status INTEGER NOT NULL DEFAULT 0,
			target_card_id INTEGER,
			matched_by_card_id INTEGER,
			match_partner TEXT NOT NULL DEFAULT '',
			weight INTEGER NOT NULL DEFAULT 1,
			last_match_time TEXT,
			created_at TEXT NOT NULL,
			is_removed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS match_logs (
			id INTEGER PRIMARY KEY,
			user_card_id INTEGER NOT NULL,
			target_card_id INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS system_config (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func (s *SQLiteBackend) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Config: make(map[string]string)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, nickname, content, style_id, kind, status, target_card_id,
		       matched_by_card_id, match_partner, weight, last_match_time, created_at, is_removed
		FROM cards
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c         models.Card
			target    sql.NullInt64
			matchedBy sql.NullInt64
			lastMatch sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Token, &c.Nickname, &c.Content, &c.StyleID, &c.Kind, &c.Status,
			&target, &matchedBy, &c.MatchPartner, &c.Weight, &lastMatch, &createdAt, &c.Removed); err != nil {
			return nil, fmt.Errorf("scanning card: %w", err)
		}
		if target.Valid {
			v := target.Int64
			c.TargetID = &v
		}
		if matchedBy.Valid {
			v := matchedBy.Int64
			c.MatchedByID = &v
		}
		if lastMatch.Valid {
			t, err := parseTime(lastMatch.String)
			if err != nil {
				return nil, fmt.Errorf("card %d last_match_time: %w", c.ID, err)
			}
			c.LastMatchAttempt = &t
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("card %d created_at: %w", c.ID, err)
		}
		snap.Cards = append(snap.Cards, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cards: %w", err)
	}

	logRows, err := s.db.QueryContext(ctx, `SELECT id, user_card_id, target_card_id, created_at FROM match_logs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying match logs: %w", err)
	}
	defer logRows.Close()

	for logRows.Next() {
		var (
			l         models.MatchLog
			createdAt string
		)
		if err := logRows.Scan(&l.ID, &l.RequesterID, &l.PartnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning match log: %w", err)
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("match log %d created_at: %w", l.ID, err)
		}
		snap.Logs = append(snap.Logs, l)
	}
	if err := logRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating match logs: %w", err)
	}

	cfgRows, err := s.db.QueryContext(ctx, `SELECT key, value FROM system_config`)
	if err != nil {
		return nil, fmt.Errorf("querying config: %w", err)
	}
	defer cfgRows.Close()

	for cfgRows.Next() {
		var k string
		var v sql.NullString
		if err := cfgRows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning config: %w", err)
		}
		snap.Config[k] = v.String
	}
	if err := cfgRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating config: %w", err)
	}

	return snap, nil
}

func (s *SQLiteBackend) Save(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range b.Purged {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting card %d: %w", id, err)
		}
	}

	for _, c := range b.Cards {
		var lastMatch *string
		if c.LastMatchAttempt != nil {
			v := formatTime(*c.LastMatchAttempt)
			lastMatch = &v
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cards (id, uuid, nickname, content, style_id, kind, status, target_card_id,
			                   matched_by_card_id, match_partner, weight, last_match_time, created_at, is_removed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				nickname = excluded.nickname,
				content = excluded.content,
				style_id = excluded.style_id,
				status = excluded.status,
				target_card_id = excluded.target_card_id,
				matched_by_card_id = excluded.matched_by_card_id,
				match_partner = excluded.match_partner,
				weight = excluded.weight,
				last_match_time = excluded.last_match_time,
				is_removed = excluded.is_removed
		`,
			c.ID, c.Token, c.Nickname, c.Content, c.StyleID, int(c.Kind), int(c.Status), c.TargetID,
			c.MatchedByID, c.MatchPartner, c.Weight, lastMatch, formatTime(c.CreatedAt), c.Removed,
		)
		if err != nil {
			return fmt.Errorf("upserting card %d: %w", c.ID, err)
		}
	}

	for _, l := range b.Logs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO match_logs (id, user_card_id, target_card_id, created_at) VALUES (?, ?, ?, ?)`,
			l.ID, l.RequesterID, l.PartnerID, formatTime(l.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting match log %d: %w", l.ID, err)
		}
	}

	for k, v := range b.Config {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO system_config (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("saving config %s: %w", k, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
