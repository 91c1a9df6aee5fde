package store

import (
	"context"
	"fmt"

	"github.com/avvvet/wishcard-services/internal/cardsvc/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgres uses an already connected pool and creates the schema.
func NewPostgres(ctx context.Context, db *pgxpool.Pool) (*PostgresBackend, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS cards (
  id BIGINT PRIMARY KEY,
  uuid TEXT UNIQUE NOT NULL,
  nickname TEXT NOT NULL,
  content TEXT NOT NULL,
  style_id INTEGER NOT NULL DEFAULT 0,
  kind SMALLINT NOT NULL DEFAULT 0,
  status SMALLINT NOT NULL DEFAULT 0,
  target_card_id BIGINT,
  matched_by_card_id BIGINT,
  match_partner TEXT NOT NULL DEFAULT '',
  weight INTEGER NOT NULL DEFAULT 1,
  last_match_time TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  is_removed BOOLEAN NOT NULL DEFAULT false
);
CREATE TABLE IF NOT EXISTS match_logs (
  id BIGINT PRIMARY KEY,
  user_card_id BIGINT NOT NULL,
  target_card_id BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS system_config (
  key TEXT PRIMARY KEY,
  value TEXT
);
`
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

func (s *PostgresBackend) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Config: make(map[string]string)}

	rows, err := s.db.Query(ctx, `
		SELECT id, uuid, nickname, content, style_id, kind, status, target_card_id,
		       matched_by_card_id, match_partner, weight, last_match_time, created_at, is_removed
		FROM cards
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Card
		var kind, status int16
		err := rows.Scan(
			&c.ID,
			&c.Token,
			&c.Nickname,
			&c.Content,
			&c.StyleID,
			&kind,
			&status,
			&c.TargetID,
			&c.MatchedByID,
			&c.MatchPartner,
			&c.Weight,
			&c.LastMatchAttempt,
			&c.CreatedAt,
			&c.Removed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		c.Kind = models.CardKind(kind)
		c.Status = models.CardStatus(status)
		snap.Cards = append(snap.Cards, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	logRows, err := s.db.Query(ctx, `SELECT id, user_card_id, target_card_id, created_at FROM match_logs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query match logs: %w", err)
	}
	defer logRows.Close()

	for logRows.Next() {
		var l models.MatchLog
		if err := logRows.Scan(&l.ID, &l.RequesterID, &l.PartnerID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan match log: %w", err)
		}
		snap.Logs = append(snap.Logs, l)
	}
	if err := logRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	cfgRows, err := s.db.Query(ctx, `SELECT key, COALESCE(value, '') FROM system_config`)
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	defer cfgRows.Close()

	for cfgRows.Next() {
		var k, v string
		if err := cfgRows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		snap.Config[k] = v
	}
	if err := cfgRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return snap, nil
}

func (s *PostgresBackend) Save(ctx context.Context, b *Batch) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(b.Purged) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM cards WHERE id = ANY($1)`, b.Purged); err != nil {
			return fmt.Errorf("delete purged cards: %w", err)
		}
	}

	for _, c := range b.Cards {
		_, err := tx.Exec(ctx, `
			INSERT INTO cards (id, uuid, nickname, content, style_id, kind, status, target_card_id,
			                   matched_by_card_id, match_partner, weight, last_match_time, created_at, is_removed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO UPDATE SET
				nickname = EXCLUDED.nickname,
				content = EXCLUDED.content,
				style_id = EXCLUDED.style_id,
				status = EXCLUDED.status,
				target_card_id = EXCLUDED.target_card_id,
				matched_by_card_id = EXCLUDED.matched_by_card_id,
				match_partner = EXCLUDED.match_partner,
				weight = EXCLUDED.weight,
				last_match_time = EXCLUDED.last_match_time,
				is_removed = EXCLUDED.is_removed
		`,
			c.ID, c.Token, c.Nickname, c.Content, c.StyleID, int16(c.Kind), int16(c.Status), c.TargetID,
			c.MatchedByID, c.MatchPartner, c.Weight, c.LastMatchAttempt, c.CreatedAt, c.Removed,
		)
		if err != nil {
			return fmt.Errorf("upsert card %d: %w", c.ID, err)
		}
	}

	for _, l := range b.Logs {
		_, err := tx.Exec(ctx, `
			INSERT INTO match_logs (id, user_card_id, target_card_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, l.ID, l.RequesterID, l.PartnerID, l.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert match log %d: %w", l.ID, err)
		}
	}

	for k, v := range b.Config {
		_, err := tx.Exec(ctx, `
			INSERT INTO system_config (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		`, k, v)
		if err != nil {
			return fmt.Errorf("save config %s: %w", k, err)
		}
	}

	return tx.Commit(ctx)
}

// Close is a no-op: the pool belongs to the caller (see db.ClosePool).
func (s *PostgresBackend) Close() error {
	return nil
}
