package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	display_name TEXT NOT NULL,
	body         TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_room_time ON messages (room_id, created_at);

CREATE TABLE IF NOT EXISTS read_receipts (
	message_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	read_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (message_id, user_id)
);`

// Postgres implements ChatStore over database/sql with lib/pq.
type Postgres struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	log.Info().Str("module", "store.postgres").Msg("connected")
	return &Postgres{db: db}, nil
}

func (p *Postgres) InsertMessage(ctx context.Context, m Message) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, user_id, display_name, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.RoomID, m.UserID, m.DisplayName, m.Text, m.CreatedAt)
	return err
}

func (p *Postgres) QueryMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, room_id, user_id, display_name, body, created_at
		 FROM messages WHERE room_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.DisplayName, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query is newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (p *Postgres) InsertReadReceipt(ctx context.Context, messageID, userID string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO read_receipts (message_id, user_id, read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID, time.Now())
	return err
}

func (p *Postgres) Close() error { return p.db.Close() }
