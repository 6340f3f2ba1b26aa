package transcript

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

const schema = `
CREATE TABLE IF NOT EXISTS relay_messages (
	id         BIGSERIAL PRIMARY KEY,
	chat_id    TEXT        NOT NULL,
	direction  TEXT        NOT NULL,
	text       TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS relay_messages_chat_idx ON relay_messages (chat_id, created_at);
`

type repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) relay.Transcript {
	return &repo{db: db}
}

// Migrate creates the transcript table when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("transcript migrate: %w", err)
	}
	return nil
}

func (r *repo) Save(ctx context.Context, e *relay.TranscriptEntry) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO relay_messages (chat_id, direction, text, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`,
		e.ChatID,
		string(e.Direction),
		e.Text,
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("save transcript entry: %w", err)
	}
	return nil
}

// History returns the newest limit entries for a chat, oldest first.
func (r *repo) History(ctx context.Context, chatID string, limit int) ([]relay.TranscriptEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, direction, text, created_at FROM (
			SELECT id, chat_id, direction, text, created_at
			FROM relay_messages
			WHERE chat_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	var out []relay.TranscriptEntry
	for rows.Next() {
		var e relay.TranscriptEntry
		var dir string
		if err := rows.Scan(
			&e.ID,
			&e.ChatID,
			&dir,
			&e.Text,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Direction = relay.Direction(dir)
		out = append(out, e)
	}

	return out, rows.Err()
}

type nop struct{}

// Nop discards entries; used when no database is configured.
func Nop() relay.Transcript { return nop{} }

func (nop) Save(context.Context, *relay.TranscriptEntry) error { return nil }

func (nop) History(context.Context, string, int) ([]relay.TranscriptEntry, error) {
	return nil, nil
}
