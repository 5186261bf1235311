package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the chat tables. The unique key on
// (chat_id, turn_id, role) is what makes the conflict-tolerant assistant
// insert safe under racing writers.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	client_id TEXT NOT NULL DEFAULT '',
	turn_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	parts JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT chat_messages_turn_role UNIQUE (chat_id, turn_id, role)
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_created ON chat_messages(chat_id, created_at DESC);

CREATE TABLE IF NOT EXISTS chat_entities (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	client_id TEXT NOT NULL DEFAULT '',
	entity_type TEXT NOT NULL,
	entity_value TEXT NOT NULL,
	source_message_id TEXT NOT NULL DEFAULT '',
	extracted_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_entities_chat_user ON chat_entities(chat_id, user_id);

CREATE TABLE IF NOT EXISTS chat_summaries (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	summary_text TEXT NOT NULL,
	covers_from TIMESTAMPTZ NOT NULL,
	covers_to TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_summaries_chat_created ON chat_summaries(chat_id, created_at DESC);

CREATE TABLE IF NOT EXISTS chat_files (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	linked_message_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_files_chat_user ON chat_files(chat_id, user_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
