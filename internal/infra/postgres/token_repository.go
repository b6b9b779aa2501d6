package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ticket-delivery/internal/tokens"
)

const schemaDDL = `CREATE TABLE IF NOT EXISTS agent_tokens (
	token TEXT PRIMARY KEY,
	rate_limit INTEGER NOT NULL DEFAULT 60,
	station TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const indexDDL = `CREATE INDEX IF NOT EXISTS idx_agent_tokens_created_at ON agent_tokens (created_at);`

// TokenRepository reads agent API keys from Postgres.
type TokenRepository struct {
	DB  *DB
	DSN string
}

func NewTokenRepository(db *DB, dsn string) *TokenRepository {
	return &TokenRepository{DB: db, DSN: dsn}
}

// EnsureSchema creates the token table when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create agent_tokens: %w", err)
	}
	if _, err := db.ExecContext(ctx, indexDDL); err != nil {
		return fmt.Errorf("create agent_tokens index: %w", err)
	}
	return nil
}

// LoadTokens implements tokens.Repository.
func (r *TokenRepository) LoadTokens(ctx context.Context) (map[string]tokens.Entry, error) {
	db, err := r.DB.Get(r.DSN)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit, station FROM agent_tokens;`)
	if err != nil {
		return nil, fmt.Errorf("query agent_tokens: %w", err)
	}
	defer rows.Close()

	out := make(map[string]tokens.Entry)
	for rows.Next() {
		var token, station string
		var limit int
		if err := rows.Scan(&token, &limit, &station); err != nil {
			return nil, err
		}
		out[token] = tokens.Entry{RateLimit: limit, Station: station}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
