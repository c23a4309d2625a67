package spotify

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const tokenKey = "spotify_token"

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for Spotify OAuth tokens.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/UPDATE/DELETE
}

// NewRepository creates a new Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// GetToken retrieves the stored token. Returns nil, nil when none is stored.
func (r *Repository) GetToken(ctx context.Context) (*TokenPair, error) {
	row := r.reader.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, token_type, scope, created_at, updated_at
		FROM spotify_tokens
		WHERE key = ?
	`, tokenKey)

	var token TokenPair
	var expiresAt, createdAt, updatedAt string

	err := row.Scan(
		&token.AccessToken,
		&token.RefreshToken,
		&expiresAt,
		&token.TokenType,
		&token.Scope,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if token.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return nil, err
	}
	if token.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, err
	}
	token.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &token, nil
}

// SaveToken stores or updates the token.
func (r *Repository) SaveToken(ctx context.Context, token *TokenPair) error {
	now := time.Now().UTC().Format(time.RFC3339)
	expiresAt := token.ExpiresAt.UTC().Format(time.RFC3339)
	createdAt := token.CreatedAt.UTC().Format(time.RFC3339)

	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO spotify_tokens (key, access_token, refresh_token, expires_at, token_type, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			token_type = excluded.token_type,
			scope = excluded.scope,
			updated_at = excluded.updated_at
	`, tokenKey, token.AccessToken, token.RefreshToken, expiresAt, token.TokenType, token.Scope, createdAt, now)
	return err
}

// DeleteToken removes the stored token. Returns sql.ErrNoRows when none existed.
func (r *Repository) DeleteToken(ctx context.Context) error {
	result, err := r.writer.ExecContext(ctx, "DELETE FROM spotify_tokens WHERE key = ?", tokenKey)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
