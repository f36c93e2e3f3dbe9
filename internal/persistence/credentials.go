package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/models"
)

// GetCredential returns the stored calendar credential for a user.
// A missing row is reported as apperr.ErrCredentialMissing.
func (db *DB) GetCredential(ctx context.Context, userID string) (*models.Credential, error) {
	var cred models.Credential
	err := db.conn.QueryRowContext(ctx, `
		SELECT user_id, access_token, refresh_token, expiry
		FROM credentials WHERE user_id = ?
	`, userID).Scan(&cred.UserID, &cred.AccessToken, &cred.RefreshToken, &cred.Expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrCredentialMissing
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: get credential: %w", err)
	}
	return &cred, nil
}

// SaveCredential upserts a user's credential. A refresh rewrites the row in
// place; concurrent refreshes for the same user are last-write-wins.
func (db *DB) SaveCredential(ctx context.Context, cred *models.Credential) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO credentials (user_id, access_token, refresh_token, expiry)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry        = excluded.expiry
	`, cred.UserID, cred.AccessToken, cred.RefreshToken, cred.Expiry)
	if err != nil {
		return fmt.Errorf("persistence: save credential: %w", err)
	}
	return nil
}
