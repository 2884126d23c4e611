package session

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func getRefreshByHashTx(ctx context.Context, tx pgx.Tx, tokenHash string) (RefreshTokenRow, error) {
	var row RefreshTokenRow

	err := tx.QueryRow(ctx, `
		SELECT
			token_hash, session_id, principal_id, role, guardian_id,
			issued_at, expires_at, revoked
		FROM perch.refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash).Scan(
		&row.TokenHash,
		&row.SessionID,
		&row.PrincipalID,
		&row.Role,
		&row.GuardianID,
		&row.IssuedAt,
		&row.ExpiresAt,
		&row.Revoked,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshTokenRow{}, ErrInvalidToken
	}
	if err != nil {
		return RefreshTokenRow{}, err
	}

	return row, nil
}
