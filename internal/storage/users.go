package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Marshal-AM/fireglobe/internal/model"
)

const userColumns = `user_id, access_token, email, name, wallet_address, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.UserID, &u.AccessToken, &u.Email, &u.Name, &u.WalletAddress, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetUserByAccessToken returns the user owning token, or ErrNotFound.
func (db *DB) GetUserByAccessToken(ctx context.Context, token string) (model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE access_token = $1`, token,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("storage: get user by token: %w", err)
	}
	return u, nil
}

// GetUser returns a user by id, or ErrNotFound.
func (db *DB) GetUser(ctx context.Context, userID string) (model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a user. The dashboard owns sign-up; the relay uses this
// for seeding and tests. A duplicate id or token returns ErrConflict.
func (db *DB) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	created, err := scanUser(db.pool.QueryRow(ctx,
		`INSERT INTO users (user_id, access_token, email, name, wallet_address)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userColumns,
		u.UserID, u.AccessToken, u.Email, u.Name, u.WalletAddress,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrConflict
		}
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return created, nil
}

// SetWalletAddress records the user's wallet. The address may only be set
// while it is null: ErrConflict if already set, ErrNotFound if no such user.
func (db *DB) SetWalletAddress(ctx context.Context, userID, address string) (model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`UPDATE users SET wallet_address = $2, updated_at = now()
		 WHERE user_id = $1 AND wallet_address IS NULL
		 RETURNING `+userColumns,
		userID, address,
	))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("storage: set wallet address: %w", err)
	}
	if _, err := db.GetUser(ctx, userID); err != nil {
		return model.User{}, err
	}
	return model.User{}, ErrConflict
}
