package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxguard/guardian/internal/domain"
	"github.com/voxguard/guardian/internal/domain/user"
)

// --- Users ---

const userColumns = `id, email, name, password_hash, role, enabled, created_at, updated_at`

func scanUser(row scannable) (user.User, error) {
	var (
		u    user.User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.Enabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	u.Role = user.Role(role)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.Enabled)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create user %s: %w", u.Email, domain.ErrConflict)
		}
		return fmt.Errorf("create user %s: %w", u.Email, err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFoundWrap(err, "get user %s", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFoundWrap(err, "get user by email %s", email)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password for user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update password for user %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
