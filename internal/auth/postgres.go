package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custodia.org/internal/ids"
)

var _ Directory = (*PGDirectory)(nil)

// PGDirectory implements Directory on PostgreSQL.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

func (d *PGDirectory) Create(ctx context.Context, u *User, passwordHash string) error {
	if u.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	_, err := d.db.ExecContext(ctx,
		`insert into users(id, username, email, status, password_hash) values($1,$2,$3,$4,$5)`,
		u.ID, u.Username, u.Email, u.Status, passwordHash,
	)
	return err
}

func (d *PGDirectory) Lookup(ctx context.Context, userID string) (*User, error) {
	row := d.db.QueryRowContext(ctx,
		`select id, username, email, status, created_at, updated_at from users where id=$1`, userID)
	return scanUser(row)
}

func (d *PGDirectory) LookupByUsername(ctx context.Context, username string) (*User, error) {
	row := d.db.QueryRowContext(ctx,
		`select id, username, email, status, created_at, updated_at from users where username=$1`, username)
	return scanUser(row)
}

func (d *PGDirectory) Roles(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`select role from user_roles where user_id=$1 order by role asc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (d *PGDirectory) AssignRole(ctx context.Context, userID, role string) error {
	_, err := d.db.ExecContext(ctx,
		`insert into user_roles(user_id, role) values($1,$2) on conflict do nothing`,
		userID, role,
	)
	return err
}

func (d *PGDirectory) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := d.db.QueryRowContext(ctx,
		`select password_hash from users where id=$1`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
