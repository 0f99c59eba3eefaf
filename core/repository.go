package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// UserRecord is the full credential row, including the password hash.
// It never leaves the service layer.
type UserRecord struct {
	User
	PasswordHash string
}

// NewUser is the input for provisioning an account.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Role         Role
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, u NewUser) (int64, error)
	CreateIfAbsent(ctx context.Context, u NewUser) (int64, bool, error)
	HasAdmin(ctx context.Context) (bool, error)
	List(ctx context.Context) ([]User, error)
	Delete(ctx context.Context, id int64) error
}

// PgUserRepository implements UserRepository on top of a pgx pool.
type PgUserRepository struct {
	db DBTX
}

func NewPgUserRepository(db DBTX) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const pgUniqueViolation = "23505"

func (r *PgUserRepository) FindByUsername(ctx context.Context, username string) (*UserRecord, error) {
	const q = `SELECT id, username, email, password_hash, role, created_at, updated_at FROM users WHERE username=$1`
	var u UserRecord
	var role string
	if err := r.db.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	u.Role = Role(role)
	return &u, nil
}

func (r *PgUserRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	const q = `SELECT id, username, email, role, created_at, updated_at FROM users WHERE id=$1`
	var u User
	var role string
	if err := r.db.QueryRow(ctx, q, id).Scan(&u.ID, &u.Username, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	u.Role = Role(role)
	return &u, nil
}

func (r *PgUserRepository) Create(ctx context.Context, u NewUser) (int64, error) {
	const q = `INSERT INTO users (username, email, password_hash, role) VALUES ($1,$2,$3,$4) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, u.Username, u.Email, u.PasswordHash, string(u.Role)).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, ErrUserExists
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// CreateIfAbsent inserts u unless the username or email already exists.
// The boolean reports whether a row was created.
func (r *PgUserRepository) CreateIfAbsent(ctx context.Context, u NewUser) (int64, bool, error) {
	const q = `INSERT INTO users (username, email, password_hash, role) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, u.Username, u.Email, u.PasswordHash, string(u.Role)).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("create user if absent: %w", err)
	}
	return id, true, nil
}

func (r *PgUserRepository) HasAdmin(ctx context.Context) (bool, error) {
	const q = `SELECT 1 FROM users WHERE role='admin' LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns every user without password hash, newest first.
func (r *PgUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT id, username, email, role, created_at, updated_at FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	items := make([]User, 0)
	for rows.Next() {
		var u User
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		items = append(items, u)
	}
	return items, rows.Err()
}

// Delete removes a user. Audit rows referencing it keep a NULL user_id.
func (r *PgUserRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
