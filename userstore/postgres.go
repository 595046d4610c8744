package userstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of *pgxpool.Pool the Postgres store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const (
	qUserInsert = `
INSERT INTO users (id, email, first_name, last_name, age, password_hash, current_session_id, email_verified, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	qUserByID = `
SELECT id, email, first_name, last_name, age, password_hash, current_session_id, email_verified, created_at, updated_at
FROM users
WHERE id = $1;`

	qUserByEmail = `
SELECT id, email, first_name, last_name, age, password_hash, current_session_id, email_verified, created_at, updated_at
FROM users
WHERE email = $1;`

	qUserUpdate = `
UPDATE users
SET first_name     = COALESCE($2, first_name),
    last_name      = COALESCE($3, last_name),
    age            = COALESCE($4, age),
    password_hash  = COALESCE($5, password_hash),
    email_verified = COALESCE($6, email_verified),
    updated_at     = $7
WHERE id = $1;`

	qUserSetSession = `
UPDATE users
SET current_session_id = $2,
    updated_at         = $3
WHERE id = $1;`

	qUserCASSession = `
UPDATE users
SET current_session_id = $3,
    updated_at         = $4
WHERE id = $1 AND current_session_id = $2;`
)

const pgUniqueViolation = "23505"

// Postgres is a Store over a pgx pool.
type Postgres struct {
	pool    Pool
	timeout time.Duration
	now     func() time.Time
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps pool. A zero timeout leaves caller deadlines in charge.
func NewPostgres(pool Pool, timeout time.Duration) *Postgres {
	return &Postgres{pool: pool, timeout: timeout, now: time.Now}
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) FindByEmail(ctx context.Context, email string) (*User, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	return scanUser(p.pool.QueryRow(ctx, qUserByEmail, NormalizeEmail(email)))
}

func (p *Postgres) FindByID(ctx context.Context, id string) (*User, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	return scanUser(p.pool.QueryRow(ctx, qUserByID, id))
}

func (p *Postgres) Create(ctx context.Context, u *User) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	u.Email = NormalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := p.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := p.pool.Exec(ctx, qUserInsert,
		u.ID, u.Email, u.FirstName, u.LastName, u.Age, u.PasswordHash,
		u.CurrentSessionID, u.EmailVerified, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("%w: user insert: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, id string, patch Patch) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, qUserUpdate, id,
		patch.FirstName, patch.LastName, patch.Age, patch.PasswordHash, patch.EmailVerified,
		p.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: user update: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetSessionID(ctx context.Context, id, sessionID string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, qUserSetSession, id, sessionID, p.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: set session: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSwapSessionID relies on the row lock taken by UPDATE: concurrent
// callers with the same expected id serialize and only the first matches.
// A missing user reports false rather than ErrNotFound.
func (p *Postgres) CompareAndSwapSessionID(ctx context.Context, id, expected, next string) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, qUserCASSession, id, expected, next, p.now().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: cas session: %v", ErrUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Age, &u.PasswordHash,
		&u.CurrentSessionID, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan user: %v", ErrUnavailable, err)
	}
	return &u, nil
}
