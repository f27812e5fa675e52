package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Account はユーザーアカウントの1行を表します。
// パスワードハッシュと保護状態はクライアントへのレスポンスに含めません。
type Account struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"fullName"`
	Phone        string     `json:"phone"`
	Location     string     `json:"location"`
	UserType     string     `json:"userType"`
	Attempts     int        `json:"-"`
	Locked       bool       `json:"-"`
	LockedUntil  *time.Time `json:"-"`
	Rating       float64    `json:"rating"`
	TotalReviews int        `json:"totalReviews"`
	IsVerified   bool       `json:"isVerified"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

const accountColumns = `id, username, email, password_hash, full_name, phone, location, user_type,
       login_attempts, account_locked, locked_until, rating, total_reviews, is_verified,
       created_at, last_login`

func scanAccount(row pgx.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.FullName, &a.Phone,
		&a.Location, &a.UserType, &a.Attempts, &a.Locked, &a.LockedUntil,
		&a.Rating, &a.TotalReviews, &a.IsVerified, &a.CreatedAt, &a.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// CreateAccount はアカウントを作成し、新しいIDを返します。
// ユーザー名またはメールが重複している場合は ErrDuplicate を返します。
func (s *Store) CreateAccount(ctx context.Context, a *Account) (int64, error) {
	query := `
        INSERT INTO users (username, email, password_hash, full_name, phone, location, user_type)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		a.Username, a.Email, a.PasswordHash, a.FullName, a.Phone, a.Location, a.UserType,
	).Scan(&id)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// AccountByEmail はメールアドレスでアカウントを検索します。
func (s *Store) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users WHERE email = $1`
	return scanAccount(s.pool.QueryRow(ctx, query, email))
}

// AccountByID はIDでアカウントを検索します。
func (s *Store) AccountByID(ctx context.Context, id int64) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users WHERE id = $1`
	return scanAccount(s.pool.QueryRow(ctx, query, id))
}

// UpdateProfile はプロフィール項目を更新します。
func (s *Store) UpdateProfile(ctx context.Context, id int64, fullName, phone, location string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET full_name = $1, phone = $2, location = $3 WHERE id = $4`,
		fullName, phone, location, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordHash はパスワードハッシュを差し替えます。
func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementLoginAttempts は失敗回数を原子的に加算し、加算後の値を返します。
func (s *Store) IncrementLoginAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET login_attempts = login_attempts + 1 WHERE id = $1 RETURNING login_attempts`,
		id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return attempts, nil
}

// ResetLoginAttempts はログイン成功時に失敗回数をリセットし、最終ログイン時刻を記録します。
func (s *Store) ResetLoginAttempts(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET login_attempts = 0, last_login = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// LockAccount はアカウントをロックし、失敗回数をリセットします。
func (s *Store) LockAccount(ctx context.Context, id int64, until time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET account_locked = TRUE, locked_until = $1, login_attempts = 0 WHERE id = $2`,
		until, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// UnlockAccount はロック期限切れのアカウントを解除します。
func (s *Store) UnlockAccount(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET account_locked = FALSE, locked_until = NULL, login_attempts = 0 WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
