package store

import (
	"context"
	"fmt"
	"time"
)

// LoginAttempt はログイン試行の追記専用レコードです。
// 集計（ウィンドウ内の件数）にのみ使用し、更新・削除は保持期間切れの削除のみです。
type LoginAttempt struct {
	Email       string
	IPAddress   string
	Success     bool
	AttemptTime time.Time
}

// RecordLoginAttempt は試行結果を1件追記します。成否やアカウントの有無を問わず記録します。
func (s *Store) RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO login_attempts (email, ip_address, success) VALUES ($1, $2, $3)`,
		email, ipAddress, success)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// CountAttemptsSince は指定時刻以降の、対象メールアドレスへの試行件数を返します。
func (s *Store) CountAttemptsSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts WHERE email = $1 AND attempt_time > $2`,
		email, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

// CountAttemptsFromIPSince は指定時刻以降の、送信元IPごとの試行件数を返します。
func (s *Store) CountAttemptsFromIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts WHERE ip_address = $1 AND attempt_time > $2`,
		ipAddress, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

// PruneAttempts は指定時刻より古い試行履歴を削除し、削除件数を返します。
func (s *Store) PruneAttempts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM login_attempts WHERE attempt_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
