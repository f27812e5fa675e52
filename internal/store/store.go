// Package store は PostgreSQL への永続化を担います。
// アカウントのロック状態や試行回数の読み書きは単一のUPDATE文で行い、
// 同時ログインによる更新の取りこぼしをデータベース側で防ぎます。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/yourusername/lyntro/internal/store/migrations"
)

var (
	// ErrNotFound は対象の行が存在しないことを表します。
	ErrNotFound = errors.New("not found")
	// ErrDuplicate は一意制約違反（ユーザー名・メールの重複）を表します。
	ErrDuplicate = errors.New("already exists")
	// ErrOwnProduct は自分の出品をカートに入れようとしたことを表します。
	ErrOwnProduct = errors.New("own product")
)

// Store はデータベース接続を保持し、各エンティティの操作を提供します。
type Store struct {
	pool *pgxpool.Pool
	dsn  string
}

// Open は接続プールを作成し、疎通を確認します。
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, dsn: dsn}, nil
}

// Close は接続プールを閉じます。
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate は埋め込みマイグレーションを適用します。
// goose が database/sql を要求するため、マイグレーション専用の接続を開きます。
func (s *Store) Migrate(ctx context.Context) error {
	db, err := sql.Open("pgx", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// isDuplicate は一意制約違反かどうかを判定します。
func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
