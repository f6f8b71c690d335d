package archive

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// PathForTest はストアが保持する一時ファイルのパスを返す。
func PathForTest(s *Store) string { return s.path }

// PrepareForTest はクエリのステートメントを取得する。
func PrepareForTest(s *Store, query string) (*sqlx.Stmt, func(), error) {
	return s.stmt(context.Background(), query)
}

// CachedStatementsForTest はキャッシュ済みステートメント数を返す。
func CachedStatementsForTest(s *Store) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stmts)
}
