// Package cache はクエリ結果の読み通しキャッシュを提供する。
//
// キーは（リクエスト種別, 正規化したパラメータ）のハッシュで、値はシリアライズ済みの結果そのもの。
// エントリはアーカイブのバージョンタグごとに分けて保存され、別バージョンのエントリは返さない。
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Store はキャッシュエントリの保存先。
type Store interface {
	// Get はエントリを返す。存在しない場合は ok=false。
	Get(ctx context.Context, version, key string) (value []byte, ok bool, err error)
	// Put はエントリを保存する。同じキーは上書きする。
	Put(ctx context.Context, version, key, queryType string, value []byte) error
	// PurgeOtherVersions は keep 以外のバージョンのエントリを削除し、削除件数を返す。
	PurgeOtherVersions(ctx context.Context, keep string) (int64, error)
}

// MemoryStore はプロセス内のキャッシュ保存先。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string][]byte
}

// NewMemoryStore は MemoryStore を生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, version, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[version][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Put(_ context.Context, version, key, _ string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.entries[version]
	if !ok {
		byKey = make(map[string][]byte)
		s.entries[version] = byKey
	}
	byKey[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) PurgeOtherVersions(_ context.Context, keep string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for version, byKey := range s.entries {
		if version != keep {
			n += int64(len(byKey))
			delete(s.entries, version)
		}
	}
	return n, nil
}

// SQLStore は query_cache テーブルを使うキャッシュ保存先。SQLiteとPostgreSQLに対応する。
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore は SQLStore を生成する。テーブルはマイグレーションで作成済みであること。
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, version, key string) ([]byte, bool, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload,
		s.db.Rebind(`SELECT payload FROM query_cache WHERE version = ? AND cache_key = ?`),
		version, key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("キャッシュの取得に失敗しました: %w", err)
	}
	return []byte(payload), true, nil
}

func (s *SQLStore) Put(ctx context.Context, version, key, queryType string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO query_cache (version, cache_key, query_type, payload)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (version, cache_key) DO UPDATE SET payload = excluded.payload, query_type = excluded.query_type`),
		version, key, queryType, string(value),
	)
	if err != nil {
		return fmt.Errorf("キャッシュの保存に失敗しました: %w", err)
	}
	return nil
}

func (s *SQLStore) PurgeOtherVersions(ctx context.Context, keep string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM query_cache WHERE version <> ?`), keep)
	if err != nil {
		return 0, fmt.Errorf("古いキャッシュの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}
