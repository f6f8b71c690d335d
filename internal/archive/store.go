// Package archive はアーカイブ（凍結済みSQLiteスナップショット）への読み取り専用アクセスを提供する。
//
// バイト列から Open したストアは、閉じられるまで不変のデータセットとして扱う。
// 書き込み経路は存在しない。
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hitoshi/timevault/internal/model"
)

// sqliteHeader はSQLiteデータベースファイルの先頭16バイト。
var sqliteHeader = []byte("SQLite format 3\x00")

// RequiredTables は Open 時に存在を検証するテーブル。
var RequiredTables = []string{
	"pr_user",
	"pr_thread",
	"pr_post",
	"pr_comment",
	"un_post",
	"un_user",
	"un_bawu",
	"video_metadata",
}

// maxCachedStatements はプリペアドステートメントキャッシュの上限。
// 検索語数ごとにSQLの形が変わるため、上限を超えた分はキャッシュしない。
const maxCachedStatements = 256

// Store は開かれたアーカイブ。複数ゴルーチンから同時に利用できる。
type Store struct {
	db   *sqlx.DB
	path string

	mu    sync.Mutex
	stmts map[string]*sqlx.Stmt

	closeOnce sync.Once
	closeErr  error
}

// Open はアーカイブのバイト列を一時ファイルに書き出し、読み取り専用で開く。
// バイト列が解釈できない場合は ErrCorrupt をラップしたエラーを返し、部分的に開いた状態は残さない。
func Open(ctx context.Context, data []byte) (*Store, error) {
	if len(data) < len(sqliteHeader) || !bytes.Equal(data[:len(sqliteHeader)], sqliteHeader) {
		return nil, model.NewCorruptError("SQLiteヘッダが見つかりません")
	}

	f, err := os.CreateTemp("", "timevault-*.db")
	if err != nil {
		return nil, fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}

	s, err := openPath(ctx, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return s, nil
}

func openPath(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&immutable=1", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, model.NewCorruptError(err.Error())
	}
	if err := validate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:    db,
		path:  path,
		stmts: make(map[string]*sqlx.Stmt),
	}, nil
}

// validate は必須テーブルがすべて存在することを確認する。
func validate(ctx context.Context, db *sqlx.DB) error {
	var names []string
	if err := db.SelectContext(ctx, &names,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view')`,
	); err != nil {
		return model.NewCorruptError(err.Error())
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for _, table := range RequiredTables {
		if !present[table] {
			return model.NewCorruptError(fmt.Sprintf("テーブル %s がありません", table))
		}
	}
	return nil
}

// Close はステートメントとDB接続を解放し、一時ファイルを削除する。複数回呼んでもよい。
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		for _, st := range s.stmts {
			st.Close()
		}
		s.stmts = nil
		s.mu.Unlock()

		err := s.db.Close()
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
		s.closeErr = err
	})
	return s.closeErr
}

// stmt はクエリ文字列に対応するプリペアドステートメントを返す。
// キャッシュが満杯のときは使い捨てのステートメントを返すので、使い終わったら release を呼ぶこと。
func (s *Store) stmt(ctx context.Context, query string) (st *sqlx.Stmt, release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stmts == nil {
		return nil, nil, model.ErrStoreUnavailable
	}
	if st, ok := s.stmts[query]; ok {
		return st, func() {}, nil
	}
	st, err = s.db.PreparexContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	if len(s.stmts) < maxCachedStatements {
		s.stmts[query] = st
		return st, func() {}, nil
	}
	return st, func() { st.Close() }, nil
}

// compile は名前付きパラメータ（:name）を位置パラメータに変換する。
func (s *Store) compile(query string, arg map[string]any) (string, []any, error) {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return "", nil, fmt.Errorf("クエリの組み立てに失敗しました: %w", err)
	}
	return s.db.Rebind(q), args, nil
}

// Select は名前付きパラメータ付きクエリを実行し、結果をdestのスライスに格納する。
func (s *Store) Select(ctx context.Context, dest any, query string, arg map[string]any) error {
	q, args, err := s.compile(query, arg)
	if err != nil {
		return err
	}
	st, release, err := s.stmt(ctx, q)
	if err != nil {
		return err
	}
	defer release()
	return st.SelectContext(ctx, dest, args...)
}

// Get は名前付きパラメータ付きクエリを実行し、1行をdestに格納する。
// 行が無い場合は sql.ErrNoRows を返す。
func (s *Store) Get(ctx context.Context, dest any, query string, arg map[string]any) error {
	q, args, err := s.compile(query, arg)
	if err != nil {
		return err
	}
	st, release, err := s.stmt(ctx, q)
	if err != nil {
		return err
	}
	defer release()
	return st.GetContext(ctx, dest, args...)
}

// SelectIn は IN (?) を含むクエリをスライス引数で展開して実行する。
// 引数の個数でSQLが変わるため、ステートメントはキャッシュしない。
func (s *Store) SelectIn(ctx context.Context, dest any, query string, args ...any) error {
	q, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("INリストの展開に失敗しました: %w", err)
	}
	return s.db.SelectContext(ctx, dest, s.db.Rebind(q), expanded...)
}

// UserByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *Store) UserByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.Get(ctx, &u,
		`SELECT id, username, nickname, avatar FROM pr_user WHERE id = :id`,
		map[string]any{"id": id},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return &u, nil
}

// UserByUsername はユーザー名でユーザーを検索する。
// ユーザー名は一意とは限らないため、最小IDの1件を返す。見つからない場合はnilを返す。
func (s *Store) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.Get(ctx, &u,
		`SELECT id, username, nickname, avatar FROM pr_user
		 WHERE username = :username ORDER BY id LIMIT 1`,
		map[string]any{"username": username},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザー名によるユーザーの検索に失敗しました: %w", err)
	}
	return &u, nil
}

// videoMetadataJSON は video_metadata.metadata 列のJSON形式。
type videoMetadataJSON struct {
	Title       string `json:"title"`
	Uploader    string `json:"uploader"`
	UploaderURL string `json:"uploader_url"`
}

// VideoMetadata は動画IDのメタデータを取得する。
// 見つからない場合、またはメタデータJSONが壊れている場合はnilを返す。
func (s *Store) VideoMetadata(ctx context.Context, id string) (*model.VideoMetadata, error) {
	var raw sql.NullString
	err := s.Get(ctx, &raw,
		`SELECT metadata FROM video_metadata WHERE id = :id`,
		map[string]any{"id": id},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("動画メタデータの取得に失敗しました: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}

	var m videoMetadataJSON
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, nil
	}
	return &model.VideoMetadata{
		ID:          id,
		Title:       m.Title,
		Uploader:    m.Uploader,
		UploaderURL: m.UploaderURL,
	}, nil
}
