// Package archivetest はテスト用のアーカイブを組み立てる。
package archivetest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hitoshi/timevault/internal/archive"
)

// Schema はアーカイブのテーブル定義。
const Schema = `
CREATE TABLE pr_user (id INTEGER PRIMARY KEY, username TEXT, nickname TEXT, avatar TEXT);
CREATE TABLE pr_thread (id INTEGER PRIMARY KEY, title TEXT, user_id INTEGER, reply_num INTEGER);
CREATE TABLE pr_post (id INTEGER PRIMARY KEY, thread_id INTEGER, floor INTEGER, user_id INTEGER,
	content TEXT, time TEXT, comment_num INTEGER, signature TEXT, tail TEXT);
CREATE TABLE pr_comment (id INTEGER PRIMARY KEY, post_id INTEGER, user_id INTEGER, content TEXT, time TEXT);
CREATE TABLE un_post (thread_id INTEGER, post_id INTEGER, title TEXT, content_preview TEXT, media TEXT,
	username TEXT, post_time TEXT, operation TEXT, operator TEXT, operation_time TEXT);
CREATE TABLE un_user (username TEXT, operation TEXT, operator TEXT, operation_time TEXT, duration TEXT);
CREATE TABLE un_bawu (username TEXT, operation TEXT, operator TEXT, operation_time TEXT);
CREATE TABLE video_metadata (id TEXT PRIMARY KEY, metadata TEXT);
`

type User struct {
	ID       int64   `db:"id"`
	Username *string `db:"username"`
	Nickname *string `db:"nickname"`
	Avatar   *string `db:"avatar"`
}

type Thread struct {
	ID       int64  `db:"id"`
	Title    string `db:"title"`
	UserID   int64  `db:"user_id"`
	ReplyNum int64  `db:"reply_num"`
}

type Post struct {
	ID         int64   `db:"id"`
	ThreadID   int64   `db:"thread_id"`
	Floor      int64   `db:"floor"`
	UserID     int64   `db:"user_id"`
	Content    string  `db:"content"`
	Time       string  `db:"time"`
	CommentNum int64   `db:"comment_num"`
	Signature  *string `db:"signature"`
	Tail       *string `db:"tail"`
}

type Comment struct {
	ID      int64  `db:"id"`
	PostID  int64  `db:"post_id"`
	UserID  int64  `db:"user_id"`
	Content string `db:"content"`
	Time    string `db:"time"`
}

// PostOp は un_post の1行。PostID が nil ならスレッド全体への操作。
type PostOp struct {
	ThreadID       int64   `db:"thread_id"`
	PostID         *int64  `db:"post_id"`
	Title          *string `db:"title"`
	ContentPreview *string `db:"content_preview"`
	Media          *string `db:"media"`
	Username       *string `db:"username"`
	PostTime       *string `db:"post_time"`
	Operation      string  `db:"operation"`
	Operator       string  `db:"operator"`
	OperationTime  string  `db:"operation_time"`
}

type UserOp struct {
	Username      string  `db:"username"`
	Operation     string  `db:"operation"`
	Operator      string  `db:"operator"`
	OperationTime string  `db:"operation_time"`
	Duration      *string `db:"duration"`
}

type BawuOp struct {
	Username      string `db:"username"`
	Operation     string `db:"operation"`
	Operator      string `db:"operator"`
	OperationTime string `db:"operation_time"`
}

type Video struct {
	ID       string `db:"id"`
	Metadata string `db:"metadata"`
}

// Fixture はアーカイブに投入する行の集合。
type Fixture struct {
	Users    []User
	Threads  []Thread
	Posts    []Post
	Comments []Comment
	PostOps  []PostOp
	UserOps  []UserOp
	BawuOps  []BawuOp
	Videos   []Video
}

var inserts = []struct {
	query string
	rows  func(fx Fixture) []any
}{
	{`INSERT INTO pr_user (id, username, nickname, avatar) VALUES (:id, :username, :nickname, :avatar)`,
		func(fx Fixture) []any { return rowsOf(fx.Users) }},
	{`INSERT INTO pr_thread (id, title, user_id, reply_num) VALUES (:id, :title, :user_id, :reply_num)`,
		func(fx Fixture) []any { return rowsOf(fx.Threads) }},
	{`INSERT INTO pr_post (id, thread_id, floor, user_id, content, time, comment_num, signature, tail)
	  VALUES (:id, :thread_id, :floor, :user_id, :content, :time, :comment_num, :signature, :tail)`,
		func(fx Fixture) []any { return rowsOf(fx.Posts) }},
	{`INSERT INTO pr_comment (id, post_id, user_id, content, time) VALUES (:id, :post_id, :user_id, :content, :time)`,
		func(fx Fixture) []any { return rowsOf(fx.Comments) }},
	{`INSERT INTO un_post (thread_id, post_id, title, content_preview, media, username, post_time, operation, operator, operation_time)
	  VALUES (:thread_id, :post_id, :title, :content_preview, :media, :username, :post_time, :operation, :operator, :operation_time)`,
		func(fx Fixture) []any { return rowsOf(fx.PostOps) }},
	{`INSERT INTO un_user (username, operation, operator, operation_time, duration)
	  VALUES (:username, :operation, :operator, :operation_time, :duration)`,
		func(fx Fixture) []any { return rowsOf(fx.UserOps) }},
	{`INSERT INTO un_bawu (username, operation, operator, operation_time)
	  VALUES (:username, :operation, :operator, :operation_time)`,
		func(fx Fixture) []any { return rowsOf(fx.BawuOps) }},
	{`INSERT INTO video_metadata (id, metadata) VALUES (:id, :metadata)`,
		func(fx Fixture) []any { return rowsOf(fx.Videos) }},
}

func rowsOf[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i := range rows {
		out[i] = rows[i]
	}
	return out
}

// Build はフィクスチャを投入したSQLiteファイルを作り、そのバイト列を返す。
func Build(t testing.TB, fx Fixture) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.db")
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open fixture db: %v", err)
	}
	defer db.Close()

	db.MustExec(Schema)

	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("failed to begin fixture tx: %v", err)
	}
	for _, ins := range inserts {
		for _, row := range ins.rows(fx) {
			if _, err := tx.NamedExec(ins.query, row); err != nil {
				tx.Rollback()
				t.Fatalf("failed to insert fixture row %+v: %v", row, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit fixture: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close fixture db: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture db: %v", err)
	}
	return data
}

// Open はフィクスチャからストアを開き、テスト終了時に閉じる。
func Open(t testing.TB, fx Fixture) *archive.Store {
	t.Helper()

	s, err := archive.Open(context.Background(), Build(t, fx))
	if err != nil {
		t.Fatalf("failed to open fixture archive: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Text は1つのテキスト要素からなる本文JSONを返す。
func Text(s string) string {
	return Items(map[string]any{"type": "text", "content": s})
}

// Items は任意の要素からなる本文JSONを返す。
func Items(items ...map[string]any) string {
	b, err := json.Marshal(items)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Ptr は値へのポインタを返す。
func Ptr[T any](v T) *T { return &v }

// Forum は小さな既定フィクスチャを返す。
//
//	thread 1 "time machine": post 11 (2016-01-01), comment 101 (2016-01-02), スレッド削除 2016-01-03
//	thread 2 "foo thread": post 21 "foo bar mentioned", post 22 "foo only", comment 201 "foo bar too"
//	video_metadata: XNDEwNjY4MDQw
func Forum() Fixture {
	return Fixture{
		Users: []User{
			{ID: 1, Username: Ptr("alice"), Nickname: Ptr("Alice")},
			{ID: 2, Username: Ptr("bob"), Nickname: Ptr("Bob")},
			{ID: 3, Username: Ptr("admin")},
		},
		Threads: []Thread{
			{ID: 1, Title: "time machine", UserID: 1, ReplyNum: 1},
			{ID: 2, Title: "foo thread", UserID: 2, ReplyNum: 2},
		},
		Posts: []Post{
			{ID: 11, ThreadID: 1, Floor: 1, UserID: 1, Content: Text("first post"), Time: "2016-01-01 00:00:00", CommentNum: 1},
			{ID: 21, ThreadID: 2, Floor: 1, UserID: 2, Content: Text("foo bar mentioned"), Time: "2016-02-01 00:00:00", CommentNum: 1},
			{ID: 22, ThreadID: 2, Floor: 2, UserID: 1, Content: Items(
				map[string]any{"type": "text", "content": "foo only"},
				map[string]any{"type": "video", "content": "https://v.youku.com/v_show/id_XNDEwNjY4MDQw.html"},
			), Time: "2016-02-02 00:00:00"},
		},
		Comments: []Comment{
			{ID: 101, PostID: 11, UserID: 2, Content: Text("a comment"), Time: "2016-01-02 00:00:00"},
			{ID: 201, PostID: 21, UserID: 1, Content: Text("foo bar too"), Time: "2016-02-03 00:00:00"},
		},
		PostOps: []PostOp{
			{ThreadID: 1, Title: Ptr("time machine"), Username: Ptr("alice"), Operation: "删贴", Operator: "admin", OperationTime: "2016-01-03 00:00:00"},
		},
		UserOps: []UserOp{
			{Username: "bob", Operation: "封禁", Operator: "admin", OperationTime: "2016-02-10 00:00:00", Duration: Ptr("1天")},
		},
		Videos: []Video{
			{ID: "XNDEwNjY4MDQw", Metadata: `{"title":"clip","uploader":"uploader","uploader_url":"https://example.com/u"}`},
		},
	}
}
