package query

import "github.com/hitoshi/timevault/internal/model"

// リクエスト種別。
const (
	TypeInit                 = "init"
	TypeGetThreadsAtTime     = "getThreadsAtTime"
	TypeGetThreadPostsAtTime = "getThreadPostsAtTime"
	TypeSearch               = "search"
	TypeSearchThreads        = "searchThreads"
	TypeGetUserPostsAtTime   = "getUserPostsAtTime"
	TypeGetUserByID          = "getUserById"
	TypeGetUserByUsername    = "getUserByUsername"
	TypeGetVideoMetadata     = "getVideoMetadata"
)

// Types はクエリとして実行できるリクエスト種別の一覧（init を除く）。
var Types = []string{
	TypeGetThreadsAtTime,
	TypeGetThreadPostsAtTime,
	TypeSearch,
	TypeSearchThreads,
	TypeGetUserPostsAtTime,
	TypeGetUserByID,
	TypeGetUserByUsername,
	TypeGetVideoMetadata,
}

// ThreadsParams は getThreadsAtTime のペイロード。
type ThreadsParams struct {
	Datetime string `json:"datetime"`
	Keyword  string `json:"keyword,omitempty"`
	Limit    *int   `json:"limit,omitempty"`
	Offset   *int   `json:"offset,omitempty"`
	Featured bool   `json:"featured,omitempty"`
}

// ThreadPostsParams は getThreadPostsAtTime のペイロード。
type ThreadPostsParams struct {
	ThreadID int64  `json:"threadId"`
	Datetime string `json:"datetime"`
	Limit    *int   `json:"limit,omitempty"`
	Offset   *int   `json:"offset,omitempty"`
}

// UserPostsParams は getUserPostsAtTime のペイロード。
type UserPostsParams struct {
	UserID   int64  `json:"userId"`
	Datetime string `json:"datetime"`
	Limit    *int   `json:"limit,omitempty"`
	Offset   *int   `json:"offset,omitempty"`
}

// UserIDParams は getUserById のペイロード。
type UserIDParams struct {
	UserID int64 `json:"userId"`
}

// UsernameParams は getUserByUsername のペイロード。
type UsernameParams struct {
	Username string `json:"username"`
}

// VideoParams は getVideoMetadata のペイロード。
type VideoParams struct {
	ID string `json:"id"`
}

// KeywordParams は searchThreads のペイロード。
type KeywordParams struct {
	Keyword string `json:"keyword"`
}

// SearchParams は search のペイロード。
type SearchParams = model.SearchOptions
