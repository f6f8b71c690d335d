package model

import "encoding/json"

// ContentItem はスレッド・フロア・コメント本文を構成する型付き要素。
// type ごとに content の形が異なるため、content は生のJSONのまま保持する。
// video 要素は読み出し時に url と metadata へ展開される（保存値は書き換えない）。
type ContentItem struct {
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content,omitempty"`
	URL      string          `json:"url,omitempty"`
	Metadata *VideoMetadata  `json:"metadata,omitempty"`
}

// 本文要素の種別。
const (
	ContentText        = "text"
	ContentTextBold    = "text_bold"
	ContentTextRed     = "text_red"
	ContentTextBoldRed = "text_bold_red"
	ContentImage       = "image"
	ContentVideo       = "video"
	ContentAudio       = "audio"
	ContentEmoticon    = "emoticon"
	ContentURL         = "url"
	ContentUsername    = "username"
	ContentAlbum       = "album"
)

// IsText はテキスト系の要素かどうかを返す。
func (c ContentItem) IsText() bool {
	switch c.Type {
	case ContentText, ContentTextBold, ContentTextRed, ContentTextBoldRed:
		return true
	}
	return false
}

// StringContent は content が文字列の場合にその値を返す。
func (c ContentItem) StringContent() (string, bool) {
	if len(c.Content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(c.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// ActivityKind はスレッドの最終活動がフロアとコメントのどちらに由来するかを表す。
type ActivityKind string

const (
	ActivityPost    ActivityKind = "post"
	ActivityComment ActivityKind = "comment"
)

// Thread は時点Tにおけるスレッド一覧の1行。
// UserID と Time は最終活動（フロアまたはコメント）のもの。
type Thread struct {
	ID                int64         `json:"id"`
	Title             string        `json:"title"`
	OpUserID          int64         `json:"op_user_id"`
	UserID            int64         `json:"user_id"`
	Time              string        `json:"time"`
	ReplyNum          int64         `json:"reply_num"`
	Featured          bool          `json:"featured"`
	LastActivity      ActivityKind  `json:"last_activity_type"`
	OpPostContent     []ContentItem `json:"op_post_content"`
	OpUsername        *string       `json:"op_username,omitempty"`
	OpNickname        *string       `json:"op_nickname,omitempty"`
	LastReplyUsername *string       `json:"last_reply_username,omitempty"`
	LastReplyNickname *string       `json:"last_reply_nickname,omitempty"`
}

// ThreadList はスレッド一覧のページと、ページング前の総件数。
type ThreadList struct {
	Threads    []Thread `json:"threads"`
	TotalCount int      `json:"totalCount"`
}

// Post はスレッド内のフロア。Page は時点Tで可視なフロア数から算出される。
type Post struct {
	ID         int64         `json:"id"`
	Floor      int64         `json:"floor"`
	UserID     int64         `json:"user_id"`
	Content    []ContentItem `json:"content"`
	Time       string        `json:"time"`
	CommentNum int64         `json:"comment_num"`
	Signature  *string       `json:"signature"`
	Tail       *string       `json:"tail"`
	Username   *string       `json:"username"`
	Nickname   *string       `json:"nickname"`
	Avatar     *string       `json:"avatar"`
	Page       int           `json:"page"`
	Comments   []Comment     `json:"comments"`
}

// Comment はフロアに付くコメント（楼中楼）。
type Comment struct {
	ID       int64         `json:"id"`
	PostID   int64         `json:"post_id"`
	UserID   int64         `json:"user_id"`
	Content  []ContentItem `json:"content"`
	Time     string        `json:"time"`
	Username *string       `json:"username"`
	Nickname *string       `json:"nickname"`
	Avatar   *string       `json:"avatar"`
}

// ThreadDetail は時点Tにおけるスレッド詳細のページ。
type ThreadDetail struct {
	Posts          []Post          `json:"posts"`
	TotalCount     int             `json:"totalCount"`
	ThreadTitle    string          `json:"threadTitle"`
	ModerationLogs []ModerationLog `json:"moderationLogs"`
}
