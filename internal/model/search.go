package model

// SearchScope は検索対象の系統。
type SearchScope string

const (
	ScopeGlobal     SearchScope = "global"
	ScopeUser       SearchScope = "user"
	ScopeModeration SearchScope = "moderation"
)

// Valid は既知のスコープかどうかを返す。
func (s SearchScope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeUser, ScopeModeration:
		return true
	}
	return false
}

// SearchOptions は search リクエストのペイロード。
type SearchOptions struct {
	Scope        SearchScope `json:"scope"`
	Keyword      string      `json:"keyword"`
	UserID       *int64      `json:"userId,omitempty"`
	SnapshotTime string      `json:"snapshotTime,omitempty"`
	Limit        *int        `json:"limit,omitempty"`
	Offset       *int        `json:"offset,omitempty"`
	OnlyThread   bool        `json:"onlyThread,omitempty"`
}

// ResultType は検索結果の種別タグ。
type ResultType string

const (
	ResultThread         ResultType = "thread"
	ResultPost           ResultType = "post"
	ResultComment        ResultType = "comment"
	ResultModerationPost ResultType = "moderation_post"
	ResultModerationUser ResultType = "moderation_user"
	ResultModerationBawu ResultType = "moderation_bawu"
)

// SearchResult は検索・ユーザー履歴の結果1件。
// 具体型は ThreadMatch / PostMatch / CommentMatch / Moderation*Match のいずれか。
type SearchResult interface {
	Type() ResultType
}

// ThreadMatch はスレッドタイトルまたは1階本文への一致。
type ThreadMatch struct {
	Kind        ResultType    `json:"result_type"`
	ThreadID    int64         `json:"thread_id"`
	UserID      int64         `json:"user_id"`
	Time        string        `json:"time"`
	Title       string        `json:"title"`
	Floor       int64         `json:"floor"`
	ContentJSON []ContentItem `json:"content_json"`
	Username    *string       `json:"username"`
	Nickname    *string       `json:"nickname"`
	Page        int           `json:"page"`
}

func (m ThreadMatch) Type() ResultType { return ResultThread }

// PostMatch はフロア本文への一致。
type PostMatch struct {
	Kind        ResultType    `json:"result_type"`
	ThreadID    int64         `json:"thread_id"`
	PostID      int64         `json:"post_id"`
	UserID      int64         `json:"user_id"`
	Time        string        `json:"time"`
	Title       string        `json:"title"`
	Floor       int64         `json:"floor"`
	ContentJSON []ContentItem `json:"content_json"`
	Username    *string       `json:"username"`
	Nickname    *string       `json:"nickname"`
	Page        int           `json:"page"`
}

func (m PostMatch) Type() ResultType { return ResultPost }

// CommentMatch はコメント本文への一致。PostContentJSON は親フロアの本文。
type CommentMatch struct {
	Kind            ResultType    `json:"result_type"`
	ThreadID        int64         `json:"thread_id"`
	PostID          int64         `json:"post_id"`
	CommentID       int64         `json:"comment_id"`
	UserID          int64         `json:"user_id"`
	Time            string        `json:"time"`
	Title           string        `json:"title"`
	Floor           int64         `json:"floor"`
	ContentJSON     []ContentItem `json:"content_json"`
	PostContentJSON []ContentItem `json:"post_content_json"`
	Username        *string       `json:"username"`
	Nickname        *string       `json:"nickname"`
	Page            int           `json:"page"`
}

func (m CommentMatch) Type() ResultType { return ResultComment }

// ModerationPostMatch は投稿系管理ログへの一致。
type ModerationPostMatch struct {
	Kind           ResultType `json:"result_type"`
	ThreadID       *int64     `json:"thread_id"`
	PostID         *int64     `json:"post_id"`
	Username       *string    `json:"username"`
	Title          *string    `json:"title"`
	Operation      *string    `json:"operation"`
	Operator       *string    `json:"operator"`
	Time           string     `json:"time"`
	ContentPreview *string    `json:"content_preview"`
	Media          *string    `json:"media"`
	PostTime       *string    `json:"post_time"`
	OperatorID     *int64     `json:"operator_id"`
	TargetUserID   *int64     `json:"target_user_id"`
}

func (m ModerationPostMatch) Type() ResultType { return ResultModerationPost }

// ModerationUserMatch はユーザー処分ログへの一致。Duration は期限付き処分の期間。
type ModerationUserMatch struct {
	Kind         ResultType `json:"result_type"`
	Username     *string    `json:"username"`
	Operation    *string    `json:"operation"`
	Operator     *string    `json:"operator"`
	Time         string     `json:"time"`
	Duration     *string    `json:"duration"`
	OperatorID   *int64     `json:"operator_id"`
	TargetUserID *int64     `json:"target_user_id"`
}

func (m ModerationUserMatch) Type() ResultType { return ResultModerationUser }

// ModerationBawuMatch は吧務（管理チーム）操作ログへの一致。
type ModerationBawuMatch struct {
	Kind         ResultType `json:"result_type"`
	Username     *string    `json:"username"`
	Operation    *string    `json:"operation"`
	Operator     *string    `json:"operator"`
	Time         string     `json:"time"`
	OperatorID   *int64     `json:"operator_id"`
	TargetUserID *int64     `json:"target_user_id"`
}

func (m ModerationBawuMatch) Type() ResultType { return ResultModerationBawu }

// SearchResponse は検索・ユーザー履歴のページと、ページング前の総件数。
type SearchResponse struct {
	Items      []SearchResult `json:"items"`
	TotalCount int            `json:"totalCount"`
}
