package model

// 管理操作名。アーカイブ上の値そのもの。
const (
	OperationDelete  = "删贴"
	OperationFeature = "加精"
)

// ModerationCategory は管理ログの3分類。
type ModerationCategory string

const (
	ModerationPost ModerationCategory = "post"
	ModerationUser ModerationCategory = "user"
	ModerationBawu ModerationCategory = "bawu"
)

// ModerationLog はスレッド詳細に添付される投稿系の管理ログ。
// OperatorID と TargetUserID はユーザー名からの突き合わせによる参考値で、
// 同名ユーザーが存在する場合は任意の1件になる。
type ModerationLog struct {
	ThreadID       *int64  `json:"thread_id" db:"thread_id"`
	PostID         *int64  `json:"post_id" db:"post_id"`
	Title          *string `json:"title" db:"title"`
	ContentPreview *string `json:"content_preview" db:"content_preview"`
	Media          *string `json:"media" db:"media"`
	Username       *string `json:"username" db:"username"`
	PostTime       *string `json:"post_time" db:"post_time"`
	Operation      *string `json:"operation" db:"operation"`
	Operator       *string `json:"operator" db:"operator"`
	OperationTime  *string `json:"operation_time" db:"operation_time"`
	OperatorID     *int64  `json:"operator_id" db:"operator_id"`
	TargetUserID   *int64  `json:"target_user_id" db:"target_user_id"`
}
