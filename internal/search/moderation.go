package search

import (
	"context"
	"fmt"

	"github.com/hitoshi/timevault/internal/model"
	"github.com/hitoshi/timevault/internal/visibility"
)

// moderationRow は3種類の管理ログを1つの形で受けるUNION結果の行。
type moderationRow struct {
	ThreadID       *int64  `db:"thread_id"`
	PostID         *int64  `db:"post_id"`
	Username       *string `db:"username"`
	Title          *string `db:"title"`
	Operation      *string `db:"operation"`
	Operator       *string `db:"operator"`
	OperationTime  string  `db:"operation_time"`
	ContentPreview *string `db:"content_preview"`
	Media          *string `db:"media"`
	PostTime       *string `db:"post_time"`
	OperatorID     *int64  `db:"operator_id"`
	TargetUserID   *int64  `db:"target_user_id"`
	ResultType     string  `db:"result_type"`
	Duration       *string `db:"duration"`
	Category       int     `db:"category"`
	Seq            int64   `db:"seq"`
}

// moderationUnion は管理ログ3種のUNIONを組み立てる。
// 投稿系はタイトル・本文プレビュー・メディアも検索対象にする。
func moderationUnion(h visibility.Horizon, words []string, args map[string]any) string {
	common := func(col string) string {
		return fmt.Sprintf("%s AND %s", h.Before(col), visibility.NotMaintenance(col))
	}
	return fmt.Sprintf(`
	SELECT u.thread_id AS thread_id, u.post_id AS post_id, u.username AS username, u.title AS title,
	       u.operation AS operation, u.operator AS operator, u.operation_time AS operation_time,
	       u.content_preview AS content_preview, u.media AS media, u.post_time AS post_time,
	       %[1]s AS operator_id, %[2]s AS target_user_id,
	       'moderation_post' AS result_type, NULL AS duration, 0 AS category, u.rowid AS seq
	FROM un_post u
	WHERE %[3]s AND %[4]s
	UNION ALL
	SELECT NULL, NULL, u.username, NULL, u.operation, u.operator, u.operation_time, NULL, NULL, NULL,
	       %[1]s, %[2]s, 'moderation_user', u.duration, 1, u.rowid
	FROM un_user u
	WHERE %[5]s AND %[4]s
	UNION ALL
	SELECT NULL, NULL, u.username, NULL, u.operation, u.operator, u.operation_time, NULL, NULL, NULL,
	       %[1]s, %[2]s, 'moderation_bawu', NULL, 2, u.rowid
	FROM un_bawu u
	WHERE %[6]s AND %[4]s`,
		visibility.UserIDByName("u.operator"),
		visibility.UserIDByName("u.username"),
		visibility.LikeTerms("kwm", words,
			[]string{"u.username", "u.title", "u.operation", "u.operator", "u.content_preview", "u.media"}, args),
		common("u.operation_time"),
		visibility.LikeTerms("kwu", words, []string{"u.username", "u.operation", "u.operator"}, args),
		visibility.LikeTerms("kwb", words, []string{"u.username", "u.operation", "u.operator"}, args),
	)
}

func (e *Engine) searchModeration(ctx context.Context, h visibility.Horizon, words []string, args map[string]any) (*model.SearchResponse, error) {
	union := moderationUnion(h, words, args)
	total, rows, err := paginate[moderationRow](ctx, e.store, union,
		"operation_time DESC, category ASC, seq ASC", args)
	if err != nil {
		return nil, err
	}

	items := make([]model.SearchResult, 0, len(rows))
	for _, row := range rows {
		items = append(items, e.moderationResult(row))
	}
	return &model.SearchResponse{Items: items, TotalCount: total}, nil
}

func (e *Engine) moderationResult(row moderationRow) model.SearchResult {
	switch model.ResultType(row.ResultType) {
	case model.ResultModerationUser:
		return model.ModerationUserMatch{
			Kind:         model.ResultModerationUser,
			Username:     row.Username,
			Operation:    row.Operation,
			Operator:     row.Operator,
			Time:         row.OperationTime,
			Duration:     row.Duration,
			OperatorID:   row.OperatorID,
			TargetUserID: row.TargetUserID,
		}
	case model.ResultModerationBawu:
		return model.ModerationBawuMatch{
			Kind:         model.ResultModerationBawu,
			Username:     row.Username,
			Operation:    row.Operation,
			Operator:     row.Operator,
			Time:         row.OperationTime,
			OperatorID:   row.OperatorID,
			TargetUserID: row.TargetUserID,
		}
	default:
		return model.ModerationPostMatch{
			Kind:           model.ResultModerationPost,
			ThreadID:       row.ThreadID,
			PostID:         row.PostID,
			Username:       row.Username,
			Title:          e.content.CleanOptional(row.Title),
			Operation:      row.Operation,
			Operator:       row.Operator,
			Time:           row.OperationTime,
			ContentPreview: e.content.CleanOptional(row.ContentPreview),
			Media:          row.Media,
			PostTime:       row.PostTime,
			OperatorID:     row.OperatorID,
			TargetUserID:   row.TargetUserID,
		}
	}
}
