package visibility

import (
	"context"

	"github.com/hitoshi/timevault/internal/content"
	"github.com/hitoshi/timevault/internal/model"
)

// MatchRow はフロア・コメント・スレッド一致を1つの形で受けるUNION結果の行。
// result_type 列により具体的な結果型へ変換する。
type MatchRow struct {
	ThreadID    int64   `db:"thread_id"`
	PostID      *int64  `db:"post_id"`
	CommentID   *int64  `db:"comment_id"`
	UserID      *int64  `db:"user_id"`
	Time        string  `db:"time"`
	ResultType  string  `db:"result_type"`
	Title       *string `db:"title"`
	Floor       *int64  `db:"floor"`
	Content     *string `db:"content"`
	PostContent *string `db:"post_content"`
	Username    *string `db:"username"`
	Nickname    *string `db:"nickname"`
	Page        int     `db:"page"`
	SortKey     int64   `db:"sort_key"`
}

// MatchColumns は MatchRow に対応するUNIONの列順。
const MatchColumns = `thread_id, post_id, comment_id, user_id, time, result_type, title, floor,
	content, post_content, username, nickname, page, sort_key`

// Result は行を結果型に変換する。本文はここで投影される。
func (r MatchRow) Result(ctx context.Context, n *content.Normalizer) model.SearchResult {
	title := deref(r.Title)
	switch model.ResultType(r.ResultType) {
	case model.ResultThread:
		return model.ThreadMatch{
			Kind:        model.ResultThread,
			ThreadID:    r.ThreadID,
			UserID:      deref(r.UserID),
			Time:        r.Time,
			Title:       title,
			Floor:       deref(r.Floor),
			ContentJSON: n.Parse(ctx, r.Content),
			Username:    r.Username,
			Nickname:    r.Nickname,
			Page:        r.Page,
		}
	case model.ResultComment:
		return model.CommentMatch{
			Kind:            model.ResultComment,
			ThreadID:        r.ThreadID,
			PostID:          deref(r.PostID),
			CommentID:       deref(r.CommentID),
			UserID:          deref(r.UserID),
			Time:            r.Time,
			Title:           title,
			Floor:           deref(r.Floor),
			ContentJSON:     n.Parse(ctx, r.Content),
			PostContentJSON: n.Parse(ctx, r.PostContent),
			Username:        r.Username,
			Nickname:        r.Nickname,
			Page:            r.Page,
		}
	default:
		return model.PostMatch{
			Kind:        model.ResultPost,
			ThreadID:    r.ThreadID,
			PostID:      deref(r.PostID),
			UserID:      deref(r.UserID),
			Time:        r.Time,
			Title:       title,
			Floor:       deref(r.Floor),
			ContentJSON: n.Parse(ctx, r.Content),
			Username:    r.Username,
			Nickname:    r.Nickname,
			Page:        r.Page,
		}
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
