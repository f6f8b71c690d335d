package visibility

import (
	"context"
	"fmt"

	"github.com/hitoshi/timevault/internal/model"
	"github.com/hitoshi/timevault/internal/timeutil"
)

// UserPostsAtTime はユーザーが時点Tより前に書いたフロアとコメントを新しい順に返す。
// 削除済みのフロア（およびそのコメント）とスレッドは含まない。
func (r *Resolver) UserPostsAtTime(ctx context.Context, userID int64, datetime string, limit, offset *int) (*model.SearchResponse, error) {
	cutoff, err := timeutil.NormalizeCutoff(datetime)
	if err != nil {
		return nil, err
	}
	h := At(cutoff)
	args := WithPageSize(h.Args(map[string]any{"user_id": userID}), r.pageSize)
	page := h.PageExpr("p.thread_id", "p.floor")

	union := fmt.Sprintf(`
	SELECT p.thread_id AS thread_id, p.id AS post_id, NULL AS comment_id, p.user_id AS user_id, p.time AS time,
	       'post' AS result_type, t.title AS title, p.floor AS floor, p.content AS content, NULL AS post_content,
	       u.username AS username, u.nickname AS nickname, %[1]s AS page, p.id AS sort_key
	FROM pr_post p
	JOIN pr_thread t ON t.id = p.thread_id
	LEFT JOIN pr_user u ON u.id = p.user_id
	WHERE p.user_id = :user_id AND %[2]s AND %[4]s
	UNION ALL
	SELECT p.thread_id, p.id, c.id, c.user_id, c.time,
	       'comment', t.title, p.floor, c.content, p.content,
	       u.username, u.nickname, %[1]s, c.id
	FROM pr_comment c
	JOIN pr_post p ON p.id = c.post_id
	JOIN pr_thread t ON t.id = p.thread_id
	LEFT JOIN pr_user u ON u.id = c.user_id
	WHERE c.user_id = :user_id AND %[3]s AND %[4]s`,
		page, h.Before("p.time"), h.Before("c.time"), h.Visible("p.thread_id", "p.id"))

	var total int
	if err := r.store.Get(ctx, &total, `SELECT COUNT(*) FROM (`+union+`)`, args); err != nil {
		return nil, fmt.Errorf("ユーザー履歴の件数取得に失敗しました: %w", err)
	}

	args["limit"] = LimitArg(limit)
	args["offset"] = OffsetArg(offset)
	var rows []MatchRow
	err = r.store.Select(ctx, &rows, `SELECT `+MatchColumns+` FROM (`+union+`)
ORDER BY time DESC, result_type DESC, sort_key DESC
LIMIT :limit OFFSET :offset`, args)
	if err != nil {
		return nil, fmt.Errorf("ユーザー履歴の取得に失敗しました: %w", err)
	}

	items := make([]model.SearchResult, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.Result(ctx, r.content))
	}
	return &model.SearchResponse{Items: items, TotalCount: total}, nil
}
