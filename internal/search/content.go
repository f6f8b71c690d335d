package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/timevault/internal/model"
	"github.com/hitoshi/timevault/internal/visibility"
)

// contentUnion はスレッド・フロア・コメントの一致を visibility.MatchRow の列で返すUNIONを組み立てる。
// onlyThread の場合はスレッドの枝のみ。
func contentUnion(h visibility.Horizon, words []string, opts model.SearchOptions, args map[string]any) string {
	threadUser, postUser, commentUser := "1=1", "1=1", "1=1"
	if opts.Scope == model.ScopeUser {
		args["user_id"] = *opts.UserID
		threadUser, postUser, commentUser = "t.user_id = :user_id", "p.user_id = :user_id", "c.user_id = :user_id"
	}

	branches := []string{fmt.Sprintf(`
	SELECT t.id AS thread_id, NULL AS post_id, NULL AS comment_id, t.user_id AS user_id, p.time AS time,
	       'thread' AS result_type, t.title AS title, p.floor AS floor, p.content AS content, NULL AS post_content,
	       u.username AS username, u.nickname AS nickname, 1 AS page, t.id AS sort_key
	FROM pr_thread t
	JOIN pr_post p ON p.thread_id = t.id AND p.floor = 1
	LEFT JOIN pr_user u ON u.id = t.user_id
	WHERE %s AND %s AND %s AND %s`,
		visibility.LikeTerms("kwt", words, []string{"t.title", "p.content"}, args),
		threadUser, h.Before("p.time"), h.ThreadVisible("t.id"))}

	if !opts.OnlyThread {
		page := h.PageExpr("p.thread_id", "p.floor")
		branches = append(branches, fmt.Sprintf(`
	SELECT p.thread_id, p.id, NULL, p.user_id, p.time,
	       'post', t.title, p.floor, p.content, NULL,
	       u.username, u.nickname, %s, p.id
	FROM pr_post p
	JOIN pr_thread t ON t.id = p.thread_id
	LEFT JOIN pr_user u ON u.id = p.user_id
	WHERE %s AND p.floor > 1 AND %s AND %s AND %s`,
			page,
			visibility.LikeTerms("kwp", words, []string{"p.content"}, args),
			postUser, h.Before("p.time"), h.Visible("p.thread_id", "p.id")),
			fmt.Sprintf(`
	SELECT p.thread_id, p.id, c.id, c.user_id, c.time,
	       'comment', t.title, p.floor, c.content, p.content,
	       u.username, u.nickname, %s, c.id
	FROM pr_comment c
	JOIN pr_post p ON p.id = c.post_id
	JOIN pr_thread t ON t.id = p.thread_id
	LEFT JOIN pr_user u ON u.id = c.user_id
	WHERE %s AND %s AND %s AND %s`,
				page,
				visibility.LikeTerms("kwc", words, []string{"c.content"}, args),
				commentUser, h.Before("c.time"), h.Visible("p.thread_id", "p.id")))
	}

	return strings.Join(branches, "\n\tUNION ALL")
}

func (e *Engine) searchContent(ctx context.Context, h visibility.Horizon, words []string, opts model.SearchOptions, args map[string]any) (*model.SearchResponse, error) {
	union := contentUnion(h, words, opts, args)
	total, rows, err := paginate[visibility.MatchRow](ctx, e.store, union,
		"time DESC, result_type DESC, sort_key DESC", args)
	if err != nil {
		return nil, err
	}

	items := make([]model.SearchResult, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.Result(ctx, e.content))
	}
	return &model.SearchResponse{Items: items, TotalCount: total}, nil
}
