package visibility

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/timevault/internal/archive"
	"github.com/hitoshi/timevault/internal/content"
	"github.com/hitoshi/timevault/internal/model"
	"github.com/hitoshi/timevault/internal/timeutil"
)

// DefaultPageSize はスレッド詳細の1ページあたりのフロア数。
const DefaultPageSize = 30

// Resolver は時点Tにおけるスレッド一覧・スレッド詳細・ユーザー履歴を返す。
type Resolver struct {
	store    *archive.Store
	content  *content.Normalizer
	pageSize int
	logger   *slog.Logger
}

// NewResolver は Resolver を生成する。pageSize が0以下なら DefaultPageSize を使う。
func NewResolver(store *archive.Store, normalizer *content.Normalizer, pageSize int, logger *slog.Logger) *Resolver {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if normalizer == nil {
		normalizer = content.NewNormalizer(store, logger)
	}
	return &Resolver{store: store, content: normalizer, pageSize: pageSize, logger: logger}
}

// ThreadsQuery はスレッド一覧の問い合わせ条件。
type ThreadsQuery struct {
	Datetime string
	Keyword  string
	Limit    *int
	Offset   *int
	Featured bool
}

// LimitArg は LIMIT 句に渡す値を返す。未指定・0以下は無制限（-1）。
func LimitArg(limit *int) int64 {
	if limit == nil || *limit <= 0 {
		return -1
	}
	return int64(*limit)
}

// OffsetArg は OFFSET 句に渡す値を返す。
func OffsetArg(offset *int) int64 {
	if offset == nil || *offset < 0 {
		return 0
	}
	return int64(*offset)
}

type threadRow struct {
	ThreadID     int64   `db:"thread_id"`
	Title        string  `db:"title"`
	OpUserID     *int64  `db:"op_user_id"`
	UserID       *int64  `db:"user_id"`
	Time         string  `db:"time"`
	ReplyNum     int64   `db:"reply_num"`
	KindRank     int     `db:"kind_rank"`
	OpContent    *string `db:"op_content"`
	OpUsername   *string `db:"op_username"`
	OpNickname   *string `db:"op_nickname"`
	LastUsername *string `db:"last_username"`
	LastNickname *string `db:"last_nickname"`
	Featured     bool    `db:"featured"`
}

// activityCTE はスレッドごとの最終活動（時点Tより前の最新フロアまたはコメント）を求める。
// 同時刻の場合はフロアを優先し、さらにIDの大きい方を採る。
func activityCTE(h Horizon, words []string, args map[string]any) string {
	postKw := LikeTerms("kw", words, []string{"p.content"}, args)
	commentKw := LikeTerms("kw", words, []string{"c.content"}, args)
	return fmt.Sprintf(`
WITH activity AS (
	SELECT p.thread_id AS thread_id, p.user_id AS user_id, p.time AS time, 0 AS kind_rank, p.id AS ref_id
	FROM pr_post p
	WHERE %s AND %s AND %s
	UNION ALL
	SELECT p.thread_id, c.user_id, c.time, 1, c.id
	FROM pr_comment c
	JOIN pr_post p ON p.id = c.post_id
	WHERE %s AND %s AND %s
),
latest AS (
	SELECT thread_id, user_id, time, kind_rank,
	       ROW_NUMBER() OVER (PARTITION BY thread_id ORDER BY time DESC, kind_rank ASC, ref_id DESC) AS rn
	FROM activity
)`,
		h.Before("p.time"), h.PostVisible("p.thread_id", "p.id"), postKw,
		h.Before("c.time"), h.PostVisible("p.thread_id", "p.id"), commentKw,
	)
}

// ThreadsAtTime は時点Tより前に活動のあるスレッドを最終活動の新しい順に返す。
// 時点Tまでに削除されたスレッドは含まない。
func (r *Resolver) ThreadsAtTime(ctx context.Context, q ThreadsQuery) (*model.ThreadList, error) {
	cutoff, err := timeutil.NormalizeCutoff(q.Datetime)
	if err != nil {
		return nil, err
	}
	h := At(cutoff)
	args := h.Args(nil)
	cte := activityCTE(h, SplitKeyword(q.Keyword), args)

	where := fmt.Sprintf("l.rn = 1 AND %s", h.ThreadVisible("l.thread_id"))
	if q.Featured {
		where += " AND " + h.Featured("l.thread_id")
	}

	var total int
	countSQL := cte + `
SELECT COUNT(*)
FROM latest l
JOIN pr_thread t ON t.id = l.thread_id
WHERE ` + where
	if err := r.store.Get(ctx, &total, countSQL, args); err != nil {
		return nil, fmt.Errorf("スレッド件数の取得に失敗しました: %w", err)
	}

	args["limit"] = LimitArg(q.Limit)
	args["offset"] = OffsetArg(q.Offset)
	listSQL := cte + fmt.Sprintf(`
SELECT l.thread_id, COALESCE(t.title, '') AS title, t.user_id AS op_user_id, l.user_id, l.time,
       COALESCE(t.reply_num, 0) AS reply_num, l.kind_rank,
       (SELECT op.content FROM pr_post op WHERE op.thread_id = l.thread_id AND op.floor = 1 ORDER BY op.id LIMIT 1) AS op_content,
       ou.username AS op_username, ou.nickname AS op_nickname,
       lu.username AS last_username, lu.nickname AS last_nickname,
       %s AS featured
FROM latest l
JOIN pr_thread t ON t.id = l.thread_id
LEFT JOIN pr_user ou ON ou.id = t.user_id
LEFT JOIN pr_user lu ON lu.id = l.user_id
WHERE %s
ORDER BY l.time DESC, l.thread_id DESC
LIMIT :limit OFFSET :offset`, h.Featured("l.thread_id"), where)

	var rows []threadRow
	if err := r.store.Select(ctx, &rows, listSQL, args); err != nil {
		return nil, fmt.Errorf("スレッド一覧の取得に失敗しました: %w", err)
	}

	threads := make([]model.Thread, 0, len(rows))
	for _, row := range rows {
		kind := model.ActivityPost
		if row.KindRank == 1 {
			kind = model.ActivityComment
		}
		threads = append(threads, model.Thread{
			ID:                row.ThreadID,
			Title:             r.content.CleanText(row.Title),
			OpUserID:          deref(row.OpUserID),
			UserID:            deref(row.UserID),
			Time:              row.Time,
			ReplyNum:          row.ReplyNum,
			Featured:          row.Featured,
			LastActivity:      kind,
			OpPostContent:     r.content.Parse(ctx, row.OpContent),
			OpUsername:        row.OpUsername,
			OpNickname:        row.OpNickname,
			LastReplyUsername: row.LastUsername,
			LastReplyNickname: row.LastNickname,
		})
	}

	return &model.ThreadList{Threads: threads, TotalCount: total}, nil
}

type postRow struct {
	ID         int64   `db:"id"`
	Floor      int64   `db:"floor"`
	UserID     *int64  `db:"user_id"`
	Content    *string `db:"content"`
	Time       string  `db:"time"`
	CommentNum *int64  `db:"comment_num"`
	Signature  *string `db:"signature"`
	Tail       *string `db:"tail"`
	Username   *string `db:"username"`
	Nickname   *string `db:"nickname"`
	Avatar     *string `db:"avatar"`
	Page       int     `db:"page"`
}

type commentRow struct {
	ID       int64   `db:"id"`
	PostID   int64   `db:"post_id"`
	UserID   *int64  `db:"user_id"`
	Content  *string `db:"content"`
	Time     string  `db:"time"`
	Username *string `db:"username"`
	Nickname *string `db:"nickname"`
	Avatar   *string `db:"avatar"`
}

// ThreadPostsAtTime はスレッド内で時点Tに可視なフロアを階数順に返す。
// 各フロアには時点Tより前のコメントと、時点Tにおけるページ番号が付く。
// limit 未指定時はページサイズ分を返す。limit 0 は件数と管理ログのみを返す。
func (r *Resolver) ThreadPostsAtTime(ctx context.Context, threadID int64, datetime string, limit, offset *int) (*model.ThreadDetail, error) {
	cutoff, err := timeutil.NormalizeCutoff(datetime)
	if err != nil {
		return nil, err
	}
	if limit == nil {
		size := r.pageSize
		limit = &size
	}
	h := At(cutoff)
	args := WithPageSize(h.Args(map[string]any{"thread_id": threadID}), r.pageSize)

	var title string
	err = r.store.Get(ctx, &title, `SELECT COALESCE(title, '') FROM pr_thread WHERE id = :thread_id`, args)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("スレッドタイトルの取得に失敗しました: %w", err)
	}

	visible := fmt.Sprintf("p.thread_id = :thread_id AND %s AND %s",
		h.Before("p.time"), h.Visible("p.thread_id", "p.id"))

	var total int
	if err := r.store.Get(ctx, &total, `SELECT COUNT(*) FROM pr_post p WHERE `+visible, args); err != nil {
		return nil, fmt.Errorf("フロア件数の取得に失敗しました: %w", err)
	}

	logs, err := r.moderationLogs(ctx, h, args)
	if err != nil {
		return nil, err
	}

	// 明示された limit はそのまま渡す（0 なら0件、負なら無制限）
	args["limit"] = int64(*limit)
	args["offset"] = OffsetArg(offset)
	var rows []postRow
	err = r.store.Select(ctx, &rows, fmt.Sprintf(`
SELECT p.id, p.floor, p.user_id, p.content, p.time, p.comment_num, p.signature, p.tail,
       u.username, u.nickname, u.avatar,
       %s AS page
FROM pr_post p
LEFT JOIN pr_user u ON u.id = p.user_id
WHERE %s
ORDER BY p.floor ASC, p.id ASC
LIMIT :limit OFFSET :offset`, h.PageExpr("p.thread_id", "p.floor"), visible), args)
	if err != nil {
		return nil, fmt.Errorf("フロア一覧の取得に失敗しました: %w", err)
	}

	posts := make([]model.Post, 0, len(rows))
	postIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		postIDs = append(postIDs, row.ID)
		posts = append(posts, model.Post{
			ID:         row.ID,
			Floor:      row.Floor,
			UserID:     deref(row.UserID),
			Content:    r.content.Parse(ctx, row.Content),
			Time:       row.Time,
			CommentNum: deref(row.CommentNum),
			Signature:  r.content.CleanOptional(row.Signature),
			Tail:       r.content.CleanOptional(row.Tail),
			Username:   row.Username,
			Nickname:   row.Nickname,
			Avatar:     row.Avatar,
			Page:       row.Page,
			Comments:   []model.Comment{},
		})
	}

	comments, err := r.commentsByPost(ctx, postIDs, cutoff)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		if cs, ok := comments[posts[i].ID]; ok {
			posts[i].Comments = cs
		}
	}

	return &model.ThreadDetail{
		Posts:          posts,
		TotalCount:     total,
		ThreadTitle:    r.content.CleanText(title),
		ModerationLogs: logs,
	}, nil
}

// commentsByPost は指定フロア群の時点Tより前のコメントを一括取得し、フロアIDごとに返す。
func (r *Resolver) commentsByPost(ctx context.Context, postIDs []int64, cutoff string) (map[int64][]model.Comment, error) {
	out := make(map[int64][]model.Comment)
	if len(postIDs) == 0 {
		return out, nil
	}

	var rows []commentRow
	err := r.store.SelectIn(ctx, &rows, `
SELECT c.id, c.post_id, c.user_id, c.content, c.time, u.username, u.nickname, u.avatar
FROM pr_comment c
LEFT JOIN pr_user u ON u.id = c.user_id
WHERE c.post_id IN (?) AND c.time < ?
ORDER BY c.time ASC, c.id ASC`, postIDs, cutoff)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}

	for _, row := range rows {
		out[row.PostID] = append(out[row.PostID], model.Comment{
			ID:       row.ID,
			PostID:   row.PostID,
			UserID:   deref(row.UserID),
			Content:  r.content.Parse(ctx, row.Content),
			Time:     row.Time,
			Username: row.Username,
			Nickname: row.Nickname,
			Avatar:   row.Avatar,
		})
	}
	return out, nil
}

// moderationLogs はスレッドに対する時点Tより前の管理ログを古い順に返す。
// 操作者・対象者のユーザーIDはユーザー名からの参考値で、行を増やさないよう1件に絞る。
func (r *Resolver) moderationLogs(ctx context.Context, h Horizon, args map[string]any) ([]model.ModerationLog, error) {
	logs := []model.ModerationLog{}
	err := r.store.Select(ctx, &logs, fmt.Sprintf(`
SELECT u.thread_id, u.post_id, u.title, u.content_preview, u.media, u.username, u.post_time,
       u.operation, u.operator, u.operation_time,
       %s AS operator_id,
       %s AS target_user_id
FROM un_post u
WHERE u.thread_id = :thread_id
  AND %s
  AND %s
ORDER BY u.operation_time ASC, u.rowid DESC`,
		UserIDByName("u.operator"), UserIDByName("u.username"),
		h.Before("u.operation_time"), NotMaintenance("u.operation_time")), args)
	if err != nil {
		return nil, fmt.Errorf("管理ログの取得に失敗しました: %w", err)
	}
	for i := range logs {
		logs[i].ContentPreview = r.content.CleanOptional(logs[i].ContentPreview)
	}
	return logs, nil
}

// UserIDByName はユーザー名列から pr_user.id を1件引く相関サブクエリを返す。
// ユーザー名は一意でないため、最小IDを採る。
func UserIDByName(col string) string {
	return fmt.Sprintf("(SELECT id FROM pr_user WHERE username = %s ORDER BY id LIMIT 1)", col)
}
