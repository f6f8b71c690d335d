// Package search はキーワードによる横断検索を提供する。
//
// 検索語は空白で分割され、すべての語が（語ごとに対象列のいずれかに）一致する行を返す。
// 本文検索（global / user）はスレッド・フロア・コメントを、管理ログ検索（moderation）は
// 投稿系・ユーザー系・吧務系の管理ログを、それぞれ1つのUNIONにまとめて時刻の新しい順に並べ、
// UNION全体に対してページングと件数計算を行う。
package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/timevault/internal/archive"
	"github.com/hitoshi/timevault/internal/content"
	"github.com/hitoshi/timevault/internal/model"
	"github.com/hitoshi/timevault/internal/timeutil"
	"github.com/hitoshi/timevault/internal/visibility"
)

// DefaultLimit は limit 未指定時の件数。
const DefaultLimit = 200

// Engine は検索エンジン。
type Engine struct {
	store    *archive.Store
	content  *content.Normalizer
	pageSize int
	logger   *slog.Logger
}

// NewEngine は Engine を生成する。
func NewEngine(store *archive.Store, normalizer *content.Normalizer, pageSize int, logger *slog.Logger) *Engine {
	if pageSize <= 0 {
		pageSize = visibility.DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if normalizer == nil {
		normalizer = content.NewNormalizer(store, logger)
	}
	return &Engine{store: store, content: normalizer, pageSize: pageSize, logger: logger}
}

// Search は検索を実行する。スコープが不正な場合はクエリを発行せずに ErrInvalidArgument を返す。
// 検索語が空の場合はクエリを発行せずに空の結果を返す。
func (e *Engine) Search(ctx context.Context, opts model.SearchOptions) (*model.SearchResponse, error) {
	if opts.Scope == "" {
		opts.Scope = model.ScopeGlobal
	}
	if !opts.Scope.Valid() {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("不明な検索スコープ %q", opts.Scope))
	}
	if opts.Scope == model.ScopeUser && opts.UserID == nil {
		return nil, model.NewInvalidArgumentError("user スコープには userId が必要です")
	}

	h := visibility.Unbounded()
	if opts.SnapshotTime != "" {
		cutoff, err := timeutil.Normalize(opts.SnapshotTime)
		if err != nil {
			return nil, err
		}
		h = visibility.At(cutoff)
	}

	words := visibility.SplitKeyword(opts.Keyword)
	if len(words) == 0 {
		return &model.SearchResponse{Items: []model.SearchResult{}, TotalCount: 0}, nil
	}

	limit := DefaultLimit
	if opts.Limit != nil {
		limit = *opts.Limit
	}
	offset := 0
	if opts.Offset != nil && *opts.Offset > 0 {
		offset = *opts.Offset
	}

	args := visibility.WithPageSize(h.Args(nil), e.pageSize)
	args["limit"] = int64(limit)
	args["offset"] = int64(offset)

	if opts.Scope == model.ScopeModeration {
		return e.searchModeration(ctx, h, words, args)
	}
	return e.searchContent(ctx, h, words, opts, args)
}

// paginate はUNIONの件数とページを取得する。件数とページは同じ述語から計算される。
func paginate[T any](ctx context.Context, store *archive.Store, union, orderBy string, args map[string]any) (int, []T, error) {
	var total int
	if err := store.Get(ctx, &total, `SELECT COUNT(*) FROM (`+union+`)`, args); err != nil {
		return 0, nil, fmt.Errorf("検索件数の取得に失敗しました: %w", err)
	}

	var rows []T
	query := `SELECT * FROM (` + union + `) ORDER BY ` + orderBy + ` LIMIT :limit OFFSET :offset`
	if err := store.Select(ctx, &rows, query, args); err != nil {
		return 0, nil, fmt.Errorf("検索結果の取得に失敗しました: %w", err)
	}
	return total, rows, nil
}
