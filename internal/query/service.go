// Package query はリクエスト種別ごとのペイロードを解釈し、アーカイブへのクエリを実行する。
//
// 結果はJSONへ直列化した形で返し、キャッシュが設定されていれば読み通しで保存する。
// init はクエリではないため、このパッケージでは扱わない。
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/timevault/internal/archive"
	"github.com/hitoshi/timevault/internal/cache"
	"github.com/hitoshi/timevault/internal/content"
	"github.com/hitoshi/timevault/internal/metrics"
	"github.com/hitoshi/timevault/internal/model"
	"github.com/hitoshi/timevault/internal/search"
	"github.com/hitoshi/timevault/internal/timeutil"
	"github.com/hitoshi/timevault/internal/visibility"
)

// Service はアーカイブ1つ分のクエリ実行を担う。
type Service struct {
	store    *archive.Store
	resolver *visibility.Resolver
	engine   *search.Engine
	cache    *cache.Cache
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewService は Service を生成する。c が nil の場合はキャッシュを使わない。
func NewService(store *archive.Store, c *cache.Cache, pageSize int, collector metrics.MetricsCollector, logger *slog.Logger) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	normalizer := content.NewNormalizer(store, logger)
	return &Service{
		store:    store,
		resolver: visibility.NewResolver(store, normalizer, pageSize, logger),
		engine:   search.NewEngine(store, normalizer, pageSize, logger),
		cache:    c,
		metrics:  collector,
		logger:   logger,
	}
}

// Close はアーカイブを閉じる。
func (s *Service) Close() error {
	return s.store.Close()
}

type runFunc func(ctx context.Context) (json.RawMessage, error)

// Execute はリクエストを実行し、直列化済みの結果を返す。
// 未知の種別や解釈できないペイロードは ErrInvalidArgument になる。
func (s *Service) Execute(ctx context.Context, reqType string, payload json.RawMessage) (json.RawMessage, error) {
	start := time.Now()

	params, run, err := s.prepare(reqType, payload)
	if err != nil {
		s.metrics.RecordQuery(metricLabel(reqType), time.Since(start), err)
		return nil, err
	}

	var out json.RawMessage
	if s.cache != nil {
		out, _, err = s.cache.Do(ctx, reqType, params, run)
	} else {
		out, err = run(ctx)
	}
	s.metrics.RecordQuery(reqType, time.Since(start), err)

	if err != nil {
		s.logger.Warn("query failed",
			slog.String("type", reqType),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return out, nil
}

// metricLabel は未知の種別をまとめ、ラベルの種類が増えないようにする。
func metricLabel(reqType string) string {
	if slices.Contains(Types, reqType) {
		return reqType
	}
	return "unknown"
}

// prepare はペイロードを型付きパラメータへ変換して正規化し、実行関数と組で返す。
// 正規化後のパラメータがキャッシュキーになる。
func (s *Service) prepare(reqType string, payload json.RawMessage) (any, runFunc, error) {
	switch reqType {
	case TypeGetThreadsAtTime:
		var p ThreadsParams
		if err := decode(payload, &p); err != nil {
			return nil, nil, err
		}
		cutoff, err := timeutil.NormalizeCutoff(p.Datetime)
		if err != nil {
			return nil, nil, model.NewInvalidArgumentError(err.Error())
		}
		p.Datetime = cutoff
		p.Keyword = strings.TrimSpace(p.Keyword)
		return p, func(ctx context.Context) (json.RawMessage, error) {
			return marshal(s.resolver.ThreadsAtTime(ctx, visibility.ThreadsQuery{
				Datetime: p.Datetime,
				Keyword:  p.Keyword,
				Limit:    p.Limit,
				Offset:   p.Offset,
				Featured: p.Featured,
			}))
		}, nil

	case TypeGetThreadPostsAtTime:
		var p ThreadPostsParams
		if err := decode(payload, &p); err != nil {
			return nil, nil, err
		}
		cutoff, err := timeutil.NormalizeCutoff(p.Datetime)
		if err != nil {
			return nil, nil, model.NewInvalidArgumentError(err.Error())
		}
		p.Datetime = cutoff
		return p, func(ctx context.Context) (json.RawMessage, error) {
			return marshal(s.resolver.ThreadPostsAtTime(ctx, p.ThreadID, p.Datetime, p.Limit, p.Offset))
		}, nil

	case TypeSearch:
		var p SearchParams
		if err := decode(payload, &p); err != nil {
			return nil, nil, err
		}
		if p.SnapshotTime != "" {
			snapshot, err := timeutil.Normalize(p.SnapshotTime)
			if err != nil {
				return nil, nil, model.NewInvalidArgumentError(err.Error())
			}
			p.SnapshotTime = snapshot
		}
		return p, func(ctx context.Context) (json.RawMessage, error) {
			return marshal(s.engine.Search(ctx, p))
		}, nil

	case TypeSearchThreads:
		var p KeywordParams
		if err := decode(payload, &p); err != nil {
			return nil, nil, err
		}
		return p, func(ctx context.Context) (json.RawMessage, error) {
			return marshal(s.engine.Search(ctx, model.SearchOptions{Scope: model.ScopeGlobal, Keyword: p.Keyword}))
		}, nil

	case TypeGetUserPostsAtTime:
		var p UserPostsParams
		if err := decode(payload, &p); err != nil {
			return nil, nil, err
		}
		cutoff, err := timeutil.NormalizeCutoff(p.Datetime)
		if err != nil {
			return nil, nil, model.NewInvalidArgumentError(err.Error())
		}
		p.Datetime = cutoff
		return p, func(ctx context.Context) (json.RawMessage, error) {
			return marshal(s.resolver.UserPostsAtTime(ctx, p.UserID, p.Datetime, p.Limit, p.Offset))
		}, nil

	case TypeGetUserByID:
		var p UserIDParams
		if err := decode(payload, &p); err != nil {
			return nil, nil, err
		}
		return p, func(ctx context.Context) (json.RawMessage, error) {
			return marshal(s.store.UserByID(ctx, p.UserID))
		}, nil

	case TypeGetUserByUsername:
		var p UsernameParams
		if err := decode(payload, &p); err != nil {
			return nil, nil, err
		}
		return p, func(ctx context.Context) (json.RawMessage, error) {
			return marshal(s.store.UserByUsername(ctx, p.Username))
		}, nil

	case TypeGetVideoMetadata:
		var p VideoParams
		if err := decode(payload, &p); err != nil {
			return nil, nil, err
		}
		return p, func(ctx context.Context) (json.RawMessage, error) {
			return marshal(s.store.VideoMetadata(ctx, p.ID))
		}, nil

	case TypeInit:
		return nil, nil, model.NewInvalidArgumentError("init はクエリとして実行できません")
	}
	return nil, nil, model.NewInvalidArgumentError(fmt.Sprintf("不明なリクエスト種別 %q", reqType))
}

// decode はペイロードを dst に読み込む。空または null の場合はゼロ値のままにする。
func decode(payload json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return model.NewInvalidArgumentError(fmt.Sprintf("ペイロードを解釈できません: %v", err))
	}
	return nil
}

// marshal はクエリ結果を直列化する。結果が nil ポインタなら null になる。
func marshal[T any](v T, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("結果の直列化に失敗しました: %w", err)
	}
	return b, nil
}
