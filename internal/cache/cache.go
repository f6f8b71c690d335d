package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/timevault/internal/metrics"
)

// Cache はバージョン付きの読み通しキャッシュ。
// 保存先の失敗はログに記録して握りつぶし、クエリ自体は失敗させない。
type Cache struct {
	store   Store
	version string
	group   singleflight.Group
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// New は Cache を生成する。collector が nil の場合はメトリクスを記録しない。
func New(store Store, version string, collector metrics.MetricsCollector, logger *slog.Logger) *Cache {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, version: version, metrics: collector, logger: logger}
}

// Version はキャッシュのバージョンタグを返す。
func (c *Cache) Version() string {
	return c.version
}

// Key はリクエスト種別とパラメータからキャッシュキーを求める。
// パラメータは一度JSONへ変換し直し、マップのキー順に依存しない形にしてからハッシュする。
func Key(queryType string, params any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache params: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return "", fmt.Errorf("failed to normalize cache params: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache params: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(queryType))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Do はキャッシュを参照し、ヒットすれば保存済みの値を返す。
// ミスの場合は fn を実行して結果を保存する。同じキーの同時実行は1回にまとめる。
// hit は値がキャッシュから返されたかどうか。
func (c *Cache) Do(ctx context.Context, queryType string, params any, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	key, err := Key(queryType, params)
	if err != nil {
		c.logger.Warn("キャッシュキーの生成に失敗しました。キャッシュを使わずに実行します",
			slog.String("type", queryType),
			slog.String("error", err.Error()),
		)
		v, err := fn(ctx)
		return v, false, err
	}

	if v, ok := c.get(ctx, queryType, key); ok {
		c.metrics.RecordCacheLookup(queryType, true)
		return v, true, nil
	}
	c.metrics.RecordCacheLookup(queryType, false)

	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.put(ctx, queryType, key, v)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.(json.RawMessage), false, nil
}

func (c *Cache) get(ctx context.Context, queryType, key string) (json.RawMessage, bool) {
	v, ok, err := c.store.Get(ctx, c.version, key)
	if err != nil {
		c.metrics.RecordCacheError("get")
		c.logger.Warn("cache read failed",
			slog.String("type", queryType),
			slog.String("version", c.version),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if !ok || !json.Valid(v) {
		return nil, false
	}
	return json.RawMessage(v), true
}

func (c *Cache) put(ctx context.Context, queryType, key string, v json.RawMessage) {
	if err := c.store.Put(ctx, c.version, key, queryType, v); err != nil {
		c.metrics.RecordCacheError("put")
		c.logger.Warn("cache write failed",
			slog.String("type", queryType),
			slog.String("version", c.version),
			slog.String("error", err.Error()),
		)
	}
}

// PurgeStale は現在のバージョン以外のエントリを削除する。
// 失敗はログに記録するのみで、呼び出し元には削除件数だけを返す。
func (c *Cache) PurgeStale(ctx context.Context) int64 {
	n, err := c.store.PurgeOtherVersions(ctx, c.version)
	if err != nil {
		c.metrics.RecordCacheError("purge")
		c.logger.Warn("古いバージョンのキャッシュ削除に失敗しました",
			slog.String("version", c.version),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if n > 0 {
		c.logger.Info("古いバージョンのキャッシュを削除しました",
			slog.String("version", c.version),
			slog.Int64("deleted_count", n),
		)
	}
	return n
}
