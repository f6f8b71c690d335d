// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲートウェイ・キャッシュ・ローダー・HTTP層から利用する。
type MetricsCollector interface {
	RecordQuery(queryType string, duration time.Duration, err error)
	RecordCacheLookup(queryType string, hit bool)
	RecordCacheError(op string)
	RecordArchiveLoad(duration time.Duration, bytes int64, err error)
	RecordHTTPStatus(statusCode int)
	SetAttachedPorts(n int)
	SetEngineState(state string)
}

// EngineStates はエンジン状態ゲージのラベル値。
var EngineStates = []string{"uninitialized", "initializing", "ready", "failed"}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	queries       *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	cacheErrors   *prometheus.CounterVec
	archiveLoads  *prometheus.CounterVec
	archiveBytes  prometheus.Gauge
	archiveLoadDu prometheus.Histogram
	httpStatus    *prometheus.CounterVec
	attachedPorts prometheus.Gauge
	engineState   *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timevault_queries_total",
			Help: "リクエスト種別・結果別のクエリ実行数",
		}, []string{"type", "result"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timevault_query_duration_seconds",
			Help:    "クエリ実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timevault_cache_lookups_total",
			Help: "結果キャッシュの参照数",
		}, []string{"type", "result"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timevault_cache_errors_total",
			Help: "握りつぶされた結果キャッシュのエラー数",
		}, []string{"op"}),
		archiveLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timevault_archive_loads_total",
			Help: "アーカイブ読み込みの試行数",
		}, []string{"result"}),
		archiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timevault_archive_bytes",
			Help: "読み込み済みアーカイブのサイズ（バイト）",
		}),
		archiveLoadDu: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timevault_archive_load_duration_seconds",
			Help:    "アーカイブ読み込み時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timevault_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		attachedPorts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timevault_attached_ports",
			Help: "共有エンジンに接続中のポート数",
		}),
		engineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timevault_engine_state",
			Help: "エンジンの現在状態（該当状態のみ1）",
		}, []string{"state"}),
	}

	reg.MustRegister(
		c.queries,
		c.queryLatency,
		c.cacheLookups,
		c.cacheErrors,
		c.archiveLoads,
		c.archiveBytes,
		c.archiveLoadDu,
		c.httpStatus,
		c.attachedPorts,
		c.engineState,
	)

	return c
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordQuery はクエリ実行を記録する。
func (c *Collector) RecordQuery(queryType string, duration time.Duration, err error) {
	c.queries.WithLabelValues(queryType, resultLabel(err)).Inc()
	c.queryLatency.WithLabelValues(queryType).Observe(duration.Seconds())
}

// RecordCacheLookup はキャッシュ参照のヒット・ミスを記録する。
func (c *Collector) RecordCacheLookup(queryType string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(queryType, result).Inc()
}

// RecordCacheError はキャッシュ操作の失敗を記録する。op は get / put / purge。
func (c *Collector) RecordCacheError(op string) {
	c.cacheErrors.WithLabelValues(op).Inc()
}

// RecordArchiveLoad はアーカイブ読み込みを記録する。
func (c *Collector) RecordArchiveLoad(duration time.Duration, bytes int64, err error) {
	c.archiveLoads.WithLabelValues(resultLabel(err)).Inc()
	c.archiveLoadDu.Observe(duration.Seconds())
	if err == nil {
		c.archiveBytes.Set(float64(bytes))
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetAttachedPorts は接続中ポート数を設定する。
func (c *Collector) SetAttachedPorts(n int) {
	c.attachedPorts.Set(float64(n))
}

// SetEngineState はエンジン状態を設定する。
func (c *Collector) SetEngineState(state string) {
	for _, s := range EngineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.engineState.WithLabelValues(s).Set(v)
	}
}

// Nop は何も記録しない MetricsCollector。
type Nop struct{}

func (Nop) RecordQuery(string, time.Duration, error)      {}
func (Nop) RecordCacheLookup(string, bool)                {}
func (Nop) RecordCacheError(string)                       {}
func (Nop) RecordArchiveLoad(time.Duration, int64, error) {}
func (Nop) RecordHTTPStatus(int)                          {}
func (Nop) SetAttachedPorts(int)                          {}
func (Nop) SetEngineState(string)                         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
