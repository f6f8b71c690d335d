// Package cleanup は古いバージョンのデータを定期的に削除するジョブを提供する。
// 結果キャッシュの他バージョンのエントリと、ディスク上の他バージョンのアーカイブを対象にする。
// どちらの削除もベストエフォートで、失敗はログに記録するのみ。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// CachePurger は現在のバージョン以外の結果キャッシュを削除する。cache.Cache が実装する。
type CachePurger interface {
	PurgeStale(ctx context.Context) int64
}

// ArchivePurger は現在のバージョン以外のアーカイブファイルを削除する。loader.Loader が実装する。
type ArchivePurger interface {
	PurgeOtherVersions() int
}

// Result は1回の実行結果。
type Result struct {
	CacheEntries int64
	ArchiveFiles int
}

// CleanupJob は古いバージョンの削除ジョブ。冪等。
type CleanupJob struct {
	cache    CachePurger
	archives ArchivePurger
	logger   *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。どちらの削除対象も nil でよい。
func NewCleanupJob(cache CachePurger, archives ArchivePurger, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		cache:    cache,
		archives: archives,
		logger:   logger,
	}
}

// Run は古いバージョンのキャッシュとアーカイブを削除する。
func (j *CleanupJob) Run(ctx context.Context) Result {
	start := time.Now()

	var res Result
	if j.cache != nil {
		res.CacheEntries = j.cache.PurgeStale(ctx)
	}
	if j.archives != nil {
		res.ArchiveFiles = j.archives.PurgeOtherVersions()
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("cache_entries", res.CacheEntries),
		slog.Int("archive_files", res.ArchiveFiles),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res
}

// Scheduler は CleanupJob を cron 式に従って実行する。
type Scheduler struct {
	cron *cron.Cron
}

// Schedule は schedule（標準5フィールドまたは @daily などの記述子）でジョブを登録し、実行を開始する。
func Schedule(schedule string, job *CleanupJob, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(schedule, func() {
		job.Run(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("クリーンアップのスケジュール %q が不正です: %w", schedule, err)
	}
	c.Start()
	logger.Info("クリーンアップジョブをスケジュールしました", slog.String("schedule", schedule))
	return &Scheduler{cron: c}, nil
}

// Next は次回の実行予定時刻を返す。
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop はスケジュールを止め、実行中のジョブの完了を待つ。
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger は cron.Logger を slog に橋渡しする。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
