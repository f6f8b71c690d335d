// Package loader はアーカイブスナップショットのバイト列を取得する。
//
// 取得元は http(s) URL またはローカルパス。取得したバイト列はバージョンタグ付きの
// ファイル名でディスクにキャッシュし、他バージョンのファイルはベストエフォートで削除する。
// ダウンロードの失敗はすべて再試行可能なエラー（model.ErrTransientIO）として返す。
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hitoshi/timevault/internal/model"
)

// VersionPlaceholder は Source 中でバージョンタグに置換される文字列。
const VersionPlaceholder = "{version}"

// ClientProvider はURL検証と取得用HTTPクライアントの生成を行う。
// security.Guard が実装する。
type ClientProvider interface {
	ValidateURL(rawURL string) error
	Client(rawURL string, timeout time.Duration) *http.Client
}

// Config はローダーの設定。
type Config struct {
	Source         string        // http(s) URL またはローカルパス
	Version        string        // キャッシュファイル名に埋め込むバージョンタグ
	CacheDir       string        // 空の場合はディスクキャッシュを使わない
	SHA256         string        // 空の場合は検証しない
	Timeout        time.Duration // 1回のダウンロードのタイムアウト
	MaxSize        int64         // 0 の場合は無制限
	MaxAttempts    int           // 0 以下の場合は3
	InitialBackoff time.Duration // 0 の場合は500ms
}

// Loader はアーカイブを取得する。
type Loader struct {
	cfg    Config
	guard  ClientProvider
	logger *slog.Logger
}

// New は Loader を生成する。
func New(cfg Config, guard ClientProvider, logger *slog.Logger) *Loader {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, guard: guard, logger: logger}
}

// Version はバージョンタグを返す。
func (l *Loader) Version() string {
	return l.cfg.Version
}

// Source はバージョンタグを埋め込んだ取得元を返す。
func (l *Loader) Source() string {
	return strings.ReplaceAll(l.cfg.Source, VersionPlaceholder, l.cfg.Version)
}

// CachePath はこのバージョンのキャッシュファイルのパスを返す。
func (l *Loader) CachePath() string {
	if l.cfg.CacheDir == "" {
		return ""
	}
	v := strings.NewReplacer("/", "_", `\`, "_").Replace(l.cfg.Version)
	return filepath.Join(l.cfg.CacheDir, "vault-"+v+".db")
}

// Load はアーカイブのバイト列を返す。
// ディスクキャッシュがあればそれを使い、なければ取得元から読み込んでキャッシュする。
func (l *Loader) Load(ctx context.Context, progress ProgressFunc) ([]byte, error) {
	if data, ok := l.readCache(progress); ok {
		l.PurgeOtherVersions()
		return data, nil
	}

	start := time.Now()
	data, err := l.fetch(ctx, progress)
	if err != nil {
		return nil, err
	}
	if err := l.verify(data); err != nil {
		return nil, err
	}

	l.logger.Info("アーカイブを取得しました",
		slog.String("source", l.Source()),
		slog.String("version", l.cfg.Version),
		slog.Int("bytes", len(data)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	l.writeCache(data)
	l.PurgeOtherVersions()
	return data, nil
}

// readCache はディスクキャッシュを読み込む。検証に失敗したファイルは削除する。
func (l *Loader) readCache(progress ProgressFunc) ([]byte, bool) {
	path := l.CachePath()
	if path == "" {
		return nil, false
	}
	data, err := readFile(path, progress)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("archive cache read failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil, false
	}
	if err := l.verify(data); err != nil {
		l.logger.Warn("キャッシュ済みアーカイブのハッシュが一致しないため再取得します",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if rmErr := os.Remove(path); rmErr != nil {
			l.logger.Warn("archive cache remove failed", slog.String("path", path), slog.String("error", rmErr.Error()))
		}
		return nil, false
	}
	l.logger.Info("キャッシュ済みアーカイブを使用します", slog.String("path", path), slog.Int("bytes", len(data)))
	return data, true
}

func (l *Loader) fetch(ctx context.Context, progress ProgressFunc) ([]byte, error) {
	src := l.Source()
	if !isRemote(src) {
		data, err := readFile(src, progress)
		if err != nil {
			return nil, model.NewFetchFailedError(fmt.Sprintf("ローカルファイルの読み込みに失敗しました: %v", err))
		}
		return data, nil
	}

	if err := l.guard.ValidateURL(src); err != nil {
		l.logger.Error("アーカイブURLの検証に失敗しました", slog.String("source", src), slog.String("error", err.Error()))
		return nil, model.NewFetchFailedError(fmt.Sprintf("URL検証失敗: %v", err))
	}
	client := l.guard.Client(src, l.cfg.Timeout)

	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, CalculateBackoff(l.cfg.InitialBackoff, attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		data, retry, err := l.download(ctx, client, src, progress)
		if err == nil {
			return data, nil
		}
		lastErr = err
		l.logger.Warn("アーカイブのダウンロードに失敗しました",
			slog.String("source", src),
			slog.Int("attempt", attempt+1),
			slog.Bool("retry", retry && attempt+1 < l.cfg.MaxAttempts),
			slog.String("error", err.Error()),
		)
		if !retry {
			break
		}
	}
	return nil, model.NewFetchFailedError(lastErr.Error())
}

// download は1回分のダウンロードを行う。retry は再試行の価値があるかどうか。
func (l *Loader) download(ctx context.Context, client *http.Client, src string, progress ProgressFunc) (data []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, false, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Timevault/1.0 Archive Loader")

	resp, err := client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultRetry:
		return nil, true, fmt.Errorf("HTTPステータス %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("HTTPステータス %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	if l.cfg.MaxSize > 0 && total > l.cfg.MaxSize {
		return nil, false, fmt.Errorf("アーカイブが上限サイズを超えています: %d > %d", total, l.cfg.MaxSize)
	}
	if progress != nil {
		progress(StageLoading, 0, total)
	}

	pr := newProgressReader(resp.Body, total, progress)
	var r io.Reader = pr
	if l.cfg.MaxSize > 0 {
		r = io.LimitReader(pr, l.cfg.MaxSize+1)
	}
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, true, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	pr.finish()

	if l.cfg.MaxSize > 0 && int64(len(data)) > l.cfg.MaxSize {
		return nil, false, fmt.Errorf("アーカイブが上限サイズを超えています: > %d", l.cfg.MaxSize)
	}
	if total > 0 && int64(len(data)) != total {
		return nil, true, fmt.Errorf("レスポンスが途中で切れました: %d / %d", len(data), total)
	}
	return data, false, nil
}

func (l *Loader) verify(data []byte) error {
	if l.cfg.SHA256 == "" {
		return nil
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, l.cfg.SHA256) {
		return model.NewFetchFailedError(fmt.Sprintf("SHA-256が一致しません: got %s, want %s", got, l.cfg.SHA256))
	}
	return nil
}

// writeCache はバイト列をキャッシュファイルに書き込む。失敗はログのみ。
func (l *Loader) writeCache(data []byte) {
	path := l.CachePath()
	if path == "" {
		return
	}
	if err := writeFileAtomic(path, data); err != nil {
		l.logger.Warn("archive cache write failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// PurgeOtherVersions は他バージョンのキャッシュファイルを削除し、削除件数を返す。
// 失敗はログに記録して無視する。
func (l *Loader) PurgeOtherVersions() int {
	keep := l.CachePath()
	if keep == "" {
		return 0
	}
	matches, err := filepath.Glob(filepath.Join(l.cfg.CacheDir, "vault-*.db"))
	if err != nil {
		l.logger.Warn("archive cache purge failed", slog.String("error", err.Error()))
		return 0
	}
	removed := 0
	for _, m := range matches {
		if m == keep {
			continue
		}
		if err := os.Remove(m); err != nil {
			l.logger.Warn("archive cache purge failed", slog.String("path", m), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	if removed > 0 {
		l.logger.Info("古いバージョンのアーカイブを削除しました", slog.Int("removed", removed))
	}
	return removed
}

func isRemote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func readFile(path string, progress ProgressFunc) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(StageLoading, 0, info.Size())
	}
	pr := newProgressReader(f, info.Size(), progress)
	data, err := io.ReadAll(pr)
	if err != nil {
		return nil, err
	}
	pr.finish()
	return data, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("キャッシュディレクトリの作成に失敗しました: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "vault-*.tmp")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
