package loader

import "time"

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultStop は再試行しても結果が変わらないステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultRetry はバックオフ後に再試行するステータス（429/5xx）。
	FetchResultRetry
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	maxBackoff            = 10 * time.Second
)

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 404 || statusCode == 410:
		return FetchResultStop
	case statusCode == 401 || statusCode == 403:
		return FetchResultStop
	case statusCode == 429:
		return FetchResultRetry
	case statusCode >= 500:
		return FetchResultRetry
	default:
		return FetchResultUnknown
	}
}

// CalculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// initial から2倍ずつ増加し、最大10秒。
func CalculateBackoff(initial time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
