package model

import (
	"errors"
	"fmt"
)

// 分類用のセンチネルエラー。errors.Is で判定する。
var (
	// ErrStoreUnavailable はアーカイブ未初期化のままクエリが届いたことを示す。
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCorrupt はアーカイブのバイト列を解釈できなかったことを示す。致命的。
	ErrCorrupt = errors.New("archive corrupt")
	// ErrInvalidArgument は未知のリクエスト種別や不正なパラメータを示す。
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTransientIO はアーカイブのダウンロード失敗を示す。再試行可能。
	ErrTransientIO = errors.New("archive fetch failed")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: archive, validation, system
	Action   string // ユーザー向け対処方法
	Err      error  // 分類用のセンチネル
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は errors.Is でセンチネルと照合できるようにする。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeArchiveCorrupt   = "ARCHIVE_CORRUPT"
	ErrCodeInvalidArgument  = "INVALID_ARGUMENT"
	ErrCodeFetchFailed      = "ARCHIVE_FETCH_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewStoreUnavailableError はアーカイブ未初期化エラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "アーカイブがまだ読み込まれていません。",
		Category: "archive",
		Action:   "init リクエストで初期化を完了してから再度お試しください。",
		Err:      ErrStoreUnavailable,
	}
}

// NewCorruptError はアーカイブ破損エラーを生成する。
func NewCorruptError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeArchiveCorrupt,
		Message:  fmt.Sprintf("アーカイブを読み込めませんでした: %s", reason),
		Category: "archive",
		Action:   "アーカイブファイルとバージョン指定を確認してください。",
		Err:      ErrCorrupt,
	}
}

// NewInvalidArgumentError は不正な引数エラーを生成する。
func NewInvalidArgumentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArgument,
		Message:  fmt.Sprintf("無効なリクエストです: %s", reason),
		Category: "validation",
		Action:   "リクエスト種別とパラメータを確認してください。",
		Err:      ErrInvalidArgument,
	}
}

// NewFetchFailedError はアーカイブ取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("アーカイブの取得に失敗しました: %s", reason),
		Category: "archive",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      ErrTransientIO,
	}
}

// NewNotFoundError は単一エンティティが見つからない場合のエラーを生成する。
// クエリ層では使わず、REST層で404を返すときのみ使用する。
func NewNotFoundError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません。", what),
		Category: "validation",
		Action:   "IDを確認してください。",
	}
}

// FromCode はエラーコードとメッセージから APIError を復元する。
// プロトコル越しに受け取ったエラーを errors.Is で分類できるようにするために使う。
func FromCode(code, message string) *APIError {
	var base *APIError
	switch code {
	case ErrCodeStoreUnavailable:
		base = NewStoreUnavailableError()
	case ErrCodeArchiveCorrupt:
		base = NewCorruptError("")
	case ErrCodeInvalidArgument:
		base = NewInvalidArgumentError("")
	case ErrCodeFetchFailed:
		base = NewFetchFailedError("")
	case ErrCodeNotFound:
		base = NewNotFoundError("")
	default:
		base = &APIError{
			Code:     ErrCodeInternal,
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}
	base.Message = message
	return base
}

// AsAPIError は任意のエラーをAPIErrorに変換する。
// 既にAPIErrorを含む場合はそれを返し、センチネルのみの場合は対応するAPIErrorを組み立てる。
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return NewStoreUnavailableError()
	case errors.Is(err, ErrCorrupt):
		return NewCorruptError(err.Error())
	case errors.Is(err, ErrInvalidArgument):
		return NewInvalidArgumentError(err.Error())
	case errors.Is(err, ErrTransientIO):
		return NewFetchFailedError(err.Error())
	}
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
