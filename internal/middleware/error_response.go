package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/timevault/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ErrCodeRateLimited はレート制限超過時のエラーコード。
const ErrCodeRateLimited = "RATE_LIMITED"

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError は任意のエラーを分類し、対応するステータスで書き込む。
func WriteError(w http.ResponseWriter, err error) {
	apiErr := model.AsAPIError(err)
	WriteErrorResponse(w, StatusFor(apiErr), apiErr)
}

// StatusFor はAPIErrorをHTTPステータスコードに変換する。
func StatusFor(apiErr *model.APIError) int {
	switch {
	case errors.Is(apiErr, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(apiErr, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(apiErr, model.ErrTransientIO):
		return http.StatusBadGateway
	case errors.Is(apiErr, model.ErrCorrupt):
		return http.StatusInternalServerError
	}
	switch apiErr.Code {
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
