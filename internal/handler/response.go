package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/timevault/internal/middleware"
	"github.com/hitoshi/timevault/internal/model"
)

// Querier はリクエスト種別とペイロードを受け取り、結果のJSONを返す。
// gateway.Client が実装する。
type Querier interface {
	Do(ctx context.Context, reqType string, payload any) (json.RawMessage, error)
}

var jsonNull = []byte("null")

// writeJSON は任意の値をJSONで書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRaw はクエリ結果のJSONをそのまま200で書き込む。
func writeRaw(w http.ResponseWriter, data json.RawMessage) {
	if len(data) == 0 {
		data = jsonNull
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// writeEntity は単一エンティティの結果を書き込む。null の場合は404を返す。
func writeEntity(w http.ResponseWriter, data json.RawMessage, what string) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		apiErr := model.NewNotFoundError(what)
		middleware.WriteErrorResponse(w, http.StatusNotFound, apiErr)
		return
	}
	writeRaw(w, data)
}

// writeInvalid は不正なパラメータに400を返す。
func writeInvalid(w http.ResponseWriter, reason string) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError(reason))
}

// pathInt64 はURLパスパラメータを整数として取り出す。
func pathInt64(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// queryInt は省略可能な整数クエリパラメータを取り出す。
func queryInt(q url.Values, name string) (*int, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// queryBool は省略可能な真偽値クエリパラメータを取り出す。省略時は false。
func queryBool(q url.Values, name string) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// pagination は limit と offset をまとめて取り出す。
func pagination(q url.Values) (limit, offset *int, bad string) {
	limit, err := queryInt(q, "limit")
	if err != nil {
		return nil, nil, "limit は整数で指定してください"
	}
	offset, err = queryInt(q, "offset")
	if err != nil {
		return nil, nil, "offset は整数で指定してください"
	}
	return limit, offset, ""
}

func writeNotFoundRoute(w http.ResponseWriter) {
	apiErr := model.NewNotFoundError("エンドポイント")
	middleware.WriteErrorResponse(w, http.StatusNotFound, apiErr)
}
