package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/timevault/internal/middleware"
	"github.com/hitoshi/timevault/internal/query"
)

// UserHandler はユーザー情報とユーザー履歴のHTTPハンドラー。
type UserHandler struct {
	q Querier
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(q Querier) *UserHandler {
	return &UserHandler{q: q}
}

// GetUser はIDでユーザーを返す。存在しない場合は404。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeInvalid(w, "ユーザーIDは整数で指定してください")
		return
	}
	data, err := h.q.Do(r.Context(), query.TypeGetUserByID, query.UserIDParams{UserID: id})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeEntity(w, data, "ユーザー")
}

// GetUserByName はユーザー名でユーザーを返す。存在しない場合は404。
// GET /api/users/by-name/{username}
func (h *UserHandler) GetUserByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "username")
	if name == "" {
		writeInvalid(w, "ユーザー名を指定してください")
		return
	}
	data, err := h.q.Do(r.Context(), query.TypeGetUserByUsername, query.UsernameParams{Username: name})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeEntity(w, data, "ユーザー")
}

// ListUserPosts は時点Tより前のユーザーの投稿とコメントを新しい順に返す。
// GET /api/users/{id}/posts?datetime=&limit=&offset=
func (h *UserHandler) ListUserPosts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeInvalid(w, "ユーザーIDは整数で指定してください")
		return
	}
	q := r.URL.Query()
	limit, offset, bad := pagination(q)
	if bad != "" {
		writeInvalid(w, bad)
		return
	}

	data, err := h.q.Do(r.Context(), query.TypeGetUserPostsAtTime, query.UserPostsParams{
		UserID:   id,
		Datetime: q.Get("datetime"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeRaw(w, data)
}

// VideoHandler は動画メタデータのHTTPハンドラー。
type VideoHandler struct {
	q Querier
}

// NewVideoHandler はVideoHandlerを生成する。
func NewVideoHandler(q Querier) *VideoHandler {
	return &VideoHandler{q: q}
}

// GetVideo は動画IDのメタデータを返す。存在しない場合は404。
// GET /api/videos/{id}
func (h *VideoHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := h.q.Do(r.Context(), query.TypeGetVideoMetadata, query.VideoParams{ID: id})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeEntity(w, data, "動画")
}
