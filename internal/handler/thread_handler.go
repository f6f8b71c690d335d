package handler

import (
	"net/http"

	"github.com/hitoshi/timevault/internal/middleware"
	"github.com/hitoshi/timevault/internal/query"
)

// ThreadHandler はスレッド一覧と詳細のHTTPハンドラー。
type ThreadHandler struct {
	q Querier
}

// NewThreadHandler はThreadHandlerを生成する。
func NewThreadHandler(q Querier) *ThreadHandler {
	return &ThreadHandler{q: q}
}

// ListThreads は時点Tに可視なスレッド一覧を返す。
// GET /api/threads?datetime=&keyword=&featured=&limit=&offset=
func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, bad := pagination(q)
	if bad != "" {
		writeInvalid(w, bad)
		return
	}
	featured, err := queryBool(q, "featured")
	if err != nil {
		writeInvalid(w, "featured は true/false で指定してください")
		return
	}

	data, err := h.q.Do(r.Context(), query.TypeGetThreadsAtTime, query.ThreadsParams{
		Datetime: q.Get("datetime"),
		Keyword:  q.Get("keyword"),
		Limit:    limit,
		Offset:   offset,
		Featured: featured,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeRaw(w, data)
}

// GetThread は時点Tにおけるスレッドのフロア一覧と管理ログを返す。
// GET /api/threads/{id}?datetime=&limit=&offset=
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeInvalid(w, "スレッドIDは整数で指定してください")
		return
	}
	q := r.URL.Query()
	limit, offset, bad := pagination(q)
	if bad != "" {
		writeInvalid(w, bad)
		return
	}

	data, err := h.q.Do(r.Context(), query.TypeGetThreadPostsAtTime, query.ThreadPostsParams{
		ThreadID: id,
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
