package handler

import (
	"net/http"
	"strconv"

	"github.com/hitoshi/timevault/internal/middleware"
	"github.com/hitoshi/timevault/internal/model"
	"github.com/hitoshi/timevault/internal/query"
)

// SearchHandler はキーワード検索のHTTPハンドラー。
type SearchHandler struct {
	q Querier
}

// NewSearchHandler はSearchHandlerを生成する。
func NewSearchHandler(q Querier) *SearchHandler {
	return &SearchHandler{q: q}
}

// Search はスコープ別のキーワード検索を実行する。
// GET /api/search?scope=&keyword=&userId=&snapshotTime=&limit=&offset=&onlyThread=
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, bad := pagination(q)
	if bad != "" {
		writeInvalid(w, bad)
		return
	}
	onlyThread, err := queryBool(q, "onlyThread")
	if err != nil {
		writeInvalid(w, "onlyThread は true/false で指定してください")
		return
	}

	opts := query.SearchParams{
		Scope:        model.SearchScope(q.Get("scope")),
		Keyword:      q.Get("keyword"),
		SnapshotTime: q.Get("snapshotTime"),
		Limit:        limit,
		Offset:       offset,
		OnlyThread:   onlyThread,
	}
	if raw := q.Get("userId"); raw != "" {
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeInvalid(w, "userId は整数で指定してください")
			return
		}
		opts.UserID = &uid
	}

	data, err := h.q.Do(r.Context(), query.TypeSearch, opts)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeRaw(w, data)
}
