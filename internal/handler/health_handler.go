package handler

import (
	"net/http"

	"github.com/hitoshi/timevault/internal/gateway"
)

// StateReporter は共有エンジンの状態を報告する。gateway.Hub が実装する。
type StateReporter interface {
	State() gateway.State
	Attached() int
}

type healthResponse struct {
	Status   string `json:"status"`
	Engine   string `json:"engine"`
	Attached int    `json:"attached"`
}

// HealthHandler はヘルスチェックを返す。
// エンジンが failed のときのみ503を返す。未初期化はアーカイブ読み込み前の正常状態とみなす。
// GET /health
func HealthHandler(state StateReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := state.State()
		body := healthResponse{Status: "ok", Engine: st.String(), Attached: state.Attached()}
		status := http.StatusOK
		if st == gateway.StateFailed {
			body.Status = "failed"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, body)
	}
}
