// Package gateway はクエリ実行ゲートウェイを提供する。
//
// Engine はアーカイブ1つを所有するアクターで、単一のイベントループが状態遷移・ポート管理・
// 応答の配送を担う。呼び出し側は Port を通じて requestId 付きのリクエストを送り、
// 同じ requestId の応答を非同期に受け取る。進捗・準備完了・初期化失敗は
// 接続中のすべてのポートへブロードキャストされる。
package gateway

import (
	"encoding/json"
	"errors"

	"github.com/hitoshi/timevault/internal/model"
)

// TypeInit はアーカイブの読み込みだけを要求するリクエスト種別。
const TypeInit = "init"

// 応答の種別。
const (
	TypeProgress = "progress"
	TypeReady    = "ready"
	TypeResult   = "result"
	TypeError    = "error"
)

// 初期化の進捗ステージ。アーカイブのダウンロード中は loader.StageLoading が使われる。
const (
	StagePreparing = "Preparing engine"
	StageOpening   = "Opening database"
)

// Request は呼び出し側からのリクエスト。RequestID は呼び出し側が採番する。
type Request struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID int64           `json:"requestId"`
}

// Response はエンジンからの応答。RequestID が nil のものはブロードキャスト。
type Response struct {
	Type      string          `json:"type"`
	RequestID *int64          `json:"requestId,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Loaded    *int64          `json:"loaded,omitempty"`
	Total     *int64          `json:"total,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Code      string          `json:"code,omitempty"`
}

// IsBroadcast は特定のリクエストに紐づかない応答かどうかを返す。
func (r Response) IsBroadcast() bool {
	return r.RequestID == nil
}

// Err は error 応答を *model.APIError に戻す。error 以外では nil。
func (r Response) Err() error {
	if r.Type != TypeError {
		return nil
	}
	return model.FromCode(r.Code, r.Message)
}

func progressResponse(stage string, loaded, total int64) Response {
	return Response{Type: TypeProgress, Stage: stage, Loaded: &loaded, Total: &total}
}

// complete は進捗がそのステージの最終値かどうかを返す。
func (r Response) complete() bool {
	return r.Type == TypeProgress && r.Loaded != nil && r.Total != nil && *r.Total > 0 && *r.Loaded >= *r.Total
}

func readyResponse(requestID *int64) Response {
	return Response{Type: TypeReady, RequestID: requestID}
}

func resultResponse(requestID int64, data json.RawMessage) Response {
	if data == nil {
		data = json.RawMessage("null")
	}
	return Response{Type: TypeResult, RequestID: &requestID, Data: data}
}

func errorResponse(requestID *int64, err error) Response {
	msg := err.Error()
	var direct *model.APIError
	if errors.As(err, &direct) {
		msg = direct.Message
	}
	return Response{Type: TypeError, RequestID: requestID, Message: msg, Code: model.AsAPIError(err).Code}
}

func idPtr(id int64) *int64 { return &id }
