package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hitoshi/timevault/internal/gateway"
	"github.com/hitoshi/timevault/internal/model"
)

const (
	// ピアへの書き込みに許す時間
	writeWait = 10 * time.Second

	// 次の pong を待つ時間
	pongWait = 60 * time.Second

	// ping の送信間隔。pongWait より短くする
	pingPeriod = (pongWait * 9) / 10

	// ピアから受け取るメッセージの最大サイズ
	maxMessageSize = 64 * 1024
)

// PortAttacher は共有エンジンへのポート接続を提供する。gateway.Hub が実装する。
type PortAttacher interface {
	Attach() (*gateway.Port, error)
	Detach(p *gateway.Port)
}

// WSHandler はwebsocketでゲートウェイのリクエスト/応答プロトコルを中継する。
// 接続1つがポート1つに対応する。
type WSHandler struct {
	ports    PortAttacher
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler はWSHandlerを生成する。
// allowedOrigin が空でなければ、Origin ヘッダーが一致する接続のみ受け付ける。
func NewWSHandler(ports PortAttacher, allowedOrigin string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		ports: ports,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "" || origin == allowedOrigin
			},
		},
		logger: logger,
	}
}

// wsSession はwebsocket接続1つ分の状態。
type wsSession struct {
	conn   *websocket.Conn
	port   *gateway.Port
	local  chan gateway.Response
	closed chan struct{}
	logger *slog.Logger
}

// ServeHTTP は接続をアップグレードし、ポートを接続して読み書きのポンプを開始する。
// GET /api/ws
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	port, err := h.ports.Attach()
	if err != nil {
		apiErr := model.AsAPIError(err)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(gateway.Response{Type: gateway.TypeError, Message: apiErr.Message, Code: apiErr.Code})
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, apiErr.Code))
		conn.Close()
		return
	}

	s := &wsSession{
		conn:   conn,
		port:   port,
		local:  make(chan gateway.Response, 16),
		closed: make(chan struct{}),
		logger: h.logger.With(slog.String("port", port.ID())),
	}
	s.logger.Info("websocket接続を確立しました")

	go s.writePump()
	go func() {
		s.readPump()
		h.ports.Detach(port)
		close(s.closed)
		s.logger.Info("websocket接続を切断しました")
	}()
}

// readPump は受信したリクエストをポートへ送る。
// JSONとして読めないメッセージにはその場でエラー応答を返し、接続は維持する。
func (s *wsSession) readPump() {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		var req gateway.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.reply(nil, model.NewInvalidArgumentError("リクエストをJSONとして解釈できません"))
			continue
		}
		if err := s.port.Send(req); err != nil {
			id := req.RequestID
			s.reply(&id, err)
			return
		}
	}
}

// reply はポートを経由しないエラー応答を書き込み待ちに積む。
func (s *wsSession) reply(requestID *int64, err error) {
	apiErr := model.AsAPIError(err)
	r := gateway.Response{Type: gateway.TypeError, RequestID: requestID, Message: apiErr.Message, Code: apiErr.Code}
	select {
	case s.local <- r:
	default:
		s.logger.Debug("websocket reply dropped", slog.String("code", apiErr.Code))
	}
}

// writePump はポートの応答をwebsocketへ書き込み、定期的に ping を送る。
func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case r := <-s.port.Messages():
			if !s.write(r) {
				return
			}
		case r := <-s.local:
			if !s.write(r) {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.port.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-s.closed:
			return
		}
	}
}

func (s *wsSession) write(r gateway.Response) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(r); err != nil {
		s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
		return false
	}
	return true
}
