package gateway

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/timevault/internal/metrics"
	"github.com/hitoshi/timevault/internal/model"
)

// EngineFactory は新しいエンジンを生成する。
type EngineFactory func() *Engine

// Hub は複数の呼び出し元で1つのエンジンを共有させる。
// 最初の接続でエンジンを生成し、接続数が0になった時点で停止する。
type Hub struct {
	mu      sync.Mutex
	factory EngineFactory
	engine  *Engine
	ports   map[string]*Port
	closed  bool
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewHub は Hub を生成する。
func NewHub(factory EngineFactory, collector metrics.MetricsCollector, logger *slog.Logger) *Hub {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		factory: factory,
		ports:   make(map[string]*Port),
		metrics: collector,
		logger:  logger,
	}
}

// Attach は共有エンジンに新しいポートを接続する。
func (h *Hub) Attach() (*Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, model.NewStoreUnavailableError()
	}
	if h.engine == nil {
		h.engine = h.factory()
		h.logger.Info("エンジンを生成しました")
	}
	p, err := h.engine.attach()
	if err != nil {
		return nil, err
	}
	h.ports[p.id] = p
	h.metrics.SetAttachedPorts(len(h.ports))
	h.logger.Debug("port attached", slog.String("port", p.id), slog.Int("attached", len(h.ports)))
	return p, nil
}

// Detach はポートを切り離す。最後のポートが切り離されるとエンジンを停止する。
// 同じポートを複数回切り離してもよい。
func (h *Hub) Detach(p *Port) {
	h.mu.Lock()
	if _, ok := h.ports[p.id]; !ok {
		h.mu.Unlock()
		p.close()
		return
	}
	delete(h.ports, p.id)
	p.engine.detach(p)
	h.metrics.SetAttachedPorts(len(h.ports))

	var stop *Engine
	if len(h.ports) == 0 {
		stop = h.engine
		h.engine = nil
	}
	h.mu.Unlock()

	h.logger.Debug("port detached", slog.String("port", p.id))
	if stop != nil {
		stop.Close()
	}
}

// Attached は接続中のポート数を返す。
func (h *Hub) Attached() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ports)
}

// State は共有エンジンの状態を返す。エンジンが無い場合は StateUninitialized。
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.engine == nil {
		return StateUninitialized
	}
	return h.engine.State()
}

// Close は接続数に関わらずエンジンを停止し、以降の接続を拒否する。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	stop := h.engine
	h.engine = nil
	for id := range h.ports {
		delete(h.ports, id)
	}
	h.metrics.SetAttachedPorts(0)
	h.mu.Unlock()

	if stop != nil {
		stop.Close()
	}
}
