package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/timevault/internal/loader"
	"github.com/hitoshi/timevault/internal/metrics"
	"github.com/hitoshi/timevault/internal/model"
)

// State はエンジンの状態。
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ArchiveLoader はアーカイブのバイト列を取得する。loader.Loader が実装する。
type ArchiveLoader interface {
	Load(ctx context.Context, progress loader.ProgressFunc) ([]byte, error)
}

// Executor は初期化済みアーカイブに対するクエリ実行。query.Service が実装する。
type Executor interface {
	Execute(ctx context.Context, reqType string, payload json.RawMessage) (json.RawMessage, error)
	Close() error
}

// Opener はバイト列から Executor を組み立てる。
// 解釈できないバイト列には model.ErrCorrupt を返すこと。
type Opener func(ctx context.Context, data []byte) (Executor, error)

// Options はエンジンの設定。
type Options struct {
	Workers int // クエリ実行ワーカー数。0 以下の場合は1
	Metrics metrics.MetricsCollector
	Logger  *slog.Logger
}

type (
	attachEvent  struct{ port *Port }
	detachEvent  struct{ port *Port }
	requestEvent struct {
		port *Port
		req  Request
	}
	progressEvent struct {
		stage         string
		loaded, total int64
	}
	initDoneEvent struct {
		exec Executor
		err  error
	}
)

type job struct {
	port *Port
	req  Request
}

// Engine はアーカイブ1つを所有するアクター。
// 状態・接続ポート・保留中リクエストはイベントループのゴルーチンだけが触る。
type Engine struct {
	loader  ArchiveLoader
	open    Opener
	workers int
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	inbox    chan any
	jobs     chan job
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	workerWG sync.WaitGroup

	current atomic.Int32
	loads   atomic.Int32

	// 以下はイベントループ専用
	state   State
	ports   map[string]*Port
	pending []job
	queue   []job
	exec    Executor
	fatal   error
}

// NewEngine はエンジンを生成し、イベントループを開始する。
// アーカイブの読み込みは最初のリクエストが届いた時点で始まる。
func NewEngine(l ArchiveLoader, open Opener, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		loader:   l,
		open:     open,
		workers:  opts.Workers,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		inbox:    make(chan any),
		jobs:     make(chan job),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
		ports:    make(map[string]*Port),
	}
	e.setState(StateUninitialized)
	go e.run()
	return e
}

// State は現在の状態を返す。
func (e *Engine) State() State {
	return State(e.current.Load())
}

// Loads はアーカイブ読み込みを開始した回数を返す。
func (e *Engine) Loads() int {
	return int(e.loads.Load())
}

// Close はイベントループを止め、すべてのポートを切り離してアーカイブを解放する。
func (e *Engine) Close() {
	e.cancel()
	<-e.loopDone
}

func (e *Engine) attach() (*Port, error) {
	p := newPort(e)
	select {
	case e.inbox <- attachEvent{p}:
		return p, nil
	case <-e.ctx.Done():
		return nil, model.NewStoreUnavailableError()
	}
}

func (e *Engine) detach(p *Port) {
	select {
	case e.inbox <- detachEvent{p}:
	case <-e.ctx.Done():
		p.close()
	}
}

func (e *Engine) submit(p *Port, req Request) error {
	select {
	case e.inbox <- requestEvent{p, req}:
		return nil
	case <-p.done:
		return model.NewStoreUnavailableError()
	case <-e.ctx.Done():
		return model.NewStoreUnavailableError()
	}
}

// post は読み込みゴルーチンからイベントループへイベントを渡す。
func (e *Engine) post(ev any) {
	select {
	case e.inbox <- ev:
	case <-e.ctx.Done():
		if done, ok := ev.(initDoneEvent); ok && done.exec != nil {
			done.exec.Close()
		}
	}
}

func (e *Engine) run() {
	defer close(e.loopDone)
	for {
		var out chan job
		var next job
		if len(e.queue) > 0 {
			out = e.jobs
			next = e.queue[0]
		}

		select {
		case <-e.ctx.Done():
			e.shutdown()
			return
		case ev := <-e.inbox:
			e.handle(ev)
		case out <- next:
			e.queue[0] = job{}
			e.queue = e.queue[1:]
		}
	}
}

func (e *Engine) handle(ev any) {
	switch ev := ev.(type) {
	case attachEvent:
		e.ports[ev.port.id] = ev.port
		// 後から接続したポートにも終状態を1回だけ伝える
		switch e.state {
		case StateReady:
			e.send(ev.port, readyResponse(nil))
		case StateFailed:
			e.send(ev.port, errorResponse(nil, e.fatal))
		}

	case detachEvent:
		delete(e.ports, ev.port.id)
		ev.port.close()

	case requestEvent:
		e.handleRequest(ev.port, ev.req)

	case progressEvent:
		e.broadcast(progressResponse(ev.stage, ev.loaded, ev.total))

	case initDoneEvent:
		e.finishInit(ev.exec, ev.err)
	}
}

func (e *Engine) handleRequest(p *Port, req Request) {
	switch e.state {
	case StateReady:
		if req.Type == TypeInit {
			e.send(p, readyResponse(idPtr(req.RequestID)))
			return
		}
		e.queue = append(e.queue, job{port: p, req: req})
	case StateFailed:
		e.send(p, errorResponse(idPtr(req.RequestID), e.fatal))
	case StateUninitialized:
		e.pending = append(e.pending, job{port: p, req: req})
		e.startInit()
	case StateInitializing:
		e.pending = append(e.pending, job{port: p, req: req})
	}
}

func (e *Engine) startInit() {
	e.setState(StateInitializing)
	e.loads.Add(1)
	e.logger.Info("アーカイブの読み込みを開始します", slog.Int("attempt", e.Loads()))
	e.broadcast(progressResponse(StagePreparing, 0, 0))

	go func() {
		start := time.Now()
		data, err := e.loader.Load(e.ctx, func(stage string, loaded, total int64) {
			e.post(progressEvent{stage: stage, loaded: loaded, total: total})
		})
		var exec Executor
		if err == nil {
			size := int64(len(data))
			e.post(progressEvent{stage: StageOpening, loaded: 0, total: size})
			exec, err = e.open(e.ctx, data)
			if err == nil {
				e.post(progressEvent{stage: StageOpening, loaded: size, total: size})
			}
		}
		e.metrics.RecordArchiveLoad(time.Since(start), int64(len(data)), err)
		e.post(initDoneEvent{exec: exec, err: err})
	}()
}

func (e *Engine) finishInit(exec Executor, err error) {
	pending := e.pending
	e.pending = nil

	if err == nil {
		e.exec = exec
		e.setState(StateReady)
		e.startWorkers(exec)
		e.logger.Info("アーカイブの準備が完了しました", slog.Int("pending", len(pending)))

		e.broadcast(readyResponse(nil))
		for _, j := range pending {
			if j.req.Type == TypeInit {
				e.send(j.port, readyResponse(idPtr(j.req.RequestID)))
				continue
			}
			e.queue = append(e.queue, j)
		}
		return
	}

	if errors.Is(err, model.ErrCorrupt) {
		e.fatal = err
		e.setState(StateFailed)
		e.logger.Error("アーカイブを開けませんでした。エンジンを停止状態にします", slog.String("error", err.Error()))
	} else {
		// ダウンロード失敗は再試行可能。次のリクエストで読み込み直す
		e.setState(StateUninitialized)
		e.logger.Warn("アーカイブの読み込みに失敗しました", slog.String("error", err.Error()))
	}

	e.broadcast(errorResponse(nil, err))
	for _, j := range pending {
		e.send(j.port, errorResponse(idPtr(j.req.RequestID), err))
	}
}

func (e *Engine) startWorkers(exec Executor) {
	for i := 0; i < e.workers; i++ {
		e.workerWG.Add(1)
		go func() {
			defer e.workerWG.Done()
			for j := range e.jobs {
				e.execute(exec, j)
			}
		}()
	}
}

func (e *Engine) execute(exec Executor, j job) {
	data, err := exec.Execute(e.ctx, j.req.Type, j.req.Payload)
	if err != nil {
		j.port.enqueue(errorResponse(idPtr(j.req.RequestID), err))
		return
	}
	j.port.enqueue(resultResponse(j.req.RequestID, data))
}

// send は応答を1つのポートのキューへ積む。切り離し済みのポートには何もしない。
func (e *Engine) send(p *Port, r Response) {
	if !p.enqueue(r) {
		e.logger.Debug("response to detached port discarded", slog.String("port", p.id), slog.String("type", r.Type))
	}
}

func (e *Engine) broadcast(r Response) {
	for _, p := range e.ports {
		e.send(p, r)
	}
}

func (e *Engine) shutdown() {
	for id, p := range e.ports {
		p.close()
		delete(e.ports, id)
	}
	e.pending = nil
	e.queue = nil
	close(e.jobs)
	e.workerWG.Wait()

	if e.exec != nil {
		if err := e.exec.Close(); err != nil {
			e.logger.Warn("アーカイブのクローズに失敗しました", slog.String("error", err.Error()))
		}
		e.exec = nil
	}
	e.logger.Info("エンジンを停止しました")
}

func (e *Engine) setState(s State) {
	e.state = s
	e.current.Store(int32(s))
	e.metrics.SetEngineState(s.String())
}
