package gateway

import (
	"sync"

	"github.com/google/uuid"
)

// Port はエンジンに接続した呼び出し元1つ分の窓口。
// 応答は Messages から受け取る。Done が閉じた後は何も届かない。
//
// 応答はポートごとのキューに積まれ、積まれた順に Messages へ流れる。
// 受信が遅いポートでは、同じステージの途中経過の進捗だけが最新値に置き換えられる。
type Port struct {
	id        string
	engine    *Engine
	out       chan Response
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	queue []Response
	wake  chan struct{}
}

func newPort(e *Engine) *Port {
	p := &Port{
		id:     uuid.NewString(),
		engine: e,
		out:    make(chan Response),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	go p.pump()
	return p
}

// ID はポートの識別子を返す。
func (p *Port) ID() string { return p.id }

// Messages は応答を受け取るチャネルを返す。
func (p *Port) Messages() <-chan Response { return p.out }

// Done はポートが切り離されると閉じるチャネルを返す。
func (p *Port) Done() <-chan struct{} { return p.done }

// Send はリクエストをエンジンへ送る。応答は Messages に届く。
// 切り離し済みのポート、または停止済みのエンジンでは ErrStoreUnavailable を返す。
func (p *Port) Send(req Request) error {
	return p.engine.submit(p, req)
}

// enqueue は応答をキューに積む。ブロックしない。
// 切り離し済みのポートには積まず false を返す。
func (p *Port) enqueue(r Response) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	p.mu.Lock()
	if n := len(p.queue); n > 0 && r.Type == TypeProgress {
		last := &p.queue[n-1]
		if last.Type == TypeProgress && last.Stage == r.Stage && !last.complete() {
			*last = r
			p.mu.Unlock()
			return true
		}
	}
	p.queue = append(p.queue, r)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// pump はキューの先頭から順に Messages へ渡す。ポートが切り離されると終了する。
func (p *Port) pump() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			select {
			case <-p.wake:
				continue
			case <-p.done:
				return
			}
		}
		r := p.queue[0]
		p.queue[0] = Response{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		select {
		case p.out <- r:
		case <-p.done:
			return
		}
	}
}

func (p *Port) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.queue = nil
		p.mu.Unlock()
	})
}
