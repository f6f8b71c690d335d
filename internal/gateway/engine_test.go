package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/timevault/internal/loader"
	"github.com/hitoshi/timevault/internal/model"
)

const waitTimeout = 3 * time.Second

// gatedLoader は release が閉じるまで読み込みを止めるテスト用ローダー。
// 各呼び出しは errs の先頭から順にエラーを返す（足りなければ成功）。
type gatedLoader struct {
	release chan struct{}
	calls   atomic.Int32
	mu      sync.Mutex
	errs    []error
}

func newGatedLoader(errs ...error) *gatedLoader {
	return &gatedLoader{release: make(chan struct{}), errs: errs}
}

func (l *gatedLoader) Load(ctx context.Context, progress loader.ProgressFunc) ([]byte, error) {
	n := int(l.calls.Add(1))
	progress(loader.StageLoading, 0, 100)
	select {
	case <-l.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	progress(loader.StageLoading, 100, 100)

	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= len(l.errs) && l.errs[n-1] != nil {
		return nil, l.errs[n-1]
	}
	return []byte("archive"), nil
}

// echoExecutor はリクエスト種別とペイロードをそのまま返す。
type echoExecutor struct {
	closed atomic.Bool
}

func (x *echoExecutor) Execute(_ context.Context, reqType string, payload json.RawMessage) (json.RawMessage, error) {
	if reqType == "unknown" {
		return nil, model.NewInvalidArgumentError("不明なリクエスト種別")
	}
	return json.RawMessage(fmt.Sprintf(`{"type":%q,"payload":%s}`, reqType, orNull(payload))), nil
}

func (x *echoExecutor) Close() error {
	x.closed.Store(true)
	return nil
}

func orNull(b json.RawMessage) string {
	if len(b) == 0 {
		return "null"
	}
	return string(b)
}

type testRig struct {
	loader *gatedLoader
	execs  []*echoExecutor
	mu     sync.Mutex
	opens  int
}

func (r *testRig) opener(openErr error) Opener {
	return func(_ context.Context, _ []byte) (Executor, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.opens++
		if openErr != nil {
			return nil, openErr
		}
		x := &echoExecutor{}
		r.execs = append(r.execs, x)
		return x, nil
	}
}

func newEngine(t *testing.T, l *gatedLoader, open Opener) *Engine {
	t.Helper()
	e := NewEngine(l, open, Options{})
	t.Cleanup(e.Close)
	return e
}

// collect はポートから応答を受け取り、stop が true を返すまで溜める。
func collect(t *testing.T, p *Port, stop func([]Response) bool) []Response {
	t.Helper()
	var got []Response
	timeout := time.After(waitTimeout)
	for !stop(got) {
		select {
		case r := <-p.Messages():
			got = append(got, r)
		case <-timeout:
			t.Fatalf("timed out waiting for responses, got %+v", got)
		}
	}
	return got
}

// drainFor は一定時間ポートに届いた応答を集める。
func drainFor(p *Port, d time.Duration) []Response {
	var got []Response
	deadline := time.After(d)
	for {
		select {
		case r := <-p.Messages():
			got = append(got, r)
		case <-deadline:
			return got
		}
	}
}

func correlated(rs []Response, id int64) []Response {
	var out []Response
	for _, r := range rs {
		if r.RequestID != nil && *r.RequestID == id {
			out = append(out, r)
		}
	}
	return out
}

func count(rs []Response, typ string, broadcastOnly bool) int {
	n := 0
	for _, r := range rs {
		if r.Type == typ && (!broadcastOnly || r.IsBroadcast()) {
			n++
		}
	}
	return n
}

// stages は進捗のステージ名を、連続する重複を除いて出現順に返す。
func stages(rs []Response) []string {
	var out []string
	for _, r := range rs {
		if r.Type != TypeProgress {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != r.Stage {
			out = append(out, r.Stage)
		}
	}
	return out
}

func lastProgress(rs []Response, stage string) *Response {
	var last *Response
	for i := range rs {
		if rs[i].Type == TypeProgress && rs[i].Stage == stage {
			last = &rs[i]
		}
	}
	return last
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngine_ConcurrentRequestsShareOneLoad(t *testing.T) {
	rig := &testRig{loader: newGatedLoader()}
	e := newEngine(t, rig.loader, rig.opener(nil))

	p, err := e.attach()
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := p.Send(Request{Type: TypeInit, RequestID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := p.Send(Request{Type: "getUserById", Payload: json.RawMessage(`{"userId":1}`), RequestID: 2}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return e.State() == StateInitializing })
	close(rig.loader.release)

	got := collect(t, p, func(rs []Response) bool {
		return len(correlated(rs, 1)) > 0 && len(correlated(rs, 2)) > 0
	})
	got = append(got, drainFor(p, 50*time.Millisecond)...)

	if r := correlated(got, 1); len(r) != 1 || r[0].Type != TypeReady {
		t.Errorf("request 1 replies = %+v, want exactly one ready", r)
	}
	if r := correlated(got, 2); len(r) != 1 || r[0].Type != TypeResult {
		t.Errorf("request 2 replies = %+v, want exactly one result", r)
	}
	if n := count(got, TypeReady, true); n != 1 {
		t.Errorf("broadcast ready count = %d, want 1", n)
	}
	if n := rig.loader.calls.Load(); n != 1 {
		t.Errorf("archive loaded %d times, want 1", n)
	}
	if e.State() != StateReady {
		t.Errorf("state = %v, want ready", e.State())
	}
}

func TestEngine_ProgressAndReadyBroadcastToAllPorts(t *testing.T) {
	rig := &testRig{loader: newGatedLoader()}
	e := newEngine(t, rig.loader, rig.opener(nil))

	requester, _ := e.attach()
	observer, _ := e.attach()

	if err := requester.Send(Request{Type: TypeInit, RequestID: 7}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return rig.loader.calls.Load() == 1 })
	close(rig.loader.release)

	for _, p := range []*Port{requester, observer} {
		got := collect(t, p, func(rs []Response) bool { return count(rs, TypeReady, true) == 1 })
		got = append(got, drainFor(p, 50*time.Millisecond)...)

		want := []string{StagePreparing, loader.StageLoading, StageOpening}
		if got := stages(got); !equalStrings(got, want) {
			t.Errorf("port %s stages = %v, want %v", p.ID(), got, want)
		}
		if n := count(got, TypeReady, true); n != 1 {
			t.Errorf("port %s saw %d broadcast ready, want 1", p.ID(), n)
		}
		if last := lastProgress(got, loader.StageLoading); last == nil || *last.Loaded != 100 || *last.Total != 100 {
			t.Errorf("last loading progress = %+v", last)
		}
		size := int64(len("archive"))
		if last := lastProgress(got, StageOpening); last == nil || *last.Loaded != size || *last.Total != size {
			t.Errorf("last opening progress = %+v", last)
		}
		if p == observer && len(correlated(got, 7)) != 0 {
			t.Error("correlated reply must only reach the requester")
		}
	}

	// 後から接続したポートも ready を1回受け取る
	late, _ := e.attach()
	got := drainFor(late, 50*time.Millisecond)
	if n := count(got, TypeReady, true); n != 1 {
		t.Errorf("late port saw %d ready, want 1", n)
	}
}

func TestEngine_CorruptArchiveFailsPermanently(t *testing.T) {
	rig := &testRig{loader: newGatedLoader()}
	corrupt := model.NewCorruptError("not a SQLite file")
	e := newEngine(t, rig.loader, rig.opener(corrupt))

	p, _ := e.attach()
	other, _ := e.attach()
	p.Send(Request{Type: "getThreadsAtTime", RequestID: 1})
	p.Send(Request{Type: "search", RequestID: 2})
	close(rig.loader.release)

	got := collect(t, p, func(rs []Response) bool {
		return len(correlated(rs, 1)) > 0 && len(correlated(rs, 2)) > 0
	})
	for _, id := range []int64{1, 2} {
		r := correlated(got, id)
		if len(r) != 1 || r[0].Type != TypeError || !errors.Is(r[0].Err(), model.ErrCorrupt) {
			t.Errorf("request %d replies = %+v, want one corrupt error", id, r)
		}
	}
	otherGot := collect(t, other, func(rs []Response) bool { return count(rs, TypeError, true) == 1 })
	if !errors.Is(otherGot[len(otherGot)-1].Err(), model.ErrCorrupt) {
		t.Errorf("observer should see the corrupt error broadcast, got %+v", otherGot)
	}

	waitFor(t, func() bool { return e.State() == StateFailed })

	// 以降のリクエストも同じエラーで拒否され、読み込み直さない
	p.Send(Request{Type: TypeInit, RequestID: 3})
	got = collect(t, p, func(rs []Response) bool { return len(correlated(rs, 3)) > 0 })
	if r := correlated(got, 3); r[0].Type != TypeError || r[0].Code != model.ErrCodeArchiveCorrupt {
		t.Errorf("request 3 reply = %+v", r[0])
	}
	if n := rig.loader.calls.Load(); n != 1 {
		t.Errorf("archive loaded %d times, want 1", n)
	}
}

func TestEngine_TransientFailureIsRetryable(t *testing.T) {
	rig := &testRig{loader: newGatedLoader(model.NewFetchFailedError("HTTPステータス 503"))}
	e := newEngine(t, rig.loader, rig.opener(nil))
	close(rig.loader.release)

	p, _ := e.attach()
	p.Send(Request{Type: TypeInit, RequestID: 1})
	got := collect(t, p, func(rs []Response) bool { return len(correlated(rs, 1)) > 0 })
	r := correlated(got, 1)[0]
	if r.Type != TypeError || !errors.Is(r.Err(), model.ErrTransientIO) {
		t.Fatalf("first init reply = %+v, want fetch failure", r)
	}
	waitFor(t, func() bool { return e.State() == StateUninitialized })

	p.Send(Request{Type: "getUserById", RequestID: 2})
	got = collect(t, p, func(rs []Response) bool { return len(correlated(rs, 2)) > 0 })
	if r := correlated(got, 2)[0]; r.Type != TypeResult {
		t.Errorf("retry reply = %+v, want result", r)
	}
	if n := rig.loader.calls.Load(); n != 2 {
		t.Errorf("archive loaded %d times, want 2", n)
	}
}

func TestEngine_CloseReleasesExecutor(t *testing.T) {
	rig := &testRig{loader: newGatedLoader()}
	close(rig.loader.release)
	e := NewEngine(rig.loader, rig.opener(nil), Options{Workers: 3})

	p, _ := e.attach()
	p.Send(Request{Type: TypeInit, RequestID: 1})
	collect(t, p, func(rs []Response) bool { return len(correlated(rs, 1)) > 0 })

	e.Close()
	if !rig.execs[0].closed.Load() {
		t.Error("executor should be closed with the engine")
	}
	select {
	case <-p.Done():
	default:
		t.Error("ports should be closed with the engine")
	}
	if err := p.Send(Request{Type: TypeInit, RequestID: 2}); !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("Send after Close = %v, want ErrStoreUnavailable", err)
	}
}

// chattyLoader は n 回の途中経過を通知してから成功する。
type chattyLoader struct{ n int64 }

func (l chattyLoader) Load(_ context.Context, progress loader.ProgressFunc) ([]byte, error) {
	for i := int64(1); i <= l.n; i++ {
		progress(loader.StageLoading, i, l.n)
	}
	return []byte("archive"), nil
}

func TestEngine_SlowPortSeesCompleteProgressInOrder(t *testing.T) {
	rig := &testRig{}
	e := NewEngine(chattyLoader{n: 600}, rig.opener(nil), Options{})
	t.Cleanup(e.Close)

	reader, _ := e.attach()
	idle, _ := e.attach()

	// idle は ready まで一切受信しない
	idle.Send(Request{Type: "getUserById", RequestID: 9})
	readerGot := collect(t, reader, func(rs []Response) bool { return count(rs, TypeReady, true) == 1 })
	waitFor(t, func() bool { return e.State() == StateReady })

	idleGot := collect(t, idle, func(rs []Response) bool { return len(correlated(rs, 9)) > 0 })

	want := []string{StagePreparing, loader.StageLoading, StageOpening}
	for name, got := range map[string][]Response{"reader": readerGot, "idle": idleGot} {
		if s := stages(got); !equalStrings(s, want) {
			t.Errorf("%s stages = %v, want %v", name, s, want)
		}
		if last := lastProgress(got, loader.StageLoading); last == nil || *last.Loaded != 600 || *last.Total != 600 {
			t.Errorf("%s missed the final loading progress: %+v", name, last)
		}
		if n := count(got, TypeReady, true); n != 1 {
			t.Errorf("%s saw %d ready, want 1", name, n)
		}
	}

	// ready は先に送ったリクエストの結果より前に届く
	readyAt, resultAt := -1, -1
	for i, r := range idleGot {
		switch {
		case r.Type == TypeReady && r.IsBroadcast():
			readyAt = i
		case r.Type == TypeResult && r.RequestID != nil && *r.RequestID == 9:
			resultAt = i
		}
	}
	if readyAt < 0 || resultAt < readyAt {
		t.Errorf("ready at %d, result at %d; want ready first", readyAt, resultAt)
	}
	if n := count(idleGot, TypeProgress, true); n >= 600 {
		t.Errorf("idle port received %d progress events, want them coalesced", n)
	}
}
