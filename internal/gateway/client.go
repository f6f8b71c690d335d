package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/timevault/internal/model"
)

// Client は1つのポートを使ってリクエストと応答を requestId で対応付ける。
// 複数のゴルーチンから同時に使ってよい。
type Client struct {
	hub         *Hub
	port        *Port
	next        atomic.Int64
	onBroadcast func(Response)

	mu      sync.Mutex
	waiting map[int64]chan Response
	closed  bool
}

// NewClient はハブに接続したクライアントを生成する。
// onBroadcast が nil でなければ、進捗などのブロードキャストを受け取る。
func NewClient(hub *Hub, onBroadcast func(Response)) (*Client, error) {
	p, err := hub.Attach()
	if err != nil {
		return nil, err
	}
	c := &Client{
		hub:         hub,
		port:        p,
		onBroadcast: onBroadcast,
		waiting:     make(map[int64]chan Response),
	}
	go c.dispatch()
	return c, nil
}

// Close はポートを切り離す。待機中のリクエストは ErrStoreUnavailable で終わる。
func (c *Client) Close() {
	c.hub.Detach(c.port)
}

// Init はアーカイブの初期化を要求し、準備完了まで待つ。
func (c *Client) Init(ctx context.Context) error {
	r, err := c.roundTrip(ctx, TypeInit, nil)
	if err != nil {
		return err
	}
	return r.Err()
}

// Do はリクエストを送り、結果のJSONを返す。
func (c *Client) Do(ctx context.Context, reqType string, payload any) (json.RawMessage, error) {
	r, err := c.roundTrip(ctx, reqType, payload)
	if err != nil {
		return nil, err
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return r.Data, nil
}

func (c *Client) roundTrip(ctx context.Context, reqType string, payload any) (Response, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return Response{}, err
	}

	id := c.next.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, model.NewStoreUnavailableError()
	}
	c.waiting[id] = ch
	c.mu.Unlock()

	if err := c.port.Send(Request{Type: reqType, Payload: raw, RequestID: id}); err != nil {
		c.forget(id)
		return Response{}, err
	}

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		// 応答は後から届いても dispatch で捨てられる
		c.forget(id)
		return Response{}, ctx.Err()
	}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("ペイロードを直列化できません: %v", err))
	}
	return b, nil
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.waiting, id)
	c.mu.Unlock()
}

func (c *Client) dispatch() {
	for {
		select {
		case r := <-c.port.Messages():
			c.route(r)
		case <-c.port.Done():
			c.failAll()
			return
		}
	}
}

func (c *Client) route(r Response) {
	if r.IsBroadcast() {
		if c.onBroadcast != nil {
			c.onBroadcast(r)
		}
		return
	}
	c.mu.Lock()
	ch, ok := c.waiting[*r.RequestID]
	delete(c.waiting, *r.RequestID)
	c.mu.Unlock()
	if ok {
		ch <- r
	}
}

func (c *Client) failAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.waiting {
		ch <- errorResponse(idPtr(id), model.NewStoreUnavailableError())
		delete(c.waiting, id)
	}
}
