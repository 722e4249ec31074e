// Package marketdata supplies bars, symbol specifications and account
// state to the rest of the system. The Source interface is the only
// thing consumers depend on; FeedClient implements it over a websocket
// JSON request/response protocol.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/metrics"
	"github.com/evdnx/gofx/types"
)

// Source provides market and account data to the engine.
type Source interface {
	// Bars returns the most recent count bars for symbol on the given
	// timeframe, oldest first.
	Bars(ctx context.Context, symbol, timeframe string, count int) (types.Bars, error)
	// SymbolSpec returns the trading specification for symbol.
	SymbolSpec(ctx context.Context, symbol string) (types.SymbolSpec, error)
	// AccountInfo returns the current account snapshot.
	AccountInfo(ctx context.Context) (types.AccountInfo, error)
}

// ErrClosed is returned by requests made after Close.
var ErrClosed = errors.New("marketdata: feed closed")

// request is the envelope sent to the feed.
type request struct {
	ID        int64  `json:"id"`
	Op        string `json:"op"`
	Symbol    string `json:"symbol,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// response is the envelope received from the feed. Exactly one of the
// payload fields is populated depending on the op requested.
type response struct {
	ID      int64              `json:"id"`
	Error   string             `json:"error,omitempty"`
	Bars    *barsPayload       `json:"bars,omitempty"`
	Spec    *types.SymbolSpec  `json:"spec,omitempty"`
	Account *types.AccountInfo `json:"account,omitempty"`
}

type barsPayload struct {
	Time   []int64   `json:"time"`
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume"`
}

// FeedClient is a websocket client for the bar feed. Requests are
// serialized over the single connection; the read loop routes responses
// back by id.
type FeedClient struct {
	url string
	log logger.Logger

	timeout time.Duration

	nextID atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan response
	closed  bool
}

// NewFeedClient dials the feed at url. The connection stays open until
// Close; individual requests time out after timeout.
func NewFeedClient(url string, timeout time.Duration, log logger.Logger) (*FeedClient, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: dial %s: %w", url, err)
	}
	c := &FeedClient{
		url:     url,
		log:     log,
		timeout: timeout,
		conn:    conn,
		pending: make(map[int64]chan response),
	}
	go c.readLoop()
	c.log.Info("feed connected", logger.String("url", url))
	return c, nil
}

// Close tears down the connection and fails all in-flight requests.
func (c *FeedClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return conn.Close()
}

func (c *FeedClient) readLoop() {
	for {
		var resp response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.mu.Lock()
			closed := c.closed
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			if !closed {
				metrics.ExternalFailures.WithLabelValues("feed").Inc()
				c.log.Error("feed read failed", logger.Err(err))
			}
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *FeedClient) roundTrip(ctx context.Context, req request) (response, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return response{}, ErrClosed
	}
	c.pending[req.ID] = ch
	err := c.conn.WriteJSON(req)
	c.mu.Unlock()
	if err != nil {
		c.dropPending(req.ID)
		metrics.ExternalFailures.WithLabelValues("feed").Inc()
		return response{}, fmt.Errorf("marketdata: write %s: %w", req.Op, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return response{}, ErrClosed
		}
		if resp.Error != "" {
			return response{}, fmt.Errorf("marketdata: %s: %s", req.Op, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		c.dropPending(req.ID)
		metrics.ExternalFailures.WithLabelValues("feed").Inc()
		return response{}, fmt.Errorf("marketdata: %s: timeout after %s", req.Op, c.timeout)
	case <-ctx.Done():
		c.dropPending(req.ID)
		return response{}, ctx.Err()
	}
}

func (c *FeedClient) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Bars implements Source.
func (c *FeedClient) Bars(ctx context.Context, symbol, timeframe string, count int) (types.Bars, error) {
	resp, err := c.roundTrip(ctx, request{Op: "bars", Symbol: symbol, Timeframe: timeframe, Count: count})
	if err != nil {
		return types.Bars{}, err
	}
	if resp.Bars == nil {
		return types.Bars{}, fmt.Errorf("marketdata: bars %s: empty payload", symbol)
	}
	p := resp.Bars
	n := len(p.Close)
	if len(p.Open) != n || len(p.High) != n || len(p.Low) != n || len(p.Time) != n || len(p.Volume) != n {
		return types.Bars{}, fmt.Errorf("marketdata: bars %s: ragged payload", symbol)
	}
	t := make([]time.Time, n)
	for i, sec := range p.Time {
		t[i] = time.Unix(sec, 0).UTC()
	}
	return types.Bars{
		Symbol:    symbol,
		Timeframe: timeframe,
		Time:      t,
		Open:      p.Open,
		High:      p.High,
		Low:       p.Low,
		Close:     p.Close,
		Volume:    p.Volume,
	}, nil
}

// SymbolSpec implements Source.
func (c *FeedClient) SymbolSpec(ctx context.Context, symbol string) (types.SymbolSpec, error) {
	resp, err := c.roundTrip(ctx, request{Op: "spec", Symbol: symbol})
	if err != nil {
		return types.SymbolSpec{}, err
	}
	if resp.Spec == nil {
		return types.SymbolSpec{}, fmt.Errorf("marketdata: spec %s: empty payload", symbol)
	}
	return *resp.Spec, nil
}

// AccountInfo implements Source.
func (c *FeedClient) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	resp, err := c.roundTrip(ctx, request{Op: "account"})
	if err != nil {
		return types.AccountInfo{}, err
	}
	if resp.Account == nil {
		return types.AccountInfo{}, errors.New("marketdata: account: empty payload")
	}
	return *resp.Account, nil
}

var _ Source = (*FeedClient)(nil)

// MarshalBars is used by test servers to encode a Bars payload in the
// feed wire format.
func MarshalBars(b types.Bars) json.RawMessage {
	sec := make([]int64, len(b.Time))
	for i, t := range b.Time {
		sec[i] = t.Unix()
	}
	raw, _ := json.Marshal(barsPayload{
		Time: sec, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
	})
	return raw
}
