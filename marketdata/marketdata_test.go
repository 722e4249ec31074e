package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evdnx/gofx/testutils"
	"github.com/evdnx/gofx/types"
)

type wireResponse struct {
	ID      int64              `json:"id"`
	Error   string             `json:"error,omitempty"`
	Bars    json.RawMessage    `json:"bars,omitempty"`
	Spec    *types.SymbolSpec  `json:"spec,omitempty"`
	Account *types.AccountInfo `json:"account,omitempty"`
}

// newFeedServer serves the bar-feed protocol for tests.
func newFeedServer(t *testing.T, bars types.Bars, spec types.SymbolSpec, acct types.AccountInfo) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID int64  `json:"id"`
				Op string `json:"op"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := wireResponse{ID: req.ID}
			switch req.Op {
			case "bars":
				resp.Bars = MarshalBars(bars)
			case "spec":
				resp.Spec = &spec
			case "account":
				resp.Account = &acct
			default:
				resp.Error = "unknown op"
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFeedClientBars(t *testing.T) {
	bars := testutils.TrendingBars("EURUSD", "M15", 10, 1.0, 0.001)
	srv := newFeedServer(t, bars, types.SymbolSpec{}, types.AccountInfo{})
	defer srv.Close()

	c, err := NewFeedClient(wsURL(srv), 5*time.Second, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("NewFeedClient: %v", err)
	}
	defer c.Close()

	got, err := c.Bars(context.Background(), "EURUSD", "M15", 10)
	if err != nil {
		t.Fatalf("Bars: %v", err)
	}
	if got.Symbol != "EURUSD" || got.Timeframe != "M15" {
		t.Fatalf("labels lost: %+v", got)
	}
	if got.Len() != bars.Len() {
		t.Fatalf("length mismatch: %d != %d", got.Len(), bars.Len())
	}
	for i := range bars.Close {
		if got.Close[i] != bars.Close[i] {
			t.Fatalf("close[%d]: %v != %v", i, got.Close[i], bars.Close[i])
		}
		if !got.Time[i].Equal(bars.Time[i]) {
			t.Fatalf("time[%d]: %v != %v", i, got.Time[i], bars.Time[i])
		}
	}
}

func TestFeedClientSpecAndAccount(t *testing.T) {
	spec := types.SymbolSpec{Symbol: "EURUSD", Digits: 5, Point: 0.00001, ContractSize: 100000}
	acct := types.AccountInfo{Balance: 10000, Equity: 10250, FreeMargin: 9800, Leverage: 100}
	srv := newFeedServer(t, types.Bars{}, spec, acct)
	defer srv.Close()

	c, err := NewFeedClient(wsURL(srv), 5*time.Second, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("NewFeedClient: %v", err)
	}
	defer c.Close()

	gotSpec, err := c.SymbolSpec(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("SymbolSpec: %v", err)
	}
	if gotSpec.Symbol != "EURUSD" || gotSpec.ContractSize != 100000 {
		t.Fatalf("unexpected spec: %+v", gotSpec)
	}

	gotAcct, err := c.AccountInfo(context.Background())
	if err != nil {
		t.Fatalf("AccountInfo: %v", err)
	}
	if gotAcct.Equity != 10250 {
		t.Fatalf("unexpected account: %+v", gotAcct)
	}
}

func TestFeedClientServerError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID int64 `json:"id"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			conn.WriteJSON(wireResponse{ID: req.ID, Error: "no such symbol"})
		}
	}))
	defer srv.Close()

	c, err := NewFeedClient(wsURL(srv), 5*time.Second, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("NewFeedClient: %v", err)
	}
	defer c.Close()

	if _, err := c.Bars(context.Background(), "NOPE", "M15", 10); err == nil {
		t.Fatal("expected server error")
	}
}

func TestFeedClientClosedRejectsRequests(t *testing.T) {
	srv := newFeedServer(t, types.Bars{}, types.SymbolSpec{}, types.AccountInfo{})
	defer srv.Close()

	c, err := NewFeedClient(wsURL(srv), time.Second, testutils.NewMockLogger())
	if err != nil {
		t.Fatalf("NewFeedClient: %v", err)
	}
	c.Close()
	if _, err := c.AccountInfo(context.Background()); err == nil {
		t.Fatal("expected error after close")
	}
}
