package terminal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gascap/config"
	"gascap/internal/models"
	"gascap/internal/poller"
)

type fakeTicks struct{ ticks []models.Tick }

func (f *fakeTicks) Ticks(ctx context.Context) []models.Tick { return f.ticks }

type fakeTrades struct{ trades []models.TradeEvent }

func (f *fakeTrades) Trades() []models.TradeEvent { return f.trades }

type fakeMarket struct {
	snapshot  poller.Snapshot
	refreshes int32
}

func (f *fakeMarket) Snapshot() poller.Snapshot { return f.snapshot }

func (f *fakeMarket) Refresh(ctx context.Context) poller.Snapshot {
	atomic.AddInt32(&f.refreshes, 1)
	return f.snapshot
}

func testServer(t *testing.T) (*Server, *httptest.Server, *fakeMarket) {
	t.Helper()
	ticks := &fakeTicks{ticks: []models.Tick{
		{Price: 100, Time: 10}, {Price: 101, Time: 15}, {Price: 99, Time: 20}, {Price: 105, Time: 25},
	}}
	trades := &fakeTrades{trades: []models.TradeEvent{{TxHash: "0xabc", Timestamp: 20}}}
	market := &fakeMarket{snapshot: poller.Snapshot{Liquidity: "10"}}

	srv := NewServer(config.TerminalConfig{ListenAddr: ":0"}, ticks, trades, market)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts, market
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestCandlesEndpoint(t *testing.T) {
	_, ts, _ := testServer(t)

	var out []models.Candle
	getJSON(t, ts.URL+"/api/candles?tf=10", &out)
	if len(out) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(out))
	}
	if out[0].Time != 10 || out[1].Time != 20 {
		t.Fatalf("unexpected buckets: %#v", out)
	}
	if out[1].Open != out[0].Close {
		t.Fatalf("candles should chain open to previous close")
	}
}

func TestCandlesRejectsBadTimeframe(t *testing.T) {
	_, ts, _ := testServer(t)

	for _, tf := range []string{"0", "-5", "abc", "100000"} {
		resp, err := http.Get(ts.URL + "/api/candles?tf=" + tf)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("tf=%s should be rejected, got %d", tf, resp.StatusCode)
		}
	}
}

func TestTicksEndpoint(t *testing.T) {
	_, ts, _ := testServer(t)

	var out []models.Tick
	getJSON(t, ts.URL+"/api/ticks", &out)
	if len(out) != 4 || out[3].Price != 105 {
		t.Fatalf("unexpected ticks: %#v", out)
	}
}

func TestTradesEndpoint(t *testing.T) {
	_, ts, _ := testServer(t)

	var out []models.TradeEvent
	getJSON(t, ts.URL+"/api/trades", &out)
	if len(out) != 1 || out[0].TxHash != "0xabc" {
		t.Fatalf("unexpected trades: %#v", out)
	}
}

func TestStateEndpoint(t *testing.T) {
	_, ts, _ := testServer(t)

	var out stateFrame
	getJSON(t, ts.URL+"/api/state", &out)
	if out.Snapshot.Liquidity != "10" {
		t.Fatalf("unexpected snapshot: %#v", out.Snapshot)
	}
	if out.Ticks != 4 || len(out.Trades) != 1 {
		t.Fatalf("unexpected frame: %#v", out)
	}
}

func TestRefreshRequiresPost(t *testing.T) {
	_, ts, market := testServer(t)

	resp := getJSON(t, ts.URL+"/api/refresh", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET refresh should be rejected, got %d", resp.StatusCode)
	}

	postResp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("post refresh: %v", err)
	}
	postResp.Body.Close()
	if postResp.StatusCode != http.StatusOK {
		t.Fatalf("refresh failed: %d", postResp.StatusCode)
	}
	if atomic.LoadInt32(&market.refreshes) != 1 {
		t.Fatalf("refresh should trigger one poll cycle")
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, ts, _ := testServer(t)

	resp := getJSON(t, ts.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health check failed: %d", resp.StatusCode)
	}
}

func TestRequestIDHeader(t *testing.T) {
	_, ts, _ := testServer(t)

	resp := getJSON(t, ts.URL+"/healthz", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestWebsocketBroadcast(t *testing.T) {
	srv, ts, _ := testServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// Registration happens after the handshake completes server-side.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.mu.Lock()
		registered := len(srv.clients) > 0
		srv.mu.Unlock()
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.Broadcast()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	var frame stateFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Snapshot.Liquidity != "10" || frame.Ticks != 4 {
		t.Fatalf("unexpected frame: %#v", frame)
	}
}
