package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gascap/config"
)

func testConfig(url string) config.ChainConfig {
	return config.ChainConfig{
		RPCURL:          url,
		ContractAddress: "0x1111111111111111111111111111111111111111",
		RequestTimeout:  2 * time.Second,
		Retry: config.RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxElapsedTime:  20 * time.Millisecond,
		},
	}
}

// rpcServer answers each JSON-RPC method with a canned result.
func rpcServer(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func words(ws ...string) string {
	var b strings.Builder
	b.WriteString("0x")
	for _, w := range ws {
		b.WriteString(strings.Repeat("0", wordHexLen-len(w)) + w)
	}
	return b.String()
}

func TestHeadBlock(t *testing.T) {
	srv := rpcServer(t, map[string]interface{}{"eth_blockNumber": "0x2ee0"})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	head, err := client.HeadBlock(context.Background())
	if err != nil {
		t.Fatalf("head block: %v", err)
	}
	if head != 12000 {
		t.Fatalf("expected head 12000, got %d", head)
	}
}

func TestCurrentIndexPrice(t *testing.T) {
	srv := rpcServer(t, map[string]interface{}{
		"eth_call": words("32", "64"), // price 50, timestamp 100
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	price, err := client.CurrentIndexPrice(context.Background())
	if err != nil {
		t.Fatalf("current index price: %v", err)
	}
	if price.Price != 50 || price.Timestamp != 100 {
		t.Fatalf("unexpected price: %#v", price)
	}
}

func TestContractSummary(t *testing.T) {
	srv := rpcServer(t, map[string]interface{}{
		// strike 40, expiry 1700000000, settled true, settlement 45,
		// liquidity 10^18 wei, participants 7
		"eth_call": words("28", "6553f100", "1", "2d", "de0b6b3a7640000", "7"),
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	summary, err := client.ContractSummary(context.Background())
	if err != nil {
		t.Fatalf("contract summary: %v", err)
	}
	if summary.StrikePrice != 40 || !summary.IsSettled || summary.SettlementPrice != 45 {
		t.Fatalf("unexpected summary: %#v", summary)
	}
	if summary.TotalLiquidity != "1000000000000000000" {
		t.Fatalf("unexpected liquidity: %s", summary.TotalLiquidity)
	}
	if summary.ParticipantCount != 7 {
		t.Fatalf("unexpected participants: %d", summary.ParticipantCount)
	}
}

func TestFilterLogsAndDecode(t *testing.T) {
	entry := map[string]interface{}{
		"address": "0x1111111111111111111111111111111111111111",
		"topics": []string{
			TopicFuturesMinted,
			"0x000000000000000000000000aabbccddeeff00112233445566778899aabbccdd",
		},
		"data":            words("1", "a", "de0b6b3a7640000", "5"),
		"blockNumber":     "0x2ee0",
		"transactionHash": "0xdeadbeef",
	}
	srv := rpcServer(t, map[string]interface{}{
		"eth_getLogs": []interface{}{entry},
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	logs, err := client.FilterLogs(context.Background(), 7001, 12000, TopicFuturesMinted)
	if err != nil {
		t.Fatalf("filter logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}

	trade, err := DecodeTradeEvent(logs[0], 1700000123)
	if err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if trade.Trader != "0xaabbccddeeff00112233445566778899aabbccdd" {
		t.Fatalf("unexpected trader: %s", trade.Trader)
	}
	if !trade.IsLong || trade.Quantity != 10 || trade.Leverage != 5 {
		t.Fatalf("unexpected trade: %#v", trade)
	}
	if trade.Collateral != "1000000000000000000" {
		t.Fatalf("unexpected collateral: %s", trade.Collateral)
	}
	if trade.TxHash != "0xdeadbeef" || trade.Timestamp != 1700000123 {
		t.Fatalf("unexpected identity fields: %#v", trade)
	}
}

func TestBlockTimestamp(t *testing.T) {
	srv := rpcServer(t, map[string]interface{}{
		"eth_getBlockByNumber": map[string]string{"timestamp": "0x6553f100"},
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	ts, err := client.BlockTimestamp(context.Background(), 12000)
	if err != nil {
		t.Fatalf("block timestamp: %v", err)
	}
	if ts != 1700000000 {
		t.Fatalf("unexpected timestamp: %d", ts)
	}
}

func TestCallSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]interface{}{"code": -32000, "message": "execution reverted"},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	if _, err := client.HeadBlock(context.Background()); err == nil {
		t.Fatalf("expected rpc error")
	} else if !strings.Contains(err.Error(), "execution reverted") {
		t.Fatalf("error should carry the rpc message: %v", err)
	}
}

func TestCallRetriesTransportFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "0x10",
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	head, err := client.HeadBlock(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if head != 16 || attempts < 2 {
		t.Fatalf("unexpected result %d after %d attempts", head, attempts)
	}
}

func TestAbiWordsRejectsUnaligned(t *testing.T) {
	if _, err := abiWords("0x1234"); err == nil {
		t.Fatalf("expected alignment error")
	}
}
