package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"gascap/config"
	"gascap/internal/models"
	"gascap/logger"
)

// LogEntry is one raw entry returned by eth_getLogs.
type LogEntry struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
}

// Client reads the oracle price, the contract state and the trade event log
// over plain JSON-RPC. All calls are rate limited and retried with
// exponential backoff on transport failures; an RPC-level error is returned
// to the caller unchanged since retrying a revert is pointless.
type Client struct {
	endpoint string
	contract string
	http     *http.Client
	limiter  *rate.Limiter
	retry    config.RetryConfig
	log      *logger.Log
	nextID   uint64
}

func NewClient(cfg config.ChainConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = rps
	}

	return &Client{
		endpoint: cfg.RPCURL,
		contract: cfg.ContractAddress,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		retry:    cfg.Retry,
		log:      logger.GetLogger(),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC invocation, decoding the result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      atomic.AddUint64(&c.nextID, 1),
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var resp rpcResponse
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, httpResp.Body)
			return fmt.Errorf("unexpected status %d", httpResp.StatusCode)
		}

		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if resp.Error != nil {
			// Contract-level failures do not improve on retry.
			return backoff.Permanent(resp.Error)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackoff(), ctx)); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		b.InitialInterval = c.retry.InitialInterval
	}
	if c.retry.MaxInterval > 0 {
		b.MaxInterval = c.retry.MaxInterval
	}
	if c.retry.MaxElapsedTime > 0 {
		b.MaxElapsedTime = c.retry.MaxElapsedTime
	} else {
		b.MaxElapsedTime = 8 * time.Second
	}
	return b
}

func (c *Client) ethCall(ctx context.Context, data string) ([]string, error) {
	var result string
	params := []interface{}{
		map[string]string{"to": c.contract, "data": data},
		"latest",
	}
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return nil, err
	}
	return abiWords(result)
}

// HeadBlock returns the current chain head number.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []interface{}{}, &result); err != nil {
		return 0, err
	}
	return hexUint64(result)
}

// CurrentIndexPrice reads the oracle's current index value and observation
// time from the contract.
func (c *Client) CurrentIndexPrice(ctx context.Context) (models.IndexPrice, error) {
	words, err := c.ethCall(ctx, callData(selGetCurrentGasPrice))
	if err != nil {
		return models.IndexPrice{}, err
	}
	if len(words) < 2 {
		return models.IndexPrice{}, fmt.Errorf("getCurrentGasPrice: short result (%d words)", len(words))
	}

	price, err := wordUint64(words[0])
	if err != nil {
		return models.IndexPrice{}, err
	}
	ts, err := wordUint64(words[1])
	if err != nil {
		return models.IndexPrice{}, err
	}
	return models.IndexPrice{Price: float64(price), Timestamp: int64(ts)}, nil
}

// ContractSummary reads the contract's public state getter.
func (c *Client) ContractSummary(ctx context.Context) (models.ContractSummary, error) {
	words, err := c.ethCall(ctx, callData(selGetContractState))
	if err != nil {
		return models.ContractSummary{}, err
	}
	if len(words) < 6 {
		return models.ContractSummary{}, fmt.Errorf("getContractState: short result (%d words)", len(words))
	}

	strike, err := wordUint64(words[0])
	if err != nil {
		return models.ContractSummary{}, err
	}
	expiry, err := wordUint64(words[1])
	if err != nil {
		return models.ContractSummary{}, err
	}
	settlement, err := wordUint64(words[3])
	if err != nil {
		return models.ContractSummary{}, err
	}
	liquidity, err := wordBig(words[4])
	if err != nil {
		return models.ContractSummary{}, err
	}
	participants, err := wordUint64(words[5])
	if err != nil {
		return models.ContractSummary{}, err
	}

	return models.ContractSummary{
		StrikePrice:      strike,
		ExpiryTimestamp:  int64(expiry),
		IsSettled:        wordBool(words[2]),
		SettlementPrice:  settlement,
		TotalLiquidity:   liquidity,
		ParticipantCount: participants,
	}, nil
}

// Position reads the account's position from the contract.
func (c *Client) Position(ctx context.Context, account string) (models.Position, error) {
	words, err := c.ethCall(ctx, callData(selGetPosition, account))
	if err != nil {
		return models.Position{}, err
	}
	if len(words) < 11 {
		return models.Position{}, fmt.Errorf("getPosition: short result (%d words)", len(words))
	}

	quantity, err := wordUint64(words[2])
	if err != nil {
		return models.Position{}, err
	}
	collateral, err := wordBig(words[3])
	if err != nil {
		return models.Position{}, err
	}
	leverage, err := wordUint64(words[4])
	if err != nil {
		return models.Position{}, err
	}
	entryPrice, err := wordUint64(words[7])
	if err != nil {
		return models.Position{}, err
	}
	openedAt, err := wordUint64(words[8])
	if err != nil {
		return models.Position{}, err
	}

	return models.Position{
		Exists:     wordBool(words[0]),
		IsLong:     wordBool(words[1]),
		Quantity:   quantity,
		Collateral: collateral,
		Leverage:   leverage,
		EntryPrice: entryPrice,
		OpenedAt:   int64(openedAt),
		IsActive:   wordBool(words[9]),
		IsClaimed:  wordBool(words[10]),
	}, nil
}

// LiquidityProvided reads the account's pooled liquidity in wei.
func (c *Client) LiquidityProvided(ctx context.Context, account string) (string, error) {
	words, err := c.ethCall(ctx, callData(selLiquidityProvided, account))
	if err != nil {
		return "", err
	}
	if len(words) < 1 {
		return "", fmt.Errorf("liquidityProvided: empty result")
	}
	return wordBig(words[0])
}

// FilterLogs pages the contract's log entries for one topic over the
// inclusive block range [from, to].
func (c *Client) FilterLogs(ctx context.Context, from, to uint64, topic string) ([]LogEntry, error) {
	var entries []LogEntry
	params := []interface{}{
		map[string]interface{}{
			"fromBlock": uint64Hex(from),
			"toBlock":   uint64Hex(to),
			"address":   c.contract,
			"topics":    []interface{}{topic},
		},
	}
	if err := c.call(ctx, "eth_getLogs", params, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// BlockTimestamp resolves a block number to its unix timestamp.
func (c *Client) BlockTimestamp(ctx context.Context, block uint64) (int64, error) {
	var header struct {
		Timestamp string `json:"timestamp"`
	}
	if err := c.call(ctx, "eth_getBlockByNumber", []interface{}{uint64Hex(block), false}, &header); err != nil {
		return 0, err
	}
	ts, err := hexUint64(header.Timestamp)
	if err != nil {
		return 0, err
	}
	return int64(ts), nil
}

// DecodeTradeEvent resolves one FuturesMinted log entry to a typed trade.
func DecodeTradeEvent(entry LogEntry, timestamp int64) (models.TradeEvent, error) {
	if len(entry.Topics) < 2 {
		return models.TradeEvent{}, fmt.Errorf("log %s: missing trader topic", entry.TxHash)
	}
	words, err := abiWords(entry.Data)
	if err != nil {
		return models.TradeEvent{}, fmt.Errorf("log %s: %w", entry.TxHash, err)
	}
	if len(words) < 4 {
		return models.TradeEvent{}, fmt.Errorf("log %s: short data (%d words)", entry.TxHash, len(words))
	}

	quantity, err := wordUint64(words[1])
	if err != nil {
		return models.TradeEvent{}, err
	}
	collateral, err := wordBig(words[2])
	if err != nil {
		return models.TradeEvent{}, err
	}
	leverage, err := wordUint64(words[3])
	if err != nil {
		return models.TradeEvent{}, err
	}

	return models.TradeEvent{
		Trader:     wordAddress(entry.Topics[1]),
		IsLong:     wordBool(words[0]),
		Quantity:   quantity,
		Collateral: collateral,
		Leverage:   leverage,
		Timestamp:  timestamp,
		TxHash:     entry.TxHash,
	}, nil
}
