package models

// Tick is a single observation of the oracle index price. Time is unix
// seconds; ties on Time are resolved by arrival order upstream.
type Tick struct {
	Price float64 `json:"price"`
	Time  int64   `json:"time"`
}

// Candle is an OHLC summary of the ticks inside one fixed-width bucket.
// Time is the unix second the bucket starts at.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// TradeEvent is one FuturesMinted log resolved to a typed record. TxHash is
// the identity key used for deduplication across overlapping scans.
type TradeEvent struct {
	Trader     string `json:"trader"`
	IsLong     bool   `json:"is_long"`
	Quantity   uint64 `json:"quantity"`
	Collateral string `json:"collateral"`
	Leverage   uint64 `json:"leverage"`
	Timestamp  int64  `json:"timestamp"`
	TxHash     string `json:"tx_hash"`
}

// IndexPrice is the oracle's current index value and its observation time.
type IndexPrice struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// ContractSummary mirrors the futures contract's public state getter. Wei
// denominated amounts are kept as decimal strings to avoid overflow.
type ContractSummary struct {
	StrikePrice      uint64 `json:"strike_price"`
	ExpiryTimestamp  int64  `json:"expiry_timestamp"`
	IsSettled        bool   `json:"is_settled"`
	SettlementPrice  uint64 `json:"settlement_price"`
	TotalLiquidity   string `json:"total_liquidity"`
	ParticipantCount uint64 `json:"participant_count"`
}

// Position is a per-account position read from the contract.
type Position struct {
	Exists     bool   `json:"exists"`
	IsLong     bool   `json:"is_long"`
	Quantity   uint64 `json:"quantity"`
	Collateral string `json:"collateral"`
	Leverage   uint64 `json:"leverage"`
	EntryPrice uint64 `json:"entry_price"`
	OpenedAt   int64  `json:"opened_at"`
	IsActive   bool   `json:"is_active"`
	IsClaimed  bool   `json:"is_claimed"`
}
