package store

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Provenance pins a projected row to the chain log it came from.
// (tx_hash, log_index) is the idempotency key for every fact row.
type Provenance struct {
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Timestamp   time.Time
}

// Position status lifecycle: open → closed | liquidated, never backward.
const (
	PositionOpen       = "open"
	PositionClosed     = "closed"
	PositionLiquidated = "liquidated"
)

// Order status lifecycle: active → executed | cancelled.
const (
	OrderActive    = "active"
	OrderExecuted  = "executed"
	OrderCancelled = "cancelled"
)

// Trade types, one per causing event.
const (
	TradeOpen         = "open"
	TradeClose        = "close"
	TradePartialClose = "partial_close"
	TradeModify       = "modify"
	TradeLiquidation  = "liquidation"
)

// Vault event types.
const (
	VaultEventDeposit    = "deposit"
	VaultEventWithdrawal = "withdrawal"
	VaultEventFunded     = "vault_funded"
	VaultEventDefunded   = "vault_defunded"
)

// Side of a position or order.
const (
	SideLong  = "long"
	SideShort = "short"
)

// Market ids, position ids and order ids are chain-assigned uint256
// values carried as decimal strings; monetary quantities are the
// chain's fixed-point integers carried as *big.Int. Neither ever
// touches binary floating point.

type Market struct {
	MarketID    string
	Name        string
	Symbol      string
	MaxLeverage *big.Int
	Enabled     bool
	CreatedAt   time.Time
}

type CollateralToken struct {
	Token    string
	Decimals uint8
	IsActive bool
}

type Position struct {
	PositionID       string
	User             string
	MarketID         string
	Side             string
	SizeUsd          *big.Int
	Leverage         *big.Int
	EntryPrice       *big.Int
	CollateralToken  string
	CollateralAmount *big.Int
	CollateralUsd    *big.Int
	Status           string
	RealizedPnl      *big.Int // set on close, nil while open
	ExitPrice        *big.Int // set on close/liquidation, nil while open
	Prov             Provenance
	ClosedAt         *time.Time
}

type Trade struct {
	ID          string
	PositionID  string
	User        string
	MarketID    string
	TradeType   string
	SizeUsd     *big.Int
	Price       *big.Int // zero for modify trades, which carry no execution price
	RealizedPnl *big.Int
	Prov        Provenance
}

type Order struct {
	OrderID        string
	User           string
	MarketID       string
	OrderType      uint8
	Side           string
	TriggerPrice   *big.Int
	SizeUsd        *big.Int
	Status         string
	PositionID     *string  // set when executed
	ExecutionPrice *big.Int // set when executed
	Prov           Provenance
}

type Liquidation struct {
	ID         string
	PositionID string
	User       string
	MarketID   string
	Price      *big.Int
	Penalty    *big.Int
	Keeper     string
	Prov       Provenance
}

type PriceUpdate struct {
	ID             string
	MarketID       string
	Price          *big.Int
	PriceTimestamp time.Time // on-chain batch timestamp
	Prov           Provenance
}

type LatestPrice struct {
	MarketID       string
	Price          *big.Int
	PriceTimestamp time.Time
	BlockNumber    uint64
}

type FundingRate struct {
	ID            string
	MarketID      string
	RatePerSecond *big.Int
	Rate24h       decimal.Decimal
	Prov          Provenance
}

type UserVault struct {
	User  string
	Vault string
	Prov  Provenance
}

type VaultEvent struct {
	ID        string
	EventType string
	User      *string // nil for vault_funded / vault_defunded
	Token     string
	Amount    *big.Int
	Prov      Provenance
}

type ProtocolEvent struct {
	ID      string
	Name    string
	Payload []byte // JSON, positional argument map
	Prov    Provenance
}

type PoolState struct {
	MarketID     string
	BaseReserve  *big.Int
	QuoteReserve *big.Int
	OraclePrice  *big.Int // zero when the causing event carries none
	BlockNumber  uint64
	UpdatedAt    time.Time
}

type FeeConfig struct {
	TakerFeeBps       *big.Int
	MakerFeeBps       *big.Int
	LiquidationFeeBps *big.Int
	InsuranceFeeBps   *big.Int
	UpdatedAt         time.Time
}
