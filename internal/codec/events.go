package codec

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Provenance identifies where an event came from on chain.
type Provenance struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Timestamp   time.Time
}

// Event is the decoded-event tagged union. Every known event decodes
// to exactly one concrete variant; events with no dedicated projection
// decode to Generic. The dispatcher switches on the concrete type.
type Event interface {
	EventName() string
}

type PositionOpened struct {
	PositionID       *big.Int
	User             common.Address
	MarketID         *big.Int
	IsLong           bool
	SizeUsd          *big.Int
	Leverage         *big.Int
	EntryPrice       *big.Int
	CollateralToken  common.Address
	CollateralAmount *big.Int
	CollateralUsd    *big.Int
}

type PositionModified struct {
	PositionID          *big.Int
	NewSizeUsd          *big.Int
	NewCollateralAmount *big.Int
	NewCollateralUsd    *big.Int
}

type PositionClosed struct {
	PositionID   *big.Int
	CloseSizeUsd *big.Int
	ExitPrice    *big.Int
	RealizedPnl  *big.Int
	IsFullClose  bool
}

type Liquidation struct {
	PositionID *big.Int
	User       common.Address
	MarketID   *big.Int
	Price      *big.Int
	Penalty    *big.Int
	Keeper     common.Address
}

type OrderPlaced struct {
	OrderID      *big.Int
	User         common.Address
	MarketID     *big.Int
	OrderType    uint8
	IsLong       bool
	TriggerPrice *big.Int
	SizeUsd      *big.Int
}

type OrderExecuted struct {
	OrderID        *big.Int
	PositionID     *big.Int
	ExecutionPrice *big.Int
}

type OrderCancelled struct {
	OrderID *big.Int
}

// PricesUpdated carries parallel market-id / price arrays sharing one
// on-chain timestamp.
type PricesUpdated struct {
	MarketIDs []*big.Int
	Prices    []*big.Int
	Timestamp *big.Int
}

type FundingRateUpdated struct {
	MarketID      *big.Int
	RatePerSecond *big.Int
}

type MarketCreated struct {
	MarketID    *big.Int
	MarketName  string
	Symbol      string
	MaxLeverage *big.Int
}

type MarketEnabled struct {
	MarketID *big.Int
}

type MarketDisabled struct {
	MarketID *big.Int
}

type CollateralAdded struct {
	Token    common.Address
	Decimals uint8
}

type CollateralRemoved struct {
	Token common.Address
}

type FeesUpdated struct {
	TakerFeeBps       *big.Int
	MakerFeeBps       *big.Int
	LiquidationFeeBps *big.Int
	InsuranceFeeBps   *big.Int
}

type VaultCreated struct {
	User  common.Address
	Vault common.Address
}

type VaultDeposit struct {
	User   common.Address
	Token  common.Address
	Amount *big.Int
}

type VaultWithdrawal struct {
	User   common.Address
	Token  common.Address
	Amount *big.Int
}

type VaultFunded struct {
	Token  common.Address
	Amount *big.Int
}

type VaultDefunded struct {
	Token  common.Address
	Amount *big.Int
}

type PoolInitialized struct {
	MarketID     *big.Int
	BaseReserve  *big.Int
	QuoteReserve *big.Int
	OraclePrice  *big.Int
}

type PoolSynced struct {
	MarketID     *big.Int
	BaseReserve  *big.Int
	QuoteReserve *big.Int
}

type PoolReservesUpdated struct {
	MarketID     *big.Int
	BaseReserve  *big.Int
	QuoteReserve *big.Int
	OraclePrice  *big.Int
}

// Generic carries the positional arguments of an audit-only event
// (pause, access control, oracle config, diamond upgrades). These are
// recorded verbatim as protocol events, so no typed variant exists.
type Generic struct {
	Name string
	Args []interface{}
}

func (PositionOpened) EventName() string      { return EvPositionOpened }
func (PositionModified) EventName() string    { return EvPositionModified }
func (PositionClosed) EventName() string      { return EvPositionClosed }
func (Liquidation) EventName() string         { return EvLiquidation }
func (OrderPlaced) EventName() string         { return EvOrderPlaced }
func (OrderExecuted) EventName() string       { return EvOrderExecuted }
func (OrderCancelled) EventName() string      { return EvOrderCancelled }
func (PricesUpdated) EventName() string       { return EvPricesUpdated }
func (FundingRateUpdated) EventName() string  { return EvFundingRateUpdated }
func (MarketCreated) EventName() string       { return EvMarketCreated }
func (MarketEnabled) EventName() string       { return EvMarketEnabled }
func (MarketDisabled) EventName() string      { return EvMarketDisabled }
func (CollateralAdded) EventName() string     { return EvCollateralAdded }
func (CollateralRemoved) EventName() string   { return EvCollateralRemoved }
func (FeesUpdated) EventName() string         { return EvFeesUpdated }
func (VaultCreated) EventName() string        { return EvVaultCreated }
func (VaultDeposit) EventName() string        { return EvVaultDeposit }
func (VaultWithdrawal) EventName() string     { return EvVaultWithdrawal }
func (VaultFunded) EventName() string         { return EvVaultFunded }
func (VaultDefunded) EventName() string       { return EvVaultDefunded }
func (PoolInitialized) EventName() string     { return EvPoolInitialized }
func (PoolSynced) EventName() string          { return EvPoolSynced }
func (PoolReservesUpdated) EventName() string { return EvPoolReservesUpdated }
func (g Generic) EventName() string           { return g.Name }
