package store

import (
	"context"
	"errors"
	"math/big"
)

// ErrNotFound is returned by read helpers when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store is the derived-state projection. Every method that touches
// more than one table is atomic: all rows for one chain event become
// visible together or not at all. Every write is idempotent under
// replay of the same (tx hash, log index): fact inserts land on a
// uniqueness constraint and entity transitions are status-guarded, so
// re-scanning a range never duplicates rows nor regresses state.
type Store interface {
	UpsertMarket(ctx context.Context, m *Market) error
	SetMarketEnabled(ctx context.Context, marketID string, enabled bool) error

	UpsertCollateralToken(ctx context.Context, t *CollateralToken) error
	SetCollateralActive(ctx context.Context, token string, active bool) error

	// OpenPosition inserts the position and its opening trade together.
	OpenPosition(ctx context.Context, p *Position, t *Trade) error

	// ModifyPosition updates size/collateral in place (only while the
	// position is open) and appends the modify trade.
	ModifyPosition(ctx context.Context, positionID string, sizeUsd, collateralAmount, collateralUsd *big.Int, t *Trade) error

	// ClosePosition terminalizes an open position and appends the close
	// trade. A position already terminal is left untouched.
	ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnl *big.Int, prov Provenance, t *Trade) error

	// RecordPartialClose appends a partial-close trade; the position
	// stays open and keeps its size.
	RecordPartialClose(ctx context.Context, t *Trade) error

	// LiquidatePosition terminalizes an open position and appends both
	// the liquidation fact and the liquidation trade.
	LiquidatePosition(ctx context.Context, positionID string, price *big.Int, l *Liquidation, t *Trade) error

	CreateOrder(ctx context.Context, o *Order) error
	ExecuteOrder(ctx context.Context, orderID, positionID string, executionPrice *big.Int) error
	CancelOrder(ctx context.Context, orderID string) error

	// RecordPriceUpdates appends the fanned-out batch and refreshes
	// latest_prices for every market whose new on-chain timestamp is
	// not older than the stored one.
	RecordPriceUpdates(ctx context.Context, updates []*PriceUpdate) error

	RecordFundingRate(ctx context.Context, f *FundingRate) error

	CreateUserVault(ctx context.Context, v *UserVault) error
	RecordVaultEvent(ctx context.Context, e *VaultEvent) error

	RecordProtocolEvent(ctx context.Context, e *ProtocolEvent) error

	UpsertPoolState(ctx context.Context, p *PoolState) error
	UpsertFeeConfig(ctx context.Context, f *FeeConfig) error

	// Checkpoint returns the last fully indexed block, zero when the
	// indexer has never run.
	Checkpoint(ctx context.Context) (uint64, error)

	// AdvanceCheckpoint moves the checkpoint forward; a value behind
	// the stored one is ignored.
	AdvanceCheckpoint(ctx context.Context, block uint64) error

	// Read helpers, the hand-off point to reporting layers.
	GetMarket(ctx context.Context, marketID string) (*Market, error)
	GetPosition(ctx context.Context, positionID string) (*Position, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetLatestPrice(ctx context.Context, marketID string) (*LatestPrice, error)
	TradesByPosition(ctx context.Context, positionID string) ([]*Trade, error)
}
