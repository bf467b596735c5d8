package dispatch

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpIndexer/internal/codec"
	"PerpIndexer/internal/store"
)

// Dispatcher routes decoded events to their projection writes. Events
// with no dedicated projection are recorded as protocol events; event
// names absent from the schema entirely are dropped with a diagnostic.
type Dispatcher struct {
	store store.Store
	log   zerolog.Logger
}

func New(st store.Store, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: st, log: log}
}

// Dispatch applies one decoded event. The store guarantees that all
// writes for the event commit atomically; an error here means the
// event was not applied and the surrounding range must not advance the
// checkpoint.
func (d *Dispatcher) Dispatch(ctx context.Context, ev codec.Event, prov codec.Provenance) error {
	sp := storeProv(prov)

	switch e := ev.(type) {
	case codec.PositionOpened:
		return d.positionOpened(ctx, e, sp)
	case codec.PositionModified:
		return d.positionModified(ctx, e, sp)
	case codec.PositionClosed:
		return d.positionClosed(ctx, e, sp)
	case codec.Liquidation:
		return d.liquidation(ctx, e, sp)
	case codec.OrderPlaced:
		return d.orderPlaced(ctx, e, sp)
	case codec.OrderExecuted:
		return d.store.ExecuteOrder(ctx, e.OrderID.String(), e.PositionID.String(), e.ExecutionPrice)
	case codec.OrderCancelled:
		return d.store.CancelOrder(ctx, e.OrderID.String())
	case codec.PricesUpdated:
		return d.pricesUpdated(ctx, e, sp)
	case codec.FundingRateUpdated:
		return d.fundingRateUpdated(ctx, e, sp)
	case codec.MarketCreated:
		return d.store.UpsertMarket(ctx, &store.Market{
			MarketID:    e.MarketID.String(),
			Name:        e.MarketName,
			Symbol:      e.Symbol,
			MaxLeverage: e.MaxLeverage,
			Enabled:     true,
			CreatedAt:   sp.Timestamp,
		})
	case codec.MarketEnabled:
		return d.store.SetMarketEnabled(ctx, e.MarketID.String(), true)
	case codec.MarketDisabled:
		return d.store.SetMarketEnabled(ctx, e.MarketID.String(), false)
	case codec.CollateralAdded:
		return d.store.UpsertCollateralToken(ctx, &store.CollateralToken{
			Token:    e.Token.Hex(),
			Decimals: e.Decimals,
			IsActive: true,
		})
	case codec.CollateralRemoved:
		return d.store.SetCollateralActive(ctx, e.Token.Hex(), false)
	case codec.FeesUpdated:
		return d.store.UpsertFeeConfig(ctx, &store.FeeConfig{
			TakerFeeBps:       e.TakerFeeBps,
			MakerFeeBps:       e.MakerFeeBps,
			LiquidationFeeBps: e.LiquidationFeeBps,
			InsuranceFeeBps:   e.InsuranceFeeBps,
			UpdatedAt:         sp.Timestamp,
		})
	case codec.VaultCreated:
		return d.store.CreateUserVault(ctx, &store.UserVault{
			User:  e.User.Hex(),
			Vault: e.Vault.Hex(),
			Prov:  sp,
		})
	case codec.VaultDeposit:
		user := e.User.Hex()
		return d.vaultEvent(ctx, store.VaultEventDeposit, &user, e.Token.Hex(), e.Amount, sp)
	case codec.VaultWithdrawal:
		user := e.User.Hex()
		return d.vaultEvent(ctx, store.VaultEventWithdrawal, &user, e.Token.Hex(), e.Amount, sp)
	case codec.VaultFunded:
		return d.vaultEvent(ctx, store.VaultEventFunded, nil, e.Token.Hex(), e.Amount, sp)
	case codec.VaultDefunded:
		return d.vaultEvent(ctx, store.VaultEventDefunded, nil, e.Token.Hex(), e.Amount, sp)
	case codec.PoolInitialized:
		return d.poolState(ctx, e.MarketID, e.BaseReserve, e.QuoteReserve, e.OraclePrice, sp)
	case codec.PoolSynced:
		// Sync carries no oracle price; record it as zero.
		return d.poolState(ctx, e.MarketID, e.BaseReserve, e.QuoteReserve, new(big.Int), sp)
	case codec.PoolReservesUpdated:
		return d.poolState(ctx, e.MarketID, e.BaseReserve, e.QuoteReserve, e.OraclePrice, sp)
	case codec.Generic:
		return d.protocolEvent(ctx, e, sp)
	default:
		// A validly-shaped event the projection does not know. Dropped,
		// never fatal.
		d.log.Debug().
			Str("event", ev.EventName()).
			Str("tx", sp.TxHash).
			Msg("no handler for event, dropping")
		return nil
	}
}

func (d *Dispatcher) positionOpened(ctx context.Context, e codec.PositionOpened, sp store.Provenance) error {
	pos := &store.Position{
		PositionID:       e.PositionID.String(),
		User:             e.User.Hex(),
		MarketID:         e.MarketID.String(),
		Side:             side(e.IsLong),
		SizeUsd:          e.SizeUsd,
		Leverage:         e.Leverage,
		EntryPrice:       e.EntryPrice,
		CollateralToken:  e.CollateralToken.Hex(),
		CollateralAmount: e.CollateralAmount,
		CollateralUsd:    e.CollateralUsd,
		Status:           store.PositionOpen,
		Prov:             sp,
	}
	trade := &store.Trade{
		ID:         uuid.NewString(),
		PositionID: pos.PositionID,
		User:       pos.User,
		MarketID:   pos.MarketID,
		TradeType:  store.TradeOpen,
		SizeUsd:    e.SizeUsd,
		Price:      e.EntryPrice,
		Prov:       sp,
	}
	return d.store.OpenPosition(ctx, pos, trade)
}

func (d *Dispatcher) positionModified(ctx context.Context, e codec.PositionModified, sp store.Provenance) error {
	pid := e.PositionID.String()
	pos, err := d.store.GetPosition(ctx, pid)
	if err != nil {
		return fmt.Errorf("modify: load position %s: %w", pid, err)
	}
	// Modify events carry no execution price; the trade records the new
	// size with price zero.
	trade := &store.Trade{
		ID:         uuid.NewString(),
		PositionID: pid,
		User:       pos.User,
		MarketID:   pos.MarketID,
		TradeType:  store.TradeModify,
		SizeUsd:    e.NewSizeUsd,
		Price:      new(big.Int),
		Prov:       sp,
	}
	return d.store.ModifyPosition(ctx, pid, e.NewSizeUsd, e.NewCollateralAmount, e.NewCollateralUsd, trade)
}

func (d *Dispatcher) positionClosed(ctx context.Context, e codec.PositionClosed, sp store.Provenance) error {
	pid := e.PositionID.String()
	pos, err := d.store.GetPosition(ctx, pid)
	if err != nil {
		return fmt.Errorf("close: load position %s: %w", pid, err)
	}

	trade := &store.Trade{
		ID:          uuid.NewString(),
		PositionID:  pid,
		User:        pos.User,
		MarketID:    pos.MarketID,
		SizeUsd:     e.CloseSizeUsd,
		Price:       e.ExitPrice,
		RealizedPnl: e.RealizedPnl,
		Prov:        sp,
	}

	if !e.IsFullClose {
		trade.TradeType = store.TradePartialClose
		return d.store.RecordPartialClose(ctx, trade)
	}

	trade.TradeType = store.TradeClose
	return d.store.ClosePosition(ctx, pid, e.ExitPrice, e.RealizedPnl, sp, trade)
}

func (d *Dispatcher) liquidation(ctx context.Context, e codec.Liquidation, sp store.Provenance) error {
	pid := e.PositionID.String()
	liq := &store.Liquidation{
		ID:         uuid.NewString(),
		PositionID: pid,
		User:       e.User.Hex(),
		MarketID:   e.MarketID.String(),
		Price:      e.Price,
		Penalty:    e.Penalty,
		Keeper:     e.Keeper.Hex(),
		Prov:       sp,
	}

	pos, err := d.store.GetPosition(ctx, pid)
	if err != nil {
		return fmt.Errorf("liquidation: load position %s: %w", pid, err)
	}

	// The on-chain event carries no PnL figure; liquidations record
	// realized_pnl = 0.
	trade := &store.Trade{
		ID:          uuid.NewString(),
		PositionID:  pid,
		User:        liq.User,
		MarketID:    liq.MarketID,
		TradeType:   store.TradeLiquidation,
		SizeUsd:     pos.SizeUsd,
		Price:       e.Price,
		RealizedPnl: new(big.Int),
		Prov:        sp,
	}
	return d.store.LiquidatePosition(ctx, pid, e.Price, liq, trade)
}

func (d *Dispatcher) orderPlaced(ctx context.Context, e codec.OrderPlaced, sp store.Provenance) error {
	return d.store.CreateOrder(ctx, &store.Order{
		OrderID:      e.OrderID.String(),
		User:         e.User.Hex(),
		MarketID:     e.MarketID.String(),
		OrderType:    e.OrderType,
		Side:         side(e.IsLong),
		TriggerPrice: e.TriggerPrice,
		SizeUsd:      e.SizeUsd,
		Status:       store.OrderActive,
		Prov:         sp,
	})
}

func (d *Dispatcher) pricesUpdated(ctx context.Context, e codec.PricesUpdated, sp store.Provenance) error {
	ts := time.Unix(e.Timestamp.Int64(), 0).UTC()
	updates := make([]*store.PriceUpdate, 0, len(e.MarketIDs))
	for i, id := range e.MarketIDs {
		updates = append(updates, &store.PriceUpdate{
			ID:             uuid.NewString(),
			MarketID:       id.String(),
			Price:          e.Prices[i],
			PriceTimestamp: ts,
			Prov:           sp,
		})
	}
	return d.store.RecordPriceUpdates(ctx, updates)
}

func (d *Dispatcher) fundingRateUpdated(ctx context.Context, e codec.FundingRateUpdated, sp store.Provenance) error {
	perSecond := decimal.NewFromBigInt(e.RatePerSecond, 0)
	return d.store.RecordFundingRate(ctx, &store.FundingRate{
		ID:            uuid.NewString(),
		MarketID:      e.MarketID.String(),
		RatePerSecond: e.RatePerSecond,
		Rate24h:       perSecond.Mul(decimal.NewFromInt(24 * 60 * 60)),
		Prov:          sp,
	})
}

func (d *Dispatcher) vaultEvent(ctx context.Context, eventType string, user *string, token string, amount *big.Int, sp store.Provenance) error {
	return d.store.RecordVaultEvent(ctx, &store.VaultEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		User:      user,
		Token:     token,
		Amount:    amount,
		Prov:      sp,
	})
}

func (d *Dispatcher) poolState(ctx context.Context, marketID, baseReserve, quoteReserve, oraclePrice *big.Int, sp store.Provenance) error {
	return d.store.UpsertPoolState(ctx, &store.PoolState{
		MarketID:     marketID.String(),
		BaseReserve:  baseReserve,
		QuoteReserve: quoteReserve,
		OraclePrice:  oraclePrice,
		BlockNumber:  sp.BlockNumber,
		UpdatedAt:    sp.Timestamp,
	})
}

func (d *Dispatcher) protocolEvent(ctx context.Context, e codec.Generic, sp store.Provenance) error {
	payload, err := encodePayload(e.Args)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", e.Name, err)
	}
	return d.store.RecordProtocolEvent(ctx, &store.ProtocolEvent{
		ID:      uuid.NewString(),
		Name:    e.Name,
		Payload: payload,
		Prov:    sp,
	})
}

func side(isLong bool) string {
	if isLong {
		return store.SideLong
	}
	return store.SideShort
}

func storeProv(p codec.Provenance) store.Provenance {
	return store.Provenance{
		BlockNumber: p.BlockNumber,
		TxHash:      p.TxHash.Hex(),
		LogIndex:    p.LogIndex,
		Timestamp:   p.Timestamp,
	}
}
