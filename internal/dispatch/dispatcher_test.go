package dispatch_test

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpIndexer/internal/codec"
	"PerpIndexer/internal/dispatch"
	"PerpIndexer/internal/store"
)

func newDispatcher(t *testing.T) (*dispatch.Dispatcher, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return dispatch.New(mem, zerolog.Nop()), mem
}

func prov(block uint64, logIndex uint) codec.Provenance {
	return codec.Provenance{
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
		LogIndex:    logIndex,
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func openedEvent(positionID int64) codec.PositionOpened {
	return codec.PositionOpened{
		PositionID:       big.NewInt(positionID),
		User:             common.HexToAddress("0x1111111111111111111111111111111111111111"),
		MarketID:         big.NewInt(1),
		IsLong:           true,
		SizeUsd:          big.NewInt(5000),
		Leverage:         big.NewInt(10),
		EntryPrice:       big.NewInt(42000),
		CollateralToken:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		CollateralAmount: big.NewInt(500),
		CollateralUsd:    big.NewInt(500),
	}
}

func TestPositionOpenedIdempotentReplay(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	ev := openedEvent(7)
	p := prov(100, 0)

	if err := d.Dispatch(ctx, ev, p); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := d.Dispatch(ctx, ev, p); err != nil {
		t.Fatalf("replay dispatch: %v", err)
	}

	pos, err := mem.GetPosition(ctx, "7")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Status != store.PositionOpen {
		t.Errorf("status: got %s, want %s", pos.Status, store.PositionOpen)
	}
	if trades := mem.AllTrades(); len(trades) != 1 {
		t.Fatalf("trades after replay: got %d, want 1", len(trades))
	}
}

func TestOpenThenFullClose(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	if err := d.Dispatch(ctx, openedEvent(7), prov(100, 0)); err != nil {
		t.Fatalf("open: %v", err)
	}
	closeEv := codec.PositionClosed{
		PositionID:   big.NewInt(7),
		CloseSizeUsd: big.NewInt(5000),
		ExitPrice:    big.NewInt(43000),
		RealizedPnl:  big.NewInt(119),
		IsFullClose:  true,
	}
	if err := d.Dispatch(ctx, closeEv, prov(100, 1)); err != nil {
		t.Fatalf("close: %v", err)
	}

	pos, err := mem.GetPosition(ctx, "7")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Status != store.PositionClosed {
		t.Errorf("status: got %s, want %s", pos.Status, store.PositionClosed)
	}
	if pos.ExitPrice == nil || pos.ExitPrice.Cmp(big.NewInt(43000)) != 0 {
		t.Errorf("exit price: got %v, want 43000", pos.ExitPrice)
	}
	if pos.RealizedPnl == nil || pos.RealizedPnl.Cmp(big.NewInt(119)) != 0 {
		t.Errorf("realized pnl: got %v, want 119", pos.RealizedPnl)
	}

	trades, err := mem.TradesByPosition(ctx, "7")
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades: got %d, want 2", len(trades))
	}
	if trades[1].TradeType != store.TradeClose {
		t.Errorf("second trade type: got %s, want %s", trades[1].TradeType, store.TradeClose)
	}
}

func TestPartialClosePreservesOpenness(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	if err := d.Dispatch(ctx, openedEvent(7), prov(100, 0)); err != nil {
		t.Fatalf("open: %v", err)
	}
	partial := codec.PositionClosed{
		PositionID:   big.NewInt(7),
		CloseSizeUsd: big.NewInt(2000),
		ExitPrice:    big.NewInt(43000),
		RealizedPnl:  big.NewInt(47),
		IsFullClose:  false,
	}
	if err := d.Dispatch(ctx, partial, prov(100, 1)); err != nil {
		t.Fatalf("partial close: %v", err)
	}

	pos, err := mem.GetPosition(ctx, "7")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Status != store.PositionOpen {
		t.Errorf("status: got %s, want %s", pos.Status, store.PositionOpen)
	}
	if pos.ExitPrice != nil {
		t.Errorf("exit price set on partial close: %v", pos.ExitPrice)
	}

	trades, _ := mem.TradesByPosition(ctx, "7")
	if len(trades) != 2 {
		t.Fatalf("trades: got %d, want 2", len(trades))
	}
	if trades[1].TradeType != store.TradePartialClose {
		t.Errorf("trade type: got %s, want %s", trades[1].TradeType, store.TradePartialClose)
	}
	if trades[1].SizeUsd.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("trade size: got %s, want 2000", trades[1].SizeUsd)
	}
}

func TestModifyRecordsNewSizeWithZeroPrice(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	if err := d.Dispatch(ctx, openedEvent(7), prov(100, 0)); err != nil {
		t.Fatalf("open: %v", err)
	}
	mod := codec.PositionModified{
		PositionID:          big.NewInt(7),
		NewSizeUsd:          big.NewInt(8000),
		NewCollateralAmount: big.NewInt(800),
		NewCollateralUsd:    big.NewInt(800),
	}
	if err := d.Dispatch(ctx, mod, prov(100, 1)); err != nil {
		t.Fatalf("modify: %v", err)
	}

	pos, _ := mem.GetPosition(ctx, "7")
	if pos.SizeUsd.Cmp(big.NewInt(8000)) != 0 {
		t.Errorf("size: got %s, want 8000", pos.SizeUsd)
	}
	trades, _ := mem.TradesByPosition(ctx, "7")
	if len(trades) != 2 {
		t.Fatalf("trades: got %d, want 2", len(trades))
	}
	last := trades[1]
	if last.TradeType != store.TradeModify {
		t.Errorf("trade type: got %s, want %s", last.TradeType, store.TradeModify)
	}
	if last.SizeUsd.Cmp(big.NewInt(8000)) != 0 {
		t.Errorf("trade size: got %s, want new size 8000", last.SizeUsd)
	}
	if last.Price.Sign() != 0 {
		t.Errorf("trade price: got %s, want 0", last.Price)
	}
}

func TestLiquidationTerminalizes(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	if err := d.Dispatch(ctx, openedEvent(7), prov(100, 0)); err != nil {
		t.Fatalf("open: %v", err)
	}
	liq := codec.Liquidation{
		PositionID: big.NewInt(7),
		User:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		MarketID:   big.NewInt(1),
		Price:      big.NewInt(38000),
		Penalty:    big.NewInt(50),
		Keeper:     common.HexToAddress("0x5555555555555555555555555555555555555555"),
	}
	if err := d.Dispatch(ctx, liq, prov(101, 0)); err != nil {
		t.Fatalf("liquidation: %v", err)
	}

	pos, _ := mem.GetPosition(ctx, "7")
	if pos.Status != store.PositionLiquidated {
		t.Errorf("status: got %s, want %s", pos.Status, store.PositionLiquidated)
	}
	if pos.ExitPrice == nil || pos.ExitPrice.Cmp(big.NewInt(38000)) != 0 {
		t.Errorf("exit price: got %v, want 38000", pos.ExitPrice)
	}

	liqs := mem.AllLiquidations()
	if len(liqs) != 1 {
		t.Fatalf("liquidations: got %d, want 1", len(liqs))
	}
	if liqs[0].Penalty.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("penalty: got %s, want 50", liqs[0].Penalty)
	}

	trades, _ := mem.TradesByPosition(ctx, "7")
	last := trades[len(trades)-1]
	if last.TradeType != store.TradeLiquidation {
		t.Errorf("trade type: got %s, want %s", last.TradeType, store.TradeLiquidation)
	}
	if last.RealizedPnl.Sign() != 0 {
		t.Errorf("liquidation trade pnl: got %s, want 0", last.RealizedPnl)
	}
}

func TestPricesUpdatedFanOut(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	ev := codec.PricesUpdated{
		MarketIDs: []*big.Int{big.NewInt(1), big.NewInt(2)},
		Prices:    []*big.Int{big.NewInt(42000), big.NewInt(2500)},
		Timestamp: big.NewInt(1_700_000_000),
	}
	if err := d.Dispatch(ctx, ev, prov(200, 0)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if ups := mem.AllPriceUpdates(); len(ups) != 2 {
		t.Fatalf("price updates: got %d, want 2", len(ups))
	}

	wantTS := time.Unix(1_700_000_000, 0).UTC()
	for market, want := range map[string]int64{"1": 42000, "2": 2500} {
		lp, err := mem.GetLatestPrice(ctx, market)
		if err != nil {
			t.Fatalf("latest price %s: %v", market, err)
		}
		if lp.Price.Cmp(big.NewInt(want)) != 0 {
			t.Errorf("latest price %s: got %s, want %d", market, lp.Price, want)
		}
		if !lp.PriceTimestamp.Equal(wantTS) {
			t.Errorf("latest price %s timestamp: got %v, want %v", market, lp.PriceTimestamp, wantTS)
		}
	}

	// Replaying the same batch must not duplicate rows.
	if err := d.Dispatch(ctx, ev, prov(200, 0)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if ups := mem.AllPriceUpdates(); len(ups) != 2 {
		t.Fatalf("price updates after replay: got %d, want 2", len(ups))
	}
}

func TestOrderLifecycle(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	placed := codec.OrderPlaced{
		OrderID:      big.NewInt(11),
		User:         common.HexToAddress("0x1111111111111111111111111111111111111111"),
		MarketID:     big.NewInt(1),
		OrderType:    2,
		IsLong:       false,
		TriggerPrice: big.NewInt(41000),
		SizeUsd:      big.NewInt(3000),
	}
	if err := d.Dispatch(ctx, placed, prov(300, 0)); err != nil {
		t.Fatalf("place: %v", err)
	}
	exec := codec.OrderExecuted{
		OrderID:        big.NewInt(11),
		PositionID:     big.NewInt(7),
		ExecutionPrice: big.NewInt(40990),
	}
	if err := d.Dispatch(ctx, exec, prov(300, 1)); err != nil {
		t.Fatalf("execute: %v", err)
	}

	order, err := mem.GetOrder(ctx, "11")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != store.OrderExecuted {
		t.Errorf("status: got %s, want %s", order.Status, store.OrderExecuted)
	}
	if order.PositionID == nil || *order.PositionID != "7" {
		t.Errorf("resolution position: got %v, want 7", order.PositionID)
	}
	if order.Side != store.SideShort {
		t.Errorf("side: got %s, want %s", order.Side, store.SideShort)
	}
}

func TestFundingRate24hDerivation(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	ev := codec.FundingRateUpdated{
		MarketID:      big.NewInt(1),
		RatePerSecond: big.NewInt(-125),
	}
	if err := d.Dispatch(ctx, ev, prov(400, 0)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	rates := mem.AllFundingRates()
	if len(rates) != 1 {
		t.Fatalf("rates: got %d, want 1", len(rates))
	}
	want := decimal.NewFromInt(-125 * 86400)
	if !rates[0].Rate24h.Equal(want) {
		t.Errorf("rate24h: got %s, want %s", rates[0].Rate24h, want)
	}
}

func TestGenericProtocolEventPayload(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	keeper := common.HexToAddress("0x5555555555555555555555555555555555555555")
	ev := codec.Generic{
		Name: codec.EvKeeperUpdated,
		Args: []interface{}{keeper, true},
	}
	if err := d.Dispatch(ctx, ev, prov(500, 0)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	events := mem.AllProtocolEvents()
	if len(events) != 1 {
		t.Fatalf("protocol events: got %d, want 1", len(events))
	}
	if events[0].Name != codec.EvKeeperUpdated {
		t.Errorf("name: got %s", events[0].Name)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["0"] != keeper.Hex() {
		t.Errorf("payload[0]: got %v, want %s", payload["0"], keeper.Hex())
	}
	if payload["1"] != true {
		t.Errorf("payload[1]: got %v, want true", payload["1"])
	}
}

func TestVaultAndPoolProjections(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")

	created := codec.VaultCreated{
		User:  user,
		Vault: common.HexToAddress("0x6666666666666666666666666666666666666666"),
	}
	if err := d.Dispatch(ctx, created, prov(600, 0)); err != nil {
		t.Fatalf("vault created: %v", err)
	}
	if mem.UserVault(user.Hex()) == nil {
		t.Fatal("user vault not created")
	}

	deposit := codec.VaultDeposit{User: user, Token: token, Amount: big.NewInt(1000)}
	if err := d.Dispatch(ctx, deposit, prov(600, 1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	funded := codec.VaultFunded{Token: token, Amount: big.NewInt(9999)}
	if err := d.Dispatch(ctx, funded, prov(600, 2)); err != nil {
		t.Fatalf("funded: %v", err)
	}

	events := mem.AllVaultEvents()
	if len(events) != 2 {
		t.Fatalf("vault events: got %d, want 2", len(events))
	}
	if events[0].User == nil || *events[0].User != user.Hex() {
		t.Errorf("deposit user: got %v", events[0].User)
	}
	if events[1].User != nil {
		t.Errorf("funded user should be nil, got %v", *events[1].User)
	}

	pool := codec.PoolReservesUpdated{
		MarketID:     big.NewInt(1),
		BaseReserve:  big.NewInt(100),
		QuoteReserve: big.NewInt(200),
		OraclePrice:  big.NewInt(42000),
	}
	if err := d.Dispatch(ctx, pool, prov(601, 0)); err != nil {
		t.Fatalf("pool: %v", err)
	}
	ps := mem.PoolState("1")
	if ps == nil {
		t.Fatal("pool state missing")
	}
	if ps.QuoteReserve.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("quote reserve: got %s, want 200", ps.QuoteReserve)
	}
}

func TestMarketAndFeeProjections(t *testing.T) {
	d, mem := newDispatcher(t)
	ctx := context.Background()

	created := codec.MarketCreated{
		MarketID:    big.NewInt(3),
		MarketName:  "Ether Perpetual",
		Symbol:      "ETH-PERP",
		MaxLeverage: big.NewInt(50),
	}
	if err := d.Dispatch(ctx, created, prov(700, 0)); err != nil {
		t.Fatalf("market created: %v", err)
	}
	if err := d.Dispatch(ctx, codec.MarketDisabled{MarketID: big.NewInt(3)}, prov(700, 1)); err != nil {
		t.Fatalf("market disabled: %v", err)
	}

	m, err := mem.GetMarket(ctx, "3")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.Enabled {
		t.Error("market still enabled after MarketDisabled")
	}

	fees := codec.FeesUpdated{
		TakerFeeBps:       big.NewInt(10),
		MakerFeeBps:       big.NewInt(5),
		LiquidationFeeBps: big.NewInt(100),
		InsuranceFeeBps:   big.NewInt(20),
	}
	if err := d.Dispatch(ctx, fees, prov(700, 2)); err != nil {
		t.Fatalf("fees: %v", err)
	}
	fc := mem.FeeConfig()
	if fc == nil {
		t.Fatal("fee config missing")
	}
	if fc.LiquidationFeeBps.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("liquidation fee: got %s, want 100", fc.LiquidationFeeBps)
	}
}
