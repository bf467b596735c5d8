package store_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"PerpIndexer/internal/store"
	"PerpIndexer/internal/testutil"
)

func TestPostgresIdempotentFactInserts(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	s := store.NewPostgres(db)
	ctx := context.Background()

	openPosition(t, s, "7", memProv(100, 0))
	openPosition(t, s, "7", memProv(100, 0)) // replay

	pos, err := s.GetPosition(ctx, "7")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Status != store.PositionOpen {
		t.Errorf("status: got %s, want %s", pos.Status, store.PositionOpen)
	}
	if pos.SizeUsd.Cmp(big.NewInt(5000)) != 0 {
		t.Errorf("size round-trip: got %s, want 5000", pos.SizeUsd)
	}

	trades, err := s.TradesByPosition(ctx, "7")
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("trades after replay: got %d, want 1", len(trades))
	}
}

func TestPostgresBigIntRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	s := store.NewPostgres(db)
	ctx := context.Background()

	// A value wider than 64 bits must survive the NUMERIC round-trip.
	huge, _ := new(big.Int).SetString("123456789012345678901234567890123456789", 10)
	up := &store.PriceUpdate{
		ID: "00000000-0000-0000-0000-000000000001", MarketID: "1",
		Price: huge, PriceTimestamp: time.Unix(1_700_000_000, 0).UTC(),
		Prov: memProv(100, 0),
	}
	if err := s.RecordPriceUpdates(ctx, []*store.PriceUpdate{up}); err != nil {
		t.Fatalf("record: %v", err)
	}

	lp, err := s.GetLatestPrice(ctx, "1")
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if lp.Price.Cmp(huge) != 0 {
		t.Errorf("round-trip: got %s, want %s", lp.Price, huge)
	}
}

func TestPostgresCheckpointMonotonic(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	s := store.NewPostgres(db)
	ctx := context.Background()

	if err := s.AdvanceCheckpoint(ctx, 500); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.AdvanceCheckpoint(ctx, 300); err != nil {
		t.Fatalf("advance backwards: %v", err)
	}
	cp, err := s.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp != 500 {
		t.Errorf("checkpoint: got %d, want 500", cp)
	}
}

func TestPostgresTerminalTransitionGuard(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	s := store.NewPostgres(db)
	ctx := context.Background()

	openPosition(t, s, "7", memProv(100, 0))

	closeTrade := &store.Trade{
		ID: "00000000-0000-0000-0000-000000000002", PositionID: "7",
		User: "0x1111111111111111111111111111111111111111", MarketID: "1",
		TradeType: store.TradeClose, SizeUsd: big.NewInt(5000),
		Price: big.NewInt(43000), RealizedPnl: big.NewInt(119), Prov: memProv(101, 0),
	}
	if err := s.ClosePosition(ctx, "7", big.NewInt(43000), big.NewInt(119), memProv(101, 0), closeTrade); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Replay of the close must not duplicate the trade nor disturb the
	// terminal state.
	if err := s.ClosePosition(ctx, "7", big.NewInt(43000), big.NewInt(119), memProv(101, 0), closeTrade); err != nil {
		t.Fatalf("close replay: %v", err)
	}

	pos, err := s.GetPosition(ctx, "7")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Status != store.PositionClosed {
		t.Errorf("status: got %s, want %s", pos.Status, store.PositionClosed)
	}
	trades, _ := s.TradesByPosition(ctx, "7")
	if len(trades) != 2 {
		t.Errorf("trades: got %d, want 2", len(trades))
	}
}
