package store

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// Memory implements Store with in-process maps. It mirrors the
// Postgres semantics exactly (conflict-ignored fact inserts, status
// guards on terminal transitions, forward-only checkpoint) so the
// dispatcher can be tested without a database.
type Memory struct {
	mu sync.Mutex

	markets     map[string]*Market
	collateral  map[string]*CollateralToken
	positions   map[string]*Position
	trades      []*Trade
	tradeKeys   map[string]bool
	orders      map[string]*Order
	liqs        []*Liquidation
	liqKeys     map[string]bool
	prices      []*PriceUpdate
	priceKeys   map[string]bool
	latest      map[string]*LatestPrice
	funding     []*FundingRate
	fundingKeys map[string]bool
	vaults      map[string]*UserVault
	vaultEvents []*VaultEvent
	vaultKeys   map[string]bool
	protocol    []*ProtocolEvent
	protoKeys   map[string]bool
	pools       map[string]*PoolState
	fees        *FeeConfig
	checkpoint  uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		markets:     make(map[string]*Market),
		collateral:  make(map[string]*CollateralToken),
		positions:   make(map[string]*Position),
		tradeKeys:   make(map[string]bool),
		orders:      make(map[string]*Order),
		liqKeys:     make(map[string]bool),
		priceKeys:   make(map[string]bool),
		latest:      make(map[string]*LatestPrice),
		fundingKeys: make(map[string]bool),
		vaults:      make(map[string]*UserVault),
		vaultKeys:   make(map[string]bool),
		protoKeys:   make(map[string]bool),
		pools:       make(map[string]*PoolState),
	}
}

func factKey(p Provenance) string {
	return fmt.Sprintf("%s:%d", p.TxHash, p.LogIndex)
}

func (s *Memory) UpsertMarket(ctx context.Context, m *Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.markets[m.MarketID]; ok {
		existing.Name = m.Name
		existing.Symbol = m.Symbol
		existing.MaxLeverage = m.MaxLeverage
		return nil
	}
	cp := *m
	s.markets[m.MarketID] = &cp
	return nil
}

func (s *Memory) SetMarketEnabled(ctx context.Context, marketID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.markets[marketID]; ok {
		m.Enabled = enabled
	}
	return nil
}

func (s *Memory) UpsertCollateralToken(ctx context.Context, t *CollateralToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.collateral[t.Token] = &cp
	return nil
}

func (s *Memory) SetCollateralActive(ctx context.Context, token string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.collateral[token]; ok {
		t.IsActive = active
	}
	return nil
}

func (s *Memory) OpenPosition(ctx context.Context, p *Position, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.PositionID]; !ok {
		cp := *p
		cp.Status = PositionOpen
		s.positions[p.PositionID] = &cp
	}
	s.insertTradeLocked(t)
	return nil
}

func (s *Memory) ModifyPosition(ctx context.Context, positionID string, sizeUsd, collateralAmount, collateralUsd *big.Int, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[positionID]; ok && p.Status == PositionOpen {
		p.SizeUsd = sizeUsd
		p.CollateralAmount = collateralAmount
		p.CollateralUsd = collateralUsd
	}
	s.insertTradeLocked(t)
	return nil
}

func (s *Memory) ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnl *big.Int, prov Provenance, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[positionID]; ok && p.Status == PositionOpen {
		p.Status = PositionClosed
		p.ExitPrice = exitPrice
		p.RealizedPnl = realizedPnl
		ts := prov.Timestamp
		p.ClosedAt = &ts
	}
	s.insertTradeLocked(t)
	return nil
}

func (s *Memory) RecordPartialClose(ctx context.Context, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertTradeLocked(t)
	return nil
}

func (s *Memory) LiquidatePosition(ctx context.Context, positionID string, price *big.Int, l *Liquidation, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[positionID]; ok && p.Status == PositionOpen {
		p.Status = PositionLiquidated
		p.ExitPrice = price
		p.RealizedPnl = new(big.Int)
		ts := l.Prov.Timestamp
		p.ClosedAt = &ts
	}
	if key := factKey(l.Prov); !s.liqKeys[key] {
		s.liqKeys[key] = true
		cp := *l
		s.liqs = append(s.liqs, &cp)
	}
	s.insertTradeLocked(t)
	return nil
}

func (s *Memory) insertTradeLocked(t *Trade) {
	key := factKey(t.Prov)
	if s.tradeKeys[key] {
		return
	}
	s.tradeKeys[key] = true
	cp := *t
	s.trades = append(s.trades, &cp)
}

func (s *Memory) CreateOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.OrderID]; !ok {
		cp := *o
		cp.Status = OrderActive
		s.orders[o.OrderID] = &cp
	}
	return nil
}

func (s *Memory) ExecuteOrder(ctx context.Context, orderID, positionID string, executionPrice *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok && o.Status == OrderActive {
		o.Status = OrderExecuted
		pid := positionID
		o.PositionID = &pid
		o.ExecutionPrice = executionPrice
	}
	return nil
}

func (s *Memory) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok && o.Status == OrderActive {
		o.Status = OrderCancelled
	}
	return nil
}

func (s *Memory) RecordPriceUpdates(ctx context.Context, updates []*PriceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		key := fmt.Sprintf("%s:%s", factKey(u.Prov), u.MarketID)
		if s.priceKeys[key] {
			continue
		}
		s.priceKeys[key] = true
		cp := *u
		s.prices = append(s.prices, &cp)

		if lp, ok := s.latest[u.MarketID]; !ok || !lp.PriceTimestamp.After(u.PriceTimestamp) {
			s.latest[u.MarketID] = &LatestPrice{
				MarketID:       u.MarketID,
				Price:          u.Price,
				PriceTimestamp: u.PriceTimestamp,
				BlockNumber:    u.Prov.BlockNumber,
			}
		}
	}
	return nil
}

func (s *Memory) RecordFundingRate(ctx context.Context, f *FundingRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := factKey(f.Prov); !s.fundingKeys[key] {
		s.fundingKeys[key] = true
		cp := *f
		s.funding = append(s.funding, &cp)
	}
	return nil
}

func (s *Memory) CreateUserVault(ctx context.Context, v *UserVault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[v.User]; !ok {
		cp := *v
		s.vaults[v.User] = &cp
	}
	return nil
}

func (s *Memory) RecordVaultEvent(ctx context.Context, e *VaultEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := factKey(e.Prov); !s.vaultKeys[key] {
		s.vaultKeys[key] = true
		cp := *e
		s.vaultEvents = append(s.vaultEvents, &cp)
	}
	return nil
}

func (s *Memory) RecordProtocolEvent(ctx context.Context, e *ProtocolEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := factKey(e.Prov); !s.protoKeys[key] {
		s.protoKeys[key] = true
		cp := *e
		s.protocol = append(s.protocol, &cp)
	}
	return nil
}

func (s *Memory) UpsertPoolState(ctx context.Context, p *PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pools[p.MarketID] = &cp
	return nil
}

func (s *Memory) UpsertFeeConfig(ctx context.Context, f *FeeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.fees = &cp
	return nil
}

func (s *Memory) Checkpoint(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint, nil
}

func (s *Memory) AdvanceCheckpoint(ctx context.Context, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if block > s.checkpoint {
		s.checkpoint = block
	}
	return nil
}

func (s *Memory) GetMarket(ctx context.Context, marketID string) (*Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[marketID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Memory) GetPosition(ctx context.Context, positionID string) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[positionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Memory) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Memory) GetLatestPrice(ctx context.Context, marketID string) (*LatestPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lp, ok := s.latest[marketID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *lp
	return &cp, nil
}

func (s *Memory) TradesByPosition(ctx context.Context, positionID string) ([]*Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Trade
	for _, t := range s.trades {
		if t.PositionID == positionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Test inspection helpers.

func (s *Memory) AllTrades() []*Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Trade(nil), s.trades...)
}

func (s *Memory) AllPriceUpdates() []*PriceUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*PriceUpdate(nil), s.prices...)
}

func (s *Memory) AllProtocolEvents() []*ProtocolEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ProtocolEvent(nil), s.protocol...)
}

func (s *Memory) AllLiquidations() []*Liquidation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Liquidation(nil), s.liqs...)
}

func (s *Memory) AllVaultEvents() []*VaultEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*VaultEvent(nil), s.vaultEvents...)
}

func (s *Memory) AllFundingRates() []*FundingRate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FundingRate(nil), s.funding...)
}

func (s *Memory) PoolState(marketID string) *PoolState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[marketID]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (s *Memory) FeeConfig() *FeeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fees == nil {
		return nil
	}
	cp := *s.fees
	return &cp
}

func (s *Memory) CollateralToken(token string) *CollateralToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.collateral[token]; ok {
		cp := *t
		return &cp
	}
	return nil
}

func (s *Memory) UserVault(user string) *UserVault {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vaults[user]; ok {
		cp := *v
		return &cp
	}
	return nil
}
