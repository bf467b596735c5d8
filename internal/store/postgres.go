package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
)

// Postgres implements Store on database/sql with the pq driver.
// NUMERIC(78,0) columns are written as strings and scanned back as
// TEXT into *big.Int, keeping chain values exact end to end.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed store. The schema is owned by
// the migrations, not by this type.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// withTx runs fn inside a transaction, rolling back on error. One
// chain event maps to exactly one transaction.
func (s *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Postgres) UpsertMarket(ctx context.Context, m *Market) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markets (market_id, name, symbol, max_leverage, enabled, created_at)
		 VALUES ($1::NUMERIC, $2, $3, $4::NUMERIC, $5, $6)
		 ON CONFLICT (market_id) DO UPDATE SET
		   name = EXCLUDED.name,
		   symbol = EXCLUDED.symbol,
		   max_leverage = EXCLUDED.max_leverage`,
		m.MarketID, m.Name, m.Symbol, m.MaxLeverage.String(), m.Enabled, m.CreatedAt,
	)
	return err
}

func (s *Postgres) SetMarketEnabled(ctx context.Context, marketID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE markets SET enabled = $2 WHERE market_id = $1::NUMERIC`,
		marketID, enabled,
	)
	return err
}

func (s *Postgres) UpsertCollateralToken(ctx context.Context, t *CollateralToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collateral_tokens (token, decimals, is_active)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (token) DO UPDATE SET
		   decimals = EXCLUDED.decimals,
		   is_active = EXCLUDED.is_active`,
		t.Token, t.Decimals, t.IsActive,
	)
	return err
}

func (s *Postgres) SetCollateralActive(ctx context.Context, token string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE collateral_tokens SET is_active = $2 WHERE token = $1`,
		token, active,
	)
	return err
}

func (s *Postgres) OpenPosition(ctx context.Context, p *Position, t *Trade) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO positions
			   (position_id, "user", market_id, side, size_usd, leverage, entry_price,
			    collateral_token, collateral_amount, collateral_usd, status,
			    block_number, tx_hash, log_index, opened_at)
			 VALUES ($1::NUMERIC, $2, $3::NUMERIC, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
			         $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13, $14, $15)
			 ON CONFLICT (position_id) DO NOTHING`,
			p.PositionID, p.User, p.MarketID, p.Side,
			p.SizeUsd.String(), p.Leverage.String(), p.EntryPrice.String(),
			p.CollateralToken, p.CollateralAmount.String(), p.CollateralUsd.String(),
			PositionOpen,
			p.Prov.BlockNumber, p.Prov.TxHash, p.Prov.LogIndex, p.Prov.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert position %s: %w", p.PositionID, err)
		}
		return insertTrade(ctx, tx, t)
	})
}

func (s *Postgres) ModifyPosition(ctx context.Context, positionID string, sizeUsd, collateralAmount, collateralUsd *big.Int, t *Trade) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE positions
			 SET size_usd = $2::NUMERIC,
			     collateral_amount = $3::NUMERIC,
			     collateral_usd = $4::NUMERIC
			 WHERE position_id = $1::NUMERIC AND status = $5`,
			positionID, sizeUsd.String(), collateralAmount.String(), collateralUsd.String(),
			PositionOpen,
		)
		if err != nil {
			return fmt.Errorf("modify position %s: %w", positionID, err)
		}
		return insertTrade(ctx, tx, t)
	})
}

func (s *Postgres) ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnl *big.Int, prov Provenance, t *Trade) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE positions
			 SET status = $2,
			     exit_price = $3::NUMERIC,
			     realized_pnl = $4::NUMERIC,
			     closed_at = $5
			 WHERE position_id = $1::NUMERIC AND status = $6`,
			positionID, PositionClosed, exitPrice.String(), realizedPnl.String(),
			prov.Timestamp, PositionOpen,
		)
		if err != nil {
			return fmt.Errorf("close position %s: %w", positionID, err)
		}
		return insertTrade(ctx, tx, t)
	})
}

func (s *Postgres) RecordPartialClose(ctx context.Context, t *Trade) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTrade(ctx, tx, t)
	})
}

func (s *Postgres) LiquidatePosition(ctx context.Context, positionID string, price *big.Int, l *Liquidation, t *Trade) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE positions
			 SET status = $2,
			     exit_price = $3::NUMERIC,
			     realized_pnl = 0,
			     closed_at = $4
			 WHERE position_id = $1::NUMERIC AND status = $5`,
			positionID, PositionLiquidated, price.String(), l.Prov.Timestamp, PositionOpen,
		)
		if err != nil {
			return fmt.Errorf("liquidate position %s: %w", positionID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO liquidations
			   (id, position_id, "user", market_id, price, penalty, keeper,
			    block_number, tx_hash, log_index, occurred_at)
			 VALUES ($1, $2::NUMERIC, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11)
			 ON CONFLICT (tx_hash, log_index) DO NOTHING`,
			l.ID, l.PositionID, l.User, l.MarketID,
			l.Price.String(), l.Penalty.String(), l.Keeper,
			l.Prov.BlockNumber, l.Prov.TxHash, l.Prov.LogIndex, l.Prov.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert liquidation %s: %w", l.PositionID, err)
		}
		return insertTrade(ctx, tx, t)
	})
}

func insertTrade(ctx context.Context, tx *sql.Tx, t *Trade) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO trades
		   (id, position_id, "user", market_id, trade_type, size_usd, price, realized_pnl,
		    block_number, tx_hash, log_index, occurred_at)
		 VALUES ($1, $2::NUMERIC, $3, $4::NUMERIC, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)
		 ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		t.ID, t.PositionID, t.User, t.MarketID, t.TradeType,
		t.SizeUsd.String(), t.Price.String(), nullableBig(t.RealizedPnl),
		t.Prov.BlockNumber, t.Prov.TxHash, t.Prov.LogIndex, t.Prov.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.TradeType, err)
	}
	return nil
}

func (s *Postgres) CreateOrder(ctx context.Context, o *Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders
		   (order_id, "user", market_id, order_type, side, trigger_price, size_usd, status,
		    block_number, tx_hash, log_index, placed_at)
		 VALUES ($1::NUMERIC, $2, $3::NUMERIC, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11, $12)
		 ON CONFLICT (order_id) DO NOTHING`,
		o.OrderID, o.User, o.MarketID, o.OrderType, o.Side,
		o.TriggerPrice.String(), o.SizeUsd.String(), OrderActive,
		o.Prov.BlockNumber, o.Prov.TxHash, o.Prov.LogIndex, o.Prov.Timestamp,
	)
	return err
}

func (s *Postgres) ExecuteOrder(ctx context.Context, orderID, positionID string, executionPrice *big.Int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders
		 SET status = $2, position_id = $3::NUMERIC, execution_price = $4::NUMERIC
		 WHERE order_id = $1::NUMERIC AND status = $5`,
		orderID, OrderExecuted, positionID, executionPrice.String(), OrderActive,
	)
	return err
}

func (s *Postgres) CancelOrder(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $2 WHERE order_id = $1::NUMERIC AND status = $3`,
		orderID, OrderCancelled, OrderActive,
	)
	return err
}

func (s *Postgres) RecordPriceUpdates(ctx context.Context, updates []*PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO price_updates
				   (id, market_id, price, price_timestamp, block_number, tx_hash, log_index)
				 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6, $7)
				 ON CONFLICT (tx_hash, log_index, market_id) DO NOTHING`,
				u.ID, u.MarketID, u.Price.String(), u.PriceTimestamp,
				u.Prov.BlockNumber, u.Prov.TxHash, u.Prov.LogIndex,
			)
			if err != nil {
				return fmt.Errorf("insert price update market %s: %w", u.MarketID, err)
			}

			_, err = tx.ExecContext(ctx,
				`INSERT INTO latest_prices (market_id, price, price_timestamp, block_number)
				 VALUES ($1::NUMERIC, $2::NUMERIC, $3, $4)
				 ON CONFLICT (market_id) DO UPDATE SET
				   price = EXCLUDED.price,
				   price_timestamp = EXCLUDED.price_timestamp,
				   block_number = EXCLUDED.block_number
				 WHERE latest_prices.price_timestamp <= EXCLUDED.price_timestamp`,
				u.MarketID, u.Price.String(), u.PriceTimestamp, u.Prov.BlockNumber,
			)
			if err != nil {
				return fmt.Errorf("refresh latest price market %s: %w", u.MarketID, err)
			}
		}
		return nil
	})
}

func (s *Postgres) RecordFundingRate(ctx context.Context, f *FundingRate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO funding_rates
		   (id, market_id, rate_per_second, rate_24h, block_number, tx_hash, log_index, occurred_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8)
		 ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		f.ID, f.MarketID, f.RatePerSecond.String(), f.Rate24h.String(),
		f.Prov.BlockNumber, f.Prov.TxHash, f.Prov.LogIndex, f.Prov.Timestamp,
	)
	return err
}

func (s *Postgres) CreateUserVault(ctx context.Context, v *UserVault) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_vaults ("user", vault, block_number, tx_hash, log_index, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT ("user") DO NOTHING`,
		v.User, v.Vault, v.Prov.BlockNumber, v.Prov.TxHash, v.Prov.LogIndex, v.Prov.Timestamp,
	)
	return err
}

func (s *Postgres) RecordVaultEvent(ctx context.Context, e *VaultEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_events
		   (id, event_type, "user", token, amount, block_number, tx_hash, log_index, occurred_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9)
		 ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		e.ID, e.EventType, e.User, e.Token, e.Amount.String(),
		e.Prov.BlockNumber, e.Prov.TxHash, e.Prov.LogIndex, e.Prov.Timestamp,
	)
	return err
}

func (s *Postgres) RecordProtocolEvent(ctx context.Context, e *ProtocolEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO protocol_events
		   (id, event_name, payload, block_number, tx_hash, log_index, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		e.ID, e.Name, e.Payload,
		e.Prov.BlockNumber, e.Prov.TxHash, e.Prov.LogIndex, e.Prov.Timestamp,
	)
	return err
}

func (s *Postgres) UpsertPoolState(ctx context.Context, p *PoolState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pool_states (market_id, base_reserve, quote_reserve, oracle_price, block_number, updated_at)
		 VALUES ($1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6)
		 ON CONFLICT (market_id) DO UPDATE SET
		   base_reserve = EXCLUDED.base_reserve,
		   quote_reserve = EXCLUDED.quote_reserve,
		   oracle_price = EXCLUDED.oracle_price,
		   block_number = EXCLUDED.block_number,
		   updated_at = EXCLUDED.updated_at`,
		p.MarketID, p.BaseReserve.String(), p.QuoteReserve.String(), p.OraclePrice.String(),
		p.BlockNumber, p.UpdatedAt,
	)
	return err
}

func (s *Postgres) UpsertFeeConfig(ctx context.Context, f *FeeConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fee_config (singleton, taker_fee_bps, maker_fee_bps, liquidation_fee_bps, insurance_fee_bps, updated_at)
		 VALUES (TRUE, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (singleton) DO UPDATE SET
		   taker_fee_bps = EXCLUDED.taker_fee_bps,
		   maker_fee_bps = EXCLUDED.maker_fee_bps,
		   liquidation_fee_bps = EXCLUDED.liquidation_fee_bps,
		   insurance_fee_bps = EXCLUDED.insurance_fee_bps,
		   updated_at = EXCLUDED.updated_at`,
		f.TakerFeeBps.String(), f.MakerFeeBps.String(),
		f.LiquidationFeeBps.String(), f.InsuranceFeeBps.String(), f.UpdatedAt,
	)
	return err
}

const checkpointKey = "last_indexed_block"

func (s *Postgres) Checkpoint(ctx context.Context) (uint64, error) {
	var block uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT block FROM checkpoint WHERE key = $1`, checkpointKey,
	).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	return block, nil
}

func (s *Postgres) AdvanceCheckpoint(ctx context.Context, block uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoint (key, block) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET block = GREATEST(checkpoint.block, EXCLUDED.block)`,
		checkpointKey, block,
	)
	return err
}

func (s *Postgres) GetMarket(ctx context.Context, marketID string) (*Market, error) {
	var m Market
	var maxLeverage string
	err := s.db.QueryRowContext(ctx,
		`SELECT market_id::TEXT, name, symbol, max_leverage::TEXT, enabled, created_at
		 FROM markets WHERE market_id = $1::NUMERIC`, marketID,
	).Scan(&m.MarketID, &m.Name, &m.Symbol, &maxLeverage, &m.Enabled, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", marketID, err)
	}
	m.MaxLeverage = mustBig(maxLeverage)
	return &m, nil
}

func (s *Postgres) GetPosition(ctx context.Context, positionID string) (*Position, error) {
	var p Position
	var sizeUsd, leverage, entryPrice, collAmount, collUsd string
	var realizedPnl, exitPrice sql.NullString
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT position_id::TEXT, "user", market_id::TEXT, side,
		        size_usd::TEXT, leverage::TEXT, entry_price::TEXT,
		        collateral_token, collateral_amount::TEXT, collateral_usd::TEXT,
		        status, realized_pnl::TEXT, exit_price::TEXT,
		        block_number, tx_hash, log_index, opened_at, closed_at
		 FROM positions WHERE position_id = $1::NUMERIC`, positionID,
	).Scan(&p.PositionID, &p.User, &p.MarketID, &p.Side,
		&sizeUsd, &leverage, &entryPrice,
		&p.CollateralToken, &collAmount, &collUsd,
		&p.Status, &realizedPnl, &exitPrice,
		&p.Prov.BlockNumber, &p.Prov.TxHash, &p.Prov.LogIndex, &p.Prov.Timestamp, &closedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", positionID, err)
	}

	p.SizeUsd = mustBig(sizeUsd)
	p.Leverage = mustBig(leverage)
	p.EntryPrice = mustBig(entryPrice)
	p.CollateralAmount = mustBig(collAmount)
	p.CollateralUsd = mustBig(collUsd)
	if realizedPnl.Valid {
		p.RealizedPnl = mustBig(realizedPnl.String)
	}
	if exitPrice.Valid {
		p.ExitPrice = mustBig(exitPrice.String)
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return &p, nil
}

func (s *Postgres) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	var triggerPrice, sizeUsd string
	var positionID, executionPrice sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT order_id::TEXT, "user", market_id::TEXT, order_type, side,
		        trigger_price::TEXT, size_usd::TEXT, status,
		        position_id::TEXT, execution_price::TEXT,
		        block_number, tx_hash, log_index, placed_at
		 FROM orders WHERE order_id = $1::NUMERIC`, orderID,
	).Scan(&o.OrderID, &o.User, &o.MarketID, &o.OrderType, &o.Side,
		&triggerPrice, &sizeUsd, &o.Status,
		&positionID, &executionPrice,
		&o.Prov.BlockNumber, &o.Prov.TxHash, &o.Prov.LogIndex, &o.Prov.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}

	o.TriggerPrice = mustBig(triggerPrice)
	o.SizeUsd = mustBig(sizeUsd)
	if positionID.Valid {
		v := positionID.String
		o.PositionID = &v
	}
	if executionPrice.Valid {
		o.ExecutionPrice = mustBig(executionPrice.String)
	}
	return &o, nil
}

func (s *Postgres) GetLatestPrice(ctx context.Context, marketID string) (*LatestPrice, error) {
	var lp LatestPrice
	var price string
	err := s.db.QueryRowContext(ctx,
		`SELECT market_id::TEXT, price::TEXT, price_timestamp, block_number
		 FROM latest_prices WHERE market_id = $1::NUMERIC`, marketID,
	).Scan(&lp.MarketID, &price, &lp.PriceTimestamp, &lp.BlockNumber)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest price %s: %w", marketID, err)
	}
	lp.Price = mustBig(price)
	return &lp, nil
}

func (s *Postgres) TradesByPosition(ctx context.Context, positionID string) ([]*Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position_id::TEXT, "user", market_id::TEXT, trade_type,
		        size_usd::TEXT, price::TEXT, realized_pnl::TEXT,
		        block_number, tx_hash, log_index, occurred_at
		 FROM trades WHERE position_id = $1::NUMERIC
		 ORDER BY block_number, log_index`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		var t Trade
		var sizeUsd, price string
		var realizedPnl sql.NullString
		if err := rows.Scan(&t.ID, &t.PositionID, &t.User, &t.MarketID, &t.TradeType,
			&sizeUsd, &price, &realizedPnl,
			&t.Prov.BlockNumber, &t.Prov.TxHash, &t.Prov.LogIndex, &t.Prov.Timestamp); err != nil {
			return nil, err
		}
		t.SizeUsd = mustBig(sizeUsd)
		t.Price = mustBig(price)
		if realizedPnl.Valid {
			t.RealizedPnl = mustBig(realizedPnl.String)
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func nullableBig(b *big.Int) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: b.String(), Valid: true}
}

func mustBig(s string) *big.Int {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return b
}
