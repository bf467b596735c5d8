package codec

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnknownEvent marks a log whose topic0 is not in the schema. The
// source address legally emits events outside the known set, so this is
// expected steady-state noise, not an incident.
var ErrUnknownEvent = errors.New("codec: unknown event")

type builder func(args []interface{}) (Event, error)

type entry struct {
	event abi.Event
	build builder
}

// Decoder matches raw logs against the fixed event schema and decodes
// them into typed variants.
type Decoder struct {
	byTopic map[common.Hash]entry
}

// NewDecoder parses the event schema. The schema is a compile-time
// constant, so failure here is a programming error.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(eventsABI))
	if err != nil {
		return nil, fmt.Errorf("parse event schema: %w", err)
	}

	d := &Decoder{byTopic: make(map[common.Hash]entry, len(parsed.Events))}
	for name, ev := range parsed.Events {
		b, ok := builders[name]
		if !ok {
			b = genericBuilder(name)
		}
		d.byTopic[ev.ID] = entry{event: ev, build: b}
	}
	return d, nil
}

// Decode attempts to decode a raw log. ErrUnknownEvent means the log is
// outside the schema; any other error means a known topic with a
// malformed payload. Both are skippable by the caller.
func (d *Decoder) Decode(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, ErrUnknownEvent
	}

	e, ok := d.byTopic[log.Topics[0]]
	if !ok {
		return nil, ErrUnknownEvent
	}

	args, err := d.decodeArgs(e.event, log)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.event.Name, err)
	}

	decoded, err := e.build(args)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.event.Name, err)
	}
	return decoded, nil
}

// decodeArgs restores the declaration-order argument list: indexed
// values from topics, the rest from the data payload.
func (d *Decoder) decodeArgs(ev abi.Event, log types.Log) ([]interface{}, error) {
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}

	if len(log.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("want %d indexed topics, have %d", len(indexed), len(log.Topics)-1)
	}

	topicVals := make(map[string]interface{}, len(indexed))
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(topicVals, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
	}

	dataVals, err := ev.Inputs.NonIndexed().UnpackValues(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}

	args := make([]interface{}, len(ev.Inputs))
	j := 0
	for i, in := range ev.Inputs {
		if in.Indexed {
			args[i] = topicVals[in.Name]
		} else {
			if j >= len(dataVals) {
				return nil, fmt.Errorf("argument %q missing from data", in.Name)
			}
			args[i] = dataVals[j]
			j++
		}
	}
	return args, nil
}

func genericBuilder(name string) builder {
	return func(args []interface{}) (Event, error) {
		return Generic{Name: name, Args: args}, nil
	}
}

// builders constructs the typed variant for every event with a
// dedicated projection. Audit-only events fall through to Generic.
var builders = map[string]builder{
	EvPositionOpened: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 10); err != nil {
			return nil, err
		}
		return PositionOpened{
			PositionID:       asBig(a[0]),
			User:             asAddr(a[1]),
			MarketID:         asBig(a[2]),
			IsLong:           asBool(a[3]),
			SizeUsd:          asBig(a[4]),
			Leverage:         asBig(a[5]),
			EntryPrice:       asBig(a[6]),
			CollateralToken:  asAddr(a[7]),
			CollateralAmount: asBig(a[8]),
			CollateralUsd:    asBig(a[9]),
		}, checkArgs(a)
	},
	EvPositionModified: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 4); err != nil {
			return nil, err
		}
		return PositionModified{
			PositionID:          asBig(a[0]),
			NewSizeUsd:          asBig(a[1]),
			NewCollateralAmount: asBig(a[2]),
			NewCollateralUsd:    asBig(a[3]),
		}, checkArgs(a)
	},
	EvPositionClosed: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 5); err != nil {
			return nil, err
		}
		return PositionClosed{
			PositionID:   asBig(a[0]),
			CloseSizeUsd: asBig(a[1]),
			ExitPrice:    asBig(a[2]),
			RealizedPnl:  asBig(a[3]),
			IsFullClose:  asBool(a[4]),
		}, checkArgs(a)
	},
	EvLiquidation: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 6); err != nil {
			return nil, err
		}
		return Liquidation{
			PositionID: asBig(a[0]),
			User:       asAddr(a[1]),
			MarketID:   asBig(a[2]),
			Price:      asBig(a[3]),
			Penalty:    asBig(a[4]),
			Keeper:     asAddr(a[5]),
		}, checkArgs(a)
	},
	EvOrderPlaced: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 7); err != nil {
			return nil, err
		}
		return OrderPlaced{
			OrderID:      asBig(a[0]),
			User:         asAddr(a[1]),
			MarketID:     asBig(a[2]),
			OrderType:    asU8(a[3]),
			IsLong:       asBool(a[4]),
			TriggerPrice: asBig(a[5]),
			SizeUsd:      asBig(a[6]),
		}, checkArgs(a)
	},
	EvOrderExecuted: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 3); err != nil {
			return nil, err
		}
		return OrderExecuted{
			OrderID:        asBig(a[0]),
			PositionID:     asBig(a[1]),
			ExecutionPrice: asBig(a[2]),
		}, checkArgs(a)
	},
	EvOrderCancelled: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 1); err != nil {
			return nil, err
		}
		return OrderCancelled{OrderID: asBig(a[0])}, checkArgs(a)
	},
	EvPricesUpdated: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 3); err != nil {
			return nil, err
		}
		ids, ok1 := a[0].([]*big.Int)
		prices, ok2 := a[1].([]*big.Int)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("want uint256 arrays, have %T/%T", a[0], a[1])
		}
		if len(ids) != len(prices) {
			return nil, fmt.Errorf("marketIds/prices length mismatch: %d vs %d", len(ids), len(prices))
		}
		return PricesUpdated{
			MarketIDs: ids,
			Prices:    prices,
			Timestamp: asBig(a[2]),
		}, checkArgs(a[2:])
	},
	EvFundingRateUpdated: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 2); err != nil {
			return nil, err
		}
		return FundingRateUpdated{
			MarketID:      asBig(a[0]),
			RatePerSecond: asBig(a[1]),
		}, checkArgs(a)
	},
	EvMarketCreated: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 4); err != nil {
			return nil, err
		}
		return MarketCreated{
			MarketID:    asBig(a[0]),
			MarketName:  asString(a[1]),
			Symbol:      asString(a[2]),
			MaxLeverage: asBig(a[3]),
		}, checkArgs([]interface{}{a[0], a[3]})
	},
	EvMarketEnabled: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 1); err != nil {
			return nil, err
		}
		return MarketEnabled{MarketID: asBig(a[0])}, checkArgs(a)
	},
	EvMarketDisabled: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 1); err != nil {
			return nil, err
		}
		return MarketDisabled{MarketID: asBig(a[0])}, checkArgs(a)
	},
	EvCollateralAdded: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 2); err != nil {
			return nil, err
		}
		return CollateralAdded{Token: asAddr(a[0]), Decimals: asU8(a[1])}, nil
	},
	EvCollateralRemoved: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 1); err != nil {
			return nil, err
		}
		return CollateralRemoved{Token: asAddr(a[0])}, nil
	},
	EvFeesUpdated: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 4); err != nil {
			return nil, err
		}
		return FeesUpdated{
			TakerFeeBps:       asBig(a[0]),
			MakerFeeBps:       asBig(a[1]),
			LiquidationFeeBps: asBig(a[2]),
			InsuranceFeeBps:   asBig(a[3]),
		}, checkArgs(a)
	},
	EvVaultCreated: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 2); err != nil {
			return nil, err
		}
		return VaultCreated{User: asAddr(a[0]), Vault: asAddr(a[1])}, nil
	},
	EvVaultDeposit: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 3); err != nil {
			return nil, err
		}
		return VaultDeposit{User: asAddr(a[0]), Token: asAddr(a[1]), Amount: asBig(a[2])}, checkArgs(a[2:])
	},
	EvVaultWithdrawal: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 3); err != nil {
			return nil, err
		}
		return VaultWithdrawal{User: asAddr(a[0]), Token: asAddr(a[1]), Amount: asBig(a[2])}, checkArgs(a[2:])
	},
	EvVaultFunded: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 2); err != nil {
			return nil, err
		}
		return VaultFunded{Token: asAddr(a[0]), Amount: asBig(a[1])}, checkArgs(a[1:])
	},
	EvVaultDefunded: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 2); err != nil {
			return nil, err
		}
		return VaultDefunded{Token: asAddr(a[0]), Amount: asBig(a[1])}, checkArgs(a[1:])
	},
	EvPoolInitialized: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 4); err != nil {
			return nil, err
		}
		return PoolInitialized{
			MarketID:     asBig(a[0]),
			BaseReserve:  asBig(a[1]),
			QuoteReserve: asBig(a[2]),
			OraclePrice:  asBig(a[3]),
		}, checkArgs(a)
	},
	EvPoolSynced: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 3); err != nil {
			return nil, err
		}
		return PoolSynced{
			MarketID:     asBig(a[0]),
			BaseReserve:  asBig(a[1]),
			QuoteReserve: asBig(a[2]),
		}, checkArgs(a)
	},
	EvPoolReservesUpdated: func(a []interface{}) (Event, error) {
		if err := wantArgs(a, 4); err != nil {
			return nil, err
		}
		return PoolReservesUpdated{
			MarketID:     asBig(a[0]),
			BaseReserve:  asBig(a[1]),
			QuoteReserve: asBig(a[2]),
			OraclePrice:  asBig(a[3]),
		}, checkArgs(a)
	},
}

func wantArgs(a []interface{}, n int) error {
	if len(a) != n {
		return fmt.Errorf("want %d arguments, have %d", n, len(a))
	}
	return nil
}

// checkArgs verifies that every expected big integer actually decoded
// as one; a nil slot means the topic/data shape did not match.
func checkArgs(a []interface{}) error {
	for i, v := range a {
		if v == nil {
			return fmt.Errorf("argument %d has unexpected shape", i)
		}
	}
	return nil
}

func asBig(v interface{}) *big.Int {
	b, _ := v.(*big.Int)
	return b
}

func asAddr(v interface{}) common.Address {
	a, _ := v.(common.Address)
	return a
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asU8(v interface{}) uint8 {
	u, _ := v.(uint8)
	return u
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
