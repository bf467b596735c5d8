package submitter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"PerpIndexer/internal/chain"
	"PerpIndexer/internal/observability"
	"PerpIndexer/internal/pricefeed"
)

const setPricesABI = `[{"type":"function","name":"setPrices","inputs":[{"name":"marketIds","type":"uint256[]"},{"name":"prices","type":"uint256[]"}],"outputs":[]}]`

// ErrEmptyBatch is the no-op failure for a submission with no prices.
var ErrEmptyBatch = errors.New("submitter: empty price batch")

// Stats is a point-in-time snapshot of submission counters. Reading it
// never triggers I/O.
type Stats struct {
	TotalSubmissions    int
	TotalFailures       int
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastTxHash          string
}

// Executor signs and sends batched price transactions with bounded
// retries and linear backoff, and keeps the last successfully
// submitted price set as the deviation baseline.
type Executor struct {
	client   chain.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	abi      abi.ABI

	maxRetries int
	baseDelay  time.Duration
	alertAfter int

	mu            sync.Mutex
	stats         Stats
	lastSubmitted map[string]*big.Int

	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewExecutor(ctx context.Context, client chain.Client, privateKeyHex string, contract common.Address, maxRetries int, baseDelay time.Duration, alertAfter int, m *observability.Metrics, log zerolog.Logger) (*Executor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse submitter key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(setPricesABI))
	if err != nil {
		return nil, fmt.Errorf("parse setPrices abi: %w", err)
	}
	return &Executor{
		client:        client,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		contract:      contract,
		chainID:       chainID,
		abi:           parsed,
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		alertAfter:    alertAfter,
		lastSubmitted: make(map[string]*big.Int),
		metrics:       m,
		log:           log,
	}, nil
}

// Submit sends one transaction carrying the whole batch. It retries up
// to maxRetries attempts with delay baseDelay*attempt between them. On
// success the consecutive-failure counter resets and the batch becomes
// the new deviation baseline; on exhaustion both failure counters
// advance and the baseline is untouched.
func (e *Executor) Submit(ctx context.Context, prices []pricefeed.Price) (common.Hash, error) {
	if len(prices) == 0 {
		return common.Hash{}, ErrEmptyBatch
	}

	marketIDs := make([]*big.Int, len(prices))
	values := make([]*big.Int, len(prices))
	for i, p := range prices {
		id, ok := new(big.Int).SetString(p.MarketID, 10)
		if !ok {
			return common.Hash{}, fmt.Errorf("submitter: market id %q is not numeric", p.MarketID)
		}
		marketIDs[i] = id
		values[i] = p.Price
	}
	calldata, err := e.abi.Pack("setPrices", marketIDs, values)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack setPrices: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if attempt > 1 {
			e.metrics.SubmissionRetries.Inc()
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				return e.exhausted(lastErr)
			case <-time.After(e.baseDelay * time.Duration(attempt-1)):
			}
		}

		hash, err := e.sendOnce(ctx, calldata)
		if err != nil {
			lastErr = err
			e.log.Warn().Err(err).Int("attempt", attempt).Int("max", e.maxRetries).Msg("price submission attempt failed")
			continue
		}

		e.metrics.SubmissionDur.Observe(time.Since(start).Seconds())
		e.recordSuccess(hash, prices)
		e.log.Info().Str("tx", hash.Hex()).Int("markets", len(prices)).Int("attempt", attempt).Msg("price batch submitted")
		return hash, nil
	}
	return e.exhausted(lastErr)
}

func (e *Executor) sendOnce(ctx context.Context, calldata []byte) (common.Hash, error) {
	nonce, err := e.client.PendingNonce(ctx, e.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: e.from,
		To:   &e.contract,
		Data: calldata,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}

	receipt, err := e.client.WaitReceipt(ctx, signed.Hash())
	if err != nil {
		return common.Hash{}, fmt.Errorf("await receipt %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("tx %s reverted in block %d", signed.Hash().Hex(), receipt.BlockNumber.Uint64())
	}
	return signed.Hash(), nil
}

func (e *Executor) recordSuccess(hash common.Hash, prices []pricefeed.Price) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.TotalSubmissions++
	e.stats.ConsecutiveFailures = 0
	e.stats.LastSuccess = time.Now()
	e.stats.LastTxHash = hash.Hex()
	for _, p := range prices {
		e.lastSubmitted[p.MarketID] = new(big.Int).Set(p.Price)
	}

	e.metrics.Submissions.Inc()
	e.metrics.ConsecutiveFailures.Set(0)
	e.metrics.LastSubmitUnix.Set(float64(e.stats.LastSuccess.Unix()))
}

func (e *Executor) exhausted(lastErr error) (common.Hash, error) {
	e.mu.Lock()
	e.stats.TotalFailures++
	e.stats.ConsecutiveFailures++
	consecutive := e.stats.ConsecutiveFailures
	e.mu.Unlock()

	e.metrics.SubmissionFailures.Inc()
	e.metrics.ConsecutiveFailures.Set(float64(consecutive))

	if e.alertAfter > 0 && consecutive >= e.alertAfter {
		e.log.Error().
			Int("consecutive_failures", consecutive).
			Int("alert_after", e.alertAfter).
			Msg("ALERT: price submissions failing repeatedly, operator attention required")
	}
	if lastErr == nil {
		lastErr = errors.New("submission failed")
	}
	return common.Hash{}, fmt.Errorf("submit exhausted %d attempts: %w", e.maxRetries, lastErr)
}

// Stats returns a snapshot of the submission counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// LastSubmitted returns a copy of the deviation baseline.
func (e *Executor) LastSubmitted() map[string]*big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*big.Int, len(e.lastSubmitted))
	for k, v := range e.lastSubmitted {
		out[k] = new(big.Int).Set(v)
	}
	return out
}
