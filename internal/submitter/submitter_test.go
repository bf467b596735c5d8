package submitter_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"PerpIndexer/internal/chain"
	"PerpIndexer/internal/observability"
	"PerpIndexer/internal/pricefeed"
	"PerpIndexer/internal/submitter"
)

var testMetrics = observability.NewMetrics()

// fakeChain implements chain.Client for submission tests.
type fakeChain struct {
	mu        sync.Mutex
	sendCalls int
	sendErr   error
	lastSent  *types.Transaction
}

func (f *fakeChain) Logs(ctx context.Context, addr common.Address, from, to uint64) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeChain) BlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	return time.Time{}, nil
}
func (f *fakeChain) Head(ctx context.Context) (uint64, error)          { return 0, nil }
func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error)     { return big.NewInt(31337), nil }
func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *fakeChain) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}
func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.lastSent = tx
	return f.sendErr
}

func (f *fakeChain) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: big.NewInt(123),
	}, nil
}

var _ chain.Client = (*fakeChain)(nil)

func newExecutor(t *testing.T, client chain.Client, maxRetries, alertAfter int) *submitter.Executor {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyHex := hexutil.Encode(crypto.FromECDSA(key))
	e, err := submitter.NewExecutor(context.Background(), client, keyHex,
		common.HexToAddress("0x9999999999999999999999999999999999999999"),
		maxRetries, time.Millisecond, alertAfter, testMetrics, zerolog.Nop())
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return e
}

func batch(marketID string, price int64) []pricefeed.Price {
	return []pricefeed.Price{{MarketID: marketID, Price: big.NewInt(price)}}
}

func TestSubmitEmptyBatch(t *testing.T) {
	e := newExecutor(t, &fakeChain{}, 3, 5)
	if _, err := e.Submit(context.Background(), nil); !errors.Is(err, submitter.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	if stats := e.Stats(); stats.TotalSubmissions != 0 {
		t.Errorf("empty batch must not count as a submission")
	}
}

func TestSubmitSuccess(t *testing.T) {
	client := &fakeChain{}
	e := newExecutor(t, client, 3, 5)

	hash, err := e.Submit(context.Background(), batch("1", 42000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash == (common.Hash{}) {
		t.Error("expected non-zero tx hash")
	}
	if client.sendCalls != 1 {
		t.Errorf("send calls: got %d, want 1", client.sendCalls)
	}

	stats := e.Stats()
	if stats.TotalSubmissions != 1 || stats.ConsecutiveFailures != 0 {
		t.Errorf("stats: %+v", stats)
	}
	if stats.LastTxHash != hash.Hex() {
		t.Errorf("last tx hash: got %s, want %s", stats.LastTxHash, hash.Hex())
	}
	if stats.LastSuccess.IsZero() {
		t.Error("last success not recorded")
	}

	last := e.LastSubmitted()
	if got, ok := last["1"]; !ok || got.Cmp(big.NewInt(42000)) != 0 {
		t.Errorf("baseline: got %v, want 42000", got)
	}
}

func TestSubmitRetryExhaustion(t *testing.T) {
	client := &fakeChain{sendErr: errors.New("nonce too low")}
	e := newExecutor(t, client, 3, 5)

	if _, err := e.Submit(context.Background(), batch("1", 42000)); err == nil {
		t.Fatal("expected exhaustion error")
	}
	if client.sendCalls != 3 {
		t.Errorf("send calls: got %d, want exactly 3", client.sendCalls)
	}

	stats := e.Stats()
	if stats.TotalFailures != 1 {
		t.Errorf("total failures: got %d, want 1", stats.TotalFailures)
	}
	if stats.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures: got %d, want 1", stats.ConsecutiveFailures)
	}
	if len(e.LastSubmitted()) != 0 {
		t.Error("baseline must stay untouched on failure")
	}
}

func TestSubmitSuccessResetsConsecutiveFailures(t *testing.T) {
	client := &fakeChain{sendErr: errors.New("transient")}
	e := newExecutor(t, client, 2, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.Submit(ctx, batch("1", 42000)); err == nil {
			t.Fatal("expected failure")
		}
	}
	if stats := e.Stats(); stats.ConsecutiveFailures != 3 {
		t.Fatalf("consecutive: got %d, want 3", stats.ConsecutiveFailures)
	}

	client.mu.Lock()
	client.sendErr = nil
	client.mu.Unlock()

	if _, err := e.Submit(ctx, batch("1", 43000)); err != nil {
		t.Fatalf("submit after recovery: %v", err)
	}
	stats := e.Stats()
	if stats.ConsecutiveFailures != 0 {
		t.Errorf("consecutive after success: got %d, want 0", stats.ConsecutiveFailures)
	}
	if stats.TotalFailures != 3 {
		t.Errorf("total failures: got %d, want 3", stats.TotalFailures)
	}
	if got := e.LastSubmitted()["1"]; got.Cmp(big.NewInt(43000)) != 0 {
		t.Errorf("baseline: got %s, want 43000", got)
	}
}

func TestSubmitNonNumericMarket(t *testing.T) {
	e := newExecutor(t, &fakeChain{}, 3, 5)
	if _, err := e.Submit(context.Background(), batch("btc-perp", 42000)); err == nil {
		t.Fatal("expected error for non-numeric market id")
	}
}
