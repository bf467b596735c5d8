package scanner_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"PerpIndexer/internal/chain"
	"PerpIndexer/internal/codec"
	"PerpIndexer/internal/dispatch"
	"PerpIndexer/internal/observability"
	"PerpIndexer/internal/scanner"
	"PerpIndexer/internal/store"
)

var testMetrics = observability.NewMetrics()

var contractAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")

// fakeClient implements chain.Client with programmable behavior.
type fakeClient struct {
	mu       sync.Mutex
	logs     []types.Log
	logsErr  error
	head     uint64
	tsCalls  map[uint64]int
	tsErrFor map[uint64]bool
}

func newFakeClient(logs []types.Log) *fakeClient {
	return &fakeClient{
		logs:     logs,
		head:     10_000,
		tsCalls:  make(map[uint64]int),
		tsErrFor: make(map[uint64]bool),
	}
}

func (f *fakeClient) Logs(ctx context.Context, addr common.Address, from, to uint64) ([]types.Log, error) {
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeClient) BlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	f.mu.Lock()
	f.tsCalls[number]++
	fail := f.tsErrFor[number]
	f.mu.Unlock()
	if fail {
		return time.Time{}, errors.New("header unavailable")
	}
	return time.Unix(int64(1_700_000_000+number), 0).UTC(), nil
}

func (f *fakeClient) Head(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeClient) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(31337), nil
}
func (f *fakeClient) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeClient) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, errors.New("not mined")
}

var _ chain.Client = (*fakeClient)(nil)

const scanMirrorABI = `[
{"type":"event","name":"PositionOpened","inputs":[
  {"name":"positionId","type":"uint256","indexed":true},
  {"name":"user","type":"address","indexed":true},
  {"name":"marketId","type":"uint256","indexed":false},
  {"name":"isLong","type":"bool","indexed":false},
  {"name":"sizeUsd","type":"uint256","indexed":false},
  {"name":"leverage","type":"uint256","indexed":false},
  {"name":"entryPrice","type":"uint256","indexed":false},
  {"name":"collateralToken","type":"address","indexed":false},
  {"name":"collateralAmount","type":"uint256","indexed":false},
  {"name":"collateralUsd","type":"uint256","indexed":false}]},
{"type":"event","name":"PositionModified","inputs":[
  {"name":"positionId","type":"uint256","indexed":true},
  {"name":"newSizeUsd","type":"uint256","indexed":false},
  {"name":"newCollateralAmount","type":"uint256","indexed":false},
  {"name":"newCollateralUsd","type":"uint256","indexed":false}]}
]`

var scanMirror = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(scanMirrorABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

func openedLog(t *testing.T, positionID int64, block uint64, logIndex uint) types.Log {
	t.Helper()
	ev := scanMirror.Events["PositionOpened"]
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	topics, err := abi.MakeTopics([]interface{}{big.NewInt(positionID), user})
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	data, err := ev.Inputs.NonIndexed().Pack(
		big.NewInt(1), true, big.NewInt(5000), big.NewInt(10), big.NewInt(42000),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		big.NewInt(500), big.NewInt(500))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return types.Log{
		Address:     contractAddr,
		Topics:      append([]common.Hash{ev.ID}, topics[0]...),
		Data:        data,
		BlockNumber: block,
		TxHash:      crypto.Keccak256Hash([]byte{byte(positionID), byte(block), byte(logIndex)}),
		Index:       logIndex,
	}
}

func modifiedLog(t *testing.T, positionID int64, block uint64, logIndex uint) types.Log {
	t.Helper()
	ev := scanMirror.Events["PositionModified"]
	topics, err := abi.MakeTopics([]interface{}{big.NewInt(positionID)})
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(8000), big.NewInt(800), big.NewInt(800))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return types.Log{
		Address:     contractAddr,
		Topics:      append([]common.Hash{ev.ID}, topics[0]...),
		Data:        data,
		BlockNumber: block,
		TxHash:      crypto.Keccak256Hash([]byte{0xfe, byte(block), byte(logIndex)}),
		Index:       logIndex,
	}
}

func newScanner(t *testing.T, client *fakeClient) (*scanner.Scanner, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	dec, err := codec.NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	disp := dispatch.New(mem, zerolog.Nop())
	s := scanner.New(client, dec, disp, mem, contractAddr, nil, testMetrics, zerolog.Nop())
	return s, mem
}

func TestScanAppliesEventsInOrder(t *testing.T) {
	client := newFakeClient([]types.Log{
		// Delivered out of order on purpose.
		modifiedLog(t, 7, 101, 0),
		openedLog(t, 7, 100, 2),
	})
	s, mem := newScanner(t, client)

	applied, err := s.Scan(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if applied != 2 {
		t.Fatalf("applied: got %d, want 2", applied)
	}

	pos, err := mem.GetPosition(context.Background(), "7")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.SizeUsd.Cmp(big.NewInt(8000)) != 0 {
		t.Errorf("size after ordered apply: got %s, want 8000", pos.SizeUsd)
	}
}

func TestScanFetchErrorPropagates(t *testing.T) {
	client := newFakeClient(nil)
	client.logsErr = errors.New("rpc down")
	s, _ := newScanner(t, client)

	if _, err := s.Scan(context.Background(), 100, 110); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestScanEmptyRange(t *testing.T) {
	client := newFakeClient(nil)
	s, _ := newScanner(t, client)

	applied, err := s.Scan(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied: got %d, want 0", applied)
	}
}

func TestScanTimestampsFetchedOncePerBlock(t *testing.T) {
	client := newFakeClient([]types.Log{
		openedLog(t, 1, 100, 0),
		openedLog(t, 2, 100, 1),
		openedLog(t, 3, 100, 2),
		openedLog(t, 4, 105, 0),
	})
	s, _ := newScanner(t, client)

	if _, err := s.Scan(context.Background(), 100, 110); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got := client.tsCalls[100]; got != 1 {
		t.Errorf("timestamp calls for block 100: got %d, want 1", got)
	}
	if got := client.tsCalls[105]; got != 1 {
		t.Errorf("timestamp calls for block 105: got %d, want 1", got)
	}
}

func TestScanTimestampFailureFallsBackToNow(t *testing.T) {
	client := newFakeClient([]types.Log{openedLog(t, 1, 100, 0)})
	client.tsErrFor[100] = true
	s, mem := newScanner(t, client)

	before := time.Now().Add(-time.Second)
	if _, err := s.Scan(context.Background(), 100, 110); err != nil {
		t.Fatalf("scan: %v", err)
	}

	pos, err := mem.GetPosition(context.Background(), "1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Prov.Timestamp.Before(before) {
		t.Errorf("timestamp should fall back to wall clock, got %v", pos.Prov.Timestamp)
	}
}

func TestScanUnknownLogsSkipped(t *testing.T) {
	unknown := types.Log{
		Address:     contractAddr,
		Topics:      []common.Hash{crypto.Keccak256Hash([]byte("Unrelated(uint256)"))},
		BlockNumber: 100,
		Index:       0,
	}
	client := newFakeClient([]types.Log{unknown, openedLog(t, 1, 100, 1)})
	s, _ := newScanner(t, client)

	applied, err := s.Scan(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied: got %d, want 1", applied)
	}
}

func TestScanDispatchErrorIsolated(t *testing.T) {
	// Modify for a position that was never opened fails dispatch, the
	// following open must still apply.
	client := newFakeClient([]types.Log{
		modifiedLog(t, 999, 100, 0),
		openedLog(t, 7, 100, 1),
	})
	s, mem := newScanner(t, client)

	applied, err := s.Scan(context.Background(), 100, 110)
	if err == nil {
		t.Fatal("expected error from failed dispatch")
	}
	if applied != 1 {
		t.Errorf("applied: got %d, want 1", applied)
	}
	if _, err := mem.GetPosition(context.Background(), "7"); err != nil {
		t.Errorf("later event not applied: %v", err)
	}
}

func TestScanRetryAfterFailureProducesNoDuplicates(t *testing.T) {
	client := newFakeClient([]types.Log{
		modifiedLog(t, 999, 100, 0),
		openedLog(t, 7, 100, 1),
	})
	s, mem := newScanner(t, client)
	ctx := context.Background()

	if _, err := s.Scan(ctx, 100, 110); err == nil {
		t.Fatal("expected first scan to fail")
	}
	cp, _ := mem.Checkpoint(ctx)
	if cp != 0 {
		t.Fatalf("checkpoint moved on failed range: %d", cp)
	}
	if trades := mem.AllTrades(); len(trades) != 1 {
		t.Fatalf("trades after first scan: got %d, want 1", len(trades))
	}

	// Re-scanning the same range replays the already-applied open; the
	// projection must not duplicate its rows.
	if _, err := s.Scan(ctx, 100, 110); err == nil {
		t.Fatal("expected rescan to fail on the same bad event")
	}
	if trades := mem.AllTrades(); len(trades) != 1 {
		t.Errorf("trades after rescan: got %d, want 1 (no duplicates)", len(trades))
	}
}
