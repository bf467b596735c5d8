package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the minimal RPC surface the pipeline needs. Everything the
// scanner and the submitter know about the chain goes through this
// interface; tests substitute a fake.
type Client interface {
	// Logs fetches all logs emitted by addr in [from, to].
	Logs(ctx context.Context, addr common.Address, from, to uint64) ([]types.Log, error)

	// BlockTimestamp returns the timestamp of the given block.
	BlockTimestamp(ctx context.Context, number uint64) (time.Time, error)

	// Head returns the current chain head block number.
	Head(ctx context.Context) (uint64, error)

	// ChainID returns the chain id used for transaction signing.
	ChainID(ctx context.Context) (*big.Int, error)

	// PendingNonce returns the next nonce for the given account.
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPrice returns the node's suggested gas price.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas needed for the given call.
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// WaitReceipt blocks until the transaction is mined or the context
	// (or the configured receipt timeout) expires.
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// ErrReceiptTimeout is returned when a transaction was broadcast but no
// receipt appeared within the receipt timeout.
var ErrReceiptTimeout = errors.New("chain: timed out waiting for receipt")

// EthClient implements Client on top of a go-ethereum RPC client.
// Timeouts are enforced here, at the RPC boundary; callers see a plain
// error and apply their own retry policy.
type EthClient struct {
	ec             *ethclient.Client
	rpcTimeout     time.Duration
	receiptTimeout time.Duration
	receiptPoll    time.Duration
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, url string, rpcTimeout, receiptTimeout time.Duration) (*EthClient, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &EthClient{
		ec:             ec,
		rpcTimeout:     rpcTimeout,
		receiptTimeout: receiptTimeout,
		receiptPoll:    2 * time.Second,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *EthClient) Close() {
	c.ec.Close()
}

func (c *EthClient) Logs(ctx context.Context, addr common.Address, from, to uint64) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	logs, err := c.ec.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}
	return logs, nil
}

func (c *EthClient) BlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	header, err := c.ec.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *EthClient) Head(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	head, err := c.ec.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return head, nil
}

func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	return c.ec.ChainID(ctx)
}

func (c *EthClient) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	return c.ec.PendingNonceAt(ctx, account)
}

func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	return c.ec.SuggestGasPrice(ctx)
}

func (c *EthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	return c.ec.EstimateGas(ctx, msg)
}

func (c *EthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	return c.ec.SendTransaction(ctx, tx)
}

func (c *EthClient) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.ec.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ErrReceiptTimeout
		case <-ticker.C:
		}
	}
}
