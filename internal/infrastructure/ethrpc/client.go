package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"txindex/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client reads blocks from an execution node and turns them into transaction
// traces. With TraceCalls set, internal calls come from the callTracer;
// otherwise only the top-level call into a contract is reported.
type Client struct {
	rpc        *rpc.Client
	eth        *ethclient.Client
	traceCalls bool

	mu      sync.Mutex
	chainID *big.Int
}

type Config struct {
	URL        string
	TraceCalls bool
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	rpcClient, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{
		rpc:        rpcClient,
		eth:        ethclient.NewClient(rpcClient),
		traceCalls: cfg.TraceCalls,
	}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.chainIDBig(ctx)
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

func (c *Client) chainIDBig(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	c.chainID = id
	return id, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// BlockHash reports false when the node does not know the block yet.
func (c *Client) BlockHash(ctx context.Context, blockNumber uint64) (string, bool, error) {
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return header.Hash().Hex(), true, nil
}

// FetchBlock returns the block with one trace per transaction, in block order.
func (c *Client) FetchBlock(ctx context.Context, blockNumber uint64) (*domain.Block, bool, error) {
	number := new(big.Int).SetUint64(blockNumber)
	block, err := c.eth.BlockByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("block %d: %w", blockNumber, err)
	}
	chainID, err := c.chainIDBig(ctx)
	if err != nil {
		return nil, false, err
	}

	var frames []*callFrame
	if c.traceCalls && len(block.Transactions()) > 0 {
		frames, err = c.traceBlock(ctx, blockNumber)
		if err != nil {
			return nil, false, err
		}
		if len(frames) != len(block.Transactions()) {
			return nil, false, fmt.Errorf("block %d: %d traces for %d transactions", blockNumber, len(frames), len(block.Transactions()))
		}
	}

	signer := types.LatestSignerForChainID(chainID)
	codes := make(map[common.Address]bool)
	out := &domain.Block{
		Number:            block.NumberU64(),
		Hash:              block.Hash().Bytes(),
		ParentHash:        block.ParentHash().Bytes(),
		Timestamp:         block.Time(),
		TransactionTraces: make([]domain.TransactionTrace, 0, len(block.Transactions())),
	}
	for i, tx := range block.Transactions() {
		from, err := types.Sender(signer, tx)
		if err != nil {
			from, err = c.eth.TransactionSender(ctx, tx, block.Hash(), uint(i))
			if err != nil {
				return nil, false, fmt.Errorf("sender of %s: %w", tx.Hash().Hex(), err)
			}
		}

		isContract := true
		if to := tx.To(); to != nil {
			isContract, err = c.hasCode(ctx, codes, *to, number)
			if err != nil {
				return nil, false, err
			}
		}

		var frame *callFrame
		if frames != nil {
			frame = frames[i]
		}
		out.TransactionTraces = append(out.TransactionTraces, convertTransaction(tx, uint32(i), from, block.BaseFee(), isContract, frame))
	}
	return out, true, nil
}

func (c *Client) hasCode(ctx context.Context, cache map[common.Address]bool, addr common.Address, number *big.Int) (bool, error) {
	if known, ok := cache[addr]; ok {
		return known, nil
	}
	code, err := c.eth.CodeAt(ctx, addr, number)
	if err != nil {
		return false, fmt.Errorf("code at %s: %w", addr.Hex(), err)
	}
	cache[addr] = len(code) > 0
	return len(code) > 0, nil
}

func (c *Client) traceBlock(ctx context.Context, blockNumber uint64) ([]*callFrame, error) {
	var results []txTraceResult
	err := c.rpc.CallContext(ctx, &results, "debug_traceBlockByNumber",
		hexutil.EncodeUint64(blockNumber),
		map[string]any{"tracer": "callTracer"},
	)
	if err != nil {
		return nil, fmt.Errorf("trace block %d: %w", blockNumber, err)
	}
	frames := make([]*callFrame, len(results))
	for i, res := range results {
		if res.Error != "" && res.Result == nil {
			return nil, fmt.Errorf("trace tx %s: %s", res.TxHash.Hex(), res.Error)
		}
		frames[i] = res.Result
	}
	return frames, nil
}
