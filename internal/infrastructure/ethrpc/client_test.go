package ethrpc

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers JSON-RPC calls from a fixed method table.
type fakeNode struct {
	t       *testing.T
	results map[string]any
	calls   map[string]int
}

func newFakeNode(t *testing.T) (*fakeNode, *Client) {
	node := &fakeNode{t: t, results: map[string]any{}, calls: map[string]int{}}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), Config{URL: srv.URL})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return node, client
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(n.t, err)
	var req rpcRequest
	require.NoError(n.t, json.Unmarshal(body, &req))
	n.calls[req.Method]++

	result, ok := n.results[req.Method]
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if ok {
		resp["result"] = result
	} else {
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(n.t, json.NewEncoder(w).Encode(resp))
}

func TestClient_ChainIDAndLatest(t *testing.T) {
	node, client := newFakeNode(t)
	node.results["eth_chainId"] = "0x89"
	node.results["eth_blockNumber"] = "0x1234"

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(137), id)

	_, err = client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, node.calls["eth_chainId"])

	latest, err := client.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), latest)
}

func TestClient_BlockHash(t *testing.T) {
	node, client := newFakeNode(t)
	header := testHeader(100, types.EmptyTxsHash)
	node.results["eth_getBlockByNumber"] = header

	hash, ok, err := client.BlockHash(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, header.Hash().Hex(), hash)

	node.results["eth_getBlockByNumber"] = nil
	_, ok, err = client.BlockHash(context.Background(), 101)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_FetchBlock(t *testing.T) {
	node, client := newFakeNode(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	chainID := big.NewInt(1)
	signer := types.LatestSignerForChainID(chainID)
	tx, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(50),
		Gas:       60000,
		To:        &contract,
		Value:     big.NewInt(3),
		Data:      []byte{0xde, 0xad, 0xbe, 0xef},
	})
	require.NoError(t, err)

	header := testHeader(200, common.HexToHash("0xabc"))
	node.results["eth_chainId"] = "0x1"
	node.results["eth_getBlockByNumber"] = blockJSON(t, header, tx, from)
	node.results["eth_getCode"] = "0x6080"
	node.results["debug_traceBlockByNumber"] = []map[string]any{{
		"txHash": tx.Hash(),
		"result": map[string]any{
			"type":  "CALL",
			"from":  from,
			"to":    contract,
			"value": "0x3",
			"gas":   "0xea60",
			"input": "0xdeadbeef",
			"calls": []map[string]any{
				{"type": "STATICCALL", "from": contract, "to": token, "gas": "0x100", "input": "0x"},
			},
		},
	}}

	client.traceCalls = true
	block, ok, err := client.FetchBlock(context.Background(), 200)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, uint64(200), block.Number)
	assert.Equal(t, header.Hash().Bytes(), block.Hash)
	require.Len(t, block.TransactionTraces, 1)

	trace := block.TransactionTraces[0]
	assert.Equal(t, tx.Hash().Bytes(), trace.Hash)
	assert.Equal(t, from.Bytes(), trace.From)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, trace.Input)
	require.Len(t, trace.Calls, 2)
	assert.Equal(t, token.Bytes(), trace.Calls[1].Address)
	assert.Equal(t, 1, node.calls["eth_getCode"])

	client.traceCalls = false
	block, ok, err = client.FetchBlock(context.Background(), 200)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, block.TransactionTraces[0].Calls, 1)
	assert.Equal(t, 1, node.calls["debug_traceBlockByNumber"])
}

func TestClient_FetchBlockMissing(t *testing.T) {
	node, client := newFakeNode(t)
	node.results["eth_getBlockByNumber"] = nil

	block, ok, err := client.FetchBlock(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, block)
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}

func testHeader(number int64, txHash common.Hash) *types.Header {
	return &types.Header{
		ParentHash:  common.HexToHash("0x01"),
		UncleHash:   types.EmptyUncleHash,
		Root:        types.EmptyRootHash,
		TxHash:      txHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  big.NewInt(0),
		Number:      big.NewInt(number),
		GasLimit:    30_000_000,
		Time:        1_700_000_000,
		BaseFee:     big.NewInt(7),
	}
}

func blockJSON(t *testing.T, header *types.Header, tx *types.Transaction, from common.Address) map[string]any {
	out := map[string]any{}
	raw, err := json.Marshal(header)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out))

	txFields := map[string]any{}
	raw, err = json.Marshal(tx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &txFields))
	txFields["from"] = from
	txFields["blockHash"] = header.Hash()
	txFields["blockNumber"] = hexutil.EncodeBig(header.Number)
	txFields["transactionIndex"] = "0x0"

	out["hash"] = header.Hash()
	out["transactions"] = []any{txFields}
	out["uncles"] = []any{}
	return out
}
