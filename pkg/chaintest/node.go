// Package chaintest runs an in-process JSON-RPC node that also answers the
// wallet methods, for tests that exercise the real go-ethereum clients.
package chaintest

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"plstrdash/pkg/contracts"
)

// CallHandler answers an eth_call to a decoded contract method.
type CallHandler func(to common.Address, args []interface{}) ([]interface{}, error)

// SentTx is a transaction the node accepted.
type SentTx struct {
	From   common.Address
	To     common.Address
	Method string
	Args   []interface{}
	Hash   common.Hash
	Status uint64
}

// RPCError is returned to the client as a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Node is a fake chain plus wallet.
type Node struct {
	Server *httptest.Server
	URL    string

	mu           sync.Mutex
	chainID      uint64
	blockNumber  uint64
	accounts     []common.Address
	nextAccounts []common.Address
	knownChains  map[uint64]bool
	calls        map[string]CallHandler
	logs         []types.Log
	blockTimes   map[uint64]uint64
	balances     map[common.Address]*big.Int
	receipts     map[common.Hash]*types.Receipt
	sent         []SentTx
	counts       map[string]int
	failures     map[string]*RPCError
	revert       map[string]bool
	delay        time.Duration
	down         bool
	nonce        uint64
	onSend       func(SentTx)
}

// New starts a node on chain 1 with no accounts. It is closed when the test
// ends.
func New(t testing.TB) *Node {
	n := &Node{
		chainID:     1,
		blockNumber: 100,
		knownChains: map[uint64]bool{1: true},
		calls:       make(map[string]CallHandler),
		blockTimes:  make(map[uint64]uint64),
		balances:    make(map[common.Address]*big.Int),
		receipts:    make(map[common.Hash]*types.Receipt),
		counts:      make(map[string]int),
		failures:    make(map[string]*RPCError),
		revert:      make(map[string]bool),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serveHTTP))
	n.URL = n.Server.URL
	t.Cleanup(n.Server.Close)
	return n
}

func (n *Node) SetChainID(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chainID = id
	n.knownChains[id] = true
}

func (n *Node) ChainID() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chainID
}

// SetKnownChain controls whether wallet_switchEthereumChain accepts id
// without a prior wallet_addEthereumChain.
func (n *Node) SetKnownChain(id uint64, known bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.knownChains[id] = known
}

func (n *Node) SetAccounts(accounts ...common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts = accounts
}

// SetPermissionAccounts sets the accounts exposed after the next
// wallet_requestPermissions.
func (n *Node) SetPermissionAccounts(accounts ...common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextAccounts = accounts
}

func (n *Node) SetBalance(addr common.Address, v *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[addr] = v
}

// Handle installs the eth_call handler for a contract method.
func (n *Node) Handle(method string, h CallHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[method] = h
}

// Return makes method answer with fixed outputs.
func (n *Node) Return(method string, outs ...interface{}) {
	n.Handle(method, func(common.Address, []interface{}) ([]interface{}, error) {
		return outs, nil
	})
}

// Fail makes every request for an RPC method, or for an eth_call contract
// method, answer with err.
func (n *Node) Fail(method string, code int, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[method] = &RPCError{Code: code, Message: message}
}

// Clear removes a failure installed with Fail.
func (n *Node) Clear(method string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.failures, method)
}

// Revert makes mined transactions calling method end with status 0.
func (n *Node) Revert(method string, revert bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.revert[method] = revert
}

// SetDelay delays every response. Requests whose context ends first are
// abandoned.
func (n *Node) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

// SetDown makes the node answer 503 to everything.
func (n *Node) SetDown(down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down = down
}

// OnSend registers a hook run for every accepted transaction.
func (n *Node) OnSend(fn func(SentTx)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onSend = fn
}

// Sent returns the accepted transactions in order.
func (n *Node) Sent() []SentTx {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentTx(nil), n.sent...)
}

// Count returns how often method was requested. Contract calls are counted
// as "eth_call:<method>" too.
func (n *Node) Count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counts[method]
}

// SetBlockTime sets the header timestamp served for block.
func (n *Node) SetBlockTime(block, unix uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blockTimes[block] = unix
}

// AddEvent appends a log emitted by contract. topics are the indexed
// address arguments in declaration order, values the non-indexed ones.
func (n *Node) AddEvent(contract common.Address, name string, block uint64, index uint, topics []common.Address, values ...interface{}) types.Log {
	ev, ok := contracts.ABI.Events[name]
	if !ok {
		panic("chaintest: unknown event " + name)
	}
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("chaintest: pack %s: %v", name, err))
	}
	l := types.Log{
		Address:     contract,
		Topics:      []common.Hash{ev.ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%d/%d", name, block, index))),
		BlockHash:   crypto.Keccak256Hash(new(big.Int).SetUint64(block).Bytes()),
		Index:       index,
	}
	for _, a := range topics {
		l.Topics = append(l.Topics, common.BytesToHash(a.Bytes()))
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.logs = append(n.logs, l)
	if block > n.blockNumber {
		n.blockNumber = block
	}
	return l
}

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (n *Node) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	delay, down := n.delay, n.down
	n.counts[req.Method]++
	n.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	result, rpcErr := n.dispatch(req)
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
	}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *Node) dispatch(req request) (interface{}, *RPCError) {
	n.mu.Lock()
	fail := n.failures[req.Method]
	n.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	switch req.Method {
	case "eth_chainId":
		return hexutil.Uint64(n.ChainID()), nil
	case "net_version":
		return fmt.Sprint(n.ChainID()), nil
	case "eth_blockNumber":
		n.mu.Lock()
		defer n.mu.Unlock()
		return hexutil.Uint64(n.blockNumber), nil
	case "eth_accounts", "eth_requestAccounts":
		n.mu.Lock()
		defer n.mu.Unlock()
		out := make([]string, 0, len(n.accounts))
		for _, a := range n.accounts {
			out = append(out, a.Hex())
		}
		return out, nil
	case "wallet_requestPermissions":
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.nextAccounts != nil {
			n.accounts = n.nextAccounts
			n.nextAccounts = nil
		}
		return []map[string]string{{"parentCapability": "eth_accounts"}}, nil
	case "wallet_switchEthereumChain":
		var p struct {
			ChainID hexutil.Uint64 `json:"chainId"`
		}
		if err := param(req, 0, &p); err != nil {
			return nil, err
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		if !n.knownChains[uint64(p.ChainID)] {
			return nil, &RPCError{Code: 4902, Message: "Unrecognized chain ID"}
		}
		n.chainID = uint64(p.ChainID)
		return nil, nil
	case "wallet_addEthereumChain":
		var p struct {
			ChainID hexutil.Uint64 `json:"chainId"`
		}
		if err := param(req, 0, &p); err != nil {
			return nil, err
		}
		n.SetKnownChain(uint64(p.ChainID), true)
		return nil, nil
	case "eth_getBalance":
		var addr common.Address
		if err := param(req, 0, &addr); err != nil {
			return nil, err
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		bal := n.balances[addr]
		if bal == nil {
			bal = new(big.Int)
		}
		return (*hexutil.Big)(bal), nil
	case "eth_getCode":
		return hexutil.Bytes{0x60, 0x80}, nil
	case "eth_getTransactionCount":
		n.mu.Lock()
		defer n.mu.Unlock()
		return hexutil.Uint64(n.nonce), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(big.NewInt(1_000_000_000)), nil
	case "eth_maxPriorityFeePerGas":
		return (*hexutil.Big)(big.NewInt(1_000_000)), nil
	case "eth_estimateGas":
		return hexutil.Uint64(100_000), nil
	case "eth_getBlockByNumber":
		return n.header(req)
	case "eth_call":
		return n.call(req)
	case "eth_getLogs":
		return n.filterLogs(req)
	case "eth_sendTransaction":
		return n.sendTransaction(req)
	case "eth_sendRawTransaction":
		return n.sendRawTransaction(req)
	case "eth_getTransactionReceipt":
		var hash common.Hash
		if err := param(req, 0, &hash); err != nil {
			return nil, err
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		if rc, ok := n.receipts[hash]; ok {
			return rc, nil
		}
		return nil, nil
	}
	return nil, &RPCError{Code: -32601, Message: "method not found: " + req.Method}
}

func param(req request, i int, out interface{}) *RPCError {
	if len(req.Params) <= i {
		return &RPCError{Code: -32602, Message: "missing params"}
	}
	if err := json.Unmarshal(req.Params[i], out); err != nil {
		return &RPCError{Code: -32602, Message: err.Error()}
	}
	return nil
}

func (n *Node) header(req request) (interface{}, *RPCError) {
	var tag string
	if err := param(req, 0, &tag); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	number := n.blockNumber
	if tag != "latest" && tag != "pending" && tag != "" {
		v, err := hexutil.DecodeUint64(tag)
		if err != nil {
			return nil, &RPCError{Code: -32602, Message: err.Error()}
		}
		number = v
	}
	ts, ok := n.blockTimes[number]
	if !ok {
		ts = 1_700_000_000 + number*12
	}
	return map[string]interface{}{
		"number":           hexutil.Uint64(number),
		"hash":             crypto.Keccak256Hash(new(big.Int).SetUint64(number).Bytes()),
		"parentHash":       common.Hash{},
		"sha3Uncles":       types.EmptyUncleHash,
		"timestamp":        hexutil.Uint64(ts),
		"miner":            common.Address{},
		"gasLimit":         "0x1c9c380",
		"gasUsed":          "0x0",
		"difficulty":       "0x0",
		"extraData":        "0x",
		"mixHash":          common.Hash{},
		"nonce":            "0x0000000000000000",
		"stateRoot":        common.Hash{},
		"receiptsRoot":     types.EmptyReceiptsHash,
		"transactionsRoot": types.EmptyTxsHash,
		"logsBloom":        "0x" + strings.Repeat("00", 256),
		"transactions":     []interface{}{},
		"uncles":           []interface{}{},
	}, nil
}

type callArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (a callArgs) payload() []byte {
	if len(a.Input) > 0 {
		return a.Input
	}
	return a.Data
}

func decodeCall(data []byte) (*abi.Method, []interface{}, *RPCError) {
	if len(data) < 4 {
		return nil, nil, &RPCError{Code: 3, Message: "execution reverted"}
	}
	method, err := contracts.ABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, &RPCError{Code: 3, Message: "execution reverted: unknown selector"}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, &RPCError{Code: -32602, Message: err.Error()}
	}
	return method, args, nil
}

func (n *Node) call(req request) (interface{}, *RPCError) {
	var args callArgs
	if err := param(req, 0, &args); err != nil {
		return nil, err
	}
	if args.To == nil {
		return nil, &RPCError{Code: -32602, Message: "missing to"}
	}
	method, in, rpcErr := decodeCall(args.payload())
	if rpcErr != nil {
		return nil, rpcErr
	}

	n.mu.Lock()
	n.counts["eth_call:"+method.Name]++
	h := n.calls[method.Name]
	fail := n.failures[method.Name]
	n.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if h == nil {
		return hexutil.Bytes{}, nil
	}
	outs, err := h(*args.To, in)
	if err != nil {
		return nil, &RPCError{Code: 3, Message: "execution reverted: " + err.Error()}
	}
	packed, err := method.Outputs.Pack(outs...)
	if err != nil {
		return nil, &RPCError{Code: -32603, Message: err.Error()}
	}
	return hexutil.Bytes(packed), nil
}

func (n *Node) filterLogs(req request) (interface{}, *RPCError) {
	var q struct {
		FromBlock string           `json:"fromBlock"`
		Address   []common.Address `json:"address"`
		Topics    [][]common.Hash  `json:"topics"`
	}
	if err := param(req, 0, &q); err != nil {
		return nil, err
	}
	var from uint64
	if q.FromBlock != "" && q.FromBlock != "earliest" {
		v, err := hexutil.DecodeUint64(q.FromBlock)
		if err != nil {
			return nil, &RPCError{Code: -32602, Message: err.Error()}
		}
		from = v
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.Log, 0, len(n.logs))
	for _, l := range n.logs {
		if l.BlockNumber < from {
			continue
		}
		if len(q.Address) > 0 && !containsAddr(q.Address, l.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && !containsHash(q.Topics[0], l.Topics[0]) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func containsAddr(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}

func (n *Node) sendTransaction(req request) (interface{}, *RPCError) {
	var args callArgs
	if err := param(req, 0, &args); err != nil {
		return nil, err
	}
	if args.To == nil {
		return nil, &RPCError{Code: -32602, Message: "contract creation not supported"}
	}
	n.mu.Lock()
	hash := crypto.Keccak256Hash(args.From.Bytes(), new(big.Int).SetUint64(n.nonce).Bytes(), args.payload())
	n.mu.Unlock()
	return n.mine(args.From, *args.To, args.payload(), hash)
}

func (n *Node) sendRawTransaction(req request) (interface{}, *RPCError) {
	var raw hexutil.Bytes
	if err := param(req, 0, &raw); err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &RPCError{Code: -32602, Message: err.Error()}
	}
	from, err := types.Sender(types.LatestSignerForChainID(new(big.Int).SetUint64(n.ChainID())), tx)
	if err != nil {
		return nil, &RPCError{Code: -32000, Message: "invalid sender: " + err.Error()}
	}
	if tx.To() == nil {
		return nil, &RPCError{Code: -32602, Message: "contract creation not supported"}
	}
	return n.mine(from, *tx.To(), tx.Data(), tx.Hash())
}

// mine records the transaction and produces its receipt in a new block.
func (n *Node) mine(from, to common.Address, data []byte, hash common.Hash) (interface{}, *RPCError) {
	method, args, rpcErr := decodeCall(data)
	if rpcErr != nil {
		return nil, rpcErr
	}

	n.mu.Lock()
	n.nonce++
	n.blockNumber++
	status := types.ReceiptStatusSuccessful
	if n.revert[method.Name] {
		status = types.ReceiptStatusFailed
	}
	sent := SentTx{From: from, To: to, Method: method.Name, Args: args, Hash: hash, Status: status}
	n.sent = append(n.sent, sent)
	n.receipts[hash] = &types.Receipt{
		Status:            status,
		CumulativeGasUsed: 100_000,
		Logs:              []*types.Log{},
		TxHash:            hash,
		GasUsed:           100_000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
		BlockHash:         crypto.Keccak256Hash(new(big.Int).SetUint64(n.blockNumber).Bytes()),
		BlockNumber:       new(big.Int).SetUint64(n.blockNumber),
	}
	hook := n.onSend
	n.mu.Unlock()

	if hook != nil {
		hook(sent)
	}
	return hash, nil
}
