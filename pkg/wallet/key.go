package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// KeyProvider acts as a wallet backed by a local private key. Signing
// happens in process; everything else is forwarded to an upstream node.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	account common.Address

	mu       sync.RWMutex
	upstream *rpc.Client
	chainID  uint64
	networks map[uint64]string
}

// LoadKeyFile reads a hex encoded secp256k1 private key.
func LoadKeyFile(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	hexKey := strings.TrimPrefix(strings.TrimSpace(string(data)), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	return key, nil
}

// NewKeyProvider dials the upstream node and records its chain as known.
func NewKeyProvider(ctx context.Context, key *ecdsa.PrivateKey, upstreamURL string) (*KeyProvider, error) {
	client, err := rpc.DialContext(ctx, upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", upstreamURL, err)
	}
	id, err := ethclient.NewClient(client).ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("upstream chain id: %w", err)
	}
	return &KeyProvider{
		key:      key,
		account:  crypto.PubkeyToAddress(key.PublicKey),
		upstream: client,
		chainID:  id.Uint64(),
		networks: map[uint64]string{id.Uint64(): upstreamURL},
	}, nil
}

// Account returns the signing address.
func (p *KeyProvider) Account() common.Address { return p.account }

// AddNetwork registers an RPC endpoint the provider may switch to.
func (p *KeyProvider) AddNetwork(chainID uint64, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.networks[chainID] = url
}

func (p *KeyProvider) RPCClient() *rpc.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.upstream
}

func (p *KeyProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.upstream != nil {
		p.upstream.Close()
	}
}

func (p *KeyProvider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	switch method {
	case MethodRequestAccounts, MethodAccounts:
		return assign(result, []string{p.account.Hex()})
	case MethodChainID:
		p.mu.RLock()
		id := p.chainID
		p.mu.RUnlock()
		return assign(result, hexutil.Uint64(id))
	case MethodSwitchChain:
		var req SwitchChainParams
		if err := decodeParam(params, &req); err != nil {
			return err
		}
		return p.switchChain(ctx, uint64(req.ChainID))
	case MethodAddChain:
		var d ChainDescriptor
		if err := decodeParam(params, &d); err != nil {
			return err
		}
		if len(d.RPCURLs) == 0 {
			return &ProviderError{Code: -32602, Message: "rpcUrls required"}
		}
		p.AddNetwork(uint64(d.ChainID), d.RPCURLs[0])
		return assign(result, nil)
	case MethodRequestPermissions:
		return assign(result, []map[string]string{{"parentCapability": "eth_accounts"}})
	case MethodSendTransaction:
		var args TxArgs
		if err := decodeParam(params, &args); err != nil {
			return err
		}
		hash, err := p.sendTransaction(ctx, args)
		if err != nil {
			return err
		}
		return assign(result, hash.Hex())
	}
	return p.RPCClient().CallContext(ctx, result, method, params...)
}

func (p *KeyProvider) switchChain(ctx context.Context, chainID uint64) error {
	p.mu.RLock()
	cur := p.chainID
	url, ok := p.networks[chainID]
	p.mu.RUnlock()
	if chainID == cur {
		return nil
	}
	if !ok {
		return &ProviderError{Code: CodeUnknownChain, Message: fmt.Sprintf("unrecognized chain id %d", chainID)}
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return &ProviderError{Code: CodeChainDisconnected, Message: err.Error()}
	}
	id, err := ethclient.NewClient(client).ChainID(ctx)
	if err != nil || id.Uint64() != chainID {
		client.Close()
		return &ProviderError{Code: CodeChainDisconnected, Message: fmt.Sprintf("endpoint %s does not serve chain %d", url, chainID)}
	}

	p.mu.Lock()
	old := p.upstream
	p.upstream = client
	p.chainID = chainID
	p.mu.Unlock()
	old.Close()
	return nil
}

func (p *KeyProvider) sendTransaction(ctx context.Context, args TxArgs) (common.Hash, error) {
	if args.From != (common.Address{}) && args.From != p.account {
		return common.Hash{}, &ProviderError{Code: CodeUnauthorized, Message: "unknown sender " + args.From.Hex()}
	}
	p.mu.RLock()
	chainID := new(big.Int).SetUint64(p.chainID)
	p.mu.RUnlock()
	ec := ethclient.NewClient(p.RPCClient())

	nonce, err := ec.PendingNonceAt(ctx, p.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := ec.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}
	var gas uint64
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	} else {
		gas, err = ec.EstimateGas(ctx, ethereum.CallMsg{
			From:  p.account,
			To:    args.To,
			Data:  args.Data,
			Value: value,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       args.To,
		Value:    value,
		Data:     args.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

func decodeParam(params []interface{}, out interface{}) error {
	if len(params) == 0 {
		return &ProviderError{Code: -32602, Message: "missing params"}
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return &ProviderError{Code: -32602, Message: err.Error()}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Code: -32602, Message: err.Error()}
	}
	return nil
}

// assign copies v into result the same way a JSON-RPC response would.
func assign(result interface{}, v interface{}) error {
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}
