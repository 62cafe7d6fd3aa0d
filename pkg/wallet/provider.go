// Package wallet talks to EIP-1193 style wallet providers over JSON-RPC.
package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Wallet methods.
const (
	MethodRequestAccounts    = "eth_requestAccounts"
	MethodAccounts           = "eth_accounts"
	MethodChainID            = "eth_chainId"
	MethodSwitchChain        = "wallet_switchEthereumChain"
	MethodAddChain           = "wallet_addEthereumChain"
	MethodRequestPermissions = "wallet_requestPermissions"
	MethodSendTransaction    = "eth_sendTransaction"
)

// Provider is the wallet boundary. Request mirrors EIP-1193 request().
type Provider interface {
	Request(ctx context.Context, result interface{}, method string, params ...interface{}) error
	// RPCClient returns the client reads should go through. It may change
	// after a chain switch.
	RPCClient() *rpc.Client
	Close()
}

// NativeCurrency is part of ChainDescriptor.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainDescriptor is the wallet_addEthereumChain payload.
type ChainDescriptor struct {
	ChainID           hexutil.Uint64 `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

// SwitchChainParams is the wallet_switchEthereumChain payload.
type SwitchChainParams struct {
	ChainID hexutil.Uint64 `json:"chainId"`
}

// TxArgs is the eth_sendTransaction payload.
type TxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
}

// RPCProvider is a wallet reachable at a JSON-RPC endpoint.
type RPCProvider struct {
	url    string
	client *rpc.Client
}

// Dial connects to a wallet endpoint (http, https, ws or wss).
func Dial(ctx context.Context, url string) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet %s: %w", url, err)
	}
	return &RPCProvider{url: url, client: client}, nil
}

func (p *RPCProvider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	return p.client.CallContext(ctx, result, method, params...)
}

func (p *RPCProvider) RPCClient() *rpc.Client { return p.client }

func (p *RPCProvider) Close() { p.client.Close() }

// URL returns the endpoint the provider was dialed with.
func (p *RPCProvider) URL() string { return p.url }

// RequestAccounts asks the wallet for account access.
func RequestAccounts(ctx context.Context, p Provider) ([]common.Address, error) {
	return accounts(ctx, p, MethodRequestAccounts)
}

// Accounts returns the accounts currently exposed without prompting.
func Accounts(ctx context.Context, p Provider) ([]common.Address, error) {
	return accounts(ctx, p, MethodAccounts)
}

func accounts(ctx context.Context, p Provider, method string) ([]common.Address, error) {
	var raw []string
	if err := p.Request(ctx, &raw, method); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, a := range raw {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("%s: invalid address %q", method, a)
		}
		out = append(out, common.HexToAddress(a))
	}
	return out, nil
}

// ChainID asks the provider for its current chain.
func ChainID(ctx context.Context, p Provider) (uint64, error) {
	var id hexutil.Big
	if err := p.Request(ctx, &id, MethodChainID); err != nil {
		return 0, err
	}
	return (*big.Int)(&id).Uint64(), nil
}

// SwitchChain sends wallet_switchEthereumChain.
func SwitchChain(ctx context.Context, p Provider, chainID uint64) error {
	return p.Request(ctx, nil, MethodSwitchChain, SwitchChainParams{ChainID: hexutil.Uint64(chainID)})
}

// AddChain sends wallet_addEthereumChain.
func AddChain(ctx context.Context, p Provider, d ChainDescriptor) error {
	return p.Request(ctx, nil, MethodAddChain, d)
}

// RequestPermissions asks the wallet to let the user pick accounts again.
func RequestPermissions(ctx context.Context, p Provider) error {
	return p.Request(ctx, nil, MethodRequestPermissions, map[string]interface{}{"eth_accounts": struct{}{}})
}

// SendTransaction sends eth_sendTransaction and returns the transaction hash.
func SendTransaction(ctx context.Context, p Provider, args TxArgs) (common.Hash, error) {
	var hash string
	if err := p.Request(ctx, &hash, MethodSendTransaction, args); err != nil {
		return common.Hash{}, err
	}
	if !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		return common.Hash{}, fmt.Errorf("%s: malformed hash %q", MethodSendTransaction, hash)
	}
	return common.HexToHash(hash), nil
}
