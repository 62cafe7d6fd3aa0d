package chaintest

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"plstrdash/pkg/contracts"
)

// Well known addresses used across tests.
var (
	PLSTR = common.HexToAddress("0x6c1dA678A1B615f673208e74AB3510c22117090e")
	VPLS  = common.HexToAddress("0x0181e249c507d3b454dE2444444f0Bf5dBE72d09")
	Owner = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	User  = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	Other = common.HexToAddress("0x00000000000000000000000000000000000000B2")
)

// Ether returns v * 10^18.
func Ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000_000_000_000_000))
}

// Pair is a Node answering for both contracts with a small in-memory ledger.
// Confirmed issue/redeem transactions move balances.
type Pair struct {
	*Node

	mu       sync.Mutex
	ledger   map[common.Address]map[common.Address]*big.Int
	owner    common.Address
	ratio    *big.Int
	remain   *big.Int
	lastMint *big.Int
	nextMint *big.Int
}

// NewPair starts a node with the standard fixture: User holds 100 vPLS and
// 10 PLSTR, the contract holds 1500 vPLS, backing ratio 1.5, 30 days of
// issuance left.
func NewPair(t testing.TB) *Pair {
	p := &Pair{
		Node: New(t),
		ledger: map[common.Address]map[common.Address]*big.Int{
			PLSTR: {User: Ether(10)},
			VPLS:  {User: Ether(100), PLSTR: Ether(1500)},
		},
		owner:    Owner,
		ratio:    new(big.Int).Div(Ether(3), big.NewInt(2)),
		remain:   big.NewInt(30*86400 + 3600),
		lastMint: big.NewInt(1_700_000_000),
		nextMint: big.NewInt(1_700_086_400),
	}
	p.SetAccounts(User)
	p.SetBalance(User, Ether(2))
	p.install()
	p.OnSend(p.apply)
	return p
}

func (p *Pair) SetOwner(a common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner = a
}

func (p *Pair) SetRatio(r *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ratio = r
}

// TokenBalance returns the ledger balance of holder on token.
func (p *Pair) TokenBalance(token, holder common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance(token, holder)
}

func (p *Pair) balance(token, holder common.Address) *big.Int {
	if v, ok := p.ledger[token][holder]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (p *Pair) add(token, holder common.Address, delta *big.Int) {
	if p.ledger[token] == nil {
		p.ledger[token] = make(map[common.Address]*big.Int)
	}
	p.ledger[token][holder] = new(big.Int).Add(p.balance(token, holder), delta)
}

func (p *Pair) supply(token common.Address) *big.Int {
	total := new(big.Int)
	for _, v := range p.ledger[token] {
		total.Add(total, v)
	}
	return total
}

func fee(amount *big.Int) *big.Int {
	return new(big.Int).Div(amount, big.NewInt(100))
}

func (p *Pair) install() {
	p.Handle(contracts.MethodOwner, func(common.Address, []interface{}) ([]interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return []interface{}{p.owner}, nil
	})
	p.Handle(contracts.MethodTotalSupply, func(to common.Address, _ []interface{}) ([]interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return []interface{}{p.supply(to)}, nil
	})
	p.Handle(contracts.MethodBalanceOf, func(to common.Address, args []interface{}) ([]interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return []interface{}{p.balance(to, args[0].(common.Address))}, nil
	})
	p.Handle(contracts.MethodGetContractInfo, func(common.Address, []interface{}) ([]interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return []interface{}{p.balance(VPLS, PLSTR), p.remain}, nil
	})
	p.Handle(contracts.MethodGetVPLSBackingRatio, func(common.Address, []interface{}) ([]interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return []interface{}{p.ratio}, nil
	})
	p.Handle(contracts.MethodGetUserShareInfo, func(_ common.Address, args []interface{}) ([]interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return []interface{}{p.balance(PLSTR, args[0].(common.Address)), big.NewInt(1_700_000_000)}, nil
	})
	p.Handle(contracts.MethodGetRedeemableStakedPLS, func(_ common.Address, args []interface{}) ([]interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		shares := args[1].(*big.Int)
		out := new(big.Int).Mul(shares, p.ratio)
		return []interface{}{out.Div(out, Ether(1))}, nil
	})
	p.Handle(contracts.MethodGetOwnerMintInfo, func(common.Address, []interface{}) ([]interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return []interface{}{p.lastMint, p.nextMint}, nil
	})
	p.Handle(contracts.MethodCalculateSharesReceived, func(_ common.Address, args []interface{}) ([]interface{}, error) {
		amount := args[0].(*big.Int)
		f := fee(amount)
		return []interface{}{new(big.Int).Sub(amount, f), f}, nil
	})
}

// apply moves ledger balances for successful transactions.
func (p *Pair) apply(tx SentTx) {
	if tx.Status == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch tx.Method {
	case contracts.MethodIssueShares:
		amount := tx.Args[0].(*big.Int)
		p.add(VPLS, tx.From, new(big.Int).Neg(amount))
		p.add(VPLS, PLSTR, amount)
		p.add(PLSTR, tx.From, new(big.Int).Sub(amount, fee(amount)))
	case contracts.MethodRedeemShares:
		shares := tx.Args[0].(*big.Int)
		out := new(big.Int).Mul(shares, p.ratio)
		out.Div(out, Ether(1))
		p.add(PLSTR, tx.From, new(big.Int).Neg(shares))
		p.add(VPLS, PLSTR, new(big.Int).Neg(out))
		p.add(VPLS, tx.From, out)
	case contracts.MethodTransferOwnership:
		p.owner = tx.Args[0].(common.Address)
	}
}
