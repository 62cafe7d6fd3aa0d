package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plstrdash/pkg/errs"
	"plstrdash/pkg/log"
	"plstrdash/pkg/metrics"
	"plstrdash/pkg/models"
	"plstrdash/pkg/utils"
)

// Backend is the subset of *ethclient.Client the reader needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// BackendFunc returns the backend of the active connection.
type BackendFunc func() (Backend, error)

// Addresses of the deployed pair.
type Addresses struct {
	PLSTR       common.Address
	VPLS        common.Address
	DeployBlock uint64
}

// Reader is the read facade over both contracts. It is stateless apart from
// a block time cache; every call reads through the current backend.
type Reader struct {
	backend BackendFunc
	addr    Addresses
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	blockTimes map[uint64]time.Time
}

// NewReader creates a Reader. logger and m may be nil.
func NewReader(backend BackendFunc, addr Addresses, logger *zap.Logger, m *metrics.Metrics) *Reader {
	return &Reader{
		backend:    backend,
		addr:       addr,
		logger:     log.OrNop(logger),
		metrics:    m,
		blockTimes: make(map[uint64]time.Time),
	}
}

// Addresses returns the configured contract addresses.
func (r *Reader) Addresses() Addresses { return r.addr }

// ParseAccount validates a user supplied address. Mixed case input must carry
// a valid EIP-55 checksum.
func ParseAccount(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, fmt.Errorf("address is empty")
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(s)
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if addr.Hex()[2:] != body {
			return common.Address{}, fmt.Errorf("bad checksum for %q", s)
		}
	}
	return addr, nil
}

func (r *Reader) call(ctx context.Context, b Backend, to common.Address, method string, args ...interface{}) (out []interface{}, err error) {
	defer func() {
		r.metrics.RecordRead(method, err)
		if err != nil {
			r.logger.Debug("contract read failed", zap.String("method", method), zap.String("to", to.Hex()), zap.Error(err))
		}
	}()

	data, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, errs.E(errs.ReadFailure, method, err)
	}
	raw, err := b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errs.E(errs.ReadFailure, method, err)
	}
	if len(raw) == 0 {
		return nil, errs.Errorf(errs.ReadFailure, method, "empty result from %s", to.Hex())
	}
	out, err = ABI.Unpack(method, raw)
	if err != nil {
		return nil, errs.E(errs.ReadFailure, method, err)
	}
	return out, nil
}

func (r *Reader) callBig(ctx context.Context, b Backend, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := r.call(ctx, b, to, method, args...)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0, method)
}

func (r *Reader) callBigPair(ctx context.Context, b Backend, to common.Address, method string, args ...interface{}) (*big.Int, *big.Int, error) {
	out, err := r.call(ctx, b, to, method, args...)
	if err != nil {
		return nil, nil, err
	}
	first, err := bigAt(out, 0, method)
	if err != nil {
		return nil, nil, err
	}
	second, err := bigAt(out, 1, method)
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

func bigAt(out []interface{}, i int, method string) (*big.Int, error) {
	if len(out) <= i {
		return nil, errs.Errorf(errs.ReadFailure, method, "missing output %d", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, errs.Errorf(errs.ReadFailure, method, "output %d is %T", i, out[i])
	}
	return v, nil
}

func (r *Reader) currentBackend(op string) (Backend, error) {
	b, err := r.backend()
	if err != nil {
		return nil, errs.E(errs.ReadFailure, op, err)
	}
	return b, nil
}

// Owner returns the PLSTR contract owner.
func (r *Reader) Owner(ctx context.Context) (common.Address, error) {
	b, err := r.currentBackend(MethodOwner)
	if err != nil {
		return common.Address{}, err
	}
	return r.owner(ctx, b)
}

func (r *Reader) owner(ctx context.Context, b Backend) (common.Address, error) {
	out, err := r.call(ctx, b, r.addr.PLSTR, MethodOwner)
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errs.Errorf(errs.ReadFailure, MethodOwner, "output is %T", out[0])
	}
	return owner, nil
}

// IsOwner reports whether account owns the PLSTR contract.
func (r *Reader) IsOwner(ctx context.Context, account common.Address) (bool, error) {
	owner, err := r.Owner(ctx)
	if err != nil {
		return false, err
	}
	return owner == account, nil
}

// GetContractSnapshot reads every contract wide value in parallel. The
// snapshot is returned only when all reads succeed.
func (r *Reader) GetContractSnapshot(ctx context.Context) (models.ContractSnapshot, error) {
	const op = "GetContractSnapshot"
	b, err := r.currentBackend(op)
	if err != nil {
		return models.ContractSnapshot{}, err
	}

	var snap models.ContractSnapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.TotalSupply, err = r.callBig(gctx, b, r.addr.PLSTR, MethodTotalSupply)
		return err
	})
	g.Go(func() (err error) {
		snap.BackingRatio, err = r.callBig(gctx, b, r.addr.PLSTR, MethodGetVPLSBackingRatio)
		return err
	})
	g.Go(func() (err error) {
		snap.ContractTokenBalance, err = r.callBig(gctx, b, r.addr.VPLS, MethodBalanceOf, r.addr.PLSTR)
		return err
	})
	g.Go(func() error {
		_, remaining, err := r.callBigPair(gctx, b, r.addr.PLSTR, MethodGetContractInfo)
		if err != nil {
			return err
		}
		snap.RemainingIssuanceDays = utils.WholeDays(remaining)
		return nil
	})
	g.Go(func() error {
		last, next, err := r.callBigPair(gctx, b, r.addr.PLSTR, MethodGetOwnerMintInfo)
		if err != nil {
			return err
		}
		snap.OwnerMintInfo = models.OwnerMintInfo{LastMintTime: unixTime(last), NextMintTime: unixTime(next)}
		return nil
	})
	g.Go(func() error {
		owner, err := r.owner(gctx, b)
		if err != nil {
			return err
		}
		snap.Owner = owner.Hex()
		return nil
	})
	g.Go(func() error {
		return r.mintDepositTotals(gctx, b, &snap)
	})

	if err := g.Wait(); err != nil {
		return models.ContractSnapshot{}, errs.E(errs.ReadFailure, op, err)
	}
	snap.FetchedAt = time.Now()
	return snap, nil
}

func (r *Reader) mintDepositTotals(ctx context.Context, b Backend, snap *models.ContractSnapshot) error {
	logs, err := r.filterLogs(ctx, b, EventSharesMinted, EventStakedPLSDeposited)
	if err != nil {
		return err
	}
	minted, deposited := new(big.Int), new(big.Int)
	var lastMint, lastDeposit time.Time
	for _, l := range logs {
		ev, err := decodeEvent(l)
		if err != nil {
			r.logger.Warn("skipping undecodable log", zap.String("tx", l.TxHash.Hex()), zap.Error(err))
			continue
		}
		ts := unixTime(ev.big("timestamp"))
		switch ev.name {
		case EventSharesMinted:
			minted.Add(minted, ev.big("amount"))
			if ts.After(lastMint) {
				lastMint = ts
			}
		case EventStakedPLSDeposited:
			deposited.Add(deposited, ev.big("amount"))
			if ts.After(lastDeposit) {
				lastDeposit = ts
			}
		}
	}
	snap.TotalMinted = minted
	snap.TotalDeposited = deposited
	snap.LastMintTime = lastMint
	snap.LastDepositTime = lastDeposit
	return nil
}

// GetAccountSnapshot reads balances for address.
func (r *Reader) GetAccountSnapshot(ctx context.Context, address string) (models.AccountSnapshot, error) {
	const op = "GetAccountSnapshot"
	account, err := ParseAccount(address)
	if err != nil {
		return models.AccountSnapshot{}, errs.E(errs.ReadFailure, op, err)
	}
	b, err := r.currentBackend(op)
	if err != nil {
		return models.AccountSnapshot{}, err
	}

	snap := models.AccountSnapshot{Address: account.Hex()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.PLSTRBalance, err = r.callBig(gctx, b, r.addr.PLSTR, MethodBalanceOf, account)
		return err
	})
	g.Go(func() (err error) {
		snap.VPLSBalance, err = r.callBig(gctx, b, r.addr.VPLS, MethodBalanceOf, account)
		return err
	})
	g.Go(func() error {
		shares, _, err := r.callBigPair(gctx, b, r.addr.PLSTR, MethodGetUserShareInfo, account)
		if err != nil {
			return err
		}
		snap.ShareBalance = shares
		snap.RedeemableVPLS, err = r.callBig(gctx, b, r.addr.PLSTR, MethodGetRedeemableStakedPLS, account, shares)
		return err
	})
	g.Go(func() error {
		bal, err := b.BalanceAt(gctx, account, nil)
		r.metrics.RecordRead("eth_getBalance", err)
		if err != nil {
			return errs.E(errs.ReadFailure, "eth_getBalance", err)
		}
		snap.NativeBalance = bal
		return nil
	})
	g.Go(func() error {
		owner, err := r.owner(gctx, b)
		if err != nil {
			return err
		}
		snap.IsOwner = owner == account
		return nil
	})

	if err := g.Wait(); err != nil {
		return models.AccountSnapshot{}, errs.E(errs.ReadFailure, op, err)
	}
	snap.FetchedAt = time.Now()
	return snap, nil
}

// QuoteIssue returns the shares and fee the contract would give for amount
// vPLS.
func (r *Reader) QuoteIssue(ctx context.Context, amount *big.Int) (shares, fee *big.Int, err error) {
	b, err := r.currentBackend(MethodCalculateSharesReceived)
	if err != nil {
		return nil, nil, err
	}
	return r.callBigPair(ctx, b, r.addr.PLSTR, MethodCalculateSharesReceived, amount)
}

// QuoteRedeem returns the vPLS account would receive for redeeming shares.
func (r *Reader) QuoteRedeem(ctx context.Context, account common.Address, shares *big.Int) (*big.Int, error) {
	b, err := r.currentBackend(MethodGetRedeemableStakedPLS)
	if err != nil {
		return nil, err
	}
	return r.callBig(ctx, b, r.addr.PLSTR, MethodGetRedeemableStakedPLS, account, shares)
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() <= 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0)
}
