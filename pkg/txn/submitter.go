// Package txn builds, sends and tracks the state-changing contract calls.
package txn

import (
	"context"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"plstrdash/pkg/contracts"
	"plstrdash/pkg/errs"
	"plstrdash/pkg/log"
	"plstrdash/pkg/metrics"
	"plstrdash/pkg/models"
	"plstrdash/pkg/refresh"
	"plstrdash/pkg/utils"
)

// Sender signs and sends transactions from the connected account.
// *connection.Manager implements it.
type Sender interface {
	State() models.ConnectionState
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// OwnerChecker answers whether an account owns the contract.
type OwnerChecker interface {
	IsOwner(ctx context.Context, account common.Address) (bool, error)
}

// step is one transaction of a submission.
type step struct {
	name string
	to   common.Address
	data []byte
}

// Submitter is the Transaction Submitter.
type Submitter struct {
	sender   Sender
	owner    OwnerChecker
	addr     contracts.Addresses
	chainID  uint64
	token    *refresh.Token
	decimals int
	logger   *zap.Logger
	metrics  *metrics.Metrics

	forms map[models.TxKind]*Form

	mu       sync.Mutex
	onRecord []func(models.TransactionRecord)
}

// NewSubmitter creates one form per transaction kind. Transactions are only
// sent while the wallet is on chainID; zero accepts any chain.
func NewSubmitter(sender Sender, owner OwnerChecker, addr contracts.Addresses, chainID uint64, token *refresh.Token, decimals int, logger *zap.Logger, m *metrics.Metrics) *Submitter {
	s := &Submitter{
		sender:   sender,
		owner:    owner,
		addr:     addr,
		chainID:  chainID,
		token:    token,
		decimals: decimals,
		logger:   log.OrNop(logger),
		metrics:  m,
		forms:    make(map[models.TxKind]*Form),
	}
	for _, k := range Kinds {
		s.forms[k] = newForm(k)
	}
	return s
}

// Kinds lists every transaction kind in display order.
var Kinds = []models.TxKind{
	models.TxIssue,
	models.TxRedeem,
	models.TxMint,
	models.TxDeposit,
	models.TxRecover,
	models.TxTransferOwnership,
}

func (s *Submitter) Form(kind models.TxKind) *Form { return s.forms[kind] }

// OnRecord registers fn to receive optimistic records as submissions progress.
func (s *Submitter) OnRecord(fn func(models.TransactionRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRecord = append(s.onRecord, fn)
}

func (s *Submitter) emit(rec models.TransactionRecord) {
	s.mu.Lock()
	hooks := slices.Clone(s.onRecord)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(rec)
	}
}

// Submit sends the transaction described by the form's current inputs.
func (s *Submitter) Submit(ctx context.Context, kind models.TxKind) error {
	f := s.forms[kind]
	if f == nil {
		return errs.Errorf(errs.InvalidInput, "Submit", "unknown transaction kind %q", kind)
	}
	switch kind {
	case models.TxIssue:
		return s.IssueShares(ctx, f.Get(FieldAmount))
	case models.TxRedeem:
		return s.RedeemShares(ctx, f.Get(FieldAmount))
	case models.TxMint:
		return s.MintShares(ctx, f.Get(FieldAmount))
	case models.TxDeposit:
		return s.DepositBackingToken(ctx, f.Get(FieldAmount))
	case models.TxRecover:
		return s.RecoverTokens(ctx, f.Get(FieldToken), f.Get(FieldRecipient), f.Get(FieldAmount))
	}
	return s.TransferOwnership(ctx, f.Get(FieldNewOwner))
}

// IssueShares approves exactly amount vPLS for the PLSTR contract, waits for
// the approval, then issues shares. An approval is left in place when the
// issue fails.
func (s *Submitter) IssueShares(ctx context.Context, amount string) error {
	return s.run(ctx, models.TxIssue, map[Field]string{FieldAmount: amount}, func() ([]step, models.TransactionRecord, error) {
		v, err := utils.ParseAmount(amount, s.decimals)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		approve, err := contracts.PackApprove(s.addr.PLSTR, v)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		issue, err := contracts.PackIssueShares(v)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		return []step{
				{name: contracts.MethodApprove, to: s.addr.VPLS, data: approve},
				{name: contracts.MethodIssueShares, to: s.addr.PLSTR, data: issue},
			},
			models.TransactionRecord{Amount: v, Unit: contracts.UnitVPLS},
			nil
	})
}

func (s *Submitter) RedeemShares(ctx context.Context, shares string) error {
	return s.single(ctx, models.TxRedeem, shares, contracts.MethodRedeemShares, contracts.PackRedeemShares, contracts.UnitPLSTR)
}

func (s *Submitter) MintShares(ctx context.Context, amount string) error {
	return s.single(ctx, models.TxMint, amount, contracts.MethodMintShares, contracts.PackMintShares, contracts.UnitPLSTR)
}

// DepositBackingToken deposits vPLS into the contract.
func (s *Submitter) DepositBackingToken(ctx context.Context, amount string) error {
	return s.single(ctx, models.TxDeposit, amount, contracts.MethodDepositStakedPLS, contracts.PackDepositStakedPLS, contracts.UnitVPLS)
}

func (s *Submitter) RecoverTokens(ctx context.Context, token, recipient, amount string) error {
	values := map[Field]string{FieldToken: token, FieldRecipient: recipient, FieldAmount: amount}
	return s.run(ctx, models.TxRecover, values, func() ([]step, models.TransactionRecord, error) {
		tokenAddr, err := parseAddress(FieldToken, token)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		to, err := parseAddress(FieldRecipient, recipient)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		v, err := utils.ParseAmount(amount, s.decimals)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		data, err := contracts.PackRecoverTokens(tokenAddr, to, v)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		return []step{{name: contracts.MethodRecoverTokens, to: s.addr.PLSTR, data: data}},
			models.TransactionRecord{Amount: v, Party: tokenAddr.Hex()},
			nil
	})
}

func (s *Submitter) TransferOwnership(ctx context.Context, newOwner string) error {
	return s.run(ctx, models.TxTransferOwnership, map[Field]string{FieldNewOwner: newOwner}, func() ([]step, models.TransactionRecord, error) {
		to, err := parseAddress(FieldNewOwner, newOwner)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		data, err := contracts.PackTransferOwnership(to)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		return []step{{name: contracts.MethodTransferOwnership, to: s.addr.PLSTR, data: data}},
			models.TransactionRecord{Party: to.Hex()},
			nil
	})
}

func (s *Submitter) single(ctx context.Context, kind models.TxKind, amount, method string, pack func(*big.Int) ([]byte, error), unit string) error {
	return s.run(ctx, kind, map[Field]string{FieldAmount: amount}, func() ([]step, models.TransactionRecord, error) {
		v, err := utils.ParseAmount(amount, s.decimals)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		data, err := pack(v)
		if err != nil {
			return nil, models.TransactionRecord{}, err
		}
		return []step{{name: method, to: s.addr.PLSTR, data: data}},
			models.TransactionRecord{Amount: v, Unit: unit},
			nil
	})
}

func parseAddress(field Field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, errs.Errorf(errs.InvalidInput, "parse "+string(field), "%q is not an address", s)
	}
	return common.HexToAddress(s), nil
}

// run checks everything that can be checked locally, then drives the form
// through pending to a terminal state. build validates the inputs and must
// not touch the network. A submission refused before sending never goes
// pending and is not counted as a transaction.
func (s *Submitter) run(ctx context.Context, kind models.TxKind, values map[Field]string, build func() ([]step, models.TransactionRecord, error)) error {
	op := string(kind)
	f := s.forms[kind]
	if err := f.busy(); err != nil {
		return err
	}

	steps, rec, err := s.prepare(ctx, kind, build)
	if err != nil {
		if busy := f.reject(values, err); busy != nil {
			return busy
		}
		s.logger.Info("transaction not sent", zap.String("kind", op), zap.Error(err))
		return err
	}

	if err := f.begin(values); err != nil {
		return err
	}
	err = s.send(ctx, kind, f, steps, rec)
	if err != nil {
		s.logger.Warn("transaction failed", zap.String("kind", op), zap.Error(err))
		s.metrics.RecordTransaction(op, string(models.TxFailed))
		f.finish(err)
		return err
	}

	s.logger.Info("transaction confirmed", zap.String("kind", op))
	s.metrics.RecordTransaction(op, string(models.TxConfirmed))
	f.finish(nil)
	s.token.Bump()
	return nil
}

// prepare validates the inputs, the connection, the network and, for
// owner-only kinds, the connected account.
func (s *Submitter) prepare(ctx context.Context, kind models.TxKind, build func() ([]step, models.TransactionRecord, error)) ([]step, models.TransactionRecord, error) {
	op := string(kind)
	steps, rec, err := build()
	if err != nil {
		return nil, rec, errs.E(errs.InvalidInput, op, err)
	}

	st := s.sender.State()
	if !st.CanSign() {
		return nil, rec, errs.Errorf(errs.NoProviderAvailable, op, "connect a wallet to send transactions")
	}
	if s.chainID != 0 && st.ChainID != s.chainID {
		return nil, rec, errs.Errorf(errs.WrongNetwork, op, "wallet is on chain %d, expected %d", st.ChainID, s.chainID)
	}
	if kind.OwnerOnly() {
		account := common.HexToAddress(st.Account)
		isOwner, err := s.owner.IsOwner(ctx, account)
		if err != nil {
			return nil, rec, errs.E(errs.ReadFailure, op, err)
		}
		if !isOwner {
			return nil, rec, errs.Errorf(errs.NotOwner, op, "%s is not the contract owner", account.Hex())
		}
	}
	rec.Kind = kind
	return steps, rec, nil
}

// send runs the steps in order, waiting for each receipt.
func (s *Submitter) send(ctx context.Context, kind models.TxKind, f *Form, steps []step, rec models.TransactionRecord) error {
	op := string(kind)
	for i, stp := range steps {
		hash, err := s.sender.SendTransaction(ctx, stp.to, stp.data)
		if err != nil {
			return errs.E(errs.TransactionFailed, stp.name, err)
		}
		f.sent(hash)
		s.logger.Debug("transaction sent", zap.String("kind", op), zap.String("step", stp.name), zap.String("hash", hash.Hex()))

		last := i == len(steps)-1
		if last {
			rec.TxHash, rec.Status, rec.Timestamp = hash.Hex(), models.TxPending, time.Now()
			s.emit(rec)
		}

		receipt, err := s.sender.WaitMined(ctx, hash)
		if err != nil {
			if last {
				rec.Status = models.TxFailed
				s.emit(rec)
			}
			return errs.E(errs.TransactionFailed, stp.name, err)
		}
		if last {
			rec.Status = models.TxConfirmed
			if receipt != nil && receipt.BlockNumber != nil {
				rec.BlockNumber = receipt.BlockNumber.Uint64()
			}
			s.emit(rec)
		}
	}
	return nil
}
