package contracts

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"plstrdash/pkg/errs"
	"plstrdash/pkg/models"
)

// DefaultHistoryLimit is used when a non-positive limit is requested.
const DefaultHistoryLimit = 10

// Units shown next to amounts.
const (
	UnitPLSTR = "PLSTR"
	UnitVPLS  = "vPLS"
)

var historyEvents = []string{
	EventSharesIssued,
	EventSharesRedeemed,
	EventSharesMinted,
	EventStakedPLSDeposited,
	EventTokensRecovered,
	EventOwnershipTransferred,
}

type event struct {
	name   string
	fields map[string]interface{}
	log    types.Log
}

func (e *event) big(name string) *big.Int {
	if v, ok := e.fields[name].(*big.Int); ok {
		return v
	}
	return new(big.Int)
}

func (e *event) addr(name string) common.Address {
	if v, ok := e.fields[name].(common.Address); ok {
		return v
	}
	return common.Address{}
}

func decodeEvent(l types.Log) (*event, error) {
	if len(l.Topics) == 0 {
		return nil, fmt.Errorf("log without topics")
	}
	ev, err := ABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	if len(l.Data) > 0 {
		if err := ABI.UnpackIntoMap(fields, ev.Name, l.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
	}
	topic := 1
	for _, in := range ev.Inputs {
		if !in.Indexed {
			continue
		}
		if topic >= len(l.Topics) {
			return nil, fmt.Errorf("%s: missing topic for %s", ev.Name, in.Name)
		}
		fields[in.Name] = common.BytesToAddress(l.Topics[topic].Bytes())
		topic++
	}
	return &event{name: ev.Name, fields: fields, log: l}, nil
}

func (r *Reader) filterLogs(ctx context.Context, b Backend, names ...string) ([]types.Log, error) {
	ids := make([]common.Hash, 0, len(names))
	for _, n := range names {
		ids = append(ids, EventID(n))
	}
	logs, err := b.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.addr.DeployBlock),
		Addresses: []common.Address{r.addr.PLSTR},
		Topics:    [][]common.Hash{ids},
	})
	r.metrics.RecordRead("eth_getLogs", err)
	if err != nil {
		return nil, errs.E(errs.ReadFailure, "eth_getLogs", err)
	}
	return logs, nil
}

// GetTransactionHistory returns up to limit records involving address, most
// recently mined first. Mint and deposit events are included when address
// owns the contract.
func (r *Reader) GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.TransactionRecord, error) {
	const op = "GetTransactionHistory"
	account, err := ParseAccount(address)
	if err != nil {
		return nil, errs.E(errs.ReadFailure, op, err)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	b, err := r.currentBackend(op)
	if err != nil {
		return nil, err
	}
	owner, err := r.owner(ctx, b)
	if err != nil {
		return nil, errs.E(errs.ReadFailure, op, err)
	}
	logs, err := r.filterLogs(ctx, b, historyEvents...)
	if err != nil {
		return nil, errs.E(errs.ReadFailure, op, err)
	}

	records := make([]models.TransactionRecord, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := decodeEvent(l)
		if err != nil {
			r.logger.Warn("skipping undecodable log", zap.String("tx", l.TxHash.Hex()), zap.Error(err))
			continue
		}
		if rec, ok := toRecord(ev, account, owner == account); ok {
			records = append(records, rec)
		}
	}

	SortRecords(records)
	if len(records) > limit {
		records = records[:limit]
	}

	for i := range records {
		if !records[i].Timestamp.IsZero() {
			continue
		}
		ts, err := r.blockTime(ctx, b, records[i].BlockNumber)
		if err != nil {
			return nil, errs.E(errs.ReadFailure, op, err)
		}
		records[i].Timestamp = ts
	}
	return records, nil
}

// SortRecords orders records newest block first, keeping log order inside a
// block. Records without a block (pending) come first.
func SortRecords(records []models.TransactionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if (a.BlockNumber == 0) != (b.BlockNumber == 0) {
			return a.BlockNumber == 0
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber > b.BlockNumber
		}
		return a.LogIndex < b.LogIndex
	})
}

func toRecord(ev *event, account common.Address, isOwner bool) (models.TransactionRecord, bool) {
	rec := models.TransactionRecord{
		Status:      models.TxConfirmed,
		TxHash:      ev.log.TxHash.Hex(),
		BlockNumber: ev.log.BlockNumber,
		LogIndex:    ev.log.Index,
	}
	if _, ok := ev.fields["timestamp"]; ok {
		rec.Timestamp = unixTime(ev.big("timestamp"))
	}

	switch ev.name {
	case EventSharesIssued:
		if ev.addr("buyer") != account {
			return rec, false
		}
		rec.Kind = models.TxIssue
		rec.Amount, rec.Unit = ev.big("shares"), UnitPLSTR
		rec.Counter, rec.CounterUnit = ev.big("fee"), UnitVPLS
	case EventSharesRedeemed:
		if ev.addr("redeemer") != account {
			return rec, false
		}
		rec.Kind = models.TxRedeem
		rec.Amount, rec.Unit = ev.big("stakedPLS"), UnitVPLS
		rec.Counter, rec.CounterUnit = ev.big("shares"), UnitPLSTR
	case EventSharesMinted:
		if !isOwner {
			return rec, false
		}
		rec.Kind = models.TxMint
		rec.Amount, rec.Unit = ev.big("amount"), UnitPLSTR
	case EventStakedPLSDeposited:
		if !isOwner {
			return rec, false
		}
		rec.Kind = models.TxDeposit
		rec.Amount, rec.Unit = ev.big("amount"), UnitVPLS
	case EventTokensRecovered:
		if ev.addr("recipient") != account && !isOwner {
			return rec, false
		}
		rec.Kind = models.TxRecover
		rec.Amount = ev.big("amount")
		rec.Party = ev.addr("token").Hex()
	case EventOwnershipTransferred:
		if ev.addr("previousOwner") != account && ev.addr("newOwner") != account {
			return rec, false
		}
		rec.Kind = models.TxTransferOwnership
		rec.Party = ev.addr("newOwner").Hex()
	default:
		return rec, false
	}
	return rec, true
}

func (r *Reader) blockTime(ctx context.Context, b Backend, number uint64) (time.Time, error) {
	r.mu.Lock()
	ts, ok := r.blockTimes[number]
	r.mu.Unlock()
	if ok {
		return ts, nil
	}
	header, err := b.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	r.metrics.RecordRead("eth_getBlockByNumber", err)
	if err != nil {
		return time.Time{}, errs.E(errs.ReadFailure, "eth_getBlockByNumber", err)
	}
	ts = time.Unix(int64(header.Time), 0)
	r.mu.Lock()
	r.blockTimes[number] = ts
	r.mu.Unlock()
	return ts, nil
}
