package contracts_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plstrdash/pkg/chaintest"
	"plstrdash/pkg/contracts"
	"plstrdash/pkg/models"
)

func TestHistoryLimitAndOrdering(t *testing.T) {
	pair := chaintest.NewPair(t)

	// 15 events for User: two per block, the last block holds one.
	for i := 0; i < 15; i++ {
		block := uint64(200 + i/2)
		index := uint(i % 2)
		pair.AddEvent(chaintest.PLSTR, contracts.EventSharesIssued, block, index,
			[]common.Address{chaintest.User}, chaintest.Ether(int64(i+1)), big.NewInt(0), big.NewInt(int64(1_700_000_000+i)))
	}
	// noise from another account
	pair.AddEvent(chaintest.PLSTR, contracts.EventSharesIssued, 300, 0,
		[]common.Address{chaintest.Other}, chaintest.Ether(99), big.NewInt(0), big.NewInt(1_800_000_000))

	r := newReader(t, pair.Node)
	got, err := r.GetTransactionHistory(context.Background(), chaintest.User.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, got, 10)

	type key struct {
		block uint64
		index uint
	}
	want := []key{
		{207, 0},
		{206, 0}, {206, 1},
		{205, 0}, {205, 1},
		{204, 0}, {204, 1},
		{203, 0}, {203, 1},
		{202, 0},
	}
	for i, rec := range got {
		assert.Equal(t, want[i], key{rec.BlockNumber, rec.LogIndex}, "record %d", i)
		assert.Equal(t, models.TxIssue, rec.Kind)
		assert.Equal(t, models.TxConfirmed, rec.Status)
		assert.Equal(t, contracts.UnitPLSTR, rec.Unit)
	}
	assert.Equal(t, chaintest.Ether(15), got[0].Amount)
	assert.Equal(t, time.Unix(1_700_000_014, 0), got[0].Timestamp)
}

func TestHistoryDefaultLimit(t *testing.T) {
	pair := chaintest.NewPair(t)
	for i := 0; i < 12; i++ {
		pair.AddEvent(chaintest.PLSTR, contracts.EventSharesRedeemed, uint64(50+i), 0,
			[]common.Address{chaintest.User}, chaintest.Ether(1), chaintest.Ether(2), big.NewInt(1_700_000_000))
	}
	r := newReader(t, pair.Node)
	got, err := r.GetTransactionHistory(context.Background(), chaintest.User.Hex(), 0)
	require.NoError(t, err)
	assert.Len(t, got, contracts.DefaultHistoryLimit)
	assert.Equal(t, models.TxRedeem, got[0].Kind)
	assert.Equal(t, chaintest.Ether(2), got[0].Amount)
	assert.Equal(t, contracts.UnitVPLS, got[0].Unit)
}

func TestHistoryOwnerEvents(t *testing.T) {
	pair := chaintest.NewPair(t)
	pair.AddEvent(chaintest.PLSTR, contracts.EventSharesMinted, 20, 0, nil, chaintest.Ether(5), big.NewInt(1_700_000_100))
	pair.AddEvent(chaintest.PLSTR, contracts.EventStakedPLSDeposited, 21, 0, nil, chaintest.Ether(6), big.NewInt(1_700_000_200))
	pair.AddEvent(chaintest.PLSTR, contracts.EventTokensRecovered, 22, 0,
		[]common.Address{chaintest.VPLS, chaintest.Owner}, chaintest.Ether(1), big.NewInt(1_700_000_300))
	pair.AddEvent(chaintest.PLSTR, contracts.EventOwnershipTransferred, 23, 0,
		[]common.Address{chaintest.Owner, chaintest.Other})
	pair.SetBlockTime(23, 1_700_000_400)

	r := newReader(t, pair.Node)

	// User is neither owner nor party.
	got, err := r.GetTransactionHistory(context.Background(), chaintest.User.Hex(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.GetTransactionHistory(context.Background(), chaintest.Owner.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, models.TxTransferOwnership, got[0].Kind)
	assert.Equal(t, chaintest.Other.Hex(), got[0].Party)
	assert.Equal(t, time.Unix(1_700_000_400, 0), got[0].Timestamp)
	assert.Equal(t, models.TxRecover, got[1].Kind)
	assert.Equal(t, chaintest.VPLS.Hex(), got[1].Party)
	assert.Equal(t, models.TxDeposit, got[2].Kind)
	assert.Equal(t, models.TxMint, got[3].Kind)

	// the new owner sees the transfer
	got, err = r.GetTransactionHistory(context.Background(), chaintest.Other.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.TxTransferOwnership, got[0].Kind)
}

func TestSortRecordsPendingFirst(t *testing.T) {
	recs := []models.TransactionRecord{
		{Kind: models.TxIssue, BlockNumber: 5, LogIndex: 1},
		{Kind: models.TxRedeem, BlockNumber: 5, LogIndex: 0},
		{Kind: models.TxMint, Status: models.TxPending},
		{Kind: models.TxDeposit, BlockNumber: 9},
	}
	contracts.SortRecords(recs)
	assert.Equal(t, []models.TxKind{models.TxMint, models.TxDeposit, models.TxRedeem, models.TxIssue},
		[]models.TxKind{recs[0].Kind, recs[1].Kind, recs[2].Kind, recs[3].Kind})
}
