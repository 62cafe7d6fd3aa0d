package contracts_test

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plstrdash/pkg/chaintest"
	"plstrdash/pkg/contracts"
	"plstrdash/pkg/errs"
	"plstrdash/pkg/models"
)

func newReader(t *testing.T, node *chaintest.Node) *contracts.Reader {
	t.Helper()
	client, err := ethclient.Dial(node.URL)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return contracts.NewReader(func() (contracts.Backend, error) { return client, nil }, contracts.Addresses{
		PLSTR:       chaintest.PLSTR,
		VPLS:        chaintest.VPLS,
		DeployBlock: 1,
	}, nil, nil)
}

func TestGetContractSnapshot(t *testing.T) {
	pair := chaintest.NewPair(t)
	pair.AddEvent(chaintest.PLSTR, contracts.EventSharesMinted, 10, 0, nil, chaintest.Ether(5), big.NewInt(1_700_000_100))
	pair.AddEvent(chaintest.PLSTR, contracts.EventSharesMinted, 12, 0, nil, chaintest.Ether(7), big.NewInt(1_700_000_300))
	pair.AddEvent(chaintest.PLSTR, contracts.EventStakedPLSDeposited, 11, 1, nil, chaintest.Ether(20), big.NewInt(1_700_000_200))

	r := newReader(t, pair.Node)
	snap, err := r.GetContractSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, chaintest.Ether(10), snap.TotalSupply)
	assert.Equal(t, "1500000000000000000", snap.BackingRatio.String())
	assert.Equal(t, chaintest.Ether(1500), snap.ContractTokenBalance)
	assert.Equal(t, int64(30), snap.RemainingIssuanceDays)
	assert.Equal(t, chaintest.Owner.Hex(), snap.Owner)
	assert.Equal(t, time.Unix(1_700_086_400, 0), snap.OwnerMintInfo.NextMintTime)
	assert.Equal(t, chaintest.Ether(12), snap.TotalMinted)
	assert.Equal(t, chaintest.Ether(20), snap.TotalDeposited)
	assert.Equal(t, time.Unix(1_700_000_300, 0), snap.LastMintTime)
	assert.Equal(t, time.Unix(1_700_000_200, 0), snap.LastDepositTime)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestGetContractSnapshotAllOrNothing(t *testing.T) {
	pair := chaintest.NewPair(t)
	pair.Fail(contracts.MethodGetOwnerMintInfo, 3, "execution reverted")

	r := newReader(t, pair.Node)
	snap, err := r.GetContractSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ReadFailure))
	assert.Equal(t, models.ContractSnapshot{}, snap)
}

func TestGetContractSnapshotBackendUnavailable(t *testing.T) {
	r := contracts.NewReader(func() (contracts.Backend, error) {
		return nil, errs.ErrNoProviderAvailable
	}, contracts.Addresses{PLSTR: chaintest.PLSTR, VPLS: chaintest.VPLS}, nil, nil)

	_, err := r.GetContractSnapshot(context.Background())
	assert.ErrorIs(t, err, errs.ErrNoProviderAvailable)
}

func TestGetAccountSnapshot(t *testing.T) {
	pair := chaintest.NewPair(t)
	r := newReader(t, pair.Node)

	snap, err := r.GetAccountSnapshot(context.Background(), strings.ToLower(chaintest.User.Hex()))
	require.NoError(t, err)
	assert.Equal(t, chaintest.User.Hex(), snap.Address)
	assert.Equal(t, chaintest.Ether(10), snap.PLSTRBalance)
	assert.Equal(t, chaintest.Ether(100), snap.VPLSBalance)
	assert.Equal(t, chaintest.Ether(10), snap.ShareBalance)
	assert.Equal(t, chaintest.Ether(15), snap.RedeemableVPLS)
	assert.Equal(t, chaintest.Ether(2), snap.NativeBalance)
	assert.False(t, snap.IsOwner)

	pair.SetOwner(chaintest.User)
	snap, err = r.GetAccountSnapshot(context.Background(), chaintest.User.Hex())
	require.NoError(t, err)
	assert.True(t, snap.IsOwner)
}

func TestGetAccountSnapshotRejectsBadAddress(t *testing.T) {
	pair := chaintest.NewPair(t)
	r := newReader(t, pair.Node)

	for _, addr := range []string{
		"",
		"0x1234",
		"not an address",
		"0xAB5801a7D398351b8bE11C439e05C5B3259aeC9B", // checksum broken
	} {
		_, err := r.GetAccountSnapshot(context.Background(), addr)
		assert.True(t, errs.Is(err, errs.ReadFailure), "address %q", addr)
	}
	assert.Zero(t, pair.Count("eth_call"))
}

func TestParseAccount(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want common.Address
	}{
		{chaintest.User.Hex(), true, chaintest.User},
		{strings.ToLower(chaintest.User.Hex()), true, chaintest.User},
		{"0x" + strings.ToUpper(chaintest.User.Hex()[2:]), true, chaintest.User},
		{"  " + chaintest.User.Hex() + " ", true, chaintest.User},
		{"0xab5801a7D398351b8bE11C439e05C5B3259aeC9b", false, common.Address{}},
		{"0x", false, common.Address{}},
	}
	for _, tt := range tests {
		got, err := contracts.ParseAccount(tt.in)
		if tt.ok {
			assert.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err, tt.in)
		}
	}
}

func TestQuotes(t *testing.T) {
	pair := chaintest.NewPair(t)
	r := newReader(t, pair.Node)

	shares, fee, err := r.QuoteIssue(context.Background(), chaintest.Ether(100))
	require.NoError(t, err)
	assert.Equal(t, chaintest.Ether(99), shares)
	assert.Equal(t, chaintest.Ether(1), fee)

	out, err := r.QuoteRedeem(context.Background(), chaintest.User, chaintest.Ether(4))
	require.NoError(t, err)
	assert.Equal(t, chaintest.Ether(6), out)

	owner, err := r.IsOwner(context.Background(), chaintest.Owner)
	require.NoError(t, err)
	assert.True(t, owner)
}

func TestPackCalls(t *testing.T) {
	data, err := contracts.PackApprove(chaintest.PLSTR, chaintest.Ether(1))
	require.NoError(t, err)
	m, err := contracts.ABI.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, contracts.MethodApprove, m.Name)

	data, err = contracts.PackRecoverTokens(chaintest.VPLS, chaintest.Other, chaintest.Ether(2))
	require.NoError(t, err)
	args, err := contracts.ABI.Methods[contracts.MethodRecoverTokens].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, chaintest.Other, args[1])
}
