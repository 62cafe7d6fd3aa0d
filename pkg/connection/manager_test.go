package connection

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plstrdash/pkg/chaintest"
	"plstrdash/pkg/config"
	"plstrdash/pkg/contracts"
	"plstrdash/pkg/errs"
	"plstrdash/pkg/models"
	"plstrdash/pkg/refresh"
)

func testConfig(walletURL string, rpcURLs ...string) config.Config {
	cfg := config.Default()
	cfg.Wallet.URL = walletURL
	cfg.Chain.RPCURLs = rpcURLs
	cfg.Settings.ConnectTimeoutSeconds = 2
	cfg.Settings.ReceiptPollMillis = 10
	return cfg
}

func newManager(t *testing.T, cfg config.Config) (*Manager, *refresh.Token) {
	t.Helper()
	token := &refresh.Token{}
	m := NewManager(cfg, token, nil, nil)
	t.Cleanup(m.Disconnect)
	return m, token
}

func TestConnectWallet(t *testing.T) {
	node := chaintest.New(t)
	node.SetAccounts(chaintest.User)

	m, token := newManager(t, testConfig(node.URL))
	require.NoError(t, m.Connect(context.Background()))

	st := m.State()
	assert.Equal(t, models.StatusConnected, st.Status)
	assert.Equal(t, models.ModeWallet, st.Mode)
	assert.Equal(t, chaintest.User.Hex(), st.Account)
	assert.Equal(t, uint64(1), st.ChainID)
	assert.True(t, st.CanSign())
	assert.Equal(t, uint64(1), token.Value())

	_, err := m.Backend()
	assert.NoError(t, err)
}

func TestConnectRejected(t *testing.T) {
	node := chaintest.New(t)
	node.Fail("eth_requestAccounts", 4001, "User rejected the request.")
	rpcNode := chaintest.New(t)

	m, token := newManager(t, testConfig(node.URL, rpcNode.URL))
	err := m.Connect(context.Background())

	assert.True(t, errs.Is(err, errs.ConnectionRejected))
	assert.Equal(t, models.StatusError, m.State().Status)
	assert.Zero(t, token.Value())
	assert.Zero(t, rpcNode.Count("eth_chainId"))
}

func TestConnectFallsBackToReadOnly(t *testing.T) {
	walletNode := chaintest.New(t)
	walletNode.SetDown(true)
	dead := chaintest.New(t)
	dead.SetDown(true)
	rpcNode := chaintest.New(t)

	cfg := testConfig(walletNode.URL, dead.URL, rpcNode.URL)
	cfg.Wallet.WatchAddress = "0xab5801a7d398351b8be11c439e05c5b3259aec9b"
	m, token := newManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))

	st := m.State()
	assert.Equal(t, models.ModeReadOnly, st.Mode)
	assert.Equal(t, rpcNode.URL, st.Endpoint)
	assert.Equal(t, chaintest.User.Hex(), st.Account)
	assert.False(t, st.CanSign())
	assert.Equal(t, uint64(1), token.Value())

	_, err := m.SendTransaction(context.Background(), chaintest.PLSTR, []byte{1, 2, 3, 4})
	assert.True(t, errs.Is(err, errs.NoProviderAvailable))
}

func TestConnectAllRPCsTimeOut(t *testing.T) {
	var urls []string
	for i := 0; i < 3; i++ {
		n := chaintest.New(t)
		n.SetDelay(5 * time.Second)
		urls = append(urls, n.URL)
	}
	cfg := testConfig("", urls...)
	cfg.Settings.ConnectTimeoutSeconds = 1
	m, token := newManager(t, cfg)

	start := time.Now()
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NoProviderAvailable))
	assert.False(t, errs.KindOf(err).Recoverable())
	assert.Less(t, time.Since(start), 3*time.Second)

	st := m.State()
	assert.Equal(t, models.StatusError, st.Status)
	assert.Zero(t, st.ChainID)
	assert.Empty(t, st.Account)
	assert.Empty(t, st.Mode)
	assert.Zero(t, token.Value())
	_, err = m.Backend()
	assert.True(t, errs.Is(err, errs.NoProviderAvailable))
}

func TestEnsureChainAddsUnknownChain(t *testing.T) {
	node := chaintest.New(t)
	node.SetAccounts(chaintest.User)
	node.SetChainID(5)
	node.SetKnownChain(1, false)

	m, token := newManager(t, testConfig(node.URL))
	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, uint64(5), m.State().ChainID)
	before := token.Value()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx, 5*time.Millisecond)

	var mu sync.Mutex
	var seen []models.ConnectionState
	unsub := m.OnAccountOrChainChange(func(st models.ConnectionState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	})
	defer unsub()

	require.NoError(t, m.EnsureChain(context.Background(), 1))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, uint64(1), m.State().ChainID)
	assert.Equal(t, before+1, token.Value())
	assert.Equal(t, 1, node.Count("wallet_addEthereumChain"))
	assert.Equal(t, 2, node.Count("wallet_switchEthereumChain"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, uint64(1), seen[0].ChainID)
}

func TestEnsureChainDeclined(t *testing.T) {
	node := chaintest.New(t)
	node.SetAccounts(chaintest.User)
	node.SetChainID(5)
	node.Fail("wallet_switchEthereumChain", 4001, "User rejected the request.")

	m, token := newManager(t, testConfig(node.URL))
	require.NoError(t, m.Connect(context.Background()))
	before := token.Value()

	err := m.EnsureChain(context.Background(), 1)
	assert.True(t, errs.Is(err, errs.WrongNetwork))
	assert.Equal(t, uint64(5), m.State().ChainID)
	assert.Equal(t, before, token.Value())
}

func TestEnsureChainNoop(t *testing.T) {
	node := chaintest.New(t)
	node.SetAccounts(chaintest.User)

	m, token := newManager(t, testConfig(node.URL))
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.EnsureChain(context.Background(), 1))
	assert.Equal(t, uint64(1), token.Value())
	assert.Zero(t, node.Count("wallet_switchEthereumChain"))
}

func TestEnsureChainReadOnlyMismatch(t *testing.T) {
	node := chaintest.New(t)
	node.SetChainID(369)

	m, _ := newManager(t, testConfig("", node.URL))
	require.NoError(t, m.Connect(context.Background()))
	err := m.EnsureChain(context.Background(), 1)
	assert.True(t, errs.Is(err, errs.WrongNetwork))
}

func TestWatchDetectsAccountChange(t *testing.T) {
	node := chaintest.New(t)
	node.SetAccounts(chaintest.User)

	m, token := newManager(t, testConfig(node.URL))
	require.NoError(t, m.Connect(context.Background()))

	changes := make(chan models.ConnectionState, 4)
	unsub := m.OnAccountOrChainChange(func(st models.ConnectionState) { changes <- st })
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx, 5*time.Millisecond)

	node.SetAccounts(chaintest.Other)
	select {
	case st := <-changes:
		assert.Equal(t, chaintest.Other.Hex(), st.Account)
	case <-time.After(2 * time.Second):
		t.Fatal("no change observed")
	}
	assert.Equal(t, uint64(2), token.Value())
}

func TestRequestPermissions(t *testing.T) {
	node := chaintest.New(t)
	node.SetAccounts(chaintest.User)
	node.SetPermissionAccounts(chaintest.Other)

	m, token := newManager(t, testConfig(node.URL))
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.RequestPermissions(context.Background()))

	assert.Equal(t, chaintest.Other.Hex(), m.State().Account)
	assert.Equal(t, uint64(2), token.Value())

	node.Fail("wallet_requestPermissions", 4001, "User rejected the request.")
	err := m.RequestPermissions(context.Background())
	assert.True(t, errs.Is(err, errs.ConnectionRejected))
}

func TestSendAndWait(t *testing.T) {
	pair := chaintest.NewPair(t)

	m, _ := newManager(t, testConfig(pair.URL))
	require.NoError(t, m.Connect(context.Background()))

	data, err := contracts.PackIssueShares(chaintest.Ether(1))
	require.NoError(t, err)

	hash, err := m.SendTransaction(context.Background(), chaintest.PLSTR, data)
	require.NoError(t, err)
	receipt, err := m.WaitMined(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Status)

	sent := pair.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, chaintest.User, sent[0].From)
	assert.Equal(t, contracts.MethodIssueShares, sent[0].Method)

	pair.Revert(contracts.MethodIssueShares, true)
	hash, err = m.SendTransaction(context.Background(), chaintest.PLSTR, data)
	require.NoError(t, err)
	_, err = m.WaitMined(context.Background(), hash)
	assert.True(t, errs.Is(err, errs.TransactionFailed))

	pair.Fail("eth_sendTransaction", 4001, "User denied transaction signature.")
	_, err = m.SendTransaction(context.Background(), chaintest.PLSTR, data)
	assert.True(t, errs.Is(err, errs.TransactionRejected))
}

func TestWaitMinedHonoursContext(t *testing.T) {
	node := chaintest.New(t)
	node.SetAccounts(chaintest.User)
	m, _ := newManager(t, testConfig(node.URL))
	require.NoError(t, m.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.WaitMined(ctx, crypto.Keccak256Hash([]byte("never mined")))
	assert.True(t, errs.Is(err, errs.TransactionFailed))
}

func TestConnectWithKeyFile(t *testing.T) {
	pair := chaintest.NewPair(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "key.hex")
	require.NoError(t, os.WriteFile(keyFile, []byte(hex.EncodeToString(crypto.FromECDSA(key))+"\n"), 0600))
	signer := crypto.PubkeyToAddress(key.PublicKey)

	cfg := testConfig("", pair.URL)
	cfg.Wallet.PrivateKeyFile = keyFile
	m, _ := newManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))

	st := m.State()
	assert.Equal(t, models.ModeWallet, st.Mode)
	assert.Equal(t, signer.Hex(), st.Account)

	data, err := contracts.PackRedeemShares(chaintest.Ether(1))
	require.NoError(t, err)
	hash, err := m.SendTransaction(context.Background(), chaintest.PLSTR, data)
	require.NoError(t, err)
	_, err = m.WaitMined(context.Background(), hash)
	require.NoError(t, err)

	sent := pair.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, signer, sent[0].From)
	assert.Equal(t, hash, sent[0].Hash)
	assert.Equal(t, 1, pair.Count("eth_sendRawTransaction"))
}

func TestDisconnect(t *testing.T) {
	node := chaintest.New(t)
	node.SetAccounts(chaintest.User)
	m, _ := newManager(t, testConfig(node.URL))
	require.NoError(t, m.Connect(context.Background()))

	m.Disconnect()
	assert.Equal(t, models.StatusDisconnected, m.State().Status)
	_, err := m.Backend()
	assert.Error(t, err)
}

func TestDescriptor(t *testing.T) {
	m, _ := newManager(t, testConfig("", "http://rpc"))
	d := m.Descriptor()
	assert.Equal(t, uint64(1), uint64(d.ChainID))
	assert.Equal(t, "Ethereum", d.ChainName)
	assert.Equal(t, []string{"http://rpc"}, d.RPCURLs)
	assert.Equal(t, []string{"https://etherscan.io"}, d.BlockExplorerURLs)
	assert.Equal(t, 18, d.NativeCurrency.Decimals)
}
