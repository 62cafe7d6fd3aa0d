// Package connection owns the single ConnectionState of the process: which
// wallet or node is active, on which chain, for which account.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"plstrdash/pkg/config"
	"plstrdash/pkg/errs"
	"plstrdash/pkg/log"
	"plstrdash/pkg/metrics"
	"plstrdash/pkg/models"
	"plstrdash/pkg/probe"
	"plstrdash/pkg/refresh"
	"plstrdash/pkg/wallet"
)

// errNoWallet means no wallet endpoint or key is configured.
var errNoWallet = errors.New("no wallet configured")

// WalletDialer opens the configured wallet and names its endpoint. It
// returns NoWallet() when none is configured.
type WalletDialer func(ctx context.Context) (wallet.Provider, string, error)

// Manager is the Chain Connection Manager.
type Manager struct {
	cfg     config.Config
	token   *refresh.Token
	logger  *zap.Logger
	metrics *metrics.Metrics
	dial    WalletDialer

	// opMu serializes state transitions that talk to the provider so the
	// watch loop cannot interleave with a chain switch.
	opMu sync.Mutex

	mu       sync.RWMutex
	state    models.ConnectionState
	provider wallet.Provider
	endpoint *probe.Endpoint

	subMu   sync.Mutex
	subs    map[int]func(models.ConnectionState)
	nextSub int
}

// NewManager creates a disconnected manager.
func NewManager(cfg config.Config, token *refresh.Token, logger *zap.Logger, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		cfg:     cfg,
		token:   token,
		logger:  log.OrNop(logger),
		metrics: m,
		state:   models.ConnectionState{Status: models.StatusDisconnected},
		subs:    make(map[int]func(models.ConnectionState)),
	}
	mgr.dial = mgr.dialConfigured
	return mgr
}

// SetWalletDialer replaces how the wallet is opened (useful for testing).
func (m *Manager) SetWalletDialer(d WalletDialer) {
	m.dial = d
}

// NoWallet is returned by a WalletDialer when no wallet is configured.
func NoWallet() error { return errNoWallet }

func (m *Manager) dialConfigured(ctx context.Context) (wallet.Provider, string, error) {
	switch {
	case m.cfg.Wallet.PrivateKeyFile != "":
		key, err := wallet.LoadKeyFile(m.cfg.Wallet.PrivateKeyFile)
		if err != nil {
			return nil, "", err
		}
		ep, _, err := probe.FirstAvailable(ctx, m.cfg.Chain.RPCURLs, m.perAttempt())
		if err != nil {
			return nil, "", err
		}
		ep.Close()
		kp, err := wallet.NewKeyProvider(ctx, key, ep.URL)
		if err != nil {
			return nil, "", err
		}
		return kp, "key:" + kp.Account().Hex(), nil
	case m.cfg.Wallet.URL != "":
		p, err := wallet.Dial(ctx, m.cfg.Wallet.URL)
		if err != nil {
			return nil, "", err
		}
		return p, m.cfg.Wallet.URL, nil
	}
	return nil, "", errNoWallet
}

func (m *Manager) perAttempt() time.Duration {
	n := len(m.cfg.Chain.RPCURLs)
	if n == 0 {
		return m.cfg.ConnectTimeout()
	}
	return m.cfg.ConnectTimeout() / time.Duration(n)
}

// State returns a copy of the current connection state.
func (m *Manager) State() models.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Token returns the refresh token the manager bumps.
func (m *Manager) Token() *refresh.Token { return m.token }

// OnAccountOrChainChange registers cb for every committed state change. The
// returned func unsubscribes.
func (m *Manager) OnAccountOrChainChange(cb func(models.ConnectionState)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = cb
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) notify(st models.ConnectionState) {
	m.subMu.Lock()
	cbs := make([]func(models.ConnectionState), 0, len(m.subs))
	for _, cb := range m.subs {
		cbs = append(cbs, cb)
	}
	m.subMu.Unlock()
	for _, cb := range cbs {
		cb(st)
	}
}

func (m *Manager) bump() {
	m.metrics.SetRefreshToken(m.token.Bump())
}

// commit replaces the whole state and the active clients. Old clients are
// closed.
func (m *Manager) commit(st models.ConnectionState, p wallet.Provider, ep *probe.Endpoint) {
	m.mu.Lock()
	oldP, oldEp := m.provider, m.endpoint
	m.state, m.provider, m.endpoint = st, p, ep
	m.mu.Unlock()

	if oldP != nil && oldP != p {
		oldP.Close()
	}
	if oldEp != nil && oldEp != ep {
		oldEp.Close()
	}
}

// Connect opens the configured wallet, or the first answering fallback RPC
// in read-only mode. The whole attempt is bounded by the connect timeout.
func (m *Manager) Connect(ctx context.Context) error {
	const op = "Connect"
	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout())
	defer cancel()

	m.mu.Lock()
	m.state = models.ConnectionState{Status: models.StatusConnecting}
	m.mu.Unlock()
	m.notify(m.State())

	st, p, err := m.connectWallet(ctx)
	switch {
	case err == nil:
		m.metrics.RecordConnect(string(models.ModeWallet), nil)
		m.commit(st, p, nil)
		m.logger.Info("wallet connected", zap.String("endpoint", st.Endpoint), zap.Uint64("chain_id", st.ChainID), zap.String("account", st.Account))
		m.bump()
		m.notify(st)
		return nil
	case errs.KindOf(err) == errs.ConnectionRejected, errs.KindOf(err) == errs.ConnectionTimeout:
		m.metrics.RecordConnect(string(models.ModeWallet), err)
		return m.fail(err)
	case !errors.Is(err, errNoWallet):
		m.metrics.RecordConnect(string(models.ModeWallet), err)
		m.logger.Warn("wallet unreachable, trying fallback RPCs", zap.Error(err))
	}

	ep, failed, err := probe.FirstAvailable(ctx, m.cfg.Chain.RPCURLs, m.perAttempt())
	if err != nil {
		m.metrics.RecordConnect(string(models.ModeReadOnly), err)
		m.logger.Error("no RPC endpoint available", zap.Strings("failed", failed), zap.Error(err))
		return m.fail(errs.E(errs.NoProviderAvailable, op, err))
	}
	if len(failed) > 0 {
		m.logger.Warn("skipped failing RPCs", zap.Strings("failed", failed))
	}

	st = models.ConnectionState{
		Status:   models.StatusConnected,
		Mode:     models.ModeReadOnly,
		Endpoint: ep.URL,
		ChainID:  ep.ChainID,
	}
	if m.cfg.Wallet.WatchAddress != "" {
		st.Account = common.HexToAddress(m.cfg.Wallet.WatchAddress).Hex()
	}
	m.metrics.RecordConnect(string(models.ModeReadOnly), nil)
	m.commit(st, nil, ep)
	m.logger.Info("connected read-only", zap.String("endpoint", ep.URL), zap.Uint64("chain_id", ep.ChainID))
	m.bump()
	m.notify(st)
	return nil
}

func (m *Manager) fail(err error) error {
	st := models.ConnectionState{Status: models.StatusError, Err: err}
	m.commit(st, nil, nil)
	m.notify(st)
	return err
}

func (m *Manager) connectWallet(ctx context.Context) (models.ConnectionState, wallet.Provider, error) {
	const op = "Connect"
	p, endpoint, err := m.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return models.ConnectionState{}, nil, errs.E(errs.ConnectionTimeout, op, err)
		}
		return models.ConnectionState{}, nil, err
	}

	accounts, err := wallet.RequestAccounts(ctx, p)
	if err == nil && len(accounts) == 0 {
		err = &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "no accounts exposed"}
	}
	var chainID uint64
	if err == nil {
		chainID, err = wallet.ChainID(ctx, p)
	}
	if err != nil {
		p.Close()
		switch {
		case wallet.IsUserRejected(err):
			return models.ConnectionState{}, nil, errs.E(errs.ConnectionRejected, op, err)
		case ctx.Err() != nil:
			return models.ConnectionState{}, nil, errs.E(errs.ConnectionTimeout, op, err)
		}
		return models.ConnectionState{}, nil, err
	}

	return models.ConnectionState{
		Status:   models.StatusConnected,
		Mode:     models.ModeWallet,
		Endpoint: endpoint,
		ChainID:  chainID,
		Account:  accounts[0].Hex(),
	}, p, nil
}

// Descriptor is the wallet_addEthereumChain payload for the configured chain.
func (m *Manager) Descriptor() wallet.ChainDescriptor {
	d := wallet.ChainDescriptor{
		ChainID:   hexutil.Uint64(m.cfg.Chain.ChainID),
		ChainName: m.cfg.Chain.Name,
		NativeCurrency: wallet.NativeCurrency{
			Name:     m.cfg.Chain.Symbol,
			Symbol:   m.cfg.Chain.Symbol,
			Decimals: m.cfg.Chain.Decimals,
		},
		RPCURLs: m.cfg.Chain.RPCURLs,
	}
	if m.cfg.Chain.ExplorerURL != "" {
		d.BlockExplorerURLs = []string{m.cfg.Chain.ExplorerURL}
	}
	return d
}

// EnsureChain makes the wallet switch to expected, adding the chain first
// when the wallet does not know it. A successful switch bumps the refresh
// token exactly once.
func (m *Manager) EnsureChain(ctx context.Context, expected uint64) error {
	const op = "EnsureChain"
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	st, p := m.state, m.provider
	m.mu.RUnlock()

	if st.Status != models.StatusConnected {
		return errs.Errorf(errs.NoProviderAvailable, op, "not connected")
	}
	if st.ChainID == expected {
		return nil
	}
	if p == nil {
		return errs.Errorf(errs.WrongNetwork, op, "read-only endpoint is on chain %d, want %d", st.ChainID, expected)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout())
	defer cancel()

	err := wallet.SwitchChain(ctx, p, expected)
	if wallet.IsUnknownChain(err) {
		m.logger.Info("wallet does not know chain, adding it", zap.Uint64("chain_id", expected))
		d := m.Descriptor()
		d.ChainID = hexutil.Uint64(expected)
		if err = wallet.AddChain(ctx, p, d); err == nil {
			err = wallet.SwitchChain(ctx, p, expected)
		}
	}
	if err != nil {
		return errs.E(errs.WrongNetwork, op, err)
	}
	got, err := wallet.ChainID(ctx, p)
	if err != nil {
		return errs.E(errs.WrongNetwork, op, err)
	}
	if got != expected {
		return errs.Errorf(errs.WrongNetwork, op, "wallet reports chain %d after switching to %d", got, expected)
	}

	m.mu.Lock()
	changed := m.state.ChainID != expected
	m.state.ChainID = expected
	st = m.state
	m.mu.Unlock()
	if changed {
		m.bump()
		m.notify(st)
	}
	return nil
}

// RequestPermissions lets the user pick accounts again and adopts the new
// selection.
func (m *Manager) RequestPermissions(ctx context.Context) error {
	const op = "RequestPermissions"
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	p := m.provider
	m.mu.RUnlock()
	if p == nil {
		return errs.Errorf(errs.NoProviderAvailable, op, "no wallet connected")
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout())
	defer cancel()

	if err := wallet.RequestPermissions(ctx, p); err != nil {
		if ctx.Err() != nil {
			return errs.E(errs.ConnectionTimeout, op, err)
		}
		return errs.E(errs.ConnectionRejected, op, err)
	}
	return m.syncAccountAndChain(ctx, p)
}

// Watch polls the wallet (or read-only node) for account and chain changes
// until ctx ends.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	st, p, ep := m.state, m.provider, m.endpoint
	m.mu.RUnlock()
	if st.Status != models.StatusConnected {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout())
	defer cancel()

	if p != nil {
		if err := m.syncAccountAndChain(ctx, p); err != nil {
			m.logger.Debug("wallet poll failed", zap.Error(err))
		}
		return
	}
	if ep == nil {
		return
	}
	id, err := ep.Eth().ChainID(ctx)
	if err != nil {
		m.logger.Debug("endpoint poll failed", zap.String("endpoint", ep.URL), zap.Error(err))
		return
	}
	m.adopt(st.Account, id.Uint64())
}

func (m *Manager) syncAccountAndChain(ctx context.Context, p wallet.Provider) error {
	accounts, err := wallet.Accounts(ctx, p)
	if err != nil {
		return err
	}
	chainID, err := wallet.ChainID(ctx, p)
	if err != nil {
		return err
	}
	account := ""
	if len(accounts) > 0 {
		account = accounts[0].Hex()
	}
	m.adopt(account, chainID)
	return nil
}

// adopt commits account and chain when they differ from the current state.
func (m *Manager) adopt(account string, chainID uint64) {
	m.mu.Lock()
	if m.state.Account == account && m.state.ChainID == chainID {
		m.mu.Unlock()
		return
	}
	m.logger.Info("account or chain changed",
		zap.String("account", account), zap.Uint64("chain_id", chainID),
		zap.String("previous_account", m.state.Account), zap.Uint64("previous_chain_id", m.state.ChainID))
	m.state.Account = account
	m.state.ChainID = chainID
	st := m.state
	m.mu.Unlock()

	m.bump()
	m.notify(st)
}

// Disconnect closes the provider and resets the state.
func (m *Manager) Disconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	st := models.ConnectionState{Status: models.StatusDisconnected}
	m.commit(st, nil, nil)
	m.notify(st)
}

// Backend returns a client for reads through the active connection.
func (m *Manager) Backend() (*ethclient.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.provider != nil:
		return ethclient.NewClient(m.provider.RPCClient()), nil
	case m.endpoint != nil:
		return m.endpoint.Eth(), nil
	}
	return nil, errs.Errorf(errs.NoProviderAvailable, "Backend", "not connected")
}

// SendTransaction asks the wallet to sign and send a call to `to` from the
// active account.
func (m *Manager) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	const op = "SendTransaction"
	m.mu.RLock()
	st, p := m.state, m.provider
	m.mu.RUnlock()
	if p == nil || !st.CanSign() {
		return common.Hash{}, errs.Errorf(errs.NoProviderAvailable, op, "no wallet connected")
	}

	hash, err := wallet.SendTransaction(ctx, p, wallet.TxArgs{
		From: common.HexToAddress(st.Account),
		To:   &to,
		Data: data,
	})
	if err != nil {
		if wallet.IsUserRejected(err) {
			return common.Hash{}, errs.E(errs.TransactionRejected, op, err)
		}
		return common.Hash{}, errs.E(errs.TransactionFailed, op, err)
	}
	m.logger.Info("transaction sent", zap.String("hash", hash.Hex()), zap.String("to", to.Hex()))
	return hash, nil
}

// WaitMined polls for the receipt of hash. A reverted transaction yields
// TransactionFailed.
func (m *Manager) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	const op = "WaitMined"
	interval := m.cfg.ReceiptPoll()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		eth, err := m.Backend()
		if err != nil {
			return nil, errs.E(errs.TransactionFailed, op, err)
		}
		receipt, err := eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt.Status == types.ReceiptStatusFailed:
			return receipt, errs.Errorf(errs.TransactionFailed, op, "transaction %s reverted", hash.Hex())
		case err == nil:
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			m.logger.Debug("receipt poll failed", zap.String("hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, errs.E(errs.TransactionFailed, op, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err()))
		case <-ticker.C:
		}
	}
}
