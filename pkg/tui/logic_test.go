package tui

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plstrdash/pkg/config"
	"plstrdash/pkg/contracts"
	"plstrdash/pkg/errs"
	"plstrdash/pkg/models"
	"plstrdash/pkg/refresh"
	"plstrdash/pkg/txn"
	"plstrdash/pkg/watcher"
)

type fakeConn struct {
	state    models.ConnectionState
	ensured  []uint64
	connects int
}

func (f *fakeConn) State() models.ConnectionState { return f.state }
func (f *fakeConn) Connect(context.Context) error  { f.connects++; return nil }
func (f *fakeConn) EnsureChain(_ context.Context, id uint64) error {
	f.ensured = append(f.ensured, id)
	return nil
}
func (f *fakeConn) RequestPermissions(context.Context) error { return nil }
func (f *fakeConn) OnAccountOrChainChange(func(models.ConnectionState)) func() {
	return func() {}
}

// Submissions never get far enough to use these.
func (f *fakeConn) SendTransaction(context.Context, common.Address, []byte) (common.Hash, error) {
	return common.Hash{}, errors.New("unexpected send")
}
func (f *fakeConn) WaitMined(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, errors.New("unexpected wait")
}

type noData struct{}

func (noData) GetContractSnapshot(context.Context) (models.ContractSnapshot, error) {
	return models.ContractSnapshot{}, errors.New("offline")
}
func (noData) GetAccountSnapshot(context.Context, string) (models.AccountSnapshot, error) {
	return models.AccountSnapshot{}, errors.New("offline")
}
func (noData) GetTransactionHistory(context.Context, string, int) ([]models.TransactionRecord, error) {
	return nil, errors.New("offline")
}

type fakeOwner struct{}

func (fakeOwner) IsOwner(context.Context, common.Address) (bool, error) { return false, nil }

type fakeQuoter struct{}

func (fakeQuoter) QuoteIssue(_ context.Context, amount *big.Int) (*big.Int, *big.Int, error) {
	fee := new(big.Int).Div(amount, big.NewInt(100))
	return new(big.Int).Sub(amount, fee), fee, nil
}
func (fakeQuoter) QuoteRedeem(_ context.Context, _ common.Address, shares *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(shares, big.NewInt(2)), nil
}

func newTestModel(t *testing.T, conn *fakeConn) model {
	t.Helper()
	token := &refresh.Token{}
	w := watcher.NewWatcher(noData{}, conn, token, time.Minute, 10, nil, nil)
	sub := txn.NewSubmitter(conn, fakeOwner{}, contracts.Addresses{}, 1, token, 18, nil, nil)
	cfg := config.Default()
	m := initialModel(Options{Watcher: w, Conn: conn, Submitter: sub, Quoter: fakeQuoter{}, Config: cfg})
	t.Cleanup(func() { w.Unsubscribe(m.sub) })
	return m
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(model)
	require.True(t, ok)
	return out, cmd
}

func typeText(t *testing.T, m model, s string) (model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, r := range s {
		m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m, cmd
}

func TestVisibleForms(t *testing.T) {
	assert.Equal(t, []models.TxKind{models.TxIssue, models.TxRedeem}, visibleForms(false))

	owner := visibleForms(true)
	assert.Len(t, owner, 6)
	assert.Contains(t, owner, models.TxTransferOwnership)
	assert.Contains(t, owner, models.TxRecover)
}

func TestErrorHint(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errs.E(errs.WrongNetwork, "connect", nil), "press n"},
		{errs.E(errs.ReadFailure, "read", errors.New("boom")), "press r"},
		{errs.E(errs.InvalidInput, "parse amount", nil), "fix the input"},
		{errs.E(errs.NotOwner, "mint", nil), "owner account"},
		{errs.E(errs.ConnectionRejected, "connect", nil), "press C"},
		{errors.New("plain"), "press r"},
	}
	for _, tt := range tests {
		assert.Contains(t, errorHint(tt.err), tt.want)
	}
}

func TestRecordLine(t *testing.T) {
	rec := models.TransactionRecord{
		Kind:        models.TxIssue,
		Amount:      big.NewInt(0).Mul(big.NewInt(5), big.NewInt(1e18)),
		Unit:        contracts.UnitVPLS,
		Counter:     big.NewInt(5e16),
		CounterUnit: contracts.UnitVPLS,
		Status:      models.TxConfirmed,
		Timestamp:   time.Unix(1_700_000_000, 0),
		TxHash:      "0x8f3a5b1c9d2e4f60718293a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4",
	}
	line := recordLine(rec, 18)
	assert.Contains(t, line, "Issue")
	assert.Contains(t, line, "5.00 vPLS")
	assert.Contains(t, line, "fee 0.05 vPLS")
	assert.Contains(t, line, "confirmed")

	pending := models.TransactionRecord{Kind: models.TxRedeem, Status: models.TxPending}
	assert.Contains(t, recordLine(pending, 18), "pending")
}

func TestRatioGraph(t *testing.T) {
	assert.Contains(t, ratioGraph(nil, 40, 5), "Not enough data")

	points := []models.RatioPoint{
		{Timestamp: time.Unix(1, 0), Value: 1.5},
		{Timestamp: time.Unix(2, 0), Value: 1.6},
		{Timestamp: time.Unix(3, 0), Value: 1.55},
	}
	g := ratioGraph(points, 40, 5)
	assert.Contains(t, g, "vPLS backing per PLSTR")
	assert.Greater(t, len(strings.Split(g, "\n")), 3)
}

func TestConnectionLine(t *testing.T) {
	assert.Equal(t, "disconnected", connectionLine(models.ConnectionState{}))
	line := connectionLine(models.ConnectionState{
		Status:   models.StatusConnected,
		Mode:     models.ModeReadOnly,
		ChainID:  1,
		Endpoint: "https://rpc.example",
	})
	assert.Contains(t, line, "read-only")
	assert.Contains(t, line, "no account")
}

func TestConnectSwitchesChainOnMismatch(t *testing.T) {
	conn := &fakeConn{state: models.ConnectionState{Status: models.StatusConnected, ChainID: 369}}
	m := newTestModel(t, conn)

	m, cmd := update(t, m, connectResultMsg{})
	require.NotNil(t, cmd)
	assert.False(t, m.connecting)

	msg := m.chainCmd()()
	assert.Equal(t, chainResultMsg{}, msg)
	assert.Equal(t, []uint64{1}, conn.ensured)
}

func TestConnectFailureIsShown(t *testing.T) {
	conn := &fakeConn{}
	m := newTestModel(t, conn)

	m, _ = update(t, m, connectResultMsg{err: errs.ErrConnectionRejected})
	assert.ErrorIs(t, m.actionErr, errs.ErrConnectionRejected)
	assert.Contains(t, m.viewTopBar(), "press C")
}

func TestFocusCycleHidesAdminForms(t *testing.T) {
	m := newTestModel(t, &fakeConn{})
	assert.Equal(t, models.TxIssue, m.focusedKind())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, models.TxRedeem, m.focusedKind())
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, models.TxIssue, m.focusedKind())

	assert.NotContains(t, m.viewForms(), "Mint PLSTR")
}

func TestTypingUpdatesFormAndQuotes(t *testing.T) {
	m := newTestModel(t, &fakeConn{})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, m.editing)

	m, cmd := typeText(t, m, "100")
	assert.Equal(t, "100", m.opts.Submitter.Form(models.TxIssue).Get(txn.FieldAmount))
	require.NotNil(t, cmd)

	q := m.quoteCmd(models.TxIssue, "100", m.quoteSeq[models.TxIssue])().(quoteMsg)
	require.NoError(t, q.err)
	assert.Contains(t, q.text, "99.00 PLSTR")
	assert.Contains(t, q.text, "fee 1.00 vPLS")

	m, _ = update(t, m, q)
	assert.Equal(t, q.text, m.quotes[models.TxIssue].text)

	// A quote for an older keystroke is dropped.
	stale := quoteMsg{kind: models.TxIssue, seq: 1, text: "old"}
	m, _ = update(t, m, stale)
	assert.Equal(t, q.text, m.quotes[models.TxIssue].text)
}

func TestQuoteRejectsBadInput(t *testing.T) {
	m := newTestModel(t, &fakeConn{})
	q := m.quoteCmd(models.TxIssue, "abc", 1)().(quoteMsg)
	assert.True(t, errs.Is(q.err, errs.InvalidInput))
}

func TestSubmitWithoutWalletFailsInline(t *testing.T) {
	m := newTestModel(t, &fakeConn{state: models.ConnectionState{Status: models.StatusConnected, Mode: models.ModeReadOnly}})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = typeText(t, m, "5")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.False(t, m.editing)

	res := m.submitCmd(models.TxIssue)().(txResultMsg)
	assert.True(t, errs.Is(res.err, errs.NoProviderAvailable))

	m, _ = update(t, m, res)
	f := m.opts.Submitter.Form(models.TxIssue)
	assert.Equal(t, models.TxFailed, f.State())
	assert.Equal(t, "5", m.inputs[models.TxIssue][0].Value())
	assert.Contains(t, m.viewForms(), "configure a wallet")
}

func TestEscLeavesEditing(t *testing.T) {
	m := newTestModel(t, &fakeConn{})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.editing)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	assert.True(t, m.showHelp)
	assert.Contains(t, m.View(), "Switch Network")
}
