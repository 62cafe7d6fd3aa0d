package tui

import (
	"context"
	"math/big"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"plstrdash/pkg/config"
	"plstrdash/pkg/log"
	"plstrdash/pkg/models"
	"plstrdash/pkg/txn"
	"plstrdash/pkg/watcher"
)

// Version is set by Start()
var Version = "dev"

// Connection is the part of the connection manager the dashboard drives.
type Connection interface {
	State() models.ConnectionState
	Connect(ctx context.Context) error
	EnsureChain(ctx context.Context, expected uint64) error
	RequestPermissions(ctx context.Context) error
}

// Quoter previews issue and redeem results.
type Quoter interface {
	QuoteIssue(ctx context.Context, amount *big.Int) (shares, fee *big.Int, err error)
	QuoteRedeem(ctx context.Context, account common.Address, shares *big.Int) (*big.Int, error)
}

// Options wires the dashboard to the rest of the process.
type Options struct {
	Watcher   *watcher.Watcher
	Conn      Connection
	Submitter *txn.Submitter
	Quoter    Quoter
	Config    config.Config
	Logger    *zap.Logger
}

// --- Messages ---

type clearStatusMsg struct{}
type uiTickMsg time.Time

type connectResultMsg struct{ err error }
type chainResultMsg struct{ err error }
type permissionsResultMsg struct{ err error }

type txResultMsg struct {
	kind models.TxKind
	err  error
}

type quoteMsg struct {
	kind models.TxKind
	seq  int
	text string
	err  error
}

// --- Model ---

type model struct {
	opts     Options
	decimals int
	logger   *zap.Logger

	width  int
	height int

	status     watcher.Status
	lastUpdate time.Time
	spinner    spinner.Model

	// focus indexes visibleForms(); editing means keys go to its inputs.
	focus    int
	editing  bool
	fieldIdx int
	inputs   map[models.TxKind][]textinput.Model

	quotes   map[models.TxKind]quoteMsg
	quoteSeq map[models.TxKind]int

	connecting    bool
	actionErr     error
	statusMessage string
	showHelp      bool
	sub           watcher.Subscriber
}

func initialModel(opts Options) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	decimals := opts.Config.Settings.TokenDecimals
	if decimals <= 0 {
		decimals = 18
	}

	inputs := make(map[models.TxKind][]textinput.Model, len(txn.Kinds))
	for _, kind := range txn.Kinds {
		fields := txn.FieldsFor(kind)
		tis := make([]textinput.Model, len(fields))
		for i, f := range fields {
			tis[i] = textinput.New()
			tis[i].Width = 44
			tis[i].Placeholder = placeholder(kind, f)
			tis[i].CharLimit = 78
		}
		inputs[kind] = tis
	}

	return model{
		opts:       opts,
		decimals:   decimals,
		logger:     log.OrNop(opts.Logger),
		spinner:    s,
		inputs:     inputs,
		quotes:     make(map[models.TxKind]quoteMsg),
		quoteSeq:   make(map[models.TxKind]int),
		connecting: true,
		sub:        opts.Watcher.Subscribe(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		listenForWatcher(m.sub),
		m.spinner.Tick,
		m.connectCmd(),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }),
	)
}
