package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"plstrdash/pkg/models"
	"plstrdash/pkg/txn"
	"plstrdash/pkg/utils"
	"plstrdash/pkg/watcher"
)

// txTimeout bounds a whole submission including every receipt wait.
const txTimeout = 10 * time.Minute

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return clearStatusMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case watcher.Event:
		cmds = append(cmds, listenForWatcher(m.sub))
		m.status = m.opts.Watcher.GetStatus()
		m.lastUpdate = time.Now()
		if forms := visibleForms(m.isOwner()); m.focus >= len(forms) {
			m.blurAll()
			m.focus, m.editing = 0, false
		}

	case connectResultMsg:
		m.connecting = false
		m.actionErr = msg.err
		if msg.err != nil {
			m.logger.Warn("Connect failed", zap.Error(msg.err))
			break
		}
		expected := uint64(m.opts.Config.Chain.ChainID)
		if st := m.opts.Conn.State(); expected != 0 && st.ChainID != expected {
			m.statusMessage = fmt.Sprintf("Switching to chain %d...", expected)
			cmds = append(cmds, m.chainCmd())
		}

	case chainResultMsg:
		m.actionErr = msg.err
		if msg.err == nil {
			m.statusMessage = "Network switched"
			cmds = append(cmds, clearStatusAfter(2*time.Second))
		}

	case permissionsResultMsg:
		m.actionErr = msg.err
		if msg.err == nil {
			m.statusMessage = "Account permissions updated"
			cmds = append(cmds, clearStatusAfter(2*time.Second))
		}

	case txResultMsg:
		if msg.err == nil {
			for i := range m.inputs[msg.kind] {
				m.inputs[msg.kind][i].SetValue("")
			}
			delete(m.quotes, msg.kind)
			m.statusMessage = fmt.Sprintf("%s confirmed", formTitles[msg.kind])
		} else {
			m.statusMessage = fmt.Sprintf("%s failed", formTitles[msg.kind])
		}
		cmds = append(cmds, clearStatusAfter(3*time.Second))

	case quoteMsg:
		if msg.seq == m.quoteSeq[msg.kind] {
			m.quotes[msg.kind] = msg
		}

	case uiTickMsg:
		m.status = m.opts.Watcher.GetStatus()
		cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))

	case clearStatusMsg:
		m.statusMessage = ""

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		var cmd tea.Cmd
		m, cmd = m.handleKey(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.editing {
		return m.handleEditKey(msg)
	}
	if m.showHelp {
		switch msg.String() {
		case "q", "esc", "?":
			m.showHelp = false
		}
		return m, nil
	}

	forms := visibleForms(m.isOwner())
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "?":
		m.showHelp = true
	case "tab", "down", "j":
		m.focus = (m.focus + 1) % len(forms)
	case "shift+tab", "up", "k":
		m.focus = (m.focus - 1 + len(forms)) % len(forms)
	case "enter":
		kind := m.focusedKind()
		m.editing = true
		m.fieldIdx = 0
		cmd := m.inputs[kind][0].Focus()
		return m, cmd
	case "d":
		if f := m.form(m.focusedKind()); f != nil && f.State() != models.TxPending {
			f.Dismiss()
		}
	case "r":
		if m.status.Connection.Status == models.StatusError || m.status.Connection.Status == models.StatusDisconnected {
			return m.reconnect()
		}
		tok := m.opts.Watcher.Refresh()
		m.statusMessage = fmt.Sprintf("Refreshing (#%d)...", tok)
		return m, clearStatusAfter(2 * time.Second)
	case "C":
		return m.reconnect()
	case "n":
		m.statusMessage = "Switching network..."
		return m, m.chainCmd()
	case "p":
		m.statusMessage = "Requesting account access..."
		return m, m.permissionsCmd()
	case "c":
		acct := m.status.Connection.Account
		if acct == "" {
			m.statusMessage = "No account connected"
		} else if err := clipboard.WriteAll(acct); err != nil {
			m.statusMessage = "Failed to copy to clipboard"
		} else {
			m.statusMessage = "Account address copied to clipboard!"
		}
		return m, clearStatusAfter(2 * time.Second)
	case "o":
		if m.opts.Config.Chain.ExplorerURL == "" {
			m.statusMessage = "Explorer URL not configured"
			return m, clearStatusAfter(2 * time.Second)
		}
		return m, m.openExplorer()
	}
	return m, nil
}

func (m model) handleEditKey(msg tea.KeyMsg) (model, tea.Cmd) {
	kind := m.focusedKind()
	inputs := m.inputs[kind]

	switch msg.String() {
	case "esc":
		m.blurAll()
		m.editing = false
		return m, nil
	case "tab", "down":
		cmd := m.focusField((m.fieldIdx + 1) % len(inputs))
		return m, cmd
	case "shift+tab", "up":
		cmd := m.focusField((m.fieldIdx - 1 + len(inputs)) % len(inputs))
		return m, cmd
	case "enter":
		if m.fieldIdx < len(inputs)-1 {
			cmd := m.focusField(m.fieldIdx + 1)
			return m, cmd
		}
		return m.submit(kind)
	}

	var cmd tea.Cmd
	m.inputs[kind][m.fieldIdx], cmd = inputs[m.fieldIdx].Update(msg)
	value := m.inputs[kind][m.fieldIdx].Value()
	field := txn.FieldsFor(kind)[m.fieldIdx]

	f := m.form(kind)
	if f == nil {
		return m, cmd
	}
	if f.State() == models.TxPending {
		// Inputs are frozen while a submission is in flight.
		m.inputs[kind][m.fieldIdx].SetValue(f.Get(field))
		return m, cmd
	}
	f.Set(field, value)

	if field == txn.FieldAmount && (kind == models.TxIssue || kind == models.TxRedeem) {
		m.quoteSeq[kind]++
		return m, tea.Batch(cmd, m.quoteCmd(kind, value, m.quoteSeq[kind]))
	}
	return m, cmd
}

func (m *model) focusField(idx int) tea.Cmd {
	kind := m.focusedKind()
	m.inputs[kind][m.fieldIdx].Blur()
	m.fieldIdx = idx
	return m.inputs[kind][idx].Focus()
}

func (m *model) blurAll() {
	for kind := range m.inputs {
		for i := range m.inputs[kind] {
			m.inputs[kind][i].Blur()
		}
	}
}

func (m model) form(kind models.TxKind) *txn.Form {
	if m.opts.Submitter == nil {
		return nil
	}
	return m.opts.Submitter.Form(kind)
}

func (m model) submit(kind models.TxKind) (model, tea.Cmd) {
	f := m.form(kind)
	if f == nil {
		return m, nil
	}
	if f.State() == models.TxPending {
		m.statusMessage = "A transaction is already pending"
		return m, clearStatusAfter(2 * time.Second)
	}
	for i, field := range txn.FieldsFor(kind) {
		f.Set(field, m.inputs[kind][i].Value())
	}
	m.blurAll()
	m.editing = false
	m.statusMessage = fmt.Sprintf("Submitting %s...", strings.ToLower(formTitles[kind]))
	return m, m.submitCmd(kind)
}

func (m model) reconnect() (model, tea.Cmd) {
	m.connecting = true
	m.actionErr = nil
	m.statusMessage = "Connecting..."
	return m, m.connectCmd()
}

func (m model) openExplorer() tea.Cmd {
	base := strings.TrimRight(m.opts.Config.Chain.ExplorerURL, "/")
	target := m.opts.Config.Contracts.PLSTR
	if acct := m.status.Connection.Account; acct != "" {
		target = acct
	}
	url := fmt.Sprintf("%s/address/%s", base, target)
	return func() tea.Msg {
		if err := openBrowser(url); err != nil {
			m.logger.Warn("Failed to open browser", zap.String("url", url), zap.Error(err))
		}
		return nil
	}
}

// --- Commands ---

func (m model) connectTimeout() time.Duration {
	if d := m.opts.Config.ConnectTimeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}

func (m model) connectCmd() tea.Cmd {
	conn, timeout := m.opts.Conn, m.connectTimeout()
	return func() tea.Msg {
		// Connect tries the wallet and every fallback RPC, each with its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Duration(len(m.opts.Config.Chain.RPCURLs)+1))
		defer cancel()
		return connectResultMsg{err: conn.Connect(ctx)}
	}
}

func (m model) chainCmd() tea.Cmd {
	conn, timeout := m.opts.Conn, m.connectTimeout()
	expected := uint64(m.opts.Config.Chain.ChainID)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return chainResultMsg{err: conn.EnsureChain(ctx, expected)}
	}
}

func (m model) permissionsCmd() tea.Cmd {
	conn, timeout := m.opts.Conn, m.connectTimeout()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return permissionsResultMsg{err: conn.RequestPermissions(ctx)}
	}
}

func (m model) submitCmd(kind models.TxKind) tea.Cmd {
	sub := m.opts.Submitter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), txTimeout)
		defer cancel()
		return txResultMsg{kind: kind, err: sub.Submit(ctx, kind)}
	}
}

// quoteCmd previews the focused amount. Results carry seq so a slow quote for
// an older value never replaces a newer one.
func (m model) quoteCmd(kind models.TxKind, value string, seq int) tea.Cmd {
	q, decimals, timeout := m.opts.Quoter, m.decimals, m.connectTimeout()
	account := m.status.Connection.Account
	return func() tea.Msg {
		out := quoteMsg{kind: kind, seq: seq}
		if q == nil || strings.TrimSpace(value) == "" {
			return out
		}
		amount, err := utils.ParseAmount(value, decimals)
		if err != nil {
			out.err = err
			return out
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		switch kind {
		case models.TxIssue:
			shares, fee, err := q.QuoteIssue(ctx, amount)
			if err != nil {
				out.err = err
				return out
			}
			out.text = fmt.Sprintf("≈ %s PLSTR (fee %s vPLS)",
				utils.ToDecimalDisplay(shares, decimals), utils.ToDecimalDisplay(fee, decimals))
		case models.TxRedeem:
			if account == "" {
				return out
			}
			vpls, err := q.QuoteRedeem(ctx, common.HexToAddress(account), amount)
			if err != nil {
				out.err = err
				return out
			}
			out.text = fmt.Sprintf("≈ %s vPLS", utils.ToDecimalDisplay(vpls, decimals))
		}
		return out
	}
}
