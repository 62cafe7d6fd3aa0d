package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"plstrdash/pkg/models"
	"plstrdash/pkg/txn"
	"plstrdash/pkg/utils"
)

var fieldLabels = map[txn.Field]string{
	txn.FieldAmount:    "Amount",
	txn.FieldToken:     "Token",
	txn.FieldRecipient: "Recipient",
	txn.FieldNewOwner:  "New owner",
}

func (m model) View() string {
	if m.showHelp {
		return m.viewHelp()
	}

	targetWidth := m.width - 4
	if targetWidth < 40 {
		targetWidth = 40
	}
	half := targetWidth/2 - 1

	top := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Width(half).Render(m.viewContract()),
		boxStyle.Width(half).Render(m.viewAccount()),
	)
	middle := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Width(half).Render(m.viewGraph(half-4)),
		boxStyle.Width(half).Render(m.viewForms()),
	)
	history := boxStyle.Width(targetWidth).Render(m.viewHistory())

	footer := subtleStyle.Render(fmt.Sprintf(
		"tab:form • enter:edit • r:ref • C:conn • n:net • p:acct • c:cpy • o:exp • ?:hlp • q:quit • v%s", Version))
	if m.statusMessage != "" {
		footer = lipgloss.JoinVertical(lipgloss.Left, infoStyle.Render(m.statusMessage), footer)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewTopBar(),
		top,
		middle,
		history,
		footer,
	)
}

func (m model) viewTopBar() string {
	conn := m.status.Connection
	left := titleStyle.Render("PLSTR Dashboard") + " " + subtleStyle.Render(connectionLine(conn))
	if expected := uint64(m.opts.Config.Chain.ChainID); conn.Status == models.StatusConnected && expected != 0 && conn.ChainID != expected {
		left += " " + warnStyle.Render(fmt.Sprintf("wrong network (want %d, press n)", expected))
	}

	right := ""
	if m.connecting {
		right = m.spinner.View() + " connecting "
	} else if !m.lastUpdate.IsZero() {
		right = subtleStyle.Render(fmt.Sprintf("Last updated: %s ", m.lastUpdate.Format("15:04:05")))
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	bar := left + strings.Repeat(" ", gap) + right

	if err := m.actionErr; err != nil {
		bar = lipgloss.JoinVertical(lipgloss.Left, bar, renderError(err))
	} else if conn.Status == models.StatusError && conn.Err != nil {
		bar = lipgloss.JoinVertical(lipgloss.Left, bar, renderError(conn.Err))
	}
	return bar
}

// loadingOr shows a spinner only while nothing, not even an error, has arrived
// for a connected session.
func (m model) loadingOr(what string) string {
	if m.status.Connection.Status != models.StatusConnected {
		return subtleStyle.Render("Not connected")
	}
	return m.spinner.View() + " Loading " + what + "..."
}

func staleTag(stale bool) string {
	if !stale {
		return ""
	}
	return " " + warnStyle.Render("(stale)")
}

func (m model) viewContract() string {
	header := tableHeaderStyle.Render("Contract") + staleTag(m.status.ContractStale)
	c := m.status.Contract
	if c == nil {
		if m.status.ContractError != "" {
			return lipgloss.JoinVertical(lipgloss.Left, header, renderReadError(m.status.ContractError))
		}
		return lipgloss.JoinVertical(lipgloss.Left, header, m.loadingOr("contract"))
	}

	lines := []string{
		header,
		fmt.Sprintf("%-18s %s PLSTR", "Total supply", utils.ToDecimalDisplay(c.TotalSupply, m.decimals)),
		fmt.Sprintf("%-18s %s vPLS", "Backing", utils.ToDecimalDisplay(c.ContractTokenBalance, m.decimals)),
		fmt.Sprintf("%-18s %s", "Ratio", infoStyle.Render(utils.RatioDisplay(c.BackingRatio))),
		fmt.Sprintf("%-18s %d days", "Issuance left", c.RemainingIssuanceDays),
		fmt.Sprintf("%-18s %s", "Last mint", utils.FormatTime(c.OwnerMintInfo.LastMintTime)),
		fmt.Sprintf("%-18s %s", "Next mint", utils.FormatTime(c.OwnerMintInfo.NextMintTime)),
		fmt.Sprintf("%-18s %s", "Owner", utils.ShortenAddress(c.Owner)),
	}
	if m.isOwner() {
		lines = append(lines,
			fmt.Sprintf("%-18s %s PLSTR", "Total minted", utils.ToDecimalDisplay(c.TotalMinted, m.decimals)),
			fmt.Sprintf("%-18s %s vPLS", "Total deposited", utils.ToDecimalDisplay(c.TotalDeposited, m.decimals)),
		)
	}
	if m.status.ContractError != "" {
		lines = append(lines, renderReadError(m.status.ContractError))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m model) viewAccount() string {
	header := tableHeaderStyle.Render("Account") + staleTag(m.status.AccountStale)
	if m.status.Connection.Account == "" {
		return lipgloss.JoinVertical(lipgloss.Left, header, subtleStyle.Render("No account connected (press p)"))
	}
	a := m.status.Account
	if a == nil {
		if m.status.AccountError != "" {
			return lipgloss.JoinVertical(lipgloss.Left, header, renderReadError(m.status.AccountError))
		}
		return lipgloss.JoinVertical(lipgloss.Left, header, m.loadingOr("account"))
	}

	role := "holder"
	if a.IsOwner {
		role = infoStyle.Render("owner")
	}
	lines := []string{
		header,
		fmt.Sprintf("%-18s %s (%s)", "Address", utils.ShortenAddress(a.Address), role),
		fmt.Sprintf("%-18s %s", m.opts.Config.Chain.Symbol, utils.ToDecimalDisplay(a.NativeBalance, m.opts.Config.Chain.Decimals)),
		fmt.Sprintf("%-18s %s", "PLSTR", utils.ToDecimalDisplay(a.PLSTRBalance, m.decimals)),
		fmt.Sprintf("%-18s %s", "vPLS", utils.ToDecimalDisplay(a.VPLSBalance, m.decimals)),
		fmt.Sprintf("%-18s %s vPLS", "Redeemable", utils.ToDecimalDisplay(a.RedeemableVPLS, m.decimals)),
	}
	if m.status.AccountError != "" {
		lines = append(lines, renderReadError(m.status.AccountError))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m model) viewGraph(width int) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		tableHeaderStyle.Render("Backing Ratio"),
		ratioGraph(m.status.Ratios, width-8, 6),
	)
}

func (m model) viewForms() string {
	forms := visibleForms(m.isOwner())
	var tabs []string
	for i, kind := range forms {
		label := formTitles[kind]
		if i == m.focus {
			tabs = append(tabs, titleStyle.Render(label))
		} else {
			tabs = append(tabs, subtleStyle.Render(label))
		}
	}

	kind := m.focusedKind()
	lines := []string{strings.Join(tabs, " ")}
	if !m.isOwner() && m.status.Account != nil {
		lines[0] += subtleStyle.Render("  (admin actions hidden)")
	}

	for i, f := range txn.FieldsFor(kind) {
		lines = append(lines, fmt.Sprintf("%-10s %s", fieldLabels[f], m.inputs[kind][i].View()))
	}

	if q, ok := m.quotes[kind]; ok {
		if q.err != nil {
			lines = append(lines, renderError(q.err))
		} else if q.text != "" {
			lines = append(lines, infoStyle.Render(q.text))
		}
	}

	if f := m.form(kind); f != nil {
		switch f.State() {
		case models.TxPending:
			line := m.spinner.View() + " Pending"
			if hashes := f.Hashes(); len(hashes) > 0 {
				line += " " + utils.ShortenAddress(hashes[len(hashes)-1].Hex())
			}
			lines = append(lines, line)
		case models.TxConfirmed:
			lines = append(lines, infoStyle.Render("Confirmed")+subtleStyle.Render(" (d to dismiss)"))
		case models.TxFailed:
			lines = append(lines, renderError(f.Err()))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m model) viewHistory() string {
	header := tableHeaderStyle.Render(fmt.Sprintf("%-18s %-19s %-36s %-9s %s", "TYPE", "TIME", "AMOUNT", "STATUS", "TX"))
	if m.status.Connection.Account == "" {
		return lipgloss.JoinVertical(lipgloss.Left, header, subtleStyle.Render("Connect an account to see its history"))
	}

	var rows []string
	for _, rec := range m.status.History {
		line := recordLine(rec, m.decimals)
		switch rec.Status {
		case models.TxPending:
			line = warnStyle.Render(line)
		case models.TxFailed:
			line = errStyle.Render(line)
		}
		rows = append(rows, line)
	}
	if len(rows) == 0 {
		if m.status.HistoryError == "" {
			rows = append(rows, subtleStyle.Render("No transactions yet"))
		}
	}
	if m.status.HistoryError != "" {
		rows = append(rows, renderReadError(m.status.HistoryError))
	}
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{header}, rows...)...)
}

func (m model) viewHelp() string {
	title := "Dashboard"
	shortcuts := []string{
		"tab/j/↓: Next Form",
		"S-tab/k/↑: Prev Form",
		"enter: Edit Form / Submit On Last Field",
		"esc: Stop Editing",
		"d: Dismiss Form Result",
		"r: Refresh (reconnects when offline)",
		"C: Connect",
		"n: Switch Network",
		"p: Request Account Access",
		"c: Copy Account Address",
		"o: Open In Explorer",
		"q: Quit",
		"?: Toggle Help",
	}

	header := titleStyle.Render(fmt.Sprintf("Help: %s", title))
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", strings.Join(shortcuts, "\n")))
	footer := subtleStyle.Render("Press '?' or 'esc' to close")

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
	)
}
