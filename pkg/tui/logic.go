package tui

import (
	"fmt"
	"math/big"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"

	"plstrdash/pkg/errs"
	"plstrdash/pkg/models"
	"plstrdash/pkg/txn"
	"plstrdash/pkg/utils"
	"plstrdash/pkg/watcher"
)

var formTitles = map[models.TxKind]string{
	models.TxIssue:             "Issue PLSTR",
	models.TxRedeem:            "Redeem PLSTR",
	models.TxMint:              "Mint PLSTR",
	models.TxDeposit:           "Deposit vPLS",
	models.TxRecover:           "Recover Tokens",
	models.TxTransferOwnership: "Transfer Ownership",
}

func placeholder(kind models.TxKind, f txn.Field) string {
	switch f {
	case txn.FieldToken:
		return "Token address (0x...)"
	case txn.FieldRecipient:
		return "Recipient address (0x...)"
	case txn.FieldNewOwner:
		return "New owner address (0x...)"
	}
	switch kind {
	case models.TxIssue, models.TxDeposit:
		return "vPLS amount"
	case models.TxRecover:
		return "Amount"
	}
	return "PLSTR amount"
}

// visibleForms lists the forms shown for the connected account. Admin forms
// only appear for the contract owner.
func visibleForms(isOwner bool) []models.TxKind {
	if !isOwner {
		return []models.TxKind{models.TxIssue, models.TxRedeem}
	}
	return txn.Kinds
}

func (m model) isOwner() bool {
	return m.status.Account != nil && m.status.Account.IsOwner
}

func (m model) focusedKind() models.TxKind {
	forms := visibleForms(m.isOwner())
	if m.focus >= len(forms) {
		return forms[0]
	}
	return forms[m.focus]
}

// errorHint tells the user how to recover from err.
func errorHint(err error) string {
	switch errs.KindOf(err) {
	case errs.NoProviderAvailable:
		return "configure a wallet or RPC endpoint, then press C"
	case errs.WrongNetwork:
		return "press n to switch network"
	case errs.ConnectionTimeout, errs.ConnectionRejected:
		return "press C to connect again"
	case errs.ReadFailure:
		return "press r to retry"
	case errs.TransactionRejected, errs.TransactionFailed:
		return "press enter to retry"
	case errs.InvalidInput:
		return "fix the input and press enter"
	case errs.NotOwner:
		return "switch to the owner account with p"
	case errs.Busy:
		return "wait for the pending transaction"
	}
	return "press r to retry"
}

func renderError(err error) string {
	if err == nil {
		return ""
	}
	return errStyle.Render(err.Error()) + "\n" + subtleStyle.Render(errorHint(err))
}

func renderReadError(msg string) string {
	return errStyle.Render(msg) + "\n" + subtleStyle.Render(errorHint(errs.ErrReadFailure))
}

func connectionLine(st models.ConnectionState) string {
	switch st.Status {
	case models.StatusConnected:
		acct := "no account"
		if st.Account != "" {
			acct = utils.ShortenAddress(st.Account)
		}
		return fmt.Sprintf("%s • chain %d • %s • %s", st.Mode, st.ChainID, acct, utils.TruncateString(st.Endpoint, 32))
	case models.StatusConnecting:
		return "connecting..."
	case models.StatusError:
		return "connection failed"
	}
	return "disconnected"
}

func amountWithUnit(v *big.Int, decimals int, unit string) string {
	if v == nil {
		return ""
	}
	s := utils.ToDecimalDisplay(v, decimals)
	if unit != "" {
		s += " " + unit
	}
	return s
}

// recordLine renders one history row.
func recordLine(rec models.TransactionRecord, decimals int) string {
	amount := amountWithUnit(rec.Amount, decimals, rec.Unit)
	if rec.Counter != nil {
		label := "for"
		if rec.Kind == models.TxIssue {
			label = "fee"
		}
		amount += fmt.Sprintf(" (%s %s)", label, amountWithUnit(rec.Counter, decimals, rec.CounterUnit))
	}
	if rec.Party != "" {
		amount = strings.TrimSpace(amount + " " + utils.ShortenAddress(rec.Party))
	}
	when := "pending"
	if !rec.Timestamp.IsZero() {
		when = utils.FormatTime(rec.Timestamp)
	}
	return fmt.Sprintf("%-18s %-19s %-36s %-9s %s",
		string(rec.Kind),
		when,
		utils.TruncateString(amount, 36),
		rec.Status,
		utils.ShortenAddress(rec.TxHash),
	)
}

// ratioGraph plots the backing ratio history.
func ratioGraph(points []models.RatioPoint, width, height int) string {
	if len(points) < 2 {
		return subtleStyle.Render("Not enough data to draw graph.")
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	if width < 10 {
		width = 10
	}
	if height < 3 {
		height = 3
	}
	return asciigraph.Plot(values,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Precision(4),
		asciigraph.Caption("vPLS backing per PLSTR"),
	)
}

func listenForWatcher(sub watcher.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return ev
	}
}
