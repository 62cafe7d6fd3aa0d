package server

import (
	"math/big"
	"time"

	"plstrdash/pkg/models"
	"plstrdash/pkg/utils"
	"plstrdash/pkg/watcher"
)

// Amounts leave the API as exact decimal strings.

type contractView struct {
	TotalSupply           string    `json:"total_supply"`
	BackingRatio          string    `json:"backing_ratio"`
	ContractTokenBalance  string    `json:"contract_token_balance"`
	RemainingIssuanceDays int64     `json:"remaining_issuance_days"`
	Owner                 string    `json:"owner"`
	LastMintTime          time.Time `json:"last_mint_time"`
	NextMintTime          time.Time `json:"next_mint_time"`
	TotalMinted           string    `json:"total_minted"`
	TotalDeposited        string    `json:"total_deposited"`
	LastOwnerMint         time.Time `json:"last_owner_mint"`
	LastOwnerDeposit      time.Time `json:"last_owner_deposit"`
	FetchedAt             time.Time `json:"fetched_at"`
}

type accountView struct {
	Address        string    `json:"address"`
	PLSTRBalance   string    `json:"plstr_balance"`
	VPLSBalance    string    `json:"vpls_balance"`
	ShareBalance   string    `json:"share_balance"`
	RedeemableVPLS string    `json:"redeemable_vpls"`
	NativeBalance  string    `json:"native_balance"`
	IsOwner        bool      `json:"is_owner"`
	FetchedAt      time.Time `json:"fetched_at"`
}

type recordView struct {
	Kind        models.TxKind   `json:"kind"`
	Amount      string          `json:"amount,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Counter     string          `json:"counter,omitempty"`
	CounterUnit string          `json:"counter_unit,omitempty"`
	Party       string          `json:"party,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      models.TxStatus `json:"status"`
	TxHash      string          `json:"tx_hash,omitempty"`
	BlockNumber uint64          `json:"block_number,omitempty"`
}

type statusView struct {
	Connection      models.ConnectionState `json:"connection"`
	ConnectionError string                 `json:"connection_error,omitempty"`
	RefreshToken    uint64                 `json:"refresh_token"`
	Contract        *contractView          `json:"contract"`
	ContractError   string                 `json:"contract_error,omitempty"`
	ContractStale   bool                   `json:"contract_stale"`
	Account         *accountView           `json:"account"`
	AccountError    string                 `json:"account_error,omitempty"`
	AccountStale    bool                   `json:"account_stale"`
	History         []recordView           `json:"history"`
	HistoryError    string                 `json:"history_error,omitempty"`
	HistoryStale    bool                   `json:"history_stale"`
	Ratios          []models.RatioPoint    `json:"ratios"`
	ExpectedChainID uint64                 `json:"expected_chain_id,omitempty"`
	WrongNetwork    bool                   `json:"wrong_network"`
}

type eventView struct {
	Type  watcher.EventType `json:"type"`
	Token uint64            `json:"token"`
	Data  interface{}       `json:"data,omitempty"`
}

const ratioDecimals = 18

func units(v *big.Int, decimals int) string {
	return utils.FormatUnits(v, decimals)
}

func newContractView(c *models.ContractSnapshot, decimals int) *contractView {
	if c == nil {
		return nil
	}
	return &contractView{
		TotalSupply:           units(c.TotalSupply, decimals),
		BackingRatio:          units(c.BackingRatio, ratioDecimals),
		ContractTokenBalance:  units(c.ContractTokenBalance, decimals),
		RemainingIssuanceDays: c.RemainingIssuanceDays,
		Owner:                 c.Owner,
		LastMintTime:          c.OwnerMintInfo.LastMintTime,
		NextMintTime:          c.OwnerMintInfo.NextMintTime,
		TotalMinted:           units(c.TotalMinted, decimals),
		TotalDeposited:        units(c.TotalDeposited, decimals),
		LastOwnerMint:         c.LastMintTime,
		LastOwnerDeposit:      c.LastDepositTime,
		FetchedAt:             c.FetchedAt,
	}
}

func newAccountView(a *models.AccountSnapshot, decimals int) *accountView {
	if a == nil {
		return nil
	}
	return &accountView{
		Address:        a.Address,
		PLSTRBalance:   units(a.PLSTRBalance, decimals),
		VPLSBalance:    units(a.VPLSBalance, decimals),
		ShareBalance:   units(a.ShareBalance, decimals),
		RedeemableVPLS: units(a.RedeemableVPLS, decimals),
		NativeBalance:  units(a.NativeBalance, 18),
		IsOwner:        a.IsOwner,
		FetchedAt:      a.FetchedAt,
	}
}

func newRecordView(r models.TransactionRecord, decimals int) recordView {
	return recordView{
		Kind:        r.Kind,
		Amount:      units(r.Amount, decimals),
		Unit:        r.Unit,
		Counter:     units(r.Counter, decimals),
		CounterUnit: r.CounterUnit,
		Party:       r.Party,
		Timestamp:   r.Timestamp,
		Status:      r.Status,
		TxHash:      r.TxHash,
		BlockNumber: r.BlockNumber,
	}
}

func newRecordViews(records []models.TransactionRecord, decimals int) []recordView {
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		out = append(out, newRecordView(r, decimals))
	}
	return out
}

func newStatusView(st watcher.Status, decimals int) statusView {
	ratios := st.Ratios
	if ratios == nil {
		ratios = []models.RatioPoint{}
	}
	return statusView{
		Connection:      st.Connection,
		ConnectionError: st.ConnectionError,
		RefreshToken:    st.Token,
		Contract:        newContractView(st.Contract, decimals),
		ContractError:   st.ContractError,
		ContractStale:   st.ContractStale,
		Account:         newAccountView(st.Account, decimals),
		AccountError:    st.AccountError,
		AccountStale:    st.AccountStale,
		History:         newRecordViews(st.History, decimals),
		HistoryError:    st.HistoryError,
		HistoryStale:    st.HistoryStale,
		Ratios:          ratios,
		ExpectedChainID: st.ExpectedChainID,
		WrongNetwork:    st.WrongNetwork,
	}
}

func newEventView(ev watcher.Event, decimals int) eventView {
	out := eventView{Type: ev.Type, Token: ev.Token, Data: ev.Data}
	switch d := ev.Data.(type) {
	case models.ContractSnapshot:
		out.Data = newContractView(&d, decimals)
	case models.AccountSnapshot:
		out.Data = newAccountView(&d, decimals)
	case models.TransactionRecord:
		out.Data = newRecordView(d, decimals)
	case []models.TransactionRecord:
		out.Data = newRecordViews(d, decimals)
	}
	return out
}
