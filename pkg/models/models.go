package models

import (
	"math/big"
	"time"
)

// ConnectionStatus is the lifecycle of the wallet/RPC connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ConnectionMode tells whether transactions can be signed.
type ConnectionMode string

const (
	ModeNone     ConnectionMode = ""
	ModeWallet   ConnectionMode = "wallet"
	ModeReadOnly ConnectionMode = "read-only"
)

// ConnectionState is owned by the connection manager and handed out by value.
type ConnectionState struct {
	Status   ConnectionStatus `json:"status"`
	Mode     ConnectionMode   `json:"mode,omitempty"`
	Endpoint string           `json:"endpoint,omitempty"`
	ChainID  uint64           `json:"chain_id,omitempty"`
	Account  string           `json:"account,omitempty"`
	Err      error            `json:"-"`
}

// CanSign reports whether transactions can be sent from Account.
func (s ConnectionState) CanSign() bool {
	return s.Status == StatusConnected && s.Mode == ModeWallet && s.Account != ""
}

// OwnerMintInfo mirrors getOwnerMintInfo.
type OwnerMintInfo struct {
	LastMintTime time.Time `json:"last_mint_time"`
	NextMintTime time.Time `json:"next_mint_time"`
}

// ContractSnapshot is a point-in-time read of both contracts. It is replaced
// wholesale on every refresh and never mutated after construction.
type ContractSnapshot struct {
	TotalSupply           *big.Int      `json:"total_supply"`
	BackingRatio          *big.Int      `json:"backing_ratio"`
	ContractTokenBalance  *big.Int      `json:"contract_token_balance"`
	RemainingIssuanceDays int64         `json:"remaining_issuance_days"`
	OwnerMintInfo         OwnerMintInfo `json:"owner_mint_info"`
	Owner                 string        `json:"owner"`
	TotalMinted           *big.Int      `json:"total_minted"`
	TotalDeposited        *big.Int      `json:"total_deposited"`
	LastMintTime          time.Time     `json:"last_mint_time"`
	LastDepositTime       time.Time     `json:"last_deposit_time"`
	FetchedAt             time.Time     `json:"fetched_at"`
}

// AccountSnapshot holds balances for one account.
type AccountSnapshot struct {
	Address        string    `json:"address"`
	PLSTRBalance   *big.Int  `json:"plstr_balance"`
	VPLSBalance    *big.Int  `json:"vpls_balance"`
	ShareBalance   *big.Int  `json:"share_balance"`
	RedeemableVPLS *big.Int  `json:"redeemable_vpls"`
	NativeBalance  *big.Int  `json:"native_balance"`
	IsOwner        bool      `json:"is_owner"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// TxKind enumerates the state-changing operations.
type TxKind string

const (
	TxIssue             TxKind = "Issue"
	TxRedeem            TxKind = "Redeem"
	TxMint              TxKind = "Mint"
	TxDeposit           TxKind = "Deposit"
	TxRecover           TxKind = "Recover"
	TxTransferOwnership TxKind = "TransferOwnership"
)

// OwnerOnly reports whether the contract restricts this kind to its owner.
func (k TxKind) OwnerOnly() bool {
	switch k {
	case TxMint, TxDeposit, TxRecover, TxTransferOwnership:
		return true
	}
	return false
}

// TxStatus of a record or a submission.
type TxStatus string

const (
	TxIdle      TxStatus = "idle"
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// TransactionRecord is derived from event logs, or built optimistically right
// after a submission.
type TransactionRecord struct {
	Kind        TxKind    `json:"kind"`
	Amount      *big.Int  `json:"amount,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	Counter     *big.Int  `json:"counter,omitempty"`
	CounterUnit string    `json:"counter_unit,omitempty"`
	Party       string    `json:"party,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Status      TxStatus  `json:"status"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	LogIndex    uint      `json:"log_index,omitempty"`
}

// RatioPoint is one backing ratio observation for the history graph.
type RatioPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ContractResult holds test results for a configured contract address.
type ContractResult struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	HasCode bool   `json:"has_code"`
	Error   string `json:"error,omitempty"`
}

// RPCResult holds test results for a specific RPC URL.
type RPCResult struct {
	URL     string `json:"url"`
	Status  string `json:"status"` // "ok" or "error"
	ChainID int64  `json:"chain_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TestReport holds the results of the configuration test.
type TestReport struct {
	ConfigPath      string           `json:"config_path"`
	ValidStructure  bool             `json:"valid_structure"`
	StructureErrors []string         `json:"structure_errors,omitempty"`
	ConfigChainID   int64            `json:"config_chain_id"`
	ObservedChainID int64            `json:"observed_chain_id,omitempty"`
	RPCs            []RPCResult      `json:"rpcs"`
	Contracts       []ContractResult `json:"contracts,omitempty"`
	Inconsistent    bool             `json:"inconsistent"`
	ConfigUpdated   bool             `json:"config_updated"`
	SaveError       string           `json:"save_error,omitempty"`
	DryRun          bool             `json:"dry_run"`
}
