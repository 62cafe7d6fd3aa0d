// Package contracts reads the PLSTR/vPLS contract pair and encodes calls to it.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Method names.
const (
	MethodOwner                   = "owner"
	MethodTotalSupply             = "totalSupply"
	MethodBalanceOf               = "balanceOf"
	MethodGetContractInfo         = "getContractInfo"
	MethodGetVPLSBackingRatio     = "getVPLSBackingRatio"
	MethodGetUserShareInfo        = "getUserShareInfo"
	MethodGetRedeemableStakedPLS  = "getRedeemableStakedPLS"
	MethodGetOwnerMintInfo        = "getOwnerMintInfo"
	MethodCalculateSharesReceived = "calculateSharesReceived"

	MethodApprove           = "approve"
	MethodIssueShares       = "issueShares"
	MethodRedeemShares      = "redeemShares"
	MethodMintShares        = "mintShares"
	MethodDepositStakedPLS  = "depositStakedPLS"
	MethodRecoverTokens     = "recoverTokens"
	MethodTransferOwnership = "transferOwnership"
)

// Event names.
const (
	EventSharesIssued         = "SharesIssued"
	EventSharesRedeemed       = "SharesRedeemed"
	EventSharesMinted         = "SharesMinted"
	EventStakedPLSDeposited   = "StakedPLSDeposited"
	EventTokensRecovered      = "TokensRecovered"
	EventOwnershipTransferred = "OwnershipTransferred"
)

// ContractABI is shared by the PLSTR and vPLS contracts; vPLS only answers
// the ERC-20 subset.
const ContractABI = `[
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getContractInfo","stateMutability":"view","inputs":[],"outputs":[{"name":"contractBalance","type":"uint256"},{"name":"remainingIssuancePeriod","type":"uint256"}]},
	{"type":"function","name":"getVPLSBackingRatio","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getUserShareInfo","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"shareBalance","type":"uint256"},{"name":"lastUpdated","type":"uint256"}]},
	{"type":"function","name":"getRedeemableStakedPLS","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"shareAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getOwnerMintInfo","stateMutability":"view","inputs":[],"outputs":[{"name":"lastMintTime","type":"uint256"},{"name":"nextMintTime","type":"uint256"}]},
	{"type":"function","name":"calculateSharesReceived","stateMutability":"view","inputs":[{"name":"amount","type":"uint256"}],"outputs":[{"name":"shares","type":"uint256"},{"name":"fee","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"issueShares","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"redeemShares","stateMutability":"nonpayable","inputs":[{"name":"shareAmount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"mintShares","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"depositStakedPLS","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"recoverTokens","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"transferOwnership","stateMutability":"nonpayable","inputs":[{"name":"newOwner","type":"address"}],"outputs":[]},
	{"type":"event","name":"SharesIssued","anonymous":false,"inputs":[{"name":"buyer","type":"address","indexed":true},{"name":"shares","type":"uint256","indexed":false},{"name":"fee","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"SharesRedeemed","anonymous":false,"inputs":[{"name":"redeemer","type":"address","indexed":true},{"name":"shares","type":"uint256","indexed":false},{"name":"stakedPLS","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"SharesMinted","anonymous":false,"inputs":[{"name":"amount","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"StakedPLSDeposited","anonymous":false,"inputs":[{"name":"amount","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokensRecovered","anonymous":false,"inputs":[{"name":"token","type":"address","indexed":true},{"name":"recipient","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"OwnershipTransferred","anonymous":false,"inputs":[{"name":"previousOwner","type":"address","indexed":true},{"name":"newOwner","type":"address","indexed":true}]}
]`

// ABI is the parsed ContractABI.
var ABI = mustParse(ContractABI)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("contracts: parse abi: %v", err))
	}
	return parsed
}

// Pack encodes a call to method.
func Pack(method string, args ...interface{}) ([]byte, error) {
	return ABI.Pack(method, args...)
}

// PackApprove encodes approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return Pack(MethodApprove, spender, amount)
}

// PackIssueShares encodes issueShares(amount).
func PackIssueShares(amount *big.Int) ([]byte, error) {
	return Pack(MethodIssueShares, amount)
}

// PackRedeemShares encodes redeemShares(shareAmount).
func PackRedeemShares(shares *big.Int) ([]byte, error) {
	return Pack(MethodRedeemShares, shares)
}

// PackMintShares encodes mintShares(amount).
func PackMintShares(amount *big.Int) ([]byte, error) {
	return Pack(MethodMintShares, amount)
}

// PackDepositStakedPLS encodes depositStakedPLS(amount).
func PackDepositStakedPLS(amount *big.Int) ([]byte, error) {
	return Pack(MethodDepositStakedPLS, amount)
}

// PackRecoverTokens encodes recoverTokens(token, recipient, amount).
func PackRecoverTokens(token, recipient common.Address, amount *big.Int) ([]byte, error) {
	return Pack(MethodRecoverTokens, token, recipient, amount)
}

// PackTransferOwnership encodes transferOwnership(newOwner).
func PackTransferOwnership(newOwner common.Address) ([]byte, error) {
	return Pack(MethodTransferOwnership, newOwner)
}

// EventID returns the topic hash of a named event.
func EventID(name string) common.Hash {
	return ABI.Events[name].ID
}
