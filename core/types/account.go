package types

import "math/big"

// Account holds the MCT ledger entry for a single address. Stake tracks the
// balance locked against the staked-storage quota and is not spendable.
type Account struct {
	Nonce      uint64   `json:"nonce"`
	BalanceMCT *big.Int `json:"balanceMCT"`
	Stake      *big.Int `json:"stake"`
}
