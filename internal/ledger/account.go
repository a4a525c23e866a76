package ledger

import (
	"fmt"

	"YokoFund/internal/address"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeHolder is a holding account that carries a real balance.
	AccountScopeHolder AccountScope = iota
	// AccountScopeIssuance is the external side of a mint: it grows with every
	// unit issued into holding accounts and shrinks with every unit burned.
	AccountScopeIssuance
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Address address.Pubkey // Holding account address; zero for issuance
	Mint    address.Pubkey
}

// HolderKey keys a holding account of the given mint.
func HolderKey(account, mint address.Pubkey) AccountKey {
	return AccountKey{Scope: AccountScopeHolder, Address: account, Mint: mint}
}

// IssuanceKey keys the issuance side of a mint.
func IssuanceKey(mint address.Pubkey) AccountKey {
	return AccountKey{Scope: AccountScopeIssuance, Mint: mint}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", k.Address, k.Mint)
	case AccountScopeIssuance:
		return fmt.Sprintf("issuance:%s", k.Mint)
	}
	return "unknown"
}
