package token

import (
	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
	"YokoFund/internal/runtime"
)

// Holdings reads every token record out of committed state. It implements
// ledger.HoldingSource for reconciliation.
type Holdings struct {
	db        *runtime.AccountsDB
	programID address.Pubkey
}

func NewHoldings(db *runtime.AccountsDB, programID address.Pubkey) *Holdings {
	return &Holdings{db: db, programID: programID}
}

func (h *Holdings) HolderBalances() map[ledger.AccountKey]uint64 {
	out := make(map[ledger.AccountKey]uint64)
	h.db.Range(func(key address.Pubkey, acct *runtime.Account) bool {
		if acct.Owner != h.programID || len(acct.Data) != AccountLen {
			return true
		}
		ha, err := decodeAccount(acct.Data)
		if err != nil || ha.State == AccountStateUninitialized || ha.Amount == 0 {
			return true
		}
		out[ledger.HolderKey(key, ha.Mint)] = ha.Amount
		return true
	})
	return out
}

func (h *Holdings) MintSupplies() map[address.Pubkey]uint64 {
	out := make(map[address.Pubkey]uint64)
	h.db.Range(func(key address.Pubkey, acct *runtime.Account) bool {
		if acct.Owner != h.programID || len(acct.Data) != MintLen {
			return true
		}
		m, err := decodeMint(acct.Data)
		if err != nil || !m.IsInitialized {
			return true
		}
		out[key] = m.Supply
		return true
	})
	return out
}

// Seed rebuilds a balance tracker from the records. Used after snapshot restore.
func (h *Holdings) Seed(bt *ledger.BalanceTracker) {
	bt.Reset()
	for key, amount := range h.HolderBalances() {
		bt.Seed(key, amount)
	}
	for mint, supply := range h.MintSupplies() {
		bt.Seed(ledger.IssuanceKey(mint), supply)
	}
}
