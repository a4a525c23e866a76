package ledger

import (
	"fmt"
	"sort"

	"YokoFund/internal/address"
	fpmath "YokoFund/internal/math"
)

// BalanceTracker maintains journal-derived balances. It is a shadow of the
// holding-account records and is reconciled against them by the validator.
// Not thread-safe: only the single-threaded core touches it.
type BalanceTracker struct {
	balances map[AccountKey]uint64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]uint64),
	}
}

// increase applies the side of a journal that grows the account. Holder
// accounts grow on debit, issuance grows on credit.
func (bt *BalanceTracker) increase(key AccountKey, amount uint64) error {
	next, err := fpmath.CheckedAdd(bt.balances[key], amount)
	if err != nil {
		return fmt.Errorf("account %s: %w", key.AccountPath(), err)
	}
	bt.balances[key] = next
	return nil
}

func (bt *BalanceTracker) decrease(key AccountKey, amount uint64) error {
	next, err := fpmath.CheckedSub(bt.balances[key], amount)
	if err != nil {
		return fmt.Errorf("account %s has insufficient balance %d for %d",
			key.AccountPath(), bt.balances[key], amount)
	}
	if next == 0 {
		delete(bt.balances, key)
	} else {
		bt.balances[key] = next
	}
	return nil
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	apply := func(key AccountKey, debit bool) error {
		grows := debit == (key.Scope == AccountScopeHolder)
		if grows {
			return bt.increase(key, j.Amount)
		}
		return bt.decrease(key, j.Amount)
	}

	if err := apply(j.CreditAccount, false); err != nil {
		return err
	}
	return apply(j.DebitAccount, true)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			return err
		}
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) uint64 {
	return bt.balances[key]
}

// Seed sets a balance directly. Used when rebuilding from account records.
func (bt *BalanceTracker) Seed(key AccountKey, amount uint64) {
	if amount == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = amount
}

// Reset drops every tracked balance.
func (bt *BalanceTracker) Reset() {
	bt.balances = make(map[AccountKey]uint64)
}

// MintTotals holds the two sides of one mint.
type MintTotals struct {
	Held   uint64
	Issued uint64
}

// ComputeGlobalBalance sums holders and issuance per mint. A consistent ledger
// has Held == Issued for every mint.
func (bt *BalanceTracker) ComputeGlobalBalance() map[address.Pubkey]MintTotals {
	totals := make(map[address.Pubkey]MintTotals)

	for key, balance := range bt.balances {
		t := totals[key.Mint]
		if key.Scope == AccountScopeIssuance {
			t.Issued += balance
		} else {
			t.Held += balance
		}
		totals[key.Mint] = t
	}

	return totals
}

// HolderKeys returns every holder key with a non-zero balance, in address order.
func (bt *BalanceTracker) HolderKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for key := range bt.balances {
		if key.Scope == AccountScopeHolder {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Address.Compare(keys[j].Address) < 0
	})
	return keys
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]uint64 {
	snapshot := make(map[AccountKey]uint64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
