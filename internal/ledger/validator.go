package ledger

import (
	"fmt"

	"YokoFund/internal/address"
)

// HoldingSource exposes the authoritative holding-account records.
type HoldingSource interface {
	HolderBalances() map[AccountKey]uint64
	MintSupplies() map[address.Pubkey]uint64
}

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies every unit held was issued, per mint.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for mint, t := range v.tracker.ComputeGlobalBalance() {
		if t.Held != t.Issued {
			return fmt.Errorf("mint %s: held %d != issued %d", mint, t.Held, t.Issued)
		}
	}
	return nil
}

// ValidateReconciliation compares journal-derived balances with the records.
func (v *InvariantValidator) ValidateReconciliation(src HoldingSource) error {
	records := src.HolderBalances()
	for key, amount := range records {
		if got := v.tracker.GetBalance(key); got != amount {
			return fmt.Errorf("account %s: journal balance %d != record balance %d",
				key.AccountPath(), got, amount)
		}
	}
	for _, key := range v.tracker.HolderKeys() {
		if _, ok := records[key]; !ok {
			return fmt.Errorf("account %s: journal balance %d with no record",
				key.AccountPath(), v.tracker.GetBalance(key))
		}
	}

	for mint, supply := range src.MintSupplies() {
		if got := v.tracker.GetBalance(IssuanceKey(mint)); got != supply {
			return fmt.Errorf("mint %s: journal issuance %d != supply %d", mint, got, supply)
		}
	}
	return nil
}
