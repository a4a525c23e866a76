package ledger_test

import (
	"testing"

	"github.com/google/uuid"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
)

var (
	usdc  = address.Labeled("usdc")
	alice = address.Labeled("alice-usdc")
	bob   = address.Labeled("bob-usdc")
)

func issue(t *testing.T, bt *ledger.BalanceTracker, to address.Pubkey, amount uint64) {
	t.Helper()
	err := bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.HolderKey(to, usdc),
		CreditAccount: ledger.IssuanceKey(usdc),
		Mint:          usdc,
		Amount:        amount,
		JournalType:   ledger.JournalTypeIssuance,
	})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_HolderPath(t *testing.T) {
	key := ledger.HolderKey(alice, usdc)
	expected := "holder:" + alice.String() + ":" + usdc.String()
	if key.AccountPath() != expected {
		t.Errorf("got %q, want %q", key.AccountPath(), expected)
	}
}

func TestAccountKey_IssuancePath(t *testing.T) {
	key := ledger.IssuanceKey(usdc)
	if key.AccountPath() != "issuance:"+usdc.String() {
		t.Errorf("got %q", key.AccountPath())
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if bal := bt.GetBalance(ledger.HolderKey(alice, usdc)); bal != 0 {
		t.Errorf("initial balance should be 0, got %d", bal)
	}
}

func TestBalanceTracker_IssuanceAndTransfer(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	issue(t, bt, alice, 1_000_000)

	err := bt.ApplyJournal(ledger.Journal{
		DebitAccount:  ledger.HolderKey(bob, usdc),
		CreditAccount: ledger.HolderKey(alice, usdc),
		Mint:          usdc,
		Amount:        300_000,
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if got := bt.GetBalance(ledger.HolderKey(alice, usdc)); got != 700_000 {
		t.Errorf("alice: got %d, want 700_000", got)
	}
	if got := bt.GetBalance(ledger.HolderKey(bob, usdc)); got != 300_000 {
		t.Errorf("bob: got %d, want 300_000", got)
	}
	if got := bt.GetBalance(ledger.IssuanceKey(usdc)); got != 1_000_000 {
		t.Errorf("issuance: got %d, want 1_000_000", got)
	}
}

func TestBalanceTracker_InsufficientBalance_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	issue(t, bt, alice, 100)

	err := bt.ApplyJournal(ledger.Journal{
		DebitAccount:  ledger.HolderKey(bob, usdc),
		CreditAccount: ledger.HolderKey(alice, usdc),
		Mint:          usdc,
		Amount:        101,
	})
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if got := bt.GetBalance(ledger.HolderKey(bob, usdc)); got != 0 {
		t.Errorf("failed transfer must not credit bob, got %d", got)
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	batch := ledger.NewBatch("tx-1", 1, 0)
	batch.Append(ledger.HolderKey(alice, usdc), ledger.IssuanceKey(usdc), usdc, 500_000, ledger.JournalTypeIssuance)
	batch.Append(ledger.HolderKey(bob, usdc), ledger.HolderKey(alice, usdc), usdc, 200_000, ledger.JournalTypeTransfer)

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if bt.GetBalance(ledger.HolderKey(alice, usdc)) != 300_000 {
		t.Errorf("expected 300_000 after batch apply")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	issue(t, bt, alice, 999)

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetBalance(ledger.HolderKey(alice, usdc)) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchAppend_SkipsZeroAmount(t *testing.T) {
	batch := ledger.NewBatch("tx", 1, 0)
	batch.Append(ledger.HolderKey(alice, usdc), ledger.HolderKey(bob, usdc), usdc, 0, ledger.JournalTypeTransfer)
	if len(batch.Journals) != 0 {
		t.Errorf("zero movement must not be journaled")
	}
	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batch := ledger.NewBatch("tx", 1, 0)
	batch.Append(ledger.HolderKey(alice, usdc), ledger.HolderKey(alice, usdc), usdc, 100, ledger.JournalTypeTransfer)

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_CrossMint_Fails(t *testing.T) {
	other := address.Labeled("sol")
	batch := ledger.NewBatch("tx", 1, 0)
	batch.Append(ledger.HolderKey(alice, other), ledger.HolderKey(bob, usdc), usdc, 100, ledger.JournalTypeTransfer)

	if err := batch.Validate(); err == nil {
		t.Error("cross-mint journal should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batch := ledger.NewBatch("tx", 1, 0)
	batch.Append(ledger.HolderKey(alice, usdc), ledger.HolderKey(bob, usdc), usdc, 100, ledger.JournalTypeTransfer)
	batch.Journals[0].BatchID = uuid.New()

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

type fakeHoldings struct {
	holders  map[ledger.AccountKey]uint64
	supplies map[address.Pubkey]uint64
}

func (f fakeHoldings) HolderBalances() map[ledger.AccountKey]uint64 { return f.holders }
func (f fakeHoldings) MintSupplies() map[address.Pubkey]uint64      { return f.supplies }

func TestInvariantValidator_GlobalBalance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should balance: %v", err)
	}

	issue(t, bt, alice, 1_000_000)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("issued ledger should balance: %v", err)
	}

	bt.Seed(ledger.HolderKey(bob, usdc), 1)
	if err := v.ValidateGlobalBalance(); err == nil {
		t.Error("unissued units must break the global balance")
	}
}

func TestInvariantValidator_Reconciliation(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	issue(t, bt, alice, 500)

	src := fakeHoldings{
		holders:  map[ledger.AccountKey]uint64{ledger.HolderKey(alice, usdc): 500},
		supplies: map[address.Pubkey]uint64{usdc: 500},
	}
	if err := v.ValidateReconciliation(src); err != nil {
		t.Fatalf("matching records should reconcile: %v", err)
	}

	src.holders[ledger.HolderKey(alice, usdc)] = 499
	if err := v.ValidateReconciliation(src); err == nil {
		t.Error("record drift must be detected")
	}

	delete(src.holders, ledger.HolderKey(alice, usdc))
	if err := v.ValidateReconciliation(src); err == nil {
		t.Error("journal balance without a record must be detected")
	}
}
