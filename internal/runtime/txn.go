package runtime

import (
	"bytes"
	"sort"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
)

// Change is the post-state of one account modified by a committed transaction.
type Change struct {
	Address address.Pubkey
	Account *Account
	Closed  bool
}

// Txn is a copy-on-write overlay over the AccountsDB for one transaction.
// All effects are local until Commit; dropping the Txn discards them.
type Txn struct {
	db       *AccountsDB
	cache    map[address.Pubkey]*Account
	original map[address.Pubkey]*Account
	signers  map[address.Pubkey]bool
	programs []address.Pubkey

	Rent  Rent
	Batch *ledger.Batch
}

// Begin opens a transaction signed by signers. Journal entries land in batch.
func (db *AccountsDB) Begin(signers []address.Pubkey, batch *ledger.Batch, rent Rent) *Txn {
	t := &Txn{
		db:       db,
		cache:    make(map[address.Pubkey]*Account),
		original: make(map[address.Pubkey]*Account),
		signers:  make(map[address.Pubkey]bool, len(signers)),
		Rent:     rent,
		Batch:    batch,
	}
	for _, s := range signers {
		t.signers[s] = true
	}
	return t
}

// Load returns the transaction-local account for key. Mutations through the
// returned pointer are part of the transaction. Absent addresses load as an
// empty system-owned account.
func (t *Txn) Load(key address.Pubkey) *Account {
	if acct, ok := t.cache[key]; ok {
		return acct
	}

	acct, ok := t.db.Get(key)
	if !ok {
		acct = &Account{Owner: SystemProgramID}
	}
	t.original[key] = acct.Clone()
	t.cache[key] = acct
	return acct
}

// IsSigner reports whether key signed the enclosing transaction.
func (t *Txn) IsSigner(key address.Pubkey) bool {
	return t.signers[key]
}

// CurrentProgram is the program whose code is executing.
func (t *Txn) CurrentProgram() address.Pubkey {
	if len(t.programs) == 0 {
		return SystemProgramID
	}
	return t.programs[len(t.programs)-1]
}

// Invoke runs fn as programID. Derived-address capabilities presented while fn
// runs are checked against programID.
func (t *Txn) Invoke(programID address.Pubkey, fn func() error) error {
	t.programs = append(t.programs, programID)
	defer func() { t.programs = t.programs[:len(t.programs)-1] }()
	return fn()
}

// Changes lists every account whose state differs from the committed state,
// in address order.
func (t *Txn) Changes() []Change {
	changes := make([]Change, 0, len(t.cache))
	for key, acct := range t.cache {
		orig := t.original[key]
		if orig.Owner == acct.Owner && orig.Lamports == acct.Lamports && bytes.Equal(orig.Data, acct.Data) {
			continue
		}
		changes = append(changes, Change{
			Address: key,
			Account: acct.Clone(),
			Closed:  !acct.Exists(),
		})
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Address.Compare(changes[j].Address) < 0
	})
	return changes
}

// Commit publishes the transaction's effects atomically and returns them.
func (t *Txn) Commit() []Change {
	changes := t.Changes()

	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	for _, c := range changes {
		if c.Closed {
			delete(t.db.accounts, c.Address)
			continue
		}
		t.db.accounts[c.Address] = c.Account.Clone()
	}
	return changes
}
