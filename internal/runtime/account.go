package runtime

import (
	"bytes"
	"sort"
	"sync"

	"YokoFund/internal/address"
)

// SystemProgramID owns every wallet and every unallocated address.
var SystemProgramID = address.Zero

// Account is the stored form of every address: wallets, records, holding accounts.
type Account struct {
	Owner    address.Pubkey
	Lamports uint64
	Data     []byte
}

// Exists reports whether the address holds anything. Absent addresses read as
// empty system-owned accounts.
func (a *Account) Exists() bool {
	return a.Lamports > 0 || len(a.Data) > 0
}

func (a *Account) Clone() *Account {
	return &Account{
		Owner:    a.Owner,
		Lamports: a.Lamports,
		Data:     bytes.Clone(a.Data),
	}
}

// AccountMeta is one entry of an instruction's account list.
type AccountMeta struct {
	Pubkey     address.Pubkey `json:"pubkey"`
	IsSigner   bool           `json:"is_signer"`
	IsWritable bool           `json:"is_writable"`
}

func Writable(pk address.Pubkey, signer bool) AccountMeta {
	return AccountMeta{Pubkey: pk, IsSigner: signer, IsWritable: true}
}

func ReadOnly(pk address.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk}
}

// Instruction is one call into a program.
type Instruction struct {
	ProgramID address.Pubkey `json:"program_id"`
	Accounts  []AccountMeta  `json:"accounts"`
	Data      []byte         `json:"data"`
}

// AccountsDB is the committed account state.
// Writes come only from the single-threaded core through Txn.Commit; reads
// from query and snapshot paths may be concurrent.
type AccountsDB struct {
	mu       sync.RWMutex
	accounts map[address.Pubkey]*Account
}

func NewAccountsDB() *AccountsDB {
	return &AccountsDB{
		accounts: make(map[address.Pubkey]*Account),
	}
}

// Get returns a copy of the committed account, or false if absent.
func (db *AccountsDB) Get(key address.Pubkey) (*Account, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	acct, ok := db.accounts[key]
	if !ok {
		return nil, false
	}
	return acct.Clone(), true
}

// Put stores an account outside of any transaction. Used for genesis only.
func (db *AccountsDB) Put(key address.Pubkey, acct *Account) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !acct.Exists() {
		delete(db.accounts, key)
		return
	}
	db.accounts[key] = acct.Clone()
}

// Range calls fn for every account in address order until fn returns false.
func (db *AccountsDB) Range(fn func(key address.Pubkey, acct *Account) bool) {
	db.mu.RLock()
	keys := make([]address.Pubkey, 0, len(db.accounts))
	for k := range db.accounts {
		keys = append(keys, k)
	}
	db.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	for _, k := range keys {
		acct, ok := db.Get(k)
		if !ok {
			continue
		}
		if !fn(k, acct) {
			return
		}
	}
}

// Snapshot returns a deep copy of every account.
func (db *AccountsDB) Snapshot() map[address.Pubkey]*Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make(map[address.Pubkey]*Account, len(db.accounts))
	for k, v := range db.accounts {
		out[k] = v.Clone()
	}
	return out
}

// Restore replaces all state with the given accounts.
func (db *AccountsDB) Restore(accounts map[address.Pubkey]*Account) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.accounts = make(map[address.Pubkey]*Account, len(accounts))
	for k, v := range accounts {
		if v.Exists() {
			db.accounts[k] = v.Clone()
		}
	}
}

func (db *AccountsDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.accounts)
}
