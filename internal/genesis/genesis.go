// Package genesis seeds a fresh ledger with wallets, mints, balances and swap
// pools from a YAML file before the first transaction is sequenced.
package genesis

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
	"YokoFund/internal/router"
	"YokoFund/internal/runtime"
	"YokoFund/internal/token"
)

// Ref is an address in a genesis file: base58, or "label:<name>" for a
// deterministic development address.
type Ref address.Pubkey

func (r *Ref) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if name, ok := strings.CutPrefix(s, "label:"); ok {
		*r = Ref(address.Labeled(name))
		return nil
	}
	pk, err := address.ParsePubkey(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*r = Ref(pk)
	return nil
}

func (r Ref) Pubkey() address.Pubkey { return address.Pubkey(r) }

type Wallet struct {
	Address  Ref    `yaml:"address"`
	Lamports uint64 `yaml:"lamports"`
}

type Mint struct {
	Address   Ref   `yaml:"address"`
	Decimals  uint8 `yaml:"decimals"`
	Authority Ref   `yaml:"authority"`
	Payer     *Ref  `yaml:"payer"` // defaults to Authority
}

// Balance creates owner's associated holding account for mint and issues
// amount into it. Amount may be zero.
type Balance struct {
	Owner  Ref    `yaml:"owner"`
	Mint   Ref    `yaml:"mint"`
	Amount uint64 `yaml:"amount"`
}

type Pool struct {
	MintA    Ref    `yaml:"mint_a"`
	MintB    Ref    `yaml:"mint_b"`
	FeeBps   uint64 `yaml:"fee_bps"`
	ReserveA uint64 `yaml:"reserve_a"`
	ReserveB uint64 `yaml:"reserve_b"`
	Payer    Ref    `yaml:"payer"`
}

// File is the parsed genesis document.
type File struct {
	Wallets  []Wallet  `yaml:"wallets"`
	Mints    []Mint    `yaml:"mints"`
	Balances []Balance `yaml:"balances"`
	Pools    []Pool    `yaml:"pools"`
}

// Load reads a genesis file from path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genesis: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a genesis document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var g File
	if err := dec.Decode(&g); err != nil {
		if errors.Is(err, io.EOF) {
			return &g, nil
		}
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return &g, nil
}

// Result lists what Apply created.
type Result struct {
	Pools    []address.Pubkey
	Holdings []address.Pubkey
	Changes  int
}

// Apply writes the genesis state into db in one transaction signed by every
// wallet and mint. Nothing is journaled to the event log; callers resync
// derived state afterwards.
func (g *File) Apply(db *runtime.AccountsDB, tokens *token.Program, pools *router.ConstantProduct, rent runtime.Rent) (*Result, error) {
	signers := make([]address.Pubkey, 0, len(g.Wallets)+len(g.Mints))
	for _, w := range g.Wallets {
		if _, exists := db.Get(w.Address.Pubkey()); exists {
			return nil, fmt.Errorf("wallet %s already exists", w.Address.Pubkey())
		}
		db.Put(w.Address.Pubkey(), &runtime.Account{Owner: runtime.SystemProgramID, Lamports: w.Lamports})
		signers = append(signers, w.Address.Pubkey())
	}
	for _, m := range g.Mints {
		signers = append(signers, m.Address.Pubkey())
	}

	txn := db.Begin(signers, ledger.NewBatch("genesis", 0, 0), rent)
	res := &Result{}

	for _, m := range g.Mints {
		payer := m.Authority
		if m.Payer != nil {
			payer = *m.Payer
		}
		if err := tokens.CreateMint(txn, payer.Pubkey(), m.Address.Pubkey(), m.Decimals, m.Authority.Pubkey()); err != nil {
			return nil, fmt.Errorf("mint %s: %w", m.Address.Pubkey(), err)
		}
	}

	for _, b := range g.Balances {
		authority, err := g.mintAuthority(b.Mint.Pubkey())
		if err != nil {
			return nil, err
		}
		seeds := tokens.AssociatedAddress(b.Owner.Pubkey(), b.Mint.Pubkey())
		err = txn.Invoke(tokens.ID(), func() error {
			return tokens.CreateAccount(txn, authority, seeds.Address, b.Mint.Pubkey(), b.Owner.Pubkey(), &seeds)
		})
		if err != nil {
			return nil, fmt.Errorf("holding %s/%s: %w", b.Owner.Pubkey(), b.Mint.Pubkey(), err)
		}
		if err := issue(txn, tokens, b.Mint.Pubkey(), seeds.Address, authority, b.Amount); err != nil {
			return nil, err
		}
		res.Holdings = append(res.Holdings, seeds.Address)
	}

	for _, p := range g.Pools {
		poolAddr, err := pools.CreatePool(txn, p.Payer.Pubkey(), p.MintA.Pubkey(), p.MintB.Pubkey(), p.FeeBps)
		if err != nil {
			return nil, fmt.Errorf("pool %s/%s: %w", p.MintA.Pubkey(), p.MintB.Pubkey(), err)
		}
		for _, side := range []struct {
			mint    address.Pubkey
			reserve uint64
		}{{p.MintA.Pubkey(), p.ReserveA}, {p.MintB.Pubkey(), p.ReserveB}} {
			authority, err := g.mintAuthority(side.mint)
			if err != nil {
				return nil, err
			}
			vault := router.VaultAddress(pools.ID(), poolAddr, side.mint).Address
			if err := issue(txn, tokens, side.mint, vault, authority, side.reserve); err != nil {
				return nil, err
			}
		}
		res.Pools = append(res.Pools, poolAddr)
	}

	res.Changes = len(txn.Commit())
	return res, nil
}

func issue(txn *runtime.Txn, tokens *token.Program, mint, dst, authority address.Pubkey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := tokens.MintTo(txn, mint, dst, token.SignedBy(authority), amount); err != nil {
		return fmt.Errorf("issue %d of %s into %s: %w", amount, mint, dst, err)
	}
	return nil
}

func (g *File) mintAuthority(mint address.Pubkey) (address.Pubkey, error) {
	for _, m := range g.Mints {
		if m.Address.Pubkey() == mint {
			return m.Authority.Pubkey(), nil
		}
	}
	return address.Zero, fmt.Errorf("mint %s is not declared in genesis", mint)
}
