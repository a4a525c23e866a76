package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"YokoFund/internal/address"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeIssuance
	JournalTypeDeposit
	JournalTypeAuthorityFee
	JournalTypeProtocolFee
	JournalTypePayoutFunding
	JournalTypePayoutClaim
	JournalTypeSwapStageIn
	JournalTypeSwapStageOut
	JournalTypeRouterLeg
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeIssuance:
		return "issuance"
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeAuthorityFee:
		return "authority_fee"
	case JournalTypeProtocolFee:
		return "protocol_fee"
	case JournalTypePayoutFunding:
		return "payout_funding"
	case JournalTypePayoutClaim:
		return "payout_claim"
	case JournalTypeSwapStageIn:
		return "swap_stage_in"
	case JournalTypeSwapStageOut:
		return "swap_stage_out"
	case JournalTypeRouterLeg:
		return "router_leg"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID      // Unique identifier
	BatchID       uuid.UUID      // Groups entries of one transaction
	EventRef      string         // Idempotency key of source transaction
	Sequence      int64          // Global transaction sequence
	DebitAccount  AccountKey     // Account receiving debit (balance increases)
	CreditAccount AccountKey     // Account receiving credit (balance decreases)
	Mint          address.Pubkey // Asset being transferred
	Amount        uint64         // Base units (ALWAYS positive)
	JournalType   JournalType    // Entry type
	Timestamp     int64          // Transaction timestamp (epoch microseconds)
}

// Batch holds the journal entries produced by one transaction
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// NewBatch opens an empty batch for a transaction.
func NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// Append records one movement of amount units of mint. Zero amounts are not journaled.
func (b *Batch) Append(debit, credit AccountKey, mint address.Pubkey, amount uint64, jt JournalType) {
	if amount == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Mint:          mint,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from the credit to the debit account, so
// every entry is balanced on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Mint != j.Mint || j.CreditAccount.Mint != j.Mint {
			return fmt.Errorf("journal %s crosses mints", j.JournalID)
		}
	}

	return nil
}
