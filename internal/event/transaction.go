package event

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"YokoFund/internal/address"
	"YokoFund/internal/instruction"
	"YokoFund/internal/runtime"
)

// Signature is one signer's ed25519 signature over the transaction message.
type Signature struct {
	Signer    address.Pubkey `json:"signer"`
	Signature []byte         `json:"signature"`
}

// Transaction is the unit of submission. Idempotency key: ID.
// Ordering: Nonce within the payer's partition, starting at 0.
type Transaction struct {
	ID           uuid.UUID             `json:"id"`
	Payer        address.Pubkey        `json:"payer"`
	Nonce        uint64                `json:"nonce"`
	Signers      []address.Pubkey      `json:"signers"`
	Instructions []runtime.Instruction `json:"instructions"`
	Timestamp    time.Time             `json:"timestamp"` // Versioned input timestamp (NOT wall-clock)
	Signatures   []Signature           `json:"signatures,omitempty"`

	Type EventType `json:"-"`
}

func (tx *Transaction) IdempotencyKey() string { return tx.ID.String() }
func (tx *Transaction) EventType() EventType   { return tx.Type }
func (tx *Transaction) Partition() string      { return PayerPartition(tx.Payer) }
func (tx *Transaction) SourceSequence() int64  { return int64(tx.Nonce) }

// PayerPartition is the sequence partition of a payer's nonces.
func PayerPartition(payer address.Pubkey) string {
	return fmt.Sprintf("payer:%s", payer)
}

// Classify sets Type from the first instruction addressed to fundProgram, else
// from the first token instruction.
func (tx *Transaction) Classify(fundProgram, tokenProgram address.Pubkey) EventType {
	tx.Type = EventTypeUnknown
	for _, ix := range tx.Instructions {
		if ix.ProgramID != fundProgram {
			continue
		}
		if k, ok := instruction.PeekKind(ix.Data); ok {
			tx.Type = eventTypeForKind(k)
			return tx.Type
		}
	}
	for _, ix := range tx.Instructions {
		if ix.ProgramID == tokenProgram {
			tx.Type = EventTypeToken
			break
		}
	}
	return tx.Type
}

// Validate checks the shape of a transaction before it reaches the core.
func (tx *Transaction) Validate() error {
	if tx.ID == uuid.Nil {
		return fmt.Errorf("transaction id is required")
	}
	if len(tx.Instructions) == 0 {
		return fmt.Errorf("transaction %s has no instructions", tx.ID)
	}
	if tx.Timestamp.IsZero() {
		return fmt.Errorf("transaction %s has no timestamp", tx.ID)
	}
	if !tx.HasSigner(tx.Payer) {
		return fmt.Errorf("transaction %s: payer %s must sign", tx.ID, tx.Payer)
	}
	for i, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !tx.HasSigner(meta.Pubkey) {
				return fmt.Errorf("transaction %s instruction %d: %s marked signer but did not sign",
					tx.ID, i, meta.Pubkey)
			}
		}
	}
	return nil
}

func (tx *Transaction) HasSigner(key address.Pubkey) bool {
	for _, s := range tx.Signers {
		if s == key {
			return true
		}
	}
	return false
}

// Message is the canonical byte encoding that signers sign.
func (tx *Transaction) Message() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, tx.ID[:]...)
	buf = append(buf, tx.Payer[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, tx.Nonce)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(tx.Timestamp.UnixMicro()))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Signers)))
	for _, s := range tx.Signers {
		buf = append(buf, s[:]...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Instructions)))
	for _, ix := range tx.Instructions {
		buf = append(buf, ix.ProgramID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			var flags byte
			if meta.IsSigner {
				flags |= 1
			}
			if meta.IsWritable {
				flags |= 2
			}
			buf = append(buf, meta.Pubkey[:]...)
			buf = append(buf, flags)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ix.Data)))
		buf = append(buf, ix.Data...)
	}
	return buf
}
