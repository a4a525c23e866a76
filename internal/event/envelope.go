package event

import (
	"time"

	"YokoFund/internal/address"
	"YokoFund/internal/instruction"
)

// EventType discriminator for logged transactions. It names the first fund
// instruction of the transaction, or the program family when there is none.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCreateFund
	EventTypeCreatePosition
	EventTypeDeposit
	EventTypeCreatePayout
	EventTypeClaimPayout
	EventTypeSwap
	EventTypeCreateFundTokenAccount
	EventTypeToken
)

// Status is the execution outcome recorded with a transaction.
type Status int32

const (
	StatusApplied Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusFailed {
		return "failed"
	}
	return "applied"
}

// EventEnvelope wraps every transaction in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Transaction id
	IdempotencyKey string

	EventType EventType

	Payer address.Pubkey
	Nonce uint64

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded Transaction
	Payload []byte

	Status Status
	// Failure reason label and code; empty when applied
	ErrorReason string
	ErrorCode   *uint32

	// SHA-256 of state AFTER applying this transaction
	StateHash [32]byte

	// Previous transaction's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface the core sequences
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Partition returns the ordering partition
	Partition() string

	// SourceSequence returns the ordering key within the partition
	SourceSequence() int64
}

// eventTypeForKind maps a fund instruction kind to its event type.
func eventTypeForKind(k instruction.Kind) EventType {
	return EventType(int32(k) + 1)
}

func (et EventType) String() string {
	switch et {
	case EventTypeCreateFund:
		return "CreateFund"
	case EventTypeCreatePosition:
		return "CreatePosition"
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeCreatePayout:
		return "CreatePayout"
	case EventTypeClaimPayout:
		return "ClaimPayout"
	case EventTypeSwap:
		return "Swap"
	case EventTypeCreateFundTokenAccount:
		return "CreateFundTokenAccount"
	case EventTypeToken:
		return "Token"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	for et := EventTypeCreateFund; et <= EventTypeToken; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
