package projection

import (
	"sync"
	"time"

	"YokoFund/internal/address"
	"YokoFund/internal/ledger"
)

// ClaimHistoryEntry is one payout claim credited to a holding account.
type ClaimHistoryEntry struct {
	Sequence int64          `json:"sequence"`
	TxID     string         `json:"tx_id"`
	Payout   address.Pubkey `json:"payout"`   // payout holding account
	Claimant address.Pubkey `json:"claimant"` // claimant holding account
	Mint     address.Pubkey `json:"mint"`
	Amount   uint64         `json:"amount,string"`
	At       time.Time      `json:"at"`
}

// ClaimHistoryProjection keeps recent claims in memory for queries.
// Oldest entries are evicted once capacity is reached.
type ClaimHistoryProjection struct {
	mu       sync.RWMutex
	entries  []ClaimHistoryEntry
	capacity int
}

func NewClaimHistoryProjection(capacity int) *ClaimHistoryProjection {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &ClaimHistoryProjection{
		entries:  make([]ClaimHistoryEntry, 0),
		capacity: capacity,
	}
}

// Record adds every claim journal of an output.
func (p *ClaimHistoryProjection) Record(output ProjectionOutput) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, j := range output.Journals {
		if j.JournalType != ledger.JournalTypePayoutClaim {
			continue
		}
		p.entries = append(p.entries, ClaimHistoryEntry{
			Sequence: output.Sequence,
			TxID:     output.TxID,
			Payout:   j.CreditAccount.Address,
			Claimant: j.DebitAccount.Address,
			Mint:     j.Mint,
			Amount:   j.Amount,
			At:       output.Timestamp,
		})
	}
	if over := len(p.entries) - p.capacity; over > 0 {
		p.entries = append(p.entries[:0:0], p.entries[over:]...)
	}
}

// QueryByAccount returns claims credited to or paid from account, newest first.
func (p *ClaimHistoryProjection) QueryByAccount(account address.Pubkey, limit int) []ClaimHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ClaimHistoryEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].Claimant == account || p.entries[i].Payout == account {
			result = append(result, p.entries[i])
		}
	}
	return result
}

func (p *ClaimHistoryProjection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
