package query

import "time"

// FundResponse is a fund with its current holdings.
type FundResponse struct {
	Address        string            `json:"address"`
	Authority      string            `json:"authority"`
	MainMint       string            `json:"main_mint"`
	TotalDeposited uint64            `json:"total_deposited,string"`
	PayoutsCounter uint64            `json:"payouts_counter,string"`
	AuthorityFee   uint64            `json:"authority_fee"`
	OtherMints     []string          `json:"other_mints"`
	Holdings       []HoldingResponse `json:"holdings"`
	AsOfSequence   int64             `json:"as_of_sequence"`
}

// HoldingResponse is one holding account balance in base and UI units.
type HoldingResponse struct {
	Account  string `json:"account"`
	Mint     string `json:"mint"`
	Amount   uint64 `json:"amount,string"`
	Decimals uint8  `json:"decimals"`
	UIAmount string `json:"ui_amount"` // Amount / 10^Decimals, fixed to Decimals places
}

// PositionResponse represents a depositor's stake for API queries.
type PositionResponse struct {
	Address        string `json:"address"`
	Fund           string `json:"fund"`
	Authority      string `json:"authority"`
	Deposited      uint64 `json:"deposited,string"`
	PayoutsCounter uint64 `json:"payouts_counter,string"`
	PendingPayouts uint64 `json:"pending_payouts,string"` // fund counter - position counter
	AsOfSequence   int64  `json:"as_of_sequence"`
}

// PayoutResponse represents one payout round for API queries.
type PayoutResponse struct {
	Address                     string `json:"address"`
	Fund                        string `json:"fund"`
	Counter                     uint64 `json:"counter,string"`
	TotalDeposited              uint64 `json:"total_deposited,string"`
	AmountTransferredOnCreation uint64 `json:"amount_transferred_on_creation,string"`
	Remaining                   uint64 `json:"remaining,string"` // payout holding account balance
	Closed                      bool   `json:"closed"`
	AsOfSequence                int64  `json:"as_of_sequence"`
}

// ClaimEstimate is what a position would receive from one payout.
type ClaimEstimate struct {
	Position     string `json:"position"`
	Payout       string `json:"payout"`
	Counter      uint64 `json:"counter,string"`
	Amount       uint64 `json:"amount,string"`
	Claimable    bool   `json:"claimable"` // the payout is the position's next one
	AsOfSequence int64  `json:"as_of_sequence"`
}

// TransactionResponse is the logged outcome of one transaction.
type TransactionResponse struct {
	TxID        string                `json:"tx_id"`
	Sequence    int64                 `json:"sequence"`
	TxType      string                `json:"tx_type"`
	Payer       string                `json:"payer"`
	Nonce       uint64                `json:"nonce,string"`
	Status      string                `json:"status"`
	ErrorReason *string               `json:"error_reason,omitempty"`
	ErrorCode   *int64                `json:"error_code,omitempty"`
	Timestamp   time.Time             `json:"timestamp"`
	Journal     []JournalHistoryEntry `json:"journal"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	TxRef         string `json:"tx_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Mint          string `json:"mint"`
	Amount        uint64 `json:"amount,string"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool             `json:"is_healthy"`
	HashChainBreaks []int64          `json:"hash_chain_breaks,omitempty"`
	SupplyMismatch  []SupplyMismatch `json:"supply_mismatch,omitempty"`
}

// SupplyMismatch is a mint whose projected supply differs from the sum of
// its projected holding accounts.
type SupplyMismatch struct {
	Mint     string `json:"mint"`
	Supply   string `json:"supply"`
	Holdings string `json:"holdings"`
}
