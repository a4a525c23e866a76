package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"YokoFund/internal/address"
	"YokoFund/internal/event"
	"YokoFund/internal/ledger"
	"YokoFund/internal/observability"
	"YokoFund/internal/program"
	"YokoFund/internal/runtime"
	"YokoFund/internal/state"
	"YokoFund/internal/token"
)

var (
	ErrUnknownProgram     = errors.New("unknown program")
	ErrInvariantViolation = errors.New("record invariant violated")
	ErrReplayHashMismatch = errors.New("replayed state hash mismatch")
	ErrReplaySequence     = errors.New("replayed sequence out of order")
)

// Config tunes the core. Zero values take defaults.
type Config struct {
	// IdempotencyCapacity is the LRU size of tier-1 dedup.
	IdempotencyCapacity int
	// InvariantCheckInterval runs the global supply and reconciliation check
	// every N sequences.
	InvariantCheckInterval int64
	Rent                   runtime.Rent
}

func DefaultConfig() Config {
	return Config{
		IdempotencyCapacity:    1_000_000,
		InvariantCheckInterval: 1000,
		Rent:                   runtime.DefaultRent,
	}
}

// DeterministicCore is the single-threaded transaction processor
type DeterministicCore struct {
	cfg               Config
	sequence          int64 // next sequence to assign
	hasher            *StateHasher
	accounts          *runtime.AccountsDB
	fund              *program.Program
	tokens            *token.Program
	holdings          *token.Holdings
	balanceTracker    *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	log               zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream needs from one sequenced transaction.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Changes  []runtime.Change
}

// Receipt reports the outcome of one submitted transaction.
type Receipt struct {
	TxID      uuid.UUID
	Sequence  int64
	Duplicate bool
	Status    event.Status
	StateHash [32]byte

	// Set when Status is StatusFailed
	Err      error
	Category program.Category
	Reason   string
	Code     *uint32
}

func NewDeterministicCore(
	cfg Config,
	accounts *runtime.AccountsDB,
	fund *program.Program,
	tokens *token.Program,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *DeterministicCore {
	def := DefaultConfig()
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = def.IdempotencyCapacity
	}
	if cfg.InvariantCheckInterval <= 0 {
		cfg.InvariantCheckInterval = def.InvariantCheckInterval
	}
	if cfg.Rent == (runtime.Rent{}) {
		cfg.Rent = def.Rent
	}

	balanceTracker := ledger.NewBalanceTracker()
	c := &DeterministicCore{
		cfg:               cfg,
		sequence:          1,
		hasher:            NewStateHasher(),
		accounts:          accounts,
		fund:              fund,
		tokens:            tokens,
		holdings:          token.NewHoldings(accounts, tokens.ID()),
		balanceTracker:    balanceTracker,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		idempotency:       NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		log:               logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
	if metrics != nil {
		c.idempotency.duplicates = metrics.IdempotencyDuplicates
	}
	c.holdings.Seed(c.balanceTracker)
	return c
}

// ProcessTransaction is the main processing pipeline. Execution failures are
// sequenced and reported in the receipt; the returned error is reserved for
// transactions rejected before sequencing.
func (c *DeterministicCore) ProcessTransaction(tx *event.Transaction) (*Receipt, error) {
	start := time.Now()
	txType := tx.Classify(c.fund.ID(), c.tokens.ID()).String()

	if err := tx.Validate(); err != nil {
		c.reject(txType, "malformed")
		return nil, err
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		c.reject(txType, "malformed")
		return nil, fmt.Errorf("encode transaction %s: %w", tx.ID, err)
	}

	// Step 1: Idempotency check (two-tier)
	idempotencyKey := tx.IdempotencyKey()
	isDuplicate := c.idempotency.IsDuplicate(txType, idempotencyKey)

	// Step 2: Nonce validation
	if err := c.sequenceValidator.ValidateSequence(tx.Partition(), tx.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
		switch {
		case errors.Is(err, ErrNonceGap):
			c.reject(txType, "nonce_gap")
			if c.metrics != nil {
				c.metrics.NonceGap.WithLabelValues(tx.Partition()).Inc()
			}
		case errors.Is(err, ErrNonceOutOfOrder):
			c.reject(txType, "nonce_out_of_order")
			if c.metrics != nil {
				c.metrics.NonceOutOfOrder.WithLabelValues(tx.Partition()).Inc()
			}
		}
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.reject(txType, "duplicate")
		return &Receipt{TxID: tx.ID, Duplicate: true}, nil
	}

	// Steps 3-9
	receipt, output := c.apply(tx, payload)

	// Step 10: Emit
	// Persistence: blocking send. The core stalls until the persistence worker
	// drains, so no transaction is lost.
	if c.persistChan != nil {
		c.persistChan <- output
	}
	// Projections: non-blocking send, drop on full. Projections rebuild from
	// the event log if they fall behind.
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("all").Inc()
			}
		}
	}

	// Step 11: Mark as processed
	c.idempotency.MarkProcessed(idempotencyKey)

	if c.metrics != nil {
		if receipt.Status == event.StatusApplied {
			c.metrics.CoreTxApplied.WithLabelValues(txType).Inc()
		} else {
			c.metrics.CoreTxFailed.WithLabelValues(txType, string(receipt.Category), receipt.Reason).Inc()
		}
		c.metrics.CoreTxDuration.WithLabelValues(txType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(receipt.Sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))
	}

	return receipt, nil
}

// ReplayEnvelope re-executes a logged transaction during recovery and checks
// that it lands on the recorded state hash. Nothing is emitted.
func (c *DeterministicCore) ReplayEnvelope(env *event.EventEnvelope) error {
	if env.Sequence != c.sequence {
		return fmt.Errorf("%w: expected %d, got %d", ErrReplaySequence, c.sequence, env.Sequence)
	}

	var tx event.Transaction
	if err := json.Unmarshal(env.Payload, &tx); err != nil {
		return fmt.Errorf("decode transaction at seq=%d: %w", env.Sequence, err)
	}
	tx.Classify(c.fund.ID(), c.tokens.ID())

	if err := c.sequenceValidator.ValidateSequence(tx.Partition(), tx.SourceSequence(), tx.IdempotencyKey(), false); err != nil {
		return fmt.Errorf("replay seq=%d: %w", env.Sequence, err)
	}

	receipt, _ := c.apply(&tx, env.Payload)
	c.idempotency.MarkProcessed(tx.IdempotencyKey())

	if receipt.StateHash != env.StateHash {
		return fmt.Errorf("%w: seq=%d", ErrReplayHashMismatch, env.Sequence)
	}
	if c.metrics != nil {
		c.metrics.ReplayTxTotal.Inc()
	}
	return nil
}

// apply executes tx at the next sequence and advances the hash chain.
func (c *DeterministicCore) apply(tx *event.Transaction, payload []byte) (*Receipt, CoreOutput) {
	seq := c.sequence
	idempotencyKey := tx.IdempotencyKey()
	ts := tx.Timestamp.UnixMicro()

	// Step 3: Execute every instruction in one overlay
	batch := ledger.NewBatch(idempotencyKey, seq, ts)
	txn := c.accounts.Begin(tx.Signers, batch, c.cfg.Rent)

	execErr := c.execute(txn, tx.Instructions)
	if execErr == nil {
		execErr = c.checkRecords(txn)
	}

	receipt := &Receipt{TxID: tx.ID, Sequence: seq, Status: event.StatusApplied}
	var changes []runtime.Change

	if execErr != nil {
		// Rollback: the overlay is dropped, the nonce stays consumed
		batch = ledger.NewBatch(idempotencyKey, seq, ts)
		receipt.Status = event.StatusFailed
		receipt.Err = execErr
		receipt.Category, receipt.Reason = classifyFailure(execErr)
		if code, ok := program.Code(execErr); ok {
			receipt.Code = &code
		}
		c.log.Debug().
			Int64("sequence", seq).
			Str("tx_id", idempotencyKey).
			Str("reason", receipt.Reason).
			Err(execErr).
			Msg("transaction failed")
	} else {
		// Step 4: Validate batch
		if len(batch.Journals) > 0 {
			if err := c.validator.ValidateBatchBalance(batch); err != nil {
				panic(fmt.Sprintf("FATAL: malformed batch at seq=%d: %v", seq, err))
			}
		}

		// Step 5: Commit and apply to shadow balances
		changes = txn.Commit()
		if len(batch.Journals) > 0 {
			if err := c.balanceTracker.ApplyBatch(batch); err != nil {
				panic(fmt.Sprintf("FATAL: journal apply failed after commit at seq=%d: %v", seq, err))
			}
		}
		c.recordJournalMetrics(batch)
	}

	// Step 6-7: Digest and hash
	hashStart := time.Now()
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(seq, StateDigest(execErr != nil, changes))
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}
	receipt.StateHash = stateHash

	// Step 8: Envelope
	envelope := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: idempotencyKey,
		EventType:      tx.EventType(),
		Payer:          tx.Payer,
		Nonce:          tx.Nonce,
		Timestamp:      tx.Timestamp,
		Payload:        payload,
		Status:         receipt.Status,
		ErrorReason:    receipt.Reason,
		ErrorCode:      receipt.Code,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	// Step 9: Periodic global checks
	if seq%c.cfg.InvariantCheckInterval == 0 {
		if err := c.CheckGlobalInvariants(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated at seq=%d: %v", seq, err))
		}
	}

	c.sequence++
	return receipt, CoreOutput{Envelope: envelope, Batch: batch, Changes: changes}
}

// execute dispatches each instruction to its program. The first failure aborts
// the transaction.
func (c *DeterministicCore) execute(txn *runtime.Txn, instructions []runtime.Instruction) error {
	for i, ix := range instructions {
		var err error
		switch ix.ProgramID {
		case c.fund.ID():
			err = txn.Invoke(c.fund.ID(), func() error {
				return c.fund.Process(txn, ix.Accounts, ix.Data)
			})
		case c.tokens.ID():
			err = txn.Invoke(c.tokens.ID(), func() error {
				return c.tokens.Process(txn, ix.Accounts, ix.Data)
			})
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownProgram, ix.ProgramID)
		}
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return nil
}

// checkRecords validates every fund and position record the transaction wrote.
func (c *DeterministicCore) checkRecords(txn *runtime.Txn) error {
	for _, ch := range txn.Changes() {
		if ch.Closed || ch.Account.Owner != c.fund.ID() {
			continue
		}
		kind, ok := state.PeekKind(ch.Account.Data)
		if !ok {
			return fmt.Errorf("%w: %s holds an undecodable record", ErrInvariantViolation, ch.Address)
		}

		switch kind {
		case state.RecordKindFund:
			var f state.Fund
			if err := f.UnmarshalBinary(ch.Account.Data); err != nil {
				return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			}
			if err := f.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			}
		case state.RecordKindPosition:
			var p state.Position
			if err := p.UnmarshalBinary(ch.Account.Data); err != nil {
				return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			}
			var f state.Fund
			if err := f.UnmarshalBinary(txn.Load(p.Fund).Data); err != nil {
				return fmt.Errorf("%w: position %s has no fund: %v", ErrInvariantViolation, ch.Address, err)
			}
			if err := p.ValidateAgainst(&f); err != nil {
				return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
			}
		}
	}
	return nil
}

// CheckGlobalInvariants verifies supply conservation and that the journal
// shadow agrees with the holding records.
func (c *DeterministicCore) CheckGlobalInvariants() error {
	if c.metrics != nil {
		c.metrics.CoreInvariantChecks.Inc()
	}
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	return c.validator.ValidateReconciliation(c.holdings)
}

func classifyFailure(err error) (program.Category, string) {
	switch {
	case errors.Is(err, ErrUnknownProgram):
		return program.CategoryStructural, "unknown_program"
	case errors.Is(err, ErrInvariantViolation):
		return program.CategoryDomain, "invariant_violation"
	}
	return program.Classify(err)
}

func (c *DeterministicCore) recordJournalMetrics(batch *ledger.Batch) {
	if c.metrics == nil {
		return
	}
	for _, j := range batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		amount := float64(j.Amount)
		switch j.JournalType {
		case ledger.JournalTypeSwapStageOut:
			c.metrics.SwapRealizedOutput.WithLabelValues(j.Mint.String()).Add(amount)
		case ledger.JournalTypeAuthorityFee, ledger.JournalTypeProtocolFee, ledger.JournalTypePayoutFunding:
			c.metrics.PayoutAmount.WithLabelValues(j.JournalType.String()).Add(amount)
		case ledger.JournalTypePayoutClaim:
			c.metrics.ClaimAmount.WithLabelValues(j.Mint.String()).Add(amount)
		}
	}
}

func (c *DeterministicCore) reject(txType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreTxRejected.WithLabelValues(txType, reason).Inc()
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the in-memory state needed to resume the core.
type SnapshotState struct {
	Sequence        int64 // last applied sequence, 0 before the first
	StateHash       [32]byte
	Accounts        map[address.Pubkey]*runtime.Account
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot replaces the core's state. Replay resumes at
// snap.Sequence+1.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.accounts.Restore(snap.Accounts)
	c.holdings.Seed(c.balanceTracker)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	c.idempotency.WarmLRU(snap.IdempotencyKeys)

	c.log.Info().
		Int64("sequence", snap.Sequence).
		Int("accounts", len(snap.Accounts)).
		Msg("restored from snapshot")
}

// ResyncBalances rebuilds the journal shadow from the holding records. Called
// after state is written outside of transactions (genesis).
func (c *DeterministicCore) ResyncBalances() {
	c.holdings.Seed(c.balanceTracker)
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.WarmLRU(keys)
}

// GetSequence returns the last applied sequence.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence - 1
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// ExpectedNonce returns the next nonce the core accepts from payer.
func (c *DeterministicCore) ExpectedNonce(payer address.Pubkey) uint64 {
	return uint64(c.sequenceValidator.GetExpectedSequence(event.PayerPartition(payer)))
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Accounts:        c.accounts.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}
