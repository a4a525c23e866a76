package core

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"YokoFund/internal/runtime"
)

const GenesisHashSeed = "YokoFund:genesis:v1"

// StateHasher computes deterministic state hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// GenesisHash is the chain tip before the first transaction.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash

	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash moves the chain tip. Used on snapshot restore.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// StateDigest is the canonical encoding of a transaction's effect: its
// status byte followed by every changed account in address order.
func StateDigest(failed bool, changes []runtime.Change) []byte {
	sorted := make([]runtime.Change, len(changes))
	copy(sorted, changes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Address.Compare(sorted[j].Address) < 0
	})

	size := 1
	for _, c := range sorted {
		size += 32 + 32 + 8 + 4 + len(c.Account.Data)
	}

	digest := make([]byte, 0, size)
	if failed {
		digest = append(digest, 1)
	} else {
		digest = append(digest, 0)
	}
	for _, c := range sorted {
		digest = append(digest, c.Address[:]...)
		digest = append(digest, c.Account.Owner[:]...)
		digest = binary.LittleEndian.AppendUint64(digest, c.Account.Lamports)
		digest = binary.LittleEndian.AppendUint32(digest, uint32(len(c.Account.Data)))
		digest = append(digest, c.Account.Data...)
	}
	return digest
}
