// internal/state/asset_set.go
package state

import (
	"errors"
	"iter"
	"slices"

	"YokoFund/internal/address"
)

// AssetSetCapacity is the maximum number of secondary assets a fund tracks.
const AssetSetCapacity = 96

var (
	ErrAssetSetFull = errors.New("asset set is full")
	ErrAssetPresent = errors.New("asset already tracked")
	ErrAssetAbsent  = errors.New("asset not tracked")
)

// AssetSet is a bounded sorted set stored inline in the fund record.
// Elements data[0:len] are strictly ascending; the tail is zeroed.
type AssetSet struct {
	data [AssetSetCapacity]address.Pubkey
	len  uint64
}

func (s *AssetSet) Len() int {
	return int(s.len)
}

func (s *AssetSet) IsEmpty() bool {
	return s.len == 0
}

func (s *AssetSet) IsFull() bool {
	return s.len == AssetSetCapacity
}

func (s *AssetSet) live() []address.Pubkey {
	return s.data[:s.len]
}

func (s *AssetSet) search(mint address.Pubkey) (int, bool) {
	return slices.BinarySearchFunc(s.live(), mint, address.Pubkey.Compare)
}

func (s *AssetSet) Contains(mint address.Pubkey) bool {
	_, found := s.search(mint)
	return found
}

// Insert adds mint at its sorted position.
func (s *AssetSet) Insert(mint address.Pubkey) error {
	if s.IsFull() {
		return ErrAssetSetFull
	}
	idx, found := s.search(mint)
	if found {
		return ErrAssetPresent
	}

	n := int(s.len)
	copy(s.data[idx+1:n+1], s.data[idx:n])
	s.data[idx] = mint
	s.len++
	return nil
}

// Remove deletes mint and closes the gap.
func (s *AssetSet) Remove(mint address.Pubkey) error {
	idx, found := s.search(mint)
	if !found {
		return ErrAssetAbsent
	}

	n := int(s.len)
	copy(s.data[idx:n-1], s.data[idx+1:n])
	s.data[n-1] = address.Zero
	s.len--
	return nil
}

// All yields the tracked assets in ascending order.
func (s *AssetSet) All() iter.Seq[address.Pubkey] {
	return func(yield func(address.Pubkey) bool) {
		for _, mint := range s.live() {
			if !yield(mint) {
				return
			}
		}
	}
}

// Slice returns a copy of the tracked assets.
func (s *AssetSet) Slice() []address.Pubkey {
	return slices.Clone(s.live())
}

// Validate checks length bounds and strict ordering.
func (s *AssetSet) Validate() error {
	if s.len > AssetSetCapacity {
		return errors.New("asset set length exceeds capacity")
	}
	live := s.live()
	for i := 1; i < len(live); i++ {
		if live[i-1].Compare(live[i]) >= 0 {
			return errors.New("asset set not strictly ascending")
		}
	}
	return nil
}
