// Package epoch iterates a split's rows in batches, one shuffled pass per epoch.
package epoch

import (
	"encoding/binary"
	"math/rand"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
)

// State is the cursor over one split. A State must be owned by a single goroutine.
type State struct {
	split     cassdl.Split
	batchSize int
	order     []cassdl.RowID
	cursor    int
	seed      int64
	epoch     int
}

// New creates a State for a split. The State starts exhausted: Rewind must be called before
// the first batch is requested.
func New(split cassdl.Split) *State {
	bs := split.BatchSize
	if bs < 1 {
		bs = 1
	}
	return &State{split: split, batchSize: bs}
}

// Rewind starts a new epoch. With shuffle, rows are visited in a uniformly random order which
// depends only on seed; otherwise they are visited in split order. Progress through the
// current epoch, if any, is discarded.
func (s *State) Rewind(seed int64, shuffle bool) {
	s.order = append(s.order[:0], s.split.IDs...)
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(s.order), func(i, j int) {
			s.order[i], s.order[j] = s.order[j], s.order[i]
		})
	}
	s.seed = seed
	s.cursor = 0
	s.epoch++
}

// NextBatch returns the next BatchSize ids of the current epoch. The final batch of an epoch
// holds whatever remains and may be shorter. Once every id has been returned, NextBatch fails
// with an ExhaustedSplitError until Rewind is called.
func (s *State) NextBatch() ([]cassdl.RowID, error) {
	if s.cursor >= len(s.order) {
		return nil, errors.ExhaustedSplitError{Split: s.split.Name}
	}
	end := s.cursor + s.batchSize
	if end > len(s.order) {
		end = len(s.order)
	}
	batch := append([]cassdl.RowID(nil), s.order[s.cursor:end]...)
	s.cursor = end
	return batch, nil
}

// Finish ends the current epoch. Further batches require a Rewind.
func (s *State) Finish() {
	s.cursor = len(s.order)
}

// NumBatches returns the number of batches in a full epoch, counting a short final batch
func (s *State) NumBatches() int {
	return (s.split.Len() + s.batchSize - 1) / s.batchSize
}

// Remaining returns the number of ids not yet returned in the current epoch
func (s *State) Remaining() int {
	return len(s.order) - s.cursor
}

// Cursor returns the number of ids returned so far in the current epoch
func (s *State) Cursor() int {
	return s.cursor
}

// Epoch returns the number of times this State has been rewound
func (s *State) Epoch() int {
	return s.epoch
}

// Seed returns the seed of the current epoch
func (s *State) Seed() int64 {
	return s.seed
}

// BatchSize returns the number of ids per batch
func (s *State) BatchSize() int {
	return s.batchSize
}

// SetBatchSize changes the number of ids per batch. It takes effect from the next batch.
func (s *State) SetBatchSize(n int) error {
	if n < 1 {
		return errors.InvalidConfigf("batch size must be positive, got %d", n)
	}
	s.batchSize = n
	s.split.BatchSize = n
	return nil
}

// Split returns the split this State iterates
func (s *State) Split() cassdl.Split {
	return s.split
}

// DeriveSeed mixes a base seed with a split index and an epoch number, so that every split
// and every epoch receives an independent but reproducible shuffle
func DeriveSeed(base int64, split int, epoch int) int64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(base))
	binary.LittleEndian.PutUint64(buf[8:], uint64(split))
	binary.LittleEndian.PutUint64(buf[16:], uint64(epoch))
	return int64(xxhash.Sum64(buf[:]))
}
