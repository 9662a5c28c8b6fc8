package epoch

import (
	"fmt"
	"testing"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/stretchr/testify/require"
)

func testSplit(n int, batchSize int) cassdl.Split {
	ids := make([]cassdl.RowID, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id%03d", i)
	}
	return cassdl.Split{Name: "train", IDs: ids, BatchSize: batchSize}
}

func drain(t *testing.T, s *State) [][]cassdl.RowID {
	var batches [][]cassdl.RowID
	for {
		b, err := s.NextBatch()
		if err != nil {
			var ee errors.ExhaustedSplitError
			require.ErrorAs(t, err, &ee)
			return batches
		}
		batches = append(batches, b)
	}
}

func TestStartsExhausted(t *testing.T) {
	s := New(testSplit(5, 2))
	_, err := s.NextBatch()
	var ee errors.ExhaustedSplitError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "train", ee.Split)
}

func TestEpochCoversSplitWithShortTail(t *testing.T) {
	s := New(testSplit(10, 4))
	require.Equal(t, 3, s.NumBatches())
	s.Rewind(1, true)
	batches := drain(t, s)
	require.Len(t, batches, 3)
	require.Len(t, batches[2], 2)

	seen := make(map[cassdl.RowID]bool)
	for _, b := range batches {
		for _, id := range b {
			require.False(t, seen[id])
			seen[id] = true
		}
	}
	require.Len(t, seen, 10)
	require.Equal(t, 0, s.Remaining())
}

func TestShuffleIsReproducible(t *testing.T) {
	a := New(testSplit(50, 50))
	b := New(testSplit(50, 50))
	a.Rewind(42, true)
	b.Rewind(42, true)
	ba, err := a.NextBatch()
	require.Nil(t, err)
	bb, err := b.NextBatch()
	require.Nil(t, err)
	require.Equal(t, ba, bb)

	b.Rewind(43, true)
	bc, err := b.NextBatch()
	require.Nil(t, err)
	require.NotEqual(t, ba, bc)
}

func TestRewindWithoutShuffleKeepsOrder(t *testing.T) {
	split := testSplit(5, 5)
	s := New(split)
	s.Rewind(7, false)
	b, err := s.NextBatch()
	require.Nil(t, err)
	require.Equal(t, split.IDs, b)
}

func TestRewindMidEpoch(t *testing.T) {
	s := New(testSplit(6, 2))
	s.Rewind(3, true)
	_, err := s.NextBatch()
	require.Nil(t, err)
	s.Rewind(3, true)
	require.Equal(t, 0, s.Cursor())
	require.Equal(t, 2, s.Epoch())
	require.Len(t, drain(t, s), 3)
}

func TestSetBatchSize(t *testing.T) {
	s := New(testSplit(7, 2))
	require.Nil(t, s.SetBatchSize(3))
	require.Equal(t, 3, s.NumBatches())
	require.NotNil(t, s.SetBatchSize(0))
}

func TestEmptySplit(t *testing.T) {
	s := New(testSplit(0, 4))
	s.Rewind(1, true)
	require.Equal(t, 0, s.NumBatches())
	_, err := s.NextBatch()
	require.NotNil(t, err)
}

func TestDeriveSeed(t *testing.T) {
	require.Equal(t, DeriveSeed(1, 0, 0), DeriveSeed(1, 0, 0))
	require.NotEqual(t, DeriveSeed(1, 0, 0), DeriveSeed(1, 1, 0))
	require.NotEqual(t, DeriveSeed(1, 0, 0), DeriveSeed(1, 0, 1))
	require.NotEqual(t, DeriveSeed(1, 0, 0), DeriveSeed(2, 0, 0))
}

func TestFinishEndsEpoch(t *testing.T) {
	s := New(testSplit(5, 2))
	s.Rewind(1, false)
	_, err := s.NextBatch()
	require.Nil(t, err)
	s.Finish()
	require.Equal(t, 0, s.Remaining())
	_, err = s.NextBatch()
	require.NotNil(t, err)
	s.Rewind(1, false)
	require.Equal(t, 5, s.Remaining())
}
