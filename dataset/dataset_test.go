package dataset

import (
	"context"
	"io"
	"testing"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/catalog"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/loader"
	"github.com/go-sif/cassdl/planner"
	cdltesting "github.com/go-sif/cassdl/testing"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testDataset(t *testing.T, seed int64) *Dataset {
	t.Helper()
	store := cdltesting.NewStore(cdltesting.Balanced(6, 4))
	d, err := New(store, Options{
		Catalog: catalog.Options{
			Table:      cdltesting.IDsTable,
			IDColumn:   cdltesting.IDColumn,
			NumClasses: 2,
		},
		Loader: loader.Options{Table: cdltesting.DataTable, Parallelism: 2},
		Seed:   seed,
	})
	require.Nil(t, err)
	require.Nil(t, d.LoadCatalog(context.Background()))
	cfg, err := planner.NewRatioConfig([]float64{7, 3}, nil)
	require.Nil(t, err)
	require.Nil(t, d.Setup(cfg, planner.Options{Names: []string{"train", "test"}, BatchSize: 3}))
	return d
}

func drain(t *testing.T, d *Dataset) ([]cassdl.RowID, []int) {
	t.Helper()
	var ids []cassdl.RowID
	var sizes []int
	for {
		b, err := d.LoadBatch(context.Background())
		if err != nil {
			var ese errors.ExhaustedSplitError
			require.ErrorAs(t, err, &ese)
			return ids, sizes
		}
		ids = append(ids, b.IDs...)
		sizes = append(sizes, b.Len())
	}
}

func TestEpochServesEverySampleOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := testDataset(t, 1)
	defer d.Close()

	splits := d.Splits()
	require.Len(t, splits, 2)
	require.Equal(t, 7, splits[0].Len())
	require.Equal(t, 3, splits[1].Len())

	// splits start exhausted
	_, err := d.LoadBatch(context.Background())
	require.NotNil(t, err)

	require.Nil(t, d.RewindSplits(false))
	n, err := d.NumBatches(0)
	require.Nil(t, err)
	require.Equal(t, 3, n)
	ids, sizes := drain(t, d)
	require.Equal(t, []int{3, 3, 1}, sizes)
	require.Equal(t, splits[0].IDs, ids)

	require.Nil(t, d.SetCurrentSplit(1))
	require.Equal(t, 1, d.CurrentSplit())
	ids, _ = drain(t, d)
	require.Equal(t, splits[1].IDs, ids)
}

func TestShuffledEpochsAreReproducible(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := testDataset(t, 42)
	defer a.Close()
	b := testDataset(t, 42)
	defer b.Close()

	require.Nil(t, a.RewindSplits(true))
	require.Nil(t, b.RewindSplits(true))
	first, _ := drain(t, a)
	second, _ := drain(t, b)
	require.Equal(t, first, second)
	require.ElementsMatch(t, a.Splits()[0].IDs, first)

	// the next epoch reshuffles
	require.Nil(t, a.RewindSplits(true))
	third, _ := drain(t, a)
	require.ElementsMatch(t, first, third)
}

func TestRewindMidEpochDropsPrefetch(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := testDataset(t, 1)
	defer d.Close()
	require.Nil(t, d.RewindSplits(false))
	_, err := d.LoadBatch(context.Background())
	require.Nil(t, err)
	require.Nil(t, d.RewindSplits(false))
	ids, _ := drain(t, d)
	require.Equal(t, d.Splits()[0].IDs, ids)
}

func TestSetBatchSizeEndsEpoch(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := testDataset(t, 1)
	defer d.Close()
	require.Nil(t, d.RewindSplits(false))
	require.Nil(t, d.SetBatchSize(2))
	_, err := d.LoadBatch(context.Background())
	require.NotNil(t, err)
	require.Nil(t, d.RewindSplits(false))
	_, sizes := drain(t, d)
	require.Equal(t, []int{2, 2, 2, 1}, sizes)
	require.NotNil(t, d.SetBatchSize(0))
}

func TestIgnoreBatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := testDataset(t, 1)
	defer d.Close()
	require.Nil(t, d.RewindSplits(false))
	require.Nil(t, d.IgnoreBatch())
	ids, _ := drain(t, d)
	require.Equal(t, d.Splits()[0].IDs[3:], ids)
}

func TestInvalidUse(t *testing.T) {
	defer goleak.VerifyNone(t)
	store := cdltesting.NewStore(cdltesting.Balanced(2, 2))
	d, err := New(store, Options{
		Catalog: catalog.Options{Table: cdltesting.IDsTable, IDColumn: cdltesting.IDColumn, NumClasses: 2},
		Loader:  loader.Options{Table: cdltesting.DataTable},
	})
	require.Nil(t, err)
	defer d.Close()
	var ice errors.InvalidConfigError
	cfg, err := planner.NewRatioConfig([]float64{1}, nil)
	require.Nil(t, err)
	require.ErrorAs(t, d.Setup(cfg, planner.Options{}), &ice)
	require.ErrorAs(t, d.RewindSplits(true), &ice)
	_, err = d.LoadBatch(context.Background())
	require.ErrorAs(t, err, &ice)

	require.Nil(t, d.LoadCatalog(context.Background()))
	require.Nil(t, d.Setup(cfg, planner.Options{}))
	require.ErrorAs(t, d.SetCurrentSplit(1), &ice)
	_, err = d.NumBatches(-1)
	require.ErrorAs(t, err, &ice)
}

func TestTrainDataset(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := testDataset(t, 1)
	defer d.Close()
	td, err := d.TrainDataset(1, false)
	require.Nil(t, err)
	require.Equal(t, "test", td.Name())

	_, inputs, labels, err := td.Yield()
	require.Nil(t, err)
	require.Len(t, inputs, 1)
	require.Len(t, labels, 1)
	require.Equal(t, []int{3, 3, cdltesting.FixtureWidth, cdltesting.FixtureWidth}, inputs[0].Shape().Dimensions)
	require.Equal(t, []int{3, 2}, labels[0].Shape().Dimensions)

	_, _, _, err = td.Yield()
	require.Equal(t, io.EOF, err)

	td.Reset()
	_, _, _, err = td.Yield()
	require.Nil(t, err)
}
