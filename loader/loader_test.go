package loader

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	cdltesting "github.com/go-sif/cassdl/testing"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testLoader(t *testing.T, fixtures []cdltesting.Fixture, numClasses int) *Loader {
	store := cdltesting.NewStore(fixtures)
	l, err := New(store, Options{
		Table:       cdltesting.DataTable,
		IDColumn:    cdltesting.IDColumn,
		NumClasses:  numClasses,
		Parallelism: 3,
	})
	require.Nil(t, err)
	return l
}

func TestLoadPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := testLoader(t, cdltesting.Balanced(3, 3), 2)
	ids := []cassdl.RowID{"r0005", "r0000", "r0003", "r0001"}
	batch, err := l.Load(context.Background(), ids)
	require.Nil(t, err)
	require.Equal(t, ids, batch.IDs)
	require.Equal(t, []int{1, 0, 1, 0}, batch.Labels)
	require.Equal(t, []int{3, cdltesting.FixtureWidth, cdltesting.FixtureWidth}, batch.Shape)
	// fixture pixels encode the row position
	require.Equal(t, float32(5), batch.Inputs[0][0])
	require.Equal(t, float32(0), batch.Inputs[1][0])
	require.Equal(t, float32(3), batch.Inputs[2][0])
}

func TestLoadGrayscale(t *testing.T) {
	store := cdltesting.NewStore(cdltesting.Balanced(2))
	l, err := New(store, Options{
		Table:      cdltesting.DataTable,
		IDColumn:   cdltesting.IDColumn,
		NumClasses: 1,
		Channels:   1,
	})
	require.Nil(t, err)
	batch, err := l.Load(context.Background(), []cassdl.RowID{"r0001"})
	require.Nil(t, err)
	require.Equal(t, []int{1, cdltesting.FixtureWidth, cdltesting.FixtureWidth}, batch.Shape)
	require.InDelta(t, 1, batch.Inputs[0][0], 0.5)
}

func TestLoadMissingSample(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := testLoader(t, cdltesting.Balanced(2), 1)
	_, err := l.Load(context.Background(), []cassdl.RowID{"r0000", "gone"})
	var mse errors.MissingSampleError
	require.ErrorAs(t, err, &mse)
	require.Equal(t, "gone", mse.ID)
}

func TestLoadUndecodablePayload(t *testing.T) {
	defer goleak.VerifyNone(t)
	store := cdltesting.NewStore(cdltesting.Balanced(2))
	require.Nil(t, store.Upsert(context.Background(), cdltesting.DataTable, cdltesting.IDColumn, "r0001",
		map[string]interface{}{cdltesting.LabelColumn: 0, cdltesting.DataColumn: []byte("garbage")}))
	l, err := New(store, Options{Table: cdltesting.DataTable, IDColumn: cdltesting.IDColumn, NumClasses: 1})
	require.Nil(t, err)
	_, err = l.Load(context.Background(), []cassdl.RowID{"r0000", "r0001"})
	var mse errors.MissingSampleError
	require.ErrorAs(t, err, &mse)
	require.Equal(t, "r0001", mse.ID)
}

func TestLoadShapeMismatch(t *testing.T) {
	store := cdltesting.NewStore(cdltesting.Balanced(2))
	require.Nil(t, store.Upsert(context.Background(), cdltesting.DataTable, cdltesting.IDColumn, "r0001",
		map[string]interface{}{cdltesting.LabelColumn: 0, cdltesting.DataColumn: cdltesting.EncodePNG(7, 7, image.Black.C)}))
	l, err := New(store, Options{Table: cdltesting.DataTable, IDColumn: cdltesting.IDColumn, NumClasses: 1})
	require.Nil(t, err)
	_, err = l.Load(context.Background(), []cassdl.RowID{"r0000", "r0001"})
	var mse errors.MissingSampleError
	require.ErrorAs(t, err, &mse)
	require.Equal(t, "r0001", mse.ID)
}

func TestLoadRecoversFromPanickingAugmentation(t *testing.T) {
	l := testLoader(t, cdltesting.Balanced(2), 1)
	l = l.WithAugmentation(cassdl.AugmentationFunc(func(img image.Image, _ *rand.Rand) image.Image {
		panic("broken augmentation")
	}))
	_, err := l.Load(context.Background(), []cassdl.RowID{"r0000"})
	var mse errors.MissingSampleError
	require.ErrorAs(t, err, &mse)
	require.Equal(t, "r0000", mse.ID)
}

func TestLoadLabelMapAndSmoothing(t *testing.T) {
	store := cdltesting.NewStore(cdltesting.Balanced(1, 1, 1))
	l, err := New(store, Options{
		Table:      cdltesting.DataTable,
		IDColumn:   cdltesting.IDColumn,
		NumClasses: 2,
		LabelMap:   map[int]int{0: 0, 1: 1, 2: 1},
		SmoothEps:  0.1,
	})
	require.Nil(t, err)
	batch, err := l.Load(context.Background(), []cassdl.RowID{"r0002", "r0000"})
	require.Nil(t, err)
	require.Equal(t, []int{1, 0}, batch.Labels)
	oh := batch.OneHot()
	require.InDelta(t, 0.1, oh[0], 1e-6)
	require.InDelta(t, 0.9, oh[1], 1e-6)
}

func TestLoadEmpty(t *testing.T) {
	l := testLoader(t, cdltesting.Balanced(1), 1)
	batch, err := l.Load(context.Background(), nil)
	require.Nil(t, err)
	require.Equal(t, 0, batch.Len())
}

func TestInvalidOptions(t *testing.T) {
	store := cdltesting.NewStore(nil)
	var ice errors.InvalidConfigError
	_, err := New(store, Options{IDColumn: "id", NumClasses: 1})
	require.ErrorAs(t, err, &ice)
	_, err = New(store, Options{Table: "data", IDColumn: "id"})
	require.ErrorAs(t, err, &ice)
	_, err = New(store, Options{Table: "data", IDColumn: "id", NumClasses: 2, SmoothEps: 1})
	require.ErrorAs(t, err, &ice)
	_, err = New(store, Options{Table: "data", IDColumn: "id", NumClasses: 2, Channels: 4})
	require.ErrorAs(t, err, &ice)
}

func TestLoadSeededIsReproducible(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := testLoader(t, cdltesting.Balanced(2, 2), 2)
	l = l.WithAugmentation(cassdl.AugmentationFunc(func(img image.Image, rng *rand.Rand) image.Image {
		out := image.NewGray(img.Bounds())
		shade := color.Gray{Y: uint8(rng.Intn(256))}
		for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
			for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
				out.SetGray(x, y, shade)
			}
		}
		return out
	}))
	ids := []cassdl.RowID{"r0000", "r0001", "r0002", "r0003"}
	first := func(b *cassdl.Batch) []float32 {
		vals := make([]float32, len(b.Inputs))
		for i, in := range b.Inputs {
			vals[i] = in[0]
		}
		return vals
	}

	a, err := l.LoadSeeded(context.Background(), ids, 42)
	require.Nil(t, err)
	b, err := l.LoadSeeded(context.Background(), ids, 42)
	require.Nil(t, err)
	require.Equal(t, first(a), first(b))

	c, err := l.LoadSeeded(context.Background(), ids, 43)
	require.Nil(t, err)
	require.NotEqual(t, first(a), first(c))
}
