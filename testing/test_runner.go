package testing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/store/memory"
)

// Table and column names used by fixture stores
const (
	IDsTable     = "ids"
	DataTable    = "data"
	IDColumn     = "id"
	LabelColumn  = "label"
	GroupColumn  = "patient"
	TagColumn    = "tag"
	DataColumn   = "data"
	FixtureWidth = 4
)

// Fixture describes one row of a synthetic dataset. Empty Group or Tag values are stored as nulls.
type Fixture struct {
	ID    cassdl.RowID
	Label int
	Group string
	Tag   string
}

// Balanced produces fixtures with counts[c] rows of class c, ids numbered in order
func Balanced(counts ...int) []Fixture {
	var fixtures []Fixture
	for label, n := range counts {
		for i := 0; i < n; i++ {
			fixtures = append(fixtures, Fixture{ID: fmt.Sprintf("r%04d", len(fixtures)), Label: label})
		}
	}
	return fixtures
}

// NewStore creates a memory Store holding fixtures in an ids table and, for each row, a
// square PNG of side FixtureWidth in a data table. Pixel values encode the row's position so
// samples can be told apart after loading.
func NewStore(fixtures []Fixture) *memory.Store {
	ctx := context.Background()
	s := memory.New()
	s.CreateTable(IDsTable, IDColumn, LabelColumn, GroupColumn, TagColumn)
	s.CreateTable(DataTable, IDColumn, LabelColumn, DataColumn)
	for i, f := range fixtures {
		values := map[string]interface{}{LabelColumn: f.Label, GroupColumn: nil, TagColumn: nil}
		if f.Group != "" {
			values[GroupColumn] = f.Group
		}
		if f.Tag != "" {
			values[TagColumn] = f.Tag
		}
		if err := s.Upsert(ctx, IDsTable, IDColumn, f.ID, values); err != nil {
			panic(err)
		}
		shade := uint8(i % 256)
		payload := EncodePNG(FixtureWidth, FixtureWidth, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		if err := s.Upsert(ctx, DataTable, IDColumn, f.ID, map[string]interface{}{LabelColumn: f.Label, DataColumn: payload}); err != nil {
			panic(err)
		}
	}
	return s
}

// EncodePNG produces a solid-colour PNG image
func EncodePNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
