package cassdl

import (
	"context"
	"image"
	"math/rand"
)

// Source is a readable backing store. Implementations must be safe for concurrent use.
type Source interface {
	// Columns lists the columns of a table, or returns a SchemaError if it does not exist
	Columns(ctx context.Context, table string) ([]string, error)
	// Scan calls fn once per row of a table, with values in the order of columns
	Scan(ctx context.Context, table string, columns []string, fn func(values []interface{}) error) error
	// Fetch retrieves the payloads of ids in bulk. Ids absent from the store are absent from the result.
	Fetch(ctx context.Context, q FetchQuery, ids []RowID) (map[RowID]Sample, error)
}

// Session is a connection to a backing store which can also write. A Session is owned by a
// single ingestion worker and closed when that worker finishes.
type Session interface {
	Source
	// Upsert inserts or replaces the row identified by id. Writing the same row twice is harmless.
	Upsert(ctx context.Context, table string, idColumn string, id RowID, values map[string]interface{}) error
	Close()
}

// Connector opens Sessions against a backing store
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Decoder turns an encoded payload into an image
type Decoder interface {
	Decode(payload []byte) (image.Image, error)
}

// Augmentation is a stochastic image transformation. Implementations must not modify their
// input and must draw all randomness from rng.
type Augmentation interface {
	Apply(img image.Image, rng *rand.Rand) image.Image
}

// AugmentationFunc adapts an ordinary function into an Augmentation
type AugmentationFunc func(img image.Image, rng *rand.Rand) image.Image

// Apply calls f(img, rng)
func (f AugmentationFunc) Apply(img image.Image, rng *rand.Rand) image.Image {
	return f(img, rng)
}

// Identity is the Augmentation which returns its input unchanged
var Identity Augmentation = AugmentationFunc(func(img image.Image, _ *rand.Rand) image.Image {
	return img
})
