package catalog

import (
	"encoding/gob"
	"io"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/pierrec/lz4"
	pkgerrors "github.com/pkg/errors"
)

// snapshot is the serialized form of a Catalog
type snapshot struct {
	Table        string
	IDColumn     string
	LabelColumn  string
	GroupColumns []string
	TagColumns   []string
	NumClasses   int
	LabelMap     map[int]int
	Rows         []cassdl.Row
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// WriteTo serializes and compresses this Catalog to a write stream
func (c *Catalog) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	compressor := lz4.NewWriter(cw)
	snap := snapshot{
		Table:        c.opts.Table,
		IDColumn:     c.opts.IDColumn,
		LabelColumn:  c.opts.LabelColumn,
		GroupColumns: c.opts.GroupColumns,
		TagColumns:   c.opts.TagColumns,
		NumClasses:   c.opts.NumClasses,
		LabelMap:     c.opts.LabelMap,
		Rows:         c.rows,
	}
	if err := gob.NewEncoder(compressor).Encode(&snap); err != nil {
		return cw.n, pkgerrors.Wrap(err, "unable to encode catalog snapshot")
	}
	if err := compressor.Close(); err != nil {
		return cw.n, pkgerrors.Wrap(err, "unable to compress catalog snapshot")
	}
	return cw.n, nil
}

// ReadFrom decompresses and deserializes a Catalog previously written with WriteTo
func ReadFrom(r io.Reader) (*Catalog, error) {
	decompressor := lz4.NewReader(r)
	var snap snapshot
	if err := gob.NewDecoder(decompressor).Decode(&snap); err != nil {
		return nil, pkgerrors.Wrap(err, "unable to decode catalog snapshot")
	}
	opts := Options{
		Table:        snap.Table,
		IDColumn:     snap.IDColumn,
		LabelColumn:  snap.LabelColumn,
		GroupColumns: snap.GroupColumns,
		TagColumns:   snap.TagColumns,
		NumClasses:   snap.NumClasses,
		LabelMap:     snap.LabelMap,
	}
	if err := opts.ensureDefaults(); err != nil {
		return nil, err
	}
	b := newBuilder(opts)
	for _, row := range snap.Rows {
		if row.ID == "" {
			return nil, errors.SchemaError{Table: opts.Table, Column: opts.IDColumn, Reason: "snapshot holds a null row id"}
		}
		if row.Label < 0 || row.Label >= opts.NumClasses {
			return nil, errors.SchemaError{Table: opts.Table, Column: opts.LabelColumn, Reason: "snapshot holds an out-of-range label"}
		}
		b.add(row)
	}
	if len(b.cat.rows) == 0 {
		return nil, errors.EmptyDatasetError{Table: opts.Table}
	}
	b.cat.buildIndices()
	return b.cat, nil
}
