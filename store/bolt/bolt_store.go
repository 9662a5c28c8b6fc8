// Package bolt is a backing store kept in a single bbolt file, suitable for datasets which
// fit on one machine.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/internal/util"
	pkgerrors "github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	schemaBucket = []byte("schema")
	seqBucket    = []byte("seq")
	rowsBucket   = []byte("rows")
)

// record is the stored form of a row. Null values are absent from every map.
type record struct {
	Seq     uint64
	Strings map[string]string
	Ints    map[string]int64
	Bytes   map[string][]byte
}

func (r *record) set(column string, v interface{}) error {
	switch t := v.(type) {
	case nil:
	case string:
		r.Strings[column] = t
	case []byte:
		r.Bytes[column] = t
	case fmt.Stringer:
		r.Strings[column] = t.String()
	default:
		i, err := util.ToInt(t)
		if err != nil {
			return fmt.Errorf("column %s: unsupported value of type %T", column, v)
		}
		r.Ints[column] = int64(i)
	}
	return nil
}

func (r *record) get(column string) interface{} {
	if v, ok := r.Strings[column]; ok {
		return v
	}
	if v, ok := r.Ints[column]; ok {
		return v
	}
	if v, ok := r.Bytes[column]; ok {
		return v
	}
	return nil
}

func newRecord(seq uint64) *record {
	return &record{
		Seq:     seq,
		Strings: make(map[string]string),
		Ints:    make(map[string]int64),
		Bytes:   make(map[string][]byte),
	}
}

// Store is a bbolt-backed store. Each table is a bucket holding rows keyed by id, plus an
// insertion-order index.
type Store struct {
	path string
	db   *bolt.DB
}

// Open opens or creates a store file
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0666, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "unable to open %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(schemaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{path: path, db: db}, nil
}

// Path returns the path of the store file
func (s *Store) Path() string { return s.path }

// Close closes the store file
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// CreateTable declares a table and its columns. Re-declaring a table adds any new columns.
func (s *Store) CreateTable(name string, columns ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		existing, err := txColumns(tx, name)
		if err != nil && !isSchemaError(err) {
			return err
		}
		seen := make(map[string]bool, len(existing))
		for _, c := range existing {
			seen[c] = true
		}
		for _, c := range columns {
			if !seen[c] {
				seen[c] = true
				existing = append(existing, c)
			}
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(existing); err != nil {
			return err
		}
		if err := tx.Bucket(schemaBucket).Put([]byte(name), buf.Bytes()); err != nil {
			return err
		}
		tb, err := tx.CreateBucketIfNotExists(tableKey(name))
		if err != nil {
			return err
		}
		if _, err := tb.CreateBucketIfNotExists(seqBucket); err != nil {
			return err
		}
		_, err = tb.CreateBucketIfNotExists(rowsBucket)
		return err
	})
}

func tableKey(name string) []byte {
	return []byte("table:" + name)
}

func isSchemaError(err error) bool {
	_, ok := err.(errors.SchemaError)
	return ok
}

func txColumns(tx *bolt.Tx, name string) ([]string, error) {
	raw := tx.Bucket(schemaBucket).Get([]byte(name))
	if raw == nil {
		return nil, errors.SchemaError{Table: name, Reason: "table does not exist"}
	}
	var columns []string
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&columns); err != nil {
		return nil, pkgerrors.Wrapf(err, "corrupt schema for table %s", name)
	}
	return columns, nil
}

func txCheckColumns(tx *bolt.Tx, name string, columns ...string) error {
	existing, err := txColumns(tx, name)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, c := range existing {
		present[c] = true
	}
	for _, c := range columns {
		if c != "" && !present[c] {
			return errors.SchemaError{Table: name, Column: c, Reason: "column does not exist"}
		}
	}
	return nil
}

func decodeRecord(raw []byte) (*record, error) {
	r := newRecord(0)
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(r); err != nil {
		return nil, pkgerrors.Wrap(err, "corrupt row")
	}
	return r, nil
}

func u64tob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Columns lists the columns of a table in declaration order
func (s *Store) Columns(ctx context.Context, name string) (columns []string, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		columns, err = txColumns(tx, name)
		return err
	})
	return columns, err
}

// Scan calls fn for each row of a table in insertion order
func (s *Store) Scan(ctx context.Context, name string, columns []string, fn func(values []interface{}) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if err := txCheckColumns(tx, name, columns...); err != nil {
			return err
		}
		tb := tx.Bucket(tableKey(name))
		rows := tb.Bucket(rowsBucket)
		cur := tb.Bucket(seqBucket).Cursor()
		for _, id := cur.First(); id != nil; _, id = cur.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := decodeRecord(rows.Get(id))
			if err != nil {
				return err
			}
			values := make([]interface{}, len(columns))
			for i, c := range columns {
				values[i] = r.get(c)
			}
			if err := fn(values); err != nil {
				return err
			}
		}
		return nil
	})
}

// Fetch retrieves the payloads for ids. Unknown ids are omitted from the result.
func (s *Store) Fetch(ctx context.Context, q cassdl.FetchQuery, ids []cassdl.RowID) (map[cassdl.RowID]cassdl.Sample, error) {
	result := make(map[cassdl.RowID]cassdl.Sample, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := txCheckColumns(tx, q.Table, q.DataColumn, q.LabelColumn); err != nil {
			return err
		}
		rows := tx.Bucket(tableKey(q.Table)).Bucket(rowsBucket)
		for _, id := range ids {
			raw := rows.Get([]byte(id))
			if raw == nil {
				continue
			}
			r, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			sample := cassdl.Sample{Payload: r.Bytes[q.DataColumn]}
			if q.LabelColumn != "" {
				label, err := util.ToInt(r.get(q.LabelColumn))
				if err != nil {
					return errors.SchemaError{Table: q.Table, Column: q.LabelColumn, Reason: err.Error()}
				}
				sample.Label = label
			}
			result[id] = sample
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert inserts or replaces a row, keeping its original position in insertion order
func (s *Store) Upsert(ctx context.Context, name string, idColumn string, id cassdl.RowID, values map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		cols := []string{idColumn}
		for c := range values {
			cols = append(cols, c)
		}
		if err := txCheckColumns(tx, name, cols...); err != nil {
			return err
		}
		tb := tx.Bucket(tableKey(name))
		rows := tb.Bucket(rowsBucket)
		seqs := tb.Bucket(seqBucket)

		var seq uint64
		if raw := rows.Get([]byte(id)); raw != nil {
			prev, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			seq = prev.Seq
		} else {
			next, err := seqs.NextSequence()
			if err != nil {
				return err
			}
			seq = next
			if err := seqs.Put(u64tob(seq), []byte(id)); err != nil {
				return err
			}
		}
		r := newRecord(seq)
		for c, v := range values {
			if err := r.set(c, v); err != nil {
				return errors.SchemaError{Table: name, Column: c, Reason: err.Error()}
			}
		}
		r.Strings[idColumn] = id
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(r); err != nil {
			return err
		}
		return rows.Put([]byte(id), buf.Bytes())
	})
}

// Connect returns a Session sharing this Store's file. Closing the Session leaves the Store open.
func (s *Store) Connect(ctx context.Context) (cassdl.Session, error) {
	return session{s}, nil
}

type session struct {
	*Store
}

func (session) Close() {}
