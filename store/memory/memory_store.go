package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/internal/util"
)

type table struct {
	columns []string
	colset  map[string]bool
	order   []cassdl.RowID
	rows    map[cassdl.RowID]map[string]interface{}
}

// Store is an in-memory backing store. Rows are kept in first-insertion order, which makes it
// a deterministic stand-in for a real store in tests and small pipelines.
type Store struct {
	lock        sync.RWMutex
	tables      map[string]*table
	connections int64
	open        int64

	// FailConnect, if non-nil, is consulted on every Connect with the 1-based connection number
	FailConnect func(n int) error
	// FailUpsert, if non-nil, is consulted before every write
	FailUpsert func(table string, id cassdl.RowID) error
}

// New creates an empty Store
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// CreateTable declares a table and its columns. Re-declaring a table keeps its rows and adds any new columns.
func (s *Store) CreateTable(name string, columns ...string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &table{colset: make(map[string]bool), rows: make(map[cassdl.RowID]map[string]interface{})}
		s.tables[name] = t
	}
	for _, c := range columns {
		if !t.colset[c] {
			t.colset[c] = true
			t.columns = append(t.columns, c)
		}
	}
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, errors.SchemaError{Table: name, Reason: "table does not exist"}
	}
	return t, nil
}

// Columns lists the columns of a table in declaration order
func (s *Store) Columns(ctx context.Context, name string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	t, err := s.table(name)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.columns...), nil
}

// Scan calls fn for each row of a table in insertion order
func (s *Store) Scan(ctx context.Context, name string, columns []string, fn func(values []interface{}) error) error {
	s.lock.RLock()
	t, err := s.table(name)
	if err != nil {
		s.lock.RUnlock()
		return err
	}
	for _, c := range columns {
		if !t.colset[c] {
			s.lock.RUnlock()
			return errors.SchemaError{Table: name, Column: c, Reason: "column does not exist"}
		}
	}
	snapshot := make([][]interface{}, 0, len(t.order))
	for _, id := range t.order {
		row := t.rows[id]
		values := make([]interface{}, len(columns))
		for i, c := range columns {
			values[i] = row[c]
		}
		snapshot = append(snapshot, values)
	}
	s.lock.RUnlock()

	for _, values := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(values); err != nil {
			return err
		}
	}
	return nil
}

// Fetch retrieves the payloads for ids. Unknown ids are omitted from the result.
func (s *Store) Fetch(ctx context.Context, q cassdl.FetchQuery, ids []cassdl.RowID) (map[cassdl.RowID]cassdl.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	t, err := s.table(q.Table)
	if err != nil {
		return nil, err
	}
	if !t.colset[q.DataColumn] {
		return nil, errors.SchemaError{Table: q.Table, Column: q.DataColumn, Reason: "column does not exist"}
	}
	if q.LabelColumn != "" && !t.colset[q.LabelColumn] {
		return nil, errors.SchemaError{Table: q.Table, Column: q.LabelColumn, Reason: "column does not exist"}
	}
	result := make(map[cassdl.RowID]cassdl.Sample, len(ids))
	for _, id := range ids {
		row, ok := t.rows[id]
		if !ok {
			continue
		}
		var sample cassdl.Sample
		if payload, ok := row[q.DataColumn].([]byte); ok {
			sample.Payload = payload
		}
		if q.LabelColumn != "" {
			label, err := util.ToInt(row[q.LabelColumn])
			if err != nil {
				return nil, errors.SchemaError{Table: q.Table, Column: q.LabelColumn, Reason: err.Error()}
			}
			sample.Label = label
		}
		result[id] = sample
	}
	return result, nil
}

// Upsert inserts or replaces a row. The id column is always set to id.
func (s *Store) Upsert(ctx context.Context, name string, idColumn string, id cassdl.RowID, values map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailUpsert != nil {
		if err := s.FailUpsert(name, id); err != nil {
			return err
		}
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	t, err := s.table(name)
	if err != nil {
		return err
	}
	if !t.colset[idColumn] {
		return errors.SchemaError{Table: name, Column: idColumn, Reason: "column does not exist"}
	}
	row := make(map[string]interface{}, len(values)+1)
	for c, v := range values {
		if !t.colset[c] {
			return errors.SchemaError{Table: name, Column: c, Reason: "column does not exist"}
		}
		row[c] = v
	}
	row[idColumn] = id
	if _, exists := t.rows[id]; !exists {
		t.order = append(t.order, id)
	}
	t.rows[id] = row
	return nil
}

// Close is a no-op; a Store can be used directly as a Session
func (s *Store) Close() {}

// Connect opens a new Session against this Store
func (s *Store) Connect(ctx context.Context) (cassdl.Session, error) {
	n := atomic.AddInt64(&s.connections, 1)
	if s.FailConnect != nil {
		if err := s.FailConnect(int(n)); err != nil {
			return nil, err
		}
	}
	atomic.AddInt64(&s.open, 1)
	return &session{Store: s}, nil
}

// Connections returns the number of Connect calls made so far, successful or not
func (s *Store) Connections() int {
	return int(atomic.LoadInt64(&s.connections))
}

// OpenSessions returns the number of Sessions which have been opened but not closed
func (s *Store) OpenSessions() int {
	return int(atomic.LoadInt64(&s.open))
}

// Len returns the number of rows in a table, or 0 if it does not exist
func (s *Store) Len(name string) int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if t, ok := s.tables[name]; ok {
		return len(t.order)
	}
	return 0
}

// Get returns a copy of a stored row
func (s *Store) Get(name string, id cassdl.RowID) (map[string]interface{}, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, false
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	cp := make(map[string]interface{}, len(row))
	for k, v := range row {
		cp[k] = v
	}
	return cp, true
}

type session struct {
	*Store
	closed int32
}

func (ss *session) Upsert(ctx context.Context, name string, idColumn string, id cassdl.RowID, values map[string]interface{}) error {
	if atomic.LoadInt32(&ss.closed) == 1 {
		return fmt.Errorf("session is closed")
	}
	return ss.Store.Upsert(ctx, name, idColumn, id, values)
}

func (ss *session) Close() {
	if atomic.CompareAndSwapInt32(&ss.closed, 0, 1) {
		atomic.AddInt64(&ss.Store.open, -1)
	}
}
