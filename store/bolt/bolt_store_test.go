package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cassdl.db"))
	require.Nil(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestUpsertKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.Nil(t, s.CreateTable("ids", "id", "label", "patient"))
	require.Nil(t, s.Upsert(ctx, "ids", "id", "b", map[string]interface{}{"label": 1, "patient": "p1"}))
	require.Nil(t, s.Upsert(ctx, "ids", "id", "a", map[string]interface{}{"label": 0, "patient": nil}))
	require.Nil(t, s.Upsert(ctx, "ids", "id", "b", map[string]interface{}{"label": 2, "patient": "p1"}))

	var seen [][]interface{}
	err := s.Scan(ctx, "ids", []string{"id", "label", "patient"}, func(values []interface{}) error {
		seen = append(seen, values)
		return nil
	})
	require.Nil(t, err)
	require.Equal(t, [][]interface{}{{"b", int64(2), "p1"}, {"a", int64(0), nil}}, seen)
}

func TestReopenPreservesRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cassdl.db")
	s, err := Open(path)
	require.Nil(t, err)
	require.Nil(t, s.CreateTable("data", "id", "label", "data"))
	require.Nil(t, s.Upsert(ctx, "data", "id", "x", map[string]interface{}{"label": 4, "data": []byte{9, 8}}))
	s.Close()

	s, err = Open(path)
	require.Nil(t, err)
	defer s.Close()
	cols, err := s.Columns(ctx, "data")
	require.Nil(t, err)
	require.Equal(t, []string{"id", "label", "data"}, cols)
	q := cassdl.FetchQuery{Table: "data", IDColumn: "id", LabelColumn: "label", DataColumn: "data"}
	res, err := s.Fetch(ctx, q, []cassdl.RowID{"x", "y"})
	require.Nil(t, err)
	require.Equal(t, map[cassdl.RowID]cassdl.Sample{"x": {Label: 4, Payload: []byte{9, 8}}}, res)
}

func TestCreateTableAddsColumns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.Nil(t, s.CreateTable("ids", "id", "label"))
	require.Nil(t, s.CreateTable("ids", "label", "tag"))
	cols, err := s.Columns(ctx, "ids")
	require.Nil(t, err)
	require.Equal(t, []string{"id", "label", "tag"}, cols)
}

func TestBoltSchemaErrors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.Nil(t, s.CreateTable("ids", "id", "label"))
	var se errors.SchemaError
	_, err := s.Columns(ctx, "nope")
	require.ErrorAs(t, err, &se)
	err = s.Scan(ctx, "ids", []string{"id", "patient"}, func([]interface{}) error { return nil })
	require.ErrorAs(t, err, &se)
	require.Equal(t, "patient", se.Column)
	err = s.Upsert(ctx, "ids", "id", "x", map[string]interface{}{"other": 1})
	require.ErrorAs(t, err, &se)
	err = s.Upsert(ctx, "ids", "id", "x", map[string]interface{}{"label": 1.5})
	require.ErrorAs(t, err, &se)
}

func TestSessionCloseLeavesStoreOpen(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.Nil(t, s.CreateTable("ids", "id", "label"))
	sess, err := s.Connect(ctx)
	require.Nil(t, err)
	require.Nil(t, sess.Upsert(ctx, "ids", "id", "a", map[string]interface{}{"label": 1}))
	sess.Close()
	require.Nil(t, s.Upsert(ctx, "ids", "id", "b", map[string]interface{}{"label": 0}))
}
