package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndScan(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.CreateTable("ids", "id", "label", "patient")
	require.Nil(t, s.Upsert(ctx, "ids", "id", "b", map[string]interface{}{"label": 1, "patient": "p1"}))
	require.Nil(t, s.Upsert(ctx, "ids", "id", "a", map[string]interface{}{"label": 0, "patient": "p2"}))
	// upserting again replaces in place
	require.Nil(t, s.Upsert(ctx, "ids", "id", "b", map[string]interface{}{"label": 2, "patient": "p1"}))
	require.Equal(t, 2, s.Len("ids"))

	var seen [][]interface{}
	err := s.Scan(ctx, "ids", []string{"id", "label"}, func(values []interface{}) error {
		seen = append(seen, values)
		return nil
	})
	require.Nil(t, err)
	require.Equal(t, [][]interface{}{{"b", 2}, {"a", 0}}, seen)
}

func TestSchemaErrors(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.CreateTable("ids", "id", "label")
	var se errors.SchemaError
	_, err := s.Columns(ctx, "nope")
	require.ErrorAs(t, err, &se)
	err = s.Scan(ctx, "ids", []string{"id", "patient"}, func([]interface{}) error { return nil })
	require.ErrorAs(t, err, &se)
	require.Equal(t, "patient", se.Column)
	err = s.Upsert(ctx, "ids", "id", "x", map[string]interface{}{"other": 1})
	require.ErrorAs(t, err, &se)
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.CreateTable("data", "id", "label", "data")
	require.Nil(t, s.Upsert(ctx, "data", "id", "a", map[string]interface{}{"label": 3, "data": []byte{1, 2}}))
	q := cassdl.FetchQuery{Table: "data", IDColumn: "id", LabelColumn: "label", DataColumn: "data"}
	res, err := s.Fetch(ctx, q, []cassdl.RowID{"a", "missing"})
	require.Nil(t, err)
	require.Len(t, res, 1)
	require.Equal(t, cassdl.Sample{Label: 3, Payload: []byte{1, 2}}, res["a"])
}

func TestConnectCounting(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.CreateTable("ids", "id")
	s.FailConnect = func(n int) error {
		if n == 2 {
			return fmt.Errorf("refused")
		}
		return nil
	}
	a, err := s.Connect(ctx)
	require.Nil(t, err)
	_, err = s.Connect(ctx)
	require.NotNil(t, err)
	require.Equal(t, 2, s.Connections())
	require.Equal(t, 1, s.OpenSessions())
	a.Close()
	a.Close()
	require.Equal(t, 0, s.OpenSessions())
	require.NotNil(t, a.Upsert(ctx, "ids", "id", "x", nil))
}
