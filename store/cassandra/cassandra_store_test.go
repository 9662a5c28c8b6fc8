package cassandra

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/gocql/gocql"
	"github.com/stretchr/testify/require"
)

func TestClusterConfig(t *testing.T) {
	config, err := Options{Keyspace: "images", Username: "u", Password: "p", Consistency: "quorum"}.ClusterConfig()
	require.Nil(t, err)
	require.Equal(t, DefaultHosts, config.Hosts)
	require.Equal(t, DefaultPort, config.Port)
	require.Equal(t, "images", config.Keyspace)
	require.Equal(t, 4, config.ProtoVersion)
	require.Equal(t, gocql.Quorum, config.Consistency)
	require.Equal(t, DefaultTimeout, config.Timeout)
	require.Equal(t, &gocql.SimpleRetryPolicy{NumRetries: DefaultNumRetries}, config.RetryPolicy)
	require.Equal(t, gocql.PasswordAuthenticator{Username: "u", Password: "p"}, config.Authenticator)

	config, err = Options{Hosts: []string{"a", "b"}, Keyspace: "k", Timeout: time.Second, NumRetries: -1}.ClusterConfig()
	require.Nil(t, err)
	require.Equal(t, []string{"a", "b"}, config.Hosts)
	require.Equal(t, time.Second, config.ConnectTimeout)
	require.Equal(t, &gocql.SimpleRetryPolicy{NumRetries: 0}, config.RetryPolicy)
	require.Nil(t, config.Authenticator)
}

func TestClusterConfigRejectsBadOptions(t *testing.T) {
	var ice errors.InvalidConfigError
	_, err := Options{Keyspace: "bad-name"}.ClusterConfig()
	require.ErrorAs(t, err, &ice)
	_, err = Options{Keyspace: "k", Consistency: "most"}.ClusterConfig()
	require.ErrorAs(t, err, &ice)
}

func TestStatements(t *testing.T) {
	stmt, err := selectStatement("ids", []string{"id", "label"})
	require.Nil(t, err)
	require.Equal(t, "SELECT id, label FROM ids", stmt)

	stmt, err = fetchStatement(cassdl.FetchQuery{Table: "data", IDColumn: "id", LabelColumn: "label", DataColumn: "data"})
	require.Nil(t, err)
	require.Equal(t, "SELECT id, data, label FROM data WHERE id IN ?", stmt)

	stmt, args, err := insertStatement("data", "id", "x", map[string]interface{}{"path": "a.png", "data": []byte{1}, "label": 2})
	require.Nil(t, err)
	require.Equal(t, "INSERT INTO data (id, data, label, path) VALUES (?, ?, ?, ?)", stmt)
	require.Equal(t, []interface{}{"x", []byte{1}, 2, "a.png"}, args)

	var se errors.SchemaError
	_, err = selectStatement("ids; DROP TABLE ids", []string{"id"})
	require.ErrorAs(t, err, &se)
	_, _, err = insertStatement("data", "id", "x", map[string]interface{}{"bad col": 1})
	require.ErrorAs(t, err, &se)
}

func TestChunks(t *testing.T) {
	ids := []cassdl.RowID{"a", "b", "c", "d", "e"}
	require.Equal(t, [][]cassdl.RowID{{"a", "b"}, {"c", "d"}, {"e"}}, chunks(ids, 2))
	require.Nil(t, chunks(nil, 2))
	// chunks never alias past their own end
	c := chunks(ids, 2)
	require.Equal(t, 2, cap(c[0]))
}

func TestToSample(t *testing.T) {
	q := cassdl.FetchQuery{Table: "data", IDColumn: "id", LabelColumn: "label", DataColumn: "data"}
	uid := gocql.TimeUUID()
	id, sample, err := toSample(q, map[string]interface{}{"id": uid, "label": 3, "data": []byte{7}})
	require.Nil(t, err)
	require.Equal(t, uid.String(), id)
	require.Equal(t, cassdl.Sample{Label: 3, Payload: []byte{7}}, sample)

	var se errors.SchemaError
	_, _, err = toSample(q, map[string]interface{}{"id": "x", "label": nil, "data": []byte{7}})
	require.ErrorAs(t, err, &se)
}

func TestClassify(t *testing.T) {
	require.Nil(t, classify("op", nil))
	require.True(t, errors.IsRetryable(classify("op", gocql.ErrTimeoutNoResponse)))
	require.True(t, errors.IsRetryable(classify("op", fmt.Errorf("wrapped: %w", gocql.ErrNoConnections))))
	require.False(t, errors.IsRetryable(classify("op", fmt.Errorf("boom"))))
}
