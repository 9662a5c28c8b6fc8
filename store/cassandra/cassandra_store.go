// Package cassandra reads and writes image rows held in a Cassandra cluster.
package cassandra

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/internal/util"
	"github.com/gocql/gocql"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultHosts are the default hosts in the cassandra cluster.
var DefaultHosts = []string{"localhost"}

const (
	// DefaultPort is the default native protocol port
	DefaultPort = 9042
	// DefaultConsistency is the default consistency level for reads and writes
	DefaultConsistency = "ONE"
	// DefaultTimeout is the default per-request timeout
	DefaultTimeout = 5 * time.Second
	// DefaultNumRetries is the default number of driver-level retries per request
	DefaultNumRetries = 10
	// DefaultFetchChunk is the default number of ids requested per fetch query
	DefaultFetchChunk = 32
	// DefaultFetchParallelism is the default number of fetch queries in flight per call
	DefaultFetchParallelism = 4
	// DefaultPageSize is the default page size for table scans
	DefaultPageSize = 5000
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures a connection to a Cassandra cluster
type Options struct {
	Hosts            []string
	Port             int
	Keyspace         string
	Username         string
	Password         string
	Consistency      string
	Timeout          time.Duration
	ConnectTimeout   time.Duration
	NumRetries       int
	FetchChunk       int
	FetchParallelism int
	PageSize         int
}

func (o Options) withDefaults() Options {
	if len(o.Hosts) == 0 {
		o.Hosts = DefaultHosts
	}
	if o.Port <= 0 {
		o.Port = DefaultPort
	}
	if o.Consistency == "" {
		o.Consistency = DefaultConsistency
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = o.Timeout
	}
	if o.NumRetries < 0 {
		o.NumRetries = 0
	} else if o.NumRetries == 0 {
		o.NumRetries = DefaultNumRetries
	}
	if o.FetchChunk <= 0 {
		o.FetchChunk = DefaultFetchChunk
	}
	if o.FetchParallelism <= 0 {
		o.FetchParallelism = DefaultFetchParallelism
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	return o
}

// ClusterConfig validates these Options and translates them into a driver configuration
func (o Options) ClusterConfig() (*gocql.ClusterConfig, error) {
	o = o.withDefaults()
	if !identifier.MatchString(o.Keyspace) {
		return nil, errors.InvalidConfigf("invalid keyspace %q", o.Keyspace)
	}
	consistency, err := gocql.ParseConsistencyWrapper(o.Consistency)
	if err != nil {
		return nil, errors.InvalidConfigf("invalid consistency %q", o.Consistency)
	}
	config := gocql.NewCluster(o.Hosts...)
	config.Port = o.Port
	config.Keyspace = o.Keyspace
	config.ProtoVersion = 4
	config.Consistency = consistency
	config.Timeout = o.Timeout
	config.ConnectTimeout = o.ConnectTimeout
	config.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: o.NumRetries}
	if o.Username != "" {
		config.Authenticator = gocql.PasswordAuthenticator{
			Username: o.Username,
			Password: o.Password,
		}
	}
	return config, nil
}

// Store is a session against a single keyspace
type Store struct {
	opts    Options
	session *gocql.Session
	once    sync.Once
}

// Open connects to the cluster described by opts
func Open(opts Options) (*Store, error) {
	config, err := opts.ClusterConfig()
	if err != nil {
		return nil, err
	}
	session, err := config.CreateSession()
	if err != nil {
		return nil, classify("connect", err)
	}
	return &Store{opts: opts.withDefaults(), session: session}, nil
}

// Close closes the session. It is safe to call more than once.
func (s *Store) Close() {
	s.once.Do(func() {
		if s.session != nil {
			s.session.Close()
		}
	})
}

// Columns lists the columns of a table, partition key first
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	if err := checkIdentifiers(table); err != nil {
		return nil, err
	}
	meta, err := s.session.KeyspaceMetadata(s.opts.Keyspace)
	if err != nil {
		return nil, classify("columns", err)
	}
	tm, ok := meta.Tables[strings.ToLower(table)]
	if !ok {
		return nil, errors.SchemaError{Table: table, Reason: "table does not exist"}
	}
	if len(tm.OrderedColumns) > 0 {
		return append([]string(nil), tm.OrderedColumns...), nil
	}
	columns := make([]string, 0, len(tm.Columns))
	for name := range tm.Columns {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns, nil
}

// Scan pages through every row of a table
func (s *Store) Scan(ctx context.Context, table string, columns []string, fn func(values []interface{}) error) error {
	stmt, err := selectStatement(table, columns)
	if err != nil {
		return err
	}
	iter := s.session.Query(stmt).WithContext(ctx).PageSize(s.opts.PageSize).Iter()
	for {
		row := make(map[string]interface{}, len(columns))
		if !iter.MapScan(row) {
			break
		}
		values := make([]interface{}, len(columns))
		for i, c := range columns {
			values[i] = row[strings.ToLower(c)]
		}
		if err := fn(values); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return classify("scan "+table, err)
	}
	return nil
}

// Fetch retrieves ids in chunks, with a bounded number of queries in flight. Ids with no row
// are omitted from the result.
func (s *Store) Fetch(ctx context.Context, q cassdl.FetchQuery, ids []cassdl.RowID) (map[cassdl.RowID]cassdl.Sample, error) {
	stmt, err := fetchStatement(q)
	if err != nil {
		return nil, err
	}
	var lock sync.Mutex
	result := make(map[cassdl.RowID]cassdl.Sample, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FetchParallelism)
	for _, chunk := range chunks(ids, s.opts.FetchChunk) {
		chunk := chunk
		g.Go(func() error {
			iter := s.session.Query(stmt, chunk).WithContext(gctx).Iter()
			for {
				row := make(map[string]interface{}, 3)
				if !iter.MapScan(row) {
					break
				}
				id, sample, err := toSample(q, row)
				if err != nil {
					iter.Close()
					return err
				}
				lock.Lock()
				result[id] = sample
				lock.Unlock()
			}
			if err := iter.Close(); err != nil {
				return classify("fetch "+q.Table, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert writes a row. Cassandra inserts are upserts, so repeating a write is harmless.
func (s *Store) Upsert(ctx context.Context, table string, idColumn string, id cassdl.RowID, values map[string]interface{}) error {
	stmt, args, err := insertStatement(table, idColumn, id, values)
	if err != nil {
		return err
	}
	if err := s.session.Query(stmt, args...).WithContext(ctx).Exec(); err != nil {
		return classify("upsert "+table, err)
	}
	return nil
}

// Connector opens a new Store for every Connect
type Connector struct {
	Options Options
}

// Connect opens a new session
func (c Connector) Connect(ctx context.Context) (cassdl.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Open(c.Options)
}

func checkIdentifiers(names ...string) error {
	for _, n := range names {
		if !identifier.MatchString(n) {
			return errors.SchemaError{Column: n, Reason: "not a valid identifier"}
		}
	}
	return nil
}

func selectStatement(table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", errors.SchemaError{Table: table, Reason: "no columns requested"}
	}
	if err := checkIdentifiers(append([]string{table}, columns...)...); err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table), nil
}

func fetchStatement(q cassdl.FetchQuery) (string, error) {
	columns := []string{q.IDColumn, q.DataColumn}
	if q.LabelColumn != "" {
		columns = append(columns, q.LabelColumn)
	}
	stmt, err := selectStatement(q.Table, columns)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s WHERE %s IN ?", stmt, q.IDColumn), nil
}

func insertStatement(table, idColumn string, id cassdl.RowID, values map[string]interface{}) (string, []interface{}, error) {
	columns := make([]string, 0, len(values))
	for c := range values {
		if c != idColumn {
			columns = append(columns, c)
		}
	}
	sort.Strings(columns)
	columns = append([]string{idColumn}, columns...)
	if err := checkIdentifiers(append([]string{table}, columns...)...); err != nil {
		return "", nil, err
	}
	args := make([]interface{}, len(columns))
	args[0] = id
	for i, c := range columns[1:] {
		args[i+1] = values[c]
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)
	return stmt, args, nil
}

func chunks(ids []cassdl.RowID, size int) [][]cassdl.RowID {
	var out [][]cassdl.RowID
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		out = append(out, ids[:n:n])
		ids = ids[n:]
	}
	return out
}

func toSample(q cassdl.FetchQuery, row map[string]interface{}) (cassdl.RowID, cassdl.Sample, error) {
	id, ok := util.ToKey(row[strings.ToLower(q.IDColumn)])
	if !ok {
		return "", cassdl.Sample{}, errors.SchemaError{Table: q.Table, Column: q.IDColumn, Reason: "null id"}
	}
	var sample cassdl.Sample
	if raw, ok := row[strings.ToLower(q.DataColumn)].([]byte); ok {
		sample.Payload = raw
	}
	if q.LabelColumn != "" {
		label, err := util.ToInt(row[strings.ToLower(q.LabelColumn)])
		if err != nil {
			return "", cassdl.Sample{}, errors.SchemaError{Table: q.Table, Column: q.LabelColumn, Reason: err.Error()}
		}
		sample.Label = label
	}
	return id, sample, nil
}

// classify marks transient cluster failures as retryable and schema rejections as SchemaErrors
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gocql.ErrTimeoutNoResponse) || stderrors.Is(err, gocql.ErrNoConnections) ||
		stderrors.Is(err, gocql.ErrConnectionClosed) || stderrors.Is(err, gocql.ErrNoConnectionsStarted) {
		return errors.RetryableError{Op: op, Cause: err}
	}
	var reqErr gocql.RequestError
	if stderrors.As(err, &reqErr) {
		switch reqErr.Code() {
		case gocql.ErrCodeUnavailable, gocql.ErrCodeOverloaded, gocql.ErrCodeBootstrapping,
			gocql.ErrCodeWriteTimeout, gocql.ErrCodeReadTimeout:
			return errors.RetryableError{Op: op, Cause: err}
		case gocql.ErrCodeInvalid:
			return errors.SchemaError{Reason: reqErr.Message()}
		}
	}
	return pkgerrors.Wrap(err, op)
}
