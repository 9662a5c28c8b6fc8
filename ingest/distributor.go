// Package ingest writes image files into a backing store using parallel workers. The job list
// is split into contiguous partitions; each partition is written by one worker over one
// connection, and a failure in one file or one partition never stops the others.
package ingest

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/internal/stats"
	"github.com/go-sif/cassdl/internal/util"
	"github.com/go-sif/cassdl/logging"
	"github.com/go-sif/cassdl/metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options configure a Distributor
type Options struct {
	// Workers is the number of partitions, and therefore of concurrent connections. Defaults to the number of CPUs.
	Workers int
	// IDsTable receives one metadata row per file
	IDsTable string
	// DataTable receives one payload row per file
	DataTable   string
	IDColumn    string // defaults to "id"
	LabelColumn string // defaults to "label"
	DataColumn  string // defaults to "data"
	// GroupColumn and TagColumn, if set, receive the job's group and tag in the metadata table
	GroupColumn string
	TagColumn   string
	// PathColumn, if set, receives the file path in the metadata table
	PathColumn string
	// RetryTimeout bounds the time spent retrying a write which failed with a RetryableError. Defaults to 30s.
	RetryTimeout time.Duration
	// ReadFile reads a job's payload. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
	Logger   logrus.FieldLogger
}

func (o *Options) ensureDefaults() error {
	if o.IDsTable == "" || o.DataTable == "" {
		return errors.InvalidConfigError{Reason: "ingestion ids and data tables must be set"}
	}
	if o.Workers < 0 {
		return errors.InvalidConfigf("workers must be positive, got %d", o.Workers)
	}
	if o.Workers == 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.LabelColumn == "" {
		o.LabelColumn = "label"
	}
	if o.DataColumn == "" {
		o.DataColumn = "data"
	}
	if o.RetryTimeout == 0 {
		o.RetryTimeout = 30 * time.Second
	}
	if o.ReadFile == nil {
		o.ReadFile = os.ReadFile
	}
	o.Logger = logging.OrNop(o.Logger)
	return nil
}

// Failure stages
const (
	StageConnect   = "connect"
	StageRead      = "read"
	StageWrite     = "write"
	StageCancelled = "cancelled"
)

// Distributor runs ingestion jobs against a Connector
type Distributor struct {
	connector cassdl.Connector
	opts      Options
}

// NewDistributor creates a Distributor
func NewDistributor(connector cassdl.Connector, opts Options) (*Distributor, error) {
	if connector == nil {
		return nil, errors.InvalidConfigError{Reason: "a connector is required"}
	}
	if err := opts.ensureDefaults(); err != nil {
		return nil, err
	}
	return &Distributor{connector: connector, opts: opts}, nil
}

// Run ingests every job. Per-file and per-partition failures are recorded in the Summary, not
// returned; Run itself only fails if ctx is cancelled, in which case the Summary describes the
// work completed so far.
func (d *Distributor) Run(ctx context.Context, jobs []Job) (*Summary, error) {
	pm := NewPartitionMap(jobs, d.opts.Workers)
	summary := newSummary(len(jobs), pm.Len())
	d.opts.Logger.WithFields(logrus.Fields{"jobs": len(jobs), "partitions": pm.Len()}).Info("Starting ingestion")

	var g errgroup.Group
	for pm.HasNext() {
		part := pm.Next()
		g.Go(func() error {
			d.runPartition(ctx, part, summary)
			return nil
		})
	}
	_ = g.Wait()
	summary.finish()

	d.opts.Logger.WithFields(logrus.Fields{
		"written": summary.Written,
		"failed":  len(summary.Failures),
		"runtime": summary.Stats.GetRuntime(),
	}).Info("Finished ingestion")
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (d *Distributor) runPartition(ctx context.Context, part Partition, summary *Summary) {
	start := time.Now()
	logger := d.opts.Logger.WithField("partition", part.Index)
	defer summary.Stats.EndPartition(part.Index, start)

	session, err := d.connector.Connect(ctx)
	if err != nil {
		logger.WithError(err).Error("Unable to connect, failing partition")
		for i, job := range part.Jobs {
			summary.fail(part.Index, i, job, StageConnect, err)
			summary.Stats.EndJob(part.Index, start, true)
		}
		return
	}
	defer session.Close()

	for i, job := range part.Jobs {
		jobStart := time.Now()
		if err := ctx.Err(); err != nil {
			for j := i; j < len(part.Jobs); j++ {
				summary.fail(part.Index, j, part.Jobs[j], StageCancelled, err)
			}
			return
		}
		var stage string
		err := util.SafeOperation(job.Path, func() error {
			var err error
			stage, err = d.write(ctx, session, job)
			return err
		})()
		if err != nil {
			if stage == "" {
				stage = StageWrite
			}
			logger.WithError(err).WithField("path", job.Path).Warn("Unable to ingest file")
			summary.fail(part.Index, i, job, stage, err)
		} else {
			summary.succeed()
		}
		summary.Stats.EndJob(part.Index, jobStart, err != nil)
	}
	logger.WithField("jobs", len(part.Jobs)).Debug("Finished partition")
}

func (d *Distributor) write(ctx context.Context, session cassdl.Session, job Job) (string, error) {
	payload, err := d.opts.ReadFile(job.Path)
	if err != nil {
		return StageRead, err
	}
	meta := map[string]interface{}{d.opts.LabelColumn: job.Label}
	if d.opts.GroupColumn != "" {
		meta[d.opts.GroupColumn] = nullable(job.Group)
	}
	if d.opts.TagColumn != "" {
		meta[d.opts.TagColumn] = nullable(job.Tag)
	}
	if d.opts.PathColumn != "" {
		meta[d.opts.PathColumn] = job.Path
	}
	data := map[string]interface{}{d.opts.LabelColumn: job.Label, d.opts.DataColumn: payload}

	if err := d.upsert(ctx, session, d.opts.DataTable, job.ID, data); err != nil {
		return StageWrite, err
	}
	if err := d.upsert(ctx, session, d.opts.IDsTable, job.ID, meta); err != nil {
		return StageWrite, err
	}
	return "", nil
}

// upsert writes a row, retrying with exponential backoff while the store reports a retryable failure
func (d *Distributor) upsert(ctx context.Context, session cassdl.Session, table string, id cassdl.RowID, values map[string]interface{}) error {
	params := backoff.NewExponentialBackOff()
	params.InitialInterval = 50 * time.Millisecond
	params.MaxInterval = 2 * time.Second
	params.MaxElapsedTime = d.opts.RetryTimeout
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.CounterIngestRetries.Inc()
		}
		err := session.Upsert(ctx, table, d.opts.IDColumn, id, values)
		if err == nil {
			return nil
		}
		if errors.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(params, ctx))
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Failure records a file which could not be ingested
type Failure struct {
	Partition int
	Job       Job
	Stage     string
	Err       error
	index     int
}

// Error returns a textual representation of this Failure
func (f Failure) Error() string {
	return fmt.Sprintf("partition %d, %s %s: %v", f.Partition, f.Stage, f.Job.Path, f.Err)
}

// Unwrap returns the underlying error
func (f Failure) Unwrap() error {
	return f.Err
}

// Summary describes the outcome of an ingestion run
type Summary struct {
	Total      int
	Partitions int
	Written    int
	Failures   []Failure
	Stats      *stats.RunStatistics

	lock sync.Mutex
}

func newSummary(total int, partitions int) *Summary {
	s := &Summary{Total: total, Partitions: partitions, Stats: &stats.RunStatistics{}}
	s.Stats.Start(partitions)
	return s
}

func (s *Summary) succeed() {
	s.lock.Lock()
	s.Written++
	s.lock.Unlock()
	metrics.CounterIngestedJobs.Inc()
}

func (s *Summary) fail(partition int, index int, job Job, stage string, err error) {
	s.lock.Lock()
	s.Failures = append(s.Failures, Failure{Partition: partition, Job: job, Stage: stage, Err: err, index: index})
	s.lock.Unlock()
	metrics.CounterFailedJobs.WithLabelValues(stage).Inc()
}

func (s *Summary) finish() {
	sort.Slice(s.Failures, func(a, b int) bool {
		fa, fb := s.Failures[a], s.Failures[b]
		if fa.Partition != fb.Partition {
			return fa.Partition < fb.Partition
		}
		return fa.index < fb.index
	})
	s.Stats.Finish()
}

// OK returns true iff every file was written
func (s *Summary) OK() bool {
	return len(s.Failures) == 0
}

// FailedPaths returns the paths of every file which could not be ingested
func (s *Summary) FailedPaths() []string {
	paths := make([]string, len(s.Failures))
	for i, f := range s.Failures {
		paths[i] = f.Job.Path
	}
	return paths
}

// Err combines every failure into a single error, or returns nil if there were none
func (s *Summary) Err() error {
	if s.OK() {
		return nil
	}
	var merr *multierror.Error
	for _, f := range s.Failures {
		merr = multierror.Append(merr, f)
	}
	merr.ErrorFormat = func(errs []error) string {
		return fmt.Sprintf("%d of %d files failed to ingest:\n%s", len(errs), s.Total, util.FormatMultiError(errs))
	}
	return merr
}
