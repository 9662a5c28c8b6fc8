// Package config holds every setting of the cassdl command, with the flag definitions that
// populate it and builders for the options of each component.
package config

import (
	"regexp"
	"strings"
	"time"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/augment"
	"github.com/go-sif/cassdl/catalog"
	"github.com/go-sif/cassdl/dataset"
	"github.com/go-sif/cassdl/decode"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/ingest"
	"github.com/go-sif/cassdl/loader"
	"github.com/go-sif/cassdl/planner"
	"github.com/go-sif/cassdl/store/cassandra"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Backing store kinds
const (
	StoreCassandra = "cassandra"
	StoreBolt      = "bolt"
)

// BagSeparator separates the tags of one bag in Split.Bags
const BagSeparator = ";"

// Config is the full configuration of the cassdl command
type Config struct {
	LogLevel    string `toml:"log-level"`
	MetricsAddr string `toml:"metrics-addr"`
	Store       string `toml:"store"`
	BoltPath    string `toml:"bolt-path"`

	Cassandra struct {
		Hosts            []string      `toml:"hosts"`
		Port             int           `toml:"port"`
		Keyspace         string        `toml:"keyspace"`
		Username         string        `toml:"username"`
		Password         string        `toml:"password"`
		Consistency      string        `toml:"consistency"`
		Timeout          time.Duration `toml:"timeout"`
		NumRetries       int           `toml:"num-retries"`
		FetchChunk       int           `toml:"fetch-chunk"`
		FetchParallelism int           `toml:"fetch-parallelism"`
	} `toml:"cassandra"`

	Catalog struct {
		Table        string   `toml:"table"`
		IDColumn     string   `toml:"id-column"`
		LabelColumn  string   `toml:"label-column"`
		GroupColumns []string `toml:"group-columns"`
		TagColumns   []string `toml:"tag-columns"`
		NumClasses   int      `toml:"num-classes"`
		Snapshot     string   `toml:"snapshot"`
	} `toml:"catalog"`

	Data struct {
		Table       string  `toml:"table"`
		DataColumn  string  `toml:"data-column"`
		LabelColumn string  `toml:"label-column"`
		Channels    int     `toml:"channels"`
		Width       int     `toml:"width"`
		Height      int     `toml:"height"`
		SmoothEps   float64 `toml:"smooth-eps"`
		Parallelism int     `toml:"parallelism"`
	} `toml:"data"`

	Split struct {
		Names         []string  `toml:"names"`
		Ratios        []float64 `toml:"ratios"`
		Balance       []float64 `toml:"balance"`
		Bags          []string  `toml:"bags"`
		Augmentations []string  `toml:"augmentations"`
		BatchSize     int       `toml:"batch-size"`
		Seed          int64     `toml:"seed"`
		UnitSeed      int64     `toml:"unit-seed"`
		PrefetchDepth int       `toml:"prefetch-depth"`
	} `toml:"split"`

	Ingest struct {
		Source       string        `toml:"source"`
		Manifest     string        `toml:"manifest"`
		Classes      []string      `toml:"classes"`
		Extensions   []string      `toml:"extensions"`
		GroupPattern string        `toml:"group-pattern"`
		Tag          string        `toml:"tag"`
		Workers      int           `toml:"workers"`
		GroupColumn  string        `toml:"group-column"`
		TagColumn    string        `toml:"tag-column"`
		PathColumn   string        `toml:"path-column"`
		RetryTimeout time.Duration `toml:"retry-timeout"`
	} `toml:"ingest"`
}

// NewConfig returns a Config with default values
func NewConfig() *Config {
	c := &Config{
		LogLevel: "info",
		Store:    StoreCassandra,
	}
	c.Cassandra.Hosts = cassandra.DefaultHosts
	c.Cassandra.Port = cassandra.DefaultPort
	c.Cassandra.Consistency = cassandra.DefaultConsistency
	c.Cassandra.Timeout = cassandra.DefaultTimeout
	c.Cassandra.NumRetries = cassandra.DefaultNumRetries
	c.Cassandra.FetchChunk = cassandra.DefaultFetchChunk
	c.Cassandra.FetchParallelism = cassandra.DefaultFetchParallelism
	c.Catalog.IDColumn = "id"
	c.Catalog.LabelColumn = catalog.DefaultLabelColumn
	c.Data.DataColumn = "data"
	c.Data.LabelColumn = catalog.DefaultLabelColumn
	c.Data.Channels = 3
	c.Split.BatchSize = planner.DefaultBatchSize
	c.Split.PrefetchDepth = loader.DefaultPrefetchDepth
	c.Ingest.RetryTimeout = 30 * time.Second
	return c
}

// RegisterFlags defines a flag for every setting of c, defaulting to its current value
func (c *Config) RegisterFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Logging level: trace, debug, info, warn or error.")
	flags.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Address serving prometheus metrics, if set.")
	flags.StringVar(&c.Store, "store", c.Store, "Backing store: cassandra or bolt.")
	flags.StringVar(&c.BoltPath, "bolt-path", c.BoltPath, "Path of the bolt store file.")

	flags.StringSliceVar(&c.Cassandra.Hosts, "cassandra.hosts", c.Cassandra.Hosts, "Cassandra contact points.")
	flags.IntVar(&c.Cassandra.Port, "cassandra.port", c.Cassandra.Port, "Cassandra native protocol port.")
	flags.StringVar(&c.Cassandra.Keyspace, "cassandra.keyspace", c.Cassandra.Keyspace, "Cassandra keyspace.")
	flags.StringVar(&c.Cassandra.Username, "cassandra.username", c.Cassandra.Username, "Cassandra user.")
	flags.StringVar(&c.Cassandra.Password, "cassandra.password", c.Cassandra.Password, "Cassandra password.")
	flags.StringVar(&c.Cassandra.Consistency, "cassandra.consistency", c.Cassandra.Consistency, "Consistency level of reads and writes.")
	flags.DurationVar(&c.Cassandra.Timeout, "cassandra.timeout", c.Cassandra.Timeout, "Per-request timeout.")
	flags.IntVar(&c.Cassandra.NumRetries, "cassandra.num-retries", c.Cassandra.NumRetries, "Driver retries per request.")
	flags.IntVar(&c.Cassandra.FetchChunk, "cassandra.fetch-chunk", c.Cassandra.FetchChunk, "Ids per fetch query.")
	flags.IntVar(&c.Cassandra.FetchParallelism, "cassandra.fetch-parallelism", c.Cassandra.FetchParallelism, "Fetch queries in flight per batch.")

	flags.StringVar(&c.Catalog.Table, "catalog.table", c.Catalog.Table, "Table holding row metadata.")
	flags.StringVar(&c.Catalog.IDColumn, "catalog.id-column", c.Catalog.IDColumn, "Id column of the metadata and data tables.")
	flags.StringVar(&c.Catalog.LabelColumn, "catalog.label-column", c.Catalog.LabelColumn, "Label column of the metadata table.")
	flags.StringSliceVar(&c.Catalog.GroupColumns, "catalog.group-columns", c.Catalog.GroupColumns, "Columns forming the grouping key.")
	flags.StringSliceVar(&c.Catalog.TagColumns, "catalog.tag-columns", c.Catalog.TagColumns, "Columns forming the split tag. Defaults to the group columns.")
	flags.IntVar(&c.Catalog.NumClasses, "catalog.num-classes", c.Catalog.NumClasses, "Number of classes.")
	flags.StringVar(&c.Catalog.Snapshot, "catalog.snapshot", c.Catalog.Snapshot, "Catalog snapshot file.")

	flags.StringVar(&c.Data.Table, "data.table", c.Data.Table, "Table holding sample payloads.")
	flags.StringVar(&c.Data.DataColumn, "data.data-column", c.Data.DataColumn, "Payload column of the data table.")
	flags.StringVar(&c.Data.LabelColumn, "data.label-column", c.Data.LabelColumn, "Label column of the data table.")
	flags.IntVar(&c.Data.Channels, "data.channels", c.Data.Channels, "Channels per sample: 1 or 3.")
	flags.IntVar(&c.Data.Width, "data.width", c.Data.Width, "Resize samples to this width.")
	flags.IntVar(&c.Data.Height, "data.height", c.Data.Height, "Resize samples to this height.")
	flags.Float64Var(&c.Data.SmoothEps, "data.smooth-eps", c.Data.SmoothEps, "Label smoothing.")
	flags.IntVar(&c.Data.Parallelism, "data.parallelism", c.Data.Parallelism, "Concurrent sample decoders. Defaults to the number of CPUs.")

	flags.StringSliceVar(&c.Split.Names, "split.names", c.Split.Names, "Split names.")
	flags.Float64SliceVar(&c.Split.Ratios, "split.ratios", c.Split.Ratios, "Relative split sizes.")
	flags.Float64SliceVar(&c.Split.Balance, "split.balance", c.Split.Balance, "Per-class balance weights.")
	flags.StringSliceVar(&c.Split.Bags, "split.bags", c.Split.Bags, "Split tags per split, separated by "+BagSeparator+".")
	flags.StringSliceVar(&c.Split.Augmentations, "split.augmentations", c.Split.Augmentations, "Augmentation pipeline per split.")
	flags.IntVar(&c.Split.BatchSize, "split.batch-size", c.Split.BatchSize, "Samples per batch.")
	flags.Int64Var(&c.Split.Seed, "split.seed", c.Split.Seed, "Base seed for shuffling.")
	flags.Int64Var(&c.Split.UnitSeed, "split.unit-seed", c.Split.UnitSeed, "Seed permuting units before they are dealt to splits.")
	flags.IntVar(&c.Split.PrefetchDepth, "split.prefetch-depth", c.Split.PrefetchDepth, "Batches loaded ahead.")

	flags.StringVar(&c.Ingest.Source, "ingest.source", c.Ingest.Source, "Root directory of the files to ingest.")
	flags.StringVar(&c.Ingest.Manifest, "ingest.manifest", c.Ingest.Manifest, "JSON lines manifest listing the files to ingest.")
	flags.StringSliceVar(&c.Ingest.Classes, "ingest.classes", c.Ingest.Classes, "Class subdirectories, in label order.")
	flags.StringSliceVar(&c.Ingest.Extensions, "ingest.extensions", c.Ingest.Extensions, "File extensions to ingest.")
	flags.StringVar(&c.Ingest.GroupPattern, "ingest.group-pattern", c.Ingest.GroupPattern, "Pattern extracting a grouping key from file names.")
	flags.StringVar(&c.Ingest.Tag, "ingest.tag", c.Ingest.Tag, "Split tag stored with every file.")
	flags.IntVar(&c.Ingest.Workers, "ingest.workers", c.Ingest.Workers, "Concurrent partitions. Defaults to the number of CPUs.")
	flags.StringVar(&c.Ingest.GroupColumn, "ingest.group-column", c.Ingest.GroupColumn, "Metadata column receiving the grouping key.")
	flags.StringVar(&c.Ingest.TagColumn, "ingest.tag-column", c.Ingest.TagColumn, "Metadata column receiving the split tag.")
	flags.StringVar(&c.Ingest.PathColumn, "ingest.path-column", c.Ingest.PathColumn, "Metadata column receiving the file path.")
	flags.DurationVar(&c.Ingest.RetryTimeout, "ingest.retry-timeout", c.Ingest.RetryTimeout, "Time spent retrying a failed write.")
}

// Validate checks the settings shared by every command
func (c *Config) Validate() error {
	switch c.Store {
	case StoreCassandra:
		if c.Cassandra.Keyspace == "" {
			return errors.InvalidConfigError{Reason: "cassandra.keyspace must be set"}
		}
	case StoreBolt:
		if c.BoltPath == "" {
			return errors.InvalidConfigError{Reason: "bolt-path must be set"}
		}
	default:
		return errors.InvalidConfigf("unknown store %q", c.Store)
	}
	if c.Catalog.IDColumn == "" {
		return errors.InvalidConfigError{Reason: "catalog.id-column must be set"}
	}
	if c.Data.Table == "" {
		return errors.InvalidConfigError{Reason: "data.table must be set"}
	}
	return nil
}

// CassandraOptions returns the connection settings
func (c *Config) CassandraOptions() cassandra.Options {
	return cassandra.Options{
		Hosts:            c.Cassandra.Hosts,
		Port:             c.Cassandra.Port,
		Keyspace:         c.Cassandra.Keyspace,
		Username:         c.Cassandra.Username,
		Password:         c.Cassandra.Password,
		Consistency:      c.Cassandra.Consistency,
		Timeout:          c.Cassandra.Timeout,
		NumRetries:       c.Cassandra.NumRetries,
		FetchChunk:       c.Cassandra.FetchChunk,
		FetchParallelism: c.Cassandra.FetchParallelism,
	}
}

// CatalogOptions returns the catalog settings
func (c *Config) CatalogOptions(logger logrus.FieldLogger) catalog.Options {
	return catalog.Options{
		Table:        c.Catalog.Table,
		IDColumn:     c.Catalog.IDColumn,
		LabelColumn:  c.Catalog.LabelColumn,
		GroupColumns: c.Catalog.GroupColumns,
		TagColumns:   c.Catalog.TagColumns,
		NumClasses:   c.Catalog.NumClasses,
		Logger:       logger,
	}
}

// LoaderOptions returns the batch loading settings
func (c *Config) LoaderOptions(logger logrus.FieldLogger) (loader.Options, error) {
	dec, err := decode.New(decode.Options{Channels: c.Data.Channels, Width: c.Data.Width, Height: c.Data.Height})
	if err != nil {
		return loader.Options{}, err
	}
	return loader.Options{
		Table:       c.Data.Table,
		IDColumn:    c.Catalog.IDColumn,
		LabelColumn: c.Data.LabelColumn,
		DataColumn:  c.Data.DataColumn,
		NumClasses:  c.Catalog.NumClasses,
		Channels:    dec.Channels(),
		Decoder:     dec,
		SmoothEps:   float32(c.Data.SmoothEps),
		Parallelism: c.Data.Parallelism,
		Seed:        c.Split.Seed,
		Logger:      logger,
	}, nil
}

// DatasetOptions returns the settings of a Dataset
func (c *Config) DatasetOptions(logger logrus.FieldLogger) (dataset.Options, error) {
	lo, err := c.LoaderOptions(logger)
	if err != nil {
		return dataset.Options{}, err
	}
	return dataset.Options{
		Catalog:       c.CatalogOptions(logger),
		Loader:        lo,
		Seed:          c.Split.Seed,
		PrefetchDepth: c.Split.PrefetchDepth,
		Logger:        logger,
	}, nil
}

// PlannerConfig returns the split configuration. Exactly one of ratios or bags must be set.
func (c *Config) PlannerConfig() (*planner.Config, error) {
	bags := make([][]string, len(c.Split.Bags))
	for i, b := range c.Split.Bags {
		for _, tag := range strings.Split(b, BagSeparator) {
			if tag = strings.TrimSpace(tag); tag != "" {
				bags[i] = append(bags[i], tag)
			}
		}
	}
	return planner.NewConfig(planner.Spec{
		Ratios:  c.Split.Ratios,
		Balance: c.Split.Balance,
		Bags:    bags,
	})
}

// PlannerOptions returns the split names, augmentations and batch size
func (c *Config) PlannerOptions(logger logrus.FieldLogger) (planner.Options, error) {
	augs := make([]cassdl.Augmentation, len(c.Split.Augmentations))
	for i, desc := range c.Split.Augmentations {
		aug, err := augment.Parse(desc)
		if err != nil {
			return planner.Options{}, err
		}
		augs[i] = aug
	}
	return planner.Options{
		Names:         c.Split.Names,
		Augmentations: augs,
		BatchSize:     c.Split.BatchSize,
		UnitSeed:      c.Split.UnitSeed,
		Logger:        logger,
	}, nil
}

// IngestOptions returns the ingestion settings
func (c *Config) IngestOptions(logger logrus.FieldLogger) ingest.Options {
	return ingest.Options{
		Workers:      c.Ingest.Workers,
		IDsTable:     c.Catalog.Table,
		DataTable:    c.Data.Table,
		IDColumn:     c.Catalog.IDColumn,
		LabelColumn:  c.Catalog.LabelColumn,
		DataColumn:   c.Data.DataColumn,
		GroupColumn:  c.Ingest.GroupColumn,
		TagColumn:    c.Ingest.TagColumn,
		PathColumn:   c.Ingest.PathColumn,
		RetryTimeout: c.Ingest.RetryTimeout,
		Logger:       logger,
	}
}

// Lister returns a Lister over the ingestion source directory
func (c *Config) Lister() (*ingest.Lister, error) {
	if c.Ingest.Source == "" {
		return nil, errors.InvalidConfigError{Reason: "ingest.source must be set"}
	}
	l := &ingest.Lister{
		Root:       c.Ingest.Source,
		Classes:    c.Ingest.Classes,
		Extensions: c.Ingest.Extensions,
		Tag:        c.Ingest.Tag,
	}
	if c.Ingest.GroupPattern != "" {
		re, err := regexp.Compile(c.Ingest.GroupPattern)
		if err != nil {
			return nil, errors.InvalidConfigf("invalid ingest.group-pattern: %v", err)
		}
		l.GroupPattern = re
	}
	return l, nil
}
