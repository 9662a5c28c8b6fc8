package config

import (
	"testing"
	"time"

	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/planner"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) *Config {
	t.Helper()
	c := NewConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.RegisterFlags(fs)
	require.Nil(t, fs.Parse(args))
	return c
}

func TestDefaults(t *testing.T) {
	c := parse(t)
	require.Equal(t, StoreCassandra, c.Store)
	require.Equal(t, []string{"localhost"}, c.Cassandra.Hosts)
	require.Equal(t, 9042, c.Cassandra.Port)
	require.Equal(t, planner.DefaultBatchSize, c.Split.BatchSize)
	require.Equal(t, 30*time.Second, c.Ingest.RetryTimeout)
}

func TestFlags(t *testing.T) {
	c := parse(t,
		"--cassandra.hosts=a,b",
		"--cassandra.keyspace=isic",
		"--catalog.table=ids_224",
		"--catalog.id-column=patch_id",
		"--catalog.num-classes=7",
		"--catalog.group-columns=or_split",
		"--data.table=data_224",
		"--split.ratios=7,2,1",
		"--split.augmentations=mirror:0.5+flip:0.5,,",
		"--split.batch-size=32",
	)
	require.Nil(t, c.Validate())
	require.Equal(t, []string{"a", "b"}, c.CassandraOptions().Hosts)

	cfg, err := c.PlannerConfig()
	require.Nil(t, err)
	require.Equal(t, planner.RatioMode, cfg.Mode())
	require.Equal(t, []float64{7, 2, 1}, cfg.Ratios())

	popts, err := c.PlannerOptions(nil)
	require.Nil(t, err)
	require.Len(t, popts.Augmentations, 3)
	require.Equal(t, 32, popts.BatchSize)

	co := c.CatalogOptions(nil)
	require.Equal(t, "patch_id", co.IDColumn)
	require.Equal(t, []string{"or_split"}, co.GroupColumns)

	lo, err := c.LoaderOptions(nil)
	require.Nil(t, err)
	require.Equal(t, "data_224", lo.Table)
	require.Equal(t, "patch_id", lo.IDColumn)
	require.Equal(t, 7, lo.NumClasses)
	require.Equal(t, 3, lo.Channels)
}

func TestBags(t *testing.T) {
	c := parse(t, "--split.bags=training,validation;val2,test")
	cfg, err := c.PlannerConfig()
	require.Nil(t, err)
	require.Equal(t, planner.BagMode, cfg.Mode())
	require.Equal(t, [][]string{{"training"}, {"validation", "val2"}, {"test"}}, cfg.Bags())

	c = parse(t, "--split.bags=a", "--split.ratios=1")
	_, err = c.PlannerConfig()
	var ice errors.InvalidConfigError
	require.ErrorAs(t, err, &ice)
}

func TestValidate(t *testing.T) {
	var ice errors.InvalidConfigError
	require.ErrorAs(t, parse(t, "--data.table=d").Validate(), &ice)
	require.ErrorAs(t, parse(t, "--store=bolt", "--data.table=d").Validate(), &ice)
	require.Nil(t, parse(t, "--store=bolt", "--bolt-path=x.db", "--data.table=d").Validate())
	require.ErrorAs(t, parse(t, "--store=sqlite", "--data.table=d").Validate(), &ice)

	_, err := parse(t, "--split.augmentations=spin:3").PlannerOptions(nil)
	require.ErrorAs(t, err, &ice)
	_, err = parse(t, "--data.channels=2").LoaderOptions(nil)
	require.NotNil(t, err)
}

func TestLister(t *testing.T) {
	_, err := parse(t).Lister()
	require.NotNil(t, err)
	_, err = parse(t, "--ingest.source=/tmp", "--ingest.group-pattern=(").Lister()
	require.NotNil(t, err)
	l, err := parse(t, "--ingest.source=/tmp", "--ingest.group-pattern=^(p[0-9]+)_").Lister()
	require.Nil(t, err)
	require.Equal(t, "/tmp", l.Root)
	require.NotNil(t, l.GroupPattern)
}
