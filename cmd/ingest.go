package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-sif/cassdl/config"
	"github.com/go-sif/cassdl/ingest"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newIngestCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	conf := config.NewConfig()
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Write a directory of images into the store.",
		Long: `Writes every image under ingest.source into the store: a metadata row in
catalog.table and a payload row in data.table. Images are either listed
from one subdirectory per class, or read from a JSON lines manifest given
by ingest.manifest.

Row ids are derived from file paths, so ingesting the same files again
overwrites rows instead of duplicating them. Files which fail to ingest
are reported and do not stop the others.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), conf, stdout, stderr)
		},
	}
	conf.RegisterFlags(ingestCmd.Flags())
	return ingestCmd
}

func listJobs(conf *config.Config) ([]ingest.Job, error) {
	if conf.Ingest.Manifest != "" {
		f, err := os.Open(conf.Ingest.Manifest)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ingest.ReadManifest(f, conf.Ingest.Source, ingest.ManifestConf{Comment: '#'})
	}
	l, err := conf.Lister()
	if err != nil {
		return nil, err
	}
	return l.List()
}

func runIngest(ctx context.Context, conf *config.Config, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(conf, stderr)
	stop, err := serveMetrics(conf.MetricsAddr, logger)
	if err != nil {
		return err
	}
	defer stop()

	jobs, err := listJobs(conf)
	if err != nil {
		return err
	}
	be, err := openBackend(conf)
	if err != nil {
		return err
	}
	defer be.close()

	d, err := ingest.NewDistributor(be.connector, conf.IngestOptions(logger))
	if err != nil {
		return err
	}
	summary, err := d.Run(ctx, jobs)
	if err != nil {
		return err
	}
	runtime := summary.Stats.GetRuntime()
	fmt.Fprintf(stdout, "Ingested %s of %s files over %d partitions in %s (%s files/s)\n",
		humanize.Comma(int64(summary.Written)),
		humanize.Comma(int64(summary.Total)),
		summary.Partitions,
		runtime.Round(time.Millisecond),
		perSecond(summary.Written, runtime),
	)
	processed, failed := summary.Stats.GetNumJobsProcessed(), summary.Stats.GetNumJobsFailed()
	for i, rt := range summary.Stats.GetPartitionRuntimes() {
		logger.WithFields(logrus.Fields{
			"partition": i,
			"processed": processed[i],
			"failed":    failed[i],
			"runtime":   rt.Round(time.Millisecond),
		}).Debug("Partition finished")
	}
	logger.WithField("latency", summary.Stats.GetCurrentJobProcessingTime()).Debug("Rolling average file latency")
	for _, p := range summary.FailedPaths() {
		fmt.Fprintf(stdout, "failed: %s\n", p)
	}
	return summary.Err()
}
