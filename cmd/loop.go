package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-sif/cassdl/config"
	"github.com/go-sif/cassdl/dataset"
	"github.com/spf13/cobra"
)

type loopOptions struct {
	Epochs  int
	Split   int
	Shuffle bool
}

func newLoopCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	conf := config.NewConfig()
	lo := loopOptions{Epochs: 1, Shuffle: true}
	loopCmd := &cobra.Command{
		Use:   "loop",
		Short: "Read every batch of a split and report throughput.",
		Long: `Plans splits as the plan command does, then reads every batch of one split
for a number of epochs, decoding and augmenting each sample, and reports
the number of samples read per second.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd.Context(), conf, lo, stdout, stderr)
		},
	}
	flags := loopCmd.Flags()
	conf.RegisterFlags(flags)
	flags.IntVar(&lo.Epochs, "epochs", lo.Epochs, "Number of epochs to read.")
	flags.IntVar(&lo.Split, "split", lo.Split, "Index of the split to read.")
	flags.BoolVar(&lo.Shuffle, "shuffle", lo.Shuffle, "Shuffle every epoch.")
	return loopCmd
}

func runLoop(ctx context.Context, conf *config.Config, lo loopOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(conf, stderr)
	stop, err := serveMetrics(conf.MetricsAddr, logger)
	if err != nil {
		return err
	}
	defer stop()

	cfg, err := conf.PlannerConfig()
	if err != nil {
		return err
	}
	popts, err := conf.PlannerOptions(logger)
	if err != nil {
		return err
	}
	dopts, err := conf.DatasetOptions(logger)
	if err != nil {
		return err
	}
	be, err := openBackend(conf)
	if err != nil {
		return err
	}
	defer be.close()

	ds, err := dataset.New(be.source, dopts)
	if err != nil {
		return err
	}
	defer ds.Close()
	cat, err := loadCatalog(ctx, conf, be.source, logger)
	if err != nil {
		return err
	}
	ds.UseCatalog(cat)
	if err := ds.Setup(cfg, popts); err != nil {
		return err
	}
	if err := ds.SetCurrentSplit(lo.Split); err != nil {
		return err
	}
	name := ds.Splits()[lo.Split].Name

	for e := 0; e < lo.Epochs; e++ {
		if err := ds.RewindSplit(lo.Split, lo.Shuffle); err != nil {
			return err
		}
		n, err := ds.NumBatches(lo.Split)
		if err != nil {
			return err
		}
		start := time.Now()
		samples := 0
		for b := 0; b < n; b++ {
			batch, err := ds.LoadBatch(ctx)
			if err != nil {
				return err
			}
			samples += batch.Len()
		}
		elapsed := time.Since(start)
		fmt.Fprintf(stdout, "epoch %d of %s: %s samples in %d batches, %s (%s samples/s)\n",
			e+1, name,
			humanize.Comma(int64(samples)), n,
			elapsed.Round(time.Millisecond),
			perSecond(samples, elapsed),
		)
	}
	return nil
}
