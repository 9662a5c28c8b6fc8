package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/go-sif/cassdl/config"
	"github.com/go-sif/cassdl/planner"
	"github.com/spf13/cobra"
)

func newPlanCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	conf := config.NewConfig()
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan splits and print their composition.",
		Long: `Loads the catalog from catalog.table, or from catalog.snapshot if that file
exists, and assigns its rows to splits either by split.ratios (optionally
balanced by split.balance) or by split.bags. Prints the number of rows of
each class in each split.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), conf, stdout, stderr)
		},
	}
	conf.RegisterFlags(planCmd.Flags())
	return planCmd
}

func runPlan(ctx context.Context, conf *config.Config, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(conf, stderr)
	cfg, err := conf.PlannerConfig()
	if err != nil {
		return err
	}
	popts, err := conf.PlannerOptions(logger)
	if err != nil {
		return err
	}
	be, err := openBackend(conf)
	if err != nil {
		return err
	}
	defer be.close()

	cat, err := loadCatalog(ctx, conf, be.source, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Catalog of %s rows in %s\n", humanize.Comma(int64(cat.Len())), cat.Table())
	splits, err := planner.Plan(cat, cfg, popts)
	if err != nil {
		return err
	}
	for _, line := range planner.Describe(splits, planner.Summarize(cat, splits)) {
		fmt.Fprintln(stdout, line)
	}
	return nil
}
