package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/config"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/pipeline"
	"github.com/matzehuels/nlink/pkg/successor"
)

// cyclesOpts holds the cycles command options.
type cyclesOpts struct {
	store    storeFlags
	analysis analysisFlags
	n        int
	limit    int
}

// cyclesCommand creates the cycles command for listing the cycles of one N.
func (c *CLI) cyclesCommand() *cobra.Command {
	opts := cyclesOpts{}

	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "List every cycle of the N-link graph",
		Long: `Cycles builds the successor function for one N and lists every cycle it
contains, smallest member first. The list is cached per store contents.`,
		Example: `  nlink cycles --db enwiki.db --n 1
  nlink cycles --links links.tsv --n 3 --limit 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCycles(cmd, opts)
		},
	}

	opts.store.register(cmd)
	opts.analysis.registerIndex(cmd)
	opts.analysis.registerCache(cmd)
	cmd.Flags().IntVar(&opts.n, "n", 1, "link position to follow")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "cycles to list (0 = all)")

	return cmd
}

func (c *CLI) runCycles(cmd *cobra.Command, opts cyclesOpts) error {
	ctx := cmd.Context()
	if err := nlerrors.ValidateN(opts.n); err != nil {
		return err
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	opts.store.apply(cmd, &cfg.Store)
	opts.analysis.apply(cmd, &cfg.Analysis)

	store, runner, err := c.openAnalysis(ctx, cfg, opts.analysis.noCache)
	if err != nil {
		return err
	}
	defer store.Close()
	defer runner.Close()

	digest, err := runner.Digest(ctx, store)
	if err != nil {
		return err
	}
	popts := pipelineOptions(cfg.Analysis, []int{opts.n}, opts.analysis.refresh)
	idx, err := runner.BuildIndex(ctx, store, opts.n, successor.Options{DanglingAsHalt: popts.DanglingAsHalt})
	if err != nil {
		return err
	}
	cycles, cached, err := runner.CyclesWithCacheInfo(ctx, idx, digest, popts)
	if err != nil {
		return err
	}

	st := idx.Stats()
	printSuccess("N=%d: %s cycles %s", opts.n, formatCount(len(cycles)), cacheStatus(cached))
	printDetail("%s pages, %s halting, %s dangling", formatCount(st.Nodes), formatCount(st.Halting), formatCount(st.Dangling))
	if len(cycles) == 0 {
		return nil
	}

	shown := cycles
	if opts.limit > 0 && len(shown) > opts.limit {
		shown = shown[:opts.limit]
	}
	rows := make([][]string, len(shown))
	for i, cyc := range shown {
		rows[i] = []string{strconv.Itoa(i + 1), cyc.Key(), strconv.Itoa(cyc.Len())}
	}
	printNewline()
	printTable([]string{"#", "Cycle", "Length"}, rows)
	if len(shown) < len(cycles) {
		printDetail("%d more, use --limit 0 to list all", len(cycles)-len(shown))
	}
	printNewline()
	printNextStep("Map a basin", "nlink basin --n "+strconv.Itoa(opts.n)+" --cycle "+cycles[0].Key())
	return nil
}

// openAnalysis opens the store and a caching runner for one command.
func (c *CLI) openAnalysis(ctx context.Context, cfg *config.Config, noCache bool) (linkstore.Store, *pipeline.Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	store, err := c.openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	runner, err := c.newRunner(ctx, cfg.Cache, noCache)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, runner, nil
}
