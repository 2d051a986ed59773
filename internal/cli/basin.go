package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/branch"
	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/successor"
	"github.com/matzehuels/nlink/pkg/tables"
	"github.com/matzehuels/nlink/pkg/trace"
	"github.com/matzehuels/nlink/pkg/trunk"
)

// maxLayersShown caps the layer sizes printed for one basin.
const maxLayersShown = 12

// basinOpts holds the basin command options.
type basinOpts struct {
	store    storeFlags
	analysis analysisFlags
	n        int
	cycle    string
	page     int64
	out      string
}

// basinCommand creates the basin command for mapping one basin.
func (c *CLI) basinCommand() *cobra.Command {
	opts := basinOpts{page: -1}

	cmd := &cobra.Command{
		Use:   "basin",
		Short: "Map the basin of one cycle and measure its branches",
		Long: `Basin maps every page that drains into one cycle, groups the pages by the
entry node through which they reach the cycle, and prints the largest
branches with the basin's trunkiness metrics.

Select the cycle with --cycle, or with --page to use the cycle that page
reaches. --max-depth and --max-rows bound the search; a bounded basin is
reported as partial.`,
		Example: `  nlink basin --db enwiki.db --n 1 --cycle 12-40-77
  nlink basin --db enwiki.db --n 5 --page 1234 --top-k 20 --out basin-out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.cycle == "") == (opts.page < 0) {
				return fmt.Errorf("give exactly one of --cycle and --page")
			}
			return c.runBasin(cmd, opts)
		},
	}

	opts.store.register(cmd)
	opts.analysis.registerIndex(cmd)
	opts.analysis.registerBudgets(cmd)
	opts.analysis.registerCache(cmd)
	cmd.Flags().IntVar(&opts.n, "n", 1, "link position to follow")
	cmd.Flags().StringVar(&opts.cycle, "cycle", "", "cycle key, e.g. 12-40-77")
	cmd.Flags().Int64Var(&opts.page, "page", -1, "map the basin of the cycle this page reaches")
	cmd.Flags().StringVar(&opts.out, "out", "", "also write assignment and branch rows to this directory")

	return cmd
}

func (c *CLI) runBasin(cmd *cobra.Command, opts basinOpts) error {
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

	cycle, err := resolveCycle(idx, opts)
	if err != nil {
		return err
	}

	prog := newProgress(c.Logger)
	res, cached, err := runner.BasinWithCacheInfo(ctx, idx, digest, cycle, popts)
	if err != nil {
		return err
	}
	prog.done("Mapped basin", "n", opts.n, "cycle", res.Key(), "nodes", res.TotalNodes)

	br := branch.Analyze(res.Assignments, popts.TopK)
	if err := br.CheckPartition(); err != nil {
		return err
	}
	row := trunk.BuildRow(opts.n, res, br)
	printBasin(res, br, row, cached)

	if opts.out != "" {
		return c.writeBasinTables(cmd, opts.out, opts.n, res, br)
	}
	return nil
}

// resolveCycle returns the cycle named by --cycle, or the one --page reaches.
func resolveCycle(idx *successor.Index, opts basinOpts) (trace.Cycle, error) {
	if opts.cycle != "" {
		cycle, err := trace.ParseKey(opts.cycle)
		if err != nil {
			return nil, err
		}
		return cycle, trace.Validate(idx, cycle)
	}
	res, err := trace.Trace(idx, linkstore.NodeID(opts.page), 0)
	if err != nil {
		return nil, err
	}
	if res.Terminal != trace.TerminalCycle {
		return nil, nlerrors.New(nlerrors.ErrCodeInvalidInput,
			"page %d halts after %d steps at N=%d and reaches no cycle", opts.page, res.Steps, opts.n)
	}
	return res.Cycle, nil
}

func printBasin(res *basin.Result, br *branch.Result, row trunk.Row, cached bool) {
	fmt.Println(StyleTitle.Render(res.Key()) + " " + cacheStatus(cached) + " " + partialStatus(res.Partial, res.Stop.String()))
	printKeyValue("Cycle length", strconv.Itoa(len(res.Cycle)))
	printKeyValue("Basin size", formatCount(res.TotalNodes))
	printKeyValue("Max depth", strconv.Itoa(res.MaxDepth))
	printKeyValue("Branches", formatCount(len(br.Branches)))
	printKeyValue("Top-1 share", formatMetric(float64(row.Top1Share)))
	printKeyValue("Top-5 share", formatMetric(float64(row.Top5Share)))
	printKeyValue("Top-10 share", formatMetric(float64(row.Top10Share)))
	printKeyValue("Effective branches", formatMetric(float64(row.EffectiveBranches)))
	printKeyValue("Gini", formatMetric(float64(row.Gini)))
	printKeyValue("Entropy (norm)", formatMetric(float64(row.EntropyNorm)))
	printKeyValue("Layers", formatLayers(res.Layers))

	if len(br.TopK) == 0 {
		return
	}
	printNewline()
	rows := make([][]string, len(br.TopK))
	for i, b := range br.TopK {
		share := float64(b.Size) / float64(br.BasinSize)
		rows[i] = []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(int64(b.Entry), 10),
			formatCount(b.Size),
			formatMetric(share),
			strconv.FormatUint(uint64(b.MaxDepth), 10),
		}
	}
	printTable([]string{"#", "Entry", "Pages", "Share", "Depth"}, rows)
}

// formatLayers lists layer sizes from the cycle outward.
func formatLayers(layers []basin.LayerInfo) string {
	s := ""
	for i, l := range layers {
		if i == maxLayersShown {
			s += fmt.Sprintf(" … (%d layers)", len(layers))
			break
		}
		if i > 0 {
			s += " "
		}
		s += formatCount(l.Size)
	}
	return s
}

// writeBasinTables writes the assignment and branch rows of one basin as
// JSON lines under dir.
func (c *CLI) writeBasinTables(cmd *cobra.Command, dir string, n int, res *basin.Result, br *branch.Result) error {
	ctx := cmd.Context()
	sink, err := tables.NewFileSink(dir)
	if err != nil {
		return err
	}
	set := tables.Open(ctx, sink, tables.Options{Logger: c.Logger})
	werr := set.Table(tables.Assignments).Write(ctx, tables.AssignmentRows(n, res)...)
	if werr == nil {
		werr = set.Table(tables.Branches).Write(ctx, tables.BranchRows(n, res.Key(), br.Branches)...)
	}
	rows, cerr := set.Close()
	if err := sink.Close(ctx); err != nil && cerr == nil {
		cerr = err
	}
	if werr != nil {
		return werr
	}
	if cerr != nil {
		return cerr
	}

	printNewline()
	printSuccess("Wrote %s assignment and %s branch rows",
		formatCount(rows[tables.Assignments]), formatCount(rows[tables.Branches]))
	printFile(sink.Path(tables.Assignments))
	printFile(sink.Path(tables.Branches))
	return nil
}
