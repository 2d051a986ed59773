package cli

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/pipeline"
	"github.com/matzehuels/nlink/pkg/successor"
	"github.com/matzehuels/nlink/pkg/trace"
)

// maxPathShown caps the pages printed per traced path.
const maxPathShown = 24

// traceOpts holds the trace command options.
type traceOpts struct {
	store    storeFlags
	analysis analysisFlags
	n        int
	sample   int
	seed     uint64
	top      int
}

// traceCommand creates the trace command for following single pages.
func (c *CLI) traceCommand() *cobra.Command {
	opts := traceOpts{}

	cmd := &cobra.Command{
		Use:   "trace [page-id...]",
		Short: "Follow the Nth link from pages until HALT or a cycle",
		Long: `Trace follows the Nth link from each given page until the walk halts on a
page with fewer than N links, returns to a page it already visited, or
reaches --max-steps.

With --sample, trace walks randomly chosen pages instead and prints how the
walks ended and which cycles they reached most often.`,
		Example: `  nlink trace --db enwiki.db --n 1 12 40
  nlink trace --db enwiki.db --n 5 --sample 10000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.sample <= 0 {
				return fmt.Errorf("give page ids or --sample")
			}
			return c.runTrace(cmd, args, opts)
		},
	}

	opts.store.register(cmd)
	opts.analysis.registerIndex(cmd)
	cmd.Flags().IntVar(&opts.n, "n", 1, "link position to follow")
	cmd.Flags().IntVar(&opts.analysis.maxSteps, "max-steps", 0, "stop after this many steps (0 = unlimited)")
	cmd.Flags().IntVar(&opts.sample, "sample", 0, "trace this many random pages")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "random seed for --sample")
	cmd.Flags().IntVar(&opts.top, "top", 10, "cycles listed for --sample")
	cmd.Flags().IntVar(&opts.analysis.concurrency, "concurrency", 0, "trace workers for --sample (0 = all CPUs)")

	return cmd
}

func (c *CLI) runTrace(cmd *cobra.Command, args []string, opts traceOpts) error {
	ctx := cmd.Context()
	starts, err := parseIDs(args)
	if err != nil {
		return err
	}
	if err := nlerrors.ValidateN(opts.n); err != nil {
		return err
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	opts.store.apply(cmd, &cfg.Store)
	opts.analysis.apply(cmd, &cfg.Analysis)

	store, err := c.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runner := pipeline.NewRunner(nil, nil, c.Logger)
	idx, err := runner.BuildIndex(ctx, store, opts.n, successor.Options{DanglingAsHalt: cfg.Analysis.DanglingAsHalt})
	if err != nil {
		return err
	}

	if opts.sample > 0 {
		workers := 0
		if cmd.Flags().Changed("concurrency") {
			workers = cfg.Analysis.Concurrency
		}
		return c.runTraceSample(ctx, idx, opts, cfg.Analysis.MaxSteps, workers)
	}

	for _, start := range starts {
		res, err := trace.Trace(idx, start, cfg.Analysis.MaxSteps)
		if err != nil {
			return err
		}
		printTraceResult(opts.n, res)
	}
	return nil
}

func (c *CLI) runTraceSample(ctx context.Context, idx *successor.Index, opts traceOpts, maxSteps, workers int) error {
	starts := samplePages(idx.Nodes(), opts.sample, opts.seed)
	prog := newProgress(c.Logger)
	sum, err := trace.Sample(ctx, idx, starts, maxSteps, workers)
	if err != nil {
		return err
	}
	prog.done("Traced sample", "n", opts.n, "traces", sum.Traces)

	printKeyValue("Traces", formatCount(sum.Traces))
	printKeyValue("Halt", formatCount(sum.Halts))
	printKeyValue("Cycle", formatCount(sum.Cycles))
	printKeyValue("Truncated", formatCount(sum.Truncated))
	printKeyValue("Distinct cycles", formatCount(sum.DistinctCycles))
	printKeyValue("Mean steps", formatMetric(sum.MeanSteps))
	printKeyValue("Max steps", formatCount(sum.MaxSteps))
	printKeyValue("Max transient", formatCount(sum.MaxTransient))

	if len(sum.CycleHits) == 0 {
		return nil
	}
	printNewline()
	rows := make([][]string, 0, opts.top)
	for i, hit := range topCycles(sum.CycleHits, opts.top) {
		share := float64(hit.count) / float64(sum.Traces)
		rows = append(rows, []string{strconv.Itoa(i + 1), hit.key, formatCount(hit.count), formatMetric(share)})
	}
	printTable([]string{"#", "Cycle", "Traces", "Share"}, rows)
	return nil
}

func printTraceResult(n int, res trace.Result) {
	fmt.Println(StyleTitle.Render(fmt.Sprintf("%d", res.Start)) + StyleDim.Render(fmt.Sprintf(" at N=%d", n)))
	printKeyValue("Terminal", res.Terminal.String())
	printKeyValue("Steps", strconv.Itoa(res.Steps))
	printKeyValue("Transient", strconv.Itoa(res.TransientLength))
	if res.Terminal == trace.TerminalCycle {
		printKeyValue("Cycle", res.Cycle.Key())
		printKeyValue("Cycle length", strconv.Itoa(res.CycleLength))
	}
	printKeyValue("Path", formatPath(res.Path))
	printNewline()
}

// formatPath joins ids with arrows, eliding the middle of long paths.
func formatPath(path []linkstore.NodeID) string {
	parts := make([]string, 0, min(len(path), maxPathShown)+1)
	for i, id := range path {
		if len(path) > maxPathShown && i == maxPathShown/2 {
			parts = append(parts, fmt.Sprintf("… %d more …", len(path)-maxPathShown))
		}
		if len(path) > maxPathShown && i >= maxPathShown/2 && i < len(path)-maxPathShown/2 {
			continue
		}
		parts = append(parts, strconv.FormatInt(int64(id), 10))
	}
	return strings.Join(parts, " "+iconArrow+" ")
}

func parseIDs(args []string) ([]linkstore.NodeID, error) {
	ids := make([]linkstore.NodeID, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil || v < 0 {
			return nil, nlerrors.New(nlerrors.ErrCodeInvalidInput, "invalid page id %q", a)
		}
		ids = append(ids, linkstore.NodeID(v))
	}
	return ids, nil
}

// samplePages picks k distinct pages with a seeded generator, so a seed
// reproduces the sample. k >= len(nodes) returns every page.
func samplePages(nodes []linkstore.NodeID, k int, seed uint64) []linkstore.NodeID {
	if k >= len(nodes) {
		return slices.Clone(nodes)
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	out := make([]linkstore.NodeID, k)
	for i, p := range rng.Perm(len(nodes))[:k] {
		out[i] = nodes[p]
	}
	return out
}

type cycleHit struct {
	key   string
	count int
}

// topCycles orders hits by count descending, then key.
func topCycles(hits map[string]int, k int) []cycleHit {
	out := make([]cycleHit, 0, len(hits))
	for key, n := range hits {
		out = append(out, cycleHit{key, n})
	}
	slices.SortFunc(out, func(a, b cycleHit) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
