package cli

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/nlink/pkg/config"
	"github.com/matzehuels/nlink/pkg/metrics"
	"github.com/matzehuels/nlink/pkg/observability"
	"github.com/matzehuels/nlink/pkg/pipeline"
	"github.com/matzehuels/nlink/pkg/tables"
	"github.com/matzehuels/nlink/pkg/trunk"
	"github.com/matzehuels/nlink/pkg/tunnel"
)

// maxBasinsShown caps the trunkiness rows printed after a run.
const maxBasinsShown = 15

// analyzeOpts holds the analyze command options.
type analyzeOpts struct {
	store       storeFlags
	analysis    analysisFlags
	out         string
	mongo       string
	database    string
	metricsFile string
}

// analyzeCommand creates the analyze command for a full multi-N run.
func (c *CLI) analyzeCommand() *cobra.Command {
	opts := analyzeOpts{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Map every basin for a range of N and write the result tables",
		Long: `Analyze runs the full pipeline for every N in --n: it builds the successor
function, discovers every cycle, maps every basin and measures its branches,
then compares basin membership across N to find tunnel pages.

Tables are written as JSON lines to --out, or to MongoDB with --mongo:

  assignments     one row per page and basin
  branches        every branch of every basin
  branches_topk   the largest branches per basin
  trunkiness      concentration metrics per basin
  tunnels         pages whose basin changes with N

A run manifest (run.json, or the runs collection) records the options,
row counts and failed jobs.`,
		Example: `  nlink analyze --db enwiki.db --n 1-10 --out results
  nlink analyze --config nlink.toml --mongo mongodb://localhost:27017
  nlink analyze --links links.tsv --n 1,3,5 --max-depth 50 --metrics-file nlink.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAnalyze(cmd, opts)
		},
	}

	opts.store.register(cmd)
	opts.analysis.registerIndex(cmd)
	opts.analysis.registerBudgets(cmd)
	opts.analysis.registerCache(cmd)
	cmd.Flags().StringVar(&opts.analysis.n, "n", config.DefaultN, "N values, e.g. 1-5 or 1,3,7-9")
	cmd.Flags().IntVar(&opts.analysis.concurrency, "concurrency", config.DefaultConcurrency, "N values analyzed at once")
	cmd.Flags().StringVarP(&opts.out, "out", "o", config.DefaultOutputDir, "output directory")
	cmd.Flags().StringVar(&opts.mongo, "mongo", "", "write tables to this MongoDB instead of --out")
	cmd.Flags().StringVar(&opts.database, "database", config.DefaultDatabase, "MongoDB database")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")

	return cmd
}

func (c *CLI) runAnalyze(cmd *cobra.Command, opts analyzeOpts) error {
	ctx := cmd.Context()

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	opts.store.apply(cmd, &cfg.Store)
	opts.analysis.apply(cmd, &cfg.Analysis)
	override(cmd, "n", &cfg.Analysis.N, opts.analysis.n)
	override(cmd, "out", &cfg.Output.Dir, opts.out)
	override(cmd, "mongo", &cfg.Output.Mongo, opts.mongo)
	override(cmd, "database", &cfg.Output.Database, opts.database)
	override(cmd, "metrics-file", &cfg.Output.MetricsFile, opts.metricsFile)

	if err := cfg.Validate(); err != nil {
		return err
	}
	ns, err := cfg.Ns()
	if err != nil {
		return err
	}

	var reg *metrics.Registry
	if cfg.Output.MetricsFile != "" {
		reg = metrics.NewRegistry()
		reg.Register()
		defer observability.Reset()
	}

	store, runner, err := c.openAnalysis(ctx, cfg, opts.analysis.noCache)
	if err != nil {
		return err
	}
	defer store.Close()
	defer runner.Close()

	sink, dest, err := c.openSink(ctx, cfg.Output)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(context.WithoutCancel(ctx)); err != nil {
			c.Logger.Error("close output", "err", err)
		}
	}()

	popts := pipelineOptions(cfg.Analysis, ns, opts.analysis.refresh)
	c.Logger.Info("starting run", "n", cfg.Analysis.N, "out", dest, "cache", runner.Caching())
	res, runErr := runner.Execute(ctx, store, sink, popts)
	if res == nil {
		return runErr
	}

	printRunSummary(res, dest)

	if reg != nil {
		if err := reg.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			c.Logger.Error("write metrics", "path", cfg.Output.MetricsFile, "err", err)
		} else {
			printFile(cfg.Output.MetricsFile)
		}
	}

	if len(res.Errors) > 0 {
		printNewline()
		for _, e := range res.Errors {
			if e.CycleKey != "" {
				printWarning("N=%d cycle %s: %s", e.N, e.CycleKey, e.Message)
			} else {
				printWarning("N=%d: %s", e.N, e.Message)
			}
		}
		return fmt.Errorf("%d of the run's jobs failed: %w", len(res.Errors), runErr)
	}
	return nil
}

// openSink opens the MongoDB sink when configured and the file sink
// otherwise. dest describes where the tables go.
func (c *CLI) openSink(ctx context.Context, out config.OutputConfig) (tables.Sink, string, error) {
	if out.Mongo != "" {
		sink, err := tables.NewMongoSink(ctx, tables.MongoConfig{URI: out.Mongo, Database: out.Database})
		if err != nil {
			return nil, "", err
		}
		return sink, "mongodb database " + out.Database, nil
	}
	sink, err := tables.NewFileSink(out.Dir)
	if err != nil {
		return nil, "", err
	}
	return sink, out.Dir, nil
}

func printRunSummary(res *pipeline.Result, dest string) {
	total, partial := res.Basins()
	printNewline()
	printSuccess("Run %s finished in %s", res.RunID, res.Stats.Total.Round(time.Millisecond))
	printDetail("%s basins (%s partial), %s tunnel pages", formatCount(total), formatCount(partial), formatCount(res.Tunnels.Tunnels))
	printNewline()

	rows := make([][]string, 0, len(res.PerN))
	for _, s := range res.PerN {
		status := cacheStatus(s.CyclesCacheHit)
		if s.Failed {
			status = styleIconError.Render("failed")
		}
		rows = append(rows, []string{
			strconv.Itoa(s.N),
			formatCount(s.Nodes),
			formatCount(s.Halting),
			formatCount(s.Cycles),
			formatCount(s.Basins),
			formatCount(s.Partial),
			fmt.Sprintf("%d/%d", s.BasinCacheHits, s.Basins),
			status,
		})
	}
	printTable([]string{"N", "Pages", "Halting", "Cycles", "Basins", "Partial", "Basins cached", "Cycle list"}, rows)

	if len(res.Trunkiness) > 0 {
		printNewline()
		printTable([]string{"N", "Cycle", "Pages", "Branches", "Top-1", "Eff. branches", "Gini"}, largestBasins(res.Trunkiness))
	}

	if res.Tunnels.Pages > 0 {
		printNewline()
		printTunnelKinds(res.Tunnels)
	}

	if len(res.Rows) > 0 {
		printNewline()
		printInfo("Tables written to %s", dest)
		for _, t := range tables.All {
			printKeyValue(t, formatCount(res.Rows[t])+" rows")
		}
	}
}

// largestBasins returns table rows for the biggest basins of the run.
func largestBasins(rows []trunk.Row) [][]string {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b trunk.Row) int {
		switch {
		case a.TotalBasinNodes > b.TotalBasinNodes:
			return -1
		case a.TotalBasinNodes < b.TotalBasinNodes:
			return 1
		}
		return 0
	})
	if len(sorted) > maxBasinsShown {
		sorted = sorted[:maxBasinsShown]
	}
	out := make([][]string, len(sorted))
	for i, r := range sorted {
		key := r.CycleKey
		if r.Partial {
			key += " " + partialStatus(true, r.StopReason)
		}
		out[i] = []string{
			strconv.Itoa(r.N),
			key,
			formatCount(int(r.TotalBasinNodes)),
			formatCount(r.NBranches),
			formatMetric(float64(r.Top1Share)),
			formatMetric(float64(r.EffectiveBranches)),
			formatMetric(float64(r.Gini)),
		}
	}
	return out
}

func printTunnelKinds(s tunnel.Summary) {
	rows := make([][]string, 0, len(tunnel.Kinds))
	for _, k := range tunnel.Kinds {
		if n := s.ByKind[k]; n > 0 {
			rows = append(rows, []string{k.String(), formatCount(n)})
		}
	}
	printTable([]string{"Pattern", "Pages"}, rows)
	if s.Partial > 0 {
		printDetail("%s pages come from partial basin maps", formatCount(s.Partial))
	}
}
