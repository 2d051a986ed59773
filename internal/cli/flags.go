package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/nlink/pkg/config"
	"github.com/matzehuels/nlink/pkg/pipeline"
)

// analysisFlags are the tuning flags shared by the analysis commands. Each
// command registers the subset it uses; only flags given on the command
// line override the config file. The single-N commands take --n as an int,
// so n is applied by analyze alone.
type analysisFlags struct {
	n              string
	maxSteps       int
	maxDepth       int
	maxRows        int
	topK           int
	concurrency    int
	danglingAsHalt bool

	noCache bool
	refresh bool
}

func (f *analysisFlags) registerBudgets(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", 0, "deepest basin layer to map (0 = unlimited)")
	cmd.Flags().IntVar(&f.maxRows, "max-rows", 0, "most pages per basin, cycle included (0 = unlimited)")
	cmd.Flags().IntVar(&f.topK, "top-k", config.DefaultTopK, "branches kept per basin")
}

func (f *analysisFlags) registerIndex(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.danglingAsHalt, "dangling-as-halt", false, "treat links to unknown pages as HALT")
}

func (f *analysisFlags) registerCache(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable caching")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "recompute cached results and overwrite them")
}

// apply overrides cfg with the flags set on the command line.
func (f *analysisFlags) apply(cmd *cobra.Command, cfg *config.AnalysisConfig) {
	override(cmd, "max-steps", &cfg.MaxSteps, f.maxSteps)
	override(cmd, "max-depth", &cfg.MaxDepth, f.maxDepth)
	override(cmd, "max-rows", &cfg.MaxRows, f.maxRows)
	override(cmd, "top-k", &cfg.TopK, f.topK)
	override(cmd, "concurrency", &cfg.Concurrency, f.concurrency)
	override(cmd, "dangling-as-halt", &cfg.DanglingAsHalt, f.danglingAsHalt)
}

// pipelineOptions converts the analysis section of cfg to runner options.
func pipelineOptions(cfg config.AnalysisConfig, ns []int, refresh bool) pipeline.Options {
	return pipeline.Options{
		Ns:             ns,
		MaxDepth:       cfg.MaxDepth,
		MaxRows:        cfg.MaxRows,
		TopK:           cfg.TopK,
		DanglingAsHalt: cfg.DanglingAsHalt,
		Concurrency:    cfg.Concurrency,
		Refresh:        refresh,
	}
}
