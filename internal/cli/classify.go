package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/tunnel"
)

// classifyOpts holds the classify command options.
type classifyOpts struct {
	page   int64
	asJSON bool
}

// classifyCommand creates the classify command for one page's basin sequence.
func (c *CLI) classifyCommand() *cobra.Command {
	opts := classifyOpts{}

	cmd := &cobra.Command{
		Use:   "classify <n:basin,...>",
		Short: "Classify how a page's basin changes across N",
		Long: `Classify takes the basin of one page at each N, written as comma-separated
N:basin pairs, and reports the transition pattern: stable, progressive,
alternating, partial_stable, multi_basin, single_n or no_data.

A pair with an empty basin, or "-", means the page was in no mapped basin
at that N.`,
		Example: `  nlink classify 1:12-40,2:12-40,3:7-9
  nlink classify "1:A,2:B,3:A,4:-" --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			basinByN, err := parseBasinSequence(args[0])
			if err != nil {
				return err
			}
			cl := tunnel.Classify(linkstore.NodeID(opts.page), basinByN)
			if opts.asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(cl)
			}
			printClassification(cl)
			return nil
		},
	}

	cmd.Flags().Int64Var(&opts.page, "page", 0, "page id reported with the result")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the classification as JSON")

	return cmd
}

// parseBasinSequence parses "1:a,2:b,3:" into a per-N basin map. Each N may
// appear once.
func parseBasinSequence(s string) (map[int]*string, error) {
	out := make(map[int]*string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		nStr, basin, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, nlerrors.New(nlerrors.ErrCodeInvalidInput, "expected N:basin, got %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(nStr))
		if err != nil {
			return nil, nlerrors.New(nlerrors.ErrCodeInvalidInput, "invalid N in %q", pair)
		}
		if err := nlerrors.ValidateN(n); err != nil {
			return nil, err
		}
		if _, dup := out[n]; dup {
			return nil, nlerrors.New(nlerrors.ErrCodeInvalidInput, "N=%d given twice", n)
		}
		basin = strings.TrimSpace(basin)
		if basin == "" || basin == "-" {
			out[n] = nil
			continue
		}
		out[n] = &basin
	}
	if len(out) == 0 {
		return nil, nlerrors.New(nlerrors.ErrCodeInvalidInput, "no N:basin pairs in %q", s)
	}
	return out, nil
}

func printClassification(cl tunnel.Classification) {
	fmt.Println(StyleTitle.Render(cl.Kind.String()))
	printKeyValue("Distinct basins", strconv.Itoa(cl.NDistinct))
	if cl.Primary != "" {
		printKeyValue("Primary", cl.Primary)
	}
	if cl.Secondary != "" {
		printKeyValue("Secondary", cl.Secondary)
	}
	for _, r := range cl.StableRanges {
		printDetail("%s", r)
	}
	for _, t := range cl.Transitions {
		printDetail("%s", t)
	}
}
