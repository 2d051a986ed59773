package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/nlink/pkg/linkstore"
)

// importOpts holds the import command options.
type importOpts struct {
	links string
	pages string
	db    string
}

// importCommand creates the import command for building an on-disk store.
func (c *CLI) importCommand() *cobra.Command {
	opts := importOpts{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import link and page tables into an on-disk link store",
		Long: `Import reads a link-sequence table and an optional page table and writes
them to a link store directory. Later commands open the store with --db
instead of parsing the tables again.

Link tables hold one page per row, as JSON lines {"page_id": 1, "links": [2, 3]}
or as TSV "page_id<TAB>2,3". Page tables hold page_id, title, namespace and
is_redirect.`,
		Example: `  nlink import --links links.jsonl --pages pages.tsv --db enwiki.db`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runImport(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.links, "links", "", "link-sequence file (.jsonl or .tsv)")
	cmd.Flags().StringVar(&opts.pages, "pages", "", "page table file (.jsonl or .tsv)")
	cmd.Flags().StringVar(&opts.db, "db", "", "link store directory to create or extend")
	_ = cmd.MarkFlagRequired("links")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func (c *CLI) runImport(ctx context.Context, opts importOpts) error {
	prog := newProgress(c.Logger)

	spin := newSpinner(ctx, "Reading "+opts.links)
	spin.Start()
	src, err := linkstore.Load(opts.links, opts.pages)
	spin.Stop()
	if err != nil {
		return err
	}
	c.Logger.Debug("read tables", "pages", src.Len(), "page_rows", src.PageCount())

	cfg := linkstore.DefaultBadgerConfig(opts.db)
	cfg.Logger = c.Logger
	dst, err := linkstore.OpenBadger(cfg)
	if err != nil {
		return err
	}
	defer dst.Close()

	spin = newSpinner(ctx, fmt.Sprintf("Writing %s pages", formatCount(src.Len())))
	spin.Start()
	written, err := dst.Import(ctx, src)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("import into %s: %w", opts.db, err)
	}
	prog.done("Imported link tables", "pages", written, "db", opts.db)

	printSuccess("Link store has %s pages", formatCount(dst.Len()))
	printFile(opts.db)
	printNewline()
	printNextStep("Analyze it", "nlink analyze --db "+opts.db)
	return nil
}
