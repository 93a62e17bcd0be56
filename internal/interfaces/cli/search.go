package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/pkg/errors"
)

type searchOptions struct {
	query         string
	list          string
	target        string
	format        string
	minSimilarity float64
	maxHits       int
	chop          bool
	device        string
	model         string
	output        string
}

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	o := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search a structure or a structure list against an embedding database",
		Long: "Search embeds the query structure (or every structure of a list file with\n" +
			"lines \"path id [note]\") and reports database entries ranked by Progres score.",
		Example: "  progres search -q query.pdb -t scope95\n" +
			"  progres search -l queries.txt -t cath40 -s 0.9 -m 20 -c",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.query, "query", "q", "", "query structure file")
	f.StringVarP(&o.list, "list", "l", "", "structure list file (path id [note] per line)")
	f.StringVarP(&o.target, "target", "t", "", "target database alias, file, s3://bucket/key or pg:<collection>")
	f.StringVarP(&o.format, "format", "f", "", "structure format: guess, pdb, mmcif, mmtf or coords")
	f.Float64VarP(&o.minSimilarity, "minsimilarity", "s", embedding.DefaultMinSimilarity, "Progres score threshold in [0, 1]")
	f.IntVarP(&o.maxHits, "maxhits", "m", embedding.DefaultMaxHits, "maximum number of hits per query")
	f.BoolVarP(&o.chop, "chop", "c", false, "split queries into domains before searching")
	f.StringVarP(&o.device, "device", "d", "", "device: cpu, cuda[:n] or mps")
	f.StringVar(&o.model, "model", "", "embedding model name")
	f.StringVarP(&o.output, "output", "o", "text", "output format: text, json or table")
	cmd.MarkFlagsMutuallyExclusive("query", "list")
	return cmd
}

func runSearch(cmd *cobra.Command, o *searchOptions) error {
	if (o.query == "") == (o.list == "") {
		return errors.InvalidParam("exactly one of --query or --list is required")
	}
	if err := checkOutputFormat(o.output); err != nil {
		return err
	}
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}

	params := search.SearchParams{
		Database:      cc.Config.Search.Database,
		Format:        cc.Config.Search.Format,
		MinSimilarity: cc.Config.Search.MinSimilarity,
		MaxHits:       cc.Config.Search.MaxHits,
		Split:         cc.Config.Domains.Split,
	}
	f := cmd.Flags()
	if f.Changed("target") {
		params.Database = o.target
	}
	if f.Changed("format") {
		params.Format = o.format
	}
	if f.Changed("minsimilarity") {
		params.MinSimilarity = o.minSimilarity
	}
	if f.Changed("maxhits") {
		params.MaxHits = o.maxHits
	}
	if f.Changed("chop") {
		params.Split = o.chop
	}
	if err := embedding.ValidateSearchParams(params.MinSimilarity, params.MaxHits); err != nil {
		return err
	}
	if _, err := structure.ParseFormat(params.Format); err != nil {
		return err
	}

	return withRuntime(cmd, runtimeOverrides{device: o.device, model: o.model},
		func(ctx context.Context, rt *search.Runtime, cc *CLIContext) error {
			w := cmd.OutOrStdout()
			if o.query != "" {
				res, err := rt.Service.Search(ctx, &search.SearchInput{
					Query:        search.Query{Path: o.query},
					SearchParams: params,
				})
				if err != nil {
					return err
				}
				cc.Logger.Debug("Search finished",
					logging.Path(o.query), logging.Duration("elapsed", res.Elapsed), logging.Bool("cached", res.Cached))
				return writeSearch(w, o.output, cc.NoColor, searchReport{
					Database: res.Database,
					Model:    res.Model,
					Params:   res.Params,
					Results:  res.Results,
				}, res)
			}

			res, err := rt.Service.SearchList(ctx, &search.ListSearchInput{ListPath: o.list, SearchParams: params})
			if err != nil {
				return err
			}
			return writeSearch(w, o.output, cc.NoColor, searchReport{
				Database: res.Database,
				Model:    res.Model,
				Params:   res.Params,
				Results:  res.Results,
				Skipped:  res.Skipped,
			}, res)
		})
}
