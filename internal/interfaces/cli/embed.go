package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/pkg/errors"
)

type embedOptions struct {
	list   string
	output string
	name   string
	format string
	device string
	model  string
	json   bool
}

// NewEmbedCmd creates the embed command.
func NewEmbedCmd() *cobra.Command {
	o := &embedOptions{}
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed a structure list into a searchable database",
		Long: "Embed reads a list file with lines \"path id [note]\", embeds every structure\n" +
			"and writes one database. Any entry that cannot be read aborts the run.",
		Example: "  progres embed -l structures.txt -o mydb.db\n" +
			"  progres embed -l structures.txt -o s3://bucket/mydb.db\n" +
			"  progres embed -l structures.txt -o pg:mydb",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmbed(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.list, "list", "l", "", "structure list file (required)")
	f.StringVarP(&o.output, "output", "o", "", "output file, s3://bucket/key or pg:<collection> (required)")
	f.StringVar(&o.name, "name", "", "database name stored in the output (default: the output reference)")
	f.StringVarP(&o.format, "format", "f", "", "structure format: guess, pdb, mmcif, mmtf or coords")
	f.StringVarP(&o.device, "device", "d", "", "device: cpu, cuda[:n] or mps")
	f.StringVar(&o.model, "model", "", "embedding model name")
	f.BoolVar(&o.json, "json", false, "print the summary as JSON")
	_ = cmd.MarkFlagRequired("list")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runEmbed(cmd *cobra.Command, o *embedOptions) error {
	if o.list == "" || o.output == "" {
		return errors.InvalidParam("both --list and --output are required")
	}
	if _, err := embedding.ParseLocation(o.output); err != nil {
		return err
	}
	if _, err := structure.ParseFormat(o.format); err != nil {
		return err
	}
	entries, err := search.ReadStructureList(o.list)
	if err != nil {
		return err
	}

	return withRuntime(cmd, runtimeOverrides{device: o.device, model: o.model},
		func(ctx context.Context, rt *search.Runtime, _ *CLIContext) error {
			res, err := rt.Service.Embed(ctx, &search.EmbedInput{
				ListPath: o.list,
				Entries:  entries,
				Output:   o.output,
				Format:   o.format,
				Name:     o.name,
			})
			if err != nil {
				return err
			}
			if o.json {
				return printJSON(cmd.OutOrStdout(), res)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d embeddings (%s, dim %d) to %s\n",
				res.Entries, res.Model, res.Dim, res.Output)
			return err
		})
}
