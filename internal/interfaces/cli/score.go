package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/pkg/errors"
)

type scoreOptions struct {
	format string
	device string
	model  string
	output string
}

// NewScoreCmd creates the score command.
func NewScoreCmd() *cobra.Command {
	o := &scoreOptions{}
	cmd := &cobra.Command{
		Use:   "score FILE1 FILE2",
		Short: "Compute the Progres score between two structures",
		Long: "Score embeds both structures whole and prints their Progres score, a value\n" +
			"in [0, 1] where 1 means identical embeddings.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, o, args[0], args[1])
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.format, "format", "f", "", "structure format: guess, pdb, mmcif, mmtf or coords")
	f.StringVarP(&o.device, "device", "d", "", "device: cpu, cuda[:n] or mps")
	f.StringVar(&o.model, "model", "", "embedding model name")
	f.StringVarP(&o.output, "output", "o", "text", "output format: text or json")
	return cmd
}

func runScore(cmd *cobra.Command, o *scoreOptions, a, b string) error {
	if o.output != outputText && o.output != outputJSON {
		return errors.Newf(errors.ErrCodeInvalidParam, "unknown output format %q", o.output).
			WithDetail("expected text or json")
	}
	if _, err := structure.ParseFormat(o.format); err != nil {
		return err
	}
	return withRuntime(cmd, runtimeOverrides{device: o.device, model: o.model},
		func(ctx context.Context, rt *search.Runtime, _ *CLIContext) error {
			res, err := rt.Service.Score(ctx, &search.ScoreInput{
				A:      search.Query{Path: a},
				B:      search.Query{Path: b},
				Format: o.format,
			})
			if err != nil {
				return err
			}
			if o.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.4f\n", res.Score)
			return err
		})
}
