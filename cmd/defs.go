package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mnocc/vigilance-cli/internal/model"
	"github.com/mnocc/vigilance-cli/internal/registry"
)

var defsFile string

var defsCmd = &cobra.Command{
	Use:   "defs",
	Short: "Manage indicator and score definitions",
	Long:  "Commands for listing and seeding the definition registry that drives the indicator engine.",
}

var defsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enabled definitions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "defs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		indicators, err := st.LoadIndicatorDefs(ctx)
		if err != nil {
			return eris.Wrap(err, "load indicator definitions")
		}
		scores, err := st.LoadScoreDefs(ctx)
		if err != nil {
			return eris.Wrap(err, "load score definitions")
		}

		if len(indicators) == 0 && len(scores) == 0 {
			fmt.Fprintln(os.Stderr, "No definitions found. Seed with: vigilance defs seed")
			return nil
		}

		formatDefs(os.Stdout, indicators, scores)
		return nil
	},
}

var defsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed definitions from a YAML file or the built-in defaults",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "defs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		indicators := registry.DefaultIndicators()
		scores := registry.DefaultScores()
		if defsFile != "" {
			indicators, scores, err = registry.LoadFile(defsFile)
			if err != nil {
				return eris.Wrapf(err, "load definitions from %s", defsFile)
			}
		}

		nInd, err := st.SeedIndicatorDefs(ctx, indicators)
		if err != nil {
			return eris.Wrap(err, "seed indicator definitions")
		}
		nScore, err := st.SeedScoreDefs(ctx, scores)
		if err != nil {
			return eris.Wrap(err, "seed score definitions")
		}

		zap.L().Info("definitions seeded",
			zap.Int("indicators", nInd),
			zap.Int("scores", nScore),
		)
		return nil
	},
}

func init() {
	defsSeedCmd.Flags().StringVar(&defsFile, "file", "", "definitions YAML file (default: built-in defaults)")
	defsCmd.AddCommand(defsListCmd)
	defsCmd.AddCommand(defsSeedCmd)
	rootCmd.AddCommand(defsCmd)
}

// formatDefs writes a tabular view of the registry to w.
func formatDefs(out io.Writer, indicators []model.IndicatorDefinition, scores []model.ScoreDefinition) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tRISK\tWINDOW\tNORMALIZATION\tUNIT\tENABLED")
	_, _ = fmt.Fprintln(w, "----\t----\t------\t-------------\t----\t-------")
	for _, d := range indicators {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%dh\t%s/%dd\t%s\t%t\n",
			d.Code, d.Risk, d.Window.Hours,
			d.Normalization.Method, d.Normalization.LookbackDays,
			d.Unit, d.Enabled,
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCORE\tRISK\tWEIGHTS\tENABLED")
	_, _ = fmt.Fprintln(w, "-----\t----\t-------\t-------")
	for _, s := range scores {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", s.Code, s.Risk, len(s.Weights), s.Enabled)
	}
	_ = w.Flush()
}
