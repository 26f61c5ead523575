package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mnocc/vigilance-cli/internal/model"
	"github.com/mnocc/vigilance-cli/internal/vigilance"
	"github.com/mnocc/vigilance-cli/internal/zonemap"
)

var (
	vigilanceDate   string
	vigilanceDryRun bool
)

// vigilanceCmd is the fixed threshold ladder, kept alongside the
// definition-driven engine. It needs no baseline history, so it works from
// day one on a fresh database.
var vigilanceCmd = &cobra.Command{
	Use:   "vigilance",
	Short: "Compute flood and drought scores from fixed thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "run")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		now := time.Now().UTC()
		if vigilanceDate != "" {
			d, err := time.Parse(model.DateLayout, vigilanceDate)
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", vigilanceDate)
			}
			now = d.Add(24*time.Hour - time.Second)
		}
		validDate := now.Format(model.DateLayout)

		stations, err := st.LoadStations(ctx)
		if err != nil {
			return eris.Wrap(err, "load stations")
		}
		zones := zonemap.FromStations(stations)
		if len(zones) == 0 {
			zap.L().Warn("no zone-mapped stations, nothing to score")
			return nil
		}

		since := now.AddDate(0, 0, -(vigilance.CDDLookbackDays + 2))
		columns := []string{model.ColPrcpMM, model.ColTempC, model.ColRHPct}
		obs, err := st.LoadHourlyObservations(ctx, since, columns)
		if err != nil {
			return eris.Wrap(err, "load observations")
		}

		metrics := vigilance.ComputeMetrics(zonemap.Apply(obs, zones), now)
		records := vigilance.Records(metrics, validDate)
		if len(records) == 0 {
			zap.L().Warn("no observations in window, nothing to score")
			return nil
		}

		if vigilanceDryRun {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		upserted, failedBatches, err := st.UpsertRiskIndicators(ctx, records)
		if err != nil {
			return eris.Wrap(err, "upsert risk indicators")
		}

		zap.L().Info("vigilance complete",
			zap.String("valid_date", validDate),
			zap.Int("zones", len(metrics)),
			zap.Int("rows_upserted", upserted),
			zap.Int("failed_batches", failedBatches),
		)
		return nil
	},
}

func init() {
	vigilanceCmd.Flags().StringVar(&vigilanceDate, "date", "", "valid date (YYYY-MM-DD, default today)")
	vigilanceCmd.Flags().BoolVar(&vigilanceDryRun, "dry-run", false, "print rows instead of persisting")
	rootCmd.AddCommand(vigilanceCmd)
}
