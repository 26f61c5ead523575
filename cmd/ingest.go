package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mnocc/vigilance-cli/internal/ingest"
)

var ingestPastDays int

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch hourly observations from Open-Meteo for all stations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "ingest")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client := ingest.NewClient(ingest.ClientOptions{
			BaseURL:    cfg.Ingest.BaseURL,
			UserAgent:  cfg.Ingest.UserAgent,
			Timeout:    time.Duration(cfg.Ingest.TimeoutSecs) * time.Second,
			RatePerSec: cfg.Ingest.RatePerSec,
			Burst:      cfg.Ingest.Burst,
			MaxRetries: cfg.Ingest.MaxRetries,
		})

		pastDays := ingestPastDays
		if pastDays <= 0 {
			pastDays = cfg.Ingest.PastDays
		}

		result, err := ingest.New(client, st, cfg.Ingest.Workers).Run(ctx, pastDays)
		if err != nil {
			return eris.Wrap(err, "ingest run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestPastDays, "past-days", 0, "days of history to fetch (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
