package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mnocc/vigilance-cli/internal/zonemap"
)

var zonesDryRun bool

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Backfill station admin zones from the boundary shapefile",
	Long:  "Resolves each station without an admin code by point-in-polygon against the configured administrative boundary shapefile and writes the codes back.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "zones")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		resolver, err := zonemap.LoadShapefile(cfg.Zones.Shapefile, cfg.Zones.CodeField, cfg.Zones.NameField)
		if err != nil {
			return err
		}

		stations, err := st.LoadStations(ctx)
		if err != nil {
			return eris.Wrap(err, "load stations")
		}

		resolved := zonemap.Backfill(stations, resolver)
		if len(resolved) == 0 {
			zap.L().Info("all stations already mapped")
			return nil
		}

		if zonesDryRun {
			for id, code := range resolved {
				zap.L().Info("would map station", zap.String("station_id", id), zap.String("admin_code", code))
			}
			return nil
		}

		updated, err := st.UpdateStationZones(ctx, resolved)
		if err != nil {
			return eris.Wrap(err, "update station zones")
		}

		zap.L().Info("zones backfilled",
			zap.Int("stations", len(stations)),
			zap.Int("resolved", len(resolved)),
			zap.Int("updated", updated),
		)
		return nil
	},
}

func init() {
	zonesCmd.Flags().BoolVar(&zonesDryRun, "dry-run", false, "log resolutions without writing")
	rootCmd.AddCommand(zonesCmd)
}
