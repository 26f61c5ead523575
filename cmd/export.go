package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/mnocc/vigilance-cli/internal/model"
	"github.com/mnocc/vigilance-cli/internal/store"
)

var (
	exportOut   string
	exportDate  string
	exportRisk  string
	exportLimit int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export computed scores to XLSX or CSV",
	Long:  "Writes the selected risk indicator rows to a spreadsheet. The output format follows the file extension (.xlsx or .csv).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "run")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.ScoreFilter{ValidDate: exportDate, Limit: exportLimit}
		if exportRisk != "" {
			risk, err := model.ParseRisk(exportRisk)
			if err != nil {
				return err
			}
			filter.Risk = risk
		}

		records, err := st.ListIndicators(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list indicators")
		}
		if len(records) == 0 {
			zap.L().Warn("no rows matched the filter, nothing to export")
			return nil
		}

		switch filepath.Ext(exportOut) {
		case ".xlsx":
			err = exportXLSX(exportOut, records)
		case ".csv":
			err = exportCSV(exportOut, records)
		default:
			return eris.Errorf("unsupported output extension %q (use .xlsx or .csv)", filepath.Ext(exportOut))
		}
		if err != nil {
			return err
		}

		zap.L().Info("export complete", zap.String("file", exportOut), zap.Int("rows", len(records)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "scores.xlsx", "output file (.xlsx or .csv)")
	exportCmd.Flags().StringVar(&exportDate, "date", "", "filter by valid date (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportRisk, "risk", "", "filter by risk (flood, drought)")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 10000, "max rows to export")
	rootCmd.AddCommand(exportCmd)
}

var exportHeader = []string{"admin_code", "risk", "indicator_code", "valid_date", "value", "unit", "horizon", "source"}

// exportRow flattens one record into the export column order.
func exportRow(r model.RiskIndicatorRecord) []string {
	value := ""
	if r.Value != nil {
		value = strconv.FormatFloat(*r.Value, 'f', -1, 64)
	}
	horizon := ""
	if r.Horizon != nil {
		horizon = *r.Horizon
	}
	return []string{r.AdminCode, string(r.Risk), r.IndicatorCode, r.ValidDate, value, r.Unit, horizon, r.Source}
}

func exportXLSX(path string, records []model.RiskIndicatorRecord) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("scores")
	if err != nil {
		return eris.Wrap(err, "add sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportHeader {
		header.AddCell().SetString(col)
	}

	for _, rec := range records {
		row := sheet.AddRow()
		for i, v := range exportRow(rec) {
			cell := row.AddCell()
			if i == 4 && rec.Value != nil {
				cell.SetFloat(*rec.Value)
				continue
			}
			cell.SetString(v)
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "save %s", path)
	}
	return nil
}

func exportCSV(path string, records []model.RiskIndicatorRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return eris.Wrap(err, "write header")
	}
	for _, rec := range records {
		if err := w.Write(exportRow(rec)); err != nil {
			return eris.Wrap(err, "write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "flush csv")
	}
	return f.Close()
}
