package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/attribute"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import region attributes into a SQLite store",
	Long:  "Reads region attributes from CSV, JSON, XLSX or Postgres and upserts them into the SQLite attribute store. With --terrain, per-region terrain summaries are computed and stored as well.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		from, _ := cmd.Flags().GetString("from")
		into, _ := cmd.Flags().GetString("into")
		terrainZoom, _ := cmd.Flags().GetInt("terrain")

		if from == "" && terrainZoom == 0 {
			return eris.New("import: --from or --terrain is required")
		}

		tbl := attribute.NewTable()
		if from != "" {
			src := cfg.Attributes
			src.Path, src.DSN, src.Driver = from, "", ""
			if strings.Contains(from, "://") {
				src.Path, src.DSN = "", from
			}
			if d, _ := cmd.Flags().GetString("driver"); d != "" {
				src.Driver = d
			}
			if k, _ := cmd.Flags().GetString("key-column"); k != "" {
				src.KeyColumn = k
			}
			if c, _ := cmd.Flags().GetString("category"); c != "" {
				src.Category = c
			}
			loaded, err := attribute.Load(ctx, src)
			if err != nil {
				return eris.Wrap(err, "import")
			}
			tbl.Merge(loaded)
		}

		if terrainZoom > 0 {
			if cfg.Region.Path == "" {
				return eris.New("import: --terrain needs region.path (LIVABILITY_REGION_PATH)")
			}
			e, err := buildEngine(ctx, cfg, "regions")
			if err != nil {
				return err
			}
			tbl.Merge(e.SummarizeTerrain(terrainZoom))
		}

		st, err := attribute.OpenSQLite(into)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		n, err := st.Save(ctx, tbl)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.Int("values", n),
			zap.Int("regions", tbl.Len()),
			zap.String("into", into),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().String("from", "", "attribute source: file path or postgres:// DSN")
	importCmd.Flags().String("driver", "", "source driver (csv, json, xlsx, postgres); inferred when empty")
	importCmd.Flags().String("key-column", "", "column holding the region key")
	importCmd.Flags().String("category", "", "prefix for imported variable names")
	importCmd.Flags().Int("terrain", 0, "also store terrain summaries sampled at this zoom")
	importCmd.Flags().String("into", "attributes.db", "SQLite attribute store")
	rootCmd.AddCommand(importCmd)
}
