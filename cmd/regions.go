package main

import (
	"database/sql"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/livability/internal/attribute"
	"github.com/sells-group/livability/internal/scorer"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Rank regions by their composite score",
	Long:  "Scores every loaded region once from its attributes and terrain summaries, prints the ranking, and optionally saves it to SQLite or XLSX.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		sqlitePath, _ := cmd.Flags().GetString("sqlite")

		if cfg.Region.Path == "" {
			return eris.New("region.path is required (LIVABILITY_REGION_PATH)")
		}

		e, err := buildEngine(ctx, cfg, "regions")
		if err != nil {
			return err
		}
		if zoom, _ := cmd.Flags().GetInt("terrain-zoom"); zoom > 0 {
			tbl := attribute.NewTable()
			tbl.Merge(e.Table())
			tbl.Merge(e.SummarizeTerrain(zoom))
			e.SetTable(tbl)
		}
		scores := e.RegionScores()

		if xlsxPath != "" {
			if err := scorer.WriteRegionScoresXLSX(xlsxPath, scores); err != nil {
				return err
			}
			zap.L().Info("region scores exported", zap.String("path", xlsxPath), zap.Int("regions", len(scores)))
		}
		if sqlitePath != "" {
			db, err := sql.Open("sqlite", sqlitePath)
			if err != nil {
				return eris.Wrapf(err, "open %s", sqlitePath)
			}
			defer db.Close() //nolint:errcheck
			if err := scorer.SaveRegionScores(ctx, db, scores, scorer.ConfigHash(e.Layers())); err != nil {
				return err
			}
		}

		if limit > 0 && len(scores) > limit {
			scores = scores[:limit]
		}
		formatRegionScores(cmd.OutOrStdout(), scores)
		return nil
	},
}

func formatRegionScores(out io.Writer, scores []scorer.RegionScore) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tKEY\tNAME\tSCORE\tSTATUS")
	_, _ = fmt.Fprintln(w, "----\t---\t----\t-----\t------")

	for i, s := range scores {
		score := "-"
		if v := float64(s.Score); !math.IsNaN(v) {
			score = fmt.Sprintf("%.3f", v)
		}
		status := "ok"
		if s.Disqualified {
			status = "disqualified"
		}
		name := s.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, s.Key, name, score, status)
	}
	_ = w.Flush()
}

func init() {
	regionsCmd.Flags().Int("limit", 0, "max number of regions to print (0 = all)")
	regionsCmd.Flags().String("xlsx", "", "write the full ranking to this XLSX file")
	regionsCmd.Flags().Int("terrain-zoom", 0, "summarise resident terrain per region at this zoom before ranking")
	regionsCmd.Flags().String("sqlite", "", "save the full ranking to this SQLite database")
	rootCmd.AddCommand(regionsCmd)
}
