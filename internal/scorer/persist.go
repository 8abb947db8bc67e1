package scorer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/layer"
)

const regionScoresMigration = `
CREATE TABLE IF NOT EXISTS region_scores (
	config_hash  TEXT NOT NULL,
	region_key   TEXT NOT NULL,
	region_name  TEXT NOT NULL,
	score        REAL,
	disqualified INTEGER NOT NULL,
	scored_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (config_hash, region_key)
);
`

// SaveRegionScores persists scores to the region_scores table of db under
// configHash, replacing an earlier run with the same hash.
func SaveRegionScores(ctx context.Context, db *sql.DB, scores []RegionScore, configHash string) error {
	if len(scores) == 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, regionScoresMigration); err != nil {
		return eris.Wrap(err, "scorer: migrate region_scores")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "scorer: begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range scores {
		var score any
		if v := float64(s.Score); !math.IsNaN(v) {
			score = v
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO region_scores (config_hash, region_key, region_name, score, disqualified, scored_at)
			VALUES (?, ?, ?, ?, ?, datetime('now'))
			ON CONFLICT (config_hash, region_key) DO UPDATE SET
				region_name = excluded.region_name, score = excluded.score,
				disqualified = excluded.disqualified, scored_at = excluded.scored_at
		`, configHash, s.Key, s.Name, score, s.Disqualified)
		if err != nil {
			return eris.Wrapf(err, "scorer: insert score for region %s", s.Key)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "scorer: commit scores")
	}

	zap.L().Info("scorer: saved region scores",
		zap.Int("count", len(scores)),
		zap.String("config_hash", configHash),
	)
	return nil
}

// WriteRegionScoresXLSX writes scores to a one-sheet workbook at path.
func WriteRegionScoresXLSX(path string, scores []RegionScore) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("scores")
	if err != nil {
		return eris.Wrap(err, "scorer: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"rank", "key", "name", "score", "disqualified"} {
		header.AddCell().SetString(h)
	}
	for i, s := range scores {
		row := sheet.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetString(s.Key)
		row.AddCell().SetString(s.Name)
		if v := float64(s.Score); math.IsNaN(v) {
			row.AddCell().SetString("")
		} else {
			row.AddCell().SetFloat(v)
		}
		row.AddCell().SetBool(s.Disqualified)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "scorer: save %s", path)
	}
	return nil
}

// ConfigHash returns a SHA-256 hash of the layer configuration so persisted
// scores can be traced to the layers that produced them.
func ConfigHash(specs []layer.Spec) string {
	data, err := json.Marshal(specs)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16])
}
