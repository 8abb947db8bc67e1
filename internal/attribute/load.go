package attribute

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SourceConfig selects where an attribute table comes from.
type SourceConfig struct {
	// Driver is csv, json, xlsx, sqlite or postgres. Inferred from the
	// path extension when empty.
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Path      string `yaml:"path" mapstructure:"path"`
	DSN       string `yaml:"dsn" mapstructure:"dsn"`
	Table     string `yaml:"table" mapstructure:"table"`
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
	KeyColumn string `yaml:"key_column" mapstructure:"key_column"`
	Category  string `yaml:"category" mapstructure:"category"`
}

// DriverName returns the configured or inferred driver.
func (c SourceConfig) DriverName() string {
	if c.Driver != "" {
		return strings.ToLower(c.Driver)
	}
	switch strings.ToLower(filepath.Ext(c.Path)) {
	case ".csv", ".tsv":
		return "csv"
	case ".json":
		return "json"
	case ".xlsx":
		return "xlsx"
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite"
	}
	if strings.HasPrefix(c.DSN, "postgres://") || strings.HasPrefix(c.DSN, "postgresql://") {
		return "postgres"
	}
	return ""
}

// Load reads the table described by cfg.
func Load(ctx context.Context, cfg SourceConfig) (*Table, error) {
	rows := RowOptions{KeyColumn: cfg.KeyColumn, Category: cfg.Category}
	t := NewTable()

	var err error
	switch driver := cfg.DriverName(); driver {
	case "csv":
		var f *os.File
		if f, err = os.Open(cfg.Path); err != nil {
			return nil, eris.Wrapf(err, "attribute: open %s", cfg.Path)
		}
		defer func() { _ = f.Close() }()
		opts := CSVOptions{RowOptions: rows}
		if strings.EqualFold(filepath.Ext(cfg.Path), ".tsv") {
			opts.Delimiter = '\t'
		}
		err = ReadCSV(t, f, opts)
	case "json":
		var f *os.File
		if f, err = os.Open(cfg.Path); err != nil {
			return nil, eris.Wrapf(err, "attribute: open %s", cfg.Path)
		}
		defer func() { _ = f.Close() }()
		err = ReadJSON(t, f)
	case "xlsx":
		err = ReadXLSX(t, cfg.Path, XLSXOptions{RowOptions: rows, SheetName: cfg.Sheet})
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Path
		}
		var st *SQLiteStore
		if st, err = OpenSQLite(dsn); err != nil {
			return nil, err
		}
		defer func() { _ = st.Close() }()
		if err = st.Migrate(ctx); err != nil {
			return nil, err
		}
		t, err = st.Load(ctx)
	case "postgres":
		pool, connErr := ConnectPostgres(ctx, cfg.DSN)
		if connErr != nil {
			return nil, connErr
		}
		defer pool.Close()
		t, err = NewPostgresSource(pool, cfg.Table).Load(ctx)
	default:
		return nil, eris.Errorf("attribute: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("attribute: loaded table",
		zap.String("driver", cfg.DriverName()),
		zap.Int("regions", t.Len()),
		zap.Int("variables", len(t.Variables())),
	)
	return t, nil
}
