package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/store"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "strategy.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// seriesSource resolves the temporal series source. st may be nil when the
// fixture source is configured.
func seriesSource(st store.Store) (temporal.SeriesSource, error) {
	switch temporal.SourceKind(cfg.Engine.SeriesSource) {
	case temporal.SourceFixture:
		return temporal.LoadFixture(cfg.Engine.FixturePath)
	case temporal.SourceStore, "":
		if st == nil {
			return nil, eris.New("series source store requires an open store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported series source: %s", cfg.Engine.SeriesSource)
	}
}

// readInput decodes the JSON file at path into v. "-" reads stdin.
func readInput(path string, v any) error {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return eris.Wrapf(err, "read input %s", path)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return eris.Wrapf(err, "parse input %s", path)
	}
	return nil
}

// writeCanonical prints v as indented canonical JSON.
func writeCanonical(w io.Writer, v canonical.Value) error {
	out := canonical.EncodeIndent(v, "  ")
	if _, err := w.Write(append(out, '\n')); err != nil {
		return eris.Wrap(err, "write output")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
