package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/transferdesk/slipcheck/internal/ocr"
	"github.com/transferdesk/slipcheck/internal/store"
	"github.com/transferdesk/slipcheck/internal/validator"
)

// env holds the initialized store, extractor and validator shared by the
// serve/validate/slips commands.
type env struct {
	Store     store.Store
	Extractor ocr.Extractor
	Validator *validator.Validator
}

// Close waits for background persistence and releases the store.
func (e *env) Close() {
	if e.Validator != nil {
		e.Validator.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "slipcheck.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, the OCR extractor and the validator. Callers
// should defer env.Close().
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &env{
		Store:     st,
		Extractor: extractor,
		Validator: validator.New(extractor, st),
	}, nil
}
