package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/productmatcher/backend/config"
	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/logging"
)

// PostgresRepository reads products from a table with image_url, name and category columns
type PostgresRepository struct {
	pool    *pgxpool.Pool
	query   string
	timeout time.Duration
}

// NewPostgresRepository connects a pool. cfg.Database overrides the database in the URI,
// and cfg.Collection names the table, optionally schema-qualified.
func NewPostgresRepository(ctx context.Context, cfg config.CatalogConfig) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.Database != "" {
		poolCfg.ConnConfig.Database = cfg.Database
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewPostgresRepositoryWithPool(pool, cfg.Collection, cfg.QueryTimeout), nil
}

// NewPostgresRepositoryWithPool wraps an existing pool (for tests)
func NewPostgresRepositoryWithPool(pool *pgxpool.Pool, table string, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{pool: pool, query: selectProductsSQL(table), timeout: timeout}
}

func selectProductsSQL(table string) string {
	ident := pgx.Identifier(strings.Split(table, "."))
	return fmt.Sprintf(
		"SELECT COALESCE(image_url, '') AS image_url, COALESCE(name, '') AS name, COALESCE(category, '') AS category FROM %s",
		ident.Sanitize(),
	)
}

// FetchAll returns every row of the products table
func (r *PostgresRepository) FetchAll(ctx context.Context) (domain.CatalogSnapshot, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	rows, err := r.pool.Query(ctx, r.query)
	if err != nil {
		return nil, catalogError("query", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.ProductRecord])
	if err != nil {
		return nil, catalogError("read", err)
	}

	docs := make([]productDocument, len(records))
	for i, rec := range records {
		docs[i] = productDocument(rec)
	}
	snapshot, skipped := toSnapshot(docs)
	if skipped > 0 {
		logging.Ctx(ctx).Warn().Int("skipped", skipped).Msg("Catalog rows without image_url ignored")
	}
	return snapshot, nil
}

// Close closes the pool
func (r *PostgresRepository) Close(_ context.Context) error {
	r.pool.Close()
	return nil
}
