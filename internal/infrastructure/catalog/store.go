package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/productmatcher/backend/config"
	"github.com/productmatcher/backend/internal/domain"
)

// Store is a catalog repository whose connection is owned by the caller
type Store interface {
	domain.CatalogRepository
	Close(ctx context.Context) error
}

// Open connects to the catalog store named by cfg.URI.
// mongodb:// and mongodb+srv:// open a MongoDB collection; postgres:// and postgresql:// open a table.
func Open(ctx context.Context, cfg config.CatalogConfig) (Store, error) {
	uri := strings.ToLower(cfg.URI)

	switch {
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		return NewMongoRepository(ctx, cfg)
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return NewPostgresRepository(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported catalog URI scheme: %s", redact(cfg.URI))
	}
}

// redact drops everything after the scheme so credentials never reach logs
func redact(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i+3] + "..."
	}
	return "..."
}

// catalogError classifies a store failure; connectivity problems are internal errors
func catalogError(op string, err error) error {
	return domain.NewError(domain.KindInternal, "catalog "+op+" failed", err)
}
