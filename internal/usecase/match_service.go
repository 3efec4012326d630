package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/logging"
	"github.com/productmatcher/backend/internal/metrics"
)

// MatchServiceConfig holds configuration for the match service
type MatchServiceConfig struct {
	CatalogTimeout time.Duration
}

// MatchService runs the match pipeline for one image:
// fetch catalog -> wait for matcher slot -> open image -> call matching service -> merge
type MatchService struct {
	catalog        domain.CatalogRepository
	downloader     domain.ImageDownloader
	matcher        domain.MatchingClient
	catalogTimeout time.Duration
}

// NewMatchService creates a new match service with dependencies
func NewMatchService(
	catalog domain.CatalogRepository,
	downloader domain.ImageDownloader,
	matcher domain.MatchingClient,
	config MatchServiceConfig,
) *MatchService {
	catalogTimeout := config.CatalogTimeout
	if catalogTimeout == 0 {
		catalogTimeout = 10 * time.Second
	}

	return &MatchService{
		catalog:        catalog,
		downloader:     downloader,
		matcher:        matcher,
		catalogTimeout: catalogTimeout,
	}
}

// FindMatches returns the catalog products visually similar to the source image.
// The source must already be validated. Errors carry a domain.ErrorKind.
func (s *MatchService) FindMatches(ctx context.Context, source domain.ImageSource) ([]domain.MergedResult, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}

	catalog, err := s.fetchCatalog(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := s.matcher.Wait(ctx); err != nil {
		return nil, err
	}
	observeStage("throttle", start)

	start = time.Now()
	image, err := s.openImage(ctx, source)
	if err != nil {
		return nil, err
	}
	defer image.Close()
	observeStage("image", start)

	start = time.Now()
	matches, err := s.matcher.MatchImages(ctx, image, catalog.ImageURLs())
	observeStage("inference", start)
	if err != nil {
		return nil, err
	}

	merged := MergeResults(matches, catalog)
	logging.Ctx(ctx).Info().
		Int("catalog", len(catalog)).
		Int("matches", len(matches)).
		Int("merged", len(merged)).
		Bool("remote", source.IsRemote()).
		Msg("Match pipeline finished")

	return merged, nil
}

// fetchCatalog loads the catalog snapshot; an empty catalog ends the request
func (s *MatchService) fetchCatalog(ctx context.Context) (domain.CatalogSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.catalogTimeout)
	defer cancel()

	start := time.Now()
	catalog, err := s.catalog.FetchAll(ctx)
	observeStage("catalog", start)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}

	metrics.CatalogSize.Set(float64(len(catalog)))
	if len(catalog) == 0 {
		return nil, domain.ErrEmptyCatalog
	}
	return catalog, nil
}

func observeStage(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
