package domain

import (
	"context"
)

// CatalogRepository reads the product catalog
type CatalogRepository interface {
	// FetchAll returns every product record. An empty catalog is not an error here.
	FetchAll(ctx context.Context) (CatalogSnapshot, error)
}

// ImageDownloader opens a remote image for streaming
type ImageDownloader interface {
	Download(ctx context.Context, url string) (*ImageStream, error)
}

// MatchingClient talks to the image-similarity inference service.
// Wait blocks until the client may send another request and is called before the
// query image is opened, so outbound throttling never eats into the download deadline.
type MatchingClient interface {
	Wait(ctx context.Context) error
	MatchImages(ctx context.Context, image *ImageStream, imageURLs []string) ([]MatchResult, error)
}
