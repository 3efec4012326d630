package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/infrastructure/httpclient"
	"github.com/productmatcher/backend/internal/logging"
)

const timeoutMessage = "Image download timeout. Please try again or use a different image URL"

// Client fetches remote images as streams
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a downloader; timeout bounds the whole download, body included
func NewClient(httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = httpclient.New()
	}
	return &Client{httpClient: httpClient, timeout: timeout}
}

// Download opens rawURL for streaming. The returned stream must be closed.
func (c *Client) Download(ctx context.Context, rawURL string) (*domain.ImageStream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, domain.NewError(domain.KindValidation, "Invalid image URL", err)
	}
	req.Header.Set("User-Agent", "ProductMatcher/1.0")
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		if httpclient.IsTimeout(err) {
			logging.Ctx(ctx).Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Image download timed out")
			return nil, domain.NewError(domain.KindDownloadTimeout, timeoutMessage, err)
		}
		return nil, fmt.Errorf("image download failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("image download failed: status %d", resp.StatusCode)
	}

	return &domain.ImageStream{
		ReadCloser:  &timedBody{body: resp.Body, ctx: ctx, cancel: cancel},
		Filename:    filenameFromURL(req.URL),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// timedBody classifies a body read that fails because the download deadline passed
type timedBody struct {
	body   io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
}

func (b *timedBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && errors.Is(b.ctx.Err(), context.DeadlineExceeded) {
		return n, domain.NewError(domain.KindDownloadTimeout, timeoutMessage, err)
	}
	return n, err
}

func (b *timedBody) Close() error {
	err := b.body.Close()
	b.cancel()
	return err
}

// filenameFromURL keeps the last path segment so the matching service sees a sensible name
func filenameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "image"
	}
	return name
}
