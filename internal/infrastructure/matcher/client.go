package matcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/infrastructure/httpclient"
	"github.com/productmatcher/backend/internal/logging"
)

const matchPath = "/match-images"

// errMatcherUnreachable marks transport failures that never produced a response
var errMatcherUnreachable = errors.New("matching service unreachable")

// Config holds the matching service client settings
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	MaxResponseBytes  int64
	RequestsPerMinute int // 0 disables the outbound limiter
}

// Client handles communication with the image matching service
type Client struct {
	httpClient       *http.Client
	baseURL          string
	timeout          time.Duration
	maxResponseBytes int64
	rateLimiter      *rate.Limiter
}

// NewClient creates a new matching service client
func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = httpclient.New()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		// rate.Limit is per second
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.RequestsPerMinute)
	}

	return &Client{
		httpClient:       httpClient,
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		timeout:          cfg.Timeout,
		maxResponseBytes: cfg.MaxResponseBytes,
		rateLimiter:      limiter,
	}
}

// Wait blocks until the outbound limiter admits one more call.
// A cancelled or expiring ctx is a caller problem and surfaces as an internal error.
func (c *Client) Wait(ctx context.Context) error {
	if c.rateLimiter == nil {
		return nil
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("matching service rate limit wait: %w", err)
	}
	return nil
}

// MatchImages sends the image and the candidate URLs to the matching service
// and returns its similarity results in the order the service produced them.
// Callers throttle with Wait first.
func (c *Client) MatchImages(ctx context.Context, image *domain.ImageStream, imageURLs []string) ([]domain.MatchResult, error) {
	urls, err := json.Marshal(imageURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image urls: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	produced := make(chan error, 1)
	go func() {
		err := writeForm(form, image, urls)
		pw.CloseWithError(err)
		produced <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+matchPath, pr)
	if err != nil {
		pr.CloseWithError(err)
		<-produced
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ProductMatcher/1.0")
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, doErr := c.httpClient.Do(req)
	pr.Close()
	writeErr := <-produced

	// A failed image read explains a failed upload better than the transport error does
	var domainErr *domain.Error
	if writeErr != nil && errors.As(writeErr, &domainErr) {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, writeErr
	}

	if doErr != nil {
		if httpclient.IsTimeout(doErr) {
			logging.Ctx(ctx).Warn().Err(doErr).Dur("elapsed", time.Since(start)).Msg("Matching service timed out")
			return nil, domain.NewError(domain.KindGatewayTimeout, "matching service timed out", doErr)
		}
		return nil, fmt.Errorf("%w: %w", errMatcherUnreachable, doErr)
	}
	defer resp.Body.Close()

	logging.Ctx(ctx).Debug().
		Int("status", resp.StatusCode).
		Int("candidates", len(imageURLs)).
		Dur("elapsed", time.Since(start)).
		Msg("Matching service responded")

	if err := statusError(resp); err != nil {
		return nil, err
	}

	return c.decode(resp.Body)
}

// writeForm streams the multipart body: the image under "file", then the JSON url list under "image_urls"
func writeForm(form *multipart.Writer, image *domain.ImageStream, urls []byte) error {
	filename := image.Filename
	if filename == "" {
		filename = "image"
	}
	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)

	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, image); err != nil {
		return err
	}
	if err := form.WriteField("image_urls", string(urls)); err != nil {
		return err
	}
	return form.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// statusError classifies a non-2xx response from the matching service
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch resp.StatusCode {
	case http.StatusRequestEntityTooLarge:
		return domain.NewError(domain.KindPayloadTooLarge, "Image file too large. Please use a smaller image", cause)
	case http.StatusServiceUnavailable:
		return domain.NewError(domain.KindServiceUnavailable, "matching service unavailable", cause)
	default:
		return &statusErr{code: resp.StatusCode, cause: cause}
	}
}

// statusErr is an unclassified non-2xx answer; it surfaces as an internal error
type statusErr struct {
	code  int
	cause error
}

func (e *statusErr) Error() string { return "matching service error: " + e.cause.Error() }
func (e *statusErr) Unwrap() error { return e.cause }

// decode reads at most maxResponseBytes and requires a JSON array of objects
func (c *Client) decode(body io.Reader) ([]domain.MatchResult, error) {
	data, err := io.ReadAll(io.LimitReader(body, c.maxResponseBytes+1))
	if err != nil {
		if httpclient.IsTimeout(err) {
			return nil, domain.NewError(domain.KindGatewayTimeout, "matching service timed out", err)
		}
		return nil, fmt.Errorf("failed to read matching service response: %w", err)
	}
	if int64(len(data)) > c.maxResponseBytes {
		return nil, fmt.Errorf("matching service response exceeds %d bytes", c.maxResponseBytes)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, domain.Wrap(domain.ErrInvalidMatcherResponse, errors.New("response is not a JSON array"))
	}

	var results []domain.MatchResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, domain.Wrap(domain.ErrInvalidMatcherResponse, err)
	}
	return results, nil
}
