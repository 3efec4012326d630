package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/productmatcher/backend/config"
	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/infrastructure/cache"
	"github.com/productmatcher/backend/internal/infrastructure/download"
	"github.com/productmatcher/backend/internal/infrastructure/matcher"
	"github.com/productmatcher/backend/internal/usecase"
)

// TestMain sets up test environment before running tests
func TestMain(m *testing.M) {
	// Set Gin to test mode once for all tests
	gin.SetMode(gin.TestMode)

	os.Exit(m.Run())
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// stubCatalog is a mock implementation of domain.CatalogRepository
type stubCatalog struct {
	snapshot domain.CatalogSnapshot
	err      error
}

func (s *stubCatalog) FetchAll(ctx context.Context) (domain.CatalogSnapshot, error) {
	return s.snapshot, s.err
}

type fixtureOptions struct {
	catalog        domain.CatalogSnapshot
	matcherHandler http.HandlerFunc
	imageHandler   http.HandlerFunc
	environment    string
	perIP          int
	matcherTimeout time.Duration
}

type fixture struct {
	router      *gin.Engine
	uploadDir   string
	matcherHits *int32
	imageURL    string
}

func defaultCatalog() domain.CatalogSnapshot {
	return domain.CatalogSnapshot{
		{ImageURL: "a.jpg", Name: "Shoe", Category: "Footwear"},
		{ImageURL: "b.jpg", Name: "Hat", Category: "Headwear"},
	}
}

func matchesJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	if opts.matcherHandler == nil {
		opts.matcherHandler = matchesJSON(`[{"image_url":"a.jpg","similarity":0.92}]`)
	}
	if opts.imageHandler == nil {
		opts.imageHandler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngHeader)
		}
	}
	if opts.environment == "" {
		opts.environment = "test"
	}
	if opts.matcherTimeout == 0 {
		opts.matcherTimeout = 2 * time.Second
	}

	var hits int32
	matcherServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		opts.matcherHandler(w, r)
	}))
	t.Cleanup(matcherServer.Close)

	imageServer := httptest.NewServer(opts.imageHandler)
	t.Cleanup(imageServer.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           "8080",
			Environment:    opts.environment,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Upload:    config.UploadConfig{Dir: t.TempDir(), MaxBytes: 1024 * 1024},
		RateLimit: config.RateLimitConfig{PerIP: opts.perIP, Burst: 1},
	}

	service := usecase.NewMatchService(
		&stubCatalog{snapshot: opts.catalog},
		download.NewClient(imageServer.Client(), 100*time.Millisecond),
		matcher.NewClient(matcherServer.Client(), matcher.Config{
			BaseURL:          matcherServer.URL,
			Timeout:          opts.matcherTimeout,
			MaxResponseBytes: 1 << 20,
		}),
		usecase.MatchServiceConfig{},
	)

	limiters := cache.NewMemoryCache[*rate.Limiter](time.Minute, 0)
	t.Cleanup(limiters.Close)

	handler := NewHandler(service, cfg.Upload, cfg.Server.IsDevelopment())
	return &fixture{
		router:      SetupRouter(cfg, handler, limiters),
		uploadDir:   cfg.Upload.Dir,
		matcherHits: &hits,
		imageURL:    imageServer.URL + "/query.png",
	}
}

type filePart struct {
	field    string
	filename string
	content  []byte
}

func multipartRequest(t *testing.T, fields map[string]string, files ...filePart) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/matches", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func pngFile(name string) filePart {
	return filePart{field: "image", filename: name, content: append(append([]byte{}, pngHeader...), "pixels"...)}
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func assertUploadDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "uploaded temp files must be removed")
}

// TestHealthCheckEndpoint tests the health check endpoint
func TestHealthCheckEndpoint(t *testing.T) {
	t.Run("returns healthy status", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{catalog: defaultCatalog()})

		w := serve(f.router, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "healthy", response["status"])
		assert.Equal(t, "productmatcher-backend", response["service"])
		assert.NotEmpty(t, response["version"])
	})

	t.Run("accepts GET requests only", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{catalog: defaultCatalog()})

		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			w := serve(f.router, httptest.NewRequest(method, "/health", nil))
			assert.Equal(t, http.StatusNotFound, w.Code, method)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{catalog: defaultCatalog()})

	w := serve(f.router, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "productmatcher_")
}

func TestGetMatches_Upload(t *testing.T) {
	f := newFixture(t, fixtureOptions{catalog: defaultCatalog()})

	w := serve(f.router, multipartRequest(t, nil, pngFile("query.PNG")))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[{"image_url":"a.jpg","similarity":0.92,"name":"Shoe","category":"Footwear"}]`, w.Body.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(f.matcherHits))
	assertUploadDirEmpty(t, f.uploadDir)
}

func TestGetMatches_RemoteURL(t *testing.T) {
	var gotFile []byte
	f := newFixture(t, fixtureOptions{
		catalog: defaultCatalog(),
		matcherHandler: func(w http.ResponseWriter, r *http.Request) {
			file, _, err := r.FormFile("file")
			if err == nil {
				gotFile, _ = io.ReadAll(file)
				file.Close()
			}
			_, _ = w.Write([]byte(`[{"image_url":"b.jpg","similarity":0.5},{"image_url":"unknown.jpg","similarity":0.4}]`))
		},
	})

	w := serve(f.router, multipartRequest(t, map[string]string{"imageUrl": f.imageURL}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[{"image_url":"b.jpg","similarity":0.5,"name":"Hat","category":"Headwear"}]`, w.Body.String())
	assert.Equal(t, pngHeader, gotFile)
}

func TestGetMatches_RemoteURLAsJSON(t *testing.T) {
	f := newFixture(t, fixtureOptions{catalog: defaultCatalog()})

	req := httptest.NewRequest(http.MethodPost, "/api/matches", strings.NewReader(`{"imageUrl":"`+f.imageURL+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(f.router, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestGetMatches_EmptyMatchList(t *testing.T) {
	f := newFixture(t, fixtureOptions{catalog: defaultCatalog(), matcherHandler: matchesJSON(`[]`)})

	w := serve(f.router, multipartRequest(t, nil, pngFile("q.png")))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestGetMatches_FailedComparisonPassesThrough(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		catalog:        defaultCatalog(),
		matcherHandler: matchesJSON(`[{"image_url":"a.jpg","error":"cannot load"},{"image_url":"b.jpg","similarity":0.3}]`),
	})

	w := serve(f.router, multipartRequest(t, nil, pngFile("q.png")))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[
		{"image_url":"a.jpg","error":"cannot load","name":"Shoe","category":"Footwear"},
		{"image_url":"b.jpg","similarity":0.3,"name":"Hat","category":"Headwear"}
	]`, w.Body.String())
}

func TestGetMatches_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     func(t *testing.T, f *fixture) *http.Request
		wantMsg string
	}{
		{
			name: "no image",
			req: func(t *testing.T, f *fixture) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/matches", nil)
			},
			wantMsg: "No image provided. Please upload an image file or provide an image URL",
		},
		{
			name: "empty multipart",
			req: func(t *testing.T, f *fixture) *http.Request {
				return multipartRequest(t, map[string]string{"other": "x"})
			},
			wantMsg: "No image provided. Please upload an image file or provide an image URL",
		},
		{
			name: "file and url",
			req: func(t *testing.T, f *fixture) *http.Request {
				return multipartRequest(t, map[string]string{"imageUrl": f.imageURL}, pngFile("q.png"))
			},
			wantMsg: "Provide either an image file or an image URL, not both",
		},
		{
			name: "non-http url",
			req: func(t *testing.T, f *fixture) *http.Request {
				return multipartRequest(t, map[string]string{"imageUrl": "ftp://example.com/a.png"})
			},
			wantMsg: "Image URL must start with http:// or https://",
		},
		{
			name: "wrong extension",
			req: func(t *testing.T, f *fixture) *http.Request {
				return multipartRequest(t, nil, filePart{field: "image", filename: "notes.txt", content: pngHeader})
			},
			wantMsg: "Only image files are allowed!",
		},
		{
			name: "disguised content",
			req: func(t *testing.T, f *fixture) *http.Request {
				return multipartRequest(t, nil, filePart{field: "image", filename: "fake.png", content: []byte("just some text")})
			},
			wantMsg: "Only image files are allowed!",
		},
		{
			name: "unexpected file field",
			req: func(t *testing.T, f *fixture) *http.Request {
				return multipartRequest(t, nil, filePart{field: "photo", filename: "q.png", content: pngHeader})
			},
			wantMsg: "File upload error: Unexpected field",
		},
		{
			name: "two files",
			req: func(t *testing.T, f *fixture) *http.Request {
				return multipartRequest(t, nil, pngFile("a.png"), pngFile("b.png"))
			},
			wantMsg: "File upload error: Too many files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{catalog: defaultCatalog()})

			w := serve(f.router, tt.req(t, f))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, w).Error)
			assert.Equal(t, int32(0), atomic.LoadInt32(f.matcherHits))
			assertUploadDirEmpty(t, f.uploadDir)
		})
	}
}

func TestGetMatches_FileTooLarge(t *testing.T) {
	f := newFixture(t, fixtureOptions{catalog: defaultCatalog()})

	big := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 1024*1024)...)
	w := serve(f.router, multipartRequest(t, nil, filePart{field: "image", filename: "big.png", content: big}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "File too large. Maximum size is 1MB", decodeError(t, w).Error)
	assertUploadDirEmpty(t, f.uploadDir)
}

func TestGetMatches_EmptyCatalog(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	w := serve(f.router, multipartRequest(t, nil, pngFile("q.png")))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No products found in database", decodeError(t, w).Error)
	assert.Equal(t, int32(0), atomic.LoadInt32(f.matcherHits), "matching service must not be called")
	assertUploadDirEmpty(t, f.uploadDir)
}

func TestGetMatches_DownloadTimeout(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, fixtureOptions{
		catalog: defaultCatalog(),
		imageHandler: func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	})
	defer close(release)

	w := serve(f.router, multipartRequest(t, map[string]string{"imageUrl": f.imageURL}))

	assert.Equal(t, http.StatusRequestTimeout, w.Code)
	assert.Equal(t, "Image download timeout. Please try again or use a different image URL", decodeError(t, w).Error)
	assert.Equal(t, int32(0), atomic.LoadInt32(f.matcherHits))
}

func TestGetMatches_MatcherFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"unavailable", http.StatusServiceUnavailable, `{}`, http.StatusServiceUnavailable,
			"Image matching service is currently unavailable. Please try again later"},
		{"payload too large", http.StatusRequestEntityTooLarge, `{}`, http.StatusRequestEntityTooLarge,
			"Image file too large. Please use a smaller image"},
		{"server error", http.StatusInternalServerError, `{}`, http.StatusInternalServerError,
			"Failed to process image matches"},
		{"not an array", http.StatusOK, `{"image_url":"a.jpg"}`, http.StatusInternalServerError,
			"Failed to process image matches"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{
				catalog: defaultCatalog(),
				matcherHandler: func(w http.ResponseWriter, r *http.Request) {
					_, _ = io.Copy(io.Discard, r.Body)
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				},
			})

			w := serve(f.router, multipartRequest(t, nil, pngFile("q.png")))

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantMsg, resp.Error)
			assert.Empty(t, resp.Details, "details are hidden outside development")
			assertUploadDirEmpty(t, f.uploadDir)
		})
	}
}

func TestGetMatches_MatcherTimeout(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, fixtureOptions{
		catalog:        defaultCatalog(),
		matcherTimeout: 50 * time.Millisecond,
		matcherHandler: func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	})
	defer close(release)

	w := serve(f.router, multipartRequest(t, nil, pngFile("q.png")))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "Service timeout. Please try again with a smaller image or fewer products", decodeError(t, w).Error)
	assertUploadDirEmpty(t, f.uploadDir)
}

func TestGetMatches_DetailsInDevelopment(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		catalog:        defaultCatalog(),
		environment:    "development",
		matcherHandler: matchesJSON(`"nope"`),
	})

	w := serve(f.router, multipartRequest(t, nil, pngFile("q.png")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "Failed to process image matches", resp.Error)
	assert.Contains(t, resp.Details, "Invalid response from image matching service")
}

func TestGetMatches_NoService(t *testing.T) {
	cfg := &config.Config{Upload: config.UploadConfig{Dir: t.TempDir(), MaxBytes: 1024}}
	router := SetupRouter(cfg, NewHandler(nil, cfg.Upload, false), nil)

	w := serve(router, multipartRequest(t, map[string]string{"imageUrl": "https://example.com/a.png"}))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetMatches_RateLimited(t *testing.T) {
	f := newFixture(t, fixtureOptions{catalog: defaultCatalog(), perIP: 1})

	first := serve(f.router, multipartRequest(t, nil, pngFile("q.png")))
	second := serve(f.router, multipartRequest(t, nil, pngFile("q.png")))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "Too many requests. Please try again later", decodeError(t, second).Error)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Equal(t, int32(1), atomic.LoadInt32(f.matcherHits))
}

// TestCORSIntegration tests CORS headers work end-to-end with full router
func TestCORSIntegration(t *testing.T) {
	f := newFixture(t, fixtureOptions{catalog: defaultCatalog()})

	req := httptest.NewRequest(http.MethodOptions, "/api/matches", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := serve(f.router, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

// TestRecoveryMiddleware tests panic recovery
func TestRecoveryMiddleware(t *testing.T) {
	f := newFixture(t, fixtureOptions{catalog: defaultCatalog()})
	f.router.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	w := serve(f.router, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to process image matches", decodeError(t, w).Error)
}

// TestJSONResponses tests that error responses are JSON
func TestJSONResponses(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	w := serve(f.router, multipartRequest(t, map[string]string{"imageUrl": f.imageURL}))

	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
