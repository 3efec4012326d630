package domain

import (
	"io"
	"strings"
)

// UploadedFile is an image the client uploaded, already written to a temp file.
// The file belongs to the request that created it.
type UploadedFile struct {
	Path        string
	Filename    string
	ContentType string
	Size        int64
}

// ImageSource is either an uploaded file or a remote image URL, never both
type ImageSource struct {
	Upload    *UploadedFile
	RemoteURL string
}

// Validate checks that exactly one variant is populated and that a remote URL is http(s)
func (s ImageSource) Validate() error {
	hasURL := strings.TrimSpace(s.RemoteURL) != ""

	switch {
	case s.Upload == nil && !hasURL:
		return ErrNoImageProvided
	case s.Upload != nil && hasURL:
		return ErrAmbiguousImage
	case hasURL && !IsHTTPURL(s.RemoteURL):
		return ErrInvalidImageURL
	}
	return nil
}

// IsRemote reports whether the image has to be downloaded
func (s ImageSource) IsRemote() bool {
	return s.Upload == nil
}

// IsHTTPURL reports whether raw is a non-empty http:// or https:// URL
func IsHTTPURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	lower := strings.ToLower(raw)
	return (strings.HasPrefix(lower, "http://") && len(lower) > len("http://")) ||
		(strings.HasPrefix(lower, "https://") && len(lower) > len("https://"))
}

// ImageStream is a readable image, whatever its origin
type ImageStream struct {
	io.ReadCloser
	Filename    string
	ContentType string
}
