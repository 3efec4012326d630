package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the outcome category of a failed match request.
type ErrorKind int

const (
	// KindInternal covers every failure that has no more specific kind
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindDownloadTimeout
	KindPayloadTooLarge
	KindServiceUnavailable
	KindGatewayTimeout
)

// String returns the kind name used in logs and metrics labels
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDownloadTimeout:
		return "download_timeout"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindGatewayTimeout:
		return "gateway_timeout"
	default:
		return "internal"
	}
}

// Error is a classified pipeline failure.
// Message is safe to show to clients; Err carries the underlying cause for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrap attaches a cause to a sentinel while keeping errors.Is(result, sentinel) true
func Wrap(sentinel *Error, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors are KindInternal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message of the first *Error in err's chain
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

var (
	// ErrNoImageProvided is returned when the request carries neither a file nor a URL
	ErrNoImageProvided = NewError(KindValidation, "No image provided. Please upload an image file or provide an image URL", nil)

	// ErrAmbiguousImage is returned when the request carries both a file and a URL
	ErrAmbiguousImage = NewError(KindValidation, "Provide either an image file or an image URL, not both", nil)

	// ErrInvalidImageURL is returned when imageUrl is not an http(s) URL
	ErrInvalidImageURL = NewError(KindValidation, "Image URL must start with http:// or https://", nil)

	// ErrUnsupportedImageType is returned for uploads that are not images
	ErrUnsupportedImageType = NewError(KindValidation, "Only image files are allowed!", nil)

	// ErrEmptyCatalog is returned when the catalog store has no products
	ErrEmptyCatalog = NewError(KindNotFound, "No products found in database", nil)

	// ErrInvalidMatcherResponse is returned when the matching service response is not a JSON array
	ErrInvalidMatcherResponse = NewError(KindInternal, "Invalid response from image matching service", nil)
)
