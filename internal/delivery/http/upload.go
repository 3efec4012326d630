package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/productmatcher/backend/config"
	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/logging"
	"github.com/productmatcher/backend/internal/metrics"
)

const (
	imageField    = "image"
	imageURLField = "imageUrl"

	// sniffLen is how much of an upload is inspected to detect its real type
	sniffLen = 3072
	// multipartOverhead allows for boundaries and small text fields on top of the file limit
	multipartOverhead = 1 << 20
	maxURLFieldBytes  = 8 << 10
)

var imageExtension = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|avif)$`)

// matchForm is the non-file part of a match request
type matchForm struct {
	ImageURL string `form:"imageUrl" json:"imageUrl" binding:"omitempty,max=2048"`
}

// tempUpload is the on-disk copy of an uploaded image. It belongs to one request
// and is removed by Release no matter how the request ended.
type tempUpload struct {
	path string
	once sync.Once
}

// Release removes the temp file. Failures are logged and counted, never returned.
func (u *tempUpload) Release(ctx context.Context) {
	if u == nil {
		return
	}
	u.once.Do(func() {
		if err := os.Remove(u.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			metrics.UploadCleanupFailures.Inc()
			logging.Ctx(ctx).Warn().Err(err).Str("path", u.path).Msg("Failed to remove uploaded image")
		}
	})
}

// readMatchRequest parses the request into an image source. The returned upload,
// when non-nil, must be released by the caller even if err is non-nil.
func readMatchRequest(c *gin.Context, cfg config.UploadConfig) (domain.ImageSource, *tempUpload, error) {
	var (
		source domain.ImageSource
		upload *tempUpload
		form   matchForm
		err    error
	)

	if c.ContentType() == binding.MIMEMultipartPOSTForm {
		source.Upload, upload, form.ImageURL, err = readMultipart(c, cfg)
		if err != nil {
			return source, upload, err
		}
		if err := binding.Validator.ValidateStruct(&form); err != nil {
			return source, upload, formError(err)
		}
	} else if c.Request.ContentLength != 0 {
		if err := c.ShouldBind(&form); err != nil {
			return source, nil, formError(err)
		}
	}

	source.RemoteURL = strings.TrimSpace(form.ImageURL)
	return source, upload, source.Validate()
}

// readMultipart streams the multipart body. At most one file is accepted, in the "image" field.
// A file and a non-empty imageUrl together are rejected as soon as the second one is seen.
func readMultipart(c *gin.Context, cfg config.UploadConfig) (*domain.UploadedFile, *tempUpload, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxBytes+multipartOverhead)

	reader, err := c.Request.MultipartReader()
	if err != nil {
		return nil, nil, "", uploadError(err.Error())
	}

	var (
		file     *domain.UploadedFile
		upload   *tempUpload
		imageURL string
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return file, upload, "", multipartError(err, cfg.MaxBytes)
		}

		switch {
		case part.FileName() != "" && part.FormName() != imageField:
			part.Close()
			return file, upload, "", uploadError("Unexpected field")
		case part.FileName() != "":
			if file != nil {
				part.Close()
				return file, upload, "", uploadError("Too many files")
			}
			if strings.TrimSpace(imageURL) != "" {
				part.Close()
				return nil, nil, "", domain.ErrAmbiguousImage
			}
			file, upload, err = saveImagePart(part, cfg)
			part.Close()
			if err != nil {
				return nil, upload, "", err
			}
		case part.FormName() == imageURLField:
			value, err := io.ReadAll(io.LimitReader(part, maxURLFieldBytes))
			part.Close()
			if err != nil {
				return file, upload, "", multipartError(err, cfg.MaxBytes)
			}
			imageURL = string(value)
			// the file already streamed to disk; the caller releases it
			if file != nil && strings.TrimSpace(imageURL) != "" {
				return file, upload, "", domain.ErrAmbiguousImage
			}
		default:
			part.Close()
		}
	}

	return file, upload, imageURL, nil
}

// saveImagePart checks the part's name and content, then writes it to a temp file.
// The temp file exists only once both checks pass.
func saveImagePart(part *multipart.Part, cfg config.UploadConfig) (*domain.UploadedFile, *tempUpload, error) {
	filename := filepath.Base(part.FileName())
	if !imageExtension.MatchString(filename) {
		return nil, nil, domain.ErrUnsupportedImageType
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(part, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, nil, multipartError(err, cfg.MaxBytes)
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, nil, domain.ErrUnsupportedImageType
	}
	if int64(n) > cfg.MaxBytes {
		return nil, nil, fileTooLarge(cfg.MaxBytes)
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to prepare upload dir: %w", err)
	}
	f, err := os.CreateTemp(cfg.Dir, uuid.NewString()+"-*"+strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp upload: %w", err)
	}
	upload := &tempUpload{path: f.Name()}

	written, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), io.LimitReader(part, cfg.MaxBytes-int64(n)+1)))
	closeErr := f.Close()
	if err != nil {
		return nil, upload, multipartError(err, cfg.MaxBytes)
	}
	if closeErr != nil {
		return nil, upload, fmt.Errorf("failed to write temp upload: %w", closeErr)
	}
	if written > cfg.MaxBytes {
		return nil, upload, fileTooLarge(cfg.MaxBytes)
	}

	return &domain.UploadedFile{
		Path:        f.Name(),
		Filename:    filename,
		ContentType: detected.String(),
		Size:        written,
	}, upload, nil
}

func uploadError(reason string) error {
	return domain.NewError(domain.KindValidation, "File upload error: "+reason, nil)
}

// multipartError turns a body read failure into a client error
func multipartError(err error, limit int64) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fileTooLarge(limit)
	}
	return domain.NewError(domain.KindValidation, "File upload error: "+err.Error(), err)
}

func fileTooLarge(limit int64) error {
	return domain.NewError(domain.KindPayloadTooLarge, "File too large. Maximum size is "+humanSize(limit), nil)
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}

// formError reports a rejected imageUrl field
func formError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return domain.NewError(domain.KindValidation, fmt.Sprintf("Invalid %s: failed '%s' check", imageURLField, verrs[0].Tag()), err)
	}
	return domain.NewError(domain.KindValidation, "Invalid request body", err)
}
