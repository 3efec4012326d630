package usecase

import (
	"context"
	"fmt"
	"os"

	"github.com/productmatcher/backend/internal/domain"
)

// openImage turns either image variant into a stream the matching client can send.
// The caller closes the stream; closing never removes an uploaded file.
func (s *MatchService) openImage(ctx context.Context, source domain.ImageSource) (*domain.ImageStream, error) {
	if !source.IsRemote() {
		return openUpload(source.Upload)
	}
	return s.downloader.Download(ctx, source.RemoteURL)
}

func openUpload(upload *domain.UploadedFile) (*domain.ImageStream, error) {
	f, err := os.Open(upload.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded image: %w", err)
	}
	return &domain.ImageStream{
		ReadCloser:  f,
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
	}, nil
}
