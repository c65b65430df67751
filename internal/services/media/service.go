package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachhub/backend/internal/domain/model"
	"github.com/coachhub/backend/internal/domain/rules"
	"github.com/coachhub/backend/internal/metrics"
	"github.com/coachhub/backend/internal/services/anamnese"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrInvalidForm      = errors.New("invalid or already used form link")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrTooLarge         = errors.New("photo is too large")
)

const (
	MaxPhotoBytes = 8 << 20
	signedURLTTL  = 15 * time.Minute
	sniffLen      = 512
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type FormFinder interface {
	FindPending(ctx context.Context, token string) (model.AnamneseForm, error)
}

type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Service struct {
	forms   FormFinder
	storage ObjectStorage
	logger  *zap.Logger
	newID   func() string
}

type Photo struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

func NewService(forms FormFinder, storage ObjectStorage, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		forms:   forms,
		storage: storage,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// UploadIntakePhoto stores one image for the pending form behind token. The
// form submits the returned key in photoKeys; URL is a short-lived preview.
func (s *Service) UploadIntakePhoto(ctx context.Context, token string, body io.Reader, size int64) (Photo, error) {
	if strings.TrimSpace(token) == "" || body == nil || size <= 0 {
		return Photo{}, ErrValidation
	}
	if size > MaxPhotoBytes {
		metrics.PhotoUploads.WithLabelValues("too_large").Inc()
		return Photo{}, ErrTooLarge
	}
	if s.forms == nil || s.storage == nil {
		return Photo{}, fmt.Errorf("media dependencies are not configured")
	}

	form, err := s.forms.FindPending(ctx, token)
	if err != nil {
		if errors.Is(err, anamnese.ErrInvalidOrConsumedForm) {
			metrics.PhotoUploads.WithLabelValues("invalid_form").Inc()
			return Photo{}, ErrInvalidForm
		}
		return Photo{}, fmt.Errorf("find form: %w", err)
	}

	reader := bufio.NewReaderSize(body, sniffLen)
	head, err := reader.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Photo{}, fmt.Errorf("read photo: %w", err)
	}
	contentType := http.DetectContentType(head)
	ext, ok := allowedTypes[contentType]
	if !ok {
		metrics.PhotoUploads.WithLabelValues("unsupported").Inc()
		return Photo{}, ErrUnsupportedImage
	}

	if err := s.storage.EnsureBucket(ctx); err != nil {
		return Photo{}, fmt.Errorf("ensure bucket: %w", err)
	}

	key := rules.IntakePhotoPrefix(form.ID) + s.newID() + ext
	if err := s.storage.PutObject(ctx, key, io.LimitReader(reader, size), size, contentType); err != nil {
		metrics.PhotoUploads.WithLabelValues("error").Inc()
		return Photo{}, fmt.Errorf("put object: %w", err)
	}

	url, err := s.storage.PresignGet(ctx, key, signedURLTTL)
	if err != nil {
		return Photo{}, fmt.Errorf("presign photo url: %w", err)
	}

	metrics.PhotoUploads.WithLabelValues("ok").Inc()
	s.logger.Info("intake photo uploaded",
		zap.String("form_id", form.ID),
		zap.String("key", key),
		zap.Int64("size", size),
	)
	return Photo{Key: key, URL: url, ContentType: contentType, Size: size}, nil
}

// SignedURLs presigns stored photo keys for display.
func (s *Service) SignedURLs(ctx context.Context, keys []string) ([]string, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("media dependencies are not configured")
	}

	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		url, err := s.storage.PresignGet(ctx, key, signedURLTTL)
		if err != nil {
			return nil, fmt.Errorf("presign photo %s: %w", key, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}
