package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"freecanvas/internal/model"
	"freecanvas/internal/repository"
	"freecanvas/internal/storage"
)

var (
	ErrIDRequired       = errors.New("id is required")
	ErrNotFound         = errors.New("canvas item not found")
	ErrConflict         = errors.New("canvas item already exists")
	ErrValidation       = errors.New("validation failed")
	ErrReaderNil        = errors.New("reader is nil")
	ErrUnsupportedImage = errors.New("unsupported image type")
)

// ImagePrefix is the object key prefix for uploaded images.
const ImagePrefix = "images/"

const imageURLExpiry = 15 * time.Minute

// ItemListResult is the service-level DTO for the item collection.
type ItemListResult struct {
	Items []model.CanvasItem `json:"items"`
	Total int                `json:"total"`
}

// ImageUpload describes a stored image object.
type ImageUpload struct {
	ImageRef string `json:"imageRef"`
	URL      string `json:"url"`
}

// CanvasService defines the use cases of the canvas item API.
type CanvasService interface {
	// List returns items oldest first. limit <= 0 returns the whole collection.
	List(ctx context.Context, limit, offset int) (*ItemListResult, error)

	// Get returns a single item by its ID.
	Get(ctx context.Context, id string) (*model.CanvasItem, error)

	// Create stores a new item. The client-chosen id is kept; a taken id is ErrConflict.
	Create(ctx context.Context, item model.CanvasItem) (*model.CanvasItem, error)

	// Update applies a partial patch. Size is clamped and UpdatedAt advanced.
	Update(ctx context.Context, id string, patch model.Patch) (*model.CanvasItem, error)

	// Delete removes an item and the image object it owns.
	Delete(ctx context.Context, id string) error

	// UploadImage stores image content under a generated key.
	UploadImage(ctx context.Context, r io.Reader, originalFilename, contentType string, size int64) (*ImageUpload, error)

	// ImageURL returns a short-lived download URL for a stored image.
	ImageURL(ctx context.Context, ref string) (string, error)
}

type canvasService struct {
	repo     repository.CanvasItemRepository
	store    storage.Storage
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewCanvasService constructs a new CanvasService.
func NewCanvasService(repo repository.CanvasItemRepository, store storage.Storage, logger *zap.Logger) CanvasService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &canvasService{
		repo:     repo,
		store:    store,
		logger:   logger.Named("canvas"),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *canvasService) List(ctx context.Context, limit, offset int) (*ItemListResult, error) {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 || limit == 0 {
		offset = 0
	}
	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &ItemListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *canvasService) Get(ctx context.Context, id string) (*model.CanvasItem, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	it, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return it, nil
}

func (s *canvasService) Create(ctx context.Context, item model.CanvasItem) (*model.CanvasItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := s.validateItem(item); err != nil {
		return nil, err
	}

	now := s.now()
	item = item.Normalize()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	stored, err := s.repo.Create(ctx, &item)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return stored, nil
}

func (s *canvasService) Update(ctx context.Context, id string, patch model.Patch) (*model.CanvasItem, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	if err := s.validatePatch(patch); err != nil {
		return nil, err
	}
	patch = patch.Normalize()

	updated, err := s.repo.Update(ctx, id, func(it *model.CanvasItem) error {
		if err := patch.Validate(it.Kind); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		next := it.Apply(patch)
		next.UpdatedAt = s.now()
		if !next.UpdatedAt.After(it.UpdatedAt) {
			next.UpdatedAt = it.UpdatedAt.Add(time.Microsecond)
		}
		*it = next
		return nil
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return updated, nil
}

func (s *canvasService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return mapRepoErr(err)
	}
	// The row is gone either way; a leftover object is only logged.
	if strings.HasPrefix(removed.ImageRef, ImagePrefix) {
		if err := s.store.Delete(ctx, removed.ImageRef); err != nil {
			s.logger.Warn("image object not removed",
				zap.String("item_id", id),
				zap.String("image_ref", removed.ImageRef),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *canvasService) UploadImage(ctx context.Context, r io.Reader, originalFilename, contentType string, size int64) (*ImageUpload, error) {
	if r == nil {
		return nil, ErrReaderNil
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}

	ext := strings.ToLower(filepath.Ext(originalFilename))
	key := ImagePrefix + uuid.New().String() + ext

	info, err := s.store.Put(ctx, key, r, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata: map[string]string{
			"original-filename": originalFilename,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	url, err := s.store.PresignGet(ctx, info.Key, imageURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", info.Key, err)
	}
	return &ImageUpload{ImageRef: info.Key, URL: url}, nil
}

func (s *canvasService) ImageURL(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, ImagePrefix) || strings.Contains(ref, "..") {
		return "", ErrNotFound
	}
	if _, err := s.store.Stat(ctx, ref); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return s.store.PresignGet(ctx, ref, imageURLExpiry)
}

func (s *canvasService) validateItem(item model.CanvasItem) error {
	if err := s.validate.Struct(item); err != nil {
		return formatValidationError(err)
	}
	for _, v := range []float64{item.X, item.Y, item.Width, item.Height, item.Rotation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: numbers must be finite", ErrValidation)
		}
	}
	if item.Kind != model.KindImage && item.ImageRef != "" {
		return fmt.Errorf("%w: imageRef is only allowed on images", ErrValidation)
	}
	if item.Kind != model.KindChecklist && len(item.Checklist) > 0 {
		return fmt.Errorf("%w: checklist is only allowed on checklists", ErrValidation)
	}
	return nil
}

func (s *canvasService) validatePatch(p model.Patch) error {
	if p.IsEmpty() {
		return fmt.Errorf("%w: patch is empty", ErrValidation)
	}
	if p.Content != nil {
		if err := s.validate.Var(*p.Content, "max=10000"); err != nil {
			return fmt.Errorf("%w: content is too long", ErrValidation)
		}
	}
	if p.Checklist != nil {
		if err := s.validate.Var(*p.Checklist, "dive"); err != nil {
			return formatValidationError(err)
		}
	}
	return nil
}

// formatValidationError turns validator output into one readable ErrValidation.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", field, e.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, e.Param()))
		case "email":
			msgs = append(msgs, field+" must be a valid email address")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrDuplicate):
		return ErrConflict
	}
	return err
}
