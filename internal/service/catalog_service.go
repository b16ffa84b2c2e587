package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"perfume-store/internal/models"
	"perfume-store/internal/store"
	"perfume-store/internal/util"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// sniffLen is how much of each upload is read to detect its type
const sniffLen = 3072

// uploadImageTypes are the payload types accepted as perfume images.
// SVG is excluded since it can carry script.
var uploadImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// maxPrice is the exclusive bound of a NUMERIC(12,2) price column
var maxPrice = decimal.New(1, 10)

// CatalogRepository is the persistence the catalog needs
type CatalogRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	ListPerfumes(ctx context.Context, filter store.PerfumeFilter) ([]models.Perfume, error)
	GetPerfume(ctx context.Context, id uuid.UUID) (*models.Perfume, error)
	CreatePerfume(ctx context.Context, p *models.Perfume) error
	CreatePerfumeImage(ctx context.Context, img *models.PerfumeImage) error
}

// PerfumeCache caches full perfume views
type PerfumeCache interface {
	GetPerfume(ctx context.Context, id uuid.UUID) (*models.Perfume, bool, error)
	SetPerfume(ctx context.Context, p *models.Perfume, ttl time.Duration) error
	InvalidatePerfumes(ctx context.Context, ids ...uuid.UUID) error
}

// ImageStorage persists uploaded image payloads
type ImageStorage interface {
	Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// ImageUpload is one uploaded image payload
type ImageUpload struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// CreatePerfumeInput holds the scalar fields of a new perfume
type CreatePerfumeInput struct {
	CategoryID  *int64
	Name        string
	Description string
	Price       decimal.Decimal
	Inventory   int
	Discount    bool
	TopDeal     bool
	FlashSales  bool
	Slug        string
}

// CatalogService handles catalog reads and perfume creation
type CatalogService struct {
	store    CatalogRepository
	cache    PerfumeCache
	images   ImageStorage
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store CatalogRepository, cache PerfumeCache, images ImageStorage, cacheTTL time.Duration) *CatalogService {
	return &CatalogService{
		store:    store,
		cache:    cache,
		images:   images,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// ListCategories returns every category
func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

// GetCategory returns one category
func (s *CatalogService) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	category, err := s.store.GetCategory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("category", id)
	}
	return category, err
}

// ListPerfumes returns perfumes matching filter
func (s *CatalogService) ListPerfumes(ctx context.Context, filter store.PerfumeFilter) ([]models.Perfume, error) {
	return s.store.ListPerfumes(ctx, filter)
}

// GetPerfume returns the full view of a perfume, read through the cache
func (s *CatalogService) GetPerfume(ctx context.Context, id uuid.UUID) (*models.Perfume, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetPerfume")
	defer span.End()

	cached, ok, err := s.cache.GetPerfume(ctx, id)
	if err != nil {
		s.logger.Warn("Perfume cache read failed", zap.String("perfume_id", id.String()), zap.Error(err))
	}
	if ok {
		util.CatalogCacheRequestsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	util.CatalogCacheRequestsTotal.WithLabelValues("miss").Inc()

	perfume, err := s.store.GetPerfume(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("product", id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetPerfume(ctx, perfume, s.cacheTTL); err != nil {
		s.logger.Warn("Perfume cache write failed", zap.String("perfume_id", id.String()), zap.Error(err))
	}
	return perfume, nil
}

// CreatePerfume stores every image, then inserts the perfume and its image
// rows in one transaction. Either all of it persists or none of it does.
func (s *CatalogService) CreatePerfume(ctx context.Context, in CreatePerfumeInput, uploads []ImageUpload) (*models.Perfume, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreatePerfume")
	defer span.End()

	if err := s.validatePerfume(ctx, in, uploads); err != nil {
		return nil, err
	}
	types, err := detectImageTypes(uploads)
	if err != nil {
		return nil, err
	}

	refs, err := s.saveImages(ctx, uploads, types)
	if err != nil {
		return nil, err
	}

	perfume := &models.Perfume{
		ID:          uuid.New(),
		CategoryID:  in.CategoryID,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Inventory:   in.Inventory,
		Discount:    in.Discount,
		TopDeal:     in.TopDeal,
		FlashSales:  in.FlashSales,
		Slug:        in.Slug,
	}
	if perfume.Slug == "" {
		perfume.Slug = slug.Make(in.Name)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreatePerfume(ctx, perfume); err != nil {
			return fmt.Errorf("failed to create perfume: %w", err)
		}

		images := make([]models.PerfumeImage, 0, len(refs))
		for _, ref := range refs {
			img := models.PerfumeImage{PerfumeID: perfume.ID, Image: ref}
			if err := s.store.CreatePerfumeImage(ctx, &img); err != nil {
				return fmt.Errorf("failed to create perfume image: %w", err)
			}
			images = append(images, img)
		}
		perfume.Images = images
		return nil
	})
	if err != nil {
		s.discardImages(refs)
		return nil, err
	}

	util.PerfumesCreatedTotal.Inc()
	s.logger.Info("Perfume created",
		zap.String("perfume_id", perfume.ID.String()),
		zap.Int("images", len(perfume.Images)))
	return perfume, nil
}

func (s *CatalogService) validatePerfume(ctx context.Context, in CreatePerfumeInput, uploads []ImageUpload) error {
	if in.Name == "" {
		return invalid("name", "this field is required")
	}
	if in.Price.IsNegative() {
		return invalid("price", "must not be negative")
	}
	if !in.Price.Equal(in.Price.Round(2)) {
		return invalid("price", "must have at most 2 decimal places")
	}
	if in.Price.GreaterThanOrEqual(maxPrice) {
		return invalid("price", "must be less than "+maxPrice.String())
	}
	if in.Inventory < 0 {
		return invalid("inventory", "must not be negative")
	}
	if len(uploads) == 0 {
		return invalid("uploaded_images", "at least one image is required")
	}
	if in.CategoryID != nil {
		if _, err := s.store.GetCategory(ctx, *in.CategoryID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalid("category_id", "unknown category")
			}
			return err
		}
	}
	return nil
}

// detectImageTypes sniffs every upload and rejects empty payloads and
// anything that is not a supported raster image
func detectImageTypes(uploads []ImageUpload) ([]*mimetype.MIME, error) {
	types := make([]*mimetype.MIME, 0, len(uploads))
	for _, up := range uploads {
		mt, err := detectImageType(up)
		if err != nil {
			return nil, err
		}
		types = append(types, mt)
	}
	return types, nil
}

func detectImageType(up ImageUpload) (*mimetype.MIME, error) {
	r, err := up.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open image %q: %w", up.Filename, err)
	}
	defer r.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read image %q: %w", up.Filename, err)
	}
	if n == 0 {
		return nil, invalid("uploaded_images", fmt.Sprintf("%s is empty", up.Filename))
	}

	mt := mimetype.Detect(head[:n])
	for _, allowed := range uploadImageTypes {
		if mt.Is(allowed) {
			return mt, nil
		}
	}
	return nil, invalid("uploaded_images", fmt.Sprintf("%s is not a supported image (%s)", up.Filename, mt.String()))
}

// saveImages stores every upload, removing the ones already stored when
// any of them fails
func (s *CatalogService) saveImages(ctx context.Context, uploads []ImageUpload, types []*mimetype.MIME) ([]string, error) {
	refs := make([]string, 0, len(uploads))
	for i, up := range uploads {
		ref, err := s.saveImage(ctx, up, types[i])
		if err != nil {
			s.discardImages(refs)
			return nil, fmt.Errorf("failed to store image %d: %w", i, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// saveImage stores up under the detected type. The client filename and
// content type are not trusted.
func (s *CatalogService) saveImage(ctx context.Context, up ImageUpload, mt *mimetype.MIME) (string, error) {
	r, err := up.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()
	return s.images.Save(ctx, "image"+mt.Extension(), mt.String(), r)
}

func (s *CatalogService) discardImages(refs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, ref := range refs {
		if err := s.images.Delete(ctx, ref); err != nil {
			s.logger.Error("Failed to delete orphaned image", zap.String("image", ref), zap.Error(err))
		}
	}
}
