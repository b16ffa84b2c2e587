package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"perfume-store/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const perfumeColumns = `id, category_id, name, description, price, inventory,
	discount, top_deal, flash_sales, slug, created_at, updated_at`

// PerfumeFilter narrows a perfume listing. Nil fields are ignored.
type PerfumeFilter struct {
	CategoryID *int64
	TopDeal    *bool
	FlashSales *bool
}

// ListCategories retrieves all categories
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories := []models.Category{}
	err := s.selectAll(ctx, &categories, "SELECT id, title, slug FROM categories ORDER BY title")
	return categories, err
}

// GetCategory retrieves a category by ID
func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var category models.Category
	err := s.get(ctx, &category, "SELECT id, title, slug FROM categories WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// ListPerfumes retrieves perfumes matching the filter, with images
func (s *Store) ListPerfumes(ctx context.Context, filter PerfumeFilter) ([]models.Perfume, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		conds = append(conds, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.TopDeal != nil {
		args = append(args, *filter.TopDeal)
		conds = append(conds, fmt.Sprintf("top_deal = $%d", len(args)))
	}
	if filter.FlashSales != nil {
		args = append(args, *filter.FlashSales)
		conds = append(conds, fmt.Sprintf("flash_sales = $%d", len(args)))
	}

	query := "SELECT " + perfumeColumns + " FROM perfumes"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	perfumes := []models.Perfume{}
	if err := s.selectAll(ctx, &perfumes, query, args...); err != nil {
		return nil, err
	}
	if len(perfumes) == 0 {
		return perfumes, nil
	}

	ids := make([]uuid.UUID, len(perfumes))
	for i := range perfumes {
		ids[i] = perfumes[i].ID
	}
	images, err := s.imagesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range perfumes {
		perfumes[i].Images = images[perfumes[i].ID]
	}
	return perfumes, nil
}

// GetPerfume retrieves a perfume by ID, with images
func (s *Store) GetPerfume(ctx context.Context, id uuid.UUID) (*models.Perfume, error) {
	var perfume models.Perfume
	err := s.get(ctx, &perfume, "SELECT "+perfumeColumns+" FROM perfumes WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	images, err := s.imagesFor(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	perfume.Images = images[id]
	return &perfume, nil
}

// PerfumeExists reports whether a perfume row exists
func (s *Store) PerfumeExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.get(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM perfumes WHERE id = $1)", id)
	return exists, err
}

// CreatePerfume inserts a perfume. Images are inserted separately.
func (s *Store) CreatePerfume(ctx context.Context, p *models.Perfume) error {
	query := `
		INSERT INTO perfumes (id, category_id, name, description, price, inventory,
			discount, top_deal, flash_sales, slug)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	return s.get(ctx, p, query,
		p.ID, p.CategoryID, p.Name, p.Description, p.Price, p.Inventory,
		p.Discount, p.TopDeal, p.FlashSales, p.Slug)
}

// CreatePerfumeImage inserts an image row for a perfume
func (s *Store) CreatePerfumeImage(ctx context.Context, img *models.PerfumeImage) error {
	return s.get(ctx, &img.ID,
		"INSERT INTO perfume_images (perfume_id, image) VALUES ($1, $2) RETURNING id",
		img.PerfumeID, img.Image)
}

// LockPerfumes selects the given perfumes FOR UPDATE in id order, so
// concurrent lockers of overlapping sets always acquire in the same order.
// Unknown ids are absent from the result.
func (s *Store) LockPerfumes(ctx context.Context, ids []uuid.UUID) ([]models.Perfume, error) {
	perfumes := []models.Perfume{}
	if len(ids) == 0 {
		return perfumes, nil
	}
	err := s.selectAll(ctx, &perfumes,
		"SELECT "+perfumeColumns+" FROM perfumes WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE",
		pq.Array(uuidStrings(ids)))
	return perfumes, err
}

// DecrementInventory removes quantity from stock, never below zero
func (s *Store) DecrementInventory(ctx context.Context, id uuid.UUID, quantity int) error {
	return s.execOne(ctx, ErrInsufficientInventory,
		"UPDATE perfumes SET inventory = inventory - $1, updated_at = NOW() WHERE id = $2 AND inventory >= $1",
		quantity, id)
}

// IncrementInventory returns quantity to stock
func (s *Store) IncrementInventory(ctx context.Context, id uuid.UUID, quantity int) error {
	return s.execOne(ctx, ErrNotFound,
		"UPDATE perfumes SET inventory = inventory + $1, updated_at = NOW() WHERE id = $2",
		quantity, id)
}

func (s *Store) imagesFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]models.PerfumeImage, error) {
	var images []models.PerfumeImage
	err := s.selectAll(ctx, &images,
		"SELECT id, perfume_id, image FROM perfume_images WHERE perfume_id = ANY($1::uuid[]) ORDER BY id",
		pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}

	byPerfume := make(map[uuid.UUID][]models.PerfumeImage, len(ids))
	for _, id := range ids {
		byPerfume[id] = []models.PerfumeImage{}
	}
	for _, img := range images {
		byPerfume[img.PerfumeID] = append(byPerfume[img.PerfumeID], img)
	}
	return byPerfume, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
