package store

import (
	"context"

	"perfume-store/internal/models"

	"github.com/google/uuid"
)

// CreateReview inserts a review
func (s *Store) CreateReview(ctx context.Context, review *models.Review) error {
	query := `
		INSERT INTO reviews (perfume_id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, date_created`

	return s.get(ctx, review, query, review.PerfumeID, review.Name, review.Description)
}

// ListReviews retrieves reviews of a perfume, newest first
func (s *Store) ListReviews(ctx context.Context, perfumeID uuid.UUID) ([]models.Review, error) {
	reviews := []models.Review{}
	err := s.selectAll(ctx, &reviews,
		"SELECT id, perfume_id, date_created, name, description FROM reviews WHERE perfume_id = $1 ORDER BY date_created DESC, id DESC",
		perfumeID)
	return reviews, err
}
