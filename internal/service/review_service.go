package service

import (
	"context"
	"fmt"
	"strings"

	"perfume-store/internal/models"
	"perfume-store/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReviewRepository is the persistence reviews need
type ReviewRepository interface {
	PerfumeExists(ctx context.Context, id uuid.UUID) (bool, error)
	CreateReview(ctx context.Context, review *models.Review) error
	ListReviews(ctx context.Context, perfumeID uuid.UUID) ([]models.Review, error)
}

// ReviewInput is the client-supplied part of a review. The perfume always
// comes from the route.
type ReviewInput struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description" binding:"required"`
}

// ReviewService handles perfume reviews
type ReviewService struct {
	store  ReviewRepository
	logger *zap.Logger
}

// NewReviewService creates a new review service
func NewReviewService(store ReviewRepository) *ReviewService {
	return &ReviewService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// AddReview attaches a review to perfumeID
func (s *ReviewService) AddReview(ctx context.Context, perfumeID uuid.UUID, in ReviewInput) (*models.Review, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name", "this field is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, invalid("description", "this field is required")
	}
	if err := s.requirePerfume(ctx, perfumeID); err != nil {
		return nil, err
	}

	review := &models.Review{
		PerfumeID:   perfumeID,
		Name:        in.Name,
		Description: in.Description,
	}
	if err := s.store.CreateReview(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	util.ReviewsCreatedTotal.Inc()
	s.logger.Info("Review created",
		zap.Int64("review_id", review.ID),
		zap.String("perfume_id", perfumeID.String()))
	return review, nil
}

// ListReviews returns a perfume's reviews, newest first
func (s *ReviewService) ListReviews(ctx context.Context, perfumeID uuid.UUID) ([]models.Review, error) {
	if err := s.requirePerfume(ctx, perfumeID); err != nil {
		return nil, err
	}
	return s.store.ListReviews(ctx, perfumeID)
}

func (s *ReviewService) requirePerfume(ctx context.Context, perfumeID uuid.UUID) error {
	exists, err := s.store.PerfumeExists(ctx, perfumeID)
	if err != nil {
		return err
	}
	if !exists {
		return notFound("product", perfumeID)
	}
	return nil
}
