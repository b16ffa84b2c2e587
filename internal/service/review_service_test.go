package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewsAreScopedToPerfume(t *testing.T) {
	f := newFixture(t)
	a := f.perfume("Oud", "10.00", 5)
	b := f.perfume("Musk", "8.00", 5)
	ctx := context.Background()

	_, err := f.reviews.AddReview(ctx, a.ID, ReviewInput{Name: "Sam", Description: "Lasts all day"})
	require.NoError(t, err)
	latest, err := f.reviews.AddReview(ctx, a.ID, ReviewInput{Name: "Kai", Description: "Too sweet"})
	require.NoError(t, err)
	_, err = f.reviews.AddReview(ctx, b.ID, ReviewInput{Name: "Ren", Description: "Fresh"})
	require.NoError(t, err)

	reviews, err := f.reviews.ListReviews(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, latest.ID, reviews[0].ID)
	for _, r := range reviews {
		assert.Equal(t, a.ID, r.PerfumeID)
	}
}

func TestAddReviewValidation(t *testing.T) {
	f := newFixture(t)
	a := f.perfume("Oud", "10.00", 5)
	ctx := context.Background()

	_, err := f.reviews.AddReview(ctx, uuid.New(), ReviewInput{Name: "Sam", Description: "Nice"})
	assert.ErrorIs(t, err, ErrNotFound)

	var validation *ValidationError
	_, err = f.reviews.AddReview(ctx, a.ID, ReviewInput{Name: "  ", Description: "Nice"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "name", validation.Field)

	_, err = f.reviews.ListReviews(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
