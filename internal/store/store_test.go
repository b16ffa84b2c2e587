package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"perfume-store/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

func TestWithTxCommits(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE perfumes SET inventory = inventory - \\$1").
		WithArgs(2, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		return s.DecrementInventory(ctx, id, 2)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE perfumes SET inventory = inventory - \\$1").
		WithArgs(6, id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		return s.DecrementInventory(ctx, id, 6)
	})

	assert.ErrorIs(t, err, ErrInsufficientInventory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = s.WithTx(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxNestedReusesTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error { return nil })
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCartItem(t *testing.T) {
	cartID, perfumeID := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		created bool
	}{
		{name: "new line", created: true},
		{name: "merged line", created: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)

			mock.ExpectQuery("(?s)INSERT INTO cart_items.*ON CONFLICT \\(cart_id, perfume_id\\)").
				WithArgs(cartID, perfumeID, 2).
				WillReturnRows(sqlmock.NewRows([]string{"id", "created"}).AddRow(7, tt.created))

			id, created, err := s.UpsertCartItem(context.Background(), cartID, perfumeID, 2)

			require.NoError(t, err)
			assert.Equal(t, int64(7), id)
			assert.Equal(t, tt.created, created)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetCartNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, created_at FROM carts").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetCart(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCartItemScopedToCart(t *testing.T) {
	s, mock := newMockStore(t)
	cartID := uuid.New()

	mock.ExpectExec("DELETE FROM cart_items WHERE id = \\$1 AND cart_id = \\$2").
		WithArgs(int64(3), cartID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteCartItem(context.Background(), cartID, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLockPerfumes(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "category_id", "name", "description", "price", "inventory",
		"discount", "top_deal", "flash_sales", "slug", "created_at", "updated_at",
	}).
		AddRow(a.String(), nil, "Oud", "", "10.00", 5, false, false, false, "oud", now, now).
		AddRow(b.String(), int64(1), "Musk", "", "7.50", 2, false, true, false, "musk", now, now)

	mock.ExpectQuery("FROM perfumes WHERE id = ANY\\(\\$1::uuid\\[\\]\\) ORDER BY id FOR UPDATE").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	perfumes, err := s.LockPerfumes(context.Background(), []uuid.UUID{a, b})

	require.NoError(t, err)
	require.Len(t, perfumes, 2)
	assert.Equal(t, a, perfumes[0].ID)
	assert.True(t, decimal.RequireFromString("7.50").Equal(perfumes[1].Price))
	assert.Equal(t, 2, perfumes[1].Inventory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockPerfumesEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	perfumes, err := s.LockPerfumes(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, perfumes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByIdempotencyKeyAbsent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM orders WHERE idempotency_key = \\$1").
		WithArgs("k-1").
		WillReturnError(sql.ErrNoRows)

	order, err := s.GetOrderByIdempotencyKey(context.Background(), "k-1")

	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestExecOnePropagatesDriverErrors(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	boom := errors.New("connection reset")

	mock.ExpectExec("UPDATE perfumes SET inventory = inventory \\+ \\$1").
		WithArgs(1, id).
		WillReturnError(boom)

	err := s.IncrementInventory(context.Background(), id, 1)
	assert.ErrorIs(t, err, boom)
}

func TestLockCartItemsLocksCartThenItems(t *testing.T) {
	s, mock := newMockStore(t)
	cartID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM carts WHERE id = \\$1 FOR UPDATE").
		WithArgs(cartID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(cartID.String()))
	mock.ExpectQuery("WHERE ci.cart_id = \\$1 ORDER BY ci.id FOR UPDATE OF ci").
		WithArgs(cartID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cart_id", "perfume_id", "quantity"}))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		items, err := s.LockCartItems(ctx, cartID)
		assert.Empty(t, items)
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockCartItemsMissingCart(t *testing.T) {
	s, mock := newMockStore(t)
	cartID := uuid.New()

	mock.ExpectQuery("SELECT id FROM carts WHERE id = \\$1 FOR UPDATE").
		WithArgs(cartID).
		WillReturnError(sql.ErrNoRows)

	_, err := s.LockCartItems(context.Background(), cartID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderDuplicateIdempotencyKey(t *testing.T) {
	s, mock := newMockStore(t)
	key := "checkout-1"

	mock.ExpectQuery("INSERT INTO orders").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_idempotency_key_key"})

	err := s.CreateOrder(context.Background(), &models.Order{UserID: 1, IdempotencyKey: &key})
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCartItemIntoDeletedCart(t *testing.T) {
	s, mock := newMockStore(t)
	cartID, perfumeID := uuid.New(), uuid.New()

	mock.ExpectQuery("INSERT INTO cart_items").
		WithArgs(cartID, perfumeID, 1).
		WillReturnError(&pq.Error{Code: "23503"})

	_, _, err := s.UpsertCartItem(context.Background(), cartID, perfumeID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
