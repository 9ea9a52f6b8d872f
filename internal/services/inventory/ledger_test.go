package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/testutil"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, StatusOutOfStock, Classify(0))
	assert.Equal(t, StatusLow, Classify(1))
	assert.Equal(t, StatusLow, Classify(5))
	assert.Equal(t, StatusNormal, Classify(6))
}

func TestReserve(t *testing.T) {
	db := testutil.NewDB(t)
	shop := testutil.SeedShop(t, db, "Epicerie")
	product := testutil.SeedProduct(t, db, shop.ID, "2.50", 3)
	ledger := NewLedger(db, nil)
	ctx := context.Background()

	got, err := ledger.Reserve(ctx, product.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), got.Stock)

	_, err = ledger.Reserve(ctx, product.ID, 4)
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInsufficientStock, ae.Code)
	assert.Equal(t, int32(3), *ae.Available)

	_, err = ledger.Reserve(ctx, 9999, 1)
	assert.True(t, apperr.Is(err, apperr.CodeProductUnavailable))

	require.NoError(t, db.Model(product).Update("active", false).Error)
	_, err = ledger.Reserve(ctx, product.ID, 1)
	assert.True(t, apperr.Is(err, apperr.CodeProductUnavailable))
}

func TestDecrementNeverGoesNegative(t *testing.T) {
	db := testutil.NewDB(t)
	shop := testutil.SeedShop(t, db, "Epicerie")
	product := testutil.SeedProduct(t, db, shop.ID, "1.00", 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		return Decrement(tx, product.ID, 3)
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientStock))
	assert.Equal(t, int32(2), testutil.Reload[models.Product](t, db, product.ID).Stock)

	err = db.Transaction(func(tx *gorm.DB) error {
		return Decrement(tx, product.ID, 2)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), testutil.Reload[models.Product](t, db, product.ID).Stock)

	err = db.Transaction(func(tx *gorm.DB) error {
		return Increment(tx, product.ID, 4)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), testutil.Reload[models.Product](t, db, product.ID).Stock)
}

func TestAdjustStock(t *testing.T) {
	db := testutil.NewDB(t)
	shop := testutil.SeedShop(t, db, "Epicerie")
	other := testutil.SeedShop(t, db, "Other")
	product := testutil.SeedProduct(t, db, shop.ID, "1.00", 10)
	ledger := NewLedger(db, nil)
	ctx := context.Background()

	s, err := ledger.AdjustStock(ctx, shop.ID, product.ID, OpAdd, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(15), s.Stock)

	s, err = ledger.AdjustStock(ctx, shop.ID, product.ID, OpSubtract, 20)
	require.NoError(t, err)
	assert.Equal(t, int32(0), s.Stock)
	assert.Equal(t, StatusOutOfStock, s.Status)
	assert.True(t, s.Alert)

	s, err = ledger.AdjustStock(ctx, shop.ID, product.ID, OpSet, 4)
	require.NoError(t, err)
	assert.Equal(t, StatusLow, s.Status)

	_, err = ledger.AdjustStock(ctx, shop.ID, product.ID, OpSet, -1)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = ledger.AdjustStock(ctx, shop.ID, product.ID, "MULTIPLY", 2)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = ledger.AdjustStock(ctx, other.ID, product.ID, OpSet, 1)
	assert.True(t, apperr.Is(err, apperr.CodeProductNotFound))
}

func TestSituation(t *testing.T) {
	db := testutil.NewDB(t)
	shop := testutil.SeedShop(t, db, "Epicerie")
	low := testutil.SeedProduct(t, db, shop.ID, "1.00", 2)
	testutil.SeedProduct(t, db, shop.ID, "1.00", 50)
	ledger := NewLedger(db, nil)
	ctx := context.Background()

	s, err := ledger.Situation(ctx, shop.ID, low.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLow, s.Status)
	assert.Equal(t, LowStockThreshold, s.Threshold)

	all, err := ledger.ShopSituation(ctx, shop.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, low.ID, all[0].ProductID)
	assert.Equal(t, StatusNormal, all[1].Status)
}
