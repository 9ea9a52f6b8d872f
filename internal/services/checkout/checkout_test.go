package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/events"
	"mall-system/internal/services/cart"
	"mall-system/internal/testutil"
)

var now = time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	db       *gorm.DB
	carts    *cart.Service
	checkout *Service
	recorder *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	clock := func() time.Time { return now }
	rec := events.NewRecorder()
	return &fixture{
		db:       db,
		carts:    cart.NewService(db, nil).WithClock(clock),
		checkout: NewService(db, rec, nil).WithClock(clock),
		recorder: rec,
	}
}

func TestCheckoutSplitsByShop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bakery := testutil.SeedShop(t, f.db, "Boulangerie")
	florist := testutil.SeedShop(t, f.db, "Fleuriste")
	books := testutil.SeedShop(t, f.db, "Librairie")

	bread := testutil.SeedProduct(t, f.db, bakery.ID, "1.10", 50)
	croissant := testutil.SeedProduct(t, f.db, bakery.ID, "0.95", 50)
	roses := testutil.SeedProduct(t, f.db, florist.ID, "24.90", 5)
	novel := testutil.SeedProduct(t, f.db, books.ID, "18.00", 3)
	testutil.SeedPromotion(t, f.db, "15", now.Add(-time.Hour), now.Add(time.Hour), roses)

	for _, add := range []struct {
		id  int64
		qty int32
	}{{bread.ID, 2}, {roses.ID, 1}, {croissant.ID, 3}, {novel.ID, 1}} {
		_, err := f.carts.AddItem(ctx, 11, add.id, add.qty)
		require.NoError(t, err)
	}

	res, err := f.checkout.Run(ctx, 11)
	require.NoError(t, err)

	assert.Equal(t, 3, res.OrderCount)
	require.Len(t, res.Orders, 3)
	assert.Equal(t, bakery.ID, res.Orders[0].ShopID)
	assert.Equal(t, florist.ID, res.Orders[1].ShopID)
	assert.Equal(t, books.ID, res.Orders[2].ShopID)

	assert.True(t, res.Orders[0].TotalAmount.Equal(dec("5.05")))
	assert.True(t, res.Orders[1].TotalAmount.Equal(dec("21.17")))
	assert.True(t, res.Orders[2].TotalAmount.Equal(dec("18")))
	assert.True(t, res.GrandTotal.Equal(dec("44.22")))

	for _, id := range res.OrderIDs {
		var o models.Order
		require.NoError(t, f.db.Preload("Items").First(&o, id).Error)
		assert.Equal(t, models.OrderPending, o.Status)
		assert.Equal(t, int64(11), o.BuyerID)

		sum := decimal.Zero
		for _, it := range o.Items {
			sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt32(it.Quantity)))
		}
		assert.True(t, o.TotalAmount.Equal(sum.Round(2)), "order %d total equals its frozen lines", id)
	}

	view, err := f.carts.Get(ctx, 11)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
	assert.NotZero(t, view.CartID)

	// checkout reserves nothing
	assert.Equal(t, int32(5), testutil.Reload[models.Product](t, f.db, roses.ID).Stock)
	assert.Equal(t, []string{events.OrderCreated, events.OrderCreated, events.OrderCreated}, f.recorder.Types())
}

func TestCheckoutFreezesPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Epicerie")
	tea := testutil.SeedProduct(t, f.db, shop.ID, "6.40", 10)
	testutil.SeedPromotion(t, f.db, "50", now.Add(-time.Hour), now.Add(time.Hour), tea)

	_, err := f.carts.AddItem(ctx, 1, tea.ID, 2)
	require.NoError(t, err)
	res, err := f.checkout.Run(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, f.db.Model(tea).Update("price", dec("9.99")).Error)

	var item models.OrderItem
	require.NoError(t, f.db.Where("order_id = ?", res.OrderIDs[0]).First(&item).Error)
	assert.True(t, item.UnitPrice.Equal(dec("3.20")))
	assert.True(t, item.LineTotal.Equal(dec("6.40")))
}

func TestCheckoutIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := testutil.SeedShop(t, f.db, "A")
	b := testutil.SeedShop(t, f.db, "B")
	ok := testutil.SeedProduct(t, f.db, a.ID, "3.00", 10)
	scarce := testutil.SeedProduct(t, f.db, b.ID, "7.00", 4)

	_, err := f.carts.AddItem(ctx, 2, ok.ID, 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, 2, scarce.ID, 4)
	require.NoError(t, err)

	// stock drifts after the item was added
	require.NoError(t, f.db.Model(scarce).Update("stock", 2).Error)

	_, err = f.checkout.Run(ctx, 2)
	require.Error(t, err)
	ae, isApp := apperr.As(err)
	require.True(t, isApp)
	assert.Equal(t, apperr.CodeInsufficientStock, ae.Code)
	assert.Equal(t, int32(2), *ae.Available)

	var orders int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)

	view, err := f.carts.Get(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 2, "cart untouched")
	assert.Empty(t, f.recorder.Events())
}

func TestCheckoutRejectsInactiveProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "A")
	p := testutil.SeedProduct(t, f.db, shop.ID, "3.00", 10)
	_, err := f.carts.AddItem(ctx, 4, p.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(p).Update("active", false).Error)

	_, err = f.checkout.Run(ctx, 4)
	assert.True(t, apperr.Is(err, apperr.CodeProductUnavailable))
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.checkout.Run(ctx, 77)
	assert.True(t, apperr.Is(err, apperr.CodeEmptyCart))
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	shop := testutil.SeedShop(t, f.db, "A")
	p := testutil.SeedProduct(t, f.db, shop.ID, "3.00", 10)
	_, err = f.carts.AddItem(ctx, 77, p.ID, 1)
	require.NoError(t, err)
	_, err = f.carts.Clear(ctx, 77)
	require.NoError(t, err)

	_, err = f.checkout.Run(ctx, 77)
	assert.True(t, apperr.Is(err, apperr.CodeEmptyCart))
}
