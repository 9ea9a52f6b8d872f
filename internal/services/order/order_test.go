package order

import (
	"context"
	"fmt"
	"sync"
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
	"mall-system/internal/services/checkout"
	"mall-system/internal/testutil"
)

var now = time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	db       *gorm.DB
	carts    *cart.Service
	checkout *checkout.Service
	orders   *Service
	recorder *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	clock := func() time.Time { return now }
	rec := events.NewRecorder()
	return &fixture{
		db:       db,
		carts:    cart.NewService(db, nil).WithClock(clock),
		checkout: checkout.NewService(db, nil, nil).WithClock(clock),
		orders:   NewService(db, rec, nil).WithClock(clock),
		recorder: rec,
	}
}

func (f *fixture) place(t *testing.T, buyerID int64, lines map[int64]int32) []int64 {
	t.Helper()
	ctx := context.Background()
	for productID, qty := range lines {
		_, err := f.carts.AddItem(ctx, buyerID, productID, qty)
		require.NoError(t, err)
	}
	res, err := f.checkout.Run(ctx, buyerID)
	require.NoError(t, err)
	return res.OrderIDs
}

func TestPayConsumesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Epicerie")
	rice := testutil.SeedProduct(t, f.db, shop.ID, "2.50", 10)
	ids := f.place(t, 5, map[int64]int32{rice.ID: 4})
	require.Len(t, ids, 1)

	o, err := f.orders.Pay(ctx, ids[0], 5, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, o.Status)
	assert.Equal(t, DefaultPaymentMethod, *o.PaymentMethod)

	stored := testutil.Reload[models.Order](t, f.db, ids[0])
	assert.Equal(t, models.OrderPaid, stored.Status)
	require.True(t, stored.PaidAmount.Valid)
	assert.True(t, stored.PaidAmount.Decimal.Equal(dec("10")))
	require.NotNil(t, stored.PaidAt)

	assert.Equal(t, int32(6), testutil.Reload[models.Product](t, f.db, rice.ID).Stock)
	assert.Equal(t, []string{events.OrderPaid}, f.recorder.Types())
}

func TestPayTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Epicerie")
	p := testutil.SeedProduct(t, f.db, shop.ID, "1.00", 10)
	ids := f.place(t, 5, map[int64]int32{p.ID: 1})

	_, err := f.orders.Pay(ctx, ids[0], 5, "CASH")
	require.NoError(t, err)

	_, err = f.orders.Pay(ctx, ids[0], 5, "CASH")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.True(t, apperr.Is(err, apperr.CodeInvalidOrderState))
	assert.Equal(t, int32(9), testutil.Reload[models.Product](t, f.db, p.ID).Stock)
}

func TestPayUnknownOrForeignOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Epicerie")
	p := testutil.SeedProduct(t, f.db, shop.ID, "1.00", 10)
	ids := f.place(t, 5, map[int64]int32{p.ID: 1})

	_, err := f.orders.Pay(ctx, ids[0], 6, "CARD")
	assert.True(t, apperr.Is(err, apperr.CodeOrderNotFound))

	_, err = f.orders.Pay(ctx, 9999, 5, "CARD")
	assert.True(t, apperr.Is(err, apperr.CodeOrderNotFound))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPayIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Epicerie")
	plenty := testutil.SeedProduct(t, f.db, shop.ID, "1.00", 10)
	scarce := testutil.SeedProduct(t, f.db, shop.ID, "1.00", 3)
	ids := f.place(t, 5, map[int64]int32{plenty.ID: 2, scarce.ID: 3})
	require.Len(t, ids, 1)

	require.NoError(t, f.db.Model(scarce).Update("stock", 1).Error)

	_, err := f.orders.Pay(ctx, ids[0], 5, "CARD")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInsufficientStock, ae.Code)
	assert.Equal(t, int32(1), *ae.Available)

	assert.Equal(t, int32(10), testutil.Reload[models.Product](t, f.db, plenty.ID).Stock)
	assert.Equal(t, models.OrderPending, testutil.Reload[models.Order](t, f.db, ids[0]).Status)
	assert.Empty(t, f.recorder.Events())
}

func TestPayWalksLinesByProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Epicerie")
	first := testutil.SeedProduct(t, f.db, shop.ID, "1.00", 10)
	second := testutil.SeedProduct(t, f.db, shop.ID, "1.00", 10)

	_, err := f.carts.AddItem(ctx, 8, second.ID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, 8, first.ID, 2)
	require.NoError(t, err)
	res, err := f.checkout.Run(ctx, 8)
	require.NoError(t, err)
	require.Len(t, res.OrderIDs, 1)

	require.NoError(t, f.db.Model(&models.Product{}).Where("shop_id = ?", shop.ID).Update("stock", 1).Error)

	_, err = f.orders.Pay(ctx, res.OrderIDs[0], 8, "CARD")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInsufficientStock, ae.Code)
	assert.Contains(t, ae.Message, fmt.Sprintf("product %d:", first.ID))

	require.NoError(t, f.db.Model(&models.Product{}).Where("shop_id = ?", shop.ID).Update("stock", 5).Error)
	paid, err := f.orders.Pay(ctx, res.OrderIDs[0], 8, "CARD")
	require.NoError(t, err)
	require.Len(t, paid.Items, 2)
	assert.Equal(t, second.ID, paid.Items[0].ProductID, "lines keep their placement order")
	assert.Equal(t, int32(3), testutil.Reload[models.Product](t, f.db, first.ID).Stock)
	assert.Equal(t, int32(3), testutil.Reload[models.Product](t, f.db, second.ID).Stock)
}

func TestConcurrentPaymentsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Fleuriste")
	orchid := testutil.SeedProduct(t, f.db, shop.ID, "30.00", 3)

	first := f.place(t, 1, map[int64]int32{orchid.ID: 2})
	second := f.place(t, 2, map[int64]int32{orchid.ID: 2})

	type attempt struct {
		buyer int64
		order int64
	}
	attempts := []attempt{{1, first[0]}, {2, second[0]}}
	errs := make([]error, len(attempts))

	var wg sync.WaitGroup
	for i, a := range attempts {
		wg.Add(1)
		go func(i int, a attempt) {
			defer wg.Done()
			_, errs[i] = f.orders.Pay(ctx, a.order, a.buyer, "CARD")
		}(i, a)
	}
	wg.Wait()

	var paid, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			paid++
		case apperr.Is(err, apperr.CodeInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int32(1), testutil.Reload[models.Product](t, f.db, orchid.ID).Stock)
}

func TestCancelPendingAndPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Epicerie")
	p := testutil.SeedProduct(t, f.db, shop.ID, "1.00", 10)

	pending := f.place(t, 5, map[int64]int32{p.ID: 1})
	o, err := f.orders.Cancel(ctx, pending[0], 5, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, o.Status)
	assert.Equal(t, DefaultCancelReason, *o.CancelReason)
	assert.Equal(t, models.OrderPending, *o.PreviousStatus)

	paid := f.place(t, 5, map[int64]int32{p.ID: 3})
	_, err = f.orders.Pay(ctx, paid[0], 5, "CARD")
	require.NoError(t, err)
	require.Equal(t, int32(7), testutil.Reload[models.Product](t, f.db, p.ID).Stock)

	o, err = f.orders.Cancel(ctx, paid[0], 5, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, *o.PreviousStatus)
	assert.Equal(t, "changed my mind", *o.CancelReason)

	// paid stock is not returned
	assert.Equal(t, int32(7), testutil.Reload[models.Product](t, f.db, p.ID).Stock)

	_, err = f.orders.Cancel(ctx, paid[0], 5, "again")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidOrderState))

	_, err = f.orders.Pay(ctx, pending[0], 5, "CARD")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidOrderState))

	assert.Equal(t, []string{events.OrderCancelled, events.OrderPaid, events.OrderCancelled}, f.recorder.Types())
}

func TestCancelDeliveredIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Epicerie")
	p := testutil.SeedProduct(t, f.db, shop.ID, "1.00", 10)
	ids := f.place(t, 5, map[int64]int32{p.ID: 1})
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", ids[0]).Update("status", models.OrderDelivered).Error)

	_, err := f.orders.Cancel(ctx, ids[0], 5, "")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidOrderState))
}

func TestGetDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "Librairie")
	book := testutil.SeedProduct(t, f.db, shop.ID, "20.00", 10)
	testutil.SeedPromotion(t, f.db, "25", now.Add(-time.Hour), now.Add(time.Hour), book)
	ids := f.place(t, 8, map[int64]int32{book.ID: 2})

	d, err := f.orders.Get(ctx, ids[0], 8)
	require.NoError(t, err)
	assert.Equal(t, Reference(ids[0]), d.Reference)
	assert.Equal(t, "Librairie", d.ShopName)
	assert.True(t, d.TotalAmount.Equal(dec("30")))
	assert.True(t, d.OriginalTotal.Equal(dec("40")))
	assert.True(t, d.Savings.Equal(dec("10")))
	assert.True(t, d.CanPay)
	assert.True(t, d.CanCancel)
	require.Len(t, d.Lines, 1)
	assert.True(t, d.Lines[0].UnitPrice.Equal(dec("15")))
	assert.Equal(t, "PENDING", d.Payment.Status)

	// a later price cut never yields negative savings
	require.NoError(t, f.db.Model(book).Update("price", dec("5.00")).Error)
	d, err = f.orders.Get(ctx, ids[0], 8)
	require.NoError(t, err)
	assert.True(t, d.Savings.IsZero())

	_, err = f.orders.Cancel(ctx, ids[0], 8, "too slow")
	require.NoError(t, err)
	d, err = f.orders.Get(ctx, ids[0], 8)
	require.NoError(t, err)
	assert.False(t, d.CanPay)
	require.NotNil(t, d.Cancellation)
	assert.Equal(t, "too slow", d.Cancellation.Reason)
	assert.Equal(t, models.OrderPending, d.Cancellation.PreviousStatus)

	_, err = f.orders.Get(ctx, ids[0], 9)
	assert.True(t, apperr.Is(err, apperr.CodeOrderNotFound))
}

func TestListWithFiltersAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := testutil.SeedShop(t, f.db, "A")
	b := testutil.SeedShop(t, f.db, "B")
	pa := testutil.SeedProduct(t, f.db, a.ID, "10.00", 100)
	pb := testutil.SeedProduct(t, f.db, b.ID, "4.00", 100)

	f.place(t, 3, map[int64]int32{pa.ID: 1, pb.ID: 1})
	second := f.place(t, 3, map[int64]int32{pa.ID: 5})
	f.place(t, 4, map[int64]int32{pa.ID: 1})

	_, err := f.orders.Pay(ctx, second[0], 3, "CARD")
	require.NoError(t, err)

	res, err := f.orders.List(ctx, 3, Filter{Sort: SortTotalDesc})
	require.NoError(t, err)
	require.Len(t, res.Orders, 3)
	assert.True(t, res.Orders[0].TotalAmount.Equal(dec("50")))
	assert.True(t, res.Orders[2].TotalAmount.Equal(dec("4")))
	assert.Equal(t, int64(3), res.Pagination.Total)

	assert.Equal(t, int64(3), res.Stats.Count)
	assert.True(t, res.Stats.TotalSpent.Equal(dec("64")))
	assert.True(t, res.Stats.Average.Equal(dec("21.33")))
	assert.Equal(t, int64(1), res.Stats.ByStatus[models.OrderPaid])
	assert.Equal(t, int64(2), res.Stats.ByStatus[models.OrderPending])

	res, err = f.orders.List(ctx, 3, Filter{Statuses: []models.OrderStatus{models.OrderPending}, ShopID: &a.ID})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, a.ID, res.Orders[0].ShopID)
	assert.True(t, res.Orders[0].TotalAmount.Equal(dec("10")))
	assert.Equal(t, int64(3), res.Stats.Count, "stats ignore filters")

	floor := dec("5")
	res, err = f.orders.List(ctx, 3, Filter{MinTotal: &floor, Sort: SortTotalAsc, Limit: 1, Page: 2})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.True(t, res.Orders[0].TotalAmount.Equal(dec("50")))
	assert.Equal(t, int64(2), res.Pagination.Pages)
}

func TestShopOrdersAndRevenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shop := testutil.SeedShop(t, f.db, "A")
	p := testutil.SeedProduct(t, f.db, shop.ID, "12.50", 100)

	one := f.place(t, 1, map[int64]int32{p.ID: 2})
	two := f.place(t, 2, map[int64]int32{p.ID: 1})
	f.place(t, 3, map[int64]int32{p.ID: 4})

	_, err := f.orders.Pay(ctx, one[0], 1, "CARD")
	require.NoError(t, err)
	_, err = f.orders.Pay(ctx, two[0], 2, "CARD")
	require.NoError(t, err)

	list, err := f.orders.ListForShop(ctx, shop.ID, "", 1, 10)
	require.NoError(t, err)
	assert.Len(t, list.Orders, 3)

	list, err = f.orders.ListForShop(ctx, shop.ID, models.OrderPaid, 1, 10)
	require.NoError(t, err)
	assert.Len(t, list.Orders, 2)

	rev, err := f.orders.Revenue(ctx, shop.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rev.OrderCount)
	assert.True(t, rev.Total.Equal(dec("37.5")))
	assert.True(t, rev.Average.Equal(dec("18.75")))
}

func TestReference(t *testing.T) {
	assert.Equal(t, "CMD-00000042", Reference(42))
	assert.Equal(t, "CMD-23456789", Reference(123456789))
}
