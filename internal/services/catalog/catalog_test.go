package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mall-system/internal/apperr"
	"mall-system/internal/testutil"
)

func TestShopAndProductLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateShop(ctx, ShopInput{OwnerID: 3, Name: "   "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	shop, err := svc.CreateShop(ctx, ShopInput{OwnerID: 3, Name: "Librairie du Centre"})
	require.NoError(t, err)
	assert.True(t, shop.Active)
	assert.Nil(t, shop.BoxID)

	_, err = svc.CreateProduct(ctx, shop.ID, ProductInput{Name: "Stylo", Price: decimal.NewFromInt(-1)})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.CreateProduct(ctx, 999, ProductInput{Name: "Stylo", Price: decimal.NewFromInt(1)})
	assert.True(t, apperr.Is(err, apperr.CodeShopNotFound))

	pen, err := svc.CreateProduct(ctx, shop.ID, ProductInput{
		Name:  "Stylo",
		Price: decimal.RequireFromString("1.999"),
		Stock: 40,
		Unit:  "piece",
	})
	require.NoError(t, err)
	assert.True(t, pen.Price.Equal(decimal.RequireFromString("2.00")))

	book, err := svc.CreateProduct(ctx, shop.ID, ProductInput{Name: "Atlas", Price: decimal.NewFromInt(30), Stock: 2})
	require.NoError(t, err)

	_, err = svc.SetProductActive(ctx, shop.ID, book.ID, false)
	require.NoError(t, err)

	visible, err := svc.ListProducts(ctx, shop.ID, true)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, pen.ID, visible[0].ID)

	all, err := svc.ListProducts(ctx, shop.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	price := decimal.RequireFromString("2.50")
	name := "Stylo bleu"
	updated, err := svc.UpdateProduct(ctx, shop.ID, pen.ID, ProductUpdate{Name: &name, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "Stylo bleu", updated.Name)
	assert.True(t, updated.Price.Equal(price))

	other, err := svc.CreateShop(ctx, ShopInput{OwnerID: 4, Name: "Autre"})
	require.NoError(t, err)
	_, err = svc.UpdateProduct(ctx, other.ID, pen.ID, ProductUpdate{Name: &name})
	assert.True(t, apperr.Is(err, apperr.CodeProductNotFound))

	got, err := svc.GetProduct(ctx, pen.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Shop)
	assert.Equal(t, shop.ID, got.Shop.ID)

	shops, err := svc.ListShops(ctx, "libr", true)
	require.NoError(t, err)
	require.Len(t, shops, 1)
	assert.Equal(t, shop.ID, shops[0].ID)

	_, err = svc.GetShop(ctx, 12345)
	assert.True(t, apperr.Is(err, apperr.CodeShopNotFound))
}
