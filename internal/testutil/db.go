package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mall-system/internal/database"
	"mall-system/internal/database/models"
)

// NewDB opens a private in-memory database with every table migrated.
// A single connection serialises transactions the way row locks would on postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Clock is a settable time source for services that accept WithClock.
type Clock struct {
	Now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{Now: now}
}

func (c *Clock) Func() func() time.Time {
	return func() time.Time { return c.Now }
}

func (c *Clock) Advance(d time.Duration) {
	c.Now = c.Now.Add(d)
}

func SeedShop(t *testing.T, db *gorm.DB, name string) *models.Shop {
	t.Helper()
	shop := &models.Shop{OwnerID: 1, Name: name, Active: true}
	require.NoError(t, db.Create(shop).Error)
	return shop
}

func SeedProduct(t *testing.T, db *gorm.DB, shopID int64, price string, stock int32) *models.Product {
	t.Helper()
	product := &models.Product{
		ShopID: shopID,
		Name:   fmt.Sprintf("product-%s", uuid.NewString()[:8]),
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Unit:   "piece",
		Active: true,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func SeedPromotion(t *testing.T, db *gorm.DB, discount string, start, end time.Time, products ...*models.Product) *models.Promotion {
	t.Helper()
	promo := &models.Promotion{
		Discount: decimal.RequireFromString(discount),
		StartsAt: start,
		EndsAt:   end,
	}
	for _, p := range products {
		promo.Products = append(promo.Products, *p)
	}
	require.NoError(t, db.Omit("Products.*").Create(promo).Error)
	return promo
}

func SeedBox(t *testing.T, db *gorm.DB, numero, rent string) *models.Box {
	t.Helper()
	box := &models.Box{
		Numero:  numero,
		Surface: decimal.NewFromInt(12),
		Rent:    decimal.RequireFromString(rent),
		Free:    true,
	}
	require.NoError(t, db.Create(box).Error)
	return box
}

func Reload[T any](t *testing.T, db *gorm.DB, id int64) *T {
	t.Helper()
	var out T
	require.NoError(t, db.First(&out, id).Error)
	return &out
}
