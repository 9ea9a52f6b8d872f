package promotion

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
)

var hundred = decimal.NewFromInt(100)

// BestPromotion returns the highest discount active at now for the product, or nil.
// The window is inclusive at both ends.
func BestPromotion(db *gorm.DB, productID int64, now time.Time) (*models.Promotion, error) {
	var promo models.Promotion
	err := db.Joins("JOIN promotion_products pp ON pp.promotion_id = promotions.id").
		Where("pp.product_id = ? AND promotions.starts_at <= ? AND promotions.ends_at >= ?", productID, now.UTC(), now.UTC()).
		Order("promotions.discount DESC, promotions.id ASC").
		Take(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to resolve promotion")
	}
	return &promo, nil
}

// ApplyDiscount computes price * (1 - discount/100), rounded half-up to the cent.
func ApplyDiscount(price, discount decimal.Decimal) decimal.Decimal {
	return price.Mul(DiscountFactor(discount)).Round(2)
}

func DiscountFactor(discount decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(discount.Div(hundred))
}

// EffectivePrice is the product price after the promotion, or the list price when promo is nil.
func EffectivePrice(price decimal.Decimal, promo *models.Promotion) decimal.Decimal {
	if promo == nil {
		return price.Round(2)
	}
	return ApplyDiscount(price, promo.Discount)
}

// OriginalPrice reverses a discount. The result is not rounded.
func OriginalPrice(discounted, discount decimal.Decimal) decimal.Decimal {
	return discounted.Div(DiscountFactor(discount))
}
