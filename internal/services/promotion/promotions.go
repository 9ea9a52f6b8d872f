package promotion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/utils"
)

type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: utils.OrNop(logger), now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateInput struct {
	ProductIDs  []int64
	Discount    decimal.Decimal
	StartsAt    time.Time
	EndsAt      time.Time
	Description *string
}

type UpdateInput struct {
	Discount    *decimal.Decimal
	StartsAt    *time.Time
	EndsAt      *time.Time
	Description *string
}

func validateDiscount(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(hundred) {
		return apperr.Validation("discount must be between 0 and 100")
	}
	return nil
}

func validateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperr.Validation("start and end dates are required")
	}
	if end.Before(start) {
		return apperr.Validation("end date must not be before start date")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, shopID int64, in CreateInput) (*models.Promotion, error) {
	if len(in.ProductIDs) == 0 {
		return nil, apperr.Validation("at least one product is required")
	}
	if err := validateDiscount(in.Discount); err != nil {
		return nil, err
	}
	if err := validateWindow(in.StartsAt, in.EndsAt); err != nil {
		return nil, err
	}

	ids := uniqueIDs(in.ProductIDs)

	var products []models.Product
	if err := s.db.WithContext(ctx).Where("id IN ? AND shop_id = ?", ids, shopID).Find(&products).Error; err != nil {
		return nil, apperr.Internal(err, "failed to load products")
	}
	if len(products) != len(ids) {
		return nil, apperr.Validation("some products do not belong to this shop")
	}

	promo := models.Promotion{
		Description: in.Description,
		Discount:    in.Discount,
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt.UTC(),
		Products:    products,
	}
	if err := s.db.WithContext(ctx).Omit("Products.*").Create(&promo).Error; err != nil {
		return nil, apperr.Internal(err, "failed to create promotion")
	}

	s.logger.Info("promotion created",
		zap.Int64("promotion_id", promo.ID),
		zap.Int64("shop_id", shopID),
		zap.String("discount", promo.Discount.String()))

	return &promo, nil
}

// loadOwned fetches a promotion and checks its first product belongs to the shop.
func (s *Service) loadOwned(tx *gorm.DB, promoID, shopID int64) (*models.Promotion, error) {
	var promo models.Promotion
	err := tx.Preload("Products", func(db *gorm.DB) *gorm.DB {
		return db.Order("products.id ASC")
	}).First(&promo, promoID).Error
	if err != nil {
		return nil, apperr.FromDB(err, apperr.NotFound(apperr.CodePromotionNotFound, "promotion %d not found", promoID), "failed to load promotion")
	}
	if len(promo.Products) == 0 || promo.Products[0].ShopID != shopID {
		return nil, apperr.NotFound(apperr.CodePromotionNotFound, "promotion %d not found", promoID)
	}
	return &promo, nil
}

func (s *Service) Update(ctx context.Context, promoID, shopID int64, in UpdateInput) (*models.Promotion, error) {
	var promo *models.Promotion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.loadOwned(tx, promoID, shopID)
		if err != nil {
			return err
		}
		promo = p

		if in.Discount != nil {
			if err := validateDiscount(*in.Discount); err != nil {
				return err
			}
			promo.Discount = *in.Discount
		}
		if in.StartsAt != nil {
			promo.StartsAt = in.StartsAt.UTC()
		}
		if in.EndsAt != nil {
			promo.EndsAt = in.EndsAt.UTC()
		}
		if in.Description != nil {
			promo.Description = in.Description
		}
		if err := validateWindow(promo.StartsAt, promo.EndsAt); err != nil {
			return err
		}

		return tx.Model(promo).Updates(map[string]interface{}{
			"discount":    promo.Discount,
			"starts_at":   promo.StartsAt,
			"ends_at":     promo.EndsAt,
			"description": promo.Description,
		}).Error
	})
	if err != nil {
		return nil, apperr.FromDB(err, nil, "failed to update promotion")
	}
	return promo, nil
}

func (s *Service) Delete(ctx context.Context, promoID, shopID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		promo, err := s.loadOwned(tx, promoID, shopID)
		if err != nil {
			return err
		}
		if err := tx.Model(promo).Association("Products").Clear(); err != nil {
			return err
		}
		return tx.Delete(&models.Promotion{}, promo.ID).Error
	})
	if err != nil {
		return apperr.FromDB(err, nil, "failed to delete promotion")
	}
	s.logger.Info("promotion deleted", zap.Int64("promotion_id", promoID), zap.Int64("shop_id", shopID))
	return nil
}

func (s *Service) shopScope(shopID int64) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		owned := db.Session(&gorm.Session{NewDB: true}).
			Table("promotion_products pp").
			Select("pp.promotion_id").
			Joins("JOIN products p ON p.id = pp.product_id").
			Where("p.shop_id = ?", shopID)
		return db.Where("promotions.id IN (?)", owned)
	}
}

func (s *Service) ListForShop(ctx context.Context, shopID int64) ([]models.Promotion, error) {
	var promos []models.Promotion
	err := s.db.WithContext(ctx).
		Scopes(s.shopScope(shopID)).
		Preload("Products").
		Order("promotions.starts_at DESC, promotions.id DESC").
		Find(&promos).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list promotions")
	}
	return promos, nil
}

func (s *Service) ListActive(ctx context.Context, shopID int64) ([]models.Promotion, error) {
	now := s.now().UTC()
	var promos []models.Promotion
	err := s.db.WithContext(ctx).
		Scopes(s.shopScope(shopID)).
		Where("promotions.starts_at <= ? AND promotions.ends_at >= ?", now, now).
		Preload("Products").
		Order("promotions.discount DESC, promotions.id ASC").
		Find(&promos).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list active promotions")
	}
	return promos, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
