package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/utils"
)

const (
	PRODUCTS_CACHE_PREFIX = "mall:shop-products:"
	CACHE_TTL_SHORT       = 5 * time.Minute
)

type Service struct {
	db     *gorm.DB
	redis  *redis.Client
	logger *zap.Logger
}

// NewService builds the catalog. redisClient may be nil, which disables caching.
func NewService(db *gorm.DB, redisClient *redis.Client, logger *zap.Logger) *Service {
	return &Service{db: db, redis: redisClient, logger: utils.OrNop(logger)}
}

type ShopInput struct {
	OwnerID     int64
	Name        string
	Description *string
}

type ProductInput struct {
	Name        string
	Description *string
	Price       decimal.Decimal
	Stock       int32
	Unit        string
}

type ProductUpdate struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Unit        *string
}

func (s *Service) CreateShop(ctx context.Context, in ShopInput) (*models.Shop, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("shop name is required")
	}
	shop := models.Shop{
		OwnerID:     in.OwnerID,
		Name:        name,
		Description: in.Description,
		Active:      true,
	}
	if err := s.db.WithContext(ctx).Create(&shop).Error; err != nil {
		return nil, apperr.Internal(err, "failed to create shop")
	}
	s.logger.Info("shop created", zap.Int64("shop_id", shop.ID), zap.Int64("owner_id", in.OwnerID))
	return &shop, nil
}

func (s *Service) GetShop(ctx context.Context, shopID int64) (*models.Shop, error) {
	var shop models.Shop
	if err := s.db.WithContext(ctx).Preload("Box").First(&shop, shopID).Error; err != nil {
		return nil, apperr.FromDB(err, apperr.NotFound(apperr.CodeShopNotFound, "shop %d not found", shopID), "failed to load shop")
	}
	return &shop, nil
}

func (s *Service) ListShops(ctx context.Context, search string, activeOnly bool) ([]models.Shop, error) {
	query := s.db.WithContext(ctx).Model(&models.Shop{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	if search = strings.TrimSpace(search); search != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var shops []models.Shop
	if err := query.Order("name ASC").Find(&shops).Error; err != nil {
		return nil, apperr.Internal(err, "failed to list shops")
	}
	return shops, nil
}

func (s *Service) CreateProduct(ctx context.Context, shopID int64, in ProductInput) (*models.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("product name is required")
	}
	if in.Price.IsNegative() {
		return nil, apperr.Validation("price must not be negative")
	}
	if in.Stock < 0 {
		return nil, apperr.Validation("stock must not be negative")
	}

	var shop models.Shop
	if err := s.db.WithContext(ctx).First(&shop, shopID).Error; err != nil {
		return nil, apperr.FromDB(err, apperr.NotFound(apperr.CodeShopNotFound, "shop %d not found", shopID), "failed to load shop")
	}

	product := models.Product{
		ShopID:      shopID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price.Round(2),
		Stock:       in.Stock,
		Unit:        in.Unit,
		Active:      true,
	}
	if err := s.db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, apperr.Internal(err, "failed to create product")
	}

	s.invalidate(ctx, shopID)
	return &product, nil
}

func (s *Service) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).Preload("Shop").First(&product, productID).Error; err != nil {
		return nil, apperr.FromDB(err, apperr.NotFound(apperr.CodeProductNotFound, "product %d not found", productID), "failed to load product")
	}
	return &product, nil
}

// ListProducts returns a shop's products. Buyers only see active ones.
func (s *Service) ListProducts(ctx context.Context, shopID int64, activeOnly bool) ([]models.Product, error) {
	cacheKey := fmt.Sprintf("%s%d:%t", PRODUCTS_CACHE_PREFIX, shopID, activeOnly)

	var products []models.Product
	if s.getCached(ctx, cacheKey, &products) {
		return products, nil
	}

	query := s.db.WithContext(ctx).Where("shop_id = ?", shopID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("name ASC").Find(&products).Error; err != nil {
		return nil, apperr.Internal(err, "failed to list products")
	}

	s.setCached(ctx, cacheKey, products)
	return products, nil
}

func (s *Service) UpdateProduct(ctx context.Context, shopID, productID int64, in ProductUpdate) (*models.Product, error) {
	updates := map[string]interface{}{}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, apperr.Validation("product name is required")
		}
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.Price != nil {
		if in.Price.IsNegative() {
			return nil, apperr.Validation("price must not be negative")
		}
		updates["price"] = in.Price.Round(2)
	}
	if in.Unit != nil {
		updates["unit"] = *in.Unit
	}

	product, err := s.ownedProduct(ctx, shopID, productID)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
			return nil, apperr.Internal(err, "failed to update product")
		}
	}

	s.invalidate(ctx, shopID)
	return s.ownedProduct(ctx, shopID, productID)
}

func (s *Service) SetProductActive(ctx context.Context, shopID, productID int64, active bool) (*models.Product, error) {
	product, err := s.ownedProduct(ctx, shopID, productID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(product).Update("active", active).Error; err != nil {
		return nil, apperr.Internal(err, "failed to update product")
	}
	product.Active = active

	s.invalidate(ctx, shopID)
	return product, nil
}

func (s *Service) ownedProduct(ctx context.Context, shopID, productID int64) (*models.Product, error) {
	var product models.Product
	err := s.db.WithContext(ctx).Where("id = ? AND shop_id = ?", productID, shopID).First(&product).Error
	if err != nil {
		return nil, apperr.FromDB(err, apperr.NotFound(apperr.CodeProductNotFound, "product %d not found", productID), "failed to load product")
	}
	return &product, nil
}

func (s *Service) getCached(ctx context.Context, key string, out interface{}) bool {
	if s.redis == nil {
		return false
	}
	val, err := s.redis.Get(ctx, key).Result()
	if err == nil {
		if err := json.Unmarshal([]byte(val), out); err == nil {
			return true
		}
	} else if err != redis.Nil {
		s.logger.Warn("redis error on GET, falling back to DB", zap.String("key", key), zap.Error(err))
	}
	return false
}

func (s *Service) setCached(ctx context.Context, key string, value interface{}) {
	if s.redis == nil {
		return
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, jsonData, CACHE_TTL_SHORT).Err(); err != nil {
		s.logger.Warn("failed to set cache", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, shopID int64) {
	if s.redis == nil {
		return
	}
	_ = s.redis.Del(ctx,
		fmt.Sprintf("%s%d:%t", PRODUCTS_CACHE_PREFIX, shopID, true),
		fmt.Sprintf("%s%d:%t", PRODUCTS_CACHE_PREFIX, shopID, false),
	)
}
