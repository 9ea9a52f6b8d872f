package cart

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/services/promotion"
	"mall-system/internal/utils"
)

type Line struct {
	ProductID         int64           `json:"product_id"`
	Name              string          `json:"name"`
	ShopID            int64           `json:"shop_id"`
	Quantity          int32           `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	OriginalUnitPrice decimal.Decimal `json:"original_unit_price"`
	LineTotal         decimal.Decimal `json:"line_total"`
	OriginalLineTotal decimal.Decimal `json:"original_line_total"`
	Savings           decimal.Decimal `json:"savings"`
	OnPromotion       bool            `json:"on_promotion"`
	Discount          decimal.Decimal `json:"discount"`
	PromotionID       *int64          `json:"promotion_id,omitempty"`
	Stock             int32           `json:"stock"`
	Available         bool            `json:"available"`
}

// View is the priced projection of a cart. It is recomputed on every read.
type View struct {
	CartID           int64           `json:"cart_id"`
	BuyerID          int64           `json:"buyer_id"`
	Lines            []Line          `json:"lines"`
	Total            decimal.Decimal `json:"total"`
	OriginalTotal    decimal.Decimal `json:"original_total"`
	Savings          decimal.Decimal `json:"savings"`
	DistinctProducts int             `json:"distinct_products"`
	TotalUnits       int32           `json:"total_units"`
}

func emptyView(cartID, buyerID int64) *View {
	return &View{
		CartID:        cartID,
		BuyerID:       buyerID,
		Lines:         []Line{},
		Total:         decimal.Zero,
		OriginalTotal: decimal.Zero,
		Savings:       decimal.Zero,
	}
}

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

func cartNotFound(buyerID int64) *apperr.Error {
	return apperr.NotFound(apperr.CodeCartNotFound, "no cart for buyer %d", buyerID)
}

// LockCart loads the buyer's cart row for update inside tx.
func LockCart(tx *gorm.DB, buyerID int64) (*models.Cart, error) {
	var c models.Cart
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("buyer_id = ?", buyerID).First(&c).Error
	if err != nil {
		return nil, apperr.FromDB(err, cartNotFound(buyerID), "failed to load cart")
	}
	return &c, nil
}

// AddItem merges qty into the buyer's cart, creating the cart on first use.
// The stock check is advisory; checkout validates again.
func (s *Service) AddItem(ctx context.Context, buyerID, productID int64, qty int32) (*View, error) {
	if qty < 1 {
		return nil, apperr.Validation("quantity must be at least 1")
	}

	var cartID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.First(&product, productID).Error; err != nil {
			return apperr.FromDB(err, apperr.ProductUnavailable(productID), "failed to load product")
		}
		if !product.Active {
			return apperr.ProductUnavailable(productID)
		}
		if product.Stock < qty {
			return apperr.InsufficientStock(productID, product.Stock, qty)
		}

		// the unique buyer index settles concurrent first adds
		fresh := models.Cart{BuyerID: buyerID}
		err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "buyer_id"}}, DoNothing: true}).
			Create(&fresh).Error
		if err != nil {
			return apperr.Internal(err, "failed to create cart")
		}
		c, err := LockCart(tx, buyerID)
		if err != nil {
			return err
		}
		cartID = c.ID

		var item models.CartItem
		err = tx.Where("cart_id = ? AND product_id = ?", c.ID, productID).Take(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			item = models.CartItem{CartID: c.ID, ProductID: productID, Quantity: qty}
			if err := tx.Create(&item).Error; err != nil {
				return apperr.Internal(err, "failed to add cart item")
			}
			return nil
		}
		if err != nil {
			return apperr.Internal(err, "failed to load cart item")
		}

		total := item.Quantity + qty
		if product.Stock < total {
			return apperr.InsufficientStock(productID, product.Stock, total)
		}
		if err := tx.Model(&item).Update("quantity", total).Error; err != nil {
			return apperr.Internal(err, "failed to update cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("cart item added",
		zap.Int64("buyer_id", buyerID),
		zap.Int64("product_id", productID),
		zap.Int32("quantity", qty))

	return s.Materialize(ctx, cartID)
}

// RemoveItem drops a product from the cart. Removing an absent product is a no-op.
func (s *Service) RemoveItem(ctx context.Context, buyerID, productID int64) (*View, error) {
	var cartID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := LockCart(tx, buyerID)
		if err != nil {
			return err
		}
		cartID = c.ID
		if err := tx.Where("cart_id = ? AND product_id = ?", c.ID, productID).Delete(&models.CartItem{}).Error; err != nil {
			return apperr.Internal(err, "failed to remove cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Materialize(ctx, cartID)
}

func (s *Service) SetQuantity(ctx context.Context, buyerID, productID int64, qty int32) (*View, error) {
	if qty < 1 {
		return nil, apperr.Validation("quantity must be at least 1")
	}

	var cartID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.First(&product, productID).Error; err != nil {
			return apperr.FromDB(err, apperr.ProductUnavailable(productID), "failed to load product")
		}
		if !product.Active {
			return apperr.ProductUnavailable(productID)
		}
		if product.Stock < qty {
			return apperr.InsufficientStock(productID, product.Stock, qty)
		}

		c, err := LockCart(tx, buyerID)
		if err != nil {
			return err
		}
		cartID = c.ID

		res := tx.Model(&models.CartItem{}).
			Where("cart_id = ? AND product_id = ?", c.ID, productID).
			Update("quantity", qty)
		if res.Error != nil {
			return apperr.Internal(res.Error, "failed to update cart item")
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound(apperr.CodeCartItemNotFound, "product %d is not in the cart", productID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Materialize(ctx, cartID)
}

// Clear empties the cart but keeps it. A buyer without a cart gets an empty view.
func (s *Service) Clear(ctx context.Context, buyerID int64) (*View, error) {
	var cartID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := LockCart(tx, buyerID)
		if apperr.Is(err, apperr.CodeCartNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cartID = c.ID
		if err := tx.Where("cart_id = ?", c.ID).Delete(&models.CartItem{}).Error; err != nil {
			return apperr.Internal(err, "failed to clear cart")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return emptyView(cartID, buyerID), nil
}

// Get returns the buyer's priced cart, or an empty view when none exists yet.
func (s *Service) Get(ctx context.Context, buyerID int64) (*View, error) {
	var c models.Cart
	err := s.db.WithContext(ctx).Where("buyer_id = ?", buyerID).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptyView(0, buyerID), nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load cart")
	}
	return s.Materialize(ctx, c.ID)
}

func (s *Service) Materialize(ctx context.Context, cartID int64) (*View, error) {
	var c models.Cart
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("cart_items.id ASC") }).
		Preload("Items.Product").
		First(&c, cartID).Error
	if err != nil {
		return nil, apperr.FromDB(err, apperr.NotFound(apperr.CodeCartNotFound, "cart %d not found", cartID), "failed to load cart")
	}
	return Price(s.db.WithContext(ctx), &c, s.now())
}

// Price computes the view of a cart whose items have their products loaded.
func Price(db *gorm.DB, c *models.Cart, now time.Time) (*View, error) {
	view := emptyView(c.ID, c.BuyerID)

	for _, item := range c.Items {
		if item.Product == nil {
			continue
		}
		p := item.Product

		promo, err := promotion.BestPromotion(db, p.ID, now)
		if err != nil {
			return nil, err
		}

		qty := decimal.NewFromInt32(item.Quantity)
		unit := promotion.EffectivePrice(p.Price, promo)
		line := Line{
			ProductID:         p.ID,
			Name:              p.Name,
			ShopID:            p.ShopID,
			Quantity:          item.Quantity,
			UnitPrice:         unit,
			OriginalUnitPrice: p.Price,
			LineTotal:         unit.Mul(qty).Round(2),
			OriginalLineTotal: p.Price.Mul(qty).Round(2),
			Discount:          decimal.Zero,
			Stock:             p.Stock,
			Available:         p.Active && p.Stock >= item.Quantity,
		}
		line.Savings = line.OriginalLineTotal.Sub(line.LineTotal)
		if promo != nil {
			line.OnPromotion = true
			line.Discount = promo.Discount
			line.PromotionID = &promo.ID
		}

		view.Lines = append(view.Lines, line)
		view.Total = view.Total.Add(line.LineTotal)
		view.OriginalTotal = view.OriginalTotal.Add(line.OriginalLineTotal)
		view.TotalUnits += item.Quantity
	}

	view.Total = view.Total.Round(2)
	view.OriginalTotal = view.OriginalTotal.Round(2)
	view.Savings = view.OriginalTotal.Sub(view.Total)
	view.DistinctProducts = len(view.Lines)
	return view, nil
}
