package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/events"
	"mall-system/internal/services/cart"
	"mall-system/internal/services/inventory"
	"mall-system/internal/services/promotion"
	"mall-system/internal/utils"
)

type OrderSummary struct {
	ID          int64              `json:"id"`
	ShopID      int64              `json:"shop_id"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Status      models.OrderStatus `json:"status"`
	ItemCount   int                `json:"item_count"`
}

type Result struct {
	OrderIDs   []int64         `json:"order_ids"`
	Orders     []OrderSummary  `json:"orders"`
	OrderCount int             `json:"order_count"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

type Service struct {
	db        *gorm.DB
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(db *gorm.DB, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{db: db, publisher: publisher, logger: utils.OrNop(logger), now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// shopGroup collects the frozen lines bound for one shop's order.
type shopGroup struct {
	shopID int64
	items  []models.OrderItem
	total  decimal.Decimal
}

// Run turns the buyer's cart into one pending order per shop and empties the cart.
// Any validation failure rolls everything back and leaves the cart untouched.
// No stock is taken here; payment consumes it.
func (s *Service) Run(ctx context.Context, buyerID int64) (*Result, error) {
	now := s.now()
	var orders []models.Order

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := cart.LockCart(tx, buyerID)
		if apperr.Is(err, apperr.CodeCartNotFound) {
			return apperr.InvalidState(apperr.CodeEmptyCart, "cart is empty")
		}
		if err != nil {
			return err
		}

		var items []models.CartItem
		if err := tx.Where("cart_id = ?", c.ID).Order("id ASC").Find(&items).Error; err != nil {
			return apperr.Internal(err, "failed to load cart items")
		}
		if len(items) == 0 {
			return apperr.InvalidState(apperr.CodeEmptyCart, "cart is empty")
		}

		productIDs := make([]int64, len(items))
		for i, item := range items {
			productIDs[i] = item.ProductID
		}
		if err := inventory.LockProducts(tx, productIDs); err != nil {
			return err
		}

		var groups []*shopGroup
		byShop := make(map[int64]*shopGroup)

		for _, item := range items {
			product, err := inventory.CheckAvailability(tx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}

			promo, err := promotion.BestPromotion(tx, product.ID, now)
			if err != nil {
				return err
			}
			unit := promotion.EffectivePrice(product.Price, promo)
			lineTotal := unit.Mul(decimal.NewFromInt32(item.Quantity))

			g, ok := byShop[product.ShopID]
			if !ok {
				g = &shopGroup{shopID: product.ShopID, total: decimal.Zero}
				byShop[product.ShopID] = g
				groups = append(groups, g)
			}
			g.items = append(g.items, models.OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				UnitPrice:   unit,
				Quantity:    item.Quantity,
				LineTotal:   lineTotal.Round(2),
			})
			g.total = g.total.Add(lineTotal)
		}

		for _, g := range groups {
			order := models.Order{
				BuyerID:     buyerID,
				ShopID:      g.shopID,
				TotalAmount: g.total.Round(2),
				Status:      models.OrderPending,
				Items:       g.items,
			}
			if err := tx.Create(&order).Error; err != nil {
				return apperr.Internal(err, "failed to create order")
			}
			orders = append(orders, order)
		}

		if err := tx.Where("cart_id = ?", c.ID).Delete(&models.CartItem{}).Error; err != nil {
			return apperr.Internal(err, "failed to empty cart")
		}
		return nil
	})
	if err != nil {
		s.logger.Info("checkout rejected", zap.Int64("buyer_id", buyerID), zap.Error(err))
		return nil, err
	}

	result := &Result{
		OrderIDs:   make([]int64, 0, len(orders)),
		Orders:     make([]OrderSummary, 0, len(orders)),
		OrderCount: len(orders),
		GrandTotal: decimal.Zero,
	}
	for _, o := range orders {
		result.OrderIDs = append(result.OrderIDs, o.ID)
		result.Orders = append(result.Orders, OrderSummary{
			ID:          o.ID,
			ShopID:      o.ShopID,
			TotalAmount: o.TotalAmount,
			Status:      o.Status,
			ItemCount:   len(o.Items),
		})
		result.GrandTotal = result.GrandTotal.Add(o.TotalAmount)

		s.publish(ctx, events.NewEvent(events.OrderCreated, o.ID, map[string]interface{}{
			"buyer_id":     o.BuyerID,
			"shop_id":      o.ShopID,
			"total_amount": o.TotalAmount.StringFixed(2),
		}))
	}

	s.logger.Info("checkout completed",
		zap.Int64("buyer_id", buyerID),
		zap.Int("orders", result.OrderCount),
		zap.String("grand_total", result.GrandTotal.StringFixed(2)))

	return result, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", e.Type), zap.Int64("aggregate_id", e.AggregateID), zap.Error(err))
	}
}
