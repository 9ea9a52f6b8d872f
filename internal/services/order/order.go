package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/events"
	"mall-system/internal/services/inventory"
	"mall-system/internal/utils"
)

const (
	DefaultPaymentMethod = "CARD"
	DefaultCancelReason  = "Cancelled by buyer"
)

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

func orderNotFound(orderID int64) *apperr.Error {
	return apperr.NotFound(apperr.CodeOrderNotFound, "order %d not found", orderID)
}

// Reference is the human-facing order number printed on receipts.
func Reference(orderID int64) string {
	padded := fmt.Sprintf("%08d", orderID)
	return "CMD-" + strings.ToUpper(padded[len(padded)-8:])
}

func lockOrder(tx *gorm.DB, orderID, buyerID int64) (*models.Order, error) {
	var o models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND buyer_id = ?", orderID, buyerID).
		First(&o).Error
	if err != nil {
		return nil, apperr.FromDB(err, orderNotFound(orderID), "failed to load order")
	}
	return &o, nil
}

// Pay consumes stock for every line and marks the order PAID.
// Stock is re-validated here since it may have moved since checkout; the first
// payer to commit wins and the other sees INSUFFICIENT_STOCK.
func (s *Service) Pay(ctx context.Context, orderID, buyerID int64, method string) (*models.Order, error) {
	if strings.TrimSpace(method) == "" {
		method = DefaultPaymentMethod
	}
	now := s.now()

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := lockOrder(tx, orderID, buyerID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderPending {
			return apperr.InvalidState(apperr.CodeInvalidOrderState, "order %d is %s, only PENDING orders can be paid", orderID, o.Status)
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", o.ID).Order("id ASC").Find(&items).Error; err != nil {
			return apperr.Internal(err, "failed to load order items")
		}

		lines := append([]models.OrderItem(nil), items...)
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
		productIDs := make([]int64, len(lines))
		for i, line := range lines {
			productIDs[i] = line.ProductID
		}
		if err := inventory.LockProducts(tx, productIDs); err != nil {
			return err
		}

		for _, line := range lines {
			if _, err := inventory.CheckAvailability(tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		for _, line := range lines {
			if err := inventory.Decrement(tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", o.ID, models.OrderPending).
			Updates(map[string]interface{}{
				"status":         models.OrderPaid,
				"payment_method": method,
				"paid_at":        now,
				"paid_amount":    decimal.NewNullDecimal(o.TotalAmount),
			})
		if res.Error != nil {
			return apperr.Internal(res.Error, "failed to mark order paid")
		}
		if res.RowsAffected == 0 {
			return apperr.InvalidState(apperr.CodeInvalidOrderState, "order %d is no longer pending", orderID)
		}

		o.Status = models.OrderPaid
		o.PaymentMethod = &method
		o.PaidAt = &now
		o.PaidAmount = decimal.NewNullDecimal(o.TotalAmount)
		o.Items = items
		order = o
		return nil
	})
	if err != nil {
		s.logger.Info("payment rejected", zap.Int64("order_id", orderID), zap.Int64("buyer_id", buyerID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("order paid",
		zap.Int64("order_id", order.ID),
		zap.Int64("buyer_id", buyerID),
		zap.String("method", method),
		zap.String("amount", order.TotalAmount.StringFixed(2)))

	s.publish(ctx, events.NewEvent(events.OrderPaid, order.ID, map[string]interface{}{
		"buyer_id":  order.BuyerID,
		"shop_id":   order.ShopID,
		"method":    method,
		"amount":    order.TotalAmount.StringFixed(2),
		"reference": Reference(order.ID),
	}))

	return order, nil
}

// Cancel moves a PENDING or PAID order to CANCELLED. Stock taken by a payment
// is not returned; refunds and restocking are handled outside this service.
func (s *Service) Cancel(ctx context.Context, orderID, buyerID int64, reason string) (*models.Order, error) {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultCancelReason
	}
	now := s.now()

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := lockOrder(tx, orderID, buyerID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderPending && o.Status != models.OrderPaid {
			return apperr.InvalidState(apperr.CodeInvalidOrderState, "order %d is %s and cannot be cancelled", orderID, o.Status)
		}

		previous := o.Status
		err = tx.Model(&models.Order{}).Where("id = ?", o.ID).Updates(map[string]interface{}{
			"status":          models.OrderCancelled,
			"cancel_reason":   reason,
			"cancelled_at":    now,
			"previous_status": previous,
		}).Error
		if err != nil {
			return apperr.Internal(err, "failed to cancel order")
		}

		o.Status = models.OrderCancelled
		o.CancelReason = &reason
		o.CancelledAt = &now
		o.PreviousStatus = &previous
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("previous_status", string(*order.PreviousStatus)))

	s.publish(ctx, events.NewEvent(events.OrderCancelled, order.ID, map[string]interface{}{
		"buyer_id":        order.BuyerID,
		"shop_id":         order.ShopID,
		"previous_status": *order.PreviousStatus,
		"reason":          reason,
	}))

	return order, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", e.Type), zap.Int64("aggregate_id", e.AggregateID), zap.Error(err))
	}
}
