package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/utils"
)

type DetailLine struct {
	ProductID    int64           `json:"product_id"`
	Name         string          `json:"name"`
	Quantity     int32           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineTotal    decimal.Decimal `json:"line_total"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Savings      decimal.Decimal `json:"savings"`
}

type PaymentInfo struct {
	Method *string          `json:"method"`
	PaidAt *time.Time       `json:"paid_at"`
	Amount *decimal.Decimal `json:"amount"`
	Status string           `json:"status"`
}

type CancellationInfo struct {
	Reason         string             `json:"reason"`
	CancelledAt    time.Time          `json:"cancelled_at"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
}

type Timeline struct {
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
}

type Detail struct {
	ID            int64              `json:"id"`
	Reference     string             `json:"reference"`
	Status        models.OrderStatus `json:"status"`
	ShopID        int64              `json:"shop_id"`
	ShopName      string             `json:"shop_name"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	OriginalTotal decimal.Decimal    `json:"original_total"`
	Savings       decimal.Decimal    `json:"savings"`
	Lines         []DetailLine       `json:"lines"`
	Payment       PaymentInfo        `json:"payment"`
	Cancellation  *CancellationInfo  `json:"cancellation,omitempty"`
	Timeline      Timeline           `json:"timeline"`
	CanPay        bool               `json:"can_pay"`
	CanCancel     bool               `json:"can_cancel"`
}

// Get returns a buyer's order with savings measured against current product prices.
func (s *Service) Get(ctx context.Context, orderID, buyerID int64) (*Detail, error) {
	var o models.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("order_items.id ASC") }).
		Preload("Items.Product").
		Preload("Shop").
		Where("id = ? AND buyer_id = ?", orderID, buyerID).
		First(&o).Error
	if err != nil {
		return nil, apperr.FromDB(err, orderNotFound(orderID), "failed to load order")
	}

	d := &Detail{
		ID:            o.ID,
		Reference:     Reference(o.ID),
		Status:        o.Status,
		ShopID:        o.ShopID,
		TotalAmount:   o.TotalAmount,
		OriginalTotal: decimal.Zero,
		Lines:         make([]DetailLine, 0, len(o.Items)),
		CanPay:        o.Status == models.OrderPending,
		CanCancel:     o.Status == models.OrderPending,
		Timeline:      Timeline{CreatedAt: o.CreatedAt, PaidAt: o.PaidAt},
	}
	if o.Shop != nil {
		d.ShopName = o.Shop.Name
	}

	for _, item := range o.Items {
		current := item.UnitPrice
		name := item.ProductName
		if item.Product != nil {
			current = item.Product.Price
			name = item.Product.Name
		}
		qty := decimal.NewFromInt32(item.Quantity)
		d.Lines = append(d.Lines, DetailLine{
			ProductID:    item.ProductID,
			Name:         name,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineTotal:    item.UnitPrice.Mul(qty).Round(2),
			CurrentPrice: current,
			Savings:      current.Sub(item.UnitPrice).Mul(qty).Round(2),
		})
		d.OriginalTotal = d.OriginalTotal.Add(current.Mul(qty))
	}
	d.OriginalTotal = d.OriginalTotal.Round(2)
	d.Savings = d.OriginalTotal.Sub(d.TotalAmount)
	if d.Savings.IsNegative() {
		d.Savings = decimal.Zero
	}

	d.Payment = PaymentInfo{Method: o.PaymentMethod, PaidAt: o.PaidAt, Status: "PENDING"}
	if o.PaidAmount.Valid {
		amount := o.PaidAmount.Decimal
		d.Payment.Amount = &amount
		d.Payment.Status = "DONE"
	}

	switch o.Status {
	case models.OrderDelivered:
		updated := o.UpdatedAt
		d.Timeline.DeliveredAt = &updated
	case models.OrderCancelled:
		d.Timeline.CancelledAt = o.CancelledAt
		if o.CancelledAt != nil {
			c := &CancellationInfo{CancelledAt: *o.CancelledAt}
			if o.CancelReason != nil {
				c.Reason = *o.CancelReason
			}
			if o.PreviousStatus != nil {
				c.PreviousStatus = *o.PreviousStatus
			}
			d.Cancellation = c
		}
	}

	return d, nil
}

type Sort string

const (
	SortDateDesc  Sort = "date_desc"
	SortDateAsc   Sort = "date_asc"
	SortTotalAsc  Sort = "total_asc"
	SortTotalDesc Sort = "total_desc"
	SortStatus    Sort = "status"
)

func (s Sort) clause() string {
	switch s {
	case SortDateAsc:
		return "created_at ASC, id ASC"
	case SortTotalAsc:
		return "total_amount ASC, id ASC"
	case SortTotalDesc:
		return "total_amount DESC, id DESC"
	case SortStatus:
		return "status ASC, created_at DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

type Filter struct {
	Statuses []models.OrderStatus
	ShopID   *int64
	From     *time.Time
	To       *time.Time
	MinTotal *decimal.Decimal
	MaxTotal *decimal.Decimal
	Sort     Sort
	Page     int
	Limit    int
}

type PreviewItem struct {
	Name     string `json:"name"`
	Quantity int32  `json:"quantity"`
}

type Summary struct {
	ID          int64              `json:"id"`
	Reference   string             `json:"reference"`
	ShopID      int64              `json:"shop_id"`
	ShopName    string             `json:"shop_name"`
	CreatedAt   time.Time          `json:"created_at"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Status      models.OrderStatus `json:"status"`
	Units       int32              `json:"units"`
	Preview     []PreviewItem      `json:"preview"`
	CanPay      bool               `json:"can_pay"`
	CanCancel   bool               `json:"can_cancel"`
}

type Stats struct {
	Count      int64                        `json:"count"`
	TotalSpent decimal.Decimal              `json:"total_spent"`
	Average    decimal.Decimal              `json:"average"`
	ByStatus   map[models.OrderStatus]int64 `json:"by_status"`
}

type ListResult struct {
	Orders     []Summary        `json:"orders"`
	Pagination utils.Pagination `json:"pagination"`
	Stats      Stats            `json:"stats"`
}

// List pages through a buyer's orders. Stats cover all of the buyer's orders, not just the filtered page.
func (s *Service) List(ctx context.Context, buyerID int64, f Filter) (*ListResult, error) {
	page, limit := utils.NormalizePage(f.Page, f.Limit)

	query := s.db.WithContext(ctx).Model(&models.Order{}).Where("buyer_id = ?", buyerID)
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}
	if f.ShopID != nil {
		query = query.Where("shop_id = ?", *f.ShopID)
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("created_at <= ?", *f.To)
	}
	if f.MinTotal != nil {
		query = query.Where("total_amount >= ?", *f.MinTotal)
	}
	if f.MaxTotal != nil {
		query = query.Where("total_amount <= ?", *f.MaxTotal)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, apperr.Internal(err, "failed to count orders")
	}

	var orders []models.Order
	err := query.Session(&gorm.Session{}).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("order_items.id ASC") }).
		Preload("Shop").
		Order(f.Sort.clause()).
		Offset(utils.Offset(page, limit)).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list orders")
	}

	stats, err := s.buyerStats(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	result := &ListResult{
		Orders:     make([]Summary, 0, len(orders)),
		Pagination: utils.NewPagination(page, limit, total),
		Stats:      *stats,
	}
	for _, o := range orders {
		result.Orders = append(result.Orders, summarize(o))
	}
	return result, nil
}

func summarize(o models.Order) Summary {
	sum := Summary{
		ID:          o.ID,
		Reference:   Reference(o.ID),
		ShopID:      o.ShopID,
		CreatedAt:   o.CreatedAt,
		TotalAmount: o.TotalAmount,
		Status:      o.Status,
		Preview:     []PreviewItem{},
		CanPay:      o.Status == models.OrderPending,
		CanCancel:   o.Status == models.OrderPending,
	}
	if o.Shop != nil {
		sum.ShopName = o.Shop.Name
	}
	for i, item := range o.Items {
		sum.Units += item.Quantity
		if i < 3 {
			sum.Preview = append(sum.Preview, PreviewItem{Name: item.ProductName, Quantity: item.Quantity})
		}
	}
	return sum
}

func (s *Service) buyerStats(ctx context.Context, buyerID int64) (*Stats, error) {
	var rows []models.Order
	err := s.db.WithContext(ctx).
		Select("id", "status", "total_amount").
		Where("buyer_id = ?", buyerID).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to compute order statistics")
	}

	stats := &Stats{
		TotalSpent: decimal.Zero,
		Average:    decimal.Zero,
		ByStatus:   map[models.OrderStatus]int64{},
	}
	for _, o := range rows {
		stats.Count++
		stats.TotalSpent = stats.TotalSpent.Add(o.TotalAmount)
		stats.ByStatus[o.Status]++
	}
	if stats.Count > 0 {
		stats.Average = stats.TotalSpent.Div(decimal.NewFromInt(stats.Count)).Round(2)
	}
	stats.TotalSpent = stats.TotalSpent.Round(2)
	return stats, nil
}

type ShopOrders struct {
	Orders     []models.Order   `json:"orders"`
	Pagination utils.Pagination `json:"pagination"`
}

// ListForShop pages through the orders a shop has received, newest first.
func (s *Service) ListForShop(ctx context.Context, shopID int64, status models.OrderStatus, page, limit int) (*ShopOrders, error) {
	page, limit = utils.NormalizePage(page, limit)

	query := s.db.WithContext(ctx).Model(&models.Order{}).Where("shop_id = ?", shopID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, apperr.Internal(err, "failed to count orders")
	}

	var orders []models.Order
	err := query.Session(&gorm.Session{}).
		Preload("Items").
		Order("created_at DESC, id DESC").
		Offset(utils.Offset(page, limit)).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list orders")
	}

	return &ShopOrders{Orders: orders, Pagination: utils.NewPagination(page, limit, total)}, nil
}

type Revenue struct {
	ShopID     int64                      `json:"shop_id"`
	From       *time.Time                 `json:"from"`
	To         *time.Time                 `json:"to"`
	Total      decimal.Decimal            `json:"total"`
	OrderCount int                        `json:"order_count"`
	Average    decimal.Decimal            `json:"average"`
	Daily      map[string]decimal.Decimal `json:"daily"`
}

// Revenue sums paid and delivered orders of a shop, optionally bounded by creation date.
func (s *Service) Revenue(ctx context.Context, shopID int64, from, to *time.Time) (*Revenue, error) {
	query := s.db.WithContext(ctx).
		Where("shop_id = ? AND status IN ?", shopID, []models.OrderStatus{models.OrderPaid, models.OrderDelivered})
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	var orders []models.Order
	if err := query.Order("created_at ASC").Find(&orders).Error; err != nil {
		return nil, apperr.Internal(err, "failed to compute revenue")
	}

	rev := &Revenue{
		ShopID:     shopID,
		From:       from,
		To:         to,
		Total:      decimal.Zero,
		Average:    decimal.Zero,
		OrderCount: len(orders),
		Daily:      map[string]decimal.Decimal{},
	}
	for _, o := range orders {
		rev.Total = rev.Total.Add(o.TotalAmount)
		day := o.CreatedAt.UTC().Format("2006-01-02")
		rev.Daily[day] = rev.Daily[day].Add(o.TotalAmount)
	}
	if rev.OrderCount > 0 {
		rev.Average = rev.Total.Div(decimal.NewFromInt(int64(rev.OrderCount))).Round(2)
	}
	return rev, nil
}
