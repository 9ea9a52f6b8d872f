package lease

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/events"
	"mall-system/internal/utils"
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

func shopNotFound(shopID int64) *apperr.Error {
	return apperr.NotFound(apperr.CodeShopNotFound, "shop %d not found", shopID)
}

func paymentNotFound(id int64) *apperr.Error {
	return apperr.NotFound(apperr.CodePaymentNotFound, "payment %d not found", id)
}

type PaymentInput struct {
	ShopID int64            `json:"shop_id"`
	Amount *decimal.Decimal `json:"amount"`
	Period string           `json:"period"`
	PaidAt *time.Time       `json:"paid_at"`
	Note   *string          `json:"note"`
}

type PaymentUpdate struct {
	Amount *decimal.Decimal `json:"amount"`
	PaidAt *time.Time       `json:"paid_at"`
	Period *string          `json:"period"`
	Note   *string          `json:"note"`
}

type PaymentView struct {
	models.LeasePayment
	Alert Alert `json:"alert"`
}

func (s *Service) view(p models.LeasePayment, now time.Time) PaymentView {
	return PaymentView{LeasePayment: p, Alert: AlertFor(&p, now)}
}

// RecordPayment appends a rent payment. Without an explicit amount the rent of
// the shop's current box is charged.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (*PaymentView, error) {
	period, err := ParsePeriod(in.Period)
	if err != nil {
		return nil, err
	}
	now := s.now()
	paidAt := now
	if in.PaidAt != nil {
		paidAt = *in.PaidAt
	}

	db := s.db.WithContext(ctx)
	var shop models.Shop
	if err := db.Preload("Box").First(&shop, in.ShopID).Error; err != nil {
		return nil, apperr.FromDB(err, shopNotFound(in.ShopID), "failed to load shop")
	}

	var amount decimal.Decimal
	switch {
	case in.Amount != nil:
		amount = *in.Amount
	case shop.Box != nil:
		amount = shop.Box.Rent
	default:
		return nil, apperr.New(apperr.KindValidation, apperr.CodeNoBoxAssigned,
			"shop %q has no box assigned, an amount is required", shop.Name)
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be positive")
	}

	p := models.LeasePayment{
		ShopID:    shop.ID,
		Amount:    amount.Round(2),
		PaidAt:    paidAt,
		PeriodEnd: period.End(paidAt),
		Period:    string(period),
		Note:      in.Note,
	}
	if err := db.Create(&p).Error; err != nil {
		return nil, apperr.Internal(err, "failed to record payment")
	}

	s.logger.Info("lease payment recorded",
		zap.Int64("payment_id", p.ID),
		zap.Int64("shop_id", p.ShopID),
		zap.String("amount", p.Amount.StringFixed(2)),
		zap.String("period", p.Period),
		zap.Time("period_end", p.PeriodEnd))
	s.publish(ctx, events.NewEvent(events.LeasePaymentRecorded, p.ID, map[string]interface{}{
		"shop_id":    p.ShopID,
		"amount":     p.Amount.StringFixed(2),
		"period":     p.Period,
		"period_end": p.PeriodEnd,
	}))

	v := s.view(p, now)
	return &v, nil
}

// UpdatePayment corrects a payment. The period end is recomputed when the
// payment date or the period changes.
func (s *Service) UpdatePayment(ctx context.Context, id int64, in PaymentUpdate) (*PaymentView, error) {
	db := s.db.WithContext(ctx)

	var p models.LeasePayment
	if err := db.First(&p, id).Error; err != nil {
		return nil, apperr.FromDB(err, paymentNotFound(id), "failed to load payment")
	}

	if in.Amount != nil {
		if !in.Amount.IsPositive() {
			return nil, apperr.Validation("amount must be positive")
		}
		p.Amount = in.Amount.Round(2)
	}
	if in.Note != nil {
		p.Note = in.Note
	}
	if in.PaidAt != nil || in.Period != nil {
		if in.PaidAt != nil {
			p.PaidAt = *in.PaidAt
		}
		if in.Period != nil {
			period, err := ParsePeriod(*in.Period)
			if err != nil {
				return nil, err
			}
			p.Period = string(period)
		}
		p.PeriodEnd = Period(p.Period).End(p.PaidAt)
	}

	if err := db.Save(&p).Error; err != nil {
		return nil, apperr.Internal(err, "failed to update payment")
	}
	v := s.view(p, s.now())
	return &v, nil
}

func (s *Service) DeletePayment(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&models.LeasePayment{}, id)
	if res.Error != nil {
		return apperr.Internal(res.Error, "failed to delete payment")
	}
	if res.RowsAffected == 0 {
		return paymentNotFound(id)
	}
	s.logger.Info("lease payment deleted", zap.Int64("payment_id", id))
	return nil
}

type PaymentDetail struct {
	Payment PaymentView   `json:"payment"`
	Shop    *models.Shop  `json:"shop"`
	Recent  []PaymentView `json:"recent"`
}

// GetPayment returns a payment with the shop's five most recent other payments.
func (s *Service) GetPayment(ctx context.Context, id int64) (*PaymentDetail, error) {
	db := s.db.WithContext(ctx)
	now := s.now()

	var p models.LeasePayment
	if err := db.Preload("Shop").First(&p, id).Error; err != nil {
		return nil, apperr.FromDB(err, paymentNotFound(id), "failed to load payment")
	}

	var others []models.LeasePayment
	err := db.Where("shop_id = ? AND id <> ?", p.ShopID, p.ID).
		Order("paid_at DESC, id DESC").
		Limit(5).
		Find(&others).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to load payment history")
	}

	shop := p.Shop
	p.Shop = nil
	d := &PaymentDetail{Payment: s.view(p, now), Shop: shop, Recent: make([]PaymentView, 0, len(others))}
	for _, o := range others {
		d.Recent = append(d.Recent, s.view(o, now))
	}
	return d, nil
}

type Situation struct {
	ShopID     int64            `json:"shop_id"`
	ShopName   string           `json:"shop_name"`
	BoxID      *int64           `json:"box_id"`
	Alert      Alert            `json:"alert"`
	LastPaidAt *time.Time       `json:"last_paid_at"`
	PeriodEnd  *time.Time       `json:"period_end"`
	Amount     *decimal.Decimal `json:"amount"`
	Period     string           `json:"period,omitempty"`
	Actions    []string         `json:"actions"`
}

func latestPayment(db *gorm.DB, shopID int64) (*models.LeasePayment, error) {
	var p models.LeasePayment
	err := db.Where("shop_id = ?", shopID).Order("period_end DESC, id DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load latest payment")
	}
	return &p, nil
}

// SituationFor derives a shop's lease status from its payment with the latest period end.
func (s *Service) SituationFor(ctx context.Context, shopID int64) (*Situation, error) {
	db := s.db.WithContext(ctx)
	now := s.now()

	var shop models.Shop
	if err := db.First(&shop, shopID).Error; err != nil {
		return nil, apperr.FromDB(err, shopNotFound(shopID), "failed to load shop")
	}

	p, err := latestPayment(db, shopID)
	if err != nil {
		return nil, err
	}

	sit := &Situation{ShopID: shop.ID, ShopName: shop.Name, BoxID: shop.BoxID}
	if p == nil {
		sit.Alert = NoPaymentAlert(now)
	} else {
		sit.Alert = AlertFor(p, now)
		paidAt, end, amount := p.PaidAt, p.PeriodEnd, p.Amount
		sit.LastPaidAt = &paidAt
		sit.PeriodEnd = &end
		sit.Amount = &amount
		sit.Period = p.Period
	}
	sit.Actions = ActionsFor(sit.Alert.Status)
	return sit, nil
}

// AlertForShop is the alert part of SituationFor.
func (s *Service) AlertForShop(ctx context.Context, shopID int64) (*Alert, error) {
	sit, err := s.SituationFor(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return &sit.Alert, nil
}

type ShopPayments struct {
	ShopID     int64            `json:"shop_id"`
	ShopName   string           `json:"shop_name"`
	Payments   []PaymentView    `json:"payments"`
	Current    Alert            `json:"current"`
	TotalPaid  decimal.Decimal  `json:"total_paid"`
	Pagination utils.Pagination `json:"pagination"`
}

// ListByShop pages through a shop's payments, latest period end first.
func (s *Service) ListByShop(ctx context.Context, shopID int64, page, limit int) (*ShopPayments, error) {
	db := s.db.WithContext(ctx)
	now := s.now()
	page, limit = utils.NormalizePage(page, limit)

	var shop models.Shop
	if err := db.First(&shop, shopID).Error; err != nil {
		return nil, apperr.FromDB(err, shopNotFound(shopID), "failed to load shop")
	}

	var all []models.LeasePayment
	if err := db.Select("id", "amount").Where("shop_id = ?", shopID).Find(&all).Error; err != nil {
		return nil, apperr.Internal(err, "failed to count payments")
	}
	total := decimal.Zero
	for _, p := range all {
		total = total.Add(p.Amount)
	}

	var rows []models.LeasePayment
	err := db.Where("shop_id = ?", shopID).
		Order("period_end DESC, id DESC").
		Offset(utils.Offset(page, limit)).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list payments")
	}

	out := &ShopPayments{
		ShopID:     shop.ID,
		ShopName:   shop.Name,
		Payments:   make([]PaymentView, 0, len(rows)),
		TotalPaid:  total,
		Pagination: utils.NewPagination(page, limit, int64(len(all))),
	}
	for _, p := range rows {
		out.Payments = append(out.Payments, s.view(p, now))
	}

	latest, err := latestPayment(db, shopID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		out.Current = NoPaymentAlert(now)
	} else {
		out.Current = AlertFor(latest, now)
	}
	return out, nil
}

type Sort string

const (
	SortPeriodEndAsc  Sort = "period_end_asc"
	SortPeriodEndDesc Sort = "period_end_desc"
	SortPaidAtAsc     Sort = "paid_at_asc"
	SortPaidAtDesc    Sort = "paid_at_desc"
	SortAmountAsc     Sort = "amount_asc"
	SortAmountDesc    Sort = "amount_desc"
)

func (s Sort) clause() string {
	switch s {
	case SortPeriodEndDesc:
		return "period_end DESC, id DESC"
	case SortPaidAtAsc:
		return "paid_at ASC, id ASC"
	case SortPaidAtDesc:
		return "paid_at DESC, id DESC"
	case SortAmountAsc:
		return "amount ASC, id ASC"
	case SortAmountDesc:
		return "amount DESC, id DESC"
	default:
		return "period_end ASC, id ASC"
	}
}

type Filter struct {
	ShopID *int64
	Status Status
	Period string
	From   *time.Time
	To     *time.Time
	Sort   Sort
	Page   int
	Limit  int
}

// statusScope restricts payments to those whose alert at now has the given status.
// It mirrors Classify: expired once a full day past the end, expiring within the window.
func statusScope(db *gorm.DB, status Status, now time.Time) (*gorm.DB, error) {
	expiredBefore := now.Add(-utils.Day)
	soonUntil := now.Add(ExpiringWindow * utils.Day)
	switch status {
	case "":
		return db, nil
	case StatusExpired:
		return db.Where("period_end <= ?", expiredBefore), nil
	case StatusExpiringSoon:
		return db.Where("period_end > ? AND period_end <= ?", expiredBefore, soonUntil), nil
	case StatusCurrent:
		return db.Where("period_end > ?", soonUntil), nil
	default:
		return nil, apperr.Validation("unknown alert status %q", status)
	}
}

type ListResult struct {
	Payments   []PaymentView    `json:"payments"`
	Pagination utils.Pagination `json:"pagination"`
}

// List pages through all payments with their alerts.
func (s *Service) List(ctx context.Context, f Filter) (*ListResult, error) {
	now := s.now()
	page, limit := utils.NormalizePage(f.Page, f.Limit)

	query, err := statusScope(s.db.WithContext(ctx).Model(&models.LeasePayment{}), f.Status, now.UTC())
	if err != nil {
		return nil, err
	}
	if f.ShopID != nil {
		query = query.Where("shop_id = ?", *f.ShopID)
	}
	if f.Period != "" {
		period, err := ParsePeriod(f.Period)
		if err != nil {
			return nil, err
		}
		query = query.Where("period = ?", string(period))
	}
	if f.From != nil {
		query = query.Where("paid_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("paid_at <= ?", *f.To)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, apperr.Internal(err, "failed to count payments")
	}

	var rows []models.LeasePayment
	err = query.Session(&gorm.Session{}).
		Preload("Shop").
		Order(f.Sort.clause()).
		Offset(utils.Offset(page, limit)).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list payments")
	}

	out := &ListResult{
		Payments:   make([]PaymentView, 0, len(rows)),
		Pagination: utils.NewPagination(page, limit, total),
	}
	for _, p := range rows {
		out.Payments = append(out.Payments, s.view(p, now))
	}
	return out, nil
}

type CriticalAlert struct {
	Level     string          `json:"level"`
	ShopID    int64           `json:"shop_id"`
	ShopName  string          `json:"shop_name"`
	Message   string          `json:"message"`
	PeriodEnd time.Time       `json:"period_end"`
	Amount    decimal.Decimal `json:"amount"`
	Days      int             `json:"days"`
}

type ShopLedger struct {
	ShopID      int64           `json:"shop_id"`
	ShopName    string          `json:"shop_name"`
	BoxID       *int64          `json:"box_id"`
	LastPayment time.Time       `json:"last_payment"`
	NextDue     time.Time       `json:"next_due"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Payments    int             `json:"payments"`
	Status      Status          `json:"status"`
}

type Dashboard struct {
	TotalPayments int             `json:"total_payments"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Counts        map[Status]int  `json:"counts"`
	Alerts        []CriticalAlert `json:"alerts"`
	Shops         []ShopLedger    `json:"shops"`
}

// Dashboard summarises every shop's lease standing. Status counts and alerts
// use each shop's latest payment; amounts cover all payments.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	now := s.now()

	var rows []models.LeasePayment
	if err := s.db.WithContext(ctx).Preload("Shop").Order("shop_id ASC, period_end ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, apperr.Internal(err, "failed to load payments")
	}

	d := &Dashboard{
		TotalPayments: len(rows),
		TotalAmount:   decimal.Zero,
		Counts: map[Status]int{
			StatusCurrent:      0,
			StatusExpiringSoon: 0,
			StatusExpired:      0,
		},
		Alerts: []CriticalAlert{},
		Shops:  []ShopLedger{},
	}

	byShop := make(map[int64]*ShopLedger)
	latest := make(map[int64]models.LeasePayment)
	for _, p := range rows {
		d.TotalAmount = d.TotalAmount.Add(p.Amount)

		l, ok := byShop[p.ShopID]
		if !ok {
			l = &ShopLedger{ShopID: p.ShopID, TotalPaid: decimal.Zero, NextDue: p.PeriodEnd}
			if p.Shop != nil {
				l.ShopName = p.Shop.Name
				l.BoxID = p.Shop.BoxID
			}
			byShop[p.ShopID] = l
		}
		l.Payments++
		l.TotalPaid = l.TotalPaid.Add(p.Amount)
		if p.PaidAt.After(l.LastPayment) {
			l.LastPayment = p.PaidAt
		}
		// rows are ordered by period end, so the last one seen is the latest
		l.NextDue = p.PeriodEnd
		latest[p.ShopID] = p
	}

	for shopID, l := range byShop {
		p := latest[shopID]
		a := AlertFor(&p, now)
		l.Status = a.Status
		d.Counts[a.Status]++
		d.Shops = append(d.Shops, *l)

		switch a.Status {
		case StatusExpired:
			d.Alerts = append(d.Alerts, CriticalAlert{
				Level: "CRITICAL", ShopID: shopID, ShopName: l.ShopName, Message: a.Message,
				PeriodEnd: p.PeriodEnd, Amount: p.Amount, Days: a.OverdueDays,
			})
		case StatusExpiringSoon:
			d.Alerts = append(d.Alerts, CriticalAlert{
				Level: "WARNING", ShopID: shopID, ShopName: l.ShopName, Message: a.Message,
				PeriodEnd: p.PeriodEnd, Amount: p.Amount, Days: a.DaysRemaining,
			})
		}
	}

	sort.Slice(d.Shops, func(i, j int) bool { return d.Shops[i].ShopID < d.Shops[j].ShopID })
	sort.SliceStable(d.Alerts, func(i, j int) bool {
		a, b := d.Alerts[i], d.Alerts[j]
		if a.Level != b.Level {
			return a.Level == "CRITICAL"
		}
		if a.PeriodEnd.Equal(b.PeriodEnd) {
			return a.ShopID < b.ShopID
		}
		return a.PeriodEnd.Before(b.PeriodEnd)
	})
	return d, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", e.Type), zap.Int64("aggregate_id", e.AggregateID), zap.Error(err))
	}
}
