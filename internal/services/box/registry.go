package box

import (
	"context"
	"errors"
	"strings"
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

func boxNotFound(boxID int64) *apperr.Error {
	return apperr.NotFound(apperr.CodeBoxNotFound, "box %d not found", boxID)
}

func duplicateNumero(numero string) *apperr.Error {
	return apperr.Conflict(apperr.CodeDuplicateBoxNumber, "a box numbered %q already exists", numero)
}

type BoxInput struct {
	Numero      string          `json:"numero" binding:"required"`
	Surface     decimal.Decimal `json:"surface"`
	Rent        decimal.Decimal `json:"rent"`
	Description *string         `json:"description"`
}

type BoxUpdate struct {
	Numero      *string          `json:"numero"`
	Surface     *decimal.Decimal `json:"surface"`
	Rent        *decimal.Decimal `json:"rent"`
	Description *string          `json:"description"`
}

func validateDimensions(surface, rent decimal.Decimal) error {
	if !surface.IsPositive() {
		return apperr.Validation("surface must be positive")
	}
	if !rent.IsPositive() {
		return apperr.Validation("rent must be positive")
	}
	return nil
}

func (s *Service) numeroTaken(tx *gorm.DB, numero string, exceptID int64) (bool, error) {
	var count int64
	err := tx.Model(&models.Box{}).Where("numero = ? AND id <> ?", numero, exceptID).Count(&count).Error
	if err != nil {
		return false, apperr.Internal(err, "failed to check box number")
	}
	return count > 0, nil
}

// Create registers a new box. New boxes start free.
func (s *Service) Create(ctx context.Context, in BoxInput) (*models.Box, error) {
	numero := strings.TrimSpace(in.Numero)
	if numero == "" {
		return nil, apperr.Validation("numero is required")
	}
	if err := validateDimensions(in.Surface, in.Rent); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	taken, err := s.numeroTaken(db, numero, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, duplicateNumero(numero)
	}

	b := &models.Box{
		Numero:      numero,
		Surface:     in.Surface.Round(2),
		Rent:        in.Rent.Round(2),
		Description: in.Description,
		Free:        true,
	}
	if err := db.Create(b).Error; err != nil {
		// lost a race against a concurrent create
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, duplicateNumero(numero)
		}
		return nil, apperr.Internal(err, "failed to create box")
	}

	s.logger.Info("box created", zap.Int64("box_id", b.ID), zap.String("numero", b.Numero))
	s.publish(ctx, events.NewEvent(events.BoxCreated, b.ID, map[string]interface{}{
		"numero": b.Numero,
		"rent":   b.Rent.StringFixed(2),
	}))
	return b, nil
}

// Update edits the registry fields of a box. Occupancy is left to the lifecycle transactions.
func (s *Service) Update(ctx context.Context, boxID int64, in BoxUpdate) (*models.Box, error) {
	var out *models.Box
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBox(tx, boxID)
		if err != nil {
			return err
		}

		if in.Numero != nil {
			numero := strings.TrimSpace(*in.Numero)
			if numero == "" {
				return apperr.Validation("numero cannot be empty")
			}
			if numero != b.Numero {
				taken, err := s.numeroTaken(tx, numero, b.ID)
				if err != nil {
					return err
				}
				if taken {
					return duplicateNumero(numero)
				}
				b.Numero = numero
			}
		}
		if in.Surface != nil {
			b.Surface = in.Surface.Round(2)
		}
		if in.Rent != nil {
			b.Rent = in.Rent.Round(2)
		}
		if in.Description != nil {
			b.Description = in.Description
		}
		if err := validateDimensions(b.Surface, b.Rent); err != nil {
			return err
		}

		err = tx.Model(b).Updates(map[string]interface{}{
			"numero":      b.Numero,
			"surface":     b.Surface,
			"rent":        b.Rent,
			"description": b.Description,
		}).Error
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return duplicateNumero(b.Numero)
			}
			return apperr.Internal(err, "failed to update box")
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a box that was never occupied.
func (s *Service) Delete(ctx context.Context, boxID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBox(tx, boxID)
		if err != nil {
			return err
		}
		if !b.Free {
			return apperr.InvalidState(apperr.CodeBoxOccupied, "box %s is occupied and cannot be deleted", b.Numero)
		}

		var rows int64
		if err := tx.Model(&models.BoxHistory{}).Where("box_id = ?", boxID).Count(&rows).Error; err != nil {
			return apperr.Internal(err, "failed to check box history")
		}
		if rows > 0 {
			return apperr.InvalidState(apperr.CodeBoxHasHistory, "box %s has occupation history and cannot be deleted", b.Numero)
		}

		if err := tx.Delete(&models.Box{}, boxID).Error; err != nil {
			return apperr.Internal(err, "failed to delete box")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("box deleted", zap.Int64("box_id", boxID))
	s.publish(ctx, events.NewEvent(events.BoxDeleted, boxID, nil))
	return nil
}

type HistoryEntry struct {
	ID        int64      `json:"id"`
	BoxID     int64      `json:"box_id"`
	ShopID    int64      `json:"shop_id"`
	ShopName  string     `json:"shop_name"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	Days      int        `json:"days"`
	Open      bool       `json:"open"`
}

func entryOf(h models.BoxHistory, now time.Time) HistoryEntry {
	e := HistoryEntry{
		ID:        h.ID,
		BoxID:     h.BoxID,
		ShopID:    h.ShopID,
		StartedAt: h.StartedAt,
		EndedAt:   h.EndedAt,
		Open:      h.EndedAt == nil,
	}
	if h.Shop != nil {
		e.ShopName = h.Shop.Name
	}
	if h.EndedAt != nil {
		e.Days = utils.DaysBetween(h.StartedAt, *h.EndedAt)
	} else {
		e.Days = utils.DaysBetween(h.StartedAt, now)
	}
	return e
}

type Occupation struct {
	ShopID   int64      `json:"shop_id"`
	ShopName string     `json:"shop_name"`
	Since    *time.Time `json:"since"`
	Days     int        `json:"days"`
}

type OccupationStats struct {
	Occupations int        `json:"occupations"`
	ClosedDays  int        `json:"closed_days"`
	FirstStart  *time.Time `json:"first_start"`
	LastStart   *time.Time `json:"last_start"`
}

type Detail struct {
	Box        models.Box      `json:"box"`
	Occupation *Occupation     `json:"occupation"`
	History    []HistoryEntry  `json:"history"`
	Stats      OccupationStats `json:"stats"`
}

// Get returns a box with its current occupant and occupation statistics.
func (s *Service) Get(ctx context.Context, boxID int64) (*Detail, error) {
	db := s.db.WithContext(ctx)
	now := s.now()

	var b models.Box
	if err := db.First(&b, boxID).Error; err != nil {
		return nil, apperr.FromDB(err, boxNotFound(boxID), "failed to load box")
	}

	var rows []models.BoxHistory
	err := db.Preload("Shop").
		Where("box_id = ?", boxID).
		Order("started_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to load box history")
	}

	d := &Detail{Box: b, History: make([]HistoryEntry, 0, len(rows))}
	var open *HistoryEntry
	for _, h := range rows {
		e := entryOf(h, now)
		d.History = append(d.History, e)
		if e.Open && open == nil {
			open = &d.History[len(d.History)-1]
		}
		if !e.Open {
			d.Stats.ClosedDays += e.Days
		}
	}
	d.Stats.Occupations = len(rows)
	if len(rows) > 0 {
		last := rows[0].StartedAt
		first := rows[len(rows)-1].StartedAt
		d.Stats.LastStart = &last
		d.Stats.FirstStart = &first
	}

	if !b.Free {
		occ := &Occupation{}
		var shop models.Shop
		err := db.Where("box_id = ?", boxID).First(&shop).Error
		switch {
		case err == nil:
			occ.ShopID = shop.ID
			occ.ShopName = shop.Name
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, apperr.Internal(err, "failed to load occupant")
		}
		if open != nil {
			since := open.StartedAt
			occ.Since = &since
			occ.Days = open.Days
		}
		d.Occupation = occ
	}

	return d, nil
}

type Sort string

const (
	SortNumeroAsc   Sort = "numero_asc"
	SortNumeroDesc  Sort = "numero_desc"
	SortSurfaceAsc  Sort = "surface_asc"
	SortSurfaceDesc Sort = "surface_desc"
	SortRentAsc     Sort = "rent_asc"
	SortRentDesc    Sort = "rent_desc"
)

func (s Sort) clause() string {
	switch s {
	case SortNumeroDesc:
		return "numero DESC"
	case SortSurfaceAsc:
		return "surface ASC, numero ASC"
	case SortSurfaceDesc:
		return "surface DESC, numero ASC"
	case SortRentAsc:
		return "rent ASC, numero ASC"
	case SortRentDesc:
		return "rent DESC, numero ASC"
	default:
		return "numero ASC"
	}
}

type Filter struct {
	Free   *bool
	Search string
	Sort   Sort
	Page   int
	Limit  int
}

type Listed struct {
	models.Box
	Occupant *Occupation `json:"occupant,omitempty"`
}

type RegistryStats struct {
	Total          int64           `json:"total"`
	Free           int64           `json:"free"`
	Occupied       int64           `json:"occupied"`
	AverageRent    decimal.Decimal `json:"average_rent"`
	AverageSurface decimal.Decimal `json:"average_surface"`
}

type ListResult struct {
	Boxes      []Listed         `json:"boxes"`
	Pagination utils.Pagination `json:"pagination"`
	Stats      RegistryStats    `json:"stats"`
}

// List pages through the registry. Occupied boxes carry their occupant; stats cover every box.
func (s *Service) List(ctx context.Context, f Filter) (*ListResult, error) {
	db := s.db.WithContext(ctx)
	now := s.now()
	page, limit := utils.NormalizePage(f.Page, f.Limit)

	query := db.Model(&models.Box{})
	if f.Free != nil {
		query = query.Where("free = ?", *f.Free)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		query = query.Where("LOWER(numero) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, apperr.Internal(err, "failed to count boxes")
	}

	var boxes []models.Box
	err := query.Session(&gorm.Session{}).
		Order(f.Sort.clause()).
		Offset(utils.Offset(page, limit)).
		Limit(limit).
		Find(&boxes).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list boxes")
	}

	occupants, err := s.occupants(db, boxes, now)
	if err != nil {
		return nil, err
	}

	stats, err := s.registryStats(db)
	if err != nil {
		return nil, err
	}

	res := &ListResult{
		Boxes:      make([]Listed, 0, len(boxes)),
		Pagination: utils.NewPagination(page, limit, total),
		Stats:      *stats,
	}
	for _, b := range boxes {
		res.Boxes = append(res.Boxes, Listed{Box: b, Occupant: occupants[b.ID]})
	}
	return res, nil
}

func (s *Service) occupants(db *gorm.DB, boxes []models.Box, now time.Time) (map[int64]*Occupation, error) {
	out := make(map[int64]*Occupation)
	var ids []int64
	for _, b := range boxes {
		if !b.Free {
			ids = append(ids, b.ID)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}

	var shops []models.Shop
	if err := db.Where("box_id IN ?", ids).Find(&shops).Error; err != nil {
		return nil, apperr.Internal(err, "failed to load occupants")
	}
	for _, shop := range shops {
		out[*shop.BoxID] = &Occupation{ShopID: shop.ID, ShopName: shop.Name}
	}

	var open []models.BoxHistory
	if err := db.Where("box_id IN ? AND ended_at IS NULL", ids).Find(&open).Error; err != nil {
		return nil, apperr.Internal(err, "failed to load open history")
	}
	for _, h := range open {
		occ, ok := out[h.BoxID]
		if !ok {
			continue
		}
		since := h.StartedAt
		occ.Since = &since
		occ.Days = utils.DaysBetween(h.StartedAt, now)
	}
	return out, nil
}

func (s *Service) registryStats(db *gorm.DB) (*RegistryStats, error) {
	var rows []models.Box
	if err := db.Select("id", "free", "rent", "surface").Find(&rows).Error; err != nil {
		return nil, apperr.Internal(err, "failed to compute box statistics")
	}

	stats := &RegistryStats{AverageRent: decimal.Zero, AverageSurface: decimal.Zero}
	rent, surface := decimal.Zero, decimal.Zero
	for _, b := range rows {
		stats.Total++
		if b.Free {
			stats.Free++
		} else {
			stats.Occupied++
		}
		rent = rent.Add(b.Rent)
		surface = surface.Add(b.Surface)
	}
	if stats.Total > 0 {
		n := decimal.NewFromInt(stats.Total)
		stats.AverageRent = rent.Div(n).Round(2)
		stats.AverageSurface = surface.Div(n).Round(2)
	}
	return stats, nil
}

type HistoryPage struct {
	Entries    []HistoryEntry   `json:"entries"`
	Pagination utils.Pagination `json:"pagination"`
}

// History pages through a box's occupations, newest first.
func (s *Service) History(ctx context.Context, boxID int64, page, limit int) (*HistoryPage, error) {
	db := s.db.WithContext(ctx)
	now := s.now()
	page, limit = utils.NormalizePage(page, limit)

	if err := db.Select("id").First(&models.Box{}, boxID).Error; err != nil {
		return nil, apperr.FromDB(err, boxNotFound(boxID), "failed to load box")
	}

	var total int64
	if err := db.Model(&models.BoxHistory{}).Where("box_id = ?", boxID).Count(&total).Error; err != nil {
		return nil, apperr.Internal(err, "failed to count box history")
	}

	var rows []models.BoxHistory
	err := db.Preload("Shop").
		Where("box_id = ?", boxID).
		Order("started_at DESC, id DESC").
		Offset(utils.Offset(page, limit)).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to load box history")
	}

	out := &HistoryPage{
		Entries:    make([]HistoryEntry, 0, len(rows)),
		Pagination: utils.NewPagination(page, limit, total),
	}
	for _, h := range rows {
		out.Entries = append(out.Entries, entryOf(h, now))
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", e.Type), zap.Int64("aggregate_id", e.AggregateID), zap.Error(err))
	}
}
