package box

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/events"
	"mall-system/internal/utils"
)

type Assignment struct {
	BoxID     int64     `json:"box_id"`
	Numero    string    `json:"numero"`
	ShopID    int64     `json:"shop_id"`
	ShopName  string    `json:"shop_name"`
	StartedAt time.Time `json:"started_at"`
	HistoryID int64     `json:"history_id"`
}

type Release struct {
	BoxID     int64     `json:"box_id"`
	Numero    string    `json:"numero"`
	ShopID    int64     `json:"shop_id"`
	ShopName  string    `json:"shop_name"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Days      int       `json:"days"`
}

type Transfer struct {
	BoxID        int64     `json:"box_id"`
	Numero       string    `json:"numero"`
	FromShopID   int64     `json:"from_shop_id"`
	FromShopName string    `json:"from_shop_name"`
	ToShopID     int64     `json:"to_shop_id"`
	ToShopName   string    `json:"to_shop_name"`
	At           time.Time `json:"at"`
	HistoryID    int64     `json:"history_id"`
	ClosedOpen   bool      `json:"closed_open_history"`
}

func lockBox(tx *gorm.DB, boxID int64) (*models.Box, error) {
	var b models.Box
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, boxID).Error; err != nil {
		return nil, apperr.FromDB(err, boxNotFound(boxID), "failed to load box")
	}
	return &b, nil
}

func lockShop(tx *gorm.DB, shopID int64, notFound *apperr.Error) (*models.Shop, error) {
	var shop models.Shop
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&shop, shopID).Error; err != nil {
		return nil, apperr.FromDB(err, notFound, "failed to load shop")
	}
	return &shop, nil
}

func lockOccupant(tx *gorm.DB, b *models.Box) (*models.Shop, error) {
	var shop models.Shop
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("box_id = ?", b.ID).First(&shop).Error
	if err != nil {
		return nil, apperr.FromDB(err,
			apperr.DataIntegrity(apperr.CodeNoShopFound, "box %s is occupied but no shop references it", b.Numero),
			"failed to load occupant")
	}
	return &shop, nil
}

func openHistory(tx *gorm.DB, boxID, shopID int64) (*models.BoxHistory, error) {
	var h models.BoxHistory
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("box_id = ? AND shop_id = ? AND ended_at IS NULL", boxID, shopID).
		Order("started_at DESC").
		First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load open history")
	}
	return &h, nil
}

func orNow(at *time.Time, now time.Time) time.Time {
	if at != nil {
		return *at
	}
	return now
}

// Assign hands a free box to a shop that holds none, opening a history row.
func (s *Service) Assign(ctx context.Context, boxID, shopID int64, startedAt *time.Time) (*Assignment, error) {
	start := orNow(startedAt, s.now())

	var out *Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBox(tx, boxID)
		if err != nil {
			return err
		}
		if !b.Free {
			return apperr.Conflict(apperr.CodeBoxOccupied, "box %s is already occupied", b.Numero)
		}
		shop, err := lockShop(tx, shopID, apperr.NotFound(apperr.CodeShopNotFound, "shop %d not found", shopID))
		if err != nil {
			return err
		}
		if shop.BoxID != nil {
			return apperr.Conflict(apperr.CodeShopAlreadyHasBox, "shop %q already holds box %d", shop.Name, *shop.BoxID)
		}

		h := models.BoxHistory{BoxID: b.ID, ShopID: shop.ID, StartedAt: start}
		if err := tx.Create(&h).Error; err != nil {
			return apperr.Internal(err, "failed to open box history")
		}
		if err := tx.Model(&models.Box{}).Where("id = ?", b.ID).Update("free", false).Error; err != nil {
			return apperr.Internal(err, "failed to mark box occupied")
		}
		if err := tx.Model(&models.Shop{}).Where("id = ?", shop.ID).Update("box_id", b.ID).Error; err != nil {
			return apperr.Internal(err, "failed to link shop to box")
		}

		out = &Assignment{
			BoxID:     b.ID,
			Numero:    b.Numero,
			ShopID:    shop.ID,
			ShopName:  shop.Name,
			StartedAt: start,
			HistoryID: h.ID,
		}
		return nil
	})
	if err != nil {
		s.logger.Info("box assignment rejected", zap.Int64("box_id", boxID), zap.Int64("shop_id", shopID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("box assigned", zap.Int64("box_id", out.BoxID), zap.Int64("shop_id", out.ShopID))
	s.publish(ctx, events.NewEvent(events.BoxAssigned, out.BoxID, map[string]interface{}{
		"numero":     out.Numero,
		"shop_id":    out.ShopID,
		"started_at": out.StartedAt,
	}))
	return out, nil
}

// Release ends the current occupation and frees the box.
func (s *Service) Release(ctx context.Context, boxID int64, endedAt *time.Time) (*Release, error) {
	end := orNow(endedAt, s.now())

	var out *Release
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBox(tx, boxID)
		if err != nil {
			return err
		}
		if b.Free {
			return apperr.InvalidState(apperr.CodeBoxAlreadyFree, "box %s is already free", b.Numero)
		}
		shop, err := lockOccupant(tx, b)
		if err != nil {
			return err
		}
		h, err := openHistory(tx, b.ID, shop.ID)
		if err != nil {
			return err
		}
		if h == nil {
			return apperr.DataIntegrity(apperr.CodeNoOpenHistory, "box %s has no open history for shop %d", b.Numero, shop.ID)
		}
		if end.Before(h.StartedAt) {
			return apperr.Validation("end date precedes the occupation start")
		}

		if err := tx.Model(&models.BoxHistory{}).Where("id = ?", h.ID).Update("ended_at", end).Error; err != nil {
			return apperr.Internal(err, "failed to close box history")
		}
		if err := tx.Model(&models.Box{}).Where("id = ?", b.ID).Update("free", true).Error; err != nil {
			return apperr.Internal(err, "failed to free box")
		}
		if err := tx.Model(&models.Shop{}).Where("id = ?", shop.ID).Update("box_id", nil).Error; err != nil {
			return apperr.Internal(err, "failed to unlink shop")
		}

		out = &Release{
			BoxID:     b.ID,
			Numero:    b.Numero,
			ShopID:    shop.ID,
			ShopName:  shop.Name,
			StartedAt: h.StartedAt,
			EndedAt:   end,
			Days:      utils.DaysBetween(h.StartedAt, end),
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindDataIntegrity {
			s.logger.Error("box release hit inconsistent data", zap.Int64("box_id", boxID), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("box released", zap.Int64("box_id", out.BoxID), zap.Int64("shop_id", out.ShopID), zap.Int("days", out.Days))
	s.publish(ctx, events.NewEvent(events.BoxReleased, out.BoxID, map[string]interface{}{
		"numero":   out.Numero,
		"shop_id":  out.ShopID,
		"ended_at": out.EndedAt,
		"days":     out.Days,
	}))
	return out, nil
}

// Transfer moves an occupied box to another shop without freeing it.
// A missing open history row for the current occupant is tolerated and logged.
func (s *Service) Transfer(ctx context.Context, boxID, newShopID int64, at *time.Time) (*Transfer, error) {
	when := orNow(at, s.now())

	var out *Transfer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBox(tx, boxID)
		if err != nil {
			return err
		}
		if b.Free {
			return apperr.InvalidState(apperr.CodeBoxFree, "box %s is free, assign it instead", b.Numero)
		}
		previous, err := lockOccupant(tx, b)
		if err != nil {
			return err
		}
		next, err := lockShop(tx, newShopID, apperr.NotFound(apperr.CodeNewShopNotFound, "shop %d not found", newShopID))
		if err != nil {
			return err
		}
		if next.BoxID != nil {
			return apperr.Conflict(apperr.CodeNewShopAlreadyHasBox, "shop %q already holds box %d", next.Name, *next.BoxID)
		}

		h, err := openHistory(tx, b.ID, previous.ID)
		if err != nil {
			return err
		}
		if h != nil {
			if err := tx.Model(&models.BoxHistory{}).Where("id = ?", h.ID).Update("ended_at", when).Error; err != nil {
				return apperr.Internal(err, "failed to close box history")
			}
		} else {
			s.logger.Warn("transferring box without an open history row",
				zap.Int64("box_id", b.ID),
				zap.Int64("shop_id", previous.ID))
		}

		created := models.BoxHistory{BoxID: b.ID, ShopID: next.ID, StartedAt: when}
		if err := tx.Create(&created).Error; err != nil {
			return apperr.Internal(err, "failed to open box history")
		}
		if err := tx.Model(&models.Shop{}).Where("id = ?", previous.ID).Update("box_id", nil).Error; err != nil {
			return apperr.Internal(err, "failed to unlink previous shop")
		}
		if err := tx.Model(&models.Shop{}).Where("id = ?", next.ID).Update("box_id", b.ID).Error; err != nil {
			return apperr.Internal(err, "failed to link new shop")
		}

		out = &Transfer{
			BoxID:        b.ID,
			Numero:       b.Numero,
			FromShopID:   previous.ID,
			FromShopName: previous.Name,
			ToShopID:     next.ID,
			ToShopName:   next.Name,
			At:           when,
			HistoryID:    created.ID,
			ClosedOpen:   h != nil,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("box transferred",
		zap.Int64("box_id", out.BoxID),
		zap.Int64("from_shop_id", out.FromShopID),
		zap.Int64("to_shop_id", out.ToShopID))
	s.publish(ctx, events.NewEvent(events.BoxTransferred, out.BoxID, map[string]interface{}{
		"numero":       out.Numero,
		"from_shop_id": out.FromShopID,
		"to_shop_id":   out.ToShopID,
		"at":           out.At,
	}))
	return out, nil
}
