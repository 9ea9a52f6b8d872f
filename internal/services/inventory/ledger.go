package inventory

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/utils"
)

const LowStockThreshold int32 = 5

type StockStatus string

const (
	StatusOutOfStock StockStatus = "RUPTURE"
	StatusLow        StockStatus = "FAIBLE"
	StatusNormal     StockStatus = "NORMAL"
)

func Classify(stock int32) StockStatus {
	switch {
	case stock <= 0:
		return StatusOutOfStock
	case stock <= LowStockThreshold:
		return StatusLow
	default:
		return StatusNormal
	}
}

type AdjustOp string

const (
	OpSet      AdjustOp = "SET"
	OpAdd      AdjustOp = "ADD"
	OpSubtract AdjustOp = "SUBTRACT"
)

type Situation struct {
	ProductID int64       `json:"product_id"`
	Name      string      `json:"name"`
	Stock     int32       `json:"stock"`
	Unit      string      `json:"unit"`
	Status    StockStatus `json:"status"`
	Threshold int32       `json:"threshold"`
	Alert     bool        `json:"alert"`
}

func situationOf(p *models.Product) *Situation {
	return &Situation{
		ProductID: p.ID,
		Name:      p.Name,
		Stock:     p.Stock,
		Unit:      p.Unit,
		Status:    Classify(p.Stock),
		Threshold: LowStockThreshold,
		Alert:     p.Stock <= LowStockThreshold,
	}
}

// LockProducts takes the row locks for a multi-product transaction in ascending id order,
// so two transactions touching the same products always queue instead of deadlocking.
func LockProducts(tx *gorm.DB, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	ids := append([]int64(nil), productIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var locked []models.Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&locked).Error
	if err != nil {
		return apperr.Internal(err, "failed to lock products")
	}
	return nil
}

// CheckAvailability locks the product row and verifies qty can be taken from it.
// It must run inside the caller's transaction.
func CheckAvailability(tx *gorm.DB, productID int64, qty int32) (*models.Product, error) {
	var product models.Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, productID).Error
	if err != nil {
		return nil, apperr.FromDB(err, apperr.ProductUnavailable(productID), "failed to load product")
	}
	if !product.Active {
		return nil, apperr.ProductUnavailable(productID)
	}
	if product.Stock < qty {
		return nil, apperr.InsufficientStock(productID, product.Stock, qty)
	}
	return &product, nil
}

// Decrement takes qty from stock with a guarded update so stock can never go negative,
// even if another transaction committed between validation and write.
func Decrement(tx *gorm.DB, productID int64, qty int32) error {
	res := tx.Model(&models.Product{}).
		Where("id = ? AND active = ? AND stock >= ?", productID, true, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return apperr.Internal(res.Error, "failed to decrement stock")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var product models.Product
	if err := tx.First(&product, productID).Error; err != nil {
		return apperr.FromDB(err, apperr.ProductUnavailable(productID), "failed to load product")
	}
	if !product.Active {
		return apperr.ProductUnavailable(productID)
	}
	return apperr.InsufficientStock(productID, product.Stock, qty)
}

func Increment(tx *gorm.DB, productID int64, qty int32) error {
	res := tx.Model(&models.Product{}).
		Where("id = ?", productID).
		Update("stock", gorm.Expr("stock + ?", qty))
	if res.Error != nil {
		return apperr.Internal(res.Error, "failed to increment stock")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(apperr.CodeProductNotFound, "product %d not found", productID)
	}
	return nil
}

type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewLedger(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: utils.OrNop(logger)}
}

// Reserve is an advisory check: it reports whether qty is available right now
// without holding anything back.
func (l *Ledger) Reserve(ctx context.Context, productID int64, qty int32) (*models.Product, error) {
	if qty < 1 {
		return nil, apperr.Validation("quantity must be at least 1")
	}
	var product *models.Product
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := CheckAvailability(tx, productID, qty)
		product = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (l *Ledger) Situation(ctx context.Context, shopID, productID int64) (*Situation, error) {
	var product models.Product
	err := l.db.WithContext(ctx).Where("id = ? AND shop_id = ?", productID, shopID).First(&product).Error
	if err != nil {
		return nil, apperr.FromDB(err, apperr.NotFound(apperr.CodeProductNotFound, "product %d not found", productID), "failed to load product")
	}
	return situationOf(&product), nil
}

// ShopSituation lists every product of a shop, lowest stock first.
func (l *Ledger) ShopSituation(ctx context.Context, shopID int64) ([]*Situation, error) {
	var products []models.Product
	if err := l.db.WithContext(ctx).Where("shop_id = ?", shopID).Order("stock ASC, id ASC").Find(&products).Error; err != nil {
		return nil, apperr.Internal(err, "failed to list products")
	}
	out := make([]*Situation, 0, len(products))
	for i := range products {
		out = append(out, situationOf(&products[i]))
	}
	return out, nil
}

// AdjustStock is the shop owner's manual correction. SUBTRACT clamps at zero.
func (l *Ledger) AdjustStock(ctx context.Context, shopID, productID int64, op AdjustOp, qty int32) (*Situation, error) {
	if qty < 0 {
		return nil, apperr.Validation("quantity must not be negative")
	}
	if op == "" {
		op = OpSet
	}
	if op != OpSet && op != OpAdd && op != OpSubtract {
		return nil, apperr.Validation("unknown stock operation %q", op)
	}

	var product models.Product
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND shop_id = ?", productID, shopID).
			First(&product).Error
		if err != nil {
			return apperr.FromDB(err, apperr.NotFound(apperr.CodeProductNotFound, "product %d not found", productID), "failed to load product")
		}

		next := product.Stock
		switch op {
		case OpAdd:
			next += qty
		case OpSubtract:
			next -= qty
			if next < 0 {
				next = 0
			}
		default:
			next = qty
		}

		if err := tx.Model(&product).Update("stock", next).Error; err != nil {
			return apperr.Internal(err, "failed to update stock")
		}
		product.Stock = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("stock adjusted",
		zap.Int64("product_id", productID),
		zap.String("operation", string(op)),
		zap.Int32("quantity", qty),
		zap.Int32("stock", product.Stock))

	return situationOf(&product), nil
}
