package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Shop struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID     int64     `gorm:"index;not null" json:"owner_id"`
	Name        string    `gorm:"size:128;not null" json:"name"`
	Description *string   `gorm:"type:text" json:"description"`
	BoxID       *int64    `gorm:"index" json:"box_id"`
	Active      bool      `gorm:"not null" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Box *Box `gorm:"foreignKey:BoxID" json:"box,omitempty"`
}

type Product struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ShopID      int64           `gorm:"index;not null" json:"shop_id"`
	Name        string          `gorm:"size:255;not null" json:"name"`
	Description *string         `gorm:"type:text" json:"description"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Stock       int32           `gorm:"not null;check:stock >= 0" json:"stock"`
	Unit        string          `gorm:"size:32" json:"unit"`
	Active      bool            `gorm:"not null" json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Shop *Shop `gorm:"foreignKey:ShopID" json:"shop,omitempty"`
}

type Promotion struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Description *string         `gorm:"type:text" json:"description"`
	Discount    decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"discount"`
	StartsAt    time.Time       `gorm:"index;not null" json:"starts_at"`
	EndsAt      time.Time       `gorm:"index;not null" json:"ends_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Products []Product `gorm:"many2many:promotion_products;" json:"products,omitempty"`
}

// BeforeSave keeps the window in UTC so active-window lookups compare like with like.
func (p *Promotion) BeforeSave(tx *gorm.DB) error {
	p.StartsAt = p.StartsAt.UTC()
	p.EndsAt = p.EndsAt.UTC()
	return nil
}
