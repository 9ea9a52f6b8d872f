package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Box struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Numero      string          `gorm:"size:64;uniqueIndex;not null" json:"numero"`
	Surface     decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"surface"`
	Rent        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"rent"`
	Description *string         `gorm:"type:text" json:"description"`
	Free        bool            `gorm:"index;not null" json:"free"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BoxHistory rows are append-only; EndedAt is nil while the occupation is ongoing.
type BoxHistory struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	BoxID     int64      `gorm:"index;not null" json:"box_id"`
	ShopID    int64      `gorm:"index;not null" json:"shop_id"`
	StartedAt time.Time  `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	CreatedAt time.Time  `json:"created_at"`

	Box  *Box  `gorm:"foreignKey:BoxID" json:"box,omitempty"`
	Shop *Shop `gorm:"foreignKey:ShopID" json:"shop,omitempty"`
}

type LeasePayment struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ShopID    int64           `gorm:"index;not null" json:"shop_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	PaidAt    time.Time       `gorm:"not null" json:"paid_at"`
	PeriodEnd time.Time       `gorm:"index;not null" json:"period_end"`
	Period    string          `gorm:"size:16;not null" json:"period"`
	Note      *string         `gorm:"type:text" json:"note"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	Shop *Shop `gorm:"foreignKey:ShopID" json:"shop,omitempty"`
}
