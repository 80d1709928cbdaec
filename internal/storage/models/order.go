// internal/storage/models/order.go
package models

import "time"

// Order mirrors one executed trade. Amounts are base-unit decimal strings.
type Order struct {
	BaseModel
	OrderID    uint64    `gorm:"uniqueIndex;not null"`
	Account    string    `gorm:"index;not null;type:varchar(64)"`
	Type       string    `gorm:"not null;type:varchar(8)"`
	Amount     string    `gorm:"not null;type:varchar(80)"`
	Value      string    `gorm:"not null;type:varchar(80)"`
	Price      string    `gorm:"type:varchar(80)"`
	Referer    string    `gorm:"type:varchar(64)"`
	Commission string    `gorm:"type:varchar(80)"`
	ExecutedAt time.Time `gorm:"index;not null"`
}

// Rejection records an operation the market refused.
type Rejection struct {
	BaseModel
	EventType   string    `gorm:"index;not null;type:varchar(32)"`
	Account     string    `gorm:"index;type:varchar(64)"`
	Reason      string    `gorm:"type:text"`
	AttemptedAt time.Time `gorm:"index;not null"`
}

// Snapshot is the market position after a trade.
type Snapshot struct {
	BaseModel
	OrderID      uint64    `gorm:"uniqueIndex;not null"`
	Price        string    `gorm:"not null;type:varchar(80)"`
	ProfitPool   string    `gorm:"not null;type:varchar(80)"`
	IssuedSupply string    `gorm:"not null;type:varchar(80)"`
	TakenAt      time.Time `gorm:"index;not null"`
}
