package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func init() {
	// amounts serialize as JSON numbers, not quoted strings
	decimal.MarshalJSONWithoutQuotes = true
}

// Transaction types. Amount is stored as a magnitude; the sign is implied
// by Type, never by the stored value.
const (
	TypeIncome  = "income"
	TypeExpense = "expense"
)

func ValidType(t string) bool {
	return t == TypeIncome || t == TypeExpense
}

// Transaction is a single income or expense record with exactly one owner.
// UserID is set at creation and never reassigned.
type Transaction struct {
	ID        string          `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	UserID    string          `gorm:"type:uuid;index;not null" json:"userId"`
	User      *User           `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"user,omitempty"`
	Type      string          `gorm:"size:16;not null" json:"type"`
	Category  string          `gorm:"size:255;not null" json:"category"`
	Amount    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Note      string          `gorm:"size:1024" json:"note,omitempty"`
	Date      time.Time       `gorm:"not null" json:"date"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
