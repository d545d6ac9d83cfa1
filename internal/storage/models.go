package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one accepted oracle price, kept for reporting and export.
type PricePoint struct {
	Asset     string
	Price     decimal.Decimal
	Source    string
	Timestamp time.Time
	CreatedAt time.Time
}
