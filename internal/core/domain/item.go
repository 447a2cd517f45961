package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemCategory string

const (
	CategoryMaterial ItemCategory = "material"
	CategoryLabour   ItemCategory = "labour"
)

type Item struct {
	ID           string
	Code         string
	Name         string
	Category     ItemCategory
	Unit         string
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	Budget       string
	Section      string
	BuildingType string
	ProjectSite  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
