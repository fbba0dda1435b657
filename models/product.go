package models

import (
	"context"
	"sort"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID           int             `gorm:"primary_key" json:"id"`
	Version      int             `gorm:"not null;default:0" json:"version"`
	Name         string          `gorm:"index;size:255;not null" json:"name" binding:"required"`
	Price        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	StockCount   int             `gorm:"not null;default:0" json:"stock_count"`
	Availability Availability    `gorm:"type:enum('Available','Coming','Discontinued');not null;default:'Coming'" json:"availability"`
	CategoryId   int             `gorm:"index;default:null" json:"category_id"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name         string          `json:"name" binding:"required"`
	Price        decimal.Decimal `json:"price"`
	StockCount   int             `json:"stock_count"`
	Availability Availability    `json:"availability"`
	CategoryId   int             `json:"category_id"`
}

// Field names used in draft snapshots. Values are carried as strings so
// a snapshot round-trips through JSON without type drift.
const (
	FieldProductName  = "product_name"
	FieldPrice        = "price"
	FieldStockCount   = "stock_count"
	FieldAvailability = "availability"
	FieldCategoryId   = "category_id"
)

// ProductFieldNames in a stable order, for deterministic merge output.
func ProductFieldNames() []string {
	return []string{FieldProductName, FieldPrice, FieldStockCount, FieldAvailability, FieldCategoryId}
}

// FieldValues snapshots the editable fields as draft field values.
func (p *Product) FieldValues() map[string]string {
	return map[string]string{
		FieldProductName:  p.Name,
		FieldPrice:        p.Price.String(),
		FieldStockCount:   strconv.Itoa(p.StockCount),
		FieldAvailability: string(p.Availability),
		FieldCategoryId:   strconv.Itoa(p.CategoryId),
	}
}

// ApplyFieldValues writes draft field values back onto the product.
// Unknown fields are ignored; unparseable values are reported.
func (p *Product) ApplyFieldValues(values map[string]string) error {
	// iterate deterministically so the first parse error is stable
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := values[name]
		switch name {
		case FieldProductName:
			p.Name = value
		case FieldPrice:
			price, err := utils.ParseDecimal(value)
			if err != nil {
				return err
			}
			p.Price = price
		case FieldStockCount:
			count, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			p.StockCount = count
		case FieldAvailability:
			availability, err := ParseAvailability(value)
			if err != nil {
				return err
			}
			p.Availability = availability
		case FieldCategoryId:
			id, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			p.CategoryId = id
		}
	}
	return nil
}

func (input *NewProduct) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[Product](ctx, "name", input.Name, id); err != nil {
		return err
	}
	if input.CategoryId > 0 {
		if err := utils.ValidateResourceId[Category](ctx, input.CategoryId); err != nil {
			return err
		}
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	availability := input.Availability
	if availability == "" {
		availability = AvailabilityComing
	}

	product := Product{
		Name:         input.Name,
		Price:        input.Price,
		StockCount:   input.StockCount,
		Availability: availability,
		CategoryId:   input.CategoryId,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProduct writes the product with compare-and-swap on version.
// Returns ErrorVersionConflict when another editor got there first.
func UpdateProduct(ctx context.Context, id int, version int, input *NewProduct) (*Product, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	err := UpdateEntityIfVersion[Product](ctx, id, version, map[string]interface{}{
		"Name":         input.Name,
		"Price":        input.Price,
		"StockCount":   input.StockCount,
		"Availability": input.Availability,
		"CategoryId":   input.CategoryId,
	})
	if err != nil {
		return nil, err
	}
	return utils.FetchSingleModel[Product](ctx, id)
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchSingleModel[Product](ctx, id)
}

func ListProducts(ctx context.Context) ([]*Product, error) {
	return utils.FetchAllModels[Product](ctx)
}

func DeleteProduct(ctx context.Context, id int) (*Product, error) {
	product, err := utils.FetchSingleModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Delete(product).Error
	if err != nil {
		return nil, err
	}
	return product, nil
}
