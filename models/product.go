package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is the SKU registry entry. It is owned by the catalog/ingestion side
// (uploads, external sync); the decision engine reads it and never writes it.
type Product struct {
	ID           int             `gorm:"primary_key" json:"id"`
	StoreId      string          `gorm:"index;not null" json:"store_id" binding:"required"`
	Sku          string          `gorm:"index;size:100;not null" json:"sku" binding:"required"`
	Name         string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Category     string          `gorm:"size:100" json:"category"`
	SellingPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"selling_price"`
	CostPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	MinOrderQty  int             `gorm:"default:0" json:"min_order_qty"`
	CasePackSize int             `gorm:"default:1" json:"case_pack_size"`
	CurrentQty   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_qty"`

	// ForceReanalysis asks the selector to treat this SKU as changed on the next
	// run regardless of metric deltas. Cleared by the run that honours it.
	ForceReanalysis *bool `gorm:"not null;default:false" json:"force_reanalysis"`

	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProduct(ctx context.Context, storeId string, productId int) (*Product, error) {
	db := config.GetDB()
	var product Product
	if err := db.WithContext(ctx).
		Where("store_id = ? AND id = ?", storeId, productId).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

func GetActiveProductIds(ctx context.Context, storeId string) ([]int, error) {
	db := config.GetDB()
	var ids []int
	if err := db.WithContext(ctx).Model(&Product{}).
		Where("store_id = ? AND is_active = true", storeId).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
