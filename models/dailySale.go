package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/shopspring/decimal"
)

// DailySale is one day's sales total for a SKU, written by the POS/ingestion
// side. The engine reads a bounded trailing window of these per SKU.
//
// Grain: (store_id, product_id, sale_date).
type DailySale struct {
	StoreId   string          `gorm:"primaryKey;size:64" json:"store_id"`
	ProductId int             `gorm:"primaryKey;index:idx_sales_product_date,priority:1" json:"product_id"`
	SaleDate  time.Time       `gorm:"primaryKey;index:idx_sales_product_date,priority:2" json:"sale_date"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetTrailingSales returns the daily observations for the trailing `days`
// window ending at asOf, oldest first. Missing days simply have no row.
func GetTrailingSales(ctx context.Context, storeId string, productId int, asOf time.Time, days int) ([]DailySale, error) {
	db := config.GetDB()
	since := asOf.AddDate(0, 0, -days)
	var sales []DailySale
	if err := db.WithContext(ctx).
		Where("store_id = ? AND product_id = ? AND sale_date > ? AND sale_date <= ?",
			storeId, productId, since, asOf).
		Order("sale_date").
		Find(&sales).Error; err != nil {
		return nil, err
	}
	return sales, nil
}
