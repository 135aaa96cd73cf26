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

// Recommendation is the persistent decision slot for a SKU. At most one
// non-obsolete record exists per (store, product) at a time; superseded records
// are marked Obsolete and kept forever for the audit trail. Monitor-bucket SKUs
// never get a row at all, so the table only contains actionable or
// historically-actionable entries.
type Recommendation struct {
	ID        int    `gorm:"primary_key" json:"id"`
	StoreId   string `gorm:"index;index:idx_rec_store_product,priority:1;size:64;not null" json:"store_id"`
	ProductId int    `gorm:"index:idx_rec_store_product,priority:2;not null" json:"product_id"`
	RunId     uint   `gorm:"index" json:"run_id"`

	Action         ActionType      `gorm:"type:enum('BuyMore','BuyLess','Monitor');not null" json:"action"`
	CurrentQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_qty"`
	RecommendedQty int             `gorm:"default:0" json:"recommended_qty"`

	DaysOfCover      float64        `gorm:"type:double;default:0" json:"days_of_cover"`
	SafetyStock      float64        `gorm:"type:double;default:0" json:"safety_stock"`
	ProtectionWindow int            `gorm:"default:0" json:"protection_window"`
	VariabilityCoeff float64        `gorm:"type:double;default:0" json:"variability_coeff"`
	Ads7             float64        `gorm:"type:double;default:0" json:"ads_7"`
	Ads14            float64        `gorm:"type:double;default:0" json:"ads_14"`
	Ads30            float64        `gorm:"type:double;default:0" json:"ads_30"`
	WeightedAds      float64        `gorm:"type:double;default:0" json:"weighted_ads"`
	ConfidenceTier   ConfidenceTier `gorm:"type:enum('High','Medium','Low')" json:"confidence_tier"`

	// ReorderPoint is display-only (always weighted ADS x protection window).
	// No decision reads it.
	ReorderPoint float64 `gorm:"type:double;default:0" json:"reorder_point"`

	Urgent               bool            `gorm:"default:false" json:"urgent"`
	PotentialLostRevenue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"potential_lost_revenue"`

	Justification   string                 `gorm:"type:text" json:"justification"`
	Priority        RecommendationPriority `gorm:"type:enum('High','Medium','Low');default:'Medium'" json:"priority"`
	FeedbackStatus  FeedbackStatus         `gorm:"type:enum('Pending','Accepted','Updated','Ignored','Obsolete');default:'Pending';index" json:"feedback_status"`
	ReasoningStatus ReasoningStatus        `gorm:"type:enum('NotRequested','Complete','FallbackUsed');default:'NotRequested'" json:"reasoning_status"`

	// FeedbackQtySnapshot freezes on-hand at the moment feedback was first
	// given. The outcome sweep compares later reality against it.
	FeedbackQtySnapshot *decimal.Decimal `gorm:"type:decimal(20,4)" json:"feedback_qty_snapshot"`
	FeedbackAt          *time.Time       `json:"feedback_at"`

	RealizedOutcome   *string `gorm:"size:50" json:"realized_outcome"`
	OutcomeCheckCount int     `gorm:"default:0" json:"outcome_check_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrRecommendationObsolete = errors.New("recommendation is obsolete and read-only")

// GetActiveRecommendations returns each SKU's current non-obsolete slot,
// keyed by product id.
func GetActiveRecommendations(ctx context.Context, storeId string) (map[int]*Recommendation, error) {
	db := config.GetDB()
	var records []*Recommendation
	if err := db.WithContext(ctx).
		Where("store_id = ? AND feedback_status <> ?", storeId, FeedbackStatusObsolete).
		Find(&records).Error; err != nil {
		return nil, err
	}
	active := make(map[int]*Recommendation, len(records))
	for _, r := range records {
		active[r.ProductId] = r
	}
	return active, nil
}

// ListRecommendations pages through a store's recommendations, optionally
// filtered by feedback status, newest first.
func ListRecommendations(ctx context.Context, storeId string, status *FeedbackStatus, limit int, offset int) ([]*Recommendation, int64, error) {
	db := config.GetDB()
	if limit <= 0 || limit > 200 {
		limit = config.SearchLimit
	}

	dbCtx := db.WithContext(ctx).Model(&Recommendation{}).Where("store_id = ?", storeId)
	if status != nil {
		dbCtx = dbCtx.Where("feedback_status = ?", *status)
	}

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []*Recommendation
	if err := dbCtx.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ApplyFeedback records a user decision (Accepted or Ignored) on a live
// recommendation. The first transition out of Pending freezes the on-hand
// snapshot the outcome sweep will anchor on. Obsolete records reject writes.
func ApplyFeedback(ctx context.Context, storeId string, recommendationId int, status FeedbackStatus) (*Recommendation, error) {
	if status != FeedbackStatusAccepted && status != FeedbackStatusIgnored {
		return nil, errors.New("feedback must be Accepted or Ignored")
	}

	db := config.GetDB()
	var rec Recommendation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("store_id = ? AND id = ?", storeId, recommendationId).
			First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if rec.FeedbackStatus == FeedbackStatusObsolete {
			return ErrRecommendationObsolete
		}

		updates := map[string]interface{}{
			"feedback_status": status,
		}
		if rec.FeedbackQtySnapshot == nil {
			product, err := GetProduct(ctx, storeId, rec.ProductId)
			if err != nil {
				return err
			}
			now := time.Now()
			updates["feedback_qty_snapshot"] = product.CurrentQty
			updates["feedback_at"] = now
		}
		if err := tx.Model(&Recommendation{}).Where("id = ?", rec.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", rec.ID).First(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetOutcomeCandidates returns recommendations eligible for an outcome check:
// acted upon (or ignored), unresolved, at least minAge old, under the check
// limit.
func GetOutcomeCandidates(tx *gorm.DB, storeId string, minAge time.Duration, checkLimit int) ([]*Recommendation, error) {
	cutoff := time.Now().Add(-minAge)
	var records []*Recommendation
	if err := tx.
		Where("store_id = ?", storeId).
		Where("feedback_status IN ?", []FeedbackStatus{
			FeedbackStatusAccepted, FeedbackStatusUpdated, FeedbackStatusIgnored,
		}).
		Where("realized_outcome IS NULL").
		Where("outcome_check_count < ?", checkLimit).
		Where("feedback_at IS NOT NULL AND feedback_at <= ?", cutoff).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
