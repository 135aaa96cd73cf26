package engine

import (
	"errors"
	"time"

	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OutcomeMinAge keeps the sweep from judging a recommendation before the real
// world had a chance to react to it.
const OutcomeMinAge = 24 * time.Hour

// ResolveOutcomes sweeps the store's acted-upon recommendations and settles
// them against reality:
//
//   - Accepted/Updated and stock later rose above the feedback snapshot: a
//     reorder evidently landed, "Opportunity Saved";
//   - Ignored and stock later hit zero: the warning was right, "Opportunity
//     Lost";
//   - neither: burn one of the record's bounded checks and wait.
//
// A record that exhausts its checks stays unresolved forever. Silence is
// acceptable; guessing is not. Resolution fires at most once per record.
func ResolveOutcomes(tx *gorm.DB, storeId string, params config.EngineParams) (int, error) {
	candidates, err := models.GetOutcomeCandidates(tx, storeId, OutcomeMinAge, params.OutcomeCheckLimit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, rec := range candidates {
		var product models.Product
		err := tx.Where("store_id = ? AND id = ?", storeId, rec.ProductId).
			First(&product).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// SKU disappeared from the catalog; the check still counts.
			if err := bumpCheckCount(tx, rec); err != nil {
				return resolved, err
			}
			continue
		}
		if err != nil {
			return resolved, err
		}

		outcome := classifyOutcome(rec, &product)
		if outcome == "" {
			if err := bumpCheckCount(tx, rec); err != nil {
				return resolved, err
			}
			continue
		}

		result := tx.Model(&models.Recommendation{}).
			Where("id = ? AND realized_outcome IS NULL", rec.ID).
			Updates(map[string]interface{}{
				"realized_outcome":    outcome,
				"outcome_check_count": rec.OutcomeCheckCount + 1,
			})
		if result.Error != nil {
			return resolved, result.Error
		}
		if result.RowsAffected == 1 {
			resolved++
		}
	}
	return resolved, nil
}

func classifyOutcome(rec *models.Recommendation, product *models.Product) string {
	if rec.FeedbackQtySnapshot == nil {
		return ""
	}
	snapshot := *rec.FeedbackQtySnapshot
	current := product.CurrentQty

	switch rec.FeedbackStatus {
	case models.FeedbackStatusAccepted, models.FeedbackStatusUpdated:
		if current.GreaterThan(snapshot) {
			return models.OutcomeOpportunitySaved
		}
	case models.FeedbackStatusIgnored:
		if current.LessThanOrEqual(decimal.Zero) {
			return models.OutcomeOpportunityLost
		}
	}
	return ""
}

func bumpCheckCount(tx *gorm.DB, rec *models.Recommendation) error {
	return tx.Model(&models.Recommendation{}).
		Where("id = ?", rec.ID).
		Update("outcome_check_count", gorm.Expr("outcome_check_count + 1")).Error
}

// SweepOutcomesForStore runs the outcome sweep standalone, outside an engine
// run, in its own transaction. Used by ops tooling.
func SweepOutcomesForStore(storeId string) (int, error) {
	db := config.GetDB()
	params := config.GetEngineParams()
	var resolved int
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		resolved, err = ResolveOutcomes(tx, storeId, params)
		return err
	})
	return resolved, err
}
