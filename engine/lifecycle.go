package engine

import (
	"github.com/mmdatafocus/inventory_backend/models"
	"gorm.io/gorm"
)

// LifecycleCounts aggregates what a reconcile pass did.
type LifecycleCounts struct {
	Created   int
	Updated   int
	Obsoleted int
}

// ReconcileRecommendation merges one SKU's fresh analysis with its current
// active recommendation slot. Exactly one of three things happens:
//
//   - no active slot, actionable bucket: CREATE a Pending record;
//   - active slot with the same bucket: UPDATE it in place, flipping a
//     previously Accepted feedback status to Updated ("still valid, numbers
//     refreshed") while leaving any other user feedback alone;
//   - active slot with a different bucket: mark it Obsolete (terminal) and,
//     when the new bucket is actionable, CREATE a fresh record.
//
// Monitor SKUs with no active slot write nothing at all: healthy SKUs do not
// occupy rows. Must run inside the caller's transaction.
func ReconcileRecommendation(tx *gorm.DB, storeId string, runId uint, item *SkuAnalysis, counts *LifecycleCounts) error {
	prev := item.Previous
	action := item.Metrics.Action

	if prev == nil {
		if action == models.ActionTypeMonitor {
			return nil
		}
		record := buildRecommendation(storeId, runId, item)
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		counts.Created++
		return nil
	}

	if prev.Action == action {
		updates := recommendationUpdates(runId, item)
		if prev.FeedbackStatus == models.FeedbackStatusAccepted {
			updates["feedback_status"] = models.FeedbackStatusUpdated
		}
		if err := tx.Model(&models.Recommendation{}).
			Where("id = ? AND feedback_status <> ?", prev.ID, models.FeedbackStatusObsolete).
			Updates(updates).Error; err != nil {
			return err
		}
		counts.Updated++
		return nil
	}

	// Bucket changed (possibly to Monitor): retire the old slot for good.
	if err := tx.Model(&models.Recommendation{}).
		Where("id = ?", prev.ID).
		Update("feedback_status", models.FeedbackStatusObsolete).Error; err != nil {
		return err
	}
	counts.Obsoleted++

	if action == models.ActionTypeMonitor {
		return nil
	}
	record := buildRecommendation(storeId, runId, item)
	if err := tx.Create(record).Error; err != nil {
		return err
	}
	counts.Created++
	return nil
}

func buildRecommendation(storeId string, runId uint, item *SkuAnalysis) *models.Recommendation {
	m := item.Metrics
	r := item.Reasoning
	return &models.Recommendation{
		StoreId:   storeId,
		ProductId: item.Product.ID,
		RunId:     runId,

		Action:         m.Action,
		CurrentQty:     item.Product.CurrentQty,
		RecommendedQty: m.RecommendedQty,

		DaysOfCover:      m.DaysOfCover,
		SafetyStock:      m.SafetyStock,
		ProtectionWindow: m.ProtectionWindow,
		VariabilityCoeff: m.CV,
		Ads7:             m.Ads7,
		Ads14:            m.Ads14,
		Ads30:            m.Ads30,
		WeightedAds:      m.WeightedAds,
		ConfidenceTier:   m.Confidence,
		ReorderPoint:     m.ReorderPoint,

		Urgent:               m.Urgent,
		PotentialLostRevenue: m.PotentialLostRevenue,

		Justification:   r.Reason,
		Priority:        r.Priority,
		FeedbackStatus:  models.FeedbackStatusPending,
		ReasoningStatus: item.ReasoningStatus,
	}
}

func recommendationUpdates(runId uint, item *SkuAnalysis) map[string]interface{} {
	m := item.Metrics
	r := item.Reasoning
	return map[string]interface{}{
		"run_id":                 runId,
		"current_qty":            item.Product.CurrentQty,
		"recommended_qty":        m.RecommendedQty,
		"days_of_cover":          m.DaysOfCover,
		"safety_stock":           m.SafetyStock,
		"protection_window":      m.ProtectionWindow,
		"variability_coeff":      m.CV,
		"ads_7":                  m.Ads7,
		"ads_14":                 m.Ads14,
		"ads_30":                 m.Ads30,
		"weighted_ads":           m.WeightedAds,
		"confidence_tier":        m.Confidence,
		"reorder_point":          m.ReorderPoint,
		"urgent":                 m.Urgent,
		"potential_lost_revenue": m.PotentialLostRevenue,
		"justification":          r.Reason,
		"priority":               r.Priority,
		"reasoning_status":       item.ReasoningStatus,
	}
}
