package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/inventory_backend/config"
	"gorm.io/gorm"
)

// AnalysisRun is the unit of idempotency and observability for the decision
// engine. One row per orchestration invocation; finalized exactly once and
// never mutated afterwards.
type AnalysisRun struct {
	ID            uint         `gorm:"primary_key" json:"id"`
	StoreId       string       `gorm:"index;size:64;not null" json:"store_id"`
	TriggerEvent  TriggerEvent `gorm:"size:50;not null" json:"trigger_event"`
	CorrelationId string       `gorm:"size:64" json:"correlation_id"`
	Status        RunStatus    `gorm:"type:enum('Running','Completed','Failed');default:'Running';index" json:"status"`

	SkusSeen             int `gorm:"default:0" json:"skus_seen"`
	SkusAnalyzed         int `gorm:"default:0" json:"skus_analyzed"`
	SkusFailed           int `gorm:"default:0" json:"skus_failed"`
	RecommendationsMade  int `gorm:"default:0" json:"recommendations_made"`
	OutcomesResolved     int `gorm:"default:0" json:"outcomes_resolved"`
	ReasoningCalls       int `gorm:"default:0" json:"reasoning_calls"`
	ReasoningFallbacks   int `gorm:"default:0" json:"reasoning_fallbacks"`

	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type RunTotals struct {
	SkusSeen            int
	SkusAnalyzed        int
	SkusFailed          int
	RecommendationsMade int
	OutcomesResolved    int
	ReasoningCalls      int
	ReasoningFallbacks  int
}

func CreateAnalysisRun(ctx context.Context, storeId string, trigger TriggerEvent, correlationId string) (*AnalysisRun, error) {
	db := config.GetDB()
	run := AnalysisRun{
		StoreId:       storeId,
		TriggerEvent:  trigger,
		CorrelationId: correlationId,
		Status:        RunStatusRunning,
		StartedAt:     time.Now(),
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// FinalizeAnalysisRun moves a run to its terminal state. Guarded so a run row
// can only leave Running once.
func FinalizeAnalysisRun(ctx context.Context, runId uint, status RunStatus, totals RunTotals, errorMessage string) error {
	if status != RunStatusCompleted && status != RunStatusFailed {
		return gorm.ErrInvalidValue
	}
	db := config.GetDB()
	now := time.Now()
	result := db.WithContext(ctx).Model(&AnalysisRun{}).
		Where("id = ? AND status = ?", runId, RunStatusRunning).
		Updates(map[string]interface{}{
			"status":               status,
			"skus_seen":            totals.SkusSeen,
			"skus_analyzed":        totals.SkusAnalyzed,
			"skus_failed":          totals.SkusFailed,
			"recommendations_made": totals.RecommendationsMade,
			"outcomes_resolved":    totals.OutcomesResolved,
			"reasoning_calls":      totals.ReasoningCalls,
			"reasoning_fallbacks":  totals.ReasoningFallbacks,
			"error_message":        errorMessage,
			"finished_at":          &now,
		})
	if result.Error != nil {
		return result.Error
	}
	return nil
}

func ListAnalysisRuns(ctx context.Context, storeId string, limit int) ([]*AnalysisRun, error) {
	db := config.GetDB()
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []*AnalysisRun
	if err := db.WithContext(ctx).
		Where("store_id = ?", storeId).
		Order("id DESC").Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
