package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/mmdatafocus/inventory_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("inventory-engine")

// ErrRunInProgress means another run currently holds the store's run guard.
// Runs for the same store are serialized; the caller should retry later.
var ErrRunInProgress = errors.New("an engine run is already in progress for this store")

// runLockTTL bounds how long a crashed run can keep a store locked.
const runLockTTL = 15 * time.Minute

// RunRequest is one orchestration invocation.
type RunRequest struct {
	StoreId        string
	SkuIds         []int
	Trigger        models.TriggerEvent
	CorrelationId  string
	RegionalSignal string
}

// Orchestrator drives the full decision pipeline for one store as an atomic,
// idempotent run: outcome sweep, per-SKU metrics, reasoning gate, lifecycle
// reconcile, run bookkeeping. It only ever fires on the daily-close event;
// every other trigger is logged and dropped so recommendation churn stays
// bounded to one batch per day.
type Orchestrator struct {
	reasoner Reasoner
	template TemplateReasoner
	selector ReasoningSelector
	params   config.EngineParams
}

func NewOrchestrator(reasoner Reasoner) *Orchestrator {
	params := config.GetEngineParams()
	return &Orchestrator{
		reasoner: reasoner,
		selector: ReasoningSelector{Cap: params.ReasoningCap},
		params:   params,
	}
}

// Process runs the pipeline. It returns the finalized run record, or (nil,
// nil) when the trigger is not daily-close. Per-SKU failures are counted, not
// fatal; a failure during setup, the outcome sweep, or the persistence
// transaction fails the whole run.
func (o *Orchestrator) Process(ctx context.Context, req RunRequest) (*models.AnalysisRun, error) {
	logger := config.GetLogger()

	if req.Trigger != models.TriggerEventDailyClose {
		logger.WithFields(logrus.Fields{
			"module":  "engine",
			"storeId": req.StoreId,
			"trigger": req.Trigger,
		}).Info("ignoring non-daily-close trigger")
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "engine.Process")
	defer span.End()

	release, err := o.acquireRunGuard(ctx, req.StoreId)
	if err != nil {
		return nil, err
	}
	defer release()

	correlationId := req.CorrelationId
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	ctx = utils.SetCorrelationIdInContext(utils.SetStoreIdInContext(ctx, req.StoreId), correlationId)

	run, err := models.CreateAnalysisRun(ctx, req.StoreId, req.Trigger, correlationId)
	if err != nil {
		return nil, err
	}
	actor, _ := utils.GetUserNameFromContext(ctx)
	logger.WithFields(logrus.Fields{
		"module":  "engine",
		"storeId": req.StoreId,
		"runId":   run.ID,
		"actor":   actor,
	}).Info("engine run started")

	totals, runErr := o.execute(ctx, req, run)

	status := models.RunStatusCompleted
	errorMessage := ""
	if runErr != nil {
		status = models.RunStatusFailed
		errorMessage = runErr.Error()
		config.LogError(logger, "engine", "Process", "run failed", map[string]interface{}{
			"storeId": req.StoreId, "runId": run.ID,
		}, runErr)
	}
	if err := models.FinalizeAnalysisRun(ctx, run.ID, status, totals, errorMessage); err != nil {
		config.LogError(logger, "engine", "Process", "finalize run", map[string]interface{}{
			"storeId": req.StoreId, "runId": run.ID,
		}, err)
	}

	finalized, err := o.reloadRun(ctx, run.ID)
	if err != nil {
		return run, runErr
	}
	return finalized, runErr
}

func (o *Orchestrator) execute(ctx context.Context, req RunRequest, run *models.AnalysisRun) (models.RunTotals, error) {
	logger := config.GetLogger()
	db := config.GetDB()
	totals := models.RunTotals{SkusSeen: len(req.SkuIds)}

	// Outcome sweep first, over the previous run's recommendations, before
	// any of them can be superseded below.
	err := db.Transaction(func(tx *gorm.DB) error {
		resolved, err := ResolveOutcomes(tx, req.StoreId, o.params)
		totals.OutcomesResolved = resolved
		return err
	})
	if err != nil {
		return totals, fmt.Errorf("outcome sweep: %w", err)
	}

	active, err := models.GetActiveRecommendations(ctx, req.StoreId)
	if err != nil {
		return totals, fmt.Errorf("load active recommendations: %w", err)
	}

	asOf := time.Now()
	var analyses []*SkuAnalysis
	for _, productId := range req.SkuIds {
		analysis, err := o.analyzeSku(ctx, req.StoreId, productId, asOf, active[productId])
		if err != nil {
			totals.SkusFailed++
			config.LogError(logger, "engine", "analyzeSku", "skipping SKU", map[string]interface{}{
				"storeId": req.StoreId, "productId": productId,
			}, err)
			continue
		}
		totals.SkusAnalyzed++
		analyses = append(analyses, analysis)
	}

	o.selector.Select(analyses)
	o.justify(ctx, analyses, req.RegionalSignal, &totals)

	// One transaction per run: a crash leaves either the old recommendation
	// set or the new one, never a partial mix.
	var counts LifecycleCounts
	err = db.Transaction(func(tx *gorm.DB) error {
		var forcedIds []int
		for _, analysis := range analyses {
			if err := ReconcileRecommendation(tx, req.StoreId, run.ID, analysis, &counts); err != nil {
				return err
			}
			if utils.DereferencePtr(analysis.Product.ForceReanalysis) {
				forcedIds = append(forcedIds, analysis.Product.ID)
			}
		}
		if len(forcedIds) > 0 {
			if err := tx.Model(&models.Product{}).
				Where("store_id = ? AND id IN ?", req.StoreId, forcedIds).
				Update("force_reanalysis", utils.NewFalse()).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return totals, fmt.Errorf("persist recommendations: %w", err)
	}

	totals.RecommendationsMade = counts.Created + counts.Updated
	return totals, nil
}

func (o *Orchestrator) analyzeSku(ctx context.Context, storeId string, productId int, asOf time.Time, previous *models.Recommendation) (*SkuAnalysis, error) {
	product, err := models.GetProduct(ctx, storeId, productId)
	if err != nil {
		return nil, err
	}
	sales, err := models.GetTrailingSales(ctx, storeId, productId, asOf, SalesWindowDays)
	if err != nil {
		return nil, err
	}

	metrics := CalculateMetrics(SkuState{Product: product, Sales: sales, AsOf: asOf}, o.params)
	return &SkuAnalysis{
		Product:  product,
		Metrics:  metrics,
		Previous: previous,
	}, nil
}

// justify fills in the justification for every SKU that will produce a write.
// AI reasoning only for the selector's picks; a failed or slow AI call
// degrades that one SKU to the template, never the run.
func (o *Orchestrator) justify(ctx context.Context, analyses []*SkuAnalysis, regionalSignal string, totals *models.RunTotals) {
	logger := config.GetLogger()
	reasoningEnabled := o.reasoner != nil && config.EnableReasoning()

	for _, analysis := range analyses {
		if analysis.Metrics.Action == models.ActionTypeMonitor {
			// Monitor writes no new record; at most it obsoletes an old one.
			continue
		}

		rc := ReasoningContext{
			Product:        analysis.Product,
			Metrics:        analysis.Metrics,
			Previous:       analysis.Previous,
			RegionalSignal: regionalSignal,
		}

		if analysis.AllowReasoning && reasoningEnabled {
			totals.ReasoningCalls++
			result, err := o.reasoner.Reason(ctx, rc)
			if err == nil {
				analysis.Reasoning = result
				analysis.ReasoningStatus = models.ReasoningStatusComplete
				continue
			}
			totals.ReasoningFallbacks++
			config.LogError(logger, "engine", "justify", "reasoning fallback", map[string]interface{}{
				"productId": analysis.Product.ID,
			}, err)
			analysis.Reasoning, _ = o.template.Reason(ctx, rc)
			analysis.ReasoningStatus = models.ReasoningStatusFallbackUsed
			continue
		}

		analysis.Reasoning, _ = o.template.Reason(ctx, rc)
		analysis.ReasoningStatus = models.ReasoningStatusNotRequested
	}
}

// acquireRunGuard serializes runs per store across instances. Runs for
// different stores proceed in parallel.
func (o *Orchestrator) acquireRunGuard(ctx context.Context, storeId string) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		// No Redis (tests, local tooling): single-process only.
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, "engine:run:"+storeId, runLockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_ = lock.Release(context.Background())
	}, nil
}

func (o *Orchestrator) reloadRun(ctx context.Context, runId uint) (*models.AnalysisRun, error) {
	db := config.GetDB()
	var run models.AnalysisRun
	if err := db.WithContext(ctx).Where("id = ?", runId).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}
