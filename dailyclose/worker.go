package dailyclose

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/engine"
	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/mmdatafocus/inventory_backend/models/reports"
	"github.com/mmdatafocus/inventory_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const handlerName = "DAILY_CLOSE"

var ErrMessageInProgress = errors.New("message is being processed by another worker")

// Worker turns daily-close deliveries into engine runs. Pub/Sub delivery is
// at-least-once, so every message is deduped through a durable idempotency key
// before the orchestrator sees it.
type Worker struct {
	orchestrator *engine.Orchestrator
}

func NewWorker(orchestrator *engine.Orchestrator) *Worker {
	return &Worker{orchestrator: orchestrator}
}

func (w *Worker) ProcessMessage(ctx context.Context, messageId string, payload DailyClosePayload) error {
	logger := config.GetLogger()
	db := config.GetDB()
	ctx = utils.SetStoreIdInContext(ctx, payload.StoreId)

	if messageId != "" {
		skip, err := beginIdempotency(db, payload.StoreId, messageId)
		if err != nil {
			return err
		}
		if skip {
			logger.WithFields(logrus.Fields{
				"module":    "dailyclose",
				"storeId":   payload.StoreId,
				"messageId": messageId,
			}).Info("duplicate daily-close delivery skipped")
			return nil
		}
	}

	err := w.process(ctx, payload)

	if messageId != "" {
		if err != nil {
			_ = markIdempotencyFailed(db, payload.StoreId, messageId, err)
		} else {
			_ = markIdempotencySucceeded(db, payload.StoreId, messageId)
		}
	}
	return err
}

func (w *Worker) process(ctx context.Context, payload DailyClosePayload) error {
	event := payload.Event
	if event == "" {
		event = models.TriggerEventDailyClose
	}

	skuIds := utils.UniqueSlice(payload.SkuIds)
	if len(skuIds) == 0 {
		var err error
		skuIds, err = models.GetActiveProductIds(ctx, payload.StoreId)
		if err != nil {
			return err
		}
	}

	run, err := w.orchestrator.Process(ctx, engine.RunRequest{
		StoreId:        payload.StoreId,
		SkuIds:         skuIds,
		Trigger:        event,
		CorrelationId:  payload.CorrelationId,
		RegionalSignal: payload.RegionalSignal,
	})
	if errors.Is(err, engine.ErrRunInProgress) {
		// Another instance already owns this store's run; ack the message.
		return nil
	}
	if err == nil && run != nil {
		// Best-effort cache for the latest-run endpoint; the DB stays the
		// source of truth.
		_ = config.SetRedisObject(LastRunCacheKey(payload.StoreId), run, 48*time.Hour)

		// Nightly snapshot of the live recommendation set, when a bucket is
		// configured. Failures never fail the run.
		if strings.TrimSpace(os.Getenv("GCS_BUCKET")) != "" {
			if snapErr := reports.SnapshotRecommendationsToGCS(ctx, payload.StoreId); snapErr != nil {
				config.LogError(config.GetLogger(), "dailyclose", "process", "snapshot to gcs", map[string]interface{}{
					"storeId": payload.StoreId,
				}, snapErr)
			}
		}
	}
	return err
}

// LastRunCacheKey is where the most recent finalized run for a store is cached.
func LastRunCacheKey(storeId string) string {
	return "engine:lastrun:" + storeId
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// beginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil)
// meaning "skip safely".
func beginIdempotency(db *gorm.DB, storeId, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		StoreId:     storeId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := db.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := db.Where("store_id = ? AND handler_name = ? AND message_id = ?", storeId, handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// If another worker is currently processing, ask Pub/Sub to retry.
		// If it's stale, let it retry by reusing same row (set STARTED again).
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, ErrMessageInProgress
		}
		fallthrough
	default:
		return false, db.Model(&models.IdempotencyKey{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
	}
}

func markIdempotencySucceeded(db *gorm.DB, storeId, messageId string) error {
	return db.Model(&models.IdempotencyKey{}).
		Where("store_id = ? AND handler_name = ? AND message_id = ?", storeId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func markIdempotencyFailed(db *gorm.DB, storeId, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return db.Model(&models.IdempotencyKey{}).
		Where("store_id = ? AND handler_name = ? AND message_id = ?", storeId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
