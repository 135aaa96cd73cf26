package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/dailyclose"
	"github.com/mmdatafocus/inventory_backend/models"
	"github.com/mmdatafocus/inventory_backend/utils"
	"github.com/sirupsen/logrus"
)

// Ops tool: publish a daily-close event for one or more stores. The push
// worker behind the subscription runs the analysis, so manual runs share the
// same idempotency and per-store locking as scheduled ones.
func main() {
	var (
		stores     = flag.String("stores", "", "comma-separated store ids (required)")
		skus       = flag.String("skus", "", "optional comma-separated product ids; empty means all active products")
		closedDate = flag.String("date", "", "business date being closed (YYYY-MM-DD); defaults to today")
		signal     = flag.String("regional-signal", "", "optional regional context passed to reasoning")
		timeout    = flag.Duration("timeout", 30*time.Second, "publish timeout")
	)
	flag.Parse()

	logger := config.GetLogger()

	storeIds := splitAndTrim(*stores)
	if len(storeIds) == 0 {
		logger.Fatal("at least one store id is required (-stores)")
	}

	skuIds, err := parseIntList(*skus)
	if err != nil {
		logger.Fatal("invalid -skus: " + err.Error())
	}

	date := strings.TrimSpace(*closedDate)
	if date == "" {
		// Business dates follow the store timezone, not the host clock.
		today, err := utils.ConvertToDate(time.Now(), os.Getenv("STORE_TIMEZONE"))
		if err != nil {
			logger.Fatal("invalid STORE_TIMEZONE: " + err.Error())
		}
		date = today.Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		logger.Fatal("invalid -date: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	failed := 0
	for _, storeId := range storeIds {
		msgId, err := dailyclose.PublishDailyClose(ctx, dailyclose.DailyClosePayload{
			StoreId:        storeId,
			Event:          models.TriggerEventDailyClose,
			SkuIds:         skuIds,
			ClosedDate:     date,
			CorrelationId:  uuid.NewString(),
			RegionalSignal: strings.TrimSpace(*signal),
		})
		if err != nil {
			failed++
			logger.WithFields(logrus.Fields{
				"store_id": storeId,
			}).Error("publish failed: " + err.Error())
			continue
		}
		logger.WithFields(logrus.Fields{
			"store_id":    storeId,
			"message_id":  msgId,
			"closed_date": date,
		}).Info("daily close published")
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(csv string) ([]int, error) {
	parts := splitAndTrim(csv)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
