package models

import (
	"log"

	"github.com/mmdatafocus/inventory_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{}, &DailySale{},
		&Recommendation{}, &AnalysisRun{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
