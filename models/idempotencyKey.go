package models

import "time"

// IdempotencyKey makes at-least-once Pub/Sub delivery safe: the daily-close
// worker records each (store, handler, message) before processing and skips
// redeliveries of work that already succeeded.
type IdempotencyKey struct {
	ID          uint              `gorm:"primary_key" json:"id"`
	StoreId     string            `gorm:"uniqueIndex:idx_idem_key,priority:1;size:64;not null" json:"store_id"`
	HandlerName string            `gorm:"uniqueIndex:idx_idem_key,priority:2;size:50;not null" json:"handler_name"`
	MessageId   string            `gorm:"uniqueIndex:idx_idem_key,priority:3;size:128;not null" json:"message_id"`
	Status      IdempotencyStatus `gorm:"size:20;not null" json:"status"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
