package dailyclose

import "github.com/mmdatafocus/inventory_backend/models"

// DailyClosePayload is the one event the decision engine acts on. The POS side
// publishes it once per store per day after close-of-business; it carries the
// SKUs to evaluate (empty means all active SKUs).
type DailyClosePayload struct {
	StoreId        string              `json:"store_id"`
	Event          models.TriggerEvent `json:"event"`
	SkuIds         []int               `json:"sku_ids"`
	ClosedDate     string              `json:"closed_date"`
	CorrelationId  string              `json:"correlation_id"`
	RegionalSignal string              `json:"regional_signal"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
