package dailyclose

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/utils"
)

func topicName() string {
	name := strings.TrimSpace(os.Getenv("DAILY_CLOSE_TOPIC"))
	if name == "" {
		name = "inventory-daily-close"
	}
	return name
}

// EnsureTopology creates the trigger topic, and optionally a pull subscription,
// when DAILY_CLOSE_CREATE_TOPIC is set. Production topology (the push
// subscription pointed at /pubsub) is managed in infra; this is for local
// development and the emulator, where nothing pre-creates resources.
func EnsureTopology(ctx context.Context) error {
	if !envBoolDefault("DAILY_CLOSE_CREATE_TOPIC", false) {
		return nil
	}
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, topicName())
	if err != nil {
		return err
	}
	if sub := strings.TrimSpace(os.Getenv("DAILY_CLOSE_SUBSCRIPTION")); sub != "" {
		if _, err := config.CreateSubscriptionIfNotExists(client, sub, topic); err != nil {
			return err
		}
	}
	return nil
}

// PublishDailyClose publishes the trigger event and returns the Pub/Sub
// message id.
func PublishDailyClose(ctx context.Context, payload DailyClosePayload) (string, error) {
	if err := EnsureTopology(ctx); err != nil {
		return "", err
	}
	return config.PublishJSON(ctx, topicName(), payload)
}

// PubSubPushHandler receives Pub/Sub push deliveries of trigger events.
// Malformed envelopes are acked (204) rather than retried forever; processing
// errors return 500 so Pub/Sub redelivers, which is safe because the worker
// dedupes by message id.
func PubSubPushHandler(worker *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var payload DailyClosePayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if payload.StoreId == "" {
			c.Status(http.StatusNoContent)
			return
		}

		// Event-driven work runs as the system actor.
		ctx := utils.SetUserIdInContext(c.Request.Context(), 0)
		ctx = utils.SetUserNameInContext(ctx, "System")
		if err := worker.ProcessMessage(ctx, envelope.Message.ID, payload); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
