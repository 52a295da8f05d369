package amosync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SyncPubSubPayload is the trigger message for one queued run.
type SyncPubSubPayload struct {
	RunId          uint `json:"run_id"`
	AmoAccountId   uint `json:"amo_account_id"`
	BazonAccountId uint `json:"bazon_account_id"`
}

// PubSubPushEnvelope is the push-subscription wrapper Google delivers.
type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PublishSyncRun hands a queued run to the sync topic. The push endpoint
// picks it up, so a manual trigger returns immediately.
func PublishSyncRun(ctx context.Context, run *models.SyncRun) error {
	topicName := strings.TrimSpace(os.Getenv("AMO_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "amo-bazon-sync"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("AMO_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	payload := SyncPubSubPayload{
		RunId:          run.ID,
		AmoAccountId:   run.AmoAccountId,
		BazonAccountId: run.BazonAccountId,
	}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// errRunInFlight reports that a run for the same account pair is already
// active, so the queued row cannot be executed right now.
var errRunInFlight = errors.New("sync run pair already in flight")

// PubSubPushHandler executes queued runs delivered by the push
// subscription. Malformed deliveries are acked with 204 so they are not
// redelivered forever; a pair-busy run is nacked with 503 so Pub/Sub
// redelivers it once the active run finishes.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_SYNC_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

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

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if payload.RunId == 0 {
			c.Status(http.StatusNoContent)
			return
		}

		if err := processQueuedRun(c.Request.Context(), config.GetDB(), payload); errors.Is(err, errRunInFlight) {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func processQueuedRun(ctx context.Context, db *gorm.DB, payload SyncPubSubPayload) error {
	var run models.SyncRun
	if err := db.Take(&run, payload.RunId).Error; err != nil {
		return err
	}
	switch run.Status {
	case models.SyncRunStatusSuccess, models.SyncRunStatusFailed, models.SyncRunStatusPartial:
		return nil
	}

	if !tryAcquirePair(run.BazonAccountId, run.AmoAccountId) {
		return errRunInFlight
	}
	defer releasePair(run.BazonAccountId, run.AmoAccountId)

	return ExecuteRun(ctx, db, &run)
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
