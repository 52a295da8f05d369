package amosync

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/pubsub/sync", PubSubPushHandler())
	return r
}

func pushSyncEnvelope(t *testing.T, payload SyncPubSubPayload) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	var envelope PubSubPushEnvelope
	envelope.Message.Data = data
	body, err := json.Marshal(envelope)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/pubsub/sync", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	pushRouter().ServeHTTP(w, req)
	return w
}

func TestPushExecutesQueuedRun(t *testing.T) {
	db, amo, bazon := setupWorker(t)
	account, bazonAccount := seedAccounts(t, db)
	bazon.setDocuments(doc501(models.BazonStatusNew))

	run := models.SyncRun{
		AmoAccountId:   account.ID,
		BazonAccountId: bazonAccount.ID,
		Status:         models.SyncRunStatusQueued,
		TriggeredBy:    models.SyncTriggeredManual,
	}
	require.NoError(t, db.Create(&run).Error)

	w := pushSyncEnvelope(t, SyncPubSubPayload{
		RunId:          run.ID,
		AmoAccountId:   account.ID,
		BazonAccountId: bazonAccount.ID,
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, amo.leadCreates, 1)

	var fresh models.SyncRun
	require.NoError(t, db.Take(&fresh, run.ID).Error)
	assert.Equal(t, models.SyncRunStatusSuccess, fresh.Status)
}

func TestPushNacksWhilePairInFlight(t *testing.T) {
	db := setupTestDB(t)
	account, bazonAccount := seedAccounts(t, db)

	run := models.SyncRun{
		AmoAccountId:   account.ID,
		BazonAccountId: bazonAccount.ID,
		Status:         models.SyncRunStatusQueued,
		TriggeredBy:    models.SyncTriggeredManual,
	}
	require.NoError(t, db.Create(&run).Error)

	require.True(t, tryAcquirePair(bazonAccount.ID, account.ID))
	defer releasePair(bazonAccount.ID, account.ID)

	w := pushSyncEnvelope(t, SyncPubSubPayload{RunId: run.ID})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// The row stays queued so the redelivered message can still execute it.
	var fresh models.SyncRun
	require.NoError(t, db.Take(&fresh, run.ID).Error)
	assert.Equal(t, models.SyncRunStatusQueued, fresh.Status)
}

func TestPushAcksTerminalRun(t *testing.T) {
	db := setupTestDB(t)
	account, bazonAccount := seedAccounts(t, db)

	run := models.SyncRun{
		AmoAccountId:   account.ID,
		BazonAccountId: bazonAccount.ID,
		Status:         models.SyncRunStatusSuccess,
		TriggeredBy:    models.SyncTriggeredManual,
	}
	require.NoError(t, db.Create(&run).Error)

	w := pushSyncEnvelope(t, SyncPubSubPayload{RunId: run.ID})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestPushAcksMalformedDelivery(t *testing.T) {
	setupTestDB(t)

	req := httptest.NewRequest(http.MethodPost, "/pubsub/sync", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	pushRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
