package amosync

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postWebhook(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/amo-webhook", WebhookHandler())

	req := httptest.NewRequest(http.MethodPost, "/amo-webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookAcksUnmappedStatusWithoutTouchingBazon(t *testing.T) {
	db := setupTestDB(t)
	seedAccounts(t, db)
	// No status mapping seeded and no fake Bazon running: any outbound
	// call would fail the test through the error path.

	form := url.Values{}
	form.Set("account[subdomain]", "tenant")
	form.Set("leads[status][0][id]", "9001")
	form.Set("leads[status][0][status_id]", "100")

	w := postWebhook(t, form)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"Status":"Good"}`, w.Body.String())
}

func TestWebhookAcksMalformedBody(t *testing.T) {
	db := setupTestDB(t)
	seedAccounts(t, db)

	form := url.Values{}
	form.Set("unrelated", "x")

	w := postWebhook(t, form)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"Status":"Good"}`, w.Body.String())
}

func TestWebhookResolvesMappedStatusForMirroredLead(t *testing.T) {
	db := setupTestDB(t)
	account, bazonAccount := seedAccounts(t, db)

	leadId := int64(9001)
	require.NoError(t, db.Create(&models.SaleDocument{
		BazonAccountId: bazonAccount.ID,
		AmoAccountId:   account.ID,
		InternalId:     501,
		Number:         "501",
		Status:         models.BazonStatusNew,
		AmoLeadId:      &leadId,
	}).Error)
	require.NoError(t, db.Create(&models.StatusMapping{
		AmoAccountId: account.ID, PipelineId: 11, AmoId: 101,
		Name: "Issued", BazonStatus: models.BazonStatusIssued,
	}).Error)

	form := url.Values{}
	form.Set("account[subdomain]", "tenant")
	form.Set("leads[status][0][id]", "9001")
	form.Set("leads[status][0][status_id]", "101")

	w := postWebhook(t, form)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"Status":"Good"}`, w.Body.String())

	// The transition is log-only: the mirror is untouched until the
	// polling loop confirms it from the Bazon side.
	mirror, err := models.FindSaleDocumentByLead(db, account.ID, leadId)
	require.NoError(t, err)
	assert.Equal(t, models.BazonStatusNew, mirror.Status)
}
