package amosync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMappingAmoServer(t *testing.T, pipelines, users string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/leads/pipelines", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pipelines))
	})
	mux.HandleFunc("/api/v4/users", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(users))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Setenv("AMO_API_BASE_URL", server.URL)
}

func TestRefreshStatusesIsFullReplaceButKeepsOperatorAssignment(t *testing.T) {
	db := setupTestDB(t)
	account, _ := seedAccounts(t, db)

	// Operator already mapped status 100; status 9 no longer exists in Amo.
	require.NoError(t, db.Create(&models.StatusMapping{
		AmoAccountId: account.ID, PipelineId: 11, AmoId: 100,
		Name: "Old name", BazonStatus: models.BazonStatusNew,
	}).Error)
	require.NoError(t, db.Create(&models.StatusMapping{
		AmoAccountId: account.ID, PipelineId: 11, AmoId: 9,
		Name: "Stale", BazonStatus: models.BazonStatusWork,
	}).Error)

	newMappingAmoServer(t, `{"_embedded":{"pipelines":[
		{"id":11,"name":"Sales","_embedded":{"statuses":[
			{"id":100,"name":"New","pipeline_id":11},
			{"id":101,"name":"Won","pipeline_id":11}
		]}}
	]}}`, `{"_embedded":{"users":[]}}`)

	amo := amoClientFor(account)
	require.NoError(t, RefreshStatuses(context.Background(), db, account, amo))

	var rows []models.StatusMapping
	require.NoError(t, db.Where("amo_account_id = ?", account.ID).Order("amo_id").Find(&rows).Error)
	require.Len(t, rows, 2)

	// 100 kept its operator assignment, got the fresh name.
	assert.Equal(t, 100, rows[0].AmoId)
	assert.Equal(t, "New", rows[0].Name)
	assert.Equal(t, models.BazonStatusNew, rows[0].BazonStatus)

	// 101 is new and unassigned.
	assert.Equal(t, 101, rows[1].AmoId)
	assert.Empty(t, rows[1].BazonStatus)
}

func TestRefreshManagersDeletesStaleRows(t *testing.T) {
	db := setupTestDB(t)
	account, _ := seedAccounts(t, db)

	require.NoError(t, db.Create(&models.ManagerMapping{
		AmoAccountId: account.ID, AmoId: 42, Name: "Petrov", BazonId: 3,
	}).Error)
	require.NoError(t, db.Create(&models.ManagerMapping{
		AmoAccountId: account.ID, AmoId: 9, Name: "Gone", BazonId: 5,
	}).Error)

	newMappingAmoServer(t, `{"_embedded":{"pipelines":[]}}`,
		`{"_embedded":{"users":[{"id":42,"name":"Petrov P."}]}}`)

	amo := amoClientFor(account)
	require.NoError(t, RefreshManagers(context.Background(), db, account, amo))

	var rows []models.ManagerMapping
	require.NoError(t, db.Where("amo_account_id = ?", account.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, 42, rows[0].AmoId)
	assert.Equal(t, "Petrov P.", rows[0].Name)
	assert.Equal(t, 3, rows[0].BazonId)
}
