package amosync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AmoAccount{}, &models.BazonAccount{},
		&models.StatusMapping{}, &models.ManagerMapping{},
		&models.SaleDocument{}, &models.Contractor{},
		&models.SyncRun{}, &models.SyncError{},
	))
	config.SetDB(db)
	ResetClients()
	return db
}

// fakeAmo records v4 API traffic and hands out sequential entity ids.
type fakeAmo struct {
	mu           sync.Mutex
	leadCreates  []map[string]any
	leadUpdates  []map[string]any
	contactCount int
	linkCount    int
	nextLeadId   int64
}

func (f *fakeAmo) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/leads/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/link") {
			f.mu.Lock()
			f.linkCount++
			f.mu.Unlock()
			w.Write([]byte(`{}`))
			return
		}
		var lead map[string]any
		json.NewDecoder(r.Body).Decode(&lead)
		f.mu.Lock()
		f.leadUpdates = append(f.leadUpdates, lead)
		f.mu.Unlock()
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/v4/leads", func(w http.ResponseWriter, r *http.Request) {
		var leads []map[string]any
		json.NewDecoder(r.Body).Decode(&leads)
		f.mu.Lock()
		f.leadCreates = append(f.leadCreates, leads[0])
		f.nextLeadId++
		id := 9000 + f.nextLeadId
		f.mu.Unlock()
		fmt.Fprintf(w, `{"_embedded":{"leads":[{"id":%d}]}}`, id)
	})
	mux.HandleFunc("/api/v4/contacts", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.contactCount++
		id := 7000 + f.contactCount
		f.mu.Unlock()
		fmt.Fprintf(w, `{"_embedded":{"contacts":[{"id":%d}]}}`, id)
	})
	return mux
}

// fakeBazon serves the external listing from a mutable document slice.
type fakeBazon struct {
	mu           sync.Mutex
	documents    []map[string]any
	listingCode  int
	refreshCalls int
}

func (f *fakeBazon) setDocuments(docs ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = docs
}

func (f *fakeBazon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/external-api/v1/getSaleDocuments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.listingCode != 0 {
			w.WriteHeader(f.listingCode)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"response": []map[string]any{{"result": map[string]any{"sale_documents": f.documents}}},
		})
	})
	mux.HandleFunc("/refresh/user", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refreshCalls++
		f.mu.Unlock()
		w.Write([]byte(`{"AT":"at-new","RT":"rt-new"}`))
	})
	mux.HandleFunc("/login/user", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"AT":"at-new","RT":"rt-new"}`))
	})
	return mux
}

func seedAccounts(t *testing.T, db *gorm.DB) (*models.AmoAccount, *models.BazonAccount) {
	t.Helper()
	amo := models.AmoAccount{
		Subdomain: "tenant",
		Token:     "amo-token",
		BazonAccounts: []models.BazonAccount{
			{Name: "main", Login: "user", Password: "secret", AccessToken: "at-0", RefreshToken: "rt-0"},
		},
	}
	require.NoError(t, db.Create(&amo).Error)
	return &amo, &amo.BazonAccounts[0]
}

func doc501(status string) map[string]any {
	return map[string]any{
		"id":              501,
		"number":          "501",
		"type":            "sale",
		"status":          status,
		"sum":             "15000.00",
		"storage_id":      1,
		"contractor_id":   7,
		"contractor_name": "Ivanov",
		"manager_id":      3,
		"manager_name":    "Petrov",
	}
}

func setupWorker(t *testing.T) (*gorm.DB, *fakeAmo, *fakeBazon) {
	db := setupTestDB(t)

	amo := &fakeAmo{}
	amoServer := httptest.NewServer(amo.handler())
	t.Cleanup(amoServer.Close)
	t.Setenv("AMO_API_BASE_URL", amoServer.URL)

	bazon := &fakeBazon{}
	bazonServer := httptest.NewServer(bazon.handler())
	t.Cleanup(bazonServer.Close)
	t.Setenv("BAZON_API_BASE_URL", bazonServer.URL)
	t.Setenv("BAZON_AUTH_BASE_URL", bazonServer.URL)

	return db, amo, bazon
}

func TestPollingCreatesLeadForNewDocument(t *testing.T) {
	db, amo, bazon := setupWorker(t)
	account, _ := seedAccounts(t, db)
	require.NoError(t, db.Create(&models.StatusMapping{
		AmoAccountId: account.ID, PipelineId: 11, AmoId: 100,
		Name: "New", BazonStatus: models.BazonStatusNew,
	}).Error)
	require.NoError(t, db.Create(&models.ManagerMapping{
		AmoAccountId: account.ID, AmoId: 42, Name: "Petrov", BazonId: 3,
	}).Error)
	bazon.setDocuments(doc501(models.BazonStatusNew))

	RunSaleDocumentsPolling(context.Background())

	require.Len(t, amo.leadCreates, 1)
	created := amo.leadCreates[0]
	assert.Equal(t, "Сделка с Bazon №501", created["name"])
	assert.Equal(t, float64(15000), created["price"])
	assert.Equal(t, float64(100), created["status_id"])
	assert.Equal(t, float64(11), created["pipeline_id"])
	assert.Equal(t, float64(42), created["responsible_user_id"])

	mirror, err := models.FindSaleDocument(db, account.ID, 501)
	require.NoError(t, err)
	require.NotNil(t, mirror)
	require.NotNil(t, mirror.AmoLeadId)
	assert.Equal(t, int64(9001), *mirror.AmoLeadId)
	assert.True(t, mirror.Sum.Equal(decimal.NewFromInt(15000)))

	contractor, err := models.FindContractor(db, account.ID, 7)
	require.NoError(t, err)
	require.NotNil(t, contractor)
	require.NotNil(t, contractor.AmoContactId)
	assert.Equal(t, 1, amo.linkCount)

	var run models.SyncRun
	require.NoError(t, db.Order("id desc").Take(&run).Error)
	assert.Equal(t, models.SyncRunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.RecordsSynced)
	assert.Equal(t, models.SyncTriggeredSystem, run.TriggeredBy)
}

func TestPollingIsIdempotentWhenNothingChanged(t *testing.T) {
	db, amo, bazon := setupWorker(t)
	seedAccounts(t, db)
	bazon.setDocuments(doc501(models.BazonStatusNew))

	RunSaleDocumentsPolling(context.Background())
	require.Len(t, amo.leadCreates, 1)

	RunSaleDocumentsPolling(context.Background())

	assert.Len(t, amo.leadCreates, 1)
	assert.Empty(t, amo.leadUpdates)

	var run models.SyncRun
	require.NoError(t, db.Order("id desc").Take(&run).Error)
	assert.Equal(t, models.SyncRunStatusSuccess, run.Status)
	assert.Equal(t, 0, run.RecordsSynced)
}

func TestPollingPushesStatusChangeAsSingleUpdate(t *testing.T) {
	db, amo, bazon := setupWorker(t)
	account, _ := seedAccounts(t, db)
	require.NoError(t, db.Create(&models.StatusMapping{
		AmoAccountId: account.ID, PipelineId: 11, AmoId: 101,
		Name: "Issued", BazonStatus: models.BazonStatusIssued,
	}).Error)
	bazon.setDocuments(doc501(models.BazonStatusNew))

	RunSaleDocumentsPolling(context.Background())
	bazon.setDocuments(doc501(models.BazonStatusIssued))
	RunSaleDocumentsPolling(context.Background())

	require.Len(t, amo.leadUpdates, 1)
	assert.Equal(t, float64(101), amo.leadUpdates[0]["status_id"])

	mirror, err := models.FindSaleDocument(db, account.ID, 501)
	require.NoError(t, err)
	assert.Equal(t, models.BazonStatusIssued, mirror.Status)
}

func TestFailedListingRefreshesCredentialsAndAbortsRun(t *testing.T) {
	db, amo, bazon := setupWorker(t)
	_, bazonAccount := seedAccounts(t, db)
	bazon.listingCode = http.StatusUnauthorized

	RunSaleDocumentsPolling(context.Background())

	assert.Empty(t, amo.leadCreates)
	assert.Equal(t, 1, bazon.refreshCalls)

	var run models.SyncRun
	require.NoError(t, db.Order("id desc").Take(&run).Error)
	assert.Equal(t, models.SyncRunStatusFailed, run.Status)

	// The refreshed pair is persisted on the account row.
	fresh, err := models.FindBazonAccount(db, bazonAccount.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-new", fresh.AccessToken)
}

func TestPerDocumentFailureIsRecordedAndLoopContinues(t *testing.T) {
	db, amo, bazon := setupWorker(t)
	account, _ := seedAccounts(t, db)

	bad := doc501(models.BazonStatusNew)
	good := map[string]any{
		"id": 502, "number": "502", "type": "sale",
		"status": models.BazonStatusWork, "sum": "99.50",
	}
	bazon.setDocuments(bad, good)

	// The fake rejects the first create only.
	rejected := false
	amoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v4/leads" && !rejected {
			rejected = true
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"title":"validation failed"}`))
			return
		}
		amo.handler().ServeHTTP(w, r)
	}))
	t.Cleanup(amoServer.Close)
	t.Setenv("AMO_API_BASE_URL", amoServer.URL)

	RunSaleDocumentsPolling(context.Background())

	mirror, err := models.FindSaleDocument(db, account.ID, 502)
	require.NoError(t, err)
	require.NotNil(t, mirror, "second document should still be mirrored")

	var run models.SyncRun
	require.NoError(t, db.Order("id desc").Take(&run).Error)
	assert.Equal(t, models.SyncRunStatusPartial, run.Status)
	assert.Equal(t, 1, run.ErrorCount)

	var syncErr models.SyncError
	require.NoError(t, db.Where("sync_run_id = ?", run.ID).Take(&syncErr).Error)
	assert.Equal(t, "sale_document", syncErr.EntityType)
	assert.Equal(t, "501", syncErr.ExternalId)
}
