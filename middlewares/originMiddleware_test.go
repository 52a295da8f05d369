package middlewares

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"bitbucket.org/kontrabaz/amobazon_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupOriginTest(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:origin_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.AmoAccount{}, &models.BazonAccount{}))
	config.SetDB(db)
	return db
}

func originRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/probe", OriginMiddleware(), func(c *gin.Context) {
		subdomain, _ := utils.GetSubdomainFromContext(c.Request.Context())
		accountId, _ := utils.GetAmoAccountIdFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"subdomain": subdomain, "account_id": accountId})
	})
	return r
}

func TestOriginResolvesKnownTenant(t *testing.T) {
	db := setupOriginTest(t)
	require.NoError(t, db.Create(&models.AmoAccount{Subdomain: "tenant", Token: "x"}).Error)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Origin", "https://tenant.amocrm.ru")
	w := httptest.NewRecorder()
	originRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subdomain":"tenant"`)
}

func TestOriginUnknownTenantIs404(t *testing.T) {
	setupOriginTest(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Origin", "https://stranger.amocrm.ru")
	w := httptest.NewRecorder()
	originRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOriginMissingHeaderIs404(t *testing.T) {
	setupOriginTest(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	originRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccountCacheEntryKeepsTokenThroughJSON(t *testing.T) {
	account := &models.AmoAccount{
		ID:         3,
		Subdomain:  "tenant",
		Token:      "amo-token",
		FieldsJSON: []byte(`{"bazon_field":77}`),
	}

	// Same round trip SetRedisObject/GetRedisObject perform on a cache hit.
	raw, err := json.Marshal(newAmoAccountCacheEntry(account))
	require.NoError(t, err)
	var cached amoAccountCacheEntry
	require.NoError(t, json.Unmarshal(raw, &cached))

	restored := cached.account()
	assert.Equal(t, "amo-token", restored.Token)
	assert.Equal(t, uint(3), restored.ID)
	assert.Equal(t, "tenant", restored.Subdomain)
	assert.Equal(t, 77, restored.Fields().BazonField)
}

func TestSubdomainExtraction(t *testing.T) {
	cases := map[string]string{
		"https://tenant.amocrm.ru":     "tenant",
		"https://tenant.amocrm.ru:443": "tenant",
		"https://amocrm.ru":            "",
		"not a url ::":                 "",
		"":                             "",
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, subdomainFromRequest(req), "origin %q", origin)
	}
}
