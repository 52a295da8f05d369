package middlewares

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"bitbucket.org/kontrabaz/amobazon_backend/utils"
	"github.com/gin-gonic/gin"
)

// OriginMiddleware resolves the calling Amo tenant from the Origin header
// the iframe widget sends ("https://{subdomain}.amocrm.ru"). Unknown
// origins get 404 so the widget cannot probe which tenants exist.
func OriginMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		subdomain := subdomainFromRequest(c.Request)
		if subdomain == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown origin"})
			c.Abort()
			return
		}

		account, err := lookupAccount(subdomain)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown origin"})
			c.Abort()
			return
		}

		c.Set("amoAccount", account)
		ctx := utils.SetSubdomainInContext(c.Request.Context(), subdomain)
		ctx = utils.SetAmoAccountIdInContext(ctx, account.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func subdomainFromRequest(r *http.Request) string {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return ""
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := parsed.Hostname()
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	return labels[0]
}

// amoAccountCacheEntry is the cache shape for tenant resolution. AmoAccount
// hides Token behind json:"-", so the row itself cannot round-trip through
// the JSON object cache without losing the bearer token.
type amoAccountCacheEntry struct {
	ID         uint   `json:"id"`
	Subdomain  string `json:"subdomain"`
	Token      string `json:"token"`
	FieldsJSON []byte `json:"fields_json"`
}

func newAmoAccountCacheEntry(account *models.AmoAccount) amoAccountCacheEntry {
	return amoAccountCacheEntry{
		ID:         account.ID,
		Subdomain:  account.Subdomain,
		Token:      account.Token,
		FieldsJSON: account.FieldsJSON,
	}
}

func (e amoAccountCacheEntry) account() *models.AmoAccount {
	return &models.AmoAccount{
		ID:         e.ID,
		Subdomain:  e.Subdomain,
		Token:      e.Token,
		FieldsJSON: e.FieldsJSON,
	}
}

// lookupAccount caches the subdomain -> account resolution for a minute so
// every widget request does not hit the accounts table.
func lookupAccount(subdomain string) (*models.AmoAccount, error) {
	cacheKey := "amo-account:" + subdomain

	var cached amoAccountCacheEntry
	if found, err := config.GetRedisObject(cacheKey, &cached); err == nil && found && cached.ID != 0 {
		return cached.account(), nil
	}

	account, err := models.FindAmoAccountBySubdomain(config.GetDB(), subdomain)
	if err != nil || account == nil {
		return account, err
	}
	_ = config.SetRedisObject(cacheKey, newAmoAccountCacheEntry(account), time.Minute)
	return account, nil
}
