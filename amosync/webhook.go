package amosync

import (
	"strconv"

	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WebhookHandler receives Amo's form-encoded lead webhooks. Amo retries
// aggressively and disables the hook after repeated failures, so the
// handler acks 200 {"Status":"Good"} no matter what it managed to do with
// the payload.
//
// Status changes are resolved through the status mapping; the resulting
// Bazon transition is currently logged rather than pushed. Moving a real
// document on a CRM drag needs an idempotency guard against the polling
// loop first (the poll would immediately push the same transition back).
func WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		db := config.GetDB()

		if err := c.Request.ParseForm(); err != nil {
			c.JSON(200, gin.H{"Status": "Good"})
			return
		}
		form := c.Request.PostForm

		// Amo encodes nested arrays as bracketed keys with a single
		// element: leads[status][0][id], leads[status][0][status_id].
		leadIdRaw := form.Get("leads[status][0][id]")
		statusIdRaw := form.Get("leads[status][0][status_id]")
		if leadIdRaw == "" {
			leadIdRaw = form.Get("leads[update][0][id]")
			statusIdRaw = form.Get("leads[update][0][status_id]")
		}
		if leadIdRaw == "" || statusIdRaw == "" {
			c.JSON(200, gin.H{"Status": "Good"})
			return
		}

		leadId, err := strconv.ParseInt(leadIdRaw, 10, 64)
		if err != nil {
			c.JSON(200, gin.H{"Status": "Good"})
			return
		}
		statusId, err := strconv.Atoi(statusIdRaw)
		if err != nil {
			c.JSON(200, gin.H{"Status": "Good"})
			return
		}

		account, err := resolveWebhookAccount(c)
		if err != nil || account == nil {
			c.JSON(200, gin.H{"Status": "Good"})
			return
		}

		mapping, err := models.FindStatusByAmoId(db, account.ID, statusId)
		if err != nil {
			config.LogError(logger, "amosync", "WebhookHandler", "status mapping lookup", statusId, err)
			c.JSON(200, gin.H{"Status": "Good"})
			return
		}
		if mapping == nil || mapping.BazonStatus == "" {
			// Unmapped status: nothing to do on the Bazon side.
			c.JSON(200, gin.H{"Status": "Good"})
			return
		}

		doc, err := models.FindSaleDocumentByLead(db, account.ID, leadId)
		if err != nil {
			config.LogError(logger, "amosync", "WebhookHandler", "mirror lookup", leadId, err)
			c.JSON(200, gin.H{"Status": "Good"})
			return
		}
		if doc == nil {
			c.JSON(200, gin.H{"Status": "Good"})
			return
		}

		logger.WithFields(logrus.Fields{
			"module":      "amosync",
			"funcName":    "WebhookHandler",
			"amo_account": account.ID,
			"amo_lead_id": leadId,
			"document":    doc.Number,
			"from_status": doc.Status,
			"to_status":   mapping.BazonStatus,
		}).Info("lead status change received, bazon push pending idempotency guard")

		c.JSON(200, gin.H{"Status": "Good"})
	}
}

// resolveWebhookAccount matches the webhook to a tenant by the account
// subdomain Amo includes in the payload, falling back to the only
// configured tenant when there is exactly one.
func resolveWebhookAccount(c *gin.Context) (*models.AmoAccount, error) {
	db := config.GetDB()

	subdomain := c.Request.PostForm.Get("account[subdomain]")
	if subdomain != "" {
		return models.FindAmoAccountBySubdomain(db, subdomain)
	}

	var accounts []models.AmoAccount
	if err := db.Limit(2).Find(&accounts).Error; err != nil {
		return nil, err
	}
	if len(accounts) == 1 {
		return &accounts[0], nil
	}
	return nil, nil
}
