package amosync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/kontrabaz/amobazon_backend/bazonapi"
	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Tenant API for the Amo iframe widget. Every route runs behind the origin
// middleware, which resolves the caller's subdomain to an AmoAccount and
// stores it on the gin context. Document routes address Bazon documents by
// the Amo lead id the widget knows about.

var validate = validator.New()

func currentAccount(c *gin.Context) *models.AmoAccount {
	value, ok := c.Get("amoAccount")
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown origin"})
		return nil
	}
	account, ok := value.(*models.AmoAccount)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown origin"})
		return nil
	}
	return account
}

// documentForLead resolves :amo_id to the mirrored document, writing the
// 400/404 response itself when resolution fails.
func documentForLead(c *gin.Context, account *models.AmoAccount) *models.SaleDocument {
	leadId, err := strconv.ParseInt(c.Param("amo_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lead id"})
		return nil
	}
	doc, err := models.FindSaleDocumentByLead(config.GetDB(), account.ID, leadId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown deal"})
		return nil
	}
	return doc
}

// bazonForDocument builds an authenticated client for the account that
// owns the document.
func bazonForDocument(c *gin.Context, doc *models.SaleDocument) *bazonapi.Client {
	db := config.GetDB()
	account, err := models.FindBazonAccount(db, doc.BazonAccountId)
	if err != nil || account == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bazon account missing"})
		return nil
	}
	bz := BazonClientFor(db, account)
	if err := bz.EnsureAuth(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "bazon_api_error"})
		return nil
	}
	return bz
}

// relayBazon forwards an upstream answer to the widget: the original status
// and JSON body when parseable, a 502 otherwise.
func relayBazon(c *gin.Context, resp *bazonapi.Response, err error) {
	if err != nil {
		if errors.Is(err, ErrLockUnavailable) {
			c.JSON(http.StatusForbidden, gin.H{"error": "document_locked"})
			return
		}
		if errors.Is(err, bazonapi.ErrInvalidLock) {
			c.JSON(http.StatusForbidden, gin.H{"error": "document_locked"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "bazon_api_error"})
		return
	}
	if resp == nil || !json.Valid(resp.Body) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "bazon_api_error"})
		return
	}
	c.Data(resp.StatusCode, "application/json", resp.Body)
}

// withLockedDocument wraps a mutation in the advisory document lock and
// relays the result.
func withLockedDocument(c *gin.Context, doc *models.SaleDocument, bz *bazonapi.Client,
	fn func(ctx context.Context, lockKey string) (*bazonapi.Response, error)) {

	ctx := c.Request.Context()
	var resp *bazonapi.Response
	err := WithDocumentLock(ctx, bz, doc.BazonAccountId, doc.InternalId, doc.Number, func(lockKey string) error {
		var innerErr error
		resp, innerErr = fn(ctx, lockKey)
		return innerErr
	})
	relayBazon(c, resp, err)
}

// ---- read endpoints ----

func GetSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		doc := documentForLead(c, account)
		if doc == nil {
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func GetSaleDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		doc := documentForLead(c, account)
		if doc == nil {
			return
		}
		bz := bazonForDocument(c, doc)
		if bz == nil {
			return
		}
		resp, err := bz.GetDetailDocument(c.Request.Context(), doc.Number)
		relayBazon(c, resp, err)
	}
}

type listSalesRequest struct {
	LeadIds []int64 `json:"lead_ids"`
}

func ListSalesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		db := config.GetDB()

		query := db.Where("amo_account_id = ?", account.ID)
		if c.Request.Method == http.MethodPost {
			var req listSalesRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
			if len(req.LeadIds) == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "lead_ids are required"})
				return
			}
			query = query.Where("amo_lead_id IN ?", req.LeadIds)
		}

		var docs []models.SaleDocument
		if err := query.Order("id desc").Limit(200).Find(&docs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sales": docs})
	}
}

func GetItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}

		bz := bazonForItems(c, account)
		if bz == nil {
			return
		}

		query := bazonapi.ItemsQuery{Search: c.Query("search")}
		if storageId, err := strconv.Atoi(c.Query("storage_id")); err == nil && storageId > 0 {
			query.StorageIds = []int{storageId}
		}
		if offset, err := strconv.Atoi(c.Query("offset")); err == nil {
			query.Offset = offset
		}

		resp, err := bz.GetItems(c.Request.Context(), query)
		relayBazon(c, resp, err)
	}
}

// bazonForItems picks the Bazon account for an item search: the one behind
// the addressed lead when it is mirrored, otherwise the tenant's first
// linked account (item search also serves the create-sale form, which has
// no document yet).
func bazonForItems(c *gin.Context, account *models.AmoAccount) *bazonapi.Client {
	db := config.GetDB()

	if leadId, err := strconv.ParseInt(c.Param("amo_id"), 10, 64); err == nil {
		doc, err := models.FindSaleDocumentByLead(db, account.ID, leadId)
		if err == nil && doc != nil {
			return bazonForDocument(c, doc)
		}
	}

	linked, err := models.LinkedBazonAccounts(db, account.ID)
	if err != nil || len(linked) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no linked bazon account"})
		return nil
	}
	bz := BazonClientFor(db, &linked[0])
	if err := bz.EnsureAuth(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "bazon_api_error"})
		return nil
	}
	return bz
}

func GetOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		doc := documentForLead(c, account)
		if doc == nil {
			return
		}
		bz := bazonForDocument(c, doc)
		if bz == nil {
			return
		}
		resp, err := bz.GetOrders(c.Request.Context(), 0, 100, doc.Number)
		relayBazon(c, resp, err)
	}
}

// ---- lock-guarded mutations ----

type addItemsRequest struct {
	Items []bazonapi.SaleItem `json:"items" validate:"required,min=1"`
}

func AddItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		doc := documentForLead(c, account)
		if doc == nil {
			return
		}

		var req addItemsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "items are required"})
			return
		}

		bz := bazonForDocument(c, doc)
		if bz == nil {
			return
		}
		withLockedDocument(c, doc, bz, func(ctx context.Context, lockKey string) (*bazonapi.Response, error) {
			return bz.SaleAddItems(ctx, doc.InternalId, lockKey, req.Items)
		})
	}
}

type removeItemsRequest struct {
	ItemIds []int64 `json:"item_ids" validate:"required,min=1"`
}

func DeleteItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		doc := documentForLead(c, account)
		if doc == nil {
			return
		}

		var req removeItemsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "item_ids are required"})
			return
		}

		bz := bazonForDocument(c, doc)
		if bz == nil {
			return
		}
		withLockedDocument(c, doc, bz, func(ctx context.Context, lockKey string) (*bazonapi.Response, error) {
			return bz.SaleRemoveItems(ctx, doc.InternalId, lockKey, req.ItemIds)
		})
	}
}

type moveRequest struct {
	State string `json:"state" validate:"required"`
}

func MoveSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		doc := documentForLead(c, account)
		if doc == nil {
			return
		}

		var req moveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if !models.IsValidSaleMove(req.State) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state"})
			return
		}

		bz := bazonForDocument(c, doc)
		if bz == nil {
			return
		}
		withLockedDocument(c, doc, bz, func(ctx context.Context, lockKey string) (*bazonapi.Response, error) {
			switch req.State {
			case models.SaleMoveReserve:
				return bz.SaleReserve(ctx, doc.InternalId, lockKey)
			case models.SaleMoveCancel:
				return bz.SaleCancel(ctx, doc.InternalId, lockKey)
			case models.SaleMoveRecreate:
				return bz.SaleRecreate(ctx, doc.InternalId, lockKey)
			default:
				return bz.SaleIssue(ctx, doc.InternalId, lockKey)
			}
		})
	}
}

type payRequest struct {
	PaySource int     `json:"pay_source" validate:"required"`
	PaySum    float64 `json:"pay_sum" validate:"required,gt=0"`
	Comment   string  `json:"comment"`
}

func AddPayHandler() gin.HandlerFunc {
	return payHandler(func(bz *bazonapi.Client, ctx context.Context, doc *models.SaleDocument, lockKey string, req payRequest) (*bazonapi.Response, error) {
		return bz.SaleAddPay(ctx, doc.InternalId, lockKey, bazonapi.Payment{
			PaySource: req.PaySource,
			PaySum:    req.PaySum,
			Comment:   req.Comment,
		})
	})
}

func PayBackHandler() gin.HandlerFunc {
	return payHandler(func(bz *bazonapi.Client, ctx context.Context, doc *models.SaleDocument, lockKey string, req payRequest) (*bazonapi.Response, error) {
		return bz.SalePayBack(ctx, doc.InternalId, lockKey, bazonapi.Payment{
			PaySource: req.PaySource,
			PaySum:    req.PaySum,
		})
	})
}

func payHandler(call func(*bazonapi.Client, context.Context, *models.SaleDocument, string, payRequest) (*bazonapi.Response, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		doc := documentForLead(c, account)
		if doc == nil {
			return
		}

		var req payRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pay_source and positive pay_sum are required"})
			return
		}

		bz := bazonForDocument(c, doc)
		if bz == nil {
			return
		}
		withLockedDocument(c, doc, bz, func(ctx context.Context, lockKey string) (*bazonapi.Response, error) {
			return call(bz, ctx, doc, lockKey, req)
		})
	}
}

type editSaleRequest struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

// EditSaleHandler patches document header fields (comment, manager, source)
// through saleEditData.
func EditSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		doc := documentForLead(c, account)
		if doc == nil {
			return
		}

		var req editSaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fields are required"})
			return
		}

		bz := bazonForDocument(c, doc)
		if bz == nil {
			return
		}
		withLockedDocument(c, doc, bz, func(ctx context.Context, lockKey string) (*bazonapi.Response, error) {
			return bz.SaleEditData(ctx, doc.InternalId, lockKey, req.Fields)
		})
	}
}

// PreviewItemsHandler prices a buffer of items before they are committed
// to a document.
func PreviewItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}

		var req addItemsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "items are required"})
			return
		}

		bz := bazonForItems(c, account)
		if bz == nil {
			return
		}
		resp, err := bz.GetDocumentItemsByBuffer(c.Request.Context(), req.Items)
		relayBazon(c, resp, err)
	}
}

// ---- references ----

func GetPaySourcesHandler() gin.HandlerFunc {
	return proxyHandler(func(ctx context.Context, bz *bazonapi.Client, doc *models.SaleDocument) (*bazonapi.Response, error) {
		return bz.GetSalePaySources(ctx)
	})
}

func GetPaidSourcesHandler() gin.HandlerFunc {
	return proxyHandler(func(ctx context.Context, bz *bazonapi.Client, doc *models.SaleDocument) (*bazonapi.Response, error) {
		return bz.GetSalePaidSources(ctx, doc.InternalId)
	})
}

func GetStoragesHandler() gin.HandlerFunc {
	return proxyHandler(func(ctx context.Context, bz *bazonapi.Client, doc *models.SaleDocument) (*bazonapi.Response, error) {
		return bz.GetStoragesReference(ctx)
	})
}

func GetSourcesHandler() gin.HandlerFunc {
	return proxyHandler(func(ctx context.Context, bz *bazonapi.Client, doc *models.SaleDocument) (*bazonapi.Response, error) {
		return bz.GetSaleSourcesReference(ctx)
	})
}

func GetManagersHandler() gin.HandlerFunc {
	return proxyHandler(func(ctx context.Context, bz *bazonapi.Client, doc *models.SaleDocument) (*bazonapi.Response, error) {
		return bz.GetUsers(ctx, 0, 50)
	})
}

func proxyHandler(call func(context.Context, *bazonapi.Client, *models.SaleDocument) (*bazonapi.Response, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		doc := documentForLead(c, account)
		if doc == nil {
			return
		}
		bz := bazonForDocument(c, doc)
		if bz == nil {
			return
		}
		resp, err := call(c.Request.Context(), bz, doc)
		relayBazon(c, resp, err)
	}
}

// ---- sale creation ----

type createSaleRequest struct {
	AmoLeadId int64  `json:"amo_lead_id" validate:"required"`
	Comment   string `json:"comment"`
	Source    string `json:"source"`
	Storage   int    `json:"storage" validate:"required"`
}

// CreateSaleHandler creates a Bazon sale for an existing Amo deal. The
// polling loop picks the new document up on its next pass and links it to
// the lead through the mirror.
func CreateSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		db := config.GetDB()

		var req createSaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amo_lead_id and storage are required"})
			return
		}

		linked, err := models.LinkedBazonAccounts(db, account.ID)
		if err != nil || len(linked) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no linked bazon account"})
			return
		}
		bz := BazonClientFor(db, &linked[0])
		if err := bz.EnsureAuth(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "bazon_api_error"})
			return
		}

		buffer := bazonapi.SaleBuffer{
			Type:           "sale",
			State:          "new",
			StorageID:      req.Storage,
			ManagerComment: req.Comment,
			Source:         req.Source,
		}
		resp, err := bz.SaleCreate(c.Request.Context(), buffer, nil)
		relayBazon(c, resp, err)
	}
}

// ---- cash-register receipts ----

func GetCheckHandler() gin.HandlerFunc {
	return proxyHandler(func(ctx context.Context, bz *bazonapi.Client, doc *models.SaleDocument) (*bazonapi.Response, error) {
		return bz.GetDocumentFormPrint(ctx, doc.InternalId, "")
	})
}

func GenerateCheckHandler() gin.HandlerFunc {
	return proxyHandler(func(ctx context.Context, bz *bazonapi.Client, doc *models.SaleDocument) (*bazonapi.Response, error) {
		return bz.GetDocumentFormPrint(ctx, doc.InternalId, "fiscal")
	})
}

func RefundCheckHandler() gin.HandlerFunc {
	return proxyHandler(func(ctx context.Context, bz *bazonapi.Client, doc *models.SaleDocument) (*bazonapi.Response, error) {
		return bz.FiscalCheckRefund(ctx, doc.InternalId)
	})
}

// ---- manual sync trigger ----

type triggerSyncRequest struct {
	BazonAccountId uint `json:"bazon_account_id"`
}

// TriggerSyncHandler queues a reconciliation run for the tenant and hands
// it to the sync topic. Returns 202 with the run id.
func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		db := config.GetDB()

		var req triggerSyncRequest
		_ = c.ShouldBindJSON(&req)

		bazonAccountId := req.BazonAccountId
		if bazonAccountId == 0 {
			linked, err := models.LinkedBazonAccounts(db, account.ID)
			if err != nil || len(linked) == 0 {
				c.JSON(http.StatusNotFound, gin.H{"error": "no linked bazon account"})
				return
			}
			bazonAccountId = linked[0].ID
		}

		run := models.SyncRun{
			AmoAccountId:   account.ID,
			BazonAccountId: bazonAccountId,
			Status:         models.SyncRunStatusQueued,
			TriggeredBy:    models.SyncTriggeredManual,
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := PublishSyncRun(c.Request.Context(), &run); err != nil {
			config.LogError(config.GetLogger(), "amosync", "TriggerSyncHandler", "publish", run.ID, err)
			c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "queued": false})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "queued": true})
	}
}

// ---- mapping refresh ----

func RefreshMappingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := currentAccount(c)
		if account == nil {
			return
		}
		db := config.GetDB()
		amo := amoClientFor(account)

		if err := RefreshStatuses(c.Request.Context(), db, account, amo); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "amo_api_error"})
			return
		}
		if err := RefreshManagers(c.Request.Context(), db, account, amo); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "amo_api_error"})
			return
		}

		var statuses []models.StatusMapping
		var managers []models.ManagerMapping
		if err := db.Where("amo_account_id = ?", account.ID).Find(&statuses).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := db.Where("amo_account_id = ?", account.ID).Find(&managers).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"statuses": statuses, "managers": managers})
	}
}
