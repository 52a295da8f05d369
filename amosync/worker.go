package amosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"bitbucket.org/kontrabaz/amobazon_backend/amoapi"
	"bitbucket.org/kontrabaz/amobazon_backend/bazonapi"
	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const saleDocumentsPageSize = 50

var tracer = otel.Tracer("amobazon-backend")

var (
	clientMu     sync.Mutex
	bazonClients = map[uint]*bazonapi.Client{}

	inFlightMu sync.Mutex
	inFlight   = map[string]bool{}
)

// BazonClientFor returns the cached client for one Bazon account, wiring
// token persistence back onto the account row. Caching keeps the token
// pair warm across polling runs instead of re-logging in every minute.
func BazonClientFor(db *gorm.DB, account *models.BazonAccount) *bazonapi.Client {
	clientMu.Lock()
	defer clientMu.Unlock()
	if client, ok := bazonClients[account.ID]; ok {
		return client
	}
	client := bazonapi.NewClient(account.Login, account.Password, account.AccessToken, account.RefreshToken)
	accountId := account.ID
	client.TokenSaver = func(accessToken, refreshToken string) error {
		fresh, err := models.FindBazonAccount(db, accountId)
		if err != nil || fresh == nil {
			return err
		}
		return fresh.SaveTokens(db, accessToken, refreshToken)
	}
	bazonClients[account.ID] = client
	return client
}

func amoClientFor(account *models.AmoAccount) *amoapi.Client {
	return amoapi.NewClient(account.Subdomain, account.Token)
}

// ResetClients drops the client cache. Tests use it between scenarios.
func ResetClients() {
	clientMu.Lock()
	defer clientMu.Unlock()
	bazonClients = map[uint]*bazonapi.Client{}
}

func tryAcquirePair(bazonAccountId, amoAccountId uint) bool {
	key := fmt.Sprintf("%d:%d", bazonAccountId, amoAccountId)
	inFlightMu.Lock()
	defer inFlightMu.Unlock()
	if inFlight[key] {
		return false
	}
	inFlight[key] = true
	return true
}

func releasePair(bazonAccountId, amoAccountId uint) {
	key := fmt.Sprintf("%d:%d", bazonAccountId, amoAccountId)
	inFlightMu.Lock()
	defer inFlightMu.Unlock()
	delete(inFlight, key)
}

// RunSaleDocumentsPolling reconciles every Bazon account against each of
// its linked Amo tenants. Pairs with a run still in flight are skipped so
// a slow upstream cannot stack overlapping runs.
func RunSaleDocumentsPolling(ctx context.Context) {
	db := config.GetDB()
	logger := config.GetLogger()

	var bazonAccounts []models.BazonAccount
	if err := db.Find(&bazonAccounts).Error; err != nil {
		config.LogError(logger, "amosync", "RunSaleDocumentsPolling", "list bazon accounts", nil, err)
		return
	}

	for i := range bazonAccounts {
		bazonAccount := &bazonAccounts[i]
		amoAccounts, err := models.LinkedAmoAccounts(db, bazonAccount.ID)
		if err != nil {
			config.LogError(logger, "amosync", "RunSaleDocumentsPolling", "list linked amo accounts", bazonAccount.ID, err)
			continue
		}
		for j := range amoAccounts {
			amoAccount := &amoAccounts[j]
			if !tryAcquirePair(bazonAccount.ID, amoAccount.ID) {
				logger.WithFields(logrus.Fields{
					"module":        "amosync",
					"bazon_account": bazonAccount.ID,
					"amo_account":   amoAccount.ID,
				}).Info("previous run still in flight, skipping")
				continue
			}
			func() {
				defer releasePair(bazonAccount.ID, amoAccount.ID)
				run := models.SyncRun{
					AmoAccountId:   amoAccount.ID,
					BazonAccountId: bazonAccount.ID,
					Status:         models.SyncRunStatusQueued,
					TriggeredBy:    models.SyncTriggeredSystem,
				}
				if err := db.Create(&run).Error; err != nil {
					config.LogError(logger, "amosync", "RunSaleDocumentsPolling", "create sync run", nil, err)
					return
				}
				if err := ExecuteRun(ctx, db, &run); err != nil {
					config.LogError(logger, "amosync", "RunSaleDocumentsPolling", "execute run", run.ID, err)
				}
			}()
		}
	}
}

// ExecuteRun drives one reconciliation run to a terminal status.
func ExecuteRun(ctx context.Context, db *gorm.DB, run *models.SyncRun) error {
	ctx, span := tracer.Start(ctx, "amosync.run", trace.WithAttributes(
		attribute.Int("run.id", int(run.ID)),
		attribute.Int("amo.account", int(run.AmoAccountId)),
		attribute.Int("bazon.account", int(run.BazonAccountId)),
	))
	defer span.End()

	amoAccount := &models.AmoAccount{}
	if err := db.Take(amoAccount, run.AmoAccountId).Error; err != nil {
		return finalizeRun(db, run, 0, 1, err)
	}
	bazonAccount, err := models.FindBazonAccount(db, run.BazonAccountId)
	if err != nil || bazonAccount == nil {
		if err == nil {
			err = fmt.Errorf("bazon account %d not found", run.BazonAccountId)
		}
		return finalizeRun(db, run, 0, 1, err)
	}

	startedAt := time.Now()
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}
	run.StartedAt = &startedAt

	bz := BazonClientFor(db, bazonAccount)
	amo := amoClientFor(amoAccount)

	synced, errorCount, err := syncSaleDocuments(ctx, db, run, bazonAccount, amoAccount, bz, amo)
	return finalizeRun(db, run, synced, errorCount, err)
}

func finalizeRun(db *gorm.DB, run *models.SyncRun, synced, errorCount int, fatal error) error {
	status := models.SyncRunStatusSuccess
	if fatal != nil || (errorCount > 0 && synced == 0) {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}
	finishedAt := time.Now()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = finishedAt.Sub(*run.StartedAt).Milliseconds()
	}
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    durationMs,
		"records_synced": synced,
		"error_count":    errorCount,
	}).Error; err != nil {
		return err
	}
	return fatal
}

// syncSaleDocuments fetches the newest page of sale documents and folds
// each one into the mirror. A failed listing means expired credentials:
// the token pair is refreshed and the run aborts, the next run starts over.
func syncSaleDocuments(ctx context.Context, db *gorm.DB, run *models.SyncRun,
	bazonAccount *models.BazonAccount, amoAccount *models.AmoAccount,
	bz *bazonapi.Client, amo *amoapi.Client) (int, int, error) {

	if err := bz.EnsureAuth(ctx); err != nil {
		return 0, 1, err
	}

	params := url.Values{}
	params.Set("limit", fmt.Sprint(saleDocumentsPageSize))
	params.Set("order", "desc")
	resp, err := bz.GetSaleDocuments(ctx, params)
	if err != nil {
		return 0, 1, err
	}
	if !resp.OK() {
		if refreshErr := bz.Refresh(ctx); refreshErr != nil {
			return 0, 1, fmt.Errorf("listing failed (%d) and refresh failed: %w", resp.StatusCode, refreshErr)
		}
		return 0, 1, fmt.Errorf("sale documents listing failed with status %d, credentials refreshed", resp.StatusCode)
	}

	documents, err := bazonapi.DecodeSaleDocuments(resp)
	if err != nil {
		return 0, 1, err
	}

	synced := 0
	errorCount := 0
	for i := range documents {
		payload := &documents[i]
		changed, err := syncOneDocument(ctx, db, bazonAccount, amoAccount, amo, payload)
		if err != nil {
			errorCount++
			recordSyncError(db, run.ID, "sale_document", fmt.Sprint(payload.Id), err, payload)
			continue
		}
		if changed {
			synced++
		}
	}
	return synced, errorCount, nil
}

// MySQL reports duplicate keys as error 1062; other dialects go through
// gorm's translated sentinel.
func isDuplicateKey(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func recordSyncError(db *gorm.DB, runId uint, entityType, externalId string, cause error, payload any) {
	payloadJSON, _ := json.Marshal(payload)
	row := models.SyncError{
		SyncRunId:   runId,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   "sync_failed",
		Message:     cause.Error(),
		PayloadJSON: payloadJSON,
		Retryable:   true,
	}
	if err := db.Create(&row).Error; err != nil {
		config.LogError(config.GetLogger(), "amosync", "recordSyncError", entityType+" "+externalId, nil, err)
	}
	config.LogError(config.GetLogger(), "amosync", "syncOneDocument", entityType+" "+externalId, nil, cause)
}

func mirrorFromPayload(bazonAccountId, amoAccountId uint, payload *bazonapi.SaleDocumentPayload) *models.SaleDocument {
	sum, err := decimal.NewFromString(payload.Sum.String())
	if err != nil {
		sum = decimal.Zero
	}
	return &models.SaleDocument{
		BazonAccountId: bazonAccountId,
		AmoAccountId:   amoAccountId,
		InternalId:     payload.Id,
		Number:         payload.Number,
		Type:           payload.Type,
		Status:         payload.Status,
		Sum:            sum,
		StorageId:      payload.StorageId,
		ContractorId:   payload.ContractorId,
		ContractorName: payload.ContractorName,
		ManagerId:      payload.ManagerId,
		ManagerName:    payload.ManagerName,
	}
}

// syncOneDocument reconciles a single sale document: first seen documents
// become a new mirror row plus an Amo lead, known documents are diffed and
// pushed only when an upstream-owned field actually changed.
func syncOneDocument(ctx context.Context, db *gorm.DB,
	bazonAccount *models.BazonAccount, amoAccount *models.AmoAccount,
	amo *amoapi.Client, payload *bazonapi.SaleDocumentPayload) (bool, error) {

	fresh := mirrorFromPayload(bazonAccount.ID, amoAccount.ID, payload)

	existing, err := models.FindSaleDocument(db, amoAccount.ID, payload.Id)
	if err != nil {
		return false, err
	}

	if existing == nil {
		lead, err := translateDocumentToLead(db, amoAccount, fresh)
		if err != nil {
			return false, err
		}
		leadId, err := amo.CreateLead(ctx, lead)
		if err != nil {
			return false, err
		}
		fresh.AmoLeadId = &leadId
		if err := db.Create(fresh).Error; err != nil {
			// A concurrent run won the insert race; fold into its row.
			if isDuplicateKey(err) {
				return false, nil
			}
			return false, err
		}
		if err := syncContractor(ctx, db, bazonAccount, amoAccount, amo, fresh, leadId); err != nil {
			return true, err
		}
		return true, nil
	}

	changes := existing.Diff(fresh)
	if len(changes) == 0 {
		return false, nil
	}

	contractorChanged := changes["contractor_id"] != nil || changes["contractor_name"] != nil

	existing.Apply(fresh)
	if err := db.Save(existing).Error; err != nil {
		return false, err
	}

	if existing.AmoLeadId != nil {
		lead, err := translateDocumentToLead(db, amoAccount, existing)
		if err != nil {
			return false, err
		}
		if err := amo.UpdateLead(ctx, *existing.AmoLeadId, lead); err != nil {
			return false, err
		}
		if contractorChanged {
			if err := syncContractor(ctx, db, bazonAccount, amoAccount, amo, existing, *existing.AmoLeadId); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

// syncContractor maintains the contractor shadow behind a document and its
// Amo contact, then links the contact to the lead. Shadows are updated in
// place so the row id stays stable.
func syncContractor(ctx context.Context, db *gorm.DB,
	bazonAccount *models.BazonAccount, amoAccount *models.AmoAccount,
	amo *amoapi.Client, doc *models.SaleDocument, leadId int64) error {

	if doc.ContractorId == 0 {
		return nil
	}

	contractor, err := models.FindContractor(db, amoAccount.ID, doc.ContractorId)
	if err != nil {
		return err
	}

	if contractor == nil {
		contractor = &models.Contractor{
			BazonAccountId: bazonAccount.ID,
			AmoAccountId:   amoAccount.ID,
			InternalId:     doc.ContractorId,
			Name:           doc.ContractorName,
		}
		contactId, err := amo.CreateContact(ctx, translateContractorToContact(amoAccount, contractor))
		if err != nil {
			return err
		}
		contractor.AmoContactId = &contactId
		if err := db.Create(contractor).Error; err != nil {
			if isDuplicateKey(err) {
				return nil
			}
			return err
		}
	} else if contractor.Name != doc.ContractorName {
		contractor.Name = doc.ContractorName
		if err := db.Save(contractor).Error; err != nil {
			return err
		}
		if contractor.AmoContactId != nil {
			if err := amo.UpdateContact(ctx, *contractor.AmoContactId, translateContractorToContact(amoAccount, contractor)); err != nil {
				return err
			}
		}
	}

	if contractor.AmoContactId != nil {
		return amo.LinkContactToLead(ctx, leadId, *contractor.AmoContactId)
	}
	return nil
}
