package amosync

import (
	"context"
	"fmt"

	"bitbucket.org/kontrabaz/amobazon_backend/amoapi"
	"bitbucket.org/kontrabaz/amobazon_backend/bazonapi"
	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"gorm.io/gorm"
)

const contractorsPageSize = 100

// RunContractorsPolling enriches contractor shadows with the full detail
// the external contractors listing carries (phone, email, tax number) and
// re-pushes the Amo contact/company when a field changed. Registered only
// when ENABLE_CONTRACTORS_POLLING is set.
func RunContractorsPolling(ctx context.Context) {
	db := config.GetDB()
	logger := config.GetLogger()

	var bazonAccounts []models.BazonAccount
	if err := db.Find(&bazonAccounts).Error; err != nil {
		config.LogError(logger, "amosync", "RunContractorsPolling", "list bazon accounts", nil, err)
		return
	}

	for i := range bazonAccounts {
		bazonAccount := &bazonAccounts[i]
		amoAccounts, err := models.LinkedAmoAccounts(db, bazonAccount.ID)
		if err != nil {
			config.LogError(logger, "amosync", "RunContractorsPolling", "list linked amo accounts", bazonAccount.ID, err)
			continue
		}
		for j := range amoAccounts {
			if err := syncContractorsPage(ctx, db, bazonAccount, &amoAccounts[j]); err != nil {
				config.LogError(logger, "amosync", "RunContractorsPolling", "sync contractors", bazonAccount.ID, err)
			}
		}
	}
}

func syncContractorsPage(ctx context.Context, db *gorm.DB,
	bazonAccount *models.BazonAccount, amoAccount *models.AmoAccount) error {

	bz := BazonClientFor(db, bazonAccount)
	if err := bz.EnsureAuth(ctx); err != nil {
		return err
	}

	resp, err := bz.GetContractors(ctx, 0, contractorsPageSize)
	if err != nil {
		return err
	}
	if !resp.OK() {
		if refreshErr := bz.Refresh(ctx); refreshErr != nil {
			return fmt.Errorf("contractors listing failed (%d) and refresh failed: %w", resp.StatusCode, refreshErr)
		}
		return fmt.Errorf("contractors listing failed with status %d, credentials refreshed", resp.StatusCode)
	}

	contractors, err := bazonapi.DecodeContractors(resp)
	if err != nil {
		return err
	}

	amo := amoClientFor(amoAccount)
	for i := range contractors {
		payload := &contractors[i]
		if err := applyContractorDetail(ctx, db, amoAccount, amo, payload); err != nil {
			config.LogError(config.GetLogger(), "amosync", "applyContractorDetail",
				fmt.Sprint(payload.Id), nil, err)
		}
	}
	return nil
}

func applyContractorDetail(ctx context.Context, db *gorm.DB, amoAccount *models.AmoAccount,
	amo *amoapi.Client, payload *bazonapi.ContractorPayload) error {

	contractor, err := models.FindContractor(db, amoAccount.ID, payload.Id)
	if err != nil || contractor == nil {
		// Shadows are created by the document loop; the detail pass only
		// enriches rows that already exist.
		return err
	}

	changed := contractor.Name != payload.Name ||
		contractor.Phone != payload.Phone ||
		contractor.Email != payload.Email ||
		contractor.Inn != payload.Inn
	if !changed {
		return nil
	}

	contractor.Name = payload.Name
	contractor.Phone = payload.Phone
	contractor.Email = payload.Email
	contractor.Inn = payload.Inn
	if err := db.Save(contractor).Error; err != nil {
		return err
	}

	if contractor.AmoContactId != nil {
		if err := amo.UpdateContact(ctx, *contractor.AmoContactId, translateContractorToContact(amoAccount, contractor)); err != nil {
			return err
		}
	}
	if company, ok := translateContractorToCompany(amoAccount, contractor); ok {
		if _, err := amo.CreateCompany(ctx, company); err != nil {
			return err
		}
	}
	return nil
}
