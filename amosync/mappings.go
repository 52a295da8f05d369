package amosync

import (
	"context"
	"errors"

	"bitbucket.org/kontrabaz/amobazon_backend/amoapi"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
	"gorm.io/gorm"
)

// Mapping refresh is full-replace against the authoritative Amo listing:
// every fetched entry is upserted by its natural key (only the display name
// is overwritten, operator-assigned bazon values survive), then local rows
// absent from the listing are deleted.

func RefreshStatuses(ctx context.Context, db *gorm.DB, account *models.AmoAccount, amo *amoapi.Client) error {
	pipelines, err := amo.GetPipelines(ctx)
	if err != nil {
		return err
	}

	type key struct {
		pipelineId int
		amoId      int
	}
	seen := map[key]bool{}

	for _, pipeline := range pipelines {
		for _, status := range pipeline.Embedded.Statuses {
			seen[key{pipeline.Id, status.Id}] = true

			existing, err := findStatusRow(db, account.ID, pipeline.Id, status.Id)
			if err != nil {
				return err
			}
			if existing == nil {
				row := models.StatusMapping{
					AmoAccountId: account.ID,
					PipelineId:   pipeline.Id,
					AmoId:        status.Id,
					Name:         status.Name,
				}
				if err := db.Create(&row).Error; err != nil {
					return err
				}
				continue
			}
			if existing.Name != status.Name {
				if err := db.Model(existing).Update("name", status.Name).Error; err != nil {
					return err
				}
			}
		}
	}

	var local []models.StatusMapping
	if err := db.Where("amo_account_id = ?", account.ID).Find(&local).Error; err != nil {
		return err
	}
	for _, row := range local {
		if !seen[key{row.PipelineId, row.AmoId}] {
			if err := db.Delete(&models.StatusMapping{}, row.ID).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func RefreshManagers(ctx context.Context, db *gorm.DB, account *models.AmoAccount, amo *amoapi.Client) error {
	users, err := amo.GetUsers(ctx)
	if err != nil {
		return err
	}

	seen := map[int]bool{}
	for _, user := range users {
		seen[user.Id] = true

		existing, err := models.FindManagerByAmoId(db, account.ID, user.Id)
		if err != nil {
			return err
		}
		if existing == nil {
			row := models.ManagerMapping{
				AmoAccountId: account.ID,
				AmoId:        user.Id,
				Name:         user.Name,
			}
			if err := db.Create(&row).Error; err != nil {
				return err
			}
			continue
		}
		if existing.Name != user.Name {
			if err := db.Model(existing).Update("name", user.Name).Error; err != nil {
				return err
			}
		}
	}

	var local []models.ManagerMapping
	if err := db.Where("amo_account_id = ?", account.ID).Find(&local).Error; err != nil {
		return err
	}
	for _, row := range local {
		if !seen[row.AmoId] {
			if err := db.Delete(&models.ManagerMapping{}, row.ID).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func findStatusRow(db *gorm.DB, amoAccountId uint, pipelineId, amoId int) (*models.StatusMapping, error) {
	var row models.StatusMapping
	err := db.Where("amo_account_id = ? AND pipeline_id = ? AND amo_id = ?", amoAccountId, pipelineId, amoId).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
