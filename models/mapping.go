package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// StatusMapping translates one Amo pipeline status to a Bazon document
// status for a tenant. BazonStatus is assigned by an operator and survives
// refreshes; Name/pipeline data mirror the Amo pipeline listing.
type StatusMapping struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	AmoAccountId uint      `gorm:"uniqueIndex:idx_status_mapping,priority:1;not null" json:"amo_account_id"`
	PipelineId   int       `gorm:"uniqueIndex:idx_status_mapping,priority:2;not null" json:"pipeline_id"`
	AmoId        int       `gorm:"uniqueIndex:idx_status_mapping,priority:3;not null" json:"amo_id"`
	Name         string    `gorm:"size:255" json:"name"`
	BazonStatus  string    `gorm:"size:20" json:"bazon_status"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ManagerMapping translates one Amo user to a Bazon manager for a tenant.
// BazonId is assigned by an operator and survives refreshes.
type ManagerMapping struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	AmoAccountId uint      `gorm:"uniqueIndex:idx_manager_mapping,priority:1;not null" json:"amo_account_id"`
	AmoId        int       `gorm:"uniqueIndex:idx_manager_mapping,priority:2;not null" json:"amo_id"`
	Name         string    `gorm:"size:255" json:"name"`
	BazonId      int       `json:"bazon_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Mapping lookups return (nil, nil) on miss: an unmapped value is not an
// error, the field is simply dropped from the translated payload.

func FindStatusByBazonStatus(db *gorm.DB, amoAccountId uint, bazonStatus string) (*StatusMapping, error) {
	var mapping StatusMapping
	err := db.Where("amo_account_id = ? AND bazon_status = ?", amoAccountId, bazonStatus).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

func FindStatusByAmoId(db *gorm.DB, amoAccountId uint, amoId int) (*StatusMapping, error) {
	var mapping StatusMapping
	err := db.Where("amo_account_id = ? AND amo_id = ?", amoAccountId, amoId).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

func FindManagerByBazonId(db *gorm.DB, amoAccountId uint, bazonId int) (*ManagerMapping, error) {
	var mapping ManagerMapping
	err := db.Where("amo_account_id = ? AND bazon_id = ?", amoAccountId, bazonId).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

func FindManagerByAmoId(db *gorm.DB, amoAccountId uint, amoId int) (*ManagerMapping, error) {
	var mapping ManagerMapping
	err := db.Where("amo_account_id = ? AND amo_id = ?", amoAccountId, amoId).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}
