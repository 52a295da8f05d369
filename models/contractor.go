package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Contractor is the local shadow of a Bazon contractor plus its linked Amo
// contact. Rows are mutated in place on update; the row id stays stable so
// references never dangle.
type Contractor struct {
	ID             uint      `gorm:"primary_key" json:"id"`
	BazonAccountId uint      `gorm:"index;not null" json:"bazon_account_id"`
	AmoAccountId   uint      `gorm:"uniqueIndex:idx_contractor,priority:1;not null" json:"amo_account_id"`
	InternalId     int64     `gorm:"uniqueIndex:idx_contractor,priority:2;not null" json:"internal_id"`
	Name           string    `gorm:"size:255" json:"name"`
	Phone          string    `gorm:"size:64" json:"phone"`
	Email          string    `gorm:"size:255" json:"email"`
	Inn            string    `gorm:"size:32" json:"inn"`
	AmoContactId   *int64    `gorm:"index" json:"amo_contact_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindContractor(db *gorm.DB, amoAccountId uint, internalId int64) (*Contractor, error) {
	var contractor Contractor
	err := db.Where("amo_account_id = ? AND internal_id = ?", amoAccountId, internalId).
		Take(&contractor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contractor, nil
}
