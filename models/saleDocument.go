package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleDocument is the local mirror of one Bazon sale document and its link
// to the Amo lead it is synchronized with. A document is mirrored in the
// context of exactly one Amo tenant; the sync loop never hard-deletes rows.
type SaleDocument struct {
	ID             uint            `gorm:"primary_key" json:"id"`
	BazonAccountId uint            `gorm:"index;not null" json:"bazon_account_id"`
	AmoAccountId   uint            `gorm:"uniqueIndex:idx_sale_document,priority:1;not null" json:"amo_account_id"`
	InternalId     int64           `gorm:"uniqueIndex:idx_sale_document,priority:2;not null" json:"internal_id"`
	Number         string          `gorm:"size:255" json:"number"`
	Type           string          `gorm:"size:50" json:"type"`
	Status         string          `gorm:"size:50" json:"status"`
	Sum            decimal.Decimal `gorm:"type:decimal(18,2)" json:"sum"`
	StorageId      int             `json:"storage_id"`
	ContractorId   int64           `json:"contractor_id"`
	ContractorName string          `gorm:"size:255" json:"contractor_name"`
	ManagerId      int             `json:"manager_id"`
	ManagerName    string          `gorm:"size:255" json:"manager_name"`
	AmoLeadId      *int64          `gorm:"index" json:"amo_lead_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindSaleDocument(db *gorm.DB, amoAccountId uint, internalId int64) (*SaleDocument, error) {
	var doc SaleDocument
	err := db.Where("amo_account_id = ? AND internal_id = ?", amoAccountId, internalId).
		Take(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// FindSaleDocumentByLead resolves an Amo lead id back to the mirrored Bazon
// document. Used by the tenant API to proxy document operations.
func FindSaleDocumentByLead(db *gorm.DB, amoAccountId uint, amoLeadId int64) (*SaleDocument, error) {
	var doc SaleDocument
	err := db.Where("amo_account_id = ? AND amo_lead_id = ?", amoAccountId, amoLeadId).
		Take(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// Diff reports the mirror fields that differ from the freshly fetched
// document state. Bookkeeping fields (ids, lead link, timestamps) are
// excluded: only upstream-owned fields participate.
func (d *SaleDocument) Diff(fresh *SaleDocument) map[string]interface{} {
	changes := map[string]interface{}{}
	if d.Number != fresh.Number {
		changes["number"] = fresh.Number
	}
	if d.Type != fresh.Type {
		changes["type"] = fresh.Type
	}
	if d.Status != fresh.Status {
		changes["status"] = fresh.Status
	}
	if !d.Sum.Equal(fresh.Sum) {
		changes["sum"] = fresh.Sum
	}
	if d.StorageId != fresh.StorageId {
		changes["storage_id"] = fresh.StorageId
	}
	if d.ContractorId != fresh.ContractorId {
		changes["contractor_id"] = fresh.ContractorId
	}
	if d.ContractorName != fresh.ContractorName {
		changes["contractor_name"] = fresh.ContractorName
	}
	if d.ManagerId != fresh.ManagerId {
		changes["manager_id"] = fresh.ManagerId
	}
	if d.ManagerName != fresh.ManagerName {
		changes["manager_name"] = fresh.ManagerName
	}
	return changes
}

// Apply copies upstream-owned fields from the freshly fetched state onto
// the mirror. The lead link and ids are left untouched.
func (d *SaleDocument) Apply(fresh *SaleDocument) {
	d.Number = fresh.Number
	d.Type = fresh.Type
	d.Status = fresh.Status
	d.Sum = fresh.Sum
	d.StorageId = fresh.StorageId
	d.ContractorId = fresh.ContractorId
	d.ContractorName = fresh.ContractorName
	d.ManagerId = fresh.ManagerId
	d.ManagerName = fresh.ManagerName
}
