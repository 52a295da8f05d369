package models

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// AmoAccount is one AmoCRM tenant: subdomain plus a long-lived bearer token
// provisioned out-of-band. FieldsJSON carries the per-tenant custom-field
// configuration used when pushing contacts/companies.
type AmoAccount struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	Subdomain     string         `gorm:"uniqueIndex;size:255;not null" json:"subdomain"`
	Token         string         `gorm:"type:text;not null" json:"-"`
	FieldsJSON    []byte         `gorm:"type:json" json:"fields"`
	BazonAccounts []BazonAccount `gorm:"many2many:amo_bazon_links" json:"-"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// AmoFieldsConfig is the decoded per-tenant custom-field configuration.
// A zero id means "unset / do not push this field".
type AmoFieldsConfig struct {
	ContactPhoneField int `json:"contact_phone_field"`
	ContactEmailField int `json:"contact_email_field"`
	CompanyPhoneField int `json:"company_phone_field"`
	CompanyEmailField int `json:"company_email_field"`
	CompanyInnField   int `json:"company_inn_field"`
	BazonField        int `json:"bazon_field"`
}

// Fields decodes FieldsJSON. Unknown keys are ignored; a missing or broken
// blob decodes to the zero config (nothing gets pushed).
func (a *AmoAccount) Fields() AmoFieldsConfig {
	var cfg AmoFieldsConfig
	if len(a.FieldsJSON) == 0 {
		return cfg
	}
	_ = json.Unmarshal(a.FieldsJSON, &cfg)
	return cfg
}

func FindAmoAccountBySubdomain(db *gorm.DB, subdomain string) (*AmoAccount, error) {
	var account AmoAccount
	err := db.Where("subdomain = ?", subdomain).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// LinkedBazonAccounts returns the Bazon accounts paired with this tenant.
func LinkedBazonAccounts(db *gorm.DB, amoAccountId uint) ([]BazonAccount, error) {
	var accounts []BazonAccount
	err := db.
		Joins("JOIN amo_bazon_links ON amo_bazon_links.bazon_account_id = bazon_accounts.id").
		Where("amo_bazon_links.amo_account_id = ?", amoAccountId).
		Find(&accounts).Error
	return accounts, err
}

// LinkedAmoAccounts returns the Amo tenants paired with a Bazon account.
func LinkedAmoAccounts(db *gorm.DB, bazonAccountId uint) ([]AmoAccount, error) {
	var accounts []AmoAccount
	err := db.
		Joins("JOIN amo_bazon_links ON amo_bazon_links.amo_account_id = amo_accounts.id").
		Where("amo_bazon_links.bazon_account_id = ?", bazonAccountId).
		Find(&accounts).Error
	return accounts, err
}
