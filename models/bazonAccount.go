package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// BazonAccount holds one Bazon (ERP) credential set plus the refreshable
// token pair issued by the Bazon auth endpoint.
type BazonAccount struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	Name         string    `gorm:"index;size:255;not null" json:"name"`
	Login        string    `gorm:"size:255;not null" json:"-"`
	Password     string    `gorm:"size:255;not null" json:"-"`
	AccessToken  string    `gorm:"type:text" json:"-"`
	RefreshToken string    `gorm:"type:text" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindBazonAccount(db *gorm.DB, id uint) (*BazonAccount, error) {
	var account BazonAccount
	err := db.Where("id = ?", id).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// SaveTokens persists a freshly issued token pair.
func (b *BazonAccount) SaveTokens(db *gorm.DB, accessToken, refreshToken string) error {
	b.AccessToken = accessToken
	b.RefreshToken = refreshToken
	return db.Model(b).Updates(map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"updated_at":    time.Now(),
	}).Error
}
