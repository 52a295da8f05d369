package models

import (
	"log"

	"bitbucket.org/kontrabaz/amobazon_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&AmoAccount{}, &BazonAccount{},
		&StatusMapping{}, &ManagerMapping{},
		&SaleDocument{}, &Contractor{},
		&SyncRun{}, &SyncError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
