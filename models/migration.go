package models

import (
	"log"

	"bitbucket.org/safeplayhq/inspect_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Tenant{}, &User{},
		&Site{},
		&Inspection{}, &Defect{},
		&Attachment{},
		&History{},
		&SealedExport{}, &SealOutboxMessage{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
