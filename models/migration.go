package models

import (
	"log"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Category{},
		&Product{},
		&Purchase{}, &PurchaseLine{},
		&Draft{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
