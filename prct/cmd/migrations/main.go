package main

import (
	"flag"
	"log"

	"prct/prct/cmd"
	"prct/prct/schema"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func main() {
	dbUri := flag.String("db", "", "Database URI")
	flag.Parse()

	db := cmd.OpenDB(*dbUri)

	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "0",
			Migrate: func(txn *gorm.DB) error {
				return txn.AutoMigrate(&schema.RetractedWork{}, &schema.Citation{}, &schema.FetchLog{})
			},
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Run when no previous migration is detected, creates the latest
		// database state directly instead of replaying every migration.
		log.Println("clean database detected, running full schema initialization")

		return txn.AutoMigrate(&schema.RetractedWork{}, &schema.Citation{}, &schema.FetchLog{})
	})

	if err := migrator.Migrate(); err != nil {
		log.Fatalf("db migration failed: %v", err)
	}

	log.Println("db migrations complete")
}
