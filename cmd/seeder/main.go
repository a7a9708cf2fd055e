package main

import (
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/samuelwildary2025/disparo/internal/config"
	"github.com/samuelwildary2025/disparo/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("[Seeder] config: ", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("[Seeder] database: ", err)
	}
	defer database.Close()

	seedFiles := []string{
		"seed/schema.sql",
		"seed/catalog.sql",
		"seed/contacts.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("[Seeder] read %s: %v", file, err)
		}

		if _, err := database.Exec(string(content)); err != nil {
			log.Fatalf("[Seeder] execute %s: %v", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}

	fmt.Println("Database seeding completed successfully!")
}
