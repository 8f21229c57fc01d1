package main

import (
	"fmt"
	"log"
	"os"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/migrate/main.go [up|down|status]")
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	migrator := database.NewMigrator(db)

	switch command {
	case "up":
		fmt.Println("Running migrations...")
		if err := migrator.Up(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		fmt.Println("Migrations completed successfully")

	case "down":
		fmt.Println("Rolling back migrations...")
		if err := migrator.Down(); err != nil {
			log.Fatalf("Failed to rollback migrations: %v", err)
		}
		fmt.Println("Migrations rolled back successfully")

	case "status":
		stats, err := db.GetConnectionStats()
		if err != nil {
			log.Fatalf("Failed to get connection stats: %v", err)
		}

		fmt.Printf("Database connection status:\n")
		fmt.Printf("  Max Open Connections: %d\n", stats.MaxOpenConnections)
		fmt.Printf("  Open Connections: %d\n", stats.OpenConnections)
		fmt.Printf("  In Use: %d\n", stats.InUse)
		fmt.Printf("  Idle: %d\n", stats.Idle)

		missing := 0
		fmt.Printf("Tables:\n")
		for _, table := range migrator.Status() {
			state := "present"
			if !table.Exists {
				state = "missing"
				missing++
			}
			fmt.Printf("  %-16s %s\n", table.Table, state)
		}

		if missing > 0 {
			fmt.Println("Migrations need to be run")
			os.Exit(1)
		}
		fmt.Println("Database is migrated")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Available commands: up, down, status")
		os.Exit(1)
	}
}
