// cmd/portal-migrate/main.go
package main

import (
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portal-migrate",
	Short: "Manage the onboarding database schema",
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending schema migrations",
	Run: func(cmd *cobra.Command, args []string) {
		m := newMigrator(cmd)
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		printVersion(m, "Schema is up to date")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent schema migration",
	Run: func(cmd *cobra.Command, args []string) {
		m := newMigrator(cmd)
		if err := m.Steps(-1); err != nil {
			fmt.Printf("Failed to roll back: %v\n", err)
			os.Exit(1)
		}
		printVersion(m, "Rolled back one migration")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(newMigrator(cmd), "")
	},
}

func newMigrator(cmd *cobra.Command) *migrate.Migrate {
	// Load .env if present
	if err := godotenv.Load(); err != nil {
		fmt.Printf("No .env file found or failed to load: %v. Using --db flag.\n", err)
	}

	connStr, _ := cmd.Flags().GetString("db")
	if connStr == "" {
		var err error
		if connStr, err = connStringFromEnv(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
	source, _ := cmd.Flags().GetString("source")

	m, err := migrate.New(source, connStr)
	if err != nil {
		fmt.Printf("Failed to initialize migrations: %v\n", err)
		os.Exit(1)
	}
	return m
}

// connStringFromEnv builds the postgres URL from the DB_* variables the
// worker and server commands also use. DB_SSLMODE defaults to disable for
// local setups.
func connStringFromEnv() (string, error) {
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		return "", fmt.Errorf("--db flag or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
	}
	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUsername, dbPassword, dbHost, dbPort, dbName, sslMode), nil
}

func printVersion(m *migrate.Migrate, prefix string) {
	version, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		fmt.Println("Schema version: none")
		return
	}
	if err != nil {
		fmt.Printf("Failed to read schema version: %v\n", err)
		os.Exit(1)
	}
	if prefix != "" {
		fmt.Println(prefix)
	}
	fmt.Printf("Schema version: %d (dirty: %t)\n", version, dirty)
}

func main() {
	for _, cmd := range []*cobra.Command{upCmd, downCmd, versionCmd} {
		cmd.Flags().String("db", "", "Database connection string (optional if DB_* env vars are set)")
		cmd.Flags().String("source", "file://migrations", "Migration source URL")
		rootCmd.AddCommand(cmd)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
