// Command migrate applies the ledger schema to MySQL.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"

	"pos-ledger/internal/config"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/storage"
)

func main() {
	envFlag := flag.String("env", "dev", "Environment (dev, test, prod)")
	envFileFlag := flag.String("env-file", "", "Path to .env file")
	migrationFlag := flag.String("migration", "migrate.sql", "Path to migration file; built-in schema when missing")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	loadEnv(log, *envFlag, *envFileFlag)
	cfg := config.Load()

	dsnCfg, err := mysql.ParseDSN(storage.DSN(cfg.Database))
	if err != nil {
		log.Fatal("MIGRATE", "Invalid database configuration: "+err.Error())
	}
	dsnCfg.MultiStatements = true

	log.LogDatabase("CONNECT", "mysql", fmt.Sprintf("Connecting to MySQL at %s as %s", dsnCfg.Addr, dsnCfg.User))
	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		log.Fatal("MIGRATE", "Failed to connect to database: "+err.Error())
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("MIGRATE", "Failed to ping database: "+err.Error())
	}

	statements, source := loadMigration(*migrationFlag)
	log.LogProcess("MIGRATE", "Executing migration from "+source)
	if _, err := db.Exec(statements); err != nil {
		log.Fatal("MIGRATE", "Failed to execute migration: "+err.Error())
	}

	log.LogProcess("MIGRATE", "Migration completed successfully")
}

func loadMigration(path string) (string, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return strings.Join(storage.Schema, ";\n") + ";", "built-in schema"
	}
	return string(data), path
}

func loadEnv(log *logger.Logger, env, envFile string) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err == nil {
			log.Info("ENV", "Loaded environment from "+envFile)
			return
		}
	}

	envSpecificFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envSpecificFile); err == nil {
		log.Info("ENV", "Loaded environment from "+envSpecificFile)
		return
	}

	if err := godotenv.Load(); err == nil {
		log.Info("ENV", "Loaded environment from .env")
		return
	}

	log.Warn("ENV", "No .env file found, using default or system environment variables")
}
