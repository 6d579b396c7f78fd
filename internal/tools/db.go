package tools

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

//go:embed migration/*
var migrationFiles embed.FS

func ConnectSqlite(filePath string) (*sql.DB, error) {
	db, err := connectWithBackoff("sqlite3", filePath, 3)
	if err != nil {
		return nil, err
	}

	err = RunMigrations(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// RunMigrations applies every embedded migration in file name order. Each
// migration must be safe to run again on startup.
func RunMigrations(db *sql.DB) error {
	dirEntries, err := fs.ReadDir(migrationFiles, "migration")
	if err != nil {
		return err
	}
	for _, entry := range dirEntries {
		fileName := path.Join("migration", entry.Name())
		fileData, err := fs.ReadFile(migrationFiles, fileName)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(fileData)); err != nil {
			return err
		}
		log.WithField("migration", entry.Name()).Debug("Applied migration")
	}

	return nil
}

func connectWithBackoff(driver string, connStr string, maxRetries int) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = sql.Open(driver, connStr)
		if err != nil {
			log.WithError(err).Warnf("Failed attempt to connect to %s", driver)
			time.Sleep(time.Duration(i+1) * (3 * time.Second))
			continue
		}
		err = db.Ping()
		if err != nil {
			db.Close()
			log.WithError(err).Warnf("Failed attempt to connect to %s", driver)
			time.Sleep(time.Duration(i+1) * (3 * time.Second))
			continue
		}
		return db, nil
	}
	return nil, err
}
