package database

import (
	"path/filepath"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/models"
)

var (
	o  sync.Once
	db *gorm.DB
)

// Initialize configures the database connection used by the daemon and runs
// the migrations for all known models. This must be called before Instance.
func Initialize() error {
	var err error
	o.Do(func() {
		path := filepath.Join(config.Get().System.DataDirectory, "curator.db")
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			err = errors.Wrap(err, "database: could not open sqlite database")
			return
		}

		if sql, serr := db.DB(); serr == nil {
			sql.SetMaxOpenConns(1)
			sql.SetConnMaxLifetime(time.Hour)
		}

		err = db.AutoMigrate(
			&models.Anime{},
			&models.Picture{},
			&models.Module{},
			&models.TaskRun{},
		)
		if err != nil {
			err = errors.Wrap(err, "database: could not run migrations")
		}
	})
	return err
}

// Instance returns the gorm database instance that was configured when the
// application was booted.
func Instance() *gorm.DB {
	if db == nil {
		panic("database: attempt to access instance before initialized")
	}
	return db
}
