package database

import (
	"fmt"
	"time"

	"orderengine/src/database/migrations"
	"orderengine/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

func dialector(config Config) (gorm.Dialector, error) {
	switch config.Driver {
	case DriverPostgres, "":
		return postgres.Open(config.DatabaseURLMain), nil
	case DriverSQLite:
		return sqlite.Open(config.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", config.Driver)
	}
}

// Open connects with the configured driver and tunes the pool. It does not migrate.
func Open(config Config) (*gorm.DB, error) {
	d, err := dialector(config)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", config.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB from gorm: %w", err)
	}
	if config.Driver == DriverSQLite {
		// sqlite serializes writers; one connection avoids "database is locked"
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(1 * time.Hour)
	}
	return db, nil
}

// Migrate runs AutoMigrate for the write-side schema, then the data migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.ExchangeCredential{},
		&model.OrderExecution{},
		&model.Position{},
		&model.RiskViolation{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}
	return nil
}

// InitMainDB initializes the main (read/write) database connection and runs migrations.
// This should be called once at application startup.
func InitMainDB() (*gorm.DB, error) {
	config := GetConfig()

	db, err := Open(config)
	if err != nil {
		return nil, err
	}

	// Assign to the global variable only after a successful connection.
	MainDB = db
	logrus.WithField("driver", config.Driver).Info("[database] MainDB connection established")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	logrus.Info("[database] MainDB migrations completed")

	return db, nil
}
