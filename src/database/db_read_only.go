package database

import (
	"fmt"

	"orderengine/src/externalmodel"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ReadOnlyDB is the read-only connection to the signal database.
// The database user for this connection should have SELECT-only permissions.
var ReadOnlyDB *gorm.DB

// InitReadOnlyDB connects to DATABASE_URL_READONLY. It never migrates.
// When the URL is empty it returns (nil, nil) and reversal hints are disabled.
func InitReadOnlyDB() (*gorm.DB, error) {
	config := GetConfig()
	if config.DatabaseURLReadOnly == "" {
		logrus.Info("[ReadOnlyDB] DATABASE_URL_READONLY not set, signal source disabled")
		return nil, nil
	}

	db, err := gorm.Open(postgres.Open(config.DatabaseURLReadOnly),
		&gorm.Config{
			PrepareStmt:    true,
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("connect ReadOnlyDB: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB from ReadOnlyDB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping ReadOnlyDB: %w", err)
	}

	var dbName, schema string
	if err := db.
		Raw("SELECT current_database(), current_schema()").
		Row().
		Scan(&dbName, &schema); err != nil {
		return nil, fmt.Errorf("failed to query current db/schema on ReadOnlyDB: %w", err)
	}

	var count int64
	if err := db.Model(&externalmodel.TradingSignal{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to access trade_tradingsignal: %w", err)
	}

	logrus.WithFields(map[string]interface{}{
		"dbName": dbName,
		"schema": schema,
		"count":  count,
	}).Info("[ReadOnlyDB] trade_tradingsignal reachable")

	ReadOnlyDB = db
	return db, nil
}
