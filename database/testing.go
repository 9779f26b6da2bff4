package database

import (
	"fmt"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDBCounter atomic.Uint64

// ConnectTestDB opens an in-memory sqlite database so tests do not need a
// running MySQL server. Each call returns an isolated database.
func ConnectTestDB() (*gorm.DB, error) {
	// A named shared-cache DB keeps every pooled connection on the same
	// data; one open connection avoids sqlite write contention in tests.
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBCounter.Add(1))

	gormConfig := gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func ConnectAndInitializeTestDB() (*gorm.DB, error) {
	db, err := ConnectTestDB()
	if err != nil {
		return nil, fmt.Errorf("ConnectAndInitializeTestDB: %w", err)
	}

	err = db.AutoMigrate(entities...)
	if err != nil {
		return nil, fmt.Errorf("ConnectAndInitializeTestDB: AutoMigrate: %w", err)
	}

	return db, nil
}
