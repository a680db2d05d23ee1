package db

import (
	"context"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"edge-telemetry-agent/internal/model"
)

// openORM opens SQLite through GORM on the pure-Go modernc driver, so the agent
// cross-compiles for ARM boards without cgo.
func openORM(path string) (*gorm.DB, error) {
	dialector := sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"})
	return gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(&model.Channel{}, &model.ArchivedReading{})
}

func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// upsertChannels inserts channels or refreshes their metadata.
func upsertChannels(ctx context.Context, db *gorm.DB, chs []model.Channel) error {
	if len(chs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "unit", "address", "register_type"}),
	}).Create(&chs).Error
}

func insertReadings(ctx context.Context, db *gorm.DB, rs []model.ArchivedReading, batchSize int) error {
	if len(rs) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return db.WithContext(ctx).CreateInBatches(&rs, batchSize).Error
}
