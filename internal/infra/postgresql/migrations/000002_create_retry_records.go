package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
	"gorm.io/gorm"
)

func createRetryRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_retry_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RetryRecordModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_retry_records_due ON retry_records (next_attempt_at) WHERE status = 'PENDING'`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_retry_records_active ON retry_records (transmission_id) WHERE status IN ('PENDING', 'IN_PROGRESS')`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RetryRecordModel{})
		},
	}
}
