package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
	"gorm.io/gorm"
)

func createStatusLogTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_status_log",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.StatusLogModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_status_log_transmission ON status_log (transmission_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.StatusLogModel{})
		},
	}
}
