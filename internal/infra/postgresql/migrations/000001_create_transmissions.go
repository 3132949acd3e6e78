package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
	"gorm.io/gorm"
)

func createTransmissionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_transmissions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TransmissionModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_transmissions_org_status_created ON transmissions (organization_id, status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_transmissions_document_ref ON transmissions (document_ref)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TransmissionModel{})
		},
	}
}
