package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/podium/internal/materials"
)

const (
	migrationDefaultMaterialVisibility = "2026-09-14_default_material_visibility"
	migrationRepairMaterialVersions    = "2026-10-02_repair_material_versions"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDefaultMaterialVisibility, apply: defaultMaterialVisibility},
		{name: migrationRepairMaterialVersions, apply: repairMaterialVersions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func defaultMaterialVisibility(db *gorm.DB) error {
	return db.Model(&materials.MaterialRecord{}).
		Where("visibility = ''").
		Update("visibility", materials.VisibilityPrivate).Error
}

func repairMaterialVersions(db *gorm.DB) error {
	return db.Model(&materials.MaterialRecord{}).
		Where("version < 1").
		Update("version", 1).Error
}
