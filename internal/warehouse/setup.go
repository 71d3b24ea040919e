package warehouse

import (
	"fmt"

	"gorm.io/gorm"
)

// Setup provisions the three warehouse tables (and the dataset schema when
// one is configured). Loading is a separate concern: the loaders refuse to
// run against missing tables instead of creating them implicitly.
func Setup(db *gorm.DB, schema string) error {
	if schema != "" && db.Dialector.Name() == "postgres" {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schema)).Error; err != nil {
			return err
		}
	}
	return db.AutoMigrate(&Movie{}, &DailySnapshot{}, &AggregatedMetric{})
}

// Reset drops all warehouse tables. Destructive; used by tooling only.
func Reset(db *gorm.DB) error {
	return db.Migrator().DropTable(&AggregatedMetric{}, &DailySnapshot{}, &Movie{})
}
