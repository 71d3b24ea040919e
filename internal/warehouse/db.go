package warehouse

import (
	"errors"
	"net/url"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"moviepulse/internal/config"
)

// Connect opens a GORM connection to the warehouse using APP_DATABASE_URL
// (PostgreSQL URL). No tables are created here; provisioning is explicit
// via Setup so that the loaders can treat a missing table as a deployment
// defect rather than papering over it.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// pgx passes unknown URL query parameters through as runtime parameters,
	// so the dataset schema can ride along as search_path.
	if cfg.WarehouseSchema != "" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "search_path=" + url.QueryEscape(cfg.WarehouseSchema)
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple
	// protocol for "SELECT * FROM table LIMIT 1", which would otherwise trigger
	// "insufficient arguments".
	return gorm.Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true})
}
