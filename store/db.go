package store

import (
	"fmt"
	"strings"

	sqlitedialect "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the merchant backend's database, dispatching on dsn's scheme
// the way services/otc-gateway wires either a postgres or sqlite gorm
// dialector, then runs AutoMigrate.
func Open(dsn string) (*gorm.DB, error) {
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return db, nil
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlitedialect.Open(strings.TrimPrefix(dsn, "sqlite://")), nil
	case dsn == "":
		return nil, fmt.Errorf("store: empty database dsn")
	default:
		// Bare filesystem path or ":memory:" is treated as sqlite, matching
		// the teacher's local/dev fallback in services/payments-gateway.
		return sqlitedialect.Open(dsn), nil
	}
}
