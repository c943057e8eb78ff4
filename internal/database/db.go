package database

import (
	"database/sql"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Config holds database configuration
type Config struct {
	Path  string // Path to SQLite database file
	Debug bool   // Log every SQL statement
}

// DB wraps the GORM database instance
type DB struct {
	db *gorm.DB
}

// NewDB opens the pairing database with the pure Go SQLite driver and
// migrates the schema.
func NewDB(config Config, log *log.Logger) (*DB, error) {
	// Configure GORM logger
	var gormLog logger.Interface
	if log != nil {
		level := logger.Warn
		if config.Debug {
			level = logger.Info
		}
		gormLog = logger.New(
			log,
			logger.Config{
				LogLevel:                  level,
				IgnoreRecordNotFoundError: true,        // Don't log "record not found" errors
				Colorful:                  false,       // No color in logs
			},
		)
	} else {
		gormLog = logger.Default.LogMode(logger.Silent)
	}

	// Create dialector with pure Go SQLite driver
	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}

	// Open database connection
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, err
	}

	// Get underlying SQL DB for PRAGMA settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Configure SQLite for optimal performance
	if err := configureSQLite(sqlDB); err != nil {
		return nil, err
	}

	// Auto-migrate database schema
	if err := db.AutoMigrate(&Pairing{}, &DeviceState{}, &SessionEvent{}); err != nil {
		return nil, err
	}

	if log != nil {
		log.Printf("Pairing database opened: %s", config.Path)
	}

	return &DB{db: db}, nil
}

// configureSQLite applies the connection PRAGMAs
func configureSQLite(sqlDB *sql.DB) error {
	pragmaSettings := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL", // Pairing records must survive power loss
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=memory",
	}

	for _, pragma := range pragmaSettings {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}

	return nil
}

// GetDB returns the underlying GORM database instance
func (db *DB) GetDB() *gorm.DB {
	return db.db
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database connection is healthy
func (db *DB) Health() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
