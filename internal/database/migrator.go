package database

import (
	"crm-sync-platform/internal/models"
)

// Migrator handles database migrations
type Migrator struct {
	db *Connection
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *Connection) *Migrator {
	return &Migrator{db: db}
}

// Up creates or updates the sync audit tables
func (m *Migrator) Up() error {
	return m.db.AutoMigrate(
		&models.SyncRecord{},
		&models.FieldMapping{},
	)
}

// Down drops the sync audit tables
func (m *Migrator) Down() error {
	return m.db.Migrator().DropTable(
		&models.FieldMapping{},
		&models.SyncRecord{},
	)
}

// TableStatus reports whether a managed table exists
type TableStatus struct {
	Table  string
	Exists bool
}

// Status reports the managed tables and whether each exists
func (m *Migrator) Status() []TableStatus {
	tables := []interface{}{&models.SyncRecord{}, &models.FieldMapping{}}
	names := []string{models.SyncRecord{}.TableName(), models.FieldMapping{}.TableName()}

	status := make([]TableStatus, len(tables))
	for i, table := range tables {
		status[i] = TableStatus{Table: names[i], Exists: m.db.Migrator().HasTable(table)}
	}
	return status
}
