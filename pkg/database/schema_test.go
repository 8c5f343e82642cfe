package database

import (
	"testing"
)

func TestSchemaValidator_ValidateTablesExist(t *testing.T) {
	empty := NewSchemaValidator(openTestDB(t))
	if err := empty.ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}

	migrated := NewSchemaValidator(migratedTestDB(t))
	if err := migrated.ValidateTablesExist(); err != nil {
		t.Errorf("ValidateTablesExist should pass after migration: %v", err)
	}
}

func TestSchemaValidator_ValidateTableStructure(t *testing.T) {
	v := NewSchemaValidator(migratedTestDB(t))

	if err := v.ValidateTableStructure(); err != nil {
		t.Errorf("ValidateTableStructure failed: %v", err)
	}
}

func TestSchemaValidator_DetectsWrongColumnType(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE rooms (id INTEGER PRIMARY KEY, created_at DATETIME)`); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	err := NewSchemaValidator(db).validateColumns("rooms", map[string]string{"id": "TEXT"})
	if err == nil {
		t.Error("Expected type mismatch to be reported")
	}
}

func TestSchemaValidator_ValidateIndexes(t *testing.T) {
	v := NewSchemaValidator(migratedTestDB(t))

	if err := v.ValidateIndexes(); err != nil {
		t.Errorf("ValidateIndexes failed: %v", err)
	}
}

func TestSchemaValidator_ValidateConstraints(t *testing.T) {
	db := migratedTestDB(t)
	v := NewSchemaValidator(db)

	if err := v.ValidateConstraints(); err != nil {
		t.Errorf("ValidateConstraints failed: %v", err)
	}

	// probes leave nothing behind
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		t.Fatalf("Failed to count users: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no probe rows, found %d users", count)
	}
}
