package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator_MigratedSchema(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db).ApplyMigrations())

	validator := NewSchemaValidator(db)
	assert.NoError(t, validator.ValidateTablesExist())
	assert.NoError(t, validator.ValidateTableStructure())
	assert.NoError(t, validator.ValidateIndexes())
	assert.NoError(t, validator.ValidateConstraints())

	// Constraint probe must not leave rows behind
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM registrations").Scan(&count))
	assert.Zero(t, count)
}

func TestSchemaValidator_MissingTables(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec("CREATE TABLE messages (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	validator := NewSchemaValidator(db)
	assert.Error(t, validator.ValidateTablesExist())
}

func TestSchemaValidator_WrongColumnType(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`
		CREATE TABLE messages (id INTEGER, sender TEXT, receiver TEXT, body TEXT, sent_at TEXT);
		CREATE TABLE registrations (id INTEGER, username TEXT, registered_at DATETIME, message_count INTEGER);
	`)
	require.NoError(t, err)

	err = NewSchemaValidator(db).ValidateTableStructure()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sent_at")
}

func TestSchemaValidator_MissingUniqueConstraint(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec("CREATE TABLE registrations (id INTEGER PRIMARY KEY, username TEXT)")
	require.NoError(t, err)

	assert.Error(t, NewSchemaValidator(db).ValidateConstraints())
}
