//go:build integration

// Package database provides test database clients for integration tests.
package database

import (
	"testing"

	"github.com/charter-works/charterd/pkg/database"
	"github.com/charter-works/charterd/test/util"
)

// NewTestClient creates a migrated, schema-isolated database client.
// In CI (CI_DATABASE_URL set) it connects to the external PostgreSQL
// service container; locally it uses a shared testcontainer. Cleanup is
// registered on the test.
func NewTestClient(t *testing.T) *database.Client {
	db := util.SetupTestDatabase(t)
	return database.NewClientFromDB(db)
}
