package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reliefwallet/credential-engine/internal/database"
)

// setupTestDB connects to TEST_DATABASE_URL, migrates it and empties the
// credential tables. Tests are skipped when no database is configured.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, database.Migrate(url))

	db, err := database.Connect(url)
	require.NoError(t, err)

	_, err = db.ExecContext(context.Background(), `
		TRUNCATE credential_history, credential_records, cases, profiles CASCADE
	`)
	require.NoError(t, err)

	return db
}

func insertApprovedCase(t *testing.T, db *database.DB, caseNo, idNumber string) string {
	t.Helper()

	var id string
	err := db.GetContext(context.Background(), &id, `
		INSERT INTO cases (case_no, applicant_name, id_number, phone, address, status, approved_at)
		VALUES ($1, 'Wang Xiaoming', $2, '0912345678', 'No. 100, Minsheng Rd', 'approved', NOW())
		RETURNING id
	`, caseNo, idNumber)
	require.NoError(t, err)
	return id
}
