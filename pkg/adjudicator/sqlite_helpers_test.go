package adjudicator_test

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// assertNoTokenInDB scans every text column of the engine's tables for the
// raw patient token hex.
func assertNoTokenInDB(t *testing.T, db *sql.DB, tokenHex string) {
	t.Helper()

	queries := map[string]string{
		"visit_counters": `SELECT visit_group FROM visit_counters`,
		"commitments":    `SELECT key FROM commitments`,
		"claim_records":  `SELECT commitment_key FROM claim_records`,
	}
	for table, q := range queries {
		rows, err := db.Query(q)
		require.NoError(t, err)
		for rows.Next() {
			var v string
			require.NoError(t, rows.Scan(&v))
			assert.False(t, strings.Contains(strings.ToLower(v), strings.ToLower(tokenHex)),
				"table %s leaks the patient token", table)
		}
		require.NoError(t, rows.Err())
		require.NoError(t, rows.Close())
	}
}
