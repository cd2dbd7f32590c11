package sqlstore_test

import (
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

var tables = []string{
	"workflows",
	"workflow_drafts",
	"workflow_versions",
	"workflow_runs",
	"workflow_step_executions",
	"workflow_waits",
	"workflow_events",
}

// ConnectForTesting connects to the database named by WORKFLOW_TEST_MYSQL_DSN
// and applies a fresh schema. The workflow tables are dropped and recreated on
// every call, so point the DSN at a throwaway database. Tests are skipped when
// the variable is unset.
func ConnectForTesting(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("WORKFLOW_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("WORKFLOW_TEST_MYSQL_DSN not set")
	}

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	dbc, err := sql.Open("mysql", cfg.FormatDSN())
	require.NoError(t, err)
	t.Cleanup(func() { dbc.Close() })

	for _, table := range tables {
		_, err = dbc.Exec("drop table if exists " + table)
		require.NoError(t, err)
	}

	schema, err := os.ReadFile("schema.sql")
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err = dbc.Exec(stmt)
		require.NoError(t, err)
	}

	return dbc
}
