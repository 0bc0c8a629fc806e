package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", filepath.Join(t.TempDir(), "doactl.db"))
	t.Setenv("NATS_URL", "")
	t.Setenv("POLICY_BASELINE_FILE", "")
	t.Setenv("ROLE_DIRECTORY_FILE", "")
}

const matrix = `
rules:
  - expense_type: OPEX
    category: Any
    min_amount: "20000"
    required_role: Head of Department
  - expense_type: OPEX
    category: Any
    min_amount: "5000"
    required_role: Finance Manager
  - expense_type: CAPEX
    min_amount: "1000"
    required_role: Asset Manager
`

func writeMatrix(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matrix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestMigrate(t *testing.T) {
	useSQLite(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Database migrations completed (sqlite)")

	_, err = execute(t, "migrate")
	assert.NoError(t, err)
}

func TestRulesImportListAndMatrix(t *testing.T) {
	useSQLite(t)

	out, err := execute(t, "rules", "import", writeMatrix(t, matrix))
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 rule(s)")

	out, err = execute(t, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "EXPENSE TYPE")
	assert.Contains(t, out, "Finance Manager")
	assert.Contains(t, out, "Asset Manager")

	out, err = execute(t, "--no-color", "rules", "matrix")
	require.NoError(t, err)
	capex := bytes.Index([]byte(out), []byte("CAPEX"))
	opex := bytes.Index([]byte(out), []byte("OPEX"))
	require.True(t, capex >= 0 && opex >= 0)
	assert.Less(t, capex, opex)
	assert.Contains(t, out, ">= 5000")
}

func TestRulesImport_InvalidFileStoresNothing(t *testing.T) {
	useSQLite(t)

	_, err := execute(t, "rules", "import", writeMatrix(t, `
rules:
  - expense_type: OPEX
    min_amount: "100"
    required_role: Line Manager
  - expense_type: LEASE
    min_amount: "100"
    required_role: CFO
`))
	require.Error(t, err)

	out, err := execute(t, "rules", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "No approval rules configured.")
}

func TestEvaluate(t *testing.T) {
	useSQLite(t)
	_, err := execute(t, "rules", "import", writeMatrix(t, matrix))
	require.NoError(t, err)

	out, err := execute(t, "evaluate", "--amount", "21000", "--category", "Office", "--type", "opex")
	require.NoError(t, err)
	assert.Contains(t, out, "Line Manager")
	assert.Contains(t, out, "Finance Manager")
	assert.Contains(t, out, "Head of Department")
	assert.Contains(t, out, "BASELINE")

	_, err = execute(t, "evaluate", "--amount", "ten", "--type", "OPEX")
	assert.Error(t, err)

	_, err = execute(t, "evaluate", "--amount", "10", "--type", "LEASE")
	assert.Error(t, err)

	_, err = execute(t, "evaluate", "--amount", "10")
	assert.Error(t, err, "--type is required")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "doactl dev\n", out)
}
