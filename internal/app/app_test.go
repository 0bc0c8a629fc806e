package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/config"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

func testConfig(driver string) *config.Config {
	cfg := &config.Config{}
	cfg.Service.Name = "be-spend-approvals"
	cfg.Database.Driver = driver
	cfg.Directory.Domain = "cwit.lk"
	return cfg
}

func TestNewServices(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(driver)
			cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "nested", "approvals.db")

			svcs, err := NewServices(context.Background(), cfg, logger.Nop())
			require.NoError(t, err)
			defer svcs.Close()

			require.NoError(t, svcs.Store.Ping(context.Background()))

			req, err := svcs.Approvals.Submit(context.Background(), service.SubmitInput{
				Title:       "Desk",
				Amount:      decimal.NewFromInt(300),
				Currency:    "USD",
				Category:    "Office",
				ExpenseType: repository.ExpenseTypeOPEX,
			}, "employee@cwit.lk")
			require.NoError(t, err)
			require.Len(t, req.Steps, 1)

			inbox, err := svcs.Inbox.Unread(context.Background(), "will.riker@cwit.lk")
			require.NoError(t, err)
			assert.Len(t, inbox, 1)
		})
	}
}

func TestNewServices_PolicyFiles(t *testing.T) {
	dir := t.TempDir()
	baseline := filepath.Join(dir, "baseline.yaml")
	require.NoError(t, os.WriteFile(baseline, []byte(`
baseline:
  - name: capex-review
    expense_type: CAPEX
    role: Capex Committee
    position: back
`), 0o600))
	directory := filepath.Join(dir, "roles.yaml")
	require.NoError(t, os.WriteFile(directory, []byte(`
roles:
  Capex Committee:
    name: Capital Board
    email: capex.board@cwit.lk
`), 0o600))

	cfg := testConfig("memory")
	cfg.Policy.BaselineFile = baseline
	cfg.Directory.File = directory

	svcs, err := NewServices(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer svcs.Close()

	req, err := svcs.Approvals.Submit(context.Background(), service.SubmitInput{
		Title:       "Crane",
		Amount:      decimal.NewFromInt(50),
		Currency:    "USD",
		Category:    "Plant",
		ExpenseType: repository.ExpenseTypeCAPEX,
	}, "employee@cwit.lk")
	require.NoError(t, err)
	require.Len(t, req.Steps, 1)
	assert.Equal(t, "Capex Committee", req.Steps[0].RoleName)

	inbox, err := svcs.Inbox.Unread(context.Background(), "capex.board@cwit.lk")
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), testConfig("mysql"), logger.Nop())
	assert.Error(t, err)
}

func TestNewServices_EmptyBaselineFile(t *testing.T) {
	baseline := filepath.Join(t.TempDir(), "baseline.yaml")
	require.NoError(t, os.WriteFile(baseline, []byte("baseline: []\n"), 0o600))

	cfg := testConfig("memory")
	cfg.Policy.BaselineFile = baseline

	svcs, err := NewServices(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer svcs.Close()

	_, err = svcs.Rules.CreateRule(context.Background(), service.RuleInput{
		ExpenseType:  "OPEX",
		MinAmount:    "1000",
		RequiredRole: "Finance Manager",
	})
	require.NoError(t, err)

	req, err := svcs.Approvals.Submit(context.Background(), service.SubmitInput{
		Title:       "Chairs",
		Amount:      decimal.NewFromInt(1500),
		Currency:    "USD",
		Category:    "Office",
		ExpenseType: repository.ExpenseTypeOPEX,
	}, "employee@cwit.lk")
	require.NoError(t, err)
	require.Len(t, req.Steps, 1)
	assert.Equal(t, "Finance Manager", req.Steps[0].RoleName)
}
