package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

func TestRoleDirectory_Lookup(t *testing.T) {
	dir := NewRoleDirectory(nil, "cwit.lk")
	ctx := context.Background()

	tests := []struct {
		role      string
		wantName  string
		wantEmail string
	}{
		{"CFO", "Jean-Luc Picard", "jean.cfo@cwit.lk"},
		{"Line Manager", "William Riker", "will.riker@cwit.lk"},
		{"Regional Ops Lead", "Approver", "regional.ops.lead@cwit.lk"},
		{"Procurement  \tHead", "Approver", "procurement.head@cwit.lk"},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			c := dir.Lookup(ctx, tt.role)
			assert.Equal(t, tt.role, c.Role)
			assert.Equal(t, tt.wantName, c.DisplayName)
			assert.Equal(t, tt.wantEmail, c.Email)
		})
	}
}

func TestRoleDirectory_FallbackUsesDomain(t *testing.T) {
	dir := NewRoleDirectory(map[string]repository.RoleContact{}, "example.org")
	assert.Equal(t, "asset.manager@example.org", dir.Lookup(context.Background(), "Asset Manager").Email)
}

func TestLoadRoleDirectory_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roles:
  CFO:
    name: Nyota Uhura
    email: uhura.cfo@cwit.lk
  Asset Manager:
    name: Miles O'Brien
    email: obrien.assets@cwit.lk
`), 0o600))

	dir, err := LoadRoleDirectory(path, "cwit.lk")
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, "Nyota Uhura", dir.Lookup(ctx, "CFO").DisplayName)
	assert.Equal(t, "obrien.assets@cwit.lk", dir.Lookup(ctx, "Asset Manager").Email)
	assert.Equal(t, "sarah.ceo@cwit.lk", dir.Lookup(ctx, "CEO").Email)
}

func TestLoadRoleDirectory_RequiresEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  CFO:\n    name: Nobody\n"), 0o600))

	_, err := LoadRoleDirectory(path, "cwit.lk")
	assert.Error(t, err)
}

func TestLoadRoleDirectory_ShippedFile(t *testing.T) {
	dir, err := LoadRoleDirectory("../../configs/role-directory.yaml", "cwit.lk")
	require.NoError(t, err)

	c := dir.Lookup(context.Background(), "Asset Manager")
	assert.Equal(t, "asset.manager@cwit.lk", c.Email)
	assert.Equal(t, "Miles O'Brien", c.DisplayName)
}
