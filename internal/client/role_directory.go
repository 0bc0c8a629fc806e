package client

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// DefaultRoleContacts maps DoA roles to the people who currently hold them.
var DefaultRoleContacts = map[string]repository.RoleContact{
	"CEO":                {DisplayName: "Sarah Connor", Email: "sarah.ceo@cwit.lk"},
	"CFO":                {DisplayName: "Jean-Luc Picard", Email: "jean.cfo@cwit.lk"},
	"COO":                {DisplayName: "Ellen Ripley", Email: "ellen.coo@cwit.lk"},
	"Finance Director":   {DisplayName: "Geordi La Forge", Email: "geordi.fin@cwit.lk"},
	"Finance Manager":    {DisplayName: "Hikaru Sulu", Email: "sulu.fin@cwit.lk"},
	"Line Manager":       {DisplayName: "William Riker", Email: "will.riker@cwit.lk"},
	"Head of Department": {DisplayName: "Kathryn Janeway", Email: "janeway.hod@cwit.lk"},
	"IT Director":        {DisplayName: "Data Soong", Email: "data.it@cwit.lk"},
	"HR Director":        {DisplayName: "Deanna Troi", Email: "deanna.hr@cwit.lk"},
}

const fallbackDisplayName = "Approver"

var whitespaceRun = regexp.MustCompile(`\s+`)

// RoleDirectory resolves approval roles to contacts. Unknown roles get a
// synthetic address derived from the role name.
type RoleDirectory struct {
	mu       sync.RWMutex
	contacts map[string]repository.RoleContact
	domain   string
}

// NewRoleDirectory creates a directory over contacts. A nil map uses
// DefaultRoleContacts.
func NewRoleDirectory(contacts map[string]repository.RoleContact, domain string) *RoleDirectory {
	if contacts == nil {
		contacts = DefaultRoleContacts
	}
	if domain == "" {
		domain = "cwit.lk"
	}
	copied := make(map[string]repository.RoleContact, len(contacts))
	for role, c := range contacts {
		c.Role = role
		copied[role] = c
	}
	return &RoleDirectory{contacts: copied, domain: domain}
}

// LoadRoleDirectory reads role contacts from a YAML file and layers them over
// DefaultRoleContacts:
//
//	roles:
//	  CFO:
//	    name: Jean-Luc Picard
//	    email: jean.cfo@cwit.lk
func LoadRoleDirectory(path, domain string) (*RoleDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role directory: %w", err)
	}

	var doc struct {
		Roles map[string]repository.RoleContact `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse role directory: %w", err)
	}

	merged := make(map[string]repository.RoleContact, len(DefaultRoleContacts)+len(doc.Roles))
	for role, c := range DefaultRoleContacts {
		merged[role] = c
	}
	for role, c := range doc.Roles {
		if c.Email == "" {
			return nil, fmt.Errorf("role %q: email is required", role)
		}
		merged[role] = c
	}
	return NewRoleDirectory(merged, domain), nil
}

// Lookup returns the contact for role. It never fails.
func (d *RoleDirectory) Lookup(_ context.Context, role string) repository.RoleContact {
	d.mu.RLock()
	c, ok := d.contacts[role]
	d.mu.RUnlock()
	if ok {
		return c
	}
	return repository.RoleContact{
		Role:        role,
		DisplayName: fallbackDisplayName,
		Email:       strings.ToLower(whitespaceRun.ReplaceAllString(role, ".")) + "@" + d.domain,
	}
}

// Set registers or replaces the holder of role.
func (d *RoleDirectory) Set(role string, c repository.RoleContact) {
	c.Role = role
	d.mu.Lock()
	d.contacts[role] = c
	d.mu.Unlock()
}
