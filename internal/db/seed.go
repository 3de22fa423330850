package db

import (
	"errors"
	"fmt"

	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/internal/models"
	"gorm.io/gorm"
)

type permissionSeed struct {
	ResourceType string
	Action       string
	Description  string
}

var permissionSeeds = []permissionSeed{
	{"*", "*", "Full system access"},
	{"sale", "*", "All sale actions"},
	{"sale", "list", "List sales and open tabs"},
	{"sale", "view", "View a sale"},
	{"sale", "create", "Record sales and open tabs"},
	{"sale", "update", "Add or replace lines on an open tab"},
	{"sale", "close", "Close an open tab"},
	{"closing", "*", "All cash closing actions"},
	{"closing", "list", "List cash closings"},
	{"closing", "view", "View a cash closing"},
	{"closing", "create", "Run an X closing"},
	{"closing", "delete", "Run a Z closing (purges sales)"},
	{"product", "*", "All product actions"},
	{"product", "list", "List products"},
	{"product", "view", "View a product"},
	{"product", "create", "Create products"},
	{"product", "update", "Edit products"},
	{"product", "delete", "Delete products"},
	{"table", "*", "All table actions"},
	{"table", "list", "List tables"},
	{"table", "view", "View a table"},
	{"table", "create", "Create tables"},
	{"table", "update", "Edit tables"},
	{"table", "delete", "Delete tables"},
	{"user", "*", "All user management"},
	{"user", "list", "List users of the tenant"},
	{"user", "create", "Create users in the tenant"},
	{"user", "delete", "Delete users of the tenant"},
}

type profileSeed struct {
	Name        string
	Description string
	Permissions []string
}

var profileSeeds = []profileSeed{
	{
		Name:        models.ProfileAdmin,
		Description: "Tenant owner with every permission",
		Permissions: []string{"*:*"},
	},
	{
		Name:        models.ProfileCashier,
		Description: "Runs tabs, sales and cash closings",
		Permissions: []string{
			"sale:*",
			"closing:create", "closing:list", "closing:view",
			"product:list", "product:view",
			"table:list", "table:view",
		},
	},
	{
		Name:        models.ProfileViewer,
		Description: "Read-only access",
		Permissions: []string{
			"sale:list", "sale:view",
			"closing:list", "closing:view",
			"product:list", "product:view",
			"table:list", "table:view",
		},
	},
}

// SeedPermissions creates the permission catalogue. Safe to run repeatedly.
func SeedPermissions(db *gorm.DB) error {
	for _, p := range permissionSeeds {
		perm := models.Permission{ResourceType: p.ResourceType, Action: p.Action, Description: p.Description}
		if err := db.Where("resource_type = ? AND action = ?", p.ResourceType, p.Action).
			FirstOrCreate(&perm).Error; err != nil {
			return err
		}
	}
	return nil
}

// SeedProfiles creates the system profiles and resets their grants to the
// seeded set.
func SeedProfiles(db *gorm.DB) error {
	if err := SeedPermissions(db); err != nil {
		return err
	}
	for _, p := range profileSeeds {
		var profile models.Profile
		err := db.Where("name = ?", p.Name).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			profile = models.Profile{Name: p.Name, Description: p.Description, IsSystem: true}
			err = db.Create(&profile).Error
		}
		if err != nil {
			return err
		}

		perms := make([]models.Permission, 0, len(p.Permissions))
		for _, code := range p.Permissions {
			parsed, err := gate.ParsePermission(code)
			if err != nil {
				return err
			}
			res, act := parsed.Split()
			var perm models.Permission
			if err := db.Where("resource_type = ? AND action = ?", res, string(act)).First(&perm).Error; err != nil {
				return fmt.Errorf("profile %s: permission %s: %w", p.Name, code, err)
			}
			perms = append(perms, perm)
		}
		if err := db.Model(&profile).Association("Permissions").Replace(perms); err != nil {
			return err
		}
	}
	return nil
}

// Seed loads the reference data every deployment needs.
func Seed(db *gorm.DB) error {
	return SeedProfiles(db)
}

// ProfileByName loads a seeded profile.
func ProfileByName(db *gorm.DB, name string) (*models.Profile, error) {
	var p models.Profile
	if err := db.Where("name = ?", name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
