package policy

import (
	"context"
	"errors"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/internal/models"
	"gorm.io/gorm"
)

// DBProfileResolver loads a caller's profile and grants from the database.
type DBProfileResolver struct {
	DB *gorm.DB
}

func NewDBProfileResolver(db *gorm.DB) *DBProfileResolver {
	return &DBProfileResolver{DB: db}
}

// Resolve returns nil (deny everything) when the user is gone, belongs to
// another tenant than the token claims, or has no profile.
func (r *DBProfileResolver) Resolve(ctx context.Context, id auth.Identity) (gate.Profile, error) {
	var user models.User
	err := r.DB.WithContext(ctx).
		Preload("Profile.Permissions").
		Where("id = ? AND tenant_id = ?", id.UserID, id.TenantID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.Profile == nil {
		return nil, nil
	}
	return newProfile(user.Profile), nil
}

func newProfile(p *models.Profile) gate.Profile {
	perms := make([]gate.Permission, len(p.Permissions))
	for i, perm := range p.Permissions {
		perms[i] = gate.NewPermission(perm.ResourceType, gate.Action(perm.Action))
	}
	return gate.NewStaticProfile(p.ID, p.Name, perms...)
}
