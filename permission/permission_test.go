package permission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/promptforge/auth-server/permission"
	"github.com/promptforge/auth-server/users"
)

func TestCanAccess(t *testing.T) {
	assert.True(t, permission.CanAccess(users.RoleAdmin, permission.FeatureSessionRevoke))
	assert.True(t, permission.CanAccess(users.RoleEditor, permission.FeaturePromptWrite))
	assert.False(t, permission.CanAccess(users.RoleEditor, permission.FeatureSessionRevoke))
	assert.False(t, permission.CanAccess(users.RoleViewer, permission.FeaturePromptWrite))
	assert.True(t, permission.CanAccess(users.RoleViewer, permission.FeaturePromptRead))
}

func TestUnknownRoleHasNoFeatures(t *testing.T) {
	assert.False(t, permission.CanAccess(users.RoleType("ghost"), permission.FeaturePromptRead))
	assert.Empty(t, permission.FeaturesFor(users.RoleType("ghost")))
}

func TestFeaturesForReturnsCopy(t *testing.T) {
	features := permission.FeaturesFor(users.RoleViewer)
	assert.Equal(t, []permission.Feature{permission.FeaturePromptRead}, features)
	features[0] = permission.Feature("mutated")
	assert.True(t, permission.CanAccess(users.RoleViewer, permission.FeaturePromptRead))
}
