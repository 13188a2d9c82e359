// Package permission maps roles to features as plain data. Handlers call
// CanAccess explicitly at their top instead of relying on wrapping
// middleware, so the check is visible at the call site.
package permission

import "github.com/promptforge/auth-server/users"

// Feature identifies a guarded capability.
type Feature string

const (
	FeaturePromptRead    Feature = "prompt:read"
	FeaturePromptWrite   Feature = "prompt:write"
	FeatureUserManage    Feature = "user:manage"
	FeatureSessionRevoke Feature = "session:revoke"
)

// roleFeatures is the single authority on which role may use which feature.
var roleFeatures = map[users.RoleType][]Feature{
	users.RoleAdmin: {
		FeaturePromptRead,
		FeaturePromptWrite,
		FeatureUserManage,
		FeatureSessionRevoke,
	},
	users.RoleEditor: {
		FeaturePromptRead,
		FeaturePromptWrite,
	},
	users.RoleViewer: {
		FeaturePromptRead,
	},
}

// CanAccess reports whether role grants feature.
func CanAccess(role users.RoleType, feature Feature) bool {
	for _, f := range roleFeatures[role] {
		if f == feature {
			return true
		}
	}
	return false
}

// FeaturesFor returns a copy of the feature list granted to role.
func FeaturesFor(role users.RoleType) []Feature {
	features := roleFeatures[role]
	out := make([]Feature, len(features))
	copy(out, features)
	return out
}
