package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleAskReader  = "ask_reader"
	RoleAskWriter  = "ask_writer"
	RoleBuildAdmin = "build_admin"
)

var ErrForbidden = errors.New("auth: missing required role")

// implied lists roles granted along with a role. Writers can always read.
var implied = map[string][]string{
	RoleAskWriter: {RoleAskReader},
}

var knownRoles = map[string]bool{
	RoleAskReader:  true,
	RoleAskWriter:  true,
	RoleBuildAdmin: true,
}

type Identity struct {
	TenantID string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role || slices.Contains(implied[candidate], role) {
			return true
		}
	}
	return false
}

func (i Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// Authorize checks the identity attached by Middleware. Requests without an
// identity pass, which is the case when authentication is disabled.
func Authorize(ctx context.Context, roles ...string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.HasAnyRole(roles...) {
		return nil
	}
	return fmt.Errorf("%w: one of %s", ErrForbidden, strings.Join(roles, ", "))
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds identities keyed by the SHA-256 digest of the
// API key so raw keys are not kept after parsing.
type StaticAPIKeyValidator struct {
	keys map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses "key:tenant:role|role,key2:tenant2:role".
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[[sha256.Size]byte]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:tenant:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		tenant := strings.TrimSpace(parts[1])
		if key == "" || tenant == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/tenant", entry)
		}
		roles := make([]string, 0, 3)
		for _, role := range strings.Split(strings.TrimSpace(parts[2]), "|") {
			role = strings.ToLower(strings.TrimSpace(role))
			if role == "" {
				continue
			}
			if !knownRoles[role] {
				return nil, fmt.Errorf("invalid static key entry for tenant %q: unknown role %q", tenant, role)
			}
			if !slices.Contains(roles, role) {
				roles = append(roles, role)
			}
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry for tenant %q: at least one role is required", tenant)
		}
		digest := sha256.Sum256([]byte(key))
		if _, exists := validator.keys[digest]; exists {
			return nil, fmt.Errorf("duplicate static key for tenant %q", tenant)
		}
		slices.Sort(roles)
		validator.keys[digest] = Identity{TenantID: tenant, Roles: roles}
	}
	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}
