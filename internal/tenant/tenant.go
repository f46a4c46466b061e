// Package tenant resolves which restaurant this terminal belongs to.
// Every persisted key and every outbound request is namespaced by the
// resolved tenant id.
package tenant

import (
	"errors"
	"os"

	"tableside/internal/domain"
)

var ErrNoTenant = errors.New("no tenant configured")

// Resolver supplies the active tenant scope. Resolution happens once
// per process in practice, but implementations must stay cheap enough
// to call on every restore check.
type Resolver interface {
	Resolve() (domain.TenantScope, error)
}

// StaticResolver returns a fixed scope, the usual case for provisioned
// kiosk hardware.
type StaticResolver struct {
	Scope domain.TenantScope
}

func NewStaticResolver(tenantID string) *StaticResolver {
	return &StaticResolver{Scope: domain.TenantScope{TenantID: tenantID}}
}

func (r *StaticResolver) Resolve() (domain.TenantScope, error) {
	if r.Scope.TenantID == "" {
		return domain.TenantScope{}, ErrNoTenant
	}
	return r.Scope, nil
}

// EnvResolver reads the tenant id from the environment on each call,
// for shared dev hardware that flips between restaurants.
type EnvResolver struct {
	Key string
}

func (r *EnvResolver) Resolve() (domain.TenantScope, error) {
	key := r.Key
	if key == "" {
		key = "TABLESIDE_TENANT_ID"
	}
	id := os.Getenv(key)
	if id == "" {
		return domain.TenantScope{}, ErrNoTenant
	}
	return domain.TenantScope{TenantID: id}, nil
}
