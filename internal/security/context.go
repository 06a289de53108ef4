// Package security carries the identity under which cluster requests run.
// Monitor queries execute with the owner's backend roles injected; system
// work (alert bookkeeping, anomaly-result reads) runs with the identity
// stashed so the transport adds no role restrictions.
package security

import "context"

type ctxKey int

const injectedKey ctxKey = iota

// LegacyAdminRoles is injected for monitors created before user ownership
// existed (no user attached).
var LegacyAdminRoles = []string{"all_access"}

// Injected is the identity forwarded with monitor-scoped cluster requests.
type Injected struct {
	MonitorID string
	Roles     []string
}

// WithRoles returns a context carrying the injected identity.
func WithRoles(ctx context.Context, inj Injected) context.Context {
	return context.WithValue(ctx, injectedKey, inj)
}

// Stash returns a context with any injected identity removed. Requests made
// under the returned context run with system-level access.
func Stash(ctx context.Context) context.Context {
	return context.WithValue(ctx, injectedKey, nil)
}

// From extracts the injected identity, if any.
func From(ctx context.Context) (Injected, bool) {
	inj, ok := ctx.Value(injectedKey).(Injected)
	return inj, ok
}

// RolesFor resolves the backend roles a monitor's queries run under:
// the owner's backend roles, or the legacy admin roles for ownerless
// monitors.
func RolesFor(backendRoles []string, hasUser bool) []string {
	if !hasUser {
		return LegacyAdminRoles
	}
	return backendRoles
}
