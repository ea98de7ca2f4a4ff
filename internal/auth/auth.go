// Package auth implements the pluggable authentication/RBAC step of
// spec §4.H step 2 and §6's `auth` config: request validation is
// delegated to a Validator interface (token verification itself is an
// external collaborator per spec §1 Non-goals), with an RBAC permission
// check layered on top when configured.
package auth

import (
	"context"
	"net/http"

	"gateway-service/internal/gwerrors"
)

// Principal is the authenticated identity a Validator extracts from a
// request.
type Principal struct {
	ID    string
	Roles []string
}

// Validator verifies inbound credentials and returns the authenticated
// principal. Concrete verification (JWT signature check, basic-auth
// lookup, …) is a pluggable external collaborator per spec §1; this
// package only defines the shape the pipeline calls through.
type Validator interface {
	Validate(ctx context.Context, r *http.Request) (Principal, error)
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(ctx context.Context, r *http.Request) (Principal, error)

func (f ValidatorFunc) Validate(ctx context.Context, r *http.Request) (Principal, error) {
	return f(ctx, r)
}

// RBAC implements the permission check SPEC_FULL.md's SUPPLEMENTED
// FEATURES section specifies for §6's `auth.rbac` block: role to
// permission-set lookup, route to required-permission lookup, with
// AllowAnyPermission toggling ANY-vs-ALL match semantics.
type RBAC struct {
	Roles              map[string][]string // role -> granted permissions
	UserRoles          map[string]string   // principal id -> role
	RoutePermissions   map[string][]string // route pattern -> required permissions
	DefaultRole        string
	AllowAnyPermission bool
}

// Authorize reports whether principal may access route. A route with no
// configured required permissions is always allowed.
func (rb *RBAC) Authorize(principal Principal, route string) error {
	required, ok := rb.RoutePermissions[route]
	if !ok || len(required) == 0 {
		return nil
	}

	role := rb.UserRoles[principal.ID]
	if role == "" {
		role = rb.DefaultRole
	}
	granted := rb.Roles[role]

	grantedSet := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		grantedSet[p] = struct{}{}
	}

	if rb.AllowAnyPermission {
		for _, req := range required {
			if _, ok := grantedSet[req]; ok {
				return nil
			}
		}
		return gwerrors.ErrForbidden
	}

	for _, req := range required {
		if _, ok := grantedSet[req]; !ok {
			return gwerrors.ErrForbidden
		}
	}
	return nil
}
