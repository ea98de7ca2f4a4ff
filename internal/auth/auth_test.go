package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gateway-service/internal/gwerrors"

	"github.com/golang-jwt/jwt/v5"
)

func TestRBAC_NoRequiredPermissionsAlwaysAllows(t *testing.T) {
	t.Parallel()
	rb := &RBAC{}
	if err := rb.Authorize(Principal{ID: "u"}, "/unprotected"); err != nil {
		t.Fatalf("Authorize on unconfigured route = %v, want nil", err)
	}
}

func TestRBAC_AllowAll_RequiresEveryPermission(t *testing.T) {
	t.Parallel()
	rb := &RBAC{
		Roles:            map[string][]string{"admin": {"read", "write"}},
		UserRoles:        map[string]string{"alice": "admin"},
		RoutePermissions: map[string][]string{"/orders": {"read", "write"}},
	}
	if err := rb.Authorize(Principal{ID: "alice"}, "/orders"); err != nil {
		t.Fatalf("Authorize(alice) = %v, want nil", err)
	}

	rb.Roles["viewer"] = []string{"read"}
	rb.UserRoles["bob"] = "viewer"
	err := rb.Authorize(Principal{ID: "bob"}, "/orders")
	if !errors.Is(err, gwerrors.ErrForbidden) {
		t.Fatalf("Authorize(bob missing write) = %v, want ErrForbidden", err)
	}
}

func TestRBAC_AllowAnyPermission(t *testing.T) {
	t.Parallel()
	rb := &RBAC{
		Roles:              map[string][]string{"viewer": {"read"}},
		UserRoles:          map[string]string{"bob": "viewer"},
		RoutePermissions:   map[string][]string{"/orders": {"read", "write"}},
		AllowAnyPermission: true,
	}
	if err := rb.Authorize(Principal{ID: "bob"}, "/orders"); err != nil {
		t.Fatalf("Authorize(bob, any) = %v, want nil (has read)", err)
	}
}

func TestRBAC_UnknownUserFallsBackToDefaultRole(t *testing.T) {
	t.Parallel()
	rb := &RBAC{
		Roles:            map[string][]string{"guest": {"read"}},
		RoutePermissions: map[string][]string{"/orders": {"read"}},
		DefaultRole:      "guest",
	}
	if err := rb.Authorize(Principal{ID: "unknown"}, "/orders"); err != nil {
		t.Fatalf("Authorize(unknown, default role) = %v, want nil", err)
	}
}

func TestBasicValidator_AcceptsCorrectCredentials(t *testing.T) {
	t.Parallel()
	v := &BasicValidator{Credentials: BasicCredentials{"alice": "secret"}}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("alice", "secret")

	p, err := v.Validate(r.Context(), r)
	if err != nil || p.ID != "alice" {
		t.Fatalf("Validate = %+v, %v, want alice nil", p, err)
	}
}

func TestBasicValidator_RejectsWrongPassword(t *testing.T) {
	t.Parallel()
	v := &BasicValidator{Credentials: BasicCredentials{"alice": "secret"}}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("alice", "wrong")

	_, err := v.Validate(r.Context(), r)
	if !errors.Is(err, gwerrors.ErrUnauthenticated) {
		t.Fatalf("Validate(wrong password) = %v, want ErrUnauthenticated", err)
	}
}

func TestBasicValidator_RejectsMissingAuthHeader(t *testing.T) {
	t.Parallel()
	v := &BasicValidator{Credentials: BasicCredentials{"alice": "secret"}}
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := v.Validate(r.Context(), r)
	if !errors.Is(err, gwerrors.ErrUnauthenticated) {
		t.Fatalf("Validate(no header) = %v, want ErrUnauthenticated", err)
	}
}

func TestJWTValidator_AcceptsValidToken(t *testing.T) {
	t.Parallel()
	secret := []byte("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "alice",
		"roles": []interface{}{"admin", "viewer"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	v := &JWTValidator{Secret: secret}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signed)

	p, err := v.Validate(r.Context(), r)
	if err != nil || p.ID != "alice" {
		t.Fatalf("Validate = %+v, %v, want alice nil", p, err)
	}
	if len(p.Roles) != 2 || p.Roles[0] != "admin" {
		t.Fatalf("Validate roles = %v, want [admin viewer]", p.Roles)
	}
}

func TestJWTValidator_RejectsWrongSigningSecret(t *testing.T) {
	t.Parallel()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})
	signed, err := token.SignedString([]byte("real-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	v := &JWTValidator{Secret: []byte("different-secret")}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signed)

	_, err = v.Validate(r.Context(), r)
	if !errors.Is(err, gwerrors.ErrUnauthenticated) {
		t.Fatalf("Validate(wrong secret) = %v, want ErrUnauthenticated", err)
	}
}

func TestJWTValidator_RejectsMissingBearerPrefix(t *testing.T) {
	t.Parallel()
	v := &JWTValidator{Secret: []byte("s")}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "not-a-bearer-token")

	_, err := v.Validate(r.Context(), r)
	if !errors.Is(err, gwerrors.ErrUnauthenticated) {
		t.Fatalf("Validate(malformed header) = %v, want ErrUnauthenticated", err)
	}
}
