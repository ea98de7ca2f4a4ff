package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"gateway-service/internal/gwerrors"

	"github.com/golang-jwt/jwt/v5"
)

// BasicCredentials maps a username to its expected plain-text password
// for the `auth.type: basic` config (spec §6).
type BasicCredentials map[string]string

// BasicValidator implements HTTP Basic authentication, comparing
// credentials in constant time to avoid a timing side-channel on the
// password check.
type BasicValidator struct {
	Credentials BasicCredentials
	// RolesByUser optionally assigns roles per username for RBAC.
	RolesByUser map[string][]string
}

func (v *BasicValidator) Validate(_ context.Context, r *http.Request) (Principal, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return Principal{}, gwerrors.ErrUnauthenticated
	}
	want, ok := v.Credentials[user]
	if !ok {
		return Principal{}, gwerrors.ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(hashPassword(pass)), []byte(hashPassword(want))) != 1 {
		return Principal{}, gwerrors.ErrUnauthenticated
	}
	return Principal{ID: user, Roles: v.RolesByUser[user]}, nil
}

func hashPassword(p string) string {
	sum := sha256.Sum256([]byte(p))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// JWTValidator verifies bearer tokens with github.com/golang-jwt/jwt/v5,
// extracting the principal id from the `sub` claim and roles from a
// `roles` claim (a list of strings).
type JWTValidator struct {
	// Secret is the HMAC signing key. A real deployment would plug in an
	// asymmetric key/JWKS source here instead; this spec's auth
	// verification is pluggable (spec §1 Non-goals), so only the simplest
	// concrete case is wired.
	Secret []byte
}

func (v *JWTValidator) Validate(_ context.Context, r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenStr == "" {
		return Principal{}, gwerrors.ErrUnauthenticated
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.Secret, nil
	})
	if err != nil {
		return Principal{}, gwerrors.ErrUnauthenticated
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, gwerrors.ErrUnauthenticated
	}

	var roles []string
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	return Principal{ID: sub, Roles: roles}, nil
}
