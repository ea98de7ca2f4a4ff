package config

import "testing"

func TestDecode_MinimalDocument(t *testing.T) {
	t.Parallel()
	snap, err := Decode([]byte(`
premier:
  servers: ["http://backend:8080"]
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if snap.Keyspace != "asgi-gateway" {
		t.Fatalf("Keyspace = %q, want default asgi-gateway", snap.Keyspace)
	}
	if len(snap.Servers) != 1 || snap.Servers[0] != "http://backend:8080" {
		t.Fatalf("Servers = %v, want [http://backend:8080]", snap.Servers)
	}
}

func TestDecode_RejectsEmptyPathPattern(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`
premier:
  paths:
    - pattern: ""
`))
	if err == nil {
		t.Fatalf("Decode with empty pattern = nil error, want error")
	}
}

func TestDecode_RejectsUnknownRateLimitAlgorithm(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`
premier:
  paths:
    - pattern: "/orders"
      features:
        rate_limit:
          algorithm: "moon_phase"
          quota: 10
          duration: 60
`))
	if err == nil {
		t.Fatalf("Decode with unknown algorithm = nil error, want error")
	}
}

func TestDecode_RejectsNonPositiveRateLimitQuota(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`
premier:
  paths:
    - pattern: "/orders"
      features:
        rate_limit:
          algorithm: "fixed_window"
          quota: 0
          duration: 60
`))
	if err == nil {
		t.Fatalf("Decode with zero quota = nil error, want error")
	}
}

func TestDecode_RejectsNonPositiveTimeoutSeconds(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`
premier:
  paths:
    - pattern: "/orders"
      features:
        timeout:
          seconds: 0
`))
	if err == nil {
		t.Fatalf("Decode with zero timeout seconds = nil error, want error")
	}
}

func TestDecode_AppliesDefaultErrorStatusesAndThresholds(t *testing.T) {
	t.Parallel()
	snap, err := Decode([]byte(`
premier:
  paths:
    - pattern: "/orders"
      features:
        rate_limit:
          algorithm: "fixed_window"
          quota: 10
          duration: 60
        timeout:
          seconds: 2.5
        retry:
          max_attempts: 0
        circuit_breaker:
          failure_threshold: 0
          recovery_timeout: 0
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	f := snap.Router.Resolve("GET", "/orders")
	if f.RateLimit.ErrorStatus != 429 {
		t.Fatalf("RateLimit.ErrorStatus = %d, want 429", f.RateLimit.ErrorStatus)
	}
	if f.Timeout.ErrorStatus != 504 {
		t.Fatalf("Timeout.ErrorStatus = %d, want 504", f.Timeout.ErrorStatus)
	}
	if f.Retry.MaxAttempts != 3 {
		t.Fatalf("Retry.MaxAttempts = %d, want default 3", f.Retry.MaxAttempts)
	}
	if f.CircuitBreaker.FailureThreshold != 5 {
		t.Fatalf("CircuitBreaker.FailureThreshold = %d, want default 5", f.CircuitBreaker.FailureThreshold)
	}
	if f.CircuitBreaker.RecoveryTimeout != 60.0 {
		t.Fatalf("CircuitBreaker.RecoveryTimeout = %v, want default 60.0", f.CircuitBreaker.RecoveryTimeout)
	}
}

func TestDecode_CustomKeyspaceIsPreserved(t *testing.T) {
	t.Parallel()
	snap, err := Decode([]byte(`
premier:
  keyspace: "checkout-gateway"
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if snap.Keyspace != "checkout-gateway" {
		t.Fatalf("Keyspace = %q, want checkout-gateway", snap.Keyspace)
	}
}

func TestDecode_RejectsMalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte("premier: [this is not a mapping"))
	if err == nil {
		t.Fatalf("Decode with malformed YAML = nil error, want error")
	}
}

func TestDecode_AuthRBACFeatureIsWiredThroughToRouter(t *testing.T) {
	t.Parallel()
	snap, err := Decode([]byte(`
premier:
  paths:
    - pattern: "/admin/*"
      features:
        auth:
          type: "jwt"
          rbac:
            roles:
              admin: ["read", "write"]
            route_permissions:
              /admin/*: ["read"]
            default_role: "guest"
            allow_any_permission: true
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	f := snap.Router.Resolve("GET", "/admin/users")
	if f.Auth == nil || f.Auth.Type != "jwt" {
		t.Fatalf("Auth = %+v, want type jwt", f.Auth)
	}
	if f.Auth.RBAC == nil || !f.Auth.RBAC.AllowAnyPermission {
		t.Fatalf("Auth.RBAC = %+v, want AllowAnyPermission true", f.Auth.RBAC)
	}
}
