package config

import (
	"fmt"
	"os"

	"gateway-service/internal/router"

	"gopkg.in/yaml.v3"
)

const defaultRouterCacheSize = 4096

// Load reads and decodes path into a validated Snapshot (spec §6).
// ConfigInvalid errors (spec §7) fail the process at startup; a reload
// failure instead keeps serving the prior snapshot (see watch.go).
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses raw YAML bytes into a validated Snapshot. Exposed
// separately from Load so tests and the hot-reload watcher can both
// reuse it without touching the filesystem.
func Decode(data []byte) (*Snapshot, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return build(doc.Premier)
}

func build(cfg Config) (*Snapshot, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	keyspace := cfg.Keyspace
	if keyspace == "" {
		keyspace = "asgi-gateway"
	}

	specs := make([]router.PatternSpec, 0, len(cfg.Paths))
	for _, p := range cfg.Paths {
		specs = append(specs, router.PatternSpec{
			Pattern:  p.Pattern,
			Features: toRouterFeatures(p.Features),
		})
	}

	r, err := router.New(specs, toRouterFeatures(cfg.DefaultFeatures), defaultRouterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("config: build router: %w", err)
	}

	return &Snapshot{
		Keyspace: keyspace,
		Servers:  cfg.Servers,
		Router:   r,
		Raw:      cfg,
	}, nil
}

func validate(cfg Config) error {
	for _, p := range cfg.Paths {
		if p.Pattern == "" {
			return fmt.Errorf("config: path entry with empty pattern")
		}
		if rl := p.Features.RateLimit; rl != nil {
			switch rl.Algorithm {
			case "fixed_window", "sliding_window", "token_bucket", "leaky_bucket":
			default:
				return fmt.Errorf("config: path %q: unknown rate_limit.algorithm %q", p.Pattern, rl.Algorithm)
			}
			if rl.Quota <= 0 || rl.Duration <= 0 {
				return fmt.Errorf("config: path %q: rate_limit.quota and duration must be positive", p.Pattern)
			}
		}
		if to := p.Features.Timeout; to != nil && to.Seconds <= 0 {
			return fmt.Errorf("config: path %q: timeout.seconds must be positive", p.Pattern)
		}
	}
	return nil
}

func toRouterFeatures(f FeaturesConfig) router.Features {
	out := router.Features{}

	if f.Cache != nil {
		out.Cache = &router.CacheFeature{
			ExpireSeconds: f.Cache.ExpireSeconds,
			CacheKey:      f.Cache.CacheKey,
		}
	}
	if f.RateLimit != nil {
		errStatus := f.RateLimit.ErrorStatus
		if errStatus == 0 {
			errStatus = 429
		}
		out.RateLimit = &router.RateLimitFeature{
			Quota:        f.RateLimit.Quota,
			Duration:     f.RateLimit.Duration,
			Algorithm:    f.RateLimit.Algorithm,
			BucketSize:   f.RateLimit.BucketSize,
			ErrorStatus:  errStatus,
			ErrorMessage: f.RateLimit.ErrorMessage,
		}
	}
	if f.Timeout != nil {
		errStatus := f.Timeout.ErrorStatus
		if errStatus == 0 {
			errStatus = 504
		}
		out.Timeout = &router.TimeoutFeature{
			Seconds:      f.Timeout.Seconds,
			ErrorStatus:  errStatus,
			ErrorMessage: f.Timeout.ErrorMessage,
		}
	}
	if f.Retry != nil {
		maxAttempts := f.Retry.MaxAttempts
		if maxAttempts == 0 {
			maxAttempts = 3
		}
		out.Retry = &router.RetryFeature{
			MaxAttempts: maxAttempts,
			Wait:        f.Retry.Wait,
			Exceptions:  f.Retry.Exceptions,
		}
	}
	if f.CircuitBreaker != nil {
		threshold := f.CircuitBreaker.FailureThreshold
		if threshold == 0 {
			threshold = 5
		}
		recovery := f.CircuitBreaker.RecoveryTimeout
		if recovery == 0 {
			recovery = 60.0
		}
		out.CircuitBreaker = &router.CircuitBreakerFeature{
			FailureThreshold:  threshold,
			RecoveryTimeout:   recovery,
			ExpectedException: f.CircuitBreaker.ExpectedException,
		}
	}
	if f.Monitoring != nil {
		out.Monitoring = &router.MonitoringFeature{LogThreshold: f.Monitoring.LogThreshold}
	}
	if f.Auth != nil {
		var rbac *router.RBACFeature
		if f.Auth.RBAC != nil {
			rbac = &router.RBACFeature{
				Roles:              f.Auth.RBAC.Roles,
				UserRoles:          f.Auth.RBAC.UserRoles,
				RoutePermissions:   f.Auth.RBAC.RoutePermissions,
				DefaultRole:        f.Auth.RBAC.DefaultRole,
				AllowAnyPermission: f.Auth.RBAC.AllowAnyPermission,
			}
		}
		out.Auth = &router.AuthFeature{Type: f.Auth.Type, RBAC: rbac}
	}

	return out
}
