// Package config implements the typed `premier` configuration model of
// spec §6/§9: a YAML document decoded into a validated Config, exposed
// to the data plane as immutable, atomically-swappable Snapshots.
package config

import "gateway-service/internal/router"

// Document is the top-level YAML shape: everything lives under the
// `premier` key (spec §6).
type Document struct {
	Premier Config `yaml:"premier"`
}

// Config is the decoded, pre-validation `premier` block.
type Config struct {
	Keyspace        string         `yaml:"keyspace"`
	Servers         []string       `yaml:"servers"`
	Paths           []PathConfig   `yaml:"paths"`
	DefaultFeatures FeaturesConfig `yaml:"default_features"`
}

// PathConfig is one entry of the `paths` list.
type PathConfig struct {
	Pattern  string         `yaml:"pattern"`
	Features FeaturesConfig `yaml:"features"`
}

// FeaturesConfig is the `features` sub-document shape (spec §6). Every
// field is a pointer so the zero value means "feature not enabled",
// matching spec §3's FeatureSet-is-a-subset semantics.
type FeaturesConfig struct {
	Cache          *CacheConfig          `yaml:"cache"`
	RateLimit      *RateLimitConfig      `yaml:"rate_limit"`
	Timeout        *TimeoutConfig        `yaml:"timeout"`
	Retry          *RetryConfig          `yaml:"retry"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`
	Monitoring     *MonitoringConfig     `yaml:"monitoring"`
	Auth           *AuthConfig           `yaml:"auth"`
}

type CacheConfig struct {
	ExpireSeconds int    `yaml:"expire_s"`
	CacheKey      string `yaml:"cache_key"`
}

type RateLimitConfig struct {
	Quota        int    `yaml:"quota"`
	Duration     int    `yaml:"duration"`
	Algorithm    string `yaml:"algorithm"`
	BucketSize   int    `yaml:"bucket_size"`
	ErrorStatus  int    `yaml:"error_status"`
	ErrorMessage string `yaml:"error_message"`
}

type TimeoutConfig struct {
	Seconds      float64 `yaml:"seconds"`
	ErrorStatus  int     `yaml:"error_status"`
	ErrorMessage string  `yaml:"error_message"`
}

// RetryConfig's Wait accepts a scalar, a list, or the literal "expo" per
// spec §4.D / §6; yaml.v3 decodes it into `any` and retry construction
// inspects the dynamic type.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Wait        any      `yaml:"wait"`
	Exceptions  []string `yaml:"exceptions"`
}

type CircuitBreakerConfig struct {
	FailureThreshold  int     `yaml:"failure_threshold"`
	RecoveryTimeout   float64 `yaml:"recovery_timeout"`
	ExpectedException string  `yaml:"expected_exception"`
}

type MonitoringConfig struct {
	LogThreshold float64 `yaml:"log_threshold"`
}

type AuthConfig struct {
	Type string      `yaml:"type"`
	RBAC *RBACConfig `yaml:"rbac"`
}

type RBACConfig struct {
	Roles              map[string][]string `yaml:"roles"`
	UserRoles          map[string]string   `yaml:"user_roles"`
	RoutePermissions   map[string][]string `yaml:"route_permissions"`
	DefaultRole        string              `yaml:"default_role"`
	AllowAnyPermission bool                `yaml:"allow_any_permission"`
}

// Snapshot is the immutable, validated view of Config the data plane
// reads through a single atomic pointer (spec §5: "Config snapshots are
// copy-on-write"). Router is pre-compiled so a reload never pays
// pattern-compilation cost on the request path.
type Snapshot struct {
	Keyspace string
	Servers  []string
	Router   *router.Router
	Raw      Config
}
